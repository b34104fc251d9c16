package feed_test

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/massmux/zipzapd/internal/event"
	"github.com/massmux/zipzapd/internal/feed"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway answers queries from a fixed event set, keyed the way the
// feed asks: posts by kind, profiles by author, receipts by e tag.
type fakeGateway struct {
	posts     []nostr.Event
	profiles  map[string]nostr.Event
	receipts  map[string][]nostr.Event
	published []nostr.Event
}

func (g *fakeGateway) Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	if len(filter.Kinds) != 1 {
		return nil, fmt.Errorf("unexpected filter %v", filter)
	}
	switch filter.Kinds[0] {
	case event.KindPost:
		return g.posts, nil
	case event.KindProfile:
		if len(filter.Authors) == 1 {
			if ev, ok := g.profiles[filter.Authors[0]]; ok {
				return []nostr.Event{ev}, nil
			}
		}
		return nil, nil
	case event.KindZipZapReceipt:
		if ids, ok := filter.Tags["e"]; ok && len(ids) == 1 {
			return g.receipts[ids[0]], nil
		}
		return nil, nil
	}
	return nil, nil
}

func (g *fakeGateway) Publish(ctx context.Context, ev nostr.Event) error {
	g.published = append(g.published, ev)
	return nil
}

type fakeOffers struct {
	offer string
	err   error
}

func (f *fakeOffers) GetOffer() (string, error) { return f.offer, f.err }

func signedEvent(t *testing.T, sk string, kind int, createdAt time.Time, tags nostr.Tags, content string) nostr.Event {
	t.Helper()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	ev := event.BuildUnsigned(kind, pk, createdAt, tags, content)
	require.NoError(t, ev.Sign(sk))
	return ev
}

func profileEvent(t *testing.T, sk string, profile feed.Profile) nostr.Event {
	t.Helper()
	content, err := json.Marshal(profile)
	require.NoError(t, err)
	return signedEvent(t, sk, event.KindProfile, time.Unix(1700000000, 0), nil, string(content))
}

func receiptEvent(t *testing.T, sk, postID string, amountSat int64) nostr.Event {
	t.Helper()
	return signedEvent(t, sk, event.KindZipZapReceipt, time.Unix(1700000100, 0), nostr.Tags{
		nostr.Tag{"e", postID},
		nostr.Tag{"amount", strconv.FormatInt(amountSat, 10)},
	}, "")
}

func TestRecentPosts_AnnotatesTippableAuthors(t *testing.T) {
	tippableSk := nostr.GeneratePrivateKey()
	tippablePk, err := nostr.GetPublicKey(tippableSk)
	require.NoError(t, err)
	plainSk := nostr.GeneratePrivateKey()
	plainPk, err := nostr.GetPublicKey(plainSk)
	require.NoError(t, err)

	older := signedEvent(t, tippableSk, event.KindPost, time.Unix(1700000000, 0), nil, "older tippable post")
	newer := signedEvent(t, plainSk, event.KindPost, time.Unix(1700000500, 0), nil, "newer plain post")

	issuerSk := nostr.GeneratePrivateKey()
	gateway := &fakeGateway{
		posts: []nostr.Event{older, newer},
		profiles: map[string]nostr.Event{
			tippablePk: profileEvent(t, tippableSk, feed.Profile{Name: "alex", Lno: "lno1qsgqmqvgnnp6"}),
			plainPk:    profileEvent(t, plainSk, feed.Profile{Name: "sam"}),
		},
		receipts: map[string][]nostr.Event{
			older.ID: {
				receiptEvent(t, issuerSk, older.ID, 12),
				receiptEvent(t, issuerSk, older.ID, 21),
			},
		},
	}

	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	service := feed.NewService(gateway, s, nil)

	posts, err := service.RecentPosts(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)

	// newest first
	assert.Equal(t, newer.ID, posts[0].Event.ID)
	assert.Equal(t, older.ID, posts[1].Event.ID)

	// the plain author has a profile but no offer, so no receipt lookup
	assert.Equal(t, "sam", posts[0].Author.Name)
	assert.Zero(t, posts[0].ZipZapCount)
	assert.Empty(t, posts[0].Receipts)

	tippable := posts[1]
	assert.Equal(t, "alex", tippable.Author.Name)
	assert.Equal(t, 2, tippable.ZipZapCount)
	assert.Equal(t, int64(33), tippable.ZipZapTotalSat)
}

func TestRecentPosts_SkipsInvalidReceipts(t *testing.T) {
	authorSk := nostr.GeneratePrivateKey()
	authorPk, err := nostr.GetPublicKey(authorSk)
	require.NoError(t, err)
	post := signedEvent(t, authorSk, event.KindPost, time.Unix(1700000000, 0), nil, "a post")

	issuerSk := nostr.GeneratePrivateKey()
	good := receiptEvent(t, issuerSk, post.ID, 12)
	tampered := receiptEvent(t, issuerSk, post.ID, 100)
	tampered.Tags = nostr.Tags{nostr.Tag{"e", post.ID}, nostr.Tag{"amount", "9999"}}

	gateway := &fakeGateway{
		posts: []nostr.Event{post},
		profiles: map[string]nostr.Event{
			authorPk: profileEvent(t, authorSk, feed.Profile{Lno: "lno1qsgqmqvgnnp6"}),
		},
		receipts: map[string][]nostr.Event{
			post.ID: {good, tampered, good},
		},
	}

	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	service := feed.NewService(gateway, s, nil)

	posts, err := service.RecentPosts(context.Background(), 50)
	require.NoError(t, err)
	require.Len(t, posts, 1)

	// the tampered receipt fails validation, the duplicate is collapsed
	assert.Equal(t, 1, posts[0].ZipZapCount)
	assert.Equal(t, int64(12), posts[0].ZipZapTotalSat)
}

func TestPublishPost(t *testing.T) {
	gateway := &fakeGateway{}
	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	service := feed.NewService(gateway, s, nil)

	ev, err := service.PublishPost(context.Background(), "gm")
	require.NoError(t, err)
	assert.Equal(t, event.KindPost, ev.Kind)
	require.NoError(t, event.Validate(&ev))
	require.Len(t, gateway.published, 1)

	_, err = service.PublishPost(context.Background(), "")
	assert.Error(t, err)
}

func TestPublishProfile_FillsOfferFromNode(t *testing.T) {
	gateway := &fakeGateway{}
	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	service := feed.NewService(gateway, s, &fakeOffers{offer: "lno1qsgqmqvgnnp6"})

	ev, err := service.PublishProfile(context.Background(), feed.Profile{Name: "alex"})
	require.NoError(t, err)

	var content feed.Profile
	require.NoError(t, json.Unmarshal([]byte(ev.Content), &content))
	assert.Equal(t, "alex", content.Name)
	assert.Equal(t, "lno1qsgqmqvgnnp6", content.Lno)
}

func TestPublishProfile_ExplicitOfferWins(t *testing.T) {
	gateway := &fakeGateway{}
	s, err := signer.NewLocalKeySigner(nostr.GeneratePrivateKey())
	require.NoError(t, err)
	service := feed.NewService(gateway, s, &fakeOffers{offer: "lno1fromnode"})

	ev, err := service.PublishProfile(context.Background(), feed.Profile{Lno: "lno1explicit"})
	require.NoError(t, err)

	var content feed.Profile
	require.NoError(t, json.Unmarshal([]byte(ev.Content), &content))
	assert.Equal(t, "lno1explicit", content.Lno)
}
