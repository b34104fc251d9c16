package event_test

import (
	"strings"
	"testing"
	"time"

	"github.com/massmux/zipzapd/internal/event"
	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedRequest(t *testing.T, tags nostr.Tags) nostr.Event {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)
	ev := event.BuildUnsigned(event.KindZipZapRequest, pk, time.Unix(1700000000, 0), tags, event.RequestContent)
	require.NoError(t, ev.Sign(sk))
	return ev
}

func TestComputeID_Deterministic(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	createdAt := time.Unix(1700000000, 0)
	a := event.BuildUnsigned(event.KindPost, pk, createdAt, nil, "hello")
	b := event.BuildUnsigned(event.KindPost, pk, createdAt, nil, "hello")
	assert.Equal(t, event.ComputeID(&a), event.ComputeID(&b))
}

func TestComputeID_ChangesWithEveryField(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	createdAt := time.Unix(1700000000, 0)
	base := event.BuildUnsigned(event.KindPost, pk, createdAt, nil, "hello")
	baseID := event.ComputeID(&base)

	content := base
	content.Content = "hello."
	assert.NotEqual(t, baseID, event.ComputeID(&content))

	kind := base
	kind.Kind = event.KindZipZapRequest
	assert.NotEqual(t, baseID, event.ComputeID(&kind))

	when := base
	when.CreatedAt = createdAt.Add(time.Second)
	assert.NotEqual(t, baseID, event.ComputeID(&when))

	tagged := base
	tagged.Tags = nostr.Tags{nostr.Tag{"e", "something"}}
	assert.NotEqual(t, baseID, event.ComputeID(&tagged))
}

func TestValidate_SignRoundTrip(t *testing.T) {
	ev := signedRequest(t, nostr.Tags{
		nostr.Tag{"p", strings.Repeat("a", 64)},
		nostr.Tag{"e", strings.Repeat("b", 64)},
	})
	require.NoError(t, event.Validate(&ev))
}

func TestValidate_RejectsTamperedContent(t *testing.T) {
	ev := signedRequest(t, nil)
	ev.Content = "ZipZap?"
	assert.Error(t, event.Validate(&ev))
}

func TestValidate_RejectsTamperedSignature(t *testing.T) {
	ev := signedRequest(t, nil)
	// flip one hex digit
	if ev.Sig[0] == '0' {
		ev.Sig = "1" + ev.Sig[1:]
	} else {
		ev.Sig = "0" + ev.Sig[1:]
	}
	assert.Error(t, event.Validate(&ev))
}

func TestValidate_RejectsForeignSignature(t *testing.T) {
	ev := signedRequest(t, nil)
	other := signedRequest(t, nil)
	ev.Sig = other.Sig
	assert.Error(t, event.Validate(&ev))
}

func TestParseZipZapRequest(t *testing.T) {
	receiver := strings.Repeat("a", 64)
	postID := strings.Repeat("b", 64)
	ev := signedRequest(t, nostr.Tags{
		nostr.Tag{"relays", "wss://relay.example.com"},
		nostr.Tag{"lno", "lno1qsgqmqvgnnp6"},
		nostr.Tag{"p", receiver},
		nostr.Tag{"e", postID},
	})

	req, err := event.ParseZipZapRequest(ev)
	require.NoError(t, err)
	assert.Equal(t, "wss://relay.example.com", req.RelayUrl)
	assert.Equal(t, "lno1qsgqmqvgnnp6", req.Offer)
	assert.Equal(t, receiver, req.Receiver)
	assert.Equal(t, postID, req.PostID)
}

func TestParseZipZapRequest_WrongKind(t *testing.T) {
	sk := nostr.GeneratePrivateKey()
	ev := event.BuildUnsigned(event.KindPost, "", time.Now(), nil, "a post")
	require.NoError(t, ev.Sign(sk))

	_, err := event.ParseZipZapRequest(ev)
	assert.Error(t, err)
}

func TestParseZipZapRequest_MissingTags(t *testing.T) {
	noReceiver := signedRequest(t, nostr.Tags{nostr.Tag{"e", strings.Repeat("b", 64)}})
	_, err := event.ParseZipZapRequest(noReceiver)
	assert.Error(t, err)

	noPost := signedRequest(t, nostr.Tags{nostr.Tag{"p", strings.Repeat("a", 64)}})
	_, err = event.ParseZipZapRequest(noPost)
	assert.Error(t, err)
}
