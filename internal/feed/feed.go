package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/massmux/zipzapd/internal/event"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

// Gateway is the slice of the relay gateway the feed needs.
type Gateway interface {
	Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
	Publish(ctx context.Context, ev nostr.Event) error
}

// OfferSource hands out the node's own BOLT12 offer for the profile.
type OfferSource interface {
	GetOffer() (string, error)
}

// Profile is the kind 0 metadata payload. Lno carries the author's
// BOLT12 offer; only posts of authors with an offer are tippable.
type Profile struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	About       string `json:"about,omitempty"`
	Website     string `json:"website,omitempty"`
	Picture     string `json:"picture,omitempty"`
	Lno         string `json:"lno,omitempty"`
}

// ReceiptRef is a verified kind 9913 receipt attached to a post.
type ReceiptRef struct {
	ID        string `json:"id"`
	Pubkey    string `json:"pubkey"`
	AmountSat int64  `json:"amount_sat"`
}

type Post struct {
	Event          nostr.Event  `json:"event"`
	Author         *Profile     `json:"author,omitempty"`
	ZipZapCount    int          `json:"zipzap_count"`
	ZipZapTotalSat int64        `json:"zipzap_total_sat"`
	Receipts       []ReceiptRef `json:"receipts,omitempty"`
}

// Service reproduces the social surface: posting, profile publishing and
// the receipt-annotated feed.
type Service struct {
	gateway Gateway
	signer  signer.Signer
	offers  OfferSource
}

func NewService(gateway Gateway, s signer.Signer, offers OfferSource) *Service {
	return &Service{gateway: gateway, signer: s, offers: offers}
}

// PublishPost signs and publishes a kind 1 post. The signed event is
// validated before it leaves the process, which catches a garbage
// signature from an external signer early.
func (s *Service) PublishPost(ctx context.Context, content string) (nostr.Event, error) {
	if content == "" {
		return nostr.Event{}, errors.New(errors.InvalidInputError, fmt.Errorf("post content is empty"))
	}
	ev := event.BuildUnsigned(event.KindPost, s.signer.PublicKey(), time.Now(), nil, content)
	if err := s.signer.Sign(ctx, &ev); err != nil {
		return nostr.Event{}, err
	}
	if err := event.Validate(&ev); err != nil {
		return nostr.Event{}, err
	}
	if err := s.gateway.Publish(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// PublishProfile publishes kind 0 metadata. An empty Lno is filled from
// the node's own offer when an offer source is wired.
func (s *Service) PublishProfile(ctx context.Context, profile Profile) (nostr.Event, error) {
	if profile.Lno == "" && s.offers != nil {
		offer, err := s.offers.GetOffer()
		if err != nil {
			log.Warnf("[Feed] could not fetch own offer: %s", err.Error())
		} else {
			profile.Lno = offer
		}
	}
	content := "{}"
	for key, value := range map[string]string{
		"name":        profile.Name,
		"displayName": profile.DisplayName,
		"about":       profile.About,
		"website":     profile.Website,
		"picture":     profile.Picture,
		"lno":         profile.Lno,
	} {
		if value == "" {
			continue
		}
		content, _ = sjson.Set(content, key, value)
	}
	ev := event.BuildUnsigned(event.KindProfile, s.signer.PublicKey(), time.Now(), nil, content)
	if err := s.signer.Sign(ctx, &ev); err != nil {
		return nostr.Event{}, err
	}
	if err := s.gateway.Publish(ctx, ev); err != nil {
		return ev, err
	}
	return ev, nil
}

// RecentPosts returns the newest posts with author profiles and, for
// tippable authors, their receipt totals.
func (s *Service) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	if limit <= 0 {
		limit = 50
	}
	events, err := s.gateway.Query(ctx, nostr.Filter{
		Kinds: []int{event.KindPost},
		Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})

	posts := make([]Post, 0, len(events))
	for _, ev := range events {
		post := Post{Event: ev}
		post.Author = s.fetchProfile(ctx, ev.PubKey)
		if post.Author != nil && post.Author.Lno != "" {
			post.Receipts = s.fetchReceipts(ctx, ev.ID)
			post.ZipZapCount = len(post.Receipts)
			for _, r := range post.Receipts {
				post.ZipZapTotalSat += r.AmountSat
			}
		}
		posts = append(posts, post)
	}
	return posts, nil
}

func (s *Service) fetchProfile(ctx context.Context, pubkey string) *Profile {
	events, err := s.gateway.Query(ctx, nostr.Filter{
		Kinds:   []int{event.KindProfile},
		Authors: []string{pubkey},
		Limit:   1,
	})
	if err != nil || len(events) == 0 {
		return nil
	}
	var profile Profile
	if err := json.Unmarshal([]byte(events[0].Content), &profile); err != nil {
		log.Errorf("[Feed] unparseable profile metadata for %s: %v", pubkey, err)
		return nil
	}
	return &profile
}

// fetchReceipts collects the valid receipts tagged to a post, deduped by
// event id. Invalid or mis-kinded events from loose relays are skipped.
func (s *Service) fetchReceipts(ctx context.Context, postID string) []ReceiptRef {
	events, err := s.gateway.Query(ctx, nostr.Filter{
		Kinds: []int{event.KindZipZapReceipt},
		Tags:  nostr.TagMap{"e": []string{postID}},
		Limit: 100,
	})
	if err != nil {
		log.Errorf("[Feed] receipt fetch for %s failed: %s", postID, err.Error())
		return nil
	}
	seen := make(map[string]bool)
	var receipts []ReceiptRef
	for _, ev := range events {
		if ev.Kind != event.KindZipZapReceipt || seen[ev.ID] {
			continue
		}
		if err := event.Validate(&ev); err != nil {
			continue
		}
		seen[ev.ID] = true
		receipts = append(receipts, ReceiptRef{
			ID:        ev.ID,
			Pubkey:    ev.PubKey,
			AmountSat: receiptAmount(ev),
		})
	}
	return receipts
}

func receiptAmount(ev nostr.Event) int64 {
	for _, tag := range ev.Tags {
		if len(tag) >= 2 && tag[0] == "amount" {
			n, err := strconv.ParseInt(tag[1], 10, 64)
			if err != nil {
				return 0
			}
			return n
		}
	}
	return 0
}
