package zipzap

import (
	"context"
	"fmt"
	"time"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/massmux/zipzapd/internal/event"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	log "github.com/sirupsen/logrus"
)

// RequestParams describes the post being tipped.
type RequestParams struct {
	PostID   string
	Author   string
	Offer    string
	RelayUrl string
}

// CreateRequest builds, signs and publishes a kind 9912 tip request and
// returns it with its note identifier. The note goes into the payer note
// of the BOLT12 invoice request so the receiving side can correlate the
// payment later. A failed publish is soft: the signed event and its note
// are still returned so the sender can use them.
func CreateRequest(ctx context.Context, s signer.Signer, publisher EventPublisher, params RequestParams) (nostr.Event, string, error) {
	if params.PostID == "" || params.Author == "" {
		return nostr.Event{}, "", errors.New(errors.InvalidInputError, fmt.Errorf("tip request needs a post id and its author"))
	}
	if params.Offer == "" {
		return nostr.Event{}, "", errors.New(errors.InvalidInputError, fmt.Errorf("post author has no lightning offer"))
	}

	tags := nostr.Tags{
		nostr.Tag{"relays", params.RelayUrl},
		nostr.Tag{"lno", params.Offer},
		nostr.Tag{"p", params.Author},
		nostr.Tag{"e", params.PostID},
	}
	ev := event.BuildUnsigned(event.KindZipZapRequest, s.PublicKey(), time.Now(), tags, event.RequestContent)
	if err := s.Sign(ctx, &ev); err != nil {
		return nostr.Event{}, "", err
	}

	note, err := nip19.EncodeNote(ev.ID)
	if err != nil {
		return nostr.Event{}, "", errors.New(errors.EventInvalidError, fmt.Errorf("unencodable event id: %w", err))
	}

	if err := publisher.Publish(ctx, ev); err != nil {
		log.Warnf("[ZipZap] request %s created but not confirmed by relay: %s", ev.ID, err.Error())
		return ev, note, err
	}
	log.Infof("[ZipZap] published tip request %s (%s)", ev.ID, note)
	return ev, note, nil
}
