package zipzap

import (
	"context"
	"strconv"
	"time"

	"github.com/massmux/zipzapd/internal/event"
	"github.com/massmux/zipzapd/internal/phoenix"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

// EventPublisher is the write half of the relay gateway.
type EventPublisher interface {
	Publish(ctx context.Context, ev nostr.Event) error
}

// receipts are backdated so a relay with a strict clock never rejects
// them as coming from the future
const receiptBackdate = 30 * time.Second

// Issuer builds, signs and publishes kind 9913 receipts.
type Issuer struct {
	signer    signer.Signer
	publisher EventPublisher
}

func NewIssuer(s signer.Signer, publisher EventPublisher) *Issuer {
	return &Issuer{signer: s, publisher: publisher}
}

// Issue creates the receipt for a correlated payment. A failed publish is
// a soft failure: the signed receipt and its id are returned alongside
// the error, delivery just isn't confirmed.
func (i *Issuer) Issue(ctx context.Context, req *event.ZipZapRequest, payment *phoenix.Payment) (string, bool, error) {
	amountSat := payment.AmountMillisats / 1000

	createdAt := time.Now().Add(-receiptBackdate)
	if payment.ReceivedAt > 0 {
		if received := time.Unix(payment.ReceivedAt, 0); received.Before(createdAt) {
			createdAt = received
		}
	}

	tags := nostr.Tags{
		nostr.Tag{"p", i.signer.PublicKey()},
		nostr.Tag{"P", req.Event.PubKey},
		nostr.Tag{"e", req.PostID},
		nostr.Tag{"amount", strconv.FormatInt(amountSat, 10)},
	}
	if req.Offer != "" {
		tags = append(tags, nostr.Tag{"lno", req.Offer})
	}

	ev := event.BuildUnsigned(event.KindZipZapReceipt, i.signer.PublicKey(), createdAt, tags, "")
	if err := i.signer.Sign(ctx, &ev); err != nil {
		return "", false, err
	}
	log.Debugf("[Issuer] signed receipt %s (%d sat) for request %s", ev.ID, amountSat, req.Event.ID)

	if err := i.publisher.Publish(ctx, ev); err != nil {
		return ev.ID, false, err
	}
	return ev.ID, true, nil
}
