package zipzap

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/massmux/zipzapd/internal/event"
	"github.com/massmux/zipzapd/internal/phoenix"
	"github.com/massmux/zipzapd/internal/storage"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// State names the stations of the correlation pipeline. RECEIPT_ISSUED
// and ABANDONED are terminal; a payment that reached either is processed
// and never reconsidered.
type State string

const (
	StateUnseen            State = "UNSEEN"
	StateNoteScanned       State = "NOTE_SCANNED"
	StateReferenceResolved State = "REFERENCE_RESOLVED"
	StateRequestFetched    State = "REQUEST_FETCHED"
	StateRequestValidated  State = "REQUEST_VALIDATED"
	StateReceiptIssued     State = "RECEIPT_ISSUED"
	StateAbandoned         State = "ABANDONED"
)

// EventFetcher is the read half of the relay gateway.
type EventFetcher interface {
	Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error)
}

// ReceiptIssuer builds, signs and publishes the receipt for a correlated
// payment.
type ReceiptIssuer interface {
	Issue(ctx context.Context, req *event.ZipZapRequest, payment *phoenix.Payment) (receiptID string, published bool, err error)
}

// Ledger persists final dispositions.
type Ledger interface {
	Mark(entry storage.ProcessedEntry) error
}

// Outcome reports one payment's terminal disposition.
type Outcome struct {
	PaymentHash string `json:"payment_hash"`
	State       State  `json:"state"`
	ReceiptID   string `json:"receipt_id,omitempty"`
	Published   bool   `json:"published"`
	AmountSat   int64  `json:"amount_sat"`
	PostID      string `json:"post_id,omitempty"`
	Tipper      string `json:"tipper,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

const (
	fetchTimeout = 5 * time.Second
	passInterval = 10 * time.Second
)

// Correlator drives payments through the pipeline. Only one pass runs at
// a time and passes happen at most once per passInterval, however often
// the payment list changes underneath.
type Correlator struct {
	fetcher   EventFetcher
	issuer    ReceiptIssuer
	ledger    Ledger
	limiter   *rate.Limiter
	running   int32
	onOutcome func(Outcome)
}

type CorrelatorOption func(*Correlator)

// WithOutcomeHook observes every terminal disposition (journal, event
// stream). Called synchronously within the pass.
func WithOutcomeHook(hook func(Outcome)) CorrelatorOption {
	return func(c *Correlator) {
		c.onOutcome = hook
	}
}

func NewCorrelator(fetcher EventFetcher, issuer ReceiptIssuer, ledger Ledger, opts ...CorrelatorOption) *Correlator {
	c := &Correlator{
		fetcher: fetcher,
		issuer:  issuer,
		ledger:  ledger,
		limiter: rate.NewLimiter(rate.Every(passInterval), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one correlation pass over a consistent snapshot of the
// payment list. A pass already in flight suppresses this one entirely;
// the next list change or poll will trigger another attempt.
func (c *Correlator) Run(payments []*phoenix.Payment) {
	if !atomic.CompareAndSwapInt32(&c.running, 0, 1) {
		log.Tracef("[Correlator] pass already in flight, skipping")
		return
	}
	defer atomic.StoreInt32(&c.running, 0)
	if !c.limiter.Allow() {
		log.Tracef("[Correlator] rate limited, skipping pass")
		return
	}

	// strictly sequential: issuance shares one signer and one relay
	// connection, and the receipt timestamp rule depends on issuance
	// order relative to real time
	for _, payment := range payments {
		if payment.Processed || payment.Status != phoenix.StatusReceived {
			continue
		}
		outcome := c.process(payment)
		c.finalize(payment, outcome)
	}
}

// process walks one payment through the pipeline and returns its
// terminal outcome. Every stage failure is absorbed into ABANDONED so
// the pipeline stays live.
func (c *Correlator) process(payment *phoenix.Payment) Outcome {
	note := payment.Note()
	if note == "" {
		return abandoned(payment, "payment carries no note")
	}

	refs := event.ExtractReferences(note)
	if len(refs) == 0 {
		return abandoned(payment, "no reference found in note")
	}
	// single-match policy: only the first reference is ever processed
	ref := refs[0]

	id, err := event.DecodeNoteID(ref)
	if err != nil {
		return abandoned(payment, "undecodable reference: "+err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()
	events, err := c.fetcher.Query(ctx, nostr.Filter{
		IDs:   []string{id},
		Kinds: []int{event.KindZipZapRequest},
	})
	if err != nil {
		return abandoned(payment, "relay fetch failed: "+err.Error())
	}
	if len(events) == 0 {
		return abandoned(payment, "request event not found on relay")
	}

	req, err := event.ParseZipZapRequest(events[0])
	if err != nil {
		return abandoned(payment, "invalid request event: "+err.Error())
	}
	if err := event.Validate(&req.Event); err != nil {
		return abandoned(payment, "request failed validation: "+err.Error())
	}

	receiptID, published, err := c.issuer.Issue(context.Background(), req, payment)
	if err != nil && receiptID == "" {
		// issuance failed outright; the payment is still done with
		// (at-most-once, no retry on a later pass)
		log.Errorf("[Correlator] receipt issuance failed for %s: %s", payment.PaymentHash, err.Error())
		return Outcome{
			PaymentHash: payment.PaymentHash,
			State:       StateAbandoned,
			AmountSat:   payment.AmountMillisats / 1000,
			PostID:      req.PostID,
			Tipper:      req.Event.PubKey,
			Reason:      "issuance failed: " + err.Error(),
		}
	}
	if err != nil {
		// soft failure: receipt exists and is signed, delivery unconfirmed
		log.Warnf("[Correlator] receipt %s for %s not confirmed by relay: %s", receiptID, payment.PaymentHash, err.Error())
	}
	return Outcome{
		PaymentHash: payment.PaymentHash,
		State:       StateReceiptIssued,
		ReceiptID:   receiptID,
		Published:   err == nil && published,
		AmountSat:   payment.AmountMillisats / 1000,
		PostID:      req.PostID,
		Tipper:      req.Event.PubKey,
	}
}

func (c *Correlator) finalize(payment *phoenix.Payment, outcome Outcome) {
	payment.Processed = true
	if c.ledger != nil {
		err := c.ledger.Mark(storage.ProcessedEntry{
			PaymentHash: payment.PaymentHash,
			State:       string(outcome.State),
			ReceiptID:   outcome.ReceiptID,
			Reason:      outcome.Reason,
		})
		if err != nil {
			log.Errorf("[Correlator] could not persist disposition of %s: %v", payment.PaymentHash, err)
		}
	}
	switch outcome.State {
	case StateReceiptIssued:
		log.Infof("[Correlator] issued receipt %s for payment %s (%d sat)", outcome.ReceiptID, outcome.PaymentHash, outcome.AmountSat)
	default:
		log.Debugf("[Correlator] abandoned payment %s: %s", outcome.PaymentHash, outcome.Reason)
	}
	if c.onOutcome != nil {
		c.onOutcome(outcome)
	}
}

func abandoned(payment *phoenix.Payment, reason string) Outcome {
	return Outcome{
		PaymentHash: payment.PaymentHash,
		State:       StateAbandoned,
		AmountSat:   payment.AmountMillisats / 1000,
		Reason:      reason,
	}
}
