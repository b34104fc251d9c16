package event

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr"
)

// Event kinds used by the ZipZap scheme.
const (
	KindProfile       = 0
	KindPost          = 1
	KindZipZapRequest = 9912
	KindZipZapReceipt = 9913
)

// RequestContent is the fixed content of every kind 9912 event.
const RequestContent = "ZipZap!"

// BuildUnsigned is a pure constructor for an event that still lacks
// id and signature.
func BuildUnsigned(kind int, pubkey string, createdAt time.Time, tags nostr.Tags, content string) nostr.Event {
	return nostr.Event{
		Kind:      kind,
		PubKey:    pubkey,
		CreatedAt: createdAt,
		Tags:      tags,
		Content:   content,
	}
}

// ComputeID hashes the canonical serialization
// [0, pubkey, created_at, kind, tags, content] with SHA-256.
func ComputeID(ev *nostr.Event) string {
	return ev.GetID()
}

// Verify checks the schnorr signature over the event id against the
// event's pubkey.
func Verify(ev *nostr.Event) (bool, error) {
	pkBytes, err := hex.DecodeString(ev.PubKey)
	if err != nil {
		return false, errors.New(errors.EventInvalidError, fmt.Errorf("invalid pubkey hex: %w", err))
	}
	pk, err := schnorr.ParsePubKey(pkBytes)
	if err != nil {
		return false, errors.New(errors.EventInvalidError, fmt.Errorf("invalid pubkey: %w", err))
	}
	sigBytes, err := hex.DecodeString(ev.Sig)
	if err != nil {
		return false, errors.New(errors.EventInvalidError, fmt.Errorf("invalid signature hex: %w", err))
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, errors.New(errors.EventInvalidError, fmt.Errorf("invalid signature: %w", err))
	}
	hash, err := hex.DecodeString(ev.ID)
	if err != nil {
		return false, errors.New(errors.EventInvalidError, fmt.Errorf("invalid id hex: %w", err))
	}
	return sig.Verify(hash, pk), nil
}

// Validate reports whether the event is well formed: the stored id must
// equal the recomputed hash and the signature must verify against it.
func Validate(ev *nostr.Event) error {
	if ev.ID != ComputeID(ev) {
		return errors.New(errors.EventInvalidError, fmt.Errorf("event id does not match its content"))
	}
	ok, err := Verify(ev)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New(errors.EventInvalidError, fmt.Errorf("signature verification failed"))
	}
	return nil
}

// ZipZapRequest is a validated kind 9912 event with its tags unpacked.
type ZipZapRequest struct {
	Event    nostr.Event
	RelayUrl string // relay the receipt should be published back to
	Offer    string // BOLT12 offer of the post author
	Receiver string // post author pubkey
	PostID   string // id of the post being tipped
}

// ParseZipZapRequest validates that ev is a well-formed ZipZap request.
// The kind is checked exactly even when the event came from a kind-filtered
// query, since relays honor filters loosely.
func ParseZipZapRequest(ev nostr.Event) (*ZipZapRequest, error) {
	if ev.Kind != KindZipZapRequest {
		return nil, errors.New(errors.EventInvalidError, fmt.Errorf("kind %d is not a zipzap request", ev.Kind))
	}
	req := &ZipZapRequest{Event: ev}
	for _, tag := range ev.Tags {
		if len(tag) < 2 {
			continue
		}
		switch tag[0] {
		case "relays":
			if req.RelayUrl == "" {
				req.RelayUrl = tag[1]
			}
		case "lno":
			if req.Offer == "" {
				req.Offer = tag[1]
			}
		case "p":
			if req.Receiver == "" {
				req.Receiver = tag[1]
			}
		case "e":
			if req.PostID == "" {
				req.PostID = tag[1]
			}
		}
	}
	if req.Receiver == "" {
		return nil, errors.New(errors.EventInvalidError, fmt.Errorf("zipzap request has no 'p' tag"))
	}
	if req.PostID == "" {
		return nil, errors.New(errors.EventInvalidError, fmt.Errorf("zipzap request has no 'e' tag"))
	}
	return req, nil
}
