package signer

import (
	"context"
	"fmt"
	"strings"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// LocalKeySigner signs with a raw secret key held in memory.
type LocalKeySigner struct {
	sk string
	pk string
}

// NewLocalKeySigner accepts a hex or nsec encoded secret key and fails
// fast on malformed key material.
func NewLocalKeySigner(secret string) (*LocalKeySigner, error) {
	if strings.HasPrefix(secret, "nsec") {
		prefix, value, err := nip19.Decode(secret)
		if err != nil {
			return nil, errors.New(errors.InvalidKeyError, fmt.Errorf("undecodable secret key: %w", err))
		}
		if prefix != "nsec" {
			return nil, errors.New(errors.InvalidKeyError, fmt.Errorf("expected nsec, got %s", prefix))
		}
		secret = value.(string)
	}
	if !isHex(secret, 64) {
		return nil, errors.New(errors.InvalidKeyError, fmt.Errorf("secret key is not 32-byte hex"))
	}
	pk, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, errors.New(errors.InvalidKeyError, fmt.Errorf("could not derive public key: %w", err))
	}
	return &LocalKeySigner{sk: secret, pk: pk}, nil
}

func (s *LocalKeySigner) PublicKey() string {
	return s.pk
}

// Sign sets pubkey, computes the id and signs it. Signing only fails on
// broken key material, which NewLocalKeySigner already rules out.
func (s *LocalKeySigner) Sign(ctx context.Context, ev *nostr.Event) error {
	ev.PubKey = s.pk
	if err := ev.Sign(s.sk); err != nil {
		return errors.New(errors.InvalidKeyError, fmt.Errorf("signing failed: %w", err))
	}
	return nil
}
