package signer

import (
	"context"
	"fmt"
	"strings"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// Signer fills in pubkey, id and signature of an unsigned event.
// Callers are agnostic to which backend is active.
type Signer interface {
	Sign(ctx context.Context, ev *nostr.Event) error
	PublicKey() string
}

// Credentials is the stored signing identity for a session. A stored
// external pubkey selects the extension path; otherwise the local secret
// key is used.
type Credentials struct {
	SecretKey string // hex or nsec
	PublicKey string // hex or npub, implies an external signer
}

// FromCredentials picks the active signer. The remote signer is only
// consulted on the extension path.
func FromCredentials(creds Credentials, remote RemoteSigner) (Signer, error) {
	if creds.PublicKey != "" {
		pk, err := decodePublicKey(creds.PublicKey)
		if err != nil {
			return nil, err
		}
		if remote == nil {
			return nil, errors.New(errors.SignerUnavailableError, fmt.Errorf("stored pubkey %s but no external signer configured", pk))
		}
		return NewExtensionSigner(pk, remote), nil
	}
	if creds.SecretKey != "" {
		return NewLocalKeySigner(creds.SecretKey)
	}
	return nil, errors.New(errors.SignerUnavailableError, fmt.Errorf("no signing credentials stored"))
}

func decodePublicKey(pk string) (string, error) {
	if strings.HasPrefix(pk, "npub") {
		prefix, value, err := nip19.Decode(pk)
		if err != nil {
			return "", errors.New(errors.InvalidKeyError, fmt.Errorf("undecodable public key: %w", err))
		}
		if prefix != "npub" {
			return "", errors.New(errors.InvalidKeyError, fmt.Errorf("expected npub, got %s", prefix))
		}
		return value.(string), nil
	}
	if !isHex(pk, 64) {
		return "", errors.New(errors.InvalidKeyError, fmt.Errorf("public key is not 32-byte hex"))
	}
	return pk, nil
}

func isHex(s string, length int) bool {
	if len(s) != length {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
