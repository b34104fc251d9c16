package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr"
)

// RemoteSigner is an external, capability-limited signer (a browser
// extension behind a bridge, a separate signer daemon). It receives an
// event that already carries its id and returns an opaque JSON result.
type RemoteSigner interface {
	SignEvent(ctx context.Context, ev nostr.Event) (json.RawMessage, error)
}

// SignResult is the normalized outcome of a remote signing call. Remote
// signers return either a bare signature string or an object wrapping it
// in a sig field; the two shapes are kept apart as explicit variants
// instead of runtime property probing.
type SignResult struct {
	kind signResultKind
	sig  string
}

type signResultKind int

const (
	rawResult signResultKind = iota
	wrappedResult
)

func Raw(sig string) SignResult     { return SignResult{kind: rawResult, sig: sig} }
func Wrapped(sig string) SignResult { return SignResult{kind: wrappedResult, sig: sig} }

func (r SignResult) Signature() string { return r.sig }
func (r SignResult) Wrapped() bool     { return r.kind == wrappedResult }

// NormalizeSignResult maps the remote result onto a SignResult. Anything
// that matches neither accepted shape is a SignatureFormatError, distinct
// from the signer refusing to sign.
func NormalizeSignResult(raw json.RawMessage) (SignResult, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return SignResult{}, errors.New(errors.SignatureFormatError, fmt.Errorf("signer returned an empty signature"))
		}
		return Raw(s), nil
	}
	var obj struct {
		Sig string `json:"sig"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Sig != "" {
		return Wrapped(obj.Sig), nil
	}
	return SignResult{}, errors.New(errors.SignatureFormatError, fmt.Errorf("unexpected signature format: %s", truncate(string(raw), 64)))
}

// ExtensionSigner delegates signing to a RemoteSigner and normalizes its
// heterogeneous result shapes.
type ExtensionSigner struct {
	pk     string
	remote RemoteSigner
}

func NewExtensionSigner(pubkey string, remote RemoteSigner) *ExtensionSigner {
	return &ExtensionSigner{pk: pubkey, remote: remote}
}

func (s *ExtensionSigner) PublicKey() string {
	return s.pk
}

// Sign computes the id locally, hands the event to the remote signer and
// fills in the normalized signature. SignerUnavailable and UserRejected
// pass through to the caller untouched; they are never retried here.
func (s *ExtensionSigner) Sign(ctx context.Context, ev *nostr.Event) error {
	ev.PubKey = s.pk
	ev.ID = ev.GetID()
	raw, err := s.remote.SignEvent(ctx, *ev)
	if err != nil {
		return err
	}
	result, err := NormalizeSignResult(raw)
	if err != nil {
		return err
	}
	ev.Sig = result.Signature()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
