package signer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/imroc/req"
	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	log "github.com/sirupsen/logrus"
)

// HTTPRemoteSigner talks to an external signer bridge over HTTP. The
// bridge exposes POST /sign taking the event-with-id and answering with
// whatever its backing signer produced, shape not guaranteed.
type HTTPRemoteSigner struct {
	url    string
	header req.Header
}

func NewHTTPRemoteSigner(url string) *HTTPRemoteSigner {
	return &HTTPRemoteSigner{
		url: url,
		header: req.Header{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}
}

func (s *HTTPRemoteSigner) SignEvent(ctx context.Context, ev nostr.Event) (json.RawMessage, error) {
	resp, err := req.Post(s.url+"/sign", s.header, req.BodyJSON(ev))
	if err != nil {
		log.Errorf("[Signer] bridge unreachable: %v", err)
		return nil, errors.New(errors.SignerUnavailableError, fmt.Errorf("signer bridge unreachable: %w", err))
	}
	code := resp.Response().StatusCode
	switch {
	case code == 401 || code == 403:
		return nil, errors.New(errors.UserRejectedError, fmt.Errorf("signer declined to sign"))
	case code >= 300:
		return nil, errors.New(errors.SignerUnavailableError, fmt.Errorf("signer bridge status %d", code))
	}
	body, err := resp.ToString()
	if err != nil {
		return nil, errors.New(errors.SignerUnavailableError, fmt.Errorf("unreadable signer response: %w", err))
	}
	return json.RawMessage(body), nil
}
