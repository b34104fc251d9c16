package phoenix

import (
	"encoding/base64"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/imroc/req"
	"github.com/massmux/zipzapd/internal/errors"
	log "github.com/sirupsen/logrus"
)

// Client talks to a local phoenixd over its HTTP API. Auth is HTTP Basic
// with an empty username and the configured api password.
type Client struct {
	url    string
	header req.Header
}

// NewClient fails fast on missing configuration; a missing password is a
// credentials error so callers can tell it apart from a bad url.
func NewClient(baseURL, password string, client *http.Client) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New(errors.ConfigurationError, fmt.Errorf("no phoenixd url configured"))
	}
	if password == "" {
		return nil, errors.New(errors.CredentialsMissingError, fmt.Errorf("no phoenixd api password configured"))
	}
	if client != nil {
		req.SetClient(client)
	}
	return &Client{
		url: strings.TrimSuffix(baseURL, "/"),
		header: req.Header{
			"Authorization": "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+password)),
			"Accept":        "application/json",
		},
	}, nil
}

// FetchIncoming lists all incoming payments, normalized per payment.go.
// The response is either a bare array or an object with a payments field
// depending on the daemon version; both are accepted.
func (c *Client) FetchIncoming() ([]*Payment, error) {
	resp, err := req.Get(c.url+"/payments/incoming?all=true", c.header)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	if err := classifyStatus(resp.Response().StatusCode); err != nil {
		return nil, err
	}
	body, err := resp.ToString()
	if err != nil {
		return nil, errors.New(errors.DaemonRequestError, fmt.Errorf("unreadable daemon response: %w", err))
	}
	payments := parsePayments(body)
	log.Debugf("[Phoenix] fetched %d incoming payments", len(payments))
	return payments, nil
}

// GetOffer returns the node's own BOLT12 offer string.
func (c *Client) GetOffer() (string, error) {
	resp, err := req.Get(c.url+"/getoffer", c.header)
	if err != nil {
		return "", classifyTransportError(err)
	}
	if err := classifyStatus(resp.Response().StatusCode); err != nil {
		return "", err
	}
	offer, err := resp.ToString()
	if err != nil {
		return "", errors.New(errors.DaemonRequestError, fmt.Errorf("unreadable daemon response: %w", err))
	}
	return strings.TrimSpace(offer), nil
}

func classifyTransportError(err error) error {
	var nerr net.Error
	if stderrors.As(err, &nerr) && nerr.Timeout() {
		return errors.New(errors.DaemonTimeoutError, fmt.Errorf("phoenixd timed out: %w", err))
	}
	if strings.Contains(err.Error(), "connection refused") {
		return errors.New(errors.DaemonUnreachableError, fmt.Errorf("phoenixd refused connection: %w", err))
	}
	return errors.New(errors.DaemonRequestError, fmt.Errorf("phoenixd request failed: %w", err))
}

func classifyStatus(code int) error {
	switch {
	case code == 401 || code == 403:
		return errors.New(errors.CredentialsMissingError, fmt.Errorf("phoenixd rejected credentials (%d)", code))
	case code >= 300:
		return errors.New(errors.DaemonRequestError, fmt.Errorf("phoenixd status %d", code))
	}
	return nil
}
