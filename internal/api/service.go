package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/gorilla/mux"
	"github.com/massmux/zipzapd/internal/errors"
	"github.com/massmux/zipzapd/internal/feed"
	"github.com/massmux/zipzapd/internal/i18n"
	"github.com/massmux/zipzapd/internal/phoenix"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/massmux/zipzapd/internal/storage"
	"github.com/massmux/zipzapd/internal/zipzap"
	"github.com/nbd-wtf/go-nostr"
	"github.com/r3labs/sse"
	log "github.com/sirupsen/logrus"
	qrcode "github.com/skip2/go-qrcode"
)

const outcomeStream = "outcomes"

// PaymentSource is the slice of the poller the API needs.
type PaymentSource interface {
	Snapshot() []*phoenix.Payment
	Refresh() error
	LastError() error
}

// ReceiptSource is the read side of the receipt journal.
type ReceiptSource interface {
	Recent(limit int) ([]storage.Receipt, error)
	TotalSats() (int64, error)
}

// FeedSource serves the social surface.
type FeedSource interface {
	RecentPosts(ctx context.Context, limit int) ([]feed.Post, error)
	PublishPost(ctx context.Context, content string) (nostr.Event, error)
	PublishProfile(ctx context.Context, profile feed.Profile) (nostr.Event, error)
}

// PriceSource annotates sat totals with fiat.
type PriceSource interface {
	Price(currency string) float64
}

// Service exposes the daemon over HTTP: pipeline status, payments,
// receipts, the feed and tip request creation, plus an SSE stream of
// correlation outcomes.
type Service struct {
	payments  PaymentSource
	receipts  ReceiptSource
	feed      FeedSource
	prices    PriceSource
	signer    signer.Signer
	publisher zipzap.EventPublisher
	localizer *goi18n.Localizer
	relayUrls []string
	pipeline  bool
	stream    *sse.Server
}

type ServiceOption func(*Service)

func WithPrices(p PriceSource) ServiceOption {
	return func(s *Service) { s.prices = p }
}

func WithFeed(f FeedSource) ServiceOption {
	return func(s *Service) { s.feed = f }
}

func NewService(payments PaymentSource, receipts ReceiptSource, sgn signer.Signer, publisher zipzap.EventPublisher, localizer *goi18n.Localizer, relayUrls []string, pipeline bool, opts ...ServiceOption) *Service {
	stream := sse.New()
	stream.AutoReplay = false
	stream.CreateStream(outcomeStream)
	s := &Service{
		payments:  payments,
		receipts:  receipts,
		signer:    sgn,
		publisher: publisher,
		localizer: localizer,
		relayUrls: relayUrls,
		pipeline:  pipeline,
		stream:    stream,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mount registers every route on the server.
func (s *Service) Mount(server *Server) {
	server.AppendRoute("/api/v1/status", s.Status, http.MethodGet)
	server.AppendRoute("/api/v1/payments", s.Payments, http.MethodGet)
	server.AppendRoute("/api/v1/payments/refresh", s.RefreshPayments, http.MethodPost)
	server.AppendRoute("/api/v1/receipts", s.Receipts, http.MethodGet)
	server.AppendRoute("/api/v1/feed", s.Feed, http.MethodGet)
	server.AppendRoute("/api/v1/posts", s.PublishPost, http.MethodPost)
	server.AppendRoute("/api/v1/profile", s.PublishProfile, http.MethodPost)
	server.AppendRoute("/api/v1/tip", s.Tip, http.MethodPost)
	server.AppendRoute("/api/v1/tip/{note}/qr", s.TipQr, http.MethodGet)
	server.AppendRoute("/api/v1/events", s.Events, http.MethodGet)
}

// PublishOutcome pushes a terminal disposition onto the event stream.
// Wired as the correlator's outcome hook.
func (s *Service) PublishOutcome(outcome zipzap.Outcome) {
	data, err := json.Marshal(outcome)
	if err != nil {
		log.Errorf("[api] unmarshalable outcome for %s: %v", outcome.PaymentHash, err)
		return
	}
	s.stream.Publish(outcomeStream, &sse.Event{Data: data})
}

type statusResponse struct {
	Pipeline    bool               `json:"pipeline_enabled"`
	Pubkey      string             `json:"pubkey"`
	Relays      []string           `json:"relays"`
	LastError   string             `json:"last_error,omitempty"`
	TotalSats   int64              `json:"total_sats"`
	FiatTotals  map[string]float64 `json:"fiat_totals,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

func (s *Service) Status(w http.ResponseWriter, r *http.Request) {
	response := statusResponse{
		Pipeline:    s.pipeline,
		Pubkey:      s.signer.PublicKey(),
		Relays:      s.relayUrls,
		GeneratedAt: time.Now(),
	}
	if s.payments != nil {
		if err := s.payments.LastError(); err != nil {
			response.LastError = s.describe(err)
		}
	}
	if s.receipts != nil {
		total, err := s.receipts.TotalSats()
		if err != nil {
			log.Errorf("[api] receipt total unavailable: %v", err)
		} else {
			response.TotalSats = total
		}
	}
	if s.prices != nil && response.TotalSats > 0 {
		response.FiatTotals = make(map[string]float64)
		for _, currency := range []string{"USD", "EUR"} {
			if price := s.prices.Price(currency); price > 0 {
				response.FiatTotals[currency] = float64(response.TotalSats) / 1e8 * price
			}
		}
	}
	WriteResponse(w, response)
}

func (s *Service) Payments(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		RespondError(w, http.StatusServiceUnavailable, i18n.Translate(s.localizer, "DaemonUnreachable", nil))
		return
	}
	WriteResponse(w, s.payments.Snapshot())
}

// RefreshPayments forces a poll of the lightning daemon. Errors come
// back with a localized message and a status that mirrors the failure
// category.
func (s *Service) RefreshPayments(w http.ResponseWriter, r *http.Request) {
	if s.payments == nil {
		RespondError(w, http.StatusServiceUnavailable, i18n.Translate(s.localizer, "DaemonUnreachable", nil))
		return
	}
	if err := s.payments.Refresh(); err != nil {
		log.Errorf("[api] refresh failed: %v", err)
		RespondError(w, statusForError(err), s.describe(err))
		return
	}
	WriteResponse(w, s.payments.Snapshot())
}

func (s *Service) Receipts(w http.ResponseWriter, r *http.Request) {
	if s.receipts == nil {
		RespondError(w, http.StatusServiceUnavailable, i18n.Translate(s.localizer, "GenericFailure", nil))
		return
	}
	receipts, err := s.receipts.Recent(100)
	if err != nil {
		log.Errorf("[api] receipt listing failed: %v", err)
		RespondError(w, http.StatusInternalServerError, i18n.Translate(s.localizer, "GenericFailure", nil))
		return
	}
	WriteResponse(w, receipts)
}

func (s *Service) Feed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		RespondError(w, http.StatusServiceUnavailable, i18n.Translate(s.localizer, "GenericFailure", nil))
		return
	}
	posts, err := s.feed.RecentPosts(r.Context(), 50)
	if err != nil {
		log.Errorf("[api] feed fetch failed: %v", err)
		RespondError(w, statusForError(err), s.describe(err))
		return
	}
	WriteResponse(w, posts)
}

type publishPostRequest struct {
	Content string `json:"content"`
}

func (s *Service) PublishPost(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		RespondError(w, http.StatusServiceUnavailable, i18n.Translate(s.localizer, "GenericFailure", nil))
		return
	}
	var body publishPostRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		RespondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	ev, err := s.feed.PublishPost(r.Context(), body.Content)
	if err != nil {
		RespondError(w, statusForError(err), s.describe(err))
		return
	}
	WriteResponse(w, ev)
}

func (s *Service) PublishProfile(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		RespondError(w, http.StatusServiceUnavailable, i18n.Translate(s.localizer, "GenericFailure", nil))
		return
	}
	var profile feed.Profile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		RespondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	ev, err := s.feed.PublishProfile(r.Context(), profile)
	if err != nil {
		RespondError(w, statusForError(err), s.describe(err))
		return
	}
	WriteResponse(w, ev)
}

type tipRequest struct {
	PostID string `json:"post_id"`
	Author string `json:"author"`
	Offer  string `json:"offer"`
}

type tipResponse struct {
	Event     nostr.Event `json:"event"`
	Note      string      `json:"note"`
	Published bool        `json:"published"`
}

// Tip builds, signs and publishes a tip request for a post. A relay
// publish failure still returns the event and its note: the note is
// what goes into the payer note, delivery just isn't confirmed.
func (s *Service) Tip(w http.ResponseWriter, r *http.Request) {
	var body tipRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		RespondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	relayUrl := ""
	if len(s.relayUrls) > 0 {
		relayUrl = s.relayUrls[0]
	}
	ev, note, err := zipzap.CreateRequest(r.Context(), s.signer, s.publisher, zipzap.RequestParams{
		PostID:   body.PostID,
		Author:   body.Author,
		Offer:    body.Offer,
		RelayUrl: relayUrl,
	})
	if err != nil && note == "" {
		RespondError(w, statusForError(err), s.describe(err))
		return
	}
	WriteResponse(w, tipResponse{Event: ev, Note: note, Published: err == nil})
}

// TipQr renders the note id as a QR PNG so the payer note can be
// scanned into a wallet.
func (s *Service) TipQr(w http.ResponseWriter, r *http.Request) {
	note := mux.Vars(r)["note"]
	if note == "" {
		RespondError(w, http.StatusBadRequest, "missing note")
		return
	}
	png, err := qrcode.Encode(note, qrcode.Medium, 256)
	if err != nil {
		NotFoundHandler(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

// Events serves the SSE stream of correlation outcomes. Clients attach
// with ?stream=outcomes; the default is filled in here.
func (s *Service) Events(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("stream") == "" {
		q := r.URL.Query()
		q.Set("stream", outcomeStream)
		r.URL.RawQuery = q.Encode()
	}
	s.stream.HTTPHandler(w, r)
}

// describe turns an error into a user-facing, localized message.
// Internal detail stays in the logs.
func (s *Service) describe(err error) string {
	switch errors.Code(err) {
	case errors.DaemonUnreachableError:
		return i18n.Translate(s.localizer, "DaemonUnreachable", nil)
	case errors.DaemonTimeoutError:
		return i18n.Translate(s.localizer, "DaemonTimeout", nil)
	case errors.CredentialsMissingError:
		return i18n.Translate(s.localizer, "CredentialsMissing", nil)
	case errors.DaemonRequestError:
		return i18n.Translate(s.localizer, "DaemonError", nil)
	case errors.PublishTimeoutError:
		return i18n.Translate(s.localizer, "PublishTimeout", nil)
	case errors.SignerUnavailableError:
		return i18n.Translate(s.localizer, "SignerUnavailable", nil)
	case errors.UserRejectedError:
		return i18n.Translate(s.localizer, "UserRejected", nil)
	case errors.InvalidInputError:
		if ze, ok := err.(errors.ZipZapError); ok {
			return ze.Message
		}
		return err.Error()
	default:
		return i18n.Translate(s.localizer, "GenericFailure", nil)
	}
}

func statusForError(err error) int {
	switch errors.Code(err) {
	case errors.InvalidInputError:
		return http.StatusBadRequest
	case errors.CredentialsMissingError:
		return http.StatusUnauthorized
	case errors.DaemonUnreachableError, errors.SignerUnavailableError:
		return http.StatusServiceUnavailable
	case errors.DaemonTimeoutError, errors.PublishTimeoutError:
		return http.StatusGatewayTimeout
	case errors.UserRejectedError:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
