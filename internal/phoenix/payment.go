package phoenix

import (
	"strconv"
	"strings"

	decodepay "github.com/fiatjaf/ln-decodepay"
	uuid "github.com/satori/go.uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusReceived Status = "RECEIVED"
	StatusExpired  Status = "EXPIRED"
)

// Payment is the normalized incoming payment record. Amounts are always
// millisatoshis, instants always unix seconds, whatever the daemon sent.
type Payment struct {
	PaymentHash     string `json:"payment_hash"`
	AmountMillisats int64  `json:"amount_msat"`
	CreatedAt       int64  `json:"created_at"`
	ReceivedAt      int64  `json:"received_at"`
	ExpiresAt       int64  `json:"expires_at"`
	Status          Status `json:"status"`
	PayerNote       string `json:"payer_note,omitempty"`
	Description     string `json:"description,omitempty"`
	Invoice         string `json:"invoice,omitempty"`

	// Processed flips to true exactly once the correlator has made a
	// final disposition for this payment.
	Processed bool `json:"processed"`
}

// Note returns the free text a reference may be hiding in.
func (p *Payment) Note() string {
	if p.PayerNote != "" {
		return p.PayerNote
	}
	return p.Description
}

// parsePayments accepts either a bare array or {payments: [...]}.
func parsePayments(body string) []*Payment {
	root := gjson.Parse(body)
	list := root
	if root.IsObject() {
		list = root.Get("payments")
		if !list.Exists() {
			return nil
		}
	}
	if !list.IsArray() {
		return nil
	}
	var payments []*Payment
	list.ForEach(func(_, r gjson.Result) bool {
		payments = append(payments, normalizePayment(r))
		return true
	})
	return payments
}

// normalizePayment maps one source record onto a Payment. Every accepted
// field variant is an explicit case; anything unknown resolves to a
// best-effort zero value, never an error.
func normalizePayment(r gjson.Result) *Payment {
	p := &Payment{
		Invoice:     firstString(r, "invoice", "paymentRequest", "serialized"),
		PayerNote:   firstString(r, "payerNote", "payer_note"),
		Description: firstString(r, "description", "desc", "memo"),
	}

	var decoded *decodepay.Bolt11
	if p.Invoice != "" {
		if b, err := decodepay.Decodepay(p.Invoice); err == nil {
			decoded = &b
		} else {
			log.Tracef("[Phoenix] undecodable invoice on payment: %v", err)
		}
	}

	p.AmountMillisats = normalizeAmount(r)
	if p.AmountMillisats == 0 && decoded != nil {
		p.AmountMillisats = decoded.MSatoshi
	}

	p.CreatedAt = normalizeInstant(firstNumber(r, "createdAt", "created_at"))
	p.ReceivedAt = normalizeInstant(firstNumber(r, "completedAt", "received_at", "receivedAt"))
	p.ExpiresAt = normalizeInstant(firstNumber(r, "expiresAt", "expires_at"))
	if p.ExpiresAt == 0 && decoded != nil && decoded.Expiry > 0 {
		p.ExpiresAt = int64(decoded.CreatedAt) + int64(decoded.Expiry)
	}

	p.Status = normalizeStatus(r)

	p.PaymentHash = firstString(r, "paymentHash", "payment_hash")
	if p.PaymentHash == "" && decoded != nil {
		p.PaymentHash = decoded.PaymentHash
	}
	if p.PaymentHash == "" {
		p.PaymentHash = synthesizeHash(p)
	}
	return p
}

// synthesizeHash derives a stable stand-in hash for a record the daemon
// reports without one. The hash is our idempotency key, so it must be
// the same every time the same record comes back from a poll; a random
// value would make the payment look new on every refresh and a receipt
// would be issued for it again and again.
func synthesizeHash(p *Payment) string {
	fingerprint := strings.Join([]string{
		p.Invoice,
		p.PayerNote,
		p.Description,
		strconv.FormatInt(p.AmountMillisats, 10),
		strconv.FormatInt(p.CreatedAt, 10),
		strconv.FormatInt(p.ExpiresAt, 10),
	}, "|")
	return "synthesized-" + uuid.NewV5(uuid.NamespaceOID, fingerprint).String()
}

// normalizeAmount resolves the daemon's amount vocabulary to msat:
// amount_msat/amount (msat, possibly a string or a {value} wrapper) or
// receivedSat (whole sats).
func normalizeAmount(r gjson.Result) int64 {
	if v := r.Get("amount_msat"); v.Exists() {
		return msatValue(v)
	}
	if v := r.Get("amount"); v.Exists() {
		return msatValue(v)
	}
	if v := r.Get("receivedSat"); v.Exists() {
		return v.Int() * 1000
	}
	if v := r.Get("received_sat"); v.Exists() {
		return v.Int() * 1000
	}
	return 0
}

func msatValue(v gjson.Result) int64 {
	switch v.Type {
	case gjson.Number:
		return v.Int()
	case gjson.String:
		n, err := strconv.ParseInt(strings.TrimSpace(v.String()), 10, 64)
		if err != nil {
			return 0
		}
		return n
	case gjson.JSON:
		for _, key := range []string{"value", "amount_msat", "msat"} {
			if inner := v.Get(key); inner.Exists() {
				return msatValue(inner)
			}
		}
	}
	return 0
}

// normalizeInstant disambiguates seconds from milliseconds by magnitude:
// anything above 1e12 cannot be a seconds timestamp this side of year
// 33658 and is treated as milliseconds.
func normalizeInstant(v int64) int64 {
	if v <= 0 {
		return 0
	}
	if v > 1_000_000_000_000 {
		return v / 1000
	}
	return v
}

func normalizeStatus(r gjson.Result) Status {
	if v := r.Get("isPaid"); v.Exists() {
		if v.Bool() {
			return StatusReceived
		}
		return StatusPending
	}
	switch strings.ToLower(r.Get("status").String()) {
	case "paid", "received", "completed", "settled":
		return StatusReceived
	case "expired":
		return StatusExpired
	default:
		// fail closed: an unknown vocabulary can never trigger a receipt
		return StatusPending
	}
}

func firstString(r gjson.Result, keys ...string) string {
	for _, key := range keys {
		if v := r.Get(key); v.Exists() && v.Type == gjson.String {
			return v.String()
		}
	}
	return ""
}

func firstNumber(r gjson.Result, keys ...string) int64 {
	for _, key := range keys {
		if v := r.Get(key); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
