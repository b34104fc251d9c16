package storage

import (
	"encoding/json"
	"time"

	"github.com/eko/gocache/store"
	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/buntdb"
)

var processedCache = store.NewGoCache(gocache.New(5*time.Minute, 10*time.Minute), nil)

const processedPrefix = "processed:"

// ProcessedEntry records the final disposition of one payment. Its
// presence alone is the idempotency guard; the rest is for operators.
type ProcessedEntry struct {
	PaymentHash string    `json:"payment_hash"`
	State       string    `json:"state"`
	ReceiptID   string    `json:"receipt_id,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	ProcessedAt time.Time `json:"processed_at"`
}

func (e ProcessedEntry) Key() string {
	return processedPrefix + e.PaymentHash
}

// ProcessedStore is the durable processed-payment set, a bunt file with a
// cache in front.
type ProcessedStore struct {
	db *buntdb.DB
}

func NewProcessedStore(path string) (*ProcessedStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &ProcessedStore{db: db}, nil
}

func (s *ProcessedStore) Mark(entry ProcessedEntry) error {
	if entry.ProcessedAt.IsZero() {
		entry.ProcessedAt = time.Now()
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(entry.Key(), string(raw), nil)
		return err
	})
	if err != nil {
		log.Errorf("[Bunt] could not set object: %v", err)
		return err
	}
	log.Tracef("[Bunt] set object %s", entry.Key())
	if err := processedCache.Set(entry.Key(), entry, &store.Options{Expiration: 5 * time.Minute}); err != nil {
		log.Errorf("[Bunt Cache] could not set object: %v", err)
	}
	return nil
}

func (s *ProcessedStore) Get(paymentHash string) (*ProcessedEntry, error) {
	key := processedPrefix + paymentHash
	if cached, err := processedCache.Get(key); err == nil {
		entry := cached.(ProcessedEntry)
		return &entry, nil
	}
	var raw string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		raw = v
		return err
	})
	if err != nil {
		return nil, err
	}
	var entry ProcessedEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, err
	}
	processedCache.Set(key, entry, &store.Options{Expiration: 5 * time.Minute})
	return &entry, nil
}

func (s *ProcessedStore) IsProcessed(paymentHash string) bool {
	entry, err := s.Get(paymentHash)
	return err == nil && entry != nil
}

func (s *ProcessedStore) Close() error {
	return s.db.Close()
}
