package phoenix

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

const pollInterval = 30 * time.Second

// Poller owns the incoming payment list. It refreshes it on a fixed
// interval and on demand; the correlator is the only other writer and
// only touches the Processed flag.
type Poller struct {
	client   *Client
	interval time.Duration

	mu       sync.Mutex
	payments []*Payment
	index    map[string]*Payment
	lastErr  error

	// hydrate restores the processed flag for payments first seen after
	// a restart
	hydrate  func(paymentHash string) bool
	onUpdate func()
	quit     chan struct{}
	once     sync.Once
}

type PollerOption func(*Poller)

// WithHydration seeds the processed flag of newly seen payments from a
// durable store.
func WithHydration(hydrate func(string) bool) PollerOption {
	return func(p *Poller) {
		p.hydrate = hydrate
	}
}

// WithUpdateHook is called after every successful refresh, outside the
// list lock.
func WithUpdateHook(onUpdate func()) PollerOption {
	return func(p *Poller) {
		p.onUpdate = onUpdate
	}
}

func NewPoller(client *Client, opts ...PollerOption) *Poller {
	p := &Poller{
		client:   client,
		interval: pollInterval,
		index:    make(map[string]*Payment),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Poller) Start() {
	go p.watch()
	log.Infof("[Poller] started, interval %s", p.interval)
}

func (p *Poller) watch() {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := p.Refresh(); err != nil {
				// the ticker is the only retry mechanism, so just log
				log.Errorf("[Poller] refresh failed: %s", err.Error())
			}
		case <-p.quit:
			return
		}
	}
}

// Refresh fetches the payment list once and merges it into the owned
// list. Known payments keep their Processed flag; errors are classified
// by the client and kept for the status surface.
func (p *Poller) Refresh() error {
	fetched, err := p.client.FetchIncoming()

	p.mu.Lock()
	p.lastErr = err
	if err != nil {
		p.mu.Unlock()
		return err
	}
	for _, f := range fetched {
		if existing, ok := p.index[f.PaymentHash]; ok {
			// mutate in place so the correlator's pointer stays valid
			existing.Status = f.Status
			existing.AmountMillisats = f.AmountMillisats
			existing.ReceivedAt = f.ReceivedAt
			existing.ExpiresAt = f.ExpiresAt
			continue
		}
		if p.hydrate != nil && p.hydrate(f.PaymentHash) {
			f.Processed = true
		}
		p.index[f.PaymentHash] = f
		p.payments = append(p.payments, f)
	}
	p.mu.Unlock()

	if p.onUpdate != nil {
		p.onUpdate()
	}
	return nil
}

// Snapshot returns the payment list in network-response order. The slice
// is a copy; the records are shared so a correlation pass can mark them.
func (p *Poller) Snapshot() []*Payment {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Payment{}, p.payments...)
}

func (p *Poller) LastError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

func (p *Poller) Stop() {
	p.once.Do(func() { close(p.quit) })
}
