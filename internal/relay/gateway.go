package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/massmux/zipzapd/internal/errors"
	"github.com/nbd-wtf/go-nostr"
	cmap "github.com/orcaman/concurrent-map"
	log "github.com/sirupsen/logrus"
)

const (
	defaultQueryTimeout   = 5 * time.Second
	defaultPublishTimeout = 5 * time.Second
)

// Gateway is the publish/subscribe abstraction over a set of relay
// endpoints. Connections are opened on first use and closed on teardown;
// a failed or dropped connection is evicted from the pool and redialed
// on the next call.
type Gateway struct {
	urls           []string
	conns          cmap.ConcurrentMap // url -> *nostr.Relay
	queryTimeout   time.Duration
	publishTimeout time.Duration
}

// NewGateway fails fast when no relay endpoint is configured; the rest of
// the process can still run without a gateway.
func NewGateway(urls []string) (*Gateway, error) {
	urls = uniqueSlice(cleanUrls(urls))
	if len(urls) == 0 {
		return nil, errors.New(errors.ConfigurationError, fmt.Errorf("no relay urls configured"))
	}
	return &Gateway{
		urls:           urls,
		conns:          cmap.New(),
		queryTimeout:   defaultQueryTimeout,
		publishTimeout: defaultPublishTimeout,
	}, nil
}

func (g *Gateway) Urls() []string {
	return append([]string{}, g.urls...)
}

func (g *Gateway) connect(ctx context.Context, url string) (*nostr.Relay, error) {
	if r, ok := g.conns.Get(url); ok {
		cached := r.(*nostr.Relay)
		select {
		case err := <-cached.ConnectionError:
			// the connection died since we dialed it; a stale relay
			// answers every query with silence, so evict and redial
			log.Warnf("[Relay] connection to %s lost: %v", url, err)
			g.conns.Remove(url)
			cached.Close()
		default:
			return cached, nil
		}
	}
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, errors.New(errors.RelayConnectionError, fmt.Errorf("connect %s: %w", url, err))
	}
	g.conns.Set(url, relay)
	return relay, nil
}

// Query runs a one-shot fetch against every configured relay and returns
// the union of matching events, deduplicated by id. Each relay is read
// until its end-of-stored-events marker or the deadline.
func (g *Gateway) Query(ctx context.Context, filter nostr.Filter) ([]nostr.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, g.queryTimeout)
	defer cancel()

	seen := make(map[string]bool)
	var events []nostr.Event
	var lastErr error
	reached := 0
	for _, url := range g.urls {
		relay, err := g.connect(ctx, url)
		if err != nil {
			log.Errorf("[Relay] %s", err.Error())
			lastErr = err
			continue
		}
		reached++
		sub := relay.Subscribe(ctx, nostr.Filters{filter})
	collect:
		for {
			select {
			case ev := <-sub.Events:
				if ev == nil {
					// closed channel, the connection is gone
					break collect
				}
				if !seen[ev.ID] {
					seen[ev.ID] = true
					events = append(events, *ev)
				}
			case <-sub.EndOfStoredEvents:
				break collect
			case <-ctx.Done():
				break collect
			}
		}
		sub.Unsub()
	}
	if reached == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, errors.New(errors.QueryFailedError, fmt.Errorf("no relay reachable"))
	}
	return events, nil
}

// Publish fans the event out to all relays and resolves once any relay
// acknowledges it, racing a fixed timeout. On timeout the publish counts
// as failed; the caller still holds the event id for display. A late ack
// from a slow relay lands in a buffered channel and is ignored.
func (g *Gateway) Publish(ctx context.Context, ev nostr.Event) error {
	ctx, cancel := context.WithTimeout(ctx, g.publishTimeout)
	defer cancel()

	acks := make(chan nostr.Status, len(g.urls))
	for _, url := range g.urls {
		go func(url string) {
			relay, err := g.connect(ctx, url)
			if err != nil {
				log.Errorf("[Relay] %s", err.Error())
				acks <- nostr.PublishStatusFailed
				return
			}
			status := relay.Publish(ctx, ev)
			log.Debugf("[Relay] published %s to %s: %s", ev.ID, url, status)
			acks <- status
		}(url)
	}

	failed := 0
	for {
		select {
		case status := <-acks:
			// "sent" counts: not every relay speaks OK acknowledgments
			if status == nostr.PublishStatusSucceeded || status == nostr.PublishStatusSent {
				return nil
			}
			failed++
			if failed == len(g.urls) {
				return errors.New(errors.PublishTimeoutError, fmt.Errorf("no relay accepted event %s", ev.ID))
			}
		case <-ctx.Done():
			return errors.New(errors.PublishTimeoutError, fmt.Errorf("publish of %s timed out", ev.ID))
		}
	}
}

// Close tears down every open relay connection.
func (g *Gateway) Close() {
	for item := range g.conns.IterBuffered() {
		item.Val.(*nostr.Relay).Close()
		g.conns.Remove(item.Key)
	}
}
