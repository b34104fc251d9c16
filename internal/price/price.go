package price

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// PriceWatcher keeps a rolling average BTC price per currency so receipt
// totals can be annotated with a fiat value.
type PriceWatcher struct {
	client         *http.Client
	UpdateInterval time.Duration
	Currencies     []string
	Exchanges      map[string]func(string) (float64, error)

	mu    sync.RWMutex
	price map[string]float64
	quit  chan struct{}
}

func NewPriceWatcher() *PriceWatcher {
	pricewatcher := &PriceWatcher{
		client: &http.Client{
			Timeout: time.Second * time.Duration(5),
		},
		Currencies:     []string{"USD", "EUR"},
		price:          make(map[string]float64, 0),
		Exchanges:      make(map[string]func(string) (float64, error), 0),
		UpdateInterval: time.Second * time.Duration(30),
		quit:           make(chan struct{}),
	}
	pricewatcher.Exchanges["coinbase"] = pricewatcher.GetCoinbasePrice
	pricewatcher.Exchanges["bitfinex"] = pricewatcher.GetBitfinexPrice
	log.Infof("[PriceWatcher] Watcher started")
	return pricewatcher
}

func (p *PriceWatcher) Start() {
	go p.watch()
}

func (p *PriceWatcher) Stop() {
	close(p.quit)
}

// Price returns the last known average for a currency, zero when no
// exchange has answered yet.
func (p *PriceWatcher) Price(currency string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.price[currency]
}

func (p *PriceWatcher) watch() {
	for {
		select {
		case <-time.After(p.UpdateInterval):
		case <-p.quit:
			return
		}
		for _, currency := range p.Currencies {
			avg_price := 0.0
			n_responses := 0
			for exchange, getPrice := range p.Exchanges {
				fprice, err := getPrice(currency)
				if err != nil {
					log.Error(err)
					// if one exchange is down, use the next
					continue
				}
				n_responses++
				avg_price += fprice
				log.Debugf("[PriceWatcher] %s %s price: %f", exchange, currency, fprice)
			}
			if n_responses == 0 {
				continue
			}
			p.mu.Lock()
			p.price[currency] = avg_price / float64(n_responses)
			p.mu.Unlock()
		}
	}
}

func (p *PriceWatcher) GetCoinbasePrice(currency string) (float64, error) {
	coinbaseEndpoint, err := url.Parse(fmt.Sprintf("https://api.coinbase.com/v2/prices/spot?currency=%s", currency))
	if err != nil {
		return 0, err
	}
	response, err := p.client.Get(coinbaseEndpoint.String())
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, err
	}
	price := gjson.Get(string(bodyBytes), "data.amount")
	return strconv.ParseFloat(strings.TrimSpace(price.String()), 64)
}

func (p *PriceWatcher) GetBitfinexPrice(currency string) (float64, error) {
	var bitfinexCurrencyToPair = map[string]string{"USD": "btcusd", "EUR": "btceur"}
	pair, ok := bitfinexCurrencyToPair[currency]
	if !ok {
		return 0, fmt.Errorf("no bitfinex pair for %s", currency)
	}
	bitfinexEndpoint, err := url.Parse(fmt.Sprintf("https://api.bitfinex.com/v1/pubticker/%s", pair))
	if err != nil {
		return 0, err
	}
	response, err := p.client.Get(bitfinexEndpoint.String())
	if err != nil {
		return 0, err
	}
	defer response.Body.Close()
	bodyBytes, err := io.ReadAll(response.Body)
	if err != nil {
		return 0, err
	}
	price := gjson.Get(string(bodyBytes), "last_price")
	return strconv.ParseFloat(strings.TrimSpace(price.String()), 64)
}
