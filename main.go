package main

import (
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	_ "net/http/pprof"

	goi18n "github.com/nicksnyder/go-i18n/v2/i18n"

	"github.com/massmux/zipzapd/internal"
	"github.com/massmux/zipzapd/internal/api"
	"github.com/massmux/zipzapd/internal/feed"
	"github.com/massmux/zipzapd/internal/i18n"
	"github.com/massmux/zipzapd/internal/network"
	"github.com/massmux/zipzapd/internal/phoenix"
	"github.com/massmux/zipzapd/internal/price"
	"github.com/massmux/zipzapd/internal/relay"
	"github.com/massmux/zipzapd/internal/signer"
	"github.com/massmux/zipzapd/internal/storage"
	"github.com/massmux/zipzapd/internal/zipzap"
	log "github.com/sirupsen/logrus"
)

// setLogger will initialize the log format
func setLogger() {
	log.SetLevel(log.DebugLevel)
	customFormatter := new(log.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	log.SetFormatter(customFormatter)
}

func main() {
	setLogger()
	defer withRecovery()

	if err := internal.Load(); err != nil {
		log.Fatalf("[main] %v", err)
	}

	// signing identity: a stored pubkey selects the external signer
	// bridge, otherwise the local secret key signs
	var remote signer.RemoteSigner
	if internal.Configuration.Nostr.SignerUrl != "" {
		remote = signer.NewHTTPRemoteSigner(internal.Configuration.Nostr.SignerUrl)
	}
	activeSigner, err := signer.FromCredentials(signer.Credentials{
		SecretKey: internal.Configuration.Nostr.SecretKey,
		PublicKey: internal.Configuration.Nostr.PublicKey,
	}, remote)
	if err != nil {
		log.Fatalf("[main] no usable signer: %v", err)
	}
	log.Infof("[main] signing as %s", activeSigner.PublicKey())

	gateway, err := relay.NewGateway(internal.Configuration.Relay.Urls)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer gateway.Close()

	processed, err := storage.NewProcessedStore(internal.Configuration.Database.BuntDbPath)
	if err != nil {
		log.Fatalf("[main] could not open processed store: %v", err)
	}
	defer processed.Close()
	journal, err := storage.NewReceiptJournal(internal.Configuration.Database.ReceiptsPath)
	if err != nil {
		log.Fatalf("[main] could not open receipt journal: %v", err)
	}

	prices := price.NewPriceWatcher()
	prices.Start()
	defer prices.Stop()

	localizer := i18n.NewLocalizer(i18n.RegisterLanguages())
	server := api.NewServer(internal.Configuration.Api.Host)
	server.PathPrefix("/debug/pprof/", http.DefaultServeMux)

	if internal.Configuration.Pipeline.Enabled {
		startPipeline(server, activeSigner, gateway, processed, journal, localizer, prices)
	} else {
		log.Infof("[main] pipeline disabled, serving feed only")
		feedService := feed.NewService(gateway, activeSigner, nil)
		service := api.NewService(nil, journal, activeSigner, gateway, localizer, gateway.Urls(), false,
			api.WithFeed(feedService), api.WithPrices(prices))
		service.Mount(server)
	}

	waitForShutdown()
}

// startPipeline wires the payment poller, the correlator and the receipt
// issuer and mounts the full API.
func startPipeline(server *api.Server, activeSigner signer.Signer, gateway *relay.Gateway, processed *storage.ProcessedStore, journal *storage.ReceiptJournal, localizer *goi18n.Localizer, prices *price.PriceWatcher) {
	var socks *network.SocksProxy
	if s := internal.Configuration.Phoenix.SocksProxy; s != nil {
		socks = &network.SocksProxy{Host: s.Host, Username: s.Username, Password: s.Password}
	}
	httpClient, err := network.GetClient(5*time.Second, socks)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	phoenixClient, err := phoenix.NewClient(internal.Configuration.Phoenix.Url, internal.Configuration.Phoenix.Password, httpClient)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	// the update hook closes over poller and correlator; both are wired
	// before Start so the closure never sees them nil
	var poller *phoenix.Poller
	var correlator *zipzap.Correlator
	poller = phoenix.NewPoller(phoenixClient,
		phoenix.WithHydration(processed.IsProcessed),
		phoenix.WithUpdateHook(func() {
			go correlator.Run(poller.Snapshot())
		}))

	feedService := feed.NewService(gateway, activeSigner, phoenixClient)
	service := api.NewService(poller, journal, activeSigner, gateway, localizer, gateway.Urls(), true,
		api.WithFeed(feedService), api.WithPrices(prices))
	service.Mount(server)

	issuer := zipzap.NewIssuer(activeSigner, gateway)
	correlator = zipzap.NewCorrelator(gateway, issuer, processed,
		zipzap.WithOutcomeHook(func(outcome zipzap.Outcome) {
			journalOutcome(journal, activeSigner.PublicKey(), outcome)
			service.PublishOutcome(outcome)
		}))

	poller.Start()
	if err := poller.Refresh(); err != nil {
		log.Warnf("[main] initial payment fetch failed: %v", err)
	}
}

// journalOutcome persists a terminal disposition. The receiver is the
// active signer's pubkey, which is derived on the local-key path and so
// not necessarily present in the configuration.
func journalOutcome(journal *storage.ReceiptJournal, receiver string, outcome zipzap.Outcome) {
	err := journal.Record(&storage.Receipt{
		EventID:     outcome.ReceiptID,
		PaymentHash: outcome.PaymentHash,
		PostID:      outcome.PostID,
		Tipper:      outcome.Tipper,
		Receiver:    receiver,
		AmountSat:   outcome.AmountSat,
		Published:   outcome.Published,
		Outcome:     string(outcome.State),
	})
	if err != nil {
		log.Errorf("[main] could not journal outcome for %s: %v", outcome.PaymentHash, err)
	}
}

func waitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infof("[main] shutting down")
}

func withRecovery() {
	if r := recover(); r != nil {
		log.Errorln("Recovered panic: ", r)
		debug.PrintStack()
	}
}
