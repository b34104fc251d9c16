package internal

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/jinzhu/configor"
	log "github.com/sirupsen/logrus"
)

var Configuration = struct {
	Relay    RelayConfiguration    `yaml:"relay"`
	Phoenix  PhoenixConfiguration  `yaml:"phoenix"`
	Nostr    NostrConfiguration    `yaml:"nostr"`
	Pipeline PipelineConfiguration `yaml:"pipeline"`
	Database DatabaseConfiguration `yaml:"database"`
	Api      ApiConfiguration      `yaml:"api"`
}{}

type RelayConfiguration struct {
	Urls []string `yaml:"urls"`
}

type SocksConfiguration struct {
	Host     string `yaml:"host"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type PhoenixConfiguration struct {
	Url        string              `yaml:"url"`
	Password   string              `yaml:"password"`
	SocksProxy *SocksConfiguration `yaml:"socks_proxy,omitempty"`
}

// NostrConfiguration holds the signing identity. At most one identity is
// active per session: a stored public key selects the external signer,
// otherwise the local secret key is used.
type NostrConfiguration struct {
	SecretKey string `yaml:"secret_key"`
	PublicKey string `yaml:"public_key"`
	SignerUrl string `yaml:"signer_url"`
}

type PipelineConfiguration struct {
	Enabled bool `yaml:"enabled"`
}

type DatabaseConfiguration struct {
	BuntDbPath   string `yaml:"buntdb_path" default:"data/processed.db"`
	ReceiptsPath string `yaml:"receipts_path" default:"data/receipts.db"`
}

type ApiConfiguration struct {
	Host string `yaml:"host" default:"0.0.0.0:8380"`
}

// Load reads config.yaml into Configuration. Missing settings are only
// fatal for the components that need them, so Load itself just normalizes
// and warns.
func Load(files ...string) error {
	if len(files) == 0 {
		files = []string{"config.yaml"}
	}
	err := configor.Load(&Configuration, files...)
	if err != nil {
		return fmt.Errorf("could not load configuration: %w", err)
	}
	if Configuration.Phoenix.Url != "" {
		if _, err := url.Parse(Configuration.Phoenix.Url); err != nil {
			return fmt.Errorf("invalid phoenix url: %w", err)
		}
		Configuration.Phoenix.Url = strings.TrimSuffix(Configuration.Phoenix.Url, "/")
	}
	if len(Configuration.Relay.Urls) == 0 {
		log.Warnf("[config] no relay urls configured, relay gateway will not start")
	}
	if Configuration.Pipeline.Enabled && Configuration.Phoenix.Password == "" {
		log.Warnf("[config] pipeline enabled but no phoenixd api password set")
	}
	return nil
}
