package network

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

type SocksProxy struct {
	Host     string
	Username string
	Password string
}

// GetClient returns an http client with the given timeout, optionally
// routed through a SOCKS5 proxy (for .onion daemons and the like).
func GetClient(timeout time.Duration, socks *SocksProxy) (*http.Client, error) {
	client := http.Client{
		Timeout: timeout,
	}
	if socks != nil && socks.Host != "" {
		proxyURL, _ := url.Parse(socks.Host)
		specialTransport := &http.Transport{}
		specialTransport.Proxy = http.ProxyURL(proxyURL)
		var auth *proxy.Auth
		if socks.Username != "" && socks.Password != "" {
			auth = &proxy.Auth{User: socks.Username, Password: socks.Password}
		}
		d, err := proxy.SOCKS5("tcp", socks.Host, auth, &net.Dialer{
			Timeout:   20 * time.Second,
			KeepAlive: -1,
		})
		if err != nil {
			log.Errorln(err)
			return &client, nil
		}
		specialTransport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return d.Dial(network, addr)
		}
		client.Transport = specialTransport
	}
	return &client, nil
}
