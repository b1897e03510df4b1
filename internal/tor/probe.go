package tor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// maxProbeBody caps how much of the IP-echo response is read.
const maxProbeBody = 64 << 10

// AddressProbe reports the externally visible address.
type AddressProbe interface {
	CurrentAddress(ctx context.Context) (string, error)
}

// HTTPProbe reads the exit address from an IP-echo endpoint.
type HTTPProbe struct {
	client *http.Client
	url    string
}

// NewHTTPProbe returns a probe that issues GET url with client.
func NewHTTPProbe(client *http.Client, url string) *HTTPProbe {
	return &HTTPProbe{client: client, url: url}
}

// CurrentAddress fetches the endpoint and returns the body with surrounding
// whitespace removed. Failures are reported as *NetworkError.
func (p *HTTPProbe) CurrentAddress(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, http.NoBody)
	if err != nil {
		return "", &NetworkError{URL: p.url, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", &NetworkError{URL: p.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &NetworkError{URL: p.url, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProbeBody))
	if err != nil {
		return "", &NetworkError{URL: p.url, Err: err}
	}
	return strings.TrimSpace(string(body)), nil
}

// newProbeClient builds the HTTP client used by the default probe. When Tor is
// enabled every request goes through the SOCKS5 port. Keep-alives are off so
// each probe opens a fresh stream and picks up a new circuit after NEWNYM.
func newProbeClient(cfg ProxyConfig) (*http.Client, *http.Transport, error) {
	transport := &http.Transport{
		DisableKeepAlives:   true,
		DisableCompression:  true,
		TLSHandshakeTimeout: 30 * time.Second,
	}

	if cfg.Disabled() {
		transport.Proxy = http.ProxyFromEnvironment
		transport.DialContext = (&net.Dialer{Timeout: 30 * time.Second}).DialContext
	} else {
		dialer, err := proxy.SOCKS5("tcp", cfg.SocksAddr(), nil, proxy.Direct)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, nil, fmt.Errorf("SOCKS5 dialer for %s does not support contexts", cfg.SocksAddr())
		}
		transport.DialContext = cd.DialContext
	}

	return &http.Client{Transport: transport}, transport, nil
}
