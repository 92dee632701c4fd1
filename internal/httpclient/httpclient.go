// Package httpclient builds the outbound HTTP clients used by officeagent.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

const defaultTimeout = 60 * time.Second

// New returns an HTTP client with its own connection pool. Each outbound
// service (Lexoffice, Anthropic, Bot Framework connector, attachment
// downloads) gets a separate client so their timeouts and pools stay
// independent. A non-positive timeout selects the 60 second default.
func New(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
