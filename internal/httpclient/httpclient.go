// Package httpclient builds the pooled HTTP clients used to reach AI providers.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Pool sizes the idle connection pool. Zero values take the defaults.
type Pool struct {
	MaxIdleConns        int // default: 100
	MaxIdleConnsPerHost int // default: 20
}

func (p Pool) withDefaults() Pool {
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = 100
	}
	if p.MaxIdleConnsPerHost <= 0 {
		p.MaxIdleConnsPerHost = 20
	}
	return p
}

// NewTransport returns a transport with dial and TLS timeouts. The overall
// deadline of a call comes from its request context.
func NewTransport(p Pool) *http.Transport {
	p = p.withDefaults()
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          p.MaxIdleConns,
		MaxIdleConnsPerHost:   p.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// New returns a client on NewTransport(p).
func New(p Pool) *http.Client {
	return &http.Client{Transport: NewTransport(p)}
}
