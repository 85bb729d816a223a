// transport.go builds the HTTP/1.1 dispatch path (the counterpart to
// h2.go's HTTP/2 path), grounded on client/client.go's buildTransport: same
// pool-sizing knobs (MaxIdleConns/MaxIdleConnsPerHost/MaxConnsPerHost),
// generalized to read the bound from spec.md §6's pool_max_idle_per_host /
// pool_idle_timeout instead of the teacher's fixed defaultTransport values.
package connector

import (
	"context"
	"net"
	"net/http"
	"time"
)

// H1Config groups the tunables for NewH1Transport.
type H1Config struct {
	PoolMaxIdlePerHost int
	PoolIdleTimeout    time.Duration
	TCPNoDelay         bool
	InsecureSkipVerify bool
	ConnectOptions     Options
}

// NewH1Transport returns an *http.Transport dialing plain or TLS
// connections via the shared connect machinery in connector.go, sized per
// client/client.go's pool defaults (MaxIdleConns 500, MaxIdleConnsPerHost
// 100, MaxConnsPerHost 200) unless cfg overrides them.
func NewH1Transport(cfg H1Config) *http.Transport {
	maxIdlePerHost := cfg.PoolMaxIdlePerHost
	if maxIdlePerHost <= 0 {
		maxIdlePerHost = 100
	}
	idleTimeout := cfg.PoolIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 90 * time.Second
	}

	opts := cfg.ConnectOptions
	opts.TCPNoDelay = cfg.TCPNoDelay
	opts.InsecureSkipVerify = cfg.InsecureSkipVerify

	return &http.Transport{
		DisableKeepAlives:   false,
		MaxIdleConns:        500,
		MaxIdleConnsPerHost: maxIdlePerHost,
		MaxConnsPerHost:     200,
		IdleConnTimeout:     idleTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := &net.Dialer{LocalAddr: opts.LocalAddr}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			applyNoDelay(conn, opts.TCPNoDelay)
			return conn, nil
		},
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			d := &net.Dialer{LocalAddr: opts.LocalAddr}
			raw, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			applyNoDelay(raw, opts.TCPNoDelay)
			conn, _, err := wrapTLS(ctx, raw, host, opts)
			if err != nil {
				_ = raw.Close()
				return nil, err
			}
			return conn, nil
		},
	}
}
