// Package transport builds the HTTP round trippers used for outbound calls to
// the remote cart service.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Browser fingerprints accepted by Options.Fingerprint.
const (
	FingerprintNone    = ""
	FingerprintChrome  = "chrome"
	FingerprintFirefox = "firefox"
	FingerprintSafari  = "safari"
)

// Options configures New.
type Options struct {
	// Fingerprint selects a browser TLS ClientHello. Empty uses Go's own TLS stack.
	Fingerprint string

	// DialTimeout bounds TCP connect plus TLS handshake. Zero means 10s.
	DialTimeout time.Duration

	// InsecureSkipVerify disables certificate checks. Tests only.
	InsecureSkipVerify bool
}

// New returns a RoundTripper for the remote service.
//
// Some cart backends sit behind CDNs that rate limit by JA3 fingerprint, and
// Go's TLS ClientHello is easy to spot. With a Fingerprint set, connections are
// dialed through uTLS presenting that browser's hello, ALPN picks h2 or
// http/1.1, and x/net/http2 does the framing when h2 wins.
func New(opts Options) (http.RoundTripper, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 10 * time.Second
	}
	dialer := &net.Dialer{Timeout: opts.DialTimeout}

	if opts.Fingerprint == FingerprintNone {
		return &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         dialer.DialContext,
			TLSHandshakeTimeout: opts.DialTimeout,
			TLSClientConfig:     &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify},
			ForceAttemptHTTP2:   true,
			MaxIdleConnsPerHost: 10,
		}, nil
	}

	hello, err := helloFor(opts.Fingerprint)
	if err != nil {
		return nil, err
	}
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		return dialFingerprinted(ctx, dialer, network, addr, hello, opts.InsecureSkipVerify)
	}

	return &fingerprintTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				conn, err := dial(ctx, network, addr)
				if err != nil {
					return nil, &dialError{err: err}
				}
				if proto := conn.(*utls.UConn).ConnectionState().NegotiatedProtocol; proto != http2.NextProtoTLS {
					conn.Close()
					return nil, &dialError{err: fmt.Errorf("%w (negotiated %q)", errNoH2, proto)}
				}
				return conn, nil
			},
		},
		h1: &http.Transport{
			DialTLSContext:    dial,
			ForceAttemptHTTP2: false,
		},
	}, nil
}

func helloFor(name string) (utls.ClientHelloID, error) {
	switch strings.ToLower(name) {
	case FingerprintChrome:
		return utls.HelloChrome_Auto, nil
	case FingerprintFirefox:
		return utls.HelloFirefox_Auto, nil
	case FingerprintSafari:
		return utls.HelloSafari_Auto, nil
	default:
		return utls.ClientHelloID{}, fmt.Errorf("unknown TLS fingerprint %q", name)
	}
}

var errNoH2 = errors.New("server did not negotiate h2")

// dialError marks a failure that happened while connecting, before any part
// of the request was sent.
type dialError struct {
	err error
}

func (e *dialError) Error() string { return e.err.Error() }
func (e *dialError) Unwrap() error { return e.err }

// fingerprintTransport tries HTTP/2 first and falls back to HTTP/1.1 for
// servers that do not negotiate h2. The fallback only happens when the h2
// attempt failed while connecting; once a request may have reached the
// server it is never sent again.
type fingerprintTransport struct {
	h2 *http2.Transport
	h1 *http.Transport
}

func (t *fingerprintTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.h1.RoundTrip(req)
	}
	resp, err := t.h2.RoundTrip(req)
	if err == nil {
		return resp, nil
	}
	var dErr *dialError
	if !errors.As(err, &dErr) {
		return nil, err
	}
	// A consumed body cannot be replayed on the fallback.
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		return nil, err
	}
	if req.GetBody != nil {
		body, berr := req.GetBody()
		if berr != nil {
			return nil, err
		}
		req = req.Clone(req.Context())
		req.Body = body
	}
	return t.h1.RoundTrip(req)
}

func dialFingerprinted(ctx context.Context, dialer *net.Dialer, network, addr string, hello utls.ClientHelloID, insecure bool) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: insecure,
	}, hello)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake: %w", err)
	}
	return tlsConn, nil
}
