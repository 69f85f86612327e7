// Package httpclient provides the outbound HTTP client shared by the judge
// transport and the Jaeger integration. Requests are restricted to http(s)
// and, when enabled, to public addresses.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/pact/errors"
)

// Options configures a Client.
type Options struct {
	Timeout        time.Duration
	AllowedSchemes []string // default: http, https
	MaxRedirects   int      // default: 10
	// BlockPrivateIP rejects loopback, RFC 1918 and other non-routable
	// destinations. Local judges (Ollama) and Jaeger run on private
	// addresses, so callers opt in.
	BlockPrivateIP bool
}

// Client is an http.Client that validates every destination.
type Client struct {
	*http.Client
	schemes        []string
	maxRedirects   int
	blockPrivateIP bool
}

// New builds a client from opts.
func New(opts Options) *Client {
	c := &Client{
		Client:         &http.Client{Timeout: opts.Timeout},
		schemes:        opts.AllowedSchemes,
		maxRedirects:   opts.MaxRedirects,
		blockPrivateIP: opts.BlockPrivateIP,
	}
	if len(c.schemes) == 0 {
		c.schemes = []string{"http", "https"}
	}
	if c.maxRedirects <= 0 {
		c.maxRedirects = 10
	}
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= c.maxRedirects {
			return errors.Newf("stopped after %d redirects", c.maxRedirects)
		}
		if err := c.check(req.URL); err != nil {
			return errors.Wrap(err, "redirect blocked")
		}
		return nil
	}

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if c.blockPrivateIP {
		// Resolve before dialing so a public name cannot rebind to a private address.
		transport.Proxy = nil
		transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, errors.Wrap(err, "invalid address")
			}
			ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to resolve host %q", host)
			}
			for _, ip := range ips {
				if IsPrivate(ip) {
					return nil, errors.Newf("private IP address blocked: %s", ip)
				}
			}
			if len(ips) == 0 {
				return nil, errors.Newf("no addresses for host %q", host)
			}
			return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].String(), port))
		}
	}
	c.Transport = transport
	return c
}

// Wrap adopts an existing client (httptest servers) without address
// restrictions.
func Wrap(hc *http.Client) *Client {
	return &Client{Client: hc, schemes: []string{"http", "https"}, maxRedirects: 10}
}

// ValidateURL parses raw and checks it against the client's policy.
func (c *Client) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *Client) check(u *url.URL) error {
	scheme := strings.ToLower(u.Scheme)
	if !slices.Contains(c.schemes, scheme) {
		return errors.Newf("scheme %q not allowed (allowed: %v)", scheme, c.schemes)
	}
	if u.User != nil {
		return errors.New("URL carries credentials")
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("URL missing hostname")
	}
	if !c.blockPrivateIP {
		return nil
	}
	if isLocalhost(host) {
		return errors.New("localhost access blocked")
	}
	if ip, err := netip.ParseAddr(host); err == nil && IsPrivate(ip) {
		return errors.Newf("private IP address blocked: %s", host)
	}
	return nil
}

// Do validates the destination and sends req.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, errors.Wrap(err, "request blocked")
	}
	return c.Client.Do(req)
}

// Get issues a GET bound to ctx.
func (c *Client) Get(ctx context.Context, raw string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	return c.Do(req)
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fec0::/10"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// IsPrivate reports whether ip is loopback, link-local, multicast,
// unspecified or inside a private/reserved range.
func IsPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

func isLocalhost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost")
}
