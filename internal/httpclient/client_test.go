package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New(Options{Timeout: 30 * time.Second, BlockPrivateIP: true})
	assert.Equal(t, 30*time.Second, c.Timeout)
	assert.Equal(t, 10, c.maxRedirects)
	assert.Equal(t, []string{"http", "https"}, c.schemes)
	assert.True(t, c.blockPrivateIP)
}

func TestValidateURL(t *testing.T) {
	strict := New(Options{BlockPrivateIP: true})
	open := New(Options{})

	tests := []struct {
		name        string
		client      *Client
		url         string
		errContains string
	}{
		{"https", strict, "https://api.openai.com/v1", ""},
		{"http", strict, "http://example.com", ""},
		{"file scheme", strict, "file:///etc/passwd", "scheme"},
		{"gopher scheme", open, "gopher://example.com", "scheme"},
		{"credentials", strict, "http://user:pw@example.com", "credentials"},
		{"localhost", strict, "http://localhost:11434", "localhost"},
		{"sub localhost", strict, "http://api.localhost", "localhost"},
		{"loopback", strict, "http://127.0.0.1:16686", "private"},
		{"rfc1918", strict, "http://10.1.2.3", "private"},
		{"ipv6 loopback", strict, "http://[::1]:8080", "private"},
		{"missing host", strict, "http:///path", "hostname"},
		{"open allows localhost", open, "http://localhost:16686/api/traces", ""},
		{"open allows private", open, "http://192.168.1.10", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.ValidateURL(tt.url)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestIsPrivate(t *testing.T) {
	tests := map[string]bool{
		"10.0.0.1":        true,
		"172.16.5.4":      true,
		"172.32.0.1":      false,
		"192.168.0.1":     true,
		"127.0.0.1":       true,
		"169.254.169.254": true,
		"100.64.0.1":      true,
		"8.8.8.8":         false,
		"::1":             true,
		"fe80::1":         true,
		"fd00::1":         true,
		"::ffff:10.0.0.1": true,
		"2001:db8::1":     true,
		"2606:4700::1111": false,
	}
	for addr, want := range tests {
		assert.Equal(t, want, IsPrivate(netip.MustParseAddr(addr)), addr)
	}
}

func TestDoBlocksPrivateDestinations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := New(Options{BlockPrivateIP: true}).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request blocked")

	resp, err := Wrap(srv.Client()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMaxRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/again", http.StatusFound)
	}))
	defer srv.Close()

	_, err := New(Options{MaxRedirects: 2}).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}
