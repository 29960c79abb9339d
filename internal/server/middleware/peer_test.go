package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func TestIsLoopback(t *testing.T) {
	cases := []struct {
		addr string
		want bool
	}{
		{"127.0.0.1:8088", true},
		{"[::1]:8088", true},
		{"::ffff:127.0.0.1", true},
		{"localhost:80", true},
		{"192.0.2.1:1234", false},
		{"[2001:db8::1]:8088", false},
		{"", false},
		{"not an address:1234", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, IsLoopback(tc.addr), tc.addr)
	}
}

func TestCapturePeerSurvivesForwardedHeaders(t *testing.T) {
	var peer, remote string
	h := CapturePeer(chimw.RealIP(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		peer, remote = PeerAddr(r), r.RemoteAddr
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	req.Header.Set("X-Forwarded-For", "127.0.0.1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "192.0.2.1:1234", peer)
	assert.Equal(t, "127.0.0.1", remote)

	bare := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, bare.RemoteAddr, PeerAddr(bare))
}
