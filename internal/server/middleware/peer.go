package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
)

type peerKey struct{}

// CapturePeer records the transport peer address. It must run before anything that
// rewrites RemoteAddr from proxy headers.
func CapturePeer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), peerKey{}, r.RemoteAddr)))
	})
}

// PeerAddr returns the address captured by CapturePeer, or RemoteAddr when it did not run.
func PeerAddr(r *http.Request) string {
	if addr, ok := r.Context().Value(peerKey{}).(string); ok {
		return addr
	}
	return r.RemoteAddr
}

// IsLoopback reports whether a host or host:port address is on the loopback interface.
func IsLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if host == "localhost" {
		return true
	}
	ip, err := netip.ParseAddr(host)
	return err == nil && ip.Unmap().IsLoopback()
}
