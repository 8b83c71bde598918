package internal

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/sebest/xff"
)

// RemoteXRealIP sets the X-Real-Ip header to the request's real IP if
// the setting is enabled by the user.
func RemoteXRealIP(useRemoteAddress bool, bindNetwork string, next http.Handler) http.Handler {
	if !useRemoteAddress {
		slog.Debug("skipping middleware, useRemoteAddress is empty")
		return next
	}

	if bindNetwork == "unix" {
		// For local sockets there is no real remote address but the localhost
		// address should be sensible.
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Set("X-Real-Ip", "127.0.0.1")
			next.ServeHTTP(w, r)
		})
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			slog.Debug("can't split remote address", "remote_addr", r.RemoteAddr, "err", err)
			next.ServeHTTP(w, r)
			return
		}
		r.Header.Set("X-Real-Ip", host)
		next.ServeHTTP(w, r)
	})
}

// XForwardedForToXRealIP sets X-Real-Ip from X-Forwarded-For when the proxy
// in front of the service did not set it. The first public address in the
// chain wins; when the chain only holds private addresses its first entry is
// used instead.
func XForwardedForToXRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		xffHeader := r.Header.Get("X-Forwarded-For")
		if r.Header.Get("X-Real-Ip") != "" || xffHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		ip := xff.Parse(xffHeader)
		if ip == "" {
			first, _, _ := strings.Cut(xffHeader, ",")
			ip = strings.TrimSpace(first)
		}

		slog.Debug("setting x-real-ip", "val", ip)
		r.Header.Set("X-Real-Ip", ip)
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the address rate limits and logs should be keyed on, or
// "unknown" when no middleware could determine one.
func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Real-Ip"); ip != "" {
		return ip
	}

	return "unknown"
}
