package internal

import (
	"compress/gzip"
	"net/http"
	"strings"
)

// GzipMiddleware compresses responses for clients that advertise gzip support.
func GzipMiddleware(level int, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		gz, err := gzip.NewWriterLevel(w, level)
		if err != nil {
			// Only reachable with an invalid level, which is a programming error.
			panic(err)
		}
		defer gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Del("Content-Length")

		grw := gzipResponseWriter{ResponseWriter: w, sink: gz}
		next.ServeHTTP(grw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	sink *gzip.Writer
}

func (w gzipResponseWriter) Write(b []byte) (int, error) {
	return w.sink.Write(b)
}
