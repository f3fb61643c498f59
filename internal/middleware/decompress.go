package middleware

import (
	"compress/gzip"
	"log/slog"
	"net/http"

	"github.com/andybalholm/brotli"
)

// NewDecompressMiddleware transparently unpacks gzip- and brotli-encoded
// request bodies so handlers always read plain JSON.
func NewDecompressMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Header.Get("Content-Encoding") {
			case "gzip":
				reader, err := gzip.NewReader(r.Body)
				if err != nil {
					logger.Error("Invalid gzip request body", "error", err)
					http.Error(w, "invalid gzip request body", http.StatusBadRequest)

					return
				}

				r.Body = reader
				r.Header.Del("Content-Encoding")
				r.ContentLength = -1
			case "br":
				r.Body = brotliReadCloser{Reader: brotli.NewReader(r.Body), closer: r.Body}
				r.Header.Del("Content-Encoding")
				r.ContentLength = -1
			}

			next.ServeHTTP(w, r)
		})
	}
}

type brotliReadCloser struct {
	*brotli.Reader
	closer interface{ Close() error }
}

func (b brotliReadCloser) Close() error {
	return b.closer.Close()
}
