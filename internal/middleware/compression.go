package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const (
	encodingBrotli = "br"
	encodingGzip   = "gzip"

	// Levels picked for API payloads: fast enough to sit on every
	// response, still a large win over identity for JSON.
	brotliLevel = 4
	gzipLevel   = gzip.DefaultCompression
)

var (
	brotliPool = sync.Pool{
		New: func() any {
			return brotli.NewWriterLevel(io.Discard, brotliLevel)
		},
	}
	gzipPool = sync.Pool{
		New: func() any {
			zw, _ := gzip.NewWriterLevel(io.Discard, gzipLevel)
			return zw
		},
	}
)

// Compress negotiates response encoding from Accept-Encoding, preferring
// brotli over gzip. Websocket upgrades pass through untouched, and the
// compressor is only allocated once the handler writes a body, so 204
// and 304 responses stay empty on the wire.
func Compress(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Add("Vary", "Accept-Encoding")

		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		enc := acceptedEncoding(r)
		if enc == "" {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressWriter{ResponseWriter: w, encoding: enc}
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}

// acceptedEncoding picks the strongest encoding the client lists. Token
// matching only; q-values beyond outright omission are ignored.
func acceptedEncoding(r *http.Request) string {
	accept := r.Header.Get("Accept-Encoding")
	if accept == "" {
		return ""
	}
	var hasBr, hasGzip bool
	for _, part := range strings.Split(accept, ",") {
		token := strings.ToLower(strings.TrimSpace(part))
		if i := strings.IndexByte(token, ';'); i >= 0 {
			token = strings.TrimSpace(token[:i])
		}
		switch token {
		case encodingBrotli:
			hasBr = true
		case encodingGzip:
			hasGzip = true
		}
	}
	if hasBr {
		return encodingBrotli
	}
	if hasGzip {
		return encodingGzip
	}
	return ""
}

type compressWriter struct {
	http.ResponseWriter
	encoding    string
	comp        io.WriteCloser
	wroteHeader bool
	passthrough bool
}

func (w *compressWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	// Bodyless statuses and pre-encoded payloads go out as-is.
	if status == http.StatusNoContent || status == http.StatusNotModified ||
		w.Header().Get("Content-Encoding") != "" {
		w.passthrough = true
		w.ResponseWriter.WriteHeader(status)
		return
	}

	w.Header().Del("Content-Length")
	w.Header().Set("Content-Encoding", w.encoding)
	w.ResponseWriter.WriteHeader(status)
}

func (w *compressWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.passthrough {
		return w.ResponseWriter.Write(b)
	}
	if w.comp == nil {
		w.comp = w.newCompressor()
	}
	return w.comp.Write(b)
}

// Close flushes the compressor and returns it to its pool. No-op when
// the handler never wrote a body.
func (w *compressWriter) Close() error {
	if w.comp == nil {
		return nil
	}
	err := w.comp.Close()
	switch c := w.comp.(type) {
	case *brotli.Writer:
		brotliPool.Put(c)
	case *gzip.Writer:
		gzipPool.Put(c)
	}
	w.comp = nil
	return err
}

func (w *compressWriter) newCompressor() io.WriteCloser {
	if w.encoding == encodingBrotli {
		bw := brotliPool.Get().(*brotli.Writer)
		bw.Reset(w.ResponseWriter)
		return bw
	}
	zw := gzipPool.Get().(*gzip.Writer)
	zw.Reset(w.ResponseWriter)
	return zw
}
