package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForMedia wraps a compression middleware handler to skip
// compression for recording media responses. Transport-stream and MP4
// payloads are already compressed; re-encoding them wastes CPU and breaks
// range requests.
func SkipCompressionForMedia(compressionHandler func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressedHandler := compressionHandler(next)

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isMediaPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}
			compressedHandler.ServeHTTP(w, r)
		})
	}
}

func isMediaPath(path string) bool {
	if !strings.Contains(path, "/recordings/") {
		return false
	}
	return strings.HasSuffix(path, "/play") || strings.HasSuffix(path, "/download")
}
