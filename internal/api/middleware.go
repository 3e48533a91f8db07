/**
 * @description
 * This file contains custom middleware for the HTTP router. Middlewares are used
 * to process requests before they reach the final handler, perfect for tasks like
 * authentication, logging, or adding context to a request.
 *
 * @dependencies
 * - crypto/subtle, net/http, strings: Standard Go libraries.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalAPIKeyMiddleware guards member-facing endpoints that are only
// reachable through the SACCO's trusted frontend backend. Requests must carry
// the shared key in the X-Internal-Api-Key header. Provider webhook endpoints
// are mounted outside this middleware since M-Pesa cannot send custom headers.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := []byte(strings.TrimSpace(apiKey))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				http.Error(w, "Internal API key is not configured", http.StatusServiceUnavailable)
				return
			}

			presented := []byte(strings.TrimSpace(r.Header.Get("X-Internal-Api-Key")))
			if subtle.ConstantTimeCompare(expected, presented) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
