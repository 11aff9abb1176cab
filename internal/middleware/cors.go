// Package middleware provides HTTP middleware for the stub assistant.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CORSOptions is the cross-origin policy for the stub's chat routes.
type CORSOptions struct {
	// AllowedOrigins lists exact origins; "*" admits any origin without credentials.
	AllowedOrigins []string
	// AllowedMethods defaults to GET and POST, the verbs of /ws/chat and /chat.
	AllowedMethods []string
	// AllowedHeaders defaults to Content-Type.
	AllowedHeaders []string
	MaxAge         time.Duration
}

// CORS returns middleware applying opts. Preflights are answered here and
// never reach the router.
func CORS(opts CORSOptions) func(http.Handler) http.Handler {
	if len(opts.AllowedMethods) == 0 {
		opts.AllowedMethods = []string{http.MethodGet, http.MethodPost}
	}
	if len(opts.AllowedHeaders) == 0 {
		opts.AllowedHeaders = []string{"Content-Type"}
	}
	wildcard := slices.Contains(opts.AllowedOrigins, "*")
	methods := strings.Join(opts.AllowedMethods, ", ")
	headers := strings.Join(opts.AllowedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			explicit := slices.Contains(opts.AllowedOrigins, origin)
			if !explicit && !wildcard {
				if preflight {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			// Credentials are only granted to listed origins.
			if explicit {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			}

			if !preflight {
				next.ServeHTTP(w, r)
				return
			}
			if !slices.Contains(opts.AllowedMethods, r.Header.Get("Access-Control-Request-Method")) {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			if opts.MaxAge > 0 {
				w.Header().Set("Access-Control-Max-Age", strconv.Itoa(int(opts.MaxAge.Seconds())))
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
