package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

// DefaultCORSPolicy is the policy for the clinic front office calling the scheduling API.
func DefaultCORSPolicy(origins []string) CORSPolicy {
	return CORSPolicy{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", RequestIDHeader},
		MaxAge:         10 * time.Minute,
	}
}

type corsRules struct {
	anyOrigin   bool
	origins     map[string]bool
	credentials bool
	fixed       map[string]string
}

func compileCORS(p CORSPolicy) corsRules {
	rules := corsRules{origins: map[string]bool{}, credentials: p.AllowCredentials, fixed: map[string]string{}}
	for _, o := range p.AllowedOrigins {
		switch o = strings.ToLower(strings.TrimSpace(o)); o {
		case "":
		case "*":
			rules.anyOrigin = true
		default:
			rules.origins[o] = true
		}
	}
	if v := joinTrimmed(p.AllowedMethods); v != "" {
		rules.fixed["Access-Control-Allow-Methods"] = v
	}
	if v := joinTrimmed(p.AllowedHeaders); v != "" {
		rules.fixed["Access-Control-Allow-Headers"] = v
	}
	if secs := int(p.MaxAge / time.Second); secs > 0 {
		rules.fixed["Access-Control-Max-Age"] = strconv.Itoa(secs)
	}
	if p.AllowCredentials {
		rules.fixed["Access-Control-Allow-Credentials"] = "true"
	}
	return rules
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin. A wildcard is
// echoed back as the concrete origin when credentials are allowed.
func (c corsRules) allowOrigin(origin string) (string, bool) {
	if c.origins[strings.ToLower(origin)] {
		return origin, true
	}
	if c.anyOrigin {
		if c.credentials {
			return origin, true
		}
		return "*", true
	}
	return "", false
}

func joinTrimmed(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}

// WithCORS answers preflights and decorates responses for allowed origins. With no
// allowed origins it does nothing.
func WithCORS(p CORSPolicy) Middleware {
	rules := compileCORS(p)
	if !rules.anyOrigin && len(rules.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			allowed, ok := rules.allowOrigin(origin)
			if origin == "" || !ok {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowed)
			for k, v := range rules.fixed {
				h.Set(k, v)
			}
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
