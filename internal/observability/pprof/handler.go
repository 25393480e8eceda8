package pprof

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	logx "vice/pkg/logx"
)

// StatusFunc builds the document served at /status. It is called from
// HTTP handler goroutines.
type StatusFunc func() any

func newHandler(cfg Config, status StatusFunc, log logx.Logger) http.Handler {
	prefix := normalizePrefix(cfg.Prefix)
	base := strings.TrimSuffix(prefix, "/")

	routes := map[string]http.HandlerFunc{
		"/healthz":         func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) },
		"/status":          statusHandler(status, log),
		prefix:             indexAt(prefix),
		base + "/cmdline":  hpprof.Cmdline,
		base + "/profile":  hpprof.Profile,
		base + "/symbol":   hpprof.Symbol,
		base + "/trace":    hpprof.Trace,
	}

	mux := http.NewServeMux()
	for pattern, h := range routes {
		mux.Handle(pattern, requireToken(cfg.Token, h))
	}
	mux.Handle(base, http.RedirectHandler(prefix, http.StatusPermanentRedirect))
	return mux
}

func statusHandler(status StatusFunc, log logx.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if status == nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status()); err != nil {
			log.Warn("status encode failed", logx.Err(err))
		}
	}
}

// requireToken accepts the token as "?token=" or as a Bearer credential.
// A query token, when present, is the only one checked.
func requireToken(token string, next http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	if len(want) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := r.URL.Query().Get("token")
		if got == "" {
			if bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
				got = strings.TrimSpace(bearer)
			}
		}
		if got == "" || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			w.Header().Set("WWW-Authenticate", "Bearer")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// indexAt serves pprof.Index under prefix. Index resolves profile names
// relative to /debug/pprof/, so the path is rewritten first.
func indexAt(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = defaultPrefix + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	}
}
