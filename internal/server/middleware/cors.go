package middleware

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// OriginPolicy decides which browser origins may call the API. Origins are
// compared after trimming trailing slashes; patterns match case-insensitively.
type OriginPolicy struct {
	exact    map[string]bool
	any      bool
	patterns []*regexp.Regexp
}

// NewOriginPolicy compiles the allow-list. An empty policy (no origins and no
// patterns) allows every origin.
func NewOriginPolicy(origins, patterns []string) (*OriginPolicy, error) {
	p := &OriginPolicy{exact: make(map[string]bool, len(origins))}
	for _, o := range origins {
		o = normalizeOrigin(o)
		if o == "*" {
			p.any = true
			continue
		}
		if o != "" {
			p.exact[strings.ToLower(o)] = true
		}
	}
	for _, raw := range patterns {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("middleware: cors pattern %q: %w", raw, err)
		}
		p.patterns = append(p.patterns, re)
	}
	if len(p.exact) == 0 && len(p.patterns) == 0 {
		p.any = true
	}
	return p, nil
}

// Allowed reports whether origin may make cross-origin requests. A request
// without an Origin header is same-origin or non-browser and always allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	if origin == "" || p.any {
		return true
	}
	o := normalizeOrigin(origin)
	if p.exact[strings.ToLower(o)] {
		return true
	}
	for _, re := range p.patterns {
		if re.MatchString(o) {
			return true
		}
	}
	return false
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}

func normalizeOrigin(v string) string {
	return strings.TrimRight(strings.TrimSpace(v), "/")
}

// CORS returns middleware that sets CORS headers for origins the policy
// allows. Disallowed origins get no CORS headers, so the browser blocks the
// response without the server failing the request.
func CORS(policy *OriginPolicy) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && policy.Allowed(origin) {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
				h.Set("Access-Control-Max-Age", "86400")
				h.Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
