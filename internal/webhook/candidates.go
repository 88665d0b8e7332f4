package webhook

import (
	"net/http"
	"net/url"
)

// candidateURLs builds the small set of URL variants a signature is tried
// against: as-received, and rewritten with whatever proxy scheme/host the
// request carries, plus the service's own configured public base URL. A
// reverse proxy terminates TLS and rewrites Host before this handler ever
// sees the request, so the provider's signer may have used any of these.
func candidateURLs(r *http.Request, publicBaseURL string) []string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	host := r.Host
	path := r.URL.RequestURI()

	seen := map[string]struct{}{}
	var out []string
	add := func(s string) {
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	add(scheme + "://" + host + path)

	fwdProto := r.Header.Get("X-Forwarded-Proto")
	fwdHost := r.Header.Get("X-Forwarded-Host")
	if fwdProto != "" {
		add(fwdProto + "://" + host + path)
	}
	if fwdHost != "" {
		s := scheme
		if fwdProto != "" {
			s = fwdProto
		}
		add(s + "://" + fwdHost + path)
	}

	if publicBaseURL != "" {
		if u, err := url.Parse(publicBaseURL); err == nil && u.Host != "" {
			add(u.Scheme + "://" + u.Host + path)
		}
	}

	return out
}
