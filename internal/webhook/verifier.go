package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader is the header the provider sends its request signature in.
const SignatureHeader = "X-Provider-Signature"

// BodySHA256Param is the query parameter a JSON-bodied request must carry so
// the signer can attest to a body it never directly signs (§6).
const BodySHA256Param = "bodySHA256"

// Verifier checks a webhook request's signature against the provider's
// shared auth token. It tries each of a small set of URL variants because a
// reverse proxy can rewrite scheme/host between the provider and this
// service, and the signer used whichever URL it actually dialed.
type Verifier struct {
	authToken string
	skip      bool
}

// NewVerifier builds a Verifier. skip disables the check entirely (tests
// only, gated by config).
func NewVerifier(authToken string, skip bool) *Verifier {
	return &Verifier{authToken: authToken, skip: skip}
}

// Verify reports whether signature is valid for body against any of
// candidateURLs. form is the parsed form body (nil/empty for JSON payloads).
// bodySHA256 is the value of the bodySHA256 query parameter, if present.
func (v *Verifier) Verify(candidateURLs []string, isJSON bool, body []byte, form url.Values, bodySHA256 string, signature string) bool {
	if v.skip {
		return true
	}
	if signature == "" || v.authToken == "" {
		return false
	}

	for _, candidate := range candidateURLs {
		var expected string
		if isJSON {
			sum := sha256.Sum256(body)
			if !constantTimeEqual(hex.EncodeToString(sum[:]), bodySHA256) {
				continue
			}
			expected = signURL(v.authToken, candidate)
		} else {
			expected = signForm(v.authToken, candidate, form)
		}
		if constantTimeEqual(expected, signature) {
			return true
		}
	}
	return false
}

// signForm computes HMAC-SHA1(authToken, url || concat(sorted k,v)) base64.
func signForm(authToken, rawURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(rawURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// signURL computes HMAC-SHA1(authToken, url) base64, used for JSON payloads
// where the signature covers only the URL (the bodySHA256 param attests to
// the body instead).
func signURL(authToken, rawURL string) string {
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(rawURL))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
