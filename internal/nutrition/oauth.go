package nutrition

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Signer produces one-legged OAuth 1.0 HMAC-SHA1 signatures carried in the
// query string. There is no token, so the signing key is "secret&".
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string

	// Overridable for tests.
	Now   func() time.Time
	Nonce func() string
}

// NewSigner creates a Signer using the wall clock and random nonces.
func NewSigner(key, secret string) *Signer {
	return &Signer{
		ConsumerKey:    key,
		ConsumerSecret: secret,
		Now:            time.Now,
		Nonce: func() string {
			return strings.ReplaceAll(uuid.NewString(), "-", "")
		},
	}
}

// Sign returns a copy of params extended with the oauth_* parameters and
// the oauth_signature for a request to baseURL.
func (s *Signer) Sign(method, baseURL string, params url.Values) url.Values {
	signed := make(url.Values, len(params)+6)
	for k, v := range params {
		signed[k] = append([]string(nil), v...)
	}
	signed.Set("oauth_consumer_key", s.ConsumerKey)
	signed.Set("oauth_nonce", s.Nonce())
	signed.Set("oauth_signature_method", "HMAC-SHA1")
	signed.Set("oauth_timestamp", strconv.FormatInt(s.Now().Unix(), 10))
	signed.Set("oauth_version", "1.0")

	signed.Set("oauth_signature", s.Signature(method, baseURL, signed))
	return signed
}

// Signature computes base64(HMAC-SHA1(secret&, base string)).
func (s *Signer) Signature(method, baseURL string, params url.Values) string {
	key := percentEncode(s.ConsumerSecret) + "&"
	h := hmac.New(sha1.New, []byte(key))
	h.Write([]byte(SignatureBaseString(method, baseURL, params)))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// SignatureBaseString is METHOD&enc(URL)&enc(normalized params), where the
// parameters are percent-encoded, sorted by name then value, and joined
// with '&'. Any existing oauth_signature is excluded.
func SignatureBaseString(method, baseURL string, params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		if k == "oauth_signature" {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}

	return strings.ToUpper(method) + "&" +
		percentEncode(baseURL) + "&" +
		percentEncode(strings.Join(encoded, "&"))
}

// percentEncode implements RFC 3986 encoding: only unreserved characters
// are left as is.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte("0123456789ABCDEF"[c>>4])
		b.WriteByte("0123456789ABCDEF"[c&15])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	return 'A' <= c && c <= 'Z' ||
		'a' <= c && c <= 'z' ||
		'0' <= c && c <= '9' ||
		c == '-' || c == '.' || c == '_' || c == '~'
}
