package alibaba

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// rpcSigner signs RPC-style requests: common parameters are added to the
// query, which is then canonicalized and signed with HMAC-SHA1.
type rpcSigner struct {
	accessKey string
	secret    string
	now       func() time.Time
	nonce     func() string
}

func newSigner(accessKey, secret string) *rpcSigner {
	return &rpcSigner{
		accessKey: accessKey,
		secret:    secret,
		now:       time.Now,
		nonce:     uuid.NewString,
	}
}

func (s *rpcSigner) sign(req *http.Request, _ []byte) error {
	q := req.URL.Query()
	q.Del("Signature")
	q.Set("Format", "JSON")
	q.Set("AccessKeyId", s.accessKey)
	q.Set("SignatureMethod", "HMAC-SHA1")
	q.Set("SignatureVersion", "1.0")
	q.Set("Timestamp", s.now().UTC().Format("2006-01-02T15:04:05Z"))
	q.Set("SignatureNonce", s.nonce())

	canonical := canonicalQuery(q)
	signature := signature(req.Method, canonical, s.secret)
	req.URL.RawQuery = canonical + "&Signature=" + percentEncode(signature)
	return nil
}

func signature(method, canonical, secret string) string {
	stringToSign := method + "&" + percentEncode("/") + "&" + percentEncode(canonical)
	mac := hmac.New(sha1.New, []byte(secret+"&"))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// canonicalQuery joins the parameters sorted by key, each side percent
// encoded.
func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+"="+percentEncode(q.Get(k)))
	}
	return strings.Join(parts, "&")
}

// percentEncode is RFC 3986 encoding as the RPC signature expects it.
func percentEncode(s string) string {
	e := url.QueryEscape(s)
	e = strings.ReplaceAll(e, "+", "%20")
	e = strings.ReplaceAll(e, "*", "%2A")
	e = strings.ReplaceAll(e, "%7E", "~")
	return e
}
