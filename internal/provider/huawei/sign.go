package huawei

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

const (
	signAlgorithm = "SDK-HMAC-SHA256"
	dateHeader    = "X-Sdk-Date"
	dateLayout    = "20060102T150405Z"
)

// akskSigner signs requests with the API Gateway AK/SK scheme.
type akskSigner struct {
	accessKey string
	secret    string
	now       func() time.Time
}

func (s *akskSigner) sign(req *http.Request, body []byte) error {
	date := s.now().UTC().Format(dateLayout)
	req.Header.Set(dateHeader, date)

	headers := map[string]string{
		"host":       req.Host,
		"x-sdk-date": date,
	}
	if ct := req.Header.Get("Content-Type"); ct != "" {
		headers["content-type"] = ct
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var canonicalHeaders strings.Builder
	for _, name := range names {
		canonicalHeaders.WriteString(name + ":" + strings.TrimSpace(headers[name]) + "\n")
	}
	signedHeaders := strings.Join(names, ";")

	path := req.URL.EscapedPath()
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		path,
		canonicalQuery(req.URL.Query()),
		canonicalHeaders.String(),
		signedHeaders,
		hexSHA256(body),
	}, "\n")

	stringToSign := signAlgorithm + "\n" + date + "\n" + hexSHA256([]byte(canonicalRequest))
	mac := hmac.New(sha256.New, []byte(s.secret))
	mac.Write([]byte(stringToSign))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", signAlgorithm+" Access="+s.accessKey+", SignedHeaders="+signedHeaders+", Signature="+signature)
	return nil
}

func canonicalQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, escape(k)+"="+escape(v))
		}
	}
	return strings.Join(parts, "&")
}

func escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
