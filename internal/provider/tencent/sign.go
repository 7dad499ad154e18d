package tencent

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const tc3Algorithm = "TC3-HMAC-SHA256"

// tc3Signer signs JSON POST requests with TC3-HMAC-SHA256.
type tc3Signer struct {
	secretID  string
	secretKey string
	service   string
	now       func() time.Time
}

func (s *tc3Signer) sign(req *http.Request, body []byte) error {
	now := s.now().UTC()
	timestamp := strconv.FormatInt(now.Unix(), 10)
	date := now.Format("2006-01-02")
	req.Header.Set("X-TC-Timestamp", timestamp)

	contentType := req.Header.Get("Content-Type")
	canonicalRequest := strings.Join([]string{
		req.Method,
		"/",
		req.URL.RawQuery,
		"content-type:" + contentType + "\nhost:" + req.Host + "\n",
		"content-type;host",
		hexSHA256(body),
	}, "\n")

	scope := date + "/" + s.service + "/tc3_request"
	stringToSign := tc3Algorithm + "\n" + timestamp + "\n" + scope + "\n" + hexSHA256([]byte(canonicalRequest))

	key := hmacSHA256([]byte("TC3"+s.secretKey), date)
	key = hmacSHA256(key, s.service)
	key = hmacSHA256(key, "tc3_request")
	signature := hex.EncodeToString(hmacSHA256(key, stringToSign))

	req.Header.Set("Authorization", tc3Algorithm+" Credential="+s.secretID+"/"+scope+", SignedHeaders=content-type;host, Signature="+signature)
	return nil
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func hexSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
