package azure

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/yairfalse/instantiate/internal/credentials"
	"github.com/yairfalse/instantiate/internal/provider"
	"github.com/yairfalse/instantiate/internal/provider/restapi"
)

const managementScope = "https://management.azure.com/.default"

// tokenCache holds the last ARM access token per client id.
type tokenCache struct {
	mu       sync.Mutex
	clientID string
	token    string
	expires  time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// token exchanges client credentials for an ARM bearer token, reusing the
// cached one until a minute before expiry.
func (a *Adapter) token(ctx context.Context, c *credentials.Credentials) (string, error) {
	a.tokens.mu.Lock()
	defer a.tokens.mu.Unlock()

	now := a.now()
	if a.tokens.clientID == c.AccessKey && a.tokens.token != "" && now.Before(a.tokens.expires) {
		return a.tokens.token, nil
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.AccessKey},
		"client_secret": {c.SecretKey},
		"scope":         {managementScope},
	}
	login := restapi.New(provider.Azure, a.cfg.LoginURL)
	var out tokenResponse
	path := "/" + url.PathEscape(c.TenantID) + "/oauth2/v2.0/token"
	if err := login.DoRaw(ctx, http.MethodPost, path, nil, "application/x-www-form-urlencoded", []byte(form.Encode()), &out); err != nil {
		if restapi.StatusCode(err) >= 400 && restapi.StatusCode(err) < 500 {
			return "", provider.Wrap(provider.AuthenticationFailed, provider.Azure, "token", err)
		}
		return "", err
	}

	a.tokens.clientID = c.AccessKey
	a.tokens.token = out.AccessToken
	a.tokens.expires = now.Add(time.Duration(out.ExpiresIn)*time.Second - time.Minute)
	return out.AccessToken, nil
}
