package metaadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
)

// GraphTokenExchanger implements TokenExchanger against the Graph API's
// short-lived-code-for-long-lived-token endpoint, the same
// net/http-and-url.Values request shape Client.FetchInsights uses rather
// than a platform SDK.
type GraphTokenExchanger struct {
	AppID       string
	AppSecret   string
	RedirectURI string
	HTTP        *http.Client
	BaseURL     string
}

// NewGraphTokenExchanger constructs a GraphTokenExchanger, defaulting
// BaseURL to the platform's OAuth token endpoint when empty.
func NewGraphTokenExchanger(appID, appSecret, redirectURI string) *GraphTokenExchanger {
	return &GraphTokenExchanger{
		AppID: appID, AppSecret: appSecret, RedirectURI: redirectURI,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		BaseURL: "https://graph.facebook.com/v19.0/oauth/access_token",
	}
}

func (g *GraphTokenExchanger) Exchange(ctx context.Context, code string) (accountID string, longLivedToken string, err error) {
	q := url.Values{}
	q.Set("client_id", g.AppID)
	q.Set("client_secret", g.AppSecret)
	q.Set("redirect_uri", g.RedirectURI)
	q.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.BaseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", "", err
	}
	resp, err := g.HTTP.Do(req)
	if err != nil {
		return "", "", apierrors.Transport(err, "metaadapter: exchange oauth code")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", "", apierrors.Transport(fmt.Errorf("status %d: %s", resp.StatusCode, raw), "metaadapter: exchange oauth code")
	}

	var body struct {
		AccessToken string `json:"access_token"`
		UserID      string `json:"user_id"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return "", "", apierrors.Transport(err, "metaadapter: decode token exchange response")
	}
	if body.AccessToken == "" {
		return "", "", apierrors.Transport(fmt.Errorf("empty access_token in response"), "metaadapter: exchange oauth code")
	}
	return body.UserID, body.AccessToken, nil
}
