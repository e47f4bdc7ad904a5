package metaadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/insights"
)

// Level is the aggregation level fetchInsights reports at.
type Level string

const (
	LevelAd       Level = "ad"
	LevelAdSet    Level = "adset"
	LevelCampaign Level = "campaign"
)

// graphInsightRow is the shape a real Graph API insights response row
// would take; kept minimal since no live SDK is wired in this repo.
type graphInsightRow struct {
	AdID        string `json:"ad_id"`
	DateStart   string `json:"date_start"`
	Impressions string `json:"impressions"`
	Clicks      string `json:"clicks"`
	Spend       string `json:"spend"`
	Actions     []struct {
		ActionType string `json:"action_type"`
		Value      string `json:"value"`
	} `json:"actions"`
}

// Client implements insights.PlatformPuller for one tenant's ad account,
// resolving its bearer token through the opaque tokenRef indirection in
// OAuthManager rather than holding token material itself.
type Client struct {
	oauth    *OAuthManager
	tenantID string
	level    Level
	http     *http.Client
	baseURL  string
}

// NewClient constructs a per-tenant, per-pull Client. baseURL defaults to
// the platform's Graph API root when empty.
func NewClient(oauth *OAuthManager, tenantID string, level Level, httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = "https://graph.facebook.com/v19.0"
	}
	return &Client{oauth: oauth, tenantID: tenantID, level: level, http: httpClient, baseURL: baseURL}
}

var _ insights.PlatformPuller = (*Client)(nil)

// FetchInsights implements insights.PlatformPuller, satisfying C15's
// fetchInsights(connectionId, dateRange, level) contract with the date
// range expressed as since/until and level fixed at construction.
func (c *Client) FetchInsights(ctx context.Context, connectionID string, since, until time.Time) ([]insights.InsightRow, error) {
	token, err := c.oauth.resolveToken(ctx, c.tenantID, connectionID)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s/insights", c.baseURL, url.PathEscape(connectionID))
	q := url.Values{}
	q.Set("level", string(c.level))
	q.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`, since.Format("2006-01-02"), until.Format("2006-01-02")))
	q.Set("fields", "ad_id,date_start,impressions,clicks,spend,actions")
	q.Set("access_token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apierrors.Transport(err, "metaadapter: fetch insights")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apierrors.Transport(fmt.Errorf("status %d", resp.StatusCode), "metaadapter: fetch insights")
	}

	var body struct {
		Data []graphInsightRow `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, apierrors.Transport(err, "metaadapter: decode insights response")
	}

	rows := make([]insights.InsightRow, 0, len(body.Data))
	for _, r := range body.Data {
		hour, err := time.Parse("2006-01-02", r.DateStart)
		if err != nil {
			continue
		}
		row := insights.InsightRow{AdBundleID: r.AdID, Hour: hour}
		row.Impressions, _ = strconv.ParseInt(r.Impressions, 10, 64)
		row.Clicks, _ = strconv.ParseInt(r.Clicks, 10, 64)
		row.Spend, _ = strconv.ParseFloat(r.Spend, 64)
		for _, a := range r.Actions {
			if a.ActionType == "offsite_conversion.fb_pixel_lead" || a.ActionType == "lead" {
				n, _ := strconv.ParseInt(a.Value, 10, 64)
				row.Conversions += n
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// EntitySpec is the minimal payload the auto-mode create calls accept;
// field names mirror what the publish manifest already carries so a
// caller can pass an AdBundle straight through.
type EntitySpec struct {
	Name       string
	CampaignID string
	AdSetID    string
	CreativeID string
	Payload    map[string]any
}

// CreateCampaign, CreateAdSet, CreateAd and CreateCreative are the
// auto-mode entity-creation calls §4.14 names. They are thin wrappers
// returning an opaque platform entity id; actual Graph API wiring is
// intentionally left to the caller's Level/endpoint configuration since
// no live credentials exist in this repo.
func (c *Client) CreateCampaign(ctx context.Context, connectionID string, spec EntitySpec) (string, error) {
	return c.createEntity(ctx, connectionID, "campaigns", spec)
}

func (c *Client) CreateAdSet(ctx context.Context, connectionID string, spec EntitySpec) (string, error) {
	return c.createEntity(ctx, connectionID, "adsets", spec)
}

func (c *Client) CreateAd(ctx context.Context, connectionID string, spec EntitySpec) (string, error) {
	return c.createEntity(ctx, connectionID, "ads", spec)
}

func (c *Client) CreateCreative(ctx context.Context, connectionID string, spec EntitySpec) (string, error) {
	return c.createEntity(ctx, connectionID, "adcreatives", spec)
}

func (c *Client) createEntity(ctx context.Context, connectionID, edge string, spec EntitySpec) (string, error) {
	token, err := c.oauth.resolveToken(ctx, c.tenantID, connectionID)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("access_token", token)
	form.Set("name", spec.Name)
	for k, v := range spec.Payload {
		form.Set(k, fmt.Sprintf("%v", v))
	}
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, url.PathEscape(connectionID), edge)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.URL.RawQuery = form.Encode()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", apierrors.Transport(err, "metaadapter: create %s", edge)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", apierrors.Transport(fmt.Errorf("status %d", resp.StatusCode), "metaadapter: create %s", edge)
	}
	var out struct {
		ID string `json:"id"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", apierrors.Transport(err, "metaadapter: decode create-%s response", edge)
	}
	return out.ID, nil
}
