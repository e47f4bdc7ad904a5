// Package ingest implements first-party event intake (C9): structural
// validation, age-window rejection, dedup, UTM parsing/decomposition, and
// tenant/intent enrichment. A typed Event struct plus a narrow
// persistence interface, covering externally-submitted analytics events,
// with a batch-endpoint partial-success contract layered on top.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/repo"
)

// DedupWindowMs is the dedup horizon for (tenant, event_id) from §3.
const DedupWindowMs = 24 * 60 * 60 * 1000

// MaxEventAge and MaxEventSkew bound how far ts_ms may drift from now, per
// §4.8's age check.
const (
	MaxEventAge  = 7 * 24 * time.Hour
	MaxEventSkew = 5 * time.Minute
)

// MaxBatchSize is the batch endpoint's max events per request.
const MaxBatchSize = 100

// RawEvent is the wire shape accepted by the public event endpoints.
type RawEvent struct {
	V           int               `json:"v"`
	EventID     string            `json:"event_id"`
	TsMs        int64             `json:"ts_ms"`
	EventType   string            `json:"event_type"`
	SessionID   string            `json:"session_id"`
	RunID       string            `json:"run_id"`
	LpVariantID string            `json:"lp_variant_id"`
	PageURL     string            `json:"page_url"`
	Referrer    string            `json:"referrer,omitempty"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Meta        map[string]string `json:"meta,omitempty"`
}

var validEventTypes = map[string]bool{
	string(domain.EventPageview):    true,
	string(domain.EventCTAClick):    true,
	string(domain.EventFormSubmit):  true,
	string(domain.EventFormSuccess): true,
}

// validate performs the structural checks of §4.8 step 1.
func validate(e RawEvent) error {
	if e.V != 1 {
		return fmt.Errorf("unsupported protocol version %d", e.V)
	}
	if e.EventID == "" {
		return fmt.Errorf("missing event_id")
	}
	if e.TsMs <= 0 {
		return fmt.Errorf("missing or invalid ts_ms")
	}
	if !validEventTypes[e.EventType] {
		return fmt.Errorf("invalid event_type %q", e.EventType)
	}
	if e.SessionID == "" {
		return fmt.Errorf("missing session_id")
	}
	if e.RunID == "" {
		return fmt.Errorf("missing run_id")
	}
	if e.PageURL == "" {
		return fmt.Errorf("missing page_url")
	}
	return nil
}

// checkAge enforces the ±window of §4.8 step 2.
func checkAge(tsMs int64, now time.Time) error {
	eventTime := time.UnixMilli(tsMs)
	if now.Sub(eventTime) > MaxEventAge {
		return fmt.Errorf("event is older than 7 days")
	}
	if eventTime.Sub(now) > MaxEventSkew {
		return fmt.Errorf("event timestamp is more than 5 minutes in the future")
	}
	return nil
}

// ParsedUTM is the decomposed UTM query plus any content-key-derived ids.
type ParsedUTM struct {
	Source            string
	Medium            string
	Campaign          string
	Term              string
	Content           string
	AdBundleID        string
	CreativeVariantID string
	IntentID          string
}

// ParseUTM extracts recognised UTM keys from a page URL's query
// string and, when the content key matches the publish template
// intent_lp_creative_adcopy, fills IntentID and CreativeVariantID from
// it where the query did not already give them; the LP and ad-copy
// parts are not kept.
func ParseUTM(pageURL string) ParsedUTM {
	var out ParsedUTM
	u, err := url.Parse(pageURL)
	if err != nil {
		return out
	}
	q := u.Query()
	out.Source = q.Get("utm_source")
	out.Medium = q.Get("utm_medium")
	out.Campaign = q.Get("utm_campaign")
	out.Term = q.Get("utm_term")
	out.Content = q.Get("utm_content")
	out.AdBundleID = q.Get("ad_bundle_id")
	out.CreativeVariantID = q.Get("creative_variant_id")
	out.IntentID = q.Get("intent_id")

	if out.Content != "" {
		parts := strings.SplitN(out.Content, "_", 4)
		if len(parts) == 4 {
			if out.IntentID == "" {
				out.IntentID = parts[0]
			}
			if out.CreativeVariantID == "" {
				out.CreativeVariantID = parts[2]
			}
		}
	}
	return out
}

// Enricher resolves tenant/intent context and hashes client IPs.
type Enricher struct {
	runs   repo.RunRepo
	lps    repo.LpVariantRepo
	ipSalt string
}

// NewEnricher constructs an Enricher.
func NewEnricher(runs repo.RunRepo, lps repo.LpVariantRepo, ipSalt string) *Enricher {
	return &Enricher{runs: runs, lps: lps, ipSalt: ipSalt}
}

// Intake runs the full per-event pipeline of §4.8 against the repository
// layer. It returns (event, deduped, err): deduped=true with err=nil
// means the event was recognised as a duplicate and intentionally not
// persisted, not rejected.
type Intake struct {
	events repo.EventRepo
	enrich *Enricher
}

// NewIntake constructs an Intake.
func NewIntake(events repo.EventRepo, enrich *Enricher) *Intake {
	return &Intake{events: events, enrich: enrich}
}

func (in *Intake) One(ctx context.Context, raw RawEvent, clientIP string, now time.Time) (*domain.Event, bool, error) {
	if err := validate(raw); err != nil {
		return nil, false, apierrors.InvalidRequest("%v", err)
	}
	if err := checkAge(raw.TsMs, now); err != nil {
		return nil, false, apierrors.InvalidRequest("%v", err)
	}

	// Ingestion arrives with only a run_id, not a tenant id, so tenant is
	// resolved by looking the run up by id alone; every other step
	// re-scopes by the tenant id found here.
	run, err := in.enrich.runs.GetByID(ctx, raw.RunID)
	if err != nil {
		return nil, false, fmt.Errorf("ingest: look up run: %w", err)
	}
	if run == nil {
		return nil, false, apierrors.NotFound("run %s not found", raw.RunID)
	}
	tenantID := run.TenantID

	exists, err := in.events.ExistsWithinWindow(ctx, tenantID, raw.EventID, DedupWindowMs, now.UnixMilli())
	if err != nil {
		return nil, false, fmt.Errorf("ingest: check dedup: %w", err)
	}
	if exists {
		return nil, true, nil
	}

	utm := ParseUTM(raw.PageURL)
	intentID := utm.IntentID
	if intentID == "" && raw.LpVariantID != "" {
		if lp, err := in.enrich.lps.Get(ctx, tenantID, raw.LpVariantID); err == nil && lp != nil {
			intentID = lp.IntentID
		}
	}

	id, err := ident.New(now)
	if err != nil {
		return nil, false, fmt.Errorf("ingest: generate id: %w", err)
	}

	event := &domain.Event{
		ID:                id,
		TenantID:          tenantID,
		EventID:           raw.EventID,
		TsMs:              raw.TsMs,
		EventType:         domain.EventType(raw.EventType),
		SessionID:         raw.SessionID,
		RunID:             raw.RunID,
		LpVariantID:       raw.LpVariantID,
		PageURL:           raw.PageURL,
		Referrer:          raw.Referrer,
		UserAgent:         raw.UserAgent,
		Meta:              raw.Meta,
		AdBundleID:        utm.AdBundleID,
		CreativeVariantID: utm.CreativeVariantID,
		IntentID:          intentID,
		IPHash:            hashIP(in.enrich.ipSalt, clientIP),
		ReceivedAt:        now,
	}

	if err := in.events.Insert(ctx, event); err != nil {
		return nil, false, fmt.Errorf("ingest: insert event: %w", err)
	}
	return event, false, nil
}

func hashIP(salt, ip string) string {
	if ip == "" {
		return ""
	}
	h := sha256.Sum256([]byte("audit-ip-salt:" + salt + ip))
	return hex.EncodeToString(h[:])
}

// BatchResult is the §4.8 batch endpoint response shape.
type BatchResult struct {
	OK       bool              `json:"ok"`
	Ingested int               `json:"ingested"`
	Deduped  int               `json:"deduped"`
	Rejected int               `json:"rejected"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// Batch processes up to MaxBatchSize events, reporting partial success via
// counts rather than an error status, per §4.8 and §7's batch-endpoint
// policy.
func (in *Intake) Batch(ctx context.Context, raws []RawEvent, clientIP string, now time.Time) (BatchResult, error) {
	if len(raws) > MaxBatchSize {
		return BatchResult{}, apierrors.InvalidRequest("batch exceeds maximum of %d events", MaxBatchSize)
	}
	res := BatchResult{OK: true, Errors: map[string]string{}}
	for _, raw := range raws {
		_, deduped, err := in.One(ctx, raw, clientIP, now)
		switch {
		case err != nil:
			res.Rejected++
			key := raw.EventID
			if key == "" {
				key = "unknown"
			}
			res.Errors[key] = err.Error()
		case deduped:
			res.Deduped++
		default:
			res.Ingested++
		}
	}
	if len(res.Errors) == 0 {
		res.Errors = nil
	}
	return res, nil
}
