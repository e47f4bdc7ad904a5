// Package insights implements metric ingestion and combination (C10):
// the platform-pull adapter contract, manual CSV import with idempotent
// upsert, and the combined per-run metrics view that blends insight
// rollups with first-party event counts. A narrow-interface,
// upsert-via-conflict-handling repository pattern applied to ad-bundle
// daily rollups, plus the event-count side of the combined view.
package insights

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo"
)

// InsightRow is one platform-pulled ad-level insight record, already
// mapped from a platform ad id to a local bundle id by the caller.
type InsightRow struct {
	AdBundleID  string
	Hour        time.Time
	Impressions int64
	Clicks      int64
	Spend       float64
	Conversions int64
}

// PlatformPuller is the adapter contract C15's Meta integration fulfils;
// kept here as the consumer-side interface so the insights package has
// no import-time dependency on any specific ad platform SDK.
type PlatformPuller interface {
	FetchInsights(ctx context.Context, connectionID string, since, until time.Time) ([]InsightRow, error)
}

// Puller pulls platform insights and stores them with source=meta.
type Puller struct {
	insights repo.InsightRepo
	source   PlatformPuller
}

// NewPuller constructs a Puller.
func NewPuller(insights repo.InsightRepo, source PlatformPuller) *Puller {
	return &Puller{insights: insights, source: source}
}

// Pull fetches and stores insights for a date range, always overwriting
// (platform data is authoritative over any prior platform pull).
func (p *Puller) Pull(ctx context.Context, tenantID, connectionID string, since, until time.Time) (int, error) {
	rows, err := p.source.FetchInsights(ctx, connectionID, since, until)
	if err != nil {
		return 0, fmt.Errorf("insights: fetch platform insights: %w", err)
	}
	stored := 0
	for _, r := range rows {
		hourly := &domain.InsightHourly{
			AdBundleID:  r.AdBundleID,
			TenantID:    tenantID,
			Hour:        r.Hour,
			Impressions: r.Impressions,
			Clicks:      r.Clicks,
			Spend:       r.Spend,
			Conversions: r.Conversions,
			Source:      domain.InsightMeta,
		}
		if err := p.insights.UpsertHourly(ctx, hourly); err != nil {
			return stored, fmt.Errorf("insights: upsert hourly for bundle %s: %w", r.AdBundleID, err)
		}
		daily := &domain.InsightDaily{
			AdBundleID:  r.AdBundleID,
			TenantID:    tenantID,
			Day:         r.Hour.Truncate(24 * time.Hour),
			Impressions: r.Impressions,
			Clicks:      r.Clicks,
			Spend:       r.Spend,
			Conversions: r.Conversions,
			Source:      domain.InsightMeta,
		}
		if _, err := p.insights.UpsertDaily(ctx, daily, true); err != nil {
			return stored, fmt.Errorf("insights: upsert daily for bundle %s: %w", r.AdBundleID, err)
		}
		stored++
	}
	return stored, nil
}

// requiredColumns are the case-insensitive CSV headers required by §4.9,
// less the ad_bundle_id/utm_content pair, which is an either-or.
var requiredColumns = []string{"date", "impressions", "clicks", "spend"}

// BundleResolver maps a CSV row's bundle identifier (either an explicit
// ad_bundle_id or a utm_content content key) to a stored AdBundle.
type BundleResolver interface {
	ResolveBundle(ctx context.Context, tenantID, runID, adBundleID, utmContent string) (*domain.AdBundle, error)
}

// repoBundleResolver is the default BundleResolver backed by repo.AdBundleRepo.
type repoBundleResolver struct {
	bundles repo.AdBundleRepo
}

// NewRepoBundleResolver constructs the default BundleResolver.
func NewRepoBundleResolver(bundles repo.AdBundleRepo) BundleResolver {
	return &repoBundleResolver{bundles: bundles}
}

func (r *repoBundleResolver) ResolveBundle(ctx context.Context, tenantID, runID, adBundleID, utmContent string) (*domain.AdBundle, error) {
	if adBundleID != "" {
		return r.bundles.Get(ctx, tenantID, adBundleID)
	}
	if utmContent != "" {
		return r.bundles.FindByContentKey(ctx, tenantID, runID, utmContent)
	}
	return nil, apierrors.InvalidRequest("row has neither ad_bundle_id nor utm_content")
}

// BlobStore persists the raw CSV under an opaque, content-addressed key.
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// ImportResult is the §4.9 manual-import summary.
type ImportResult struct {
	RecordsImported int      `json:"recordsImported"`
	RecordsSkipped  int      `json:"recordsSkipped"`
	RecordsFailed   int      `json:"recordsFailed"`
	Errors          []string `json:"errors,omitempty"`
	BlobKey         string   `json:"blobKey"`
}

// Importer performs the manual CSV import of §4.9.
type Importer struct {
	insights repo.InsightRepo
	resolve  BundleResolver
	blobs    BlobStore
}

// NewImporter constructs an Importer.
func NewImporter(insights repo.InsightRepo, resolve BundleResolver, blobs BlobStore) *Importer {
	return &Importer{insights: insights, resolve: resolve, blobs: blobs}
}

// ImportCSV parses raw CSV bytes per the header contract of §4.9 and
// §7, resolving each row's bundle, and upserting an InsightDaily row per
// line. overwrite controls conflict handling: true replaces an existing
// row for the same (bundle, day), false counts it as skipped instead.
func (imp *Importer) ImportCSV(ctx context.Context, tenantID, runID string, raw []byte, overwrite bool, blobKeyPrefix string) (ImportResult, error) {
	var res ImportResult

	key := fmt.Sprintf("%s/%s.csv", strings.TrimSuffix(blobKeyPrefix, "/"), runID)
	if imp.blobs != nil {
		if err := imp.blobs.Put(ctx, key, raw); err != nil {
			return res, fmt.Errorf("insights: store raw csv: %w", err)
		}
	}
	res.BlobKey = key

	r := csv.NewReader(bufio.NewReader(strings.NewReader(string(raw))))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return res, apierrors.InvalidRequest("empty or unreadable CSV: %v", err)
	}
	cols, err := indexColumns(header)
	if err != nil {
		return res, err
	}

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			res.RecordsFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("malformed row: %v", err))
			continue
		}

		daily, parseErr := parseRow(row, cols)
		if parseErr != nil {
			res.RecordsFailed++
			res.Errors = append(res.Errors, parseErr.Error())
			continue
		}

		bundle, err := imp.resolve.ResolveBundle(ctx, tenantID, runID, daily.adBundleID, daily.utmContent)
		if err != nil || bundle == nil {
			res.RecordsFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("row for %q: bundle not found", firstNonEmpty(daily.adBundleID, daily.utmContent)))
			continue
		}

		insight := &domain.InsightDaily{
			AdBundleID:  bundle.ID,
			TenantID:    tenantID,
			Day:         daily.day,
			Impressions: daily.impressions,
			Clicks:      daily.clicks,
			Spend:       daily.spend,
			Conversions: daily.conversions,
			Source:      domain.InsightManual,
		}
		skipped, err := imp.insights.UpsertDaily(ctx, insight, overwrite)
		if err != nil {
			res.RecordsFailed++
			res.Errors = append(res.Errors, fmt.Sprintf("upsert failed for bundle %s day %s: %v", bundle.ID, daily.day.Format("2006-01-02"), err))
			continue
		}
		if skipped {
			res.RecordsSkipped++
			continue
		}
		res.RecordsImported++
	}

	return res, nil
}

type parsedRow struct {
	day         time.Time
	adBundleID  string
	utmContent  string
	impressions int64
	clicks      int64
	spend       float64
	conversions int64
}

func indexColumns(header []string) (map[string]int, error) {
	cols := map[string]int{}
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, req := range requiredColumns {
		if _, ok := cols[req]; !ok {
			return nil, apierrors.InvalidRequest("csv missing required column %q", req)
		}
	}
	_, hasBundle := cols["ad_bundle_id"]
	_, hasUTM := cols["utm_content"]
	if !hasBundle && !hasUTM {
		return nil, apierrors.InvalidRequest("csv must include either ad_bundle_id or utm_content")
	}
	return cols, nil
}

func parseRow(row []string, cols map[string]int) (parsedRow, error) {
	var out parsedRow
	get := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	day, err := time.Parse("2006-01-02", get("date"))
	if err != nil {
		return out, fmt.Errorf("invalid date %q: %w", get("date"), err)
	}
	out.day = day
	out.adBundleID = get("ad_bundle_id")
	out.utmContent = get("utm_content")

	impressions, err := strconv.ParseInt(get("impressions"), 10, 64)
	if err != nil {
		return out, fmt.Errorf("invalid impressions %q: %w", get("impressions"), err)
	}
	out.impressions = impressions

	clicks, err := strconv.ParseInt(get("clicks"), 10, 64)
	if err != nil {
		return out, fmt.Errorf("invalid clicks %q: %w", get("clicks"), err)
	}
	out.clicks = clicks

	spend, err := strconv.ParseFloat(get("spend"), 64)
	if err != nil {
		return out, fmt.Errorf("invalid spend %q: %w", get("spend"), err)
	}
	out.spend = spend

	if convStr := get("conversions"); convStr != "" {
		conversions, err := strconv.ParseInt(convStr, 10, 64)
		if err != nil {
			return out, fmt.Errorf("invalid conversions %q: %w", convStr, err)
		}
		out.conversions = conversions
	}

	return out, nil
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// CombinedMetrics is the merged per-run view of §4.9: insight rollups
// plus event-derived counts, with derived CTR/CVR/CPA ratios.
type CombinedMetrics struct {
	Impressions int64
	Clicks      int64
	Spend       float64
	Conversions int64
	CTR         float64
	CVR         float64
	CPA         *float64
}

// Combine assembles a run's combined metrics from its stored insight
// rollups and its first-party event counts, approximating clicks with
// cta_click events and conversions with form_success events per §4.9.
func Combine(insightRows []*domain.InsightDaily, events []*domain.Event) CombinedMetrics {
	var m CombinedMetrics
	for _, r := range insightRows {
		m.Impressions += r.Impressions
		m.Clicks += r.Clicks
		m.Spend += r.Spend
		m.Conversions += r.Conversions
	}
	for _, e := range events {
		switch e.EventType {
		case domain.EventCTAClick:
			m.Clicks++
		case domain.EventFormSuccess:
			m.Conversions++
		}
	}

	if m.Impressions > 0 {
		m.CTR = float64(m.Clicks) / float64(m.Impressions)
	}
	if m.Clicks > 0 {
		m.CVR = float64(m.Conversions) / float64(m.Clicks)
	}
	if m.Conversions > 0 {
		cpa := m.Spend / float64(m.Conversions)
		m.CPA = &cpa
	}
	return m
}
