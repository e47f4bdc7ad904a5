// Package publish implements the publish pipeline (C8): deterministic
// UTM-tagged ad bundle construction and the immutable snapshot manifest.
// Bundle formation and UTM/manifest building are pure functions of
// already-approved content; the Pipeline type wraps them with the
// repository and object-store calls needed to persist a Deployment.
package publish

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/abtestlab/controlplane/internal/apierrors"
	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/ident"
	"github.com/abtestlab/controlplane/internal/repo"
	"github.com/klauspost/compress/gzip"
)

// ObjectStore is the minimal content-addressed blob store the manifest is
// written to. Concrete implementations (S3, GCS, local disk) live outside
// the core.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
}

// ContentKey concatenates the four variant ids, the building block of both
// the UTM content parameter and the AdBundle uniqueness check.
func ContentKey(intentID, lpID, creativeID, adCopyID string) string {
	return fmt.Sprintf("%s_%s_%s_%s", intentID, lpID, creativeID, adCopyID)
}

// UTMPolicy controls the UTM template; the zero value is the default
// template.
type UTMPolicy struct {
	Source      string
	Medium      string
	CampaignKey string
}

// DefaultUTMPolicy fills in the default source/medium when a run carries
// no explicit policy.
func DefaultUTMPolicy(campaignKey string) UTMPolicy {
	return UTMPolicy{Source: "facebook", Medium: "cpc", CampaignKey: campaignKey}
}

// BuildUTM constructs the deterministic UTM query string for a bundle,
// following a fixed field order (source, medium, campaign, content)
// rather than url.Values.Encode's alphabetical ordering. It is pure and
// stable: identical inputs always yield an identical string.
func BuildUTM(policy UTMPolicy, contentKey string) string {
	return fmt.Sprintf(
		"utm_source=%s&utm_medium=%s&utm_campaign=%s&utm_content=%s",
		url.QueryEscape(policy.Source),
		url.QueryEscape(policy.Medium),
		url.QueryEscape(policy.CampaignKey),
		url.QueryEscape(contentKey),
	)
}

// TrackingURL appends the UTM string to the LP's published URL.
func TrackingURL(publishedURL, utmString string) string {
	if strings.Contains(publishedURL, "?") {
		return publishedURL + "&" + utmString
	}
	return publishedURL + "?" + utmString
}

// BundleInput groups everything needed to form one AdBundle.
type BundleInput struct {
	Intent   *domain.Intent
	Lp       *domain.LpVariant
	Creative *domain.CreativeVariant
	AdCopy   *domain.AdCopy
}

// ApprovedHashTriple is stored on the manifest for one intent.
type ApprovedHashTriple struct {
	LP       string `json:"lp"`
	Creative string `json:"creative"`
	AdCopy   string `json:"adCopy"`
}

// ManifestIntent is one intent entry in the snapshot manifest.
type ManifestIntent struct {
	ID             string             `json:"id"`
	ApprovedHashes ApprovedHashTriple `json:"approvedHashes"`
}

// ManifestBundle is one bundle entry in the snapshot manifest.
type ManifestBundle struct {
	ID          string `json:"id"`
	UTMString   string `json:"utmString"`
	TrackingURL string `json:"trackingUrl"`
}

// Manifest is the immutable document enumerating one deployment, per
// §6's Snapshot manifest format.
type Manifest struct {
	Version   string           `json:"version"`
	Timestamp string           `json:"timestamp"`
	RunID     string           `json:"runId"`
	Intents   []ManifestIntent `json:"intents"`
	AdBundles []ManifestBundle `json:"adBundles"`
}

// Pipeline orchestrates publish/rollback against the repository layer.
type Pipeline struct {
	repos  *repo.Repos
	store  ObjectStore
	ids    *ident.Monotonic
}

// NewPipeline constructs a Pipeline.
func NewPipeline(repos *repo.Repos, store ObjectStore) *Pipeline {
	return &Pipeline{repos: repos, store: store, ids: ident.NewMonotonic()}
}

// Publish runs the five-step sequence of §4.7 for the given run: collect
// eligible intents, form bundles, derive tracking URLs, write a snapshot
// manifest, and create a published Deployment.
func (p *Pipeline) Publish(ctx context.Context, tenantID, runID string, policy UTMPolicy) (*domain.Deployment, error) {
	intents, err := p.repos.Intents.ListActiveByRun(ctx, tenantID, runID)
	if err != nil {
		return nil, fmt.Errorf("publish: list active intents: %w", err)
	}

	var manifestIntents []ManifestIntent
	var manifestBundles []ManifestBundle
	var bundlesToCreate []*domain.AdBundle

	for _, intent := range intents {
		lps, err := p.repos.LpVariants.ListByIntent(ctx, tenantID, intent.ID)
		if err != nil {
			return nil, fmt.Errorf("publish: list lp variants: %w", err)
		}
		creatives, err := p.repos.Creatives.ListByIntent(ctx, tenantID, intent.ID)
		if err != nil {
			return nil, fmt.Errorf("publish: list creatives: %w", err)
		}
		adCopies, err := p.repos.AdCopies.ListByIntent(ctx, tenantID, intent.ID)
		if err != nil {
			return nil, fmt.Errorf("publish: list ad copies: %w", err)
		}

		lp := firstApproved(lps)
		if lp == nil {
			continue
		}
		approvedCreatives := approvedOnly(creatives)
		approvedCopies := approvedAdCopies(adCopies)
		if len(approvedCreatives) == 0 || len(approvedCopies) == 0 {
			continue
		}

		for _, cr := range approvedCreatives {
			for _, ac := range approvedCopies {
				contentKey := ContentKey(intent.ID, lp.ID, cr.ID, ac.ID)
				utm := BuildUTM(policy, contentKey)
				tracking := TrackingURL(lp.PublishedURL, utm)

				existing, err := p.repos.AdBundles.FindByContentKey(ctx, tenantID, runID, contentKey)
				if err != nil {
					return nil, fmt.Errorf("publish: lookup existing bundle: %w", err)
				}

				var bundleID string
				if existing != nil {
					bundleID = existing.ID
					if existing.Status != domain.BundleReady {
						if err := p.repos.AdBundles.UpdateStatus(ctx, tenantID, bundleID, domain.BundleReady); err != nil {
							return nil, fmt.Errorf("publish: reactivate archived bundle: %w", err)
						}
					}
				} else {
					id, err := p.ids.New(ident.Now())
					if err != nil {
						return nil, fmt.Errorf("publish: generate bundle id: %w", err)
					}
					bundleID = id
					bundlesToCreate = append(bundlesToCreate, &domain.AdBundle{
						ID:                bundleID,
						RunID:             runID,
						TenantID:          tenantID,
						IntentID:          intent.ID,
						LpVariantID:       lp.ID,
						CreativeVariantID: cr.ID,
						AdCopyID:          ac.ID,
						UTMString:         utm,
						TrackingURL:       tracking,
						Status:            domain.BundleReady,
						CreatedAt:         ident.Now(),
					})
				}

				manifestBundles = append(manifestBundles, ManifestBundle{ID: bundleID, UTMString: utm, TrackingURL: tracking})
			}
		}

		manifestIntents = append(manifestIntents, ManifestIntent{
			ID: intent.ID,
			ApprovedHashes: ApprovedHashTriple{
				LP:       lp.ApprovedHash,
				Creative: approvedCreatives[0].ApprovedHash,
				AdCopy:   approvedCopies[0].ApprovedHash,
			},
		})
	}

	if len(manifestBundles) == 0 {
		return nil, apierrors.InvalidRequest("publish: no intent has a complete set of approved lp, creative, and ad copy variants")
	}

	for _, b := range bundlesToCreate {
		if err := p.repos.AdBundles.Create(ctx, b); err != nil {
			return nil, fmt.Errorf("publish: create ad bundle: %w", err)
		}
	}

	now := ident.Now()
	manifest := Manifest{
		Version:   "1",
		Timestamp: now.Format(time.RFC3339),
		RunID:     runID,
		Intents:   manifestIntents,
		AdBundles: manifestBundles,
	}
	manifestKey, err := p.writeManifest(ctx, runID, manifest)
	if err != nil {
		return nil, err
	}

	depID, err := p.ids.New(now)
	if err != nil {
		return nil, fmt.Errorf("publish: generate deployment id: %w", err)
	}
	urls := make([]string, 0, len(manifestBundles))
	for _, b := range manifestBundles {
		urls = append(urls, b.TrackingURL)
	}
	deployment := &domain.Deployment{
		ID:          depID,
		RunID:       runID,
		TenantID:    tenantID,
		ManifestKey: manifestKey,
		URLs:        urls,
		Status:      domain.DeploymentPublished,
		CreatedAt:   now,
	}
	if err := p.repos.Deployments.Create(ctx, deployment); err != nil {
		return nil, fmt.Errorf("publish: create deployment: %w", err)
	}

	return deployment, nil
}

// writeManifest serializes the manifest to JSON, gzip-compresses it, and
// stores it under a content-addressed key (sha256 of the compressed
// bytes). The manifest carries its creation timestamp, so two publishes
// of otherwise identical content get different keys.
func (p *Pipeline) writeManifest(ctx context.Context, runID string, m Manifest) (string, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("publish: marshal manifest: %w", err)
	}

	var buf strings.Builder
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return "", fmt.Errorf("publish: gzip manifest: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("publish: close gzip writer: %w", err)
	}
	compressed := []byte(buf.String())

	sum := sha256.Sum256(compressed)
	key := fmt.Sprintf("manifests/%s/%s.json.gz", runID, hex.EncodeToString(sum[:]))

	if err := p.store.Put(ctx, key, compressed); err != nil {
		return "", fmt.Errorf("publish: put manifest object: %w", err)
	}
	return key, nil
}

// Rollback flips the run's current deployment to rolled_back and archives
// its ad bundles, per §4.7: a subsequent publish creates a new
// Deployment rather than resurrecting this one.
func (p *Pipeline) Rollback(ctx context.Context, tenantID, runID string) error {
	dep, err := p.repos.Deployments.GetLatestForRun(ctx, tenantID, runID)
	if err != nil {
		return fmt.Errorf("publish: get latest deployment: %w", err)
	}
	if dep == nil {
		return apierrors.InvalidRequest("publish: run has no deployment to roll back")
	}
	if err := p.repos.Deployments.UpdateStatus(ctx, tenantID, dep.ID, domain.DeploymentRolledBack); err != nil {
		return fmt.Errorf("publish: update deployment status: %w", err)
	}

	bundles, err := p.repos.AdBundles.ListByRun(ctx, tenantID, runID)
	if err != nil {
		return fmt.Errorf("publish: list bundles: %w", err)
	}
	for _, b := range bundles {
		if err := p.repos.AdBundles.UpdateStatus(ctx, tenantID, b.ID, domain.BundleArchived); err != nil {
			return fmt.Errorf("publish: archive bundle %s: %w", b.ID, err)
		}
	}
	return nil
}

func firstApproved(lps []*domain.LpVariant) *domain.LpVariant {
	for _, v := range lps {
		if v.Status == domain.ApprovalApproved {
			return v
		}
	}
	return nil
}

func approvedOnly(crs []*domain.CreativeVariant) []*domain.CreativeVariant {
	var out []*domain.CreativeVariant
	for _, v := range crs {
		if v.Status == domain.ApprovalApproved {
			out = append(out, v)
		}
	}
	return out
}

func approvedAdCopies(acs []*domain.AdCopy) []*domain.AdCopy {
	var out []*domain.AdCopy
	for _, v := range acs {
		if v.Status == domain.ApprovalApproved {
			out = append(out, v)
		}
	}
	return out
}
