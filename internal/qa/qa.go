// Package qa implements the compliance check and pre-publish smoke test
// behind the features.qa flag, the /qa/check and /qa/smoke-test
// endpoints. Check scans every variant generated under a run against its
// project's NG-rules; SmokeTest verifies a run's ad bundles are
// structurally ready to publish. Check finds violations and reports
// them; nothing auto-blocks on them, since only a human reviewer or the
// launch guardrails in rbac make that call.
package qa

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/abtestlab/controlplane/internal/domain"
	"github.com/abtestlab/controlplane/internal/repo"
)

// Checker runs NG-rules compliance checks and publish smoke tests.
type Checker struct {
	repos *repo.Repos
}

// NewChecker constructs a Checker.
func NewChecker(repos *repo.Repos) *Checker {
	return &Checker{repos: repos}
}

// Violation names one NG-rule hit against one generated artifact.
type Violation struct {
	ArtifactType string `json:"artifactType"` // lp_variant, creative_variant, ad_copy
	ArtifactID   string `json:"artifactId"`
	IntentID     string `json:"intentId"`
	Rule         string `json:"rule"` // banned_term:<term> or regex:<pattern> or blocked_pattern:<pattern>
	Excerpt      string `json:"excerpt,omitempty"`
}

// CheckResult is the outcome of a compliance scan.
type CheckResult struct {
	RunID      string      `json:"runId"`
	Violations []Violation `json:"violations"`
	Clean      bool        `json:"clean"`
}

// Check scans every variant generated under every intent of runID against
// its project's NG-rules: banned terms, regex patterns, and blocked
// patterns fed back from resolved incidents.
func (c *Checker) Check(ctx context.Context, tenantID, runID string) (CheckResult, error) {
	run, err := c.repos.Runs.Get(ctx, tenantID, runID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("qa: get run: %w", err)
	}
	if run == nil {
		return CheckResult{}, fmt.Errorf("qa: run %s not found", runID)
	}
	project, err := c.repos.Projects.Get(ctx, tenantID, run.ProjectID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("qa: get project: %w", err)
	}

	compiled := make([]*regexp.Regexp, 0, len(project.NGRules.RegexPatterns))
	for _, p := range project.NGRules.RegexPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return CheckResult{}, fmt.Errorf("qa: compile ng-rule regex %q: %w", p, err)
		}
		compiled = append(compiled, re)
	}

	intents, err := c.repos.Intents.ListByRun(ctx, tenantID, runID)
	if err != nil {
		return CheckResult{}, fmt.Errorf("qa: list intents: %w", err)
	}

	var violations []Violation
	for _, in := range intents {
		lps, err := c.repos.LpVariants.ListByIntent(ctx, tenantID, in.ID)
		if err != nil {
			return CheckResult{}, fmt.Errorf("qa: list lp variants: %w", err)
		}
		for _, v := range lps {
			violations = append(violations, scanContent("lp_variant", v.ID, in.ID, v.Content, project.NGRules, compiled)...)
		}
		creatives, err := c.repos.Creatives.ListByIntent(ctx, tenantID, in.ID)
		if err != nil {
			return CheckResult{}, fmt.Errorf("qa: list creative variants: %w", err)
		}
		for _, v := range creatives {
			violations = append(violations, scanContent("creative_variant", v.ID, in.ID, v.Content, project.NGRules, compiled)...)
		}
		copies, err := c.repos.AdCopies.ListByIntent(ctx, tenantID, in.ID)
		if err != nil {
			return CheckResult{}, fmt.Errorf("qa: list ad copies: %w", err)
		}
		for _, v := range copies {
			violations = append(violations, scanContent("ad_copy", v.ID, in.ID, v.Content, project.NGRules, compiled)...)
		}
	}

	return CheckResult{RunID: runID, Violations: violations, Clean: len(violations) == 0}, nil
}

func scanContent(artifactType, artifactID, intentID, content string, rules domain.NGRules, compiled []*regexp.Regexp) []Violation {
	var out []Violation
	normalized := content
	if rules.Normalize.Lowercase {
		normalized = strings.ToLower(normalized)
	}
	for _, term := range rules.BannedTerms {
		needle := term
		if rules.Normalize.Lowercase {
			needle = strings.ToLower(needle)
		}
		if needle != "" && strings.Contains(normalized, needle) {
			out = append(out, Violation{
				ArtifactType: artifactType, ArtifactID: artifactID, IntentID: intentID,
				Rule: "banned_term:" + term, Excerpt: excerptAround(normalized, needle),
			})
		}
	}
	for i, re := range compiled {
		if loc := re.FindStringIndex(normalized); loc != nil {
			out = append(out, Violation{
				ArtifactType: artifactType, ArtifactID: artifactID, IntentID: intentID,
				Rule: "regex:" + rules.RegexPatterns[i], Excerpt: normalized[loc[0]:loc[1]],
			})
		}
	}
	for _, pattern := range rules.BlockedPatterns {
		needle := pattern
		if rules.Normalize.Lowercase {
			needle = strings.ToLower(needle)
		}
		if needle != "" && strings.Contains(normalized, needle) {
			out = append(out, Violation{
				ArtifactType: artifactType, ArtifactID: artifactID, IntentID: intentID,
				Rule: "blocked_pattern:" + pattern, Excerpt: excerptAround(normalized, needle),
			})
		}
	}
	return out
}

func excerptAround(content, needle string) string {
	const radius = 30
	idx := strings.Index(content, needle)
	if idx < 0 {
		return ""
	}
	start := idx - radius
	if start < 0 {
		start = 0
	}
	end := idx + len(needle) + radius
	if end > len(content) {
		end = len(content)
	}
	return content[start:end]
}

// SmokeIssue names one structural readiness problem found on a run.
type SmokeIssue struct {
	AdBundleID string `json:"adBundleId,omitempty"`
	Issue      string `json:"issue"`
}

// SmokeResult is the outcome of a pre-publish smoke test.
type SmokeResult struct {
	RunID  string       `json:"runId"`
	Issues []SmokeIssue `json:"issues"`
	Ready  bool         `json:"ready"`
}

// SmokeTest verifies every ad bundle on runID has a parseable tracking
// URL and a non-empty UTM string, and that its referenced LP variant is
// approved. It does not touch the network: it is a structural readiness
// check, not a live reachability probe.
func (c *Checker) SmokeTest(ctx context.Context, tenantID, runID string) (SmokeResult, error) {
	bundles, err := c.repos.AdBundles.ListByRun(ctx, tenantID, runID)
	if err != nil {
		return SmokeResult{}, fmt.Errorf("qa: list ad bundles: %w", err)
	}
	if len(bundles) == 0 {
		return SmokeResult{RunID: runID, Issues: []SmokeIssue{{Issue: "no ad bundles registered for run"}}}, nil
	}

	var issues []SmokeIssue
	for _, b := range bundles {
		if b.UTMString == "" {
			issues = append(issues, SmokeIssue{AdBundleID: b.ID, Issue: "missing utm string"})
		}
		if b.TrackingURL == "" {
			issues = append(issues, SmokeIssue{AdBundleID: b.ID, Issue: "missing tracking url"})
			continue
		}
		parsed, err := url.Parse(b.TrackingURL)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			issues = append(issues, SmokeIssue{AdBundleID: b.ID, Issue: "tracking url does not parse as an absolute URL"})
		}

		lp, err := c.repos.LpVariants.Get(ctx, tenantID, b.LpVariantID)
		if err != nil {
			return SmokeResult{}, fmt.Errorf("qa: get lp variant: %w", err)
		}
		if lp == nil {
			issues = append(issues, SmokeIssue{AdBundleID: b.ID, Issue: "referenced lp variant not found"})
			continue
		}
		if lp.Status != domain.ApprovalApproved {
			issues = append(issues, SmokeIssue{AdBundleID: b.ID, Issue: "lp variant is not approved"})
		}
		if lp.ContentHash != lp.ApprovedHash {
			issues = append(issues, SmokeIssue{AdBundleID: b.ID, Issue: "lp variant content has changed since approval"})
		}
	}

	return SmokeResult{RunID: runID, Issues: issues, Ready: len(issues) == 0}, nil
}
