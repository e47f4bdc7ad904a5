// Package planner implements the variant & next-run planner (C7):
// parsing the fixed/explore granularity document and generating a child
// run from a source run, copying locked elements byte-identical and
// respecting explore caps, with a diff log recording every decision.
// A pure planning pass that reads current state and proposes a plan
// object, separate from the dispatcher that carries it out.
package planner

import (
	"encoding/json"
	"fmt"

	"github.com/abtestlab/controlplane/internal/apierrors"
)

// IntentLock is the intent-level fixed-granularity policy.
type IntentLock struct {
	LockIntentIDs []string `json:"lockIntentIds"`
}

// LpLock is the landing-page fixed-granularity policy.
type LpLock struct {
	LockStructure  bool     `json:"lockStructure"`
	LockTheme      bool     `json:"lockTheme"`
	LockBlocks     []string `json:"lockBlocks"`
	LockCopyPaths  []string `json:"lockCopyPaths"`
}

// BannerLock is the creative fixed-granularity policy.
type BannerLock struct {
	LockTemplate    bool     `json:"lockTemplate"`
	LockImageLayout bool     `json:"lockImageLayout"`
	LockTextLayers  bool     `json:"lockTextLayers"`
	LockSizes       []string `json:"lockSizes"`
}

// AdCopyLock is the ad-copy fixed-granularity policy.
type AdCopyLock struct {
	LockPrimaryText bool `json:"lockPrimaryText"`
	LockHeadline    bool `json:"lockHeadline"`
	LockDescription bool `json:"lockDescription"`
}

// Fixed bundles the four element-level lock policies.
type Fixed struct {
	Intent  IntentLock `json:"intent"`
	LP      LpLock     `json:"lp"`
	Banner  BannerLock `json:"banner"`
	AdCopy  AdCopyLock `json:"adCopy"`
}

// IntentExplore bounds intent-level exploration in a child run.
type IntentExplore struct {
	MaxNewIntents        int  `json:"maxNewIntents"`
	AllowReplaceIntents  bool `json:"allowReplaceIntents"`
}

// LpExplore bounds landing-page exploration.
type LpExplore struct {
	MaxNewFVCopies     int  `json:"maxNewFvCopies"`
	MaxNewCTACopies    int  `json:"maxNewCtaCopies"`
	AllowBlockReorder  bool `json:"allowBlockReorder"`
}

// BannerExplore bounds creative exploration.
type BannerExplore struct {
	MaxNewTextVariants int  `json:"maxNewTextVariants"`
	AllowNewTemplates  bool `json:"allowNewTemplates"`
}

// Explore bundles the three element-level exploration caps.
type Explore struct {
	Intent IntentExplore `json:"intent"`
	LP     LpExplore     `json:"lp"`
	Banner BannerExplore `json:"banner"`
}

// Document is the parsed fixed/explore granularity document of §4.6.
type Document struct {
	Fixed   Fixed   `json:"fixed"`
	Explore Explore `json:"explore"`
}

// Parse decodes a raw fixed-granularity JSON document.
func Parse(raw []byte) (Document, error) {
	if len(raw) == 0 {
		return Document{}, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Document{}, apierrors.InvalidRequest("invalid fixed-granularity document: %v", err)
	}
	return doc, nil
}

// ChangeType enumerates the kinds of change a diff entry can record.
type ChangeType string

const (
	ChangeUnchanged ChangeType = "unchanged"
	ChangeModified  ChangeType = "modified"
	ChangeAdded     ChangeType = "added"
	ChangeRemoved   ChangeType = "removed"
)

// DiffEntry is one line of the generateNextRun diff log.
type DiffEntry struct {
	Element    string     `json:"element"`
	ChangeType ChangeType `json:"changeType"`
	Details    string     `json:"details"`
}

func diff(element string, ct ChangeType, format string, args ...any) DiffEntry {
	return DiffEntry{Element: element, ChangeType: ct, Details: fmt.Sprintf(format, args...)}
}
