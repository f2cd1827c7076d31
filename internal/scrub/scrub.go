// Package scrub removes secrets from context content before it reaches a
// model prompt or a cache entry. Detection uses the Gitleaks ruleset;
// matches are replaced with markers that keep enough shape for the text to
// stay useful.
package scrub

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/logging"
)

// finding is one detected secret with its location.
type finding struct {
	ruleID   string
	line     int
	startCol int
	endCol   int
	match    string
}

// Result reports what a scrub pass did.
type Result struct {
	Content  string
	Redacted int
	RuleHits map[string]int
}

// Scrubber scans text with a shared Gitleaks detector. Safe for concurrent
// use; the detector itself is read-only after construction.
type Scrubber struct {
	detector *detect.Detector
	log      *logging.Logger
}

// New builds a scrubber with the default Gitleaks ruleset.
func New(log *logging.Logger) (*Scrubber, error) {
	if log == nil {
		log = logging.NewNop()
	}
	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building secret detector: %w", err)
	}
	return &Scrubber{detector: detector, log: log}, nil
}

// Scrub replaces every detected secret in content with a
// [REDACTED:rule-id:preview] marker. Content without secrets is returned
// unchanged.
func (s *Scrubber) Scrub(content string) Result {
	raw := s.detector.DetectString(content)
	if len(raw) == 0 {
		return Result{Content: content}
	}

	findings := make([]finding, 0, len(raw))
	hits := make(map[string]int, len(raw))
	for _, f := range raw {
		findings = append(findings, finding{
			ruleID:   f.RuleID,
			line:     f.StartLine,
			startCol: f.StartColumn,
			endCol:   f.EndColumn,
			match:    f.Secret,
		})
		hits[f.RuleID]++
	}

	return Result{
		Content:  replaceFindings(content, findings),
		Redacted: len(findings),
		RuleHits: hits,
	}
}

// replaceFindings rewrites content with markers, walking findings from the
// end so earlier indices stay valid. Gitleaks reports StartLine zero-based
// but columns one-based with an inclusive end, so the line indexes directly
// while the columns shift by one.
func replaceFindings(content string, findings []finding) string {
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].line != findings[j].line {
			return findings[i].line > findings[j].line
		}
		return findings[i].startCol > findings[j].startCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range findings {
		if f.line < 0 || f.line >= len(lines) {
			continue
		}
		line := lines[f.line]
		if f.startCol < 1 || f.endCol > len(line) || f.startCol > f.endCol {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.ruleID, preview(f.match, 4))
		lines[f.line] = line[:f.startCol-1] + marker + line[f.endCol:]
	}
	return strings.Join(lines, "\n")
}

// preview keeps the first n characters so a human can tell which credential
// was redacted without exposing it.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// LogResult emits a structured record when anything was redacted.
func (s *Scrubber) LogResult(ctx context.Context, r Result, itemID string) {
	if r.Redacted == 0 {
		return
	}
	s.log.Warn(ctx, "secrets redacted from context item",
		zap.String("item_id", itemID),
		zap.Int("count", r.Redacted),
	)
}
