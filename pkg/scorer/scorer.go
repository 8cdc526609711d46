// Package scorer ranks ready issues for assignment: a
// weighted sum of normalized priority, blocker-count, age, and label
// sub-scores, producing a 0-100 integer score.
package scorer

import (
	"sort"
	"time"

	"github.com/jedarden/forge/pkg/types"
)

const (
	priorityWeight = 0.40
	blockersWeight = 0.30
	ageWeight      = 0.20
	labelsWeight   = 0.10

	maxBlockers = 10.0
	maxAgeHours = 168.0
)

// Config carries the configured label boost set; the exact
// boost labels to deployment configuration.
type Config struct {
	BoostLabels map[string]struct{}
}

// DefaultConfig returns the commonly cited boost set.
func DefaultConfig() Config {
	return Config{BoostLabels: map[string]struct{}{"security": {}, "critical": {}}}
}

// Scored pairs an issue with its computed score.
type Scored struct {
	Issue types.Issue
	Score int
}

// Score computes issue's 0-100 score at the given instant.
func Score(cfg Config, issue types.Issue, now time.Time) int {
	prioritySub := (4.0 - clampPriority(issue.Priority)) / 4.0

	blockersSub := min(float64(issue.DependentCount), maxBlockers) / maxBlockers

	ageHours := now.Sub(issue.CreatedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	ageSub := min(ageHours, maxAgeHours) / maxAgeHours

	labelsSub := 0.0
	if hasBoostLabel(cfg, issue.Labels) {
		labelsSub = 1.0
	}

	weighted := priorityWeight*prioritySub + blockersWeight*blockersSub + ageWeight*ageSub + labelsWeight*labelsSub
	return int(weighted*100 + 0.5)
}

func clampPriority(p int) float64 {
	if p < 0 {
		return 0
	}
	if p > 4 {
		return 4
	}
	return float64(p)
}

func hasBoostLabel(cfg Config, labels []string) bool {
	for _, l := range labels {
		if _, ok := cfg.BoostLabels[l]; ok {
			return true
		}
	}
	return false
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Rank scores every issue and sorts descending by score, breaking ties by
// lower priority number then earlier created_at.
func Rank(cfg Config, issues []types.Issue, now time.Time) []Scored {
	out := make([]Scored, len(issues))
	for i, iss := range issues {
		out[i] = Scored{Issue: iss, Score: Score(cfg, iss, now)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Issue.Priority != out[j].Issue.Priority {
			return out[i].Issue.Priority < out[j].Issue.Priority
		}
		return out[i].Issue.CreatedAt.Before(out[j].Issue.CreatedAt)
	})
	return out
}
