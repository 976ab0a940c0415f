package dashboard

import (
	"slices"
	"sort"

	"github.com/maatrinet/go-intake/internal/backend"
)

// Risk levels
const (
	RiskHigh   = "HIGH"
	RiskMedium = "MEDIUM"
	RiskLow    = "LOW"
)

// Patient list tabs
const (
	TabAll      = "all"
	TabHighRisk = "high-risk"
	TabOfftrack = "off-track"
)

var riskOrder = map[string]int{RiskHigh: 0, RiskMedium: 1, RiskLow: 2}

func rank(level string) int {
	if r, ok := riskOrder[level]; ok {
		return r
	}
	return riskOrder[RiskLow]
}

// SortByRisk returns the patients ordered by level, then by descending score.
// Unknown levels rank as LOW.
func SortByRisk(patients []backend.Patient) []backend.Patient {
	out := slices.Clone(patients)
	sort.SliceStable(out, func(i, j int) bool {
		if d := rank(out[i].Risk) - rank(out[j].Risk); d != 0 {
			return d < 0
		}
		return out[i].RiskScore > out[j].RiskScore
	})
	return out
}

// Filter applies a patient list tab.
func Filter(patients []backend.Patient, tab string) []backend.Patient {
	var out []backend.Patient
	for _, p := range patients {
		switch tab {
		case TabHighRisk:
			if p.Risk != RiskHigh {
				continue
			}
		case TabOfftrack:
			if !p.OfftrackHistory {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// GroupByRisk buckets patients by level, keeping their order.
func GroupByRisk(patients []backend.Patient) map[string][]backend.Patient {
	groups := make(map[string][]backend.Patient, len(riskOrder))
	for _, p := range patients {
		level := p.Risk
		if _, ok := riskOrder[level]; !ok {
			level = RiskLow
		}
		groups[level] = append(groups[level], p)
	}
	return groups
}

// Share is one level of a distribution.
type Share struct {
	Level   string  `json:"level"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Total sums a risk distribution.
func Total(dist map[string]int) int {
	n := 0
	for _, c := range dist {
		n += c
	}
	return n
}

// Distribution turns counts into shares in HIGH, MEDIUM, LOW order followed
// by any other levels sorted by name.
func Distribution(dist map[string]int) []Share {
	total := Total(dist)
	levels := make([]string, 0, len(dist))
	for level := range dist {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool {
		ri, iok := riskOrder[levels[i]]
		rj, jok := riskOrder[levels[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return levels[i] < levels[j]
		}
	})

	out := make([]Share, 0, len(levels))
	for _, level := range levels {
		s := Share{Level: level, Count: dist[level]}
		if total > 0 {
			s.Percent = float64(s.Count) * 100 / float64(total)
		}
		out = append(out, s)
	}
	return out
}
