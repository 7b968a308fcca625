// Package compute derives deterministic aggregates, rankings and histograms
// from analysis results and the comparison population.
package compute

import (
	"math"
	"strconv"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// IssueNoneLabel replaces the "none" issue type in distributions.
const (
	IssueNoneLabel    = "No Issues"
	IssueUnknownLabel = "unknown"
)

// Round2 rounds to two decimals the way result documents store averages.
func Round2(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	rounded, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	if err != nil {
		return v
	}
	return rounded
}

// AvgHallucination is the mean hallucination score over every turn of every
// session, rounded to two decimals. It is 0 when there are no turns.
func AvgHallucination(sessions []dataset.Session) float64 {
	total, turns := 0, 0
	for _, session := range sessions {
		for _, turn := range session.Turns {
			total += turn.HallucinationScore
			turns++
		}
	}
	if turns == 0 {
		return 0
	}
	return Round2(float64(total) / float64(turns))
}

// AvgOverReliance is the mean session over-reliance score, rounded to two
// decimals. It is 0 when there are no sessions.
func AvgOverReliance(sessions []dataset.Session) float64 {
	if len(sessions) == 0 {
		return 0
	}
	total := 0
	for _, session := range sessions {
		total += session.OverRelianceScore
	}
	return Round2(float64(total) / float64(len(sessions)))
}

func sessionAvgHallucination(session dataset.Session) float64 {
	if len(session.Turns) == 0 {
		return 0
	}
	total := 0
	for _, turn := range session.Turns {
		total += turn.HallucinationScore
	}
	return float64(total) / float64(len(session.Turns))
}

// Share is one label of a distribution in first-encounter order.
type Share struct {
	Name    string `json:"name"`
	Count   int    `json:"count"`
	Percent string `json:"percent"`
}

func purposeLabel(turn dataset.AnnotatedTurn) string {
	if turn.Purpose == "" {
		return dataset.PurposeUnknown
	}
	return turn.Purpose
}

func issueLabel(turn dataset.AnnotatedTurn) string {
	switch turn.IssueType {
	case "":
		return IssueUnknownLabel
	case dataset.IssueNone:
		return IssueNoneLabel
	default:
		return turn.IssueType
	}
}

func countShares(sessions []dataset.Session, label func(dataset.AnnotatedTurn) string) []Share {
	index := make(map[string]int)
	shares := make([]Share, 0, 8)
	total := 0
	for _, session := range sessions {
		for _, turn := range session.Turns {
			name := label(turn)
			i, ok := index[name]
			if !ok {
				i = len(shares)
				index[name] = i
				shares = append(shares, Share{Name: name})
			}
			shares[i].Count++
			total++
		}
	}
	for i := range shares {
		shares[i].Percent = formatPercent(float64(shares[i].Count), float64(total))
	}
	return shares
}

func sharesToMap(shares []Share) map[string]int {
	out := make(map[string]int, len(shares))
	for _, share := range shares {
		out[share.Name] = share.Count
	}
	return out
}

// PurposeShares counts turns per purpose; a missing purpose counts as Unknown.
func PurposeShares(sessions []dataset.Session) []Share {
	return countShares(sessions, purposeLabel)
}

// IssueShares counts turns per issue type. "none" is reported as No Issues
// and a missing issue type as unknown.
func IssueShares(sessions []dataset.Session) []Share {
	return countShares(sessions, issueLabel)
}

// PurposeDistribution is PurposeShares as a map.
func PurposeDistribution(sessions []dataset.Session) map[string]int {
	return sharesToMap(PurposeShares(sessions))
}

// IssueDistribution is IssueShares as a map.
func IssueDistribution(sessions []dataset.Session) map[string]int {
	return sharesToMap(IssueShares(sessions))
}

// MostCommonPurpose returns the purpose with the most turns. Ties go to the
// purpose encountered first; Unknown is returned when there are no turns.
func MostCommonPurpose(sessions []dataset.Session) string {
	best := Share{Name: dataset.PurposeUnknown}
	for _, share := range PurposeShares(sessions) {
		if share.Count > best.Count {
			best = share
		}
	}
	return best.Name
}

func formatPercent(part, whole float64) string {
	if whole == 0 {
		return "0.0"
	}
	return strconv.FormatFloat(part/whole*100, 'f', 1, 64)
}
