package compute

import (
	"strconv"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// SessionStat is the per-session line of a Summary.
type SessionStat struct {
	FileName         string  `json:"fileName"`
	TurnCount        int     `json:"turnCount"`
	AvgHallucination float64 `json:"avgHallucination"`
	OverReliance     int     `json:"overReliance"`
	Advice           string  `json:"advice"`
}

// Summary is the overview of one analysis result.
type Summary struct {
	TotalFiles        int           `json:"totalFiles"`
	TotalTurns        int           `json:"totalTurns"`
	AvgTurnsPerFile   string        `json:"avgTurnsPerFile"`
	AvgHallucination  float64       `json:"avgHallucination"`
	AvgOverReliance   float64       `json:"avgOverReliance"`
	MostCommonPurpose string        `json:"mostCommonPurpose"`
	Issues            []Share       `json:"issues"`
	Purposes          []Share       `json:"purposes"`
	Sessions          []SessionStat `json:"sessions"`
}

// Summarize builds the overview of sessions. Pass a single session to get
// the per-session view.
func Summarize(sessions []dataset.Session) Summary {
	totalTurns := 0
	stats := make([]SessionStat, 0, len(sessions))
	for _, session := range sessions {
		totalTurns += session.TurnCount
		stats = append(stats, SessionStat{
			FileName:         session.FileName,
			TurnCount:        session.TurnCount,
			AvgHallucination: Round2(sessionAvgHallucination(session)),
			OverReliance:     session.OverRelianceScore,
			Advice:           session.OverRelianceAdvice,
		})
	}

	avgTurns := "0.0"
	if len(sessions) > 0 {
		avgTurns = strconv.FormatFloat(float64(totalTurns)/float64(len(sessions)), 'f', 1, 64)
	}

	return Summary{
		TotalFiles:        len(sessions),
		TotalTurns:        totalTurns,
		AvgTurnsPerFile:   avgTurns,
		AvgHallucination:  AvgHallucination(sessions),
		AvgOverReliance:   AvgOverReliance(sessions),
		MostCommonPurpose: MostCommonPurpose(sessions),
		Issues:            IssueShares(sessions),
		Purposes:          PurposeShares(sessions),
		Sessions:          stats,
	}
}
