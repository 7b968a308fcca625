package compute

import (
	"time"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// SessionSummary is the per-session part of a Record. It never carries
// conversation text.
type SessionSummary struct {
	FileName              string         `json:"fileName" bson:"fileName"`
	TurnCount             int            `json:"turnCount" bson:"turnCount"`
	OverRelianceScore     int            `json:"overRelianceScore" bson:"overRelianceScore"`
	AvgHallucinationScore float64        `json:"avgHallucinationScore" bson:"avgHallucinationScore"`
	PurposeDistribution   map[string]int `json:"purposeDistribution" bson:"purposeDistribution"`
	IssueDistribution     map[string]int `json:"issueDistribution" bson:"issueDistribution"`
}

// Record is the privacy-reduced form of an analysis result that joins the
// comparison population.
type Record struct {
	ID                    string           `json:"id,omitempty" bson:"-"`
	AvgHallucinationScore float64          `json:"avgHallucinationScore" bson:"avgHallucinationScore"`
	AvgOverRelianceScore  float64          `json:"avgOverRelianceScore" bson:"avgOverRelianceScore"`
	Sessions              []SessionSummary `json:"sessions" bson:"sessions"`
	TotalFiles            int              `json:"totalFiles" bson:"totalFiles"`
	TotalTurns            int              `json:"totalTurns" bson:"totalTurns"`
	MostCommonPurpose     string           `json:"mostCommonPurpose" bson:"mostCommonPurpose"`
	PurposeDistribution   map[string]int   `json:"purposeDistribution" bson:"purposeDistribution"`
	UploadedAt            time.Time        `json:"uploadedAt" bson:"uploadedAt"`
}

// BuildRecord reduces doc to scores and distributions. UploadedAt is left
// for the store to fill.
func BuildRecord(doc dataset.Document) Record {
	summaries := make([]SessionSummary, 0, len(doc.Sessions))
	for _, session := range doc.Sessions {
		one := []dataset.Session{session}
		summaries = append(summaries, SessionSummary{
			FileName:              session.FileName,
			TurnCount:             session.TurnCount,
			OverRelianceScore:     session.OverRelianceScore,
			AvgHallucinationScore: sessionAvgHallucination(session),
			PurposeDistribution:   PurposeDistribution(one),
			IssueDistribution:     IssueDistribution(one),
		})
	}

	return Record{
		AvgHallucinationScore: AvgHallucination(doc.Sessions),
		AvgOverRelianceScore:  AvgOverReliance(doc.Sessions),
		Sessions:              summaries,
		TotalFiles:            doc.TotalFiles,
		TotalTurns:            doc.TotalTurns,
		MostCommonPurpose:     MostCommonPurpose(doc.Sessions),
		PurposeDistribution:   PurposeDistribution(doc.Sessions),
	}
}
