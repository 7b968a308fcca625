package compute

import (
	"math"
	"sort"

	"github.com/tetraminz/chatlog_audit/internal/dataset"
)

// Standing places one subject score within the population.
type Standing struct {
	Score      float64 `json:"score"`
	Rank       int     `json:"rank"`
	TopPercent string  `json:"topPercent"`
	Histogram  []Bin   `json:"histogram"`
}

// PurposeTotal is a population-wide purpose count.
type PurposeTotal struct {
	Purpose string `json:"purpose"`
	Count   int    `json:"count"`
	Subject bool   `json:"isSubject"`
}

// Point is one population member on the hallucination/over-reliance plane.
type Point struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Purpose string  `json:"purpose"`
	Subject bool    `json:"isSubject"`
}

// Comparison is the result of ranking a subject against the population.
// Available is false when the population is empty.
type Comparison struct {
	Available      bool           `json:"available"`
	PopulationSize int            `json:"populationSize"`
	Purpose        string         `json:"purpose"`
	Hallucination  Standing       `json:"hallucination"`
	OverReliance   Standing       `json:"overReliance"`
	Purposes       []PurposeTotal `json:"purposes"`
	Points         []Point        `json:"points"`
}

// subjectTolerance decides which population point is the subject itself.
const subjectTolerance = 0.01

// Compare ranks doc against population. Lower scores are better for both
// metrics. The population is read only.
func Compare(doc dataset.Document, population []Record) Comparison {
	hallucination := AvgHallucination(doc.Sessions)
	overReliance := AvgOverReliance(doc.Sessions)
	purpose := MostCommonPurpose(doc.Sessions)

	hallucinationScores := make([]float64, 0, len(population))
	overRelianceScores := make([]float64, 0, len(population))
	points := make([]Point, 0, len(population))
	for _, record := range population {
		hallucinationScores = append(hallucinationScores, record.AvgHallucinationScore)
		overRelianceScores = append(overRelianceScores, record.AvgOverRelianceScore)

		memberPurpose := record.MostCommonPurpose
		if memberPurpose == "" {
			memberPurpose = dataset.PurposeUnknown
		}
		points = append(points, Point{
			X:       record.AvgHallucinationScore,
			Y:       record.AvgOverRelianceScore,
			Purpose: memberPurpose,
			Subject: math.Abs(record.AvgHallucinationScore-hallucination) < subjectTolerance &&
				math.Abs(record.AvgOverRelianceScore-overReliance) < subjectTolerance,
		})
	}

	return Comparison{
		Available:      len(population) > 0,
		PopulationSize: len(population),
		Purpose:        purpose,
		Hallucination:  standing(hallucinationScores, hallucination),
		OverReliance:   standing(overRelianceScores, overReliance),
		Purposes:       purposeTotals(population, purpose),
		Points:         points,
	}
}

func standing(population []float64, subject float64) Standing {
	rank := Rank(population, subject, true)
	return Standing{
		Score:      subject,
		Rank:       rank,
		TopPercent: Percentile(rank, len(population)),
		Histogram:  MarkSubjectBin(Histogram(population), subject),
	}
}

// purposeTotals sums purpose distributions across the population, sorted by
// count descending and then by name.
func purposeTotals(population []Record, subjectPurpose string) []PurposeTotal {
	counts := make(map[string]int)
	for _, record := range population {
		for purpose, count := range record.PurposeDistribution {
			counts[purpose] += count
		}
	}

	totals := make([]PurposeTotal, 0, len(counts))
	for purpose, count := range counts {
		totals = append(totals, PurposeTotal{
			Purpose: purpose,
			Count:   count,
			Subject: purpose == subjectPurpose,
		})
	}
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Count != totals[j].Count {
			return totals[i].Count > totals[j].Count
		}
		return totals[i].Purpose < totals[j].Purpose
	})
	return totals
}
