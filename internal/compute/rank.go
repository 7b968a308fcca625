package compute

import (
	"math"
	"sort"
	"strconv"
)

// Rank returns the 1-based position of subject within population. The
// population is stably sorted best-first and the first value the subject is
// at least as good as decides the rank, so ties take the better rank. A
// subject better than nobody ranks len(population)+1; an empty population
// yields 1.
func Rank(population []float64, subject float64, lowerIsBetter bool) int {
	sorted := append([]float64(nil), population...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if lowerIsBetter {
			return sorted[i] < sorted[j]
		}
		return sorted[i] > sorted[j]
	})

	for i, value := range sorted {
		if lowerIsBetter && subject <= value {
			return i + 1
		}
		if !lowerIsBetter && subject >= value {
			return i + 1
		}
	}
	return len(sorted) + 1
}

// Percentile reports rank as "top X%" with one decimal: rank 1 of 5 is
// "20.0". It returns "0.0" for an empty population.
func Percentile(rank, size int) string {
	if size <= 0 {
		return "0.0"
	}
	return strconv.FormatFloat(float64(rank)/float64(size)*100, 'f', 1, 64)
}

const (
	binWidth = 0.5
	binCount = 11
)

// Bin is one half-point histogram bucket starting at Lower.
type Bin struct {
	Lower   float64 `json:"lower"`
	Label   string  `json:"range"`
	Count   int     `json:"count"`
	Subject bool    `json:"isSubject"`
}

// Histogram buckets scores into the half-point bins 0.0 through 5.0. Each
// score is floored to its bin; scores outside [0, 5.5) are ignored.
func Histogram(values []float64) []Bin {
	bins := make([]Bin, binCount)
	for i := range bins {
		lower := float64(i) * binWidth
		bins[i] = Bin{Lower: lower, Label: strconv.FormatFloat(lower, 'f', 1, 64)}
	}
	for _, value := range values {
		if math.IsNaN(value) {
			continue
		}
		index := int(math.Floor(value / binWidth))
		if index < 0 || index >= binCount {
			continue
		}
		bins[index].Count++
	}
	return bins
}

// MarkSubjectBin flags bins whose lower bound is within a quarter point of
// subject. The input is not modified.
func MarkSubjectBin(bins []Bin, subject float64) []Bin {
	marked := append([]Bin(nil), bins...)
	for i := range marked {
		marked[i].Subject = math.Abs(marked[i].Lower-subject) < binWidth/2
	}
	return marked
}
