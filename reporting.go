package main

import (
	"fmt"
	"strings"

	"github.com/tetraminz/chatlog_audit/internal/compute"
	"github.com/tetraminz/chatlog_audit/internal/store"
)

// FormatSummaryMarkdown renders the aggregate view of one document.
func FormatSummaryMarkdown(s compute.Summary) string {
	var b strings.Builder
	b.WriteString("# Analysis Summary\n\n")
	b.WriteString("## Totals\n")
	b.WriteString(fmt.Sprintf("- total_files: `%d`\n", s.TotalFiles))
	b.WriteString(fmt.Sprintf("- total_turns: `%d`\n", s.TotalTurns))
	b.WriteString(fmt.Sprintf("- avg_turns_per_file: `%s`\n", s.AvgTurnsPerFile))
	b.WriteString(fmt.Sprintf("- avg_hallucination_score: `%.2f`\n", s.AvgHallucination))
	b.WriteString(fmt.Sprintf("- avg_over_reliance_score: `%.2f`\n", s.AvgOverReliance))
	b.WriteString(fmt.Sprintf("- most_common_purpose: `%s`\n\n", s.MostCommonPurpose))

	writeShares(&b, "Issue Types", s.Issues)
	writeShares(&b, "Purposes", s.Purposes)

	b.WriteString("## Sessions\n")
	if len(s.Sessions) == 0 {
		b.WriteString("- none\n")
		return b.String()
	}
	b.WriteString("| file | turns | avg_hallucination | over_reliance | advice |\n")
	b.WriteString("| --- | ---: | ---: | ---: | --- |\n")
	for _, session := range s.Sessions {
		b.WriteString(fmt.Sprintf("| `%s` | `%d` | `%.2f` | `%d` | %s |\n",
			session.FileName,
			session.TurnCount,
			session.AvgHallucination,
			session.OverReliance,
			tableCell(session.Advice),
		))
	}
	return b.String()
}

func writeShares(b *strings.Builder, title string, shares []compute.Share) {
	b.WriteString("## " + title + "\n")
	if len(shares) == 0 {
		b.WriteString("- none\n\n")
		return
	}
	for _, share := range shares {
		b.WriteString(fmt.Sprintf("- %s: `%d` (%s%%)\n", share.Name, share.Count, share.Percent))
	}
	b.WriteString("\n")
}

// FormatComparisonMarkdown renders standings against the stored population.
func FormatComparisonMarkdown(c compute.Comparison) string {
	var b strings.Builder
	b.WriteString("# Comparison\n\n")
	if !c.Available {
		b.WriteString("- no comparison data yet\n")
		return b.String()
	}
	b.WriteString(fmt.Sprintf("- population_size: `%d`\n", c.PopulationSize))
	b.WriteString(fmt.Sprintf("- most_common_purpose: `%s`\n\n", c.Purpose))

	writeStanding(&b, "Hallucination", c.Hallucination)
	writeStanding(&b, "Over-Reliance", c.OverReliance)

	b.WriteString("## Population Purposes\n")
	if len(c.Purposes) == 0 {
		b.WriteString("- none\n")
		return b.String()
	}
	for _, total := range c.Purposes {
		marker := ""
		if total.Subject {
			marker = " (you)"
		}
		b.WriteString(fmt.Sprintf("- %s: `%d`%s\n", total.Purpose, total.Count, marker))
	}
	return b.String()
}

func writeStanding(b *strings.Builder, title string, s compute.Standing) {
	b.WriteString("## " + title + "\n")
	b.WriteString(fmt.Sprintf("- score: `%.2f`\n", s.Score))
	b.WriteString(fmt.Sprintf("- rank: `%d`\n", s.Rank))
	b.WriteString(fmt.Sprintf("- top_percent: `%s%%`\n\n", s.TopPercent))
	b.WriteString("| range | count | you |\n")
	b.WriteString("| --- | ---: | --- |\n")
	for _, bin := range s.Histogram {
		marker := ""
		if bin.Subject {
			marker = "*"
		}
		b.WriteString(fmt.Sprintf("| `%s` | `%d` | %s |\n", bin.Label, bin.Count, marker))
	}
	b.WriteString("\n")
}

// FormatEventStatsMarkdown renders per-unit oracle audit counts.
func FormatEventStatsMarkdown(stats []store.EventStats) string {
	var b strings.Builder
	b.WriteString("## Oracle Calls\n")
	if len(stats) == 0 {
		b.WriteString("- none\n")
		return b.String()
	}
	b.WriteString("| unit | calls | parse_failures | normalized |\n")
	b.WriteString("| --- | ---: | ---: | ---: |\n")
	for _, row := range stats {
		b.WriteString(fmt.Sprintf("| `%s` | `%d` | `%d` | `%d` |\n", row.Unit, row.Calls, row.ParseFailures, row.Normalized))
	}
	return b.String()
}

func tableCell(text string) string {
	text = strings.ReplaceAll(text, "|", "/")
	return strings.ReplaceAll(text, "\n", " ")
}
