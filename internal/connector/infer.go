package connector

import (
	"strconv"
	"strings"
	"time"
)

// sampleSize is the number of records column type inference samples, per
// §4.1.
const sampleSize = 1000

// inferenceThreshold is the fraction of sampled non-empty values that must
// agree on a type for it to be declared, per §4.1.
const inferenceThreshold = 0.8

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// inferColumnTypes samples up to sampleSize rows and picks, per column, the
// dominant type among {date, bool, integer, float, text} at the 80%
// threshold; ties and below-threshold columns fall back to text.
func inferColumnTypes(header []string, rows [][]string) []ColumnInfo {
	counts := make([]map[string]int, len(header))
	nonEmpty := make([]int, len(header))
	for i := range counts {
		counts[i] = map[string]int{}
	}

	limit := len(rows)
	if limit > sampleSize {
		limit = sampleSize
	}
	for _, row := range rows[:limit] {
		for i, cell := range row {
			if i >= len(counts) {
				continue
			}
			cell = strings.TrimSpace(cell)
			if cell == "" {
				continue
			}
			nonEmpty[i]++
			counts[i][classifyCell(cell)]++
		}
	}

	out := make([]ColumnInfo, len(header))
	for i, name := range header {
		out[i] = ColumnInfo{Name: name, Type: dominantType(counts[i], nonEmpty[i]), Nullable: true}
	}
	return out
}

func dominantType(counts map[string]int, total int) string {
	if total == 0 {
		return "text"
	}
	best, bestCount := "text", 0
	for typ, n := range counts {
		if n > bestCount {
			best, bestCount = typ, n
		}
	}
	if float64(bestCount)/float64(total) >= inferenceThreshold {
		return best
	}
	return "text"
}

func classifyCell(s string) string {
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return "integer"
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return "float"
	}
	lower := strings.ToLower(s)
	if lower == "true" || lower == "false" {
		return "bool"
	}
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return "date"
		}
	}
	return "text"
}
