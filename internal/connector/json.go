package connector

import (
	"encoding/json"
	"os"
	"sort"
)

func newJSONConnector(cfg Config) (Connector, error) {
	raw, err := os.ReadFile(cfg.FilePath)
	if err != nil {
		return nil, unsupportedFileErr(cfg.FilePath, err)
	}

	var records []map[string]interface{}
	if err := json.Unmarshal(raw, &records); err != nil {
		// A single top-level object is accepted as a one-row table.
		var single map[string]interface{}
		if err2 := json.Unmarshal(raw, &single); err2 != nil {
			return nil, unsupportedFileErr(cfg.FilePath, err)
		}
		records = []map[string]interface{}{single}
	}

	header := jsonHeader(records)
	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := make([]string, len(header))
		for i, col := range header {
			row[i] = stringifyCell(rec[col])
		}
		rows = append(rows, row)
	}

	return &fileConnector{
		sourceName: cfg.FilePath,
		tables: []fileTable{
			{name: normalizeTableStem(cfg.FilePath), header: header, rows: rows},
		},
	}, nil
}

// jsonHeader collects the union of top-level keys across sampled records,
// in sorted order for a stable column layout.
func jsonHeader(records []map[string]interface{}) []string {
	seen := map[string]bool{}
	limit := len(records)
	if limit > sampleSize {
		limit = sampleSize
	}
	for _, rec := range records[:limit] {
		for k := range rec {
			seen[k] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
