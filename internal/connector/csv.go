package connector

import (
	"encoding/csv"
	"os"
)

func newCSVConnector(cfg Config) (Connector, error) {
	f, err := os.Open(cfg.FilePath)
	if err != nil {
		return nil, unsupportedFileErr(cfg.FilePath, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	if cfg.Delimiter != "" {
		reader.Comma = rune(cfg.Delimiter[0])
	}
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, unsupportedFileErr(cfg.FilePath, err)
	}
	if len(records) == 0 {
		return &fileConnector{sourceName: cfg.FilePath}, nil
	}

	header := records[0]
	rows := records[1:]

	return &fileConnector{
		sourceName: cfg.FilePath,
		tables: []fileTable{
			{name: normalizeTableStem(cfg.FilePath), header: header, rows: rows},
		},
	}, nil
}
