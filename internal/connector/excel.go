package connector

import (
	"github.com/xuri/excelize/v2"
)

func newExcelConnector(cfg Config) (Connector, error) {
	f, err := excelize.OpenFile(cfg.FilePath)
	if err != nil {
		return nil, unsupportedFileErr(cfg.FilePath, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if cfg.Sheet != "" {
		sheets = []string{cfg.Sheet}
	}

	tables := make([]fileTable, 0, len(sheets))
	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil || len(rows) == 0 {
			continue
		}
		header := rows[0]
		body := rows[1:]
		// excelize trims trailing empty cells per row; pad to header width
		// so ExecuteQuery's column alignment is never short.
		for i, row := range body {
			if len(row) < len(header) {
				padded := make([]string, len(header))
				copy(padded, row)
				body[i] = padded
			}
		}
		tables = append(tables, fileTable{name: sheet, header: header, rows: body})
	}

	return &fileConnector{sourceName: cfg.FilePath, tables: tables}, nil
}

// ExportExcel writes a QueryResult (or any {columns, rows} shape) to a new
// workbook at outPath, backing the export_excel interaction tool (§4.3).
func ExportExcel(outPath string, columns []string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, col); err != nil {
			return err
		}
	}
	for r, row := range rows {
		for c, val := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheet, cell, val); err != nil {
				return err
			}
		}
	}
	return f.SaveAs(outPath)
}
