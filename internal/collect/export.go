package collect

import (
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"gpbench/internal/errors"
	"gpbench/internal/store"
)

// ExportWorkbook gathers aggregated summary tables from folder into a single
// .xlsx workbook at dst, one sheet per table. Absent tables are skipped so a
// partially-aggregated sweep can still be exported.
func ExportWorkbook(folder string, tables []Table, dst string) error {
	book := excelize.NewFile()
	defer book.Close()

	written := 0
	for _, table := range tables {
		t, err := store.OpenTable(filepath.Join(folder, table.Name), table.Read)
		if err != nil {
			if errors.IsCode(err, errors.CodeMissingArtifact) {
				continue
			}
			return err
		}
		if err := writeSheet(book, table.Name, t.Frame()); err != nil {
			return err
		}
		written++
	}
	if written == 0 {
		return errors.MissingArtifact(folder, "no summary tables to export")
	}
	book.DeleteSheet(book.GetSheetName(0))
	if err := book.SaveAs(dst); err != nil {
		return errors.Wrapf(err, "failed to save workbook %s", dst)
	}
	return nil
}

func writeSheet(book *excelize.File, name string, frame *store.Frame) error {
	if _, err := book.NewSheet(name); err != nil {
		return errors.Wrapf(err, "failed to add sheet %s", name)
	}
	indexDepth := frame.Index.Levels()
	headerDepth := frame.Columns.Levels()
	rows, cols := frame.Shape()

	for level := 0; level < headerDepth; level++ {
		record := make([]interface{}, 0, indexDepth+cols)
		for d := 0; d < indexDepth; d++ {
			if level == headerDepth-1 {
				record = append(record, frame.Index.Names[d])
			} else {
				record = append(record, "")
			}
		}
		for j := 0; j < cols; j++ {
			record = append(record, frame.Columns.Keys[j][level])
		}
		if err := setRow(book, name, level, record); err != nil {
			return err
		}
	}
	for i := 0; i < rows; i++ {
		record := make([]interface{}, 0, indexDepth+cols)
		for d := 0; d < indexDepth; d++ {
			record = append(record, frame.Index.Keys[i][d])
		}
		for j := 0; j < cols; j++ {
			record = append(record, frame.At(i, j))
		}
		if err := setRow(book, name, headerDepth+i, record); err != nil {
			return err
		}
	}
	return nil
}

func setRow(book *excelize.File, sheet string, row int, record []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row+1)
	if err != nil {
		return errors.Wrapf(err, "failed to address row %d of %s", row, sheet)
	}
	if err := book.SetSheetRow(sheet, cell, &record); err != nil {
		return errors.Wrapf(err, "failed to write row %d of %s", row, sheet)
	}
	return nil
}
