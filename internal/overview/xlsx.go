package overview

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

const (
	sheetName  = "Overview"
	headerRows = 3
	labelCols  = 3 // project, role, personnel
)

// WriteXLSX renders g as a spreadsheet: three header rows (month, week,
// day), one row per person/role with the role colour filling covered days.
// Double-booked persons and conflicted day headers are hatched.
func WriteXLSX(g Grid, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return fmt.Errorf("overview: xlsx sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#E2E8F0"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("overview: xlsx style: %w", err)
	}
	conflictStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#F28B82", "#FFFFFF"}, Pattern: 13},
	})
	if err != nil {
		return fmt.Errorf("overview: xlsx style: %w", err)
	}

	for i, label := range []string{"Project", "Role", "Personnel"} {
		top, _ := excelize.CoordinatesToCellName(i+1, 1)
		bottom, _ := excelize.CoordinatesToCellName(i+1, headerRows)
		f.SetCellValue(sheetName, top, label)
		f.MergeCell(sheetName, top, bottom)
	}

	writeBands(f, 1, g.Months)
	writeBands(f, 2, g.Weeks)
	for i, d := range g.Days {
		cell, _ := excelize.CoordinatesToCellName(labelCols+1+i, headerRows)
		f.SetCellValue(sheetName, cell, fmt.Sprintf("%s %d", d.Name, d.Day))
		if d.Conflict {
			f.SetCellStyle(sheetName, cell, cell, conflictStyle)
		}
	}
	first, _ := excelize.CoordinatesToCellName(1, 1)
	last, _ := excelize.CoordinatesToCellName(labelCols+len(g.Days), headerRows-1)
	f.SetCellStyle(sheetName, first, last, headerStyle)

	barStyles := map[string]int{}
	barStyle := func(color string) (int, error) {
		if id, ok := barStyles[color]; ok {
			return id, nil
		}
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err != nil {
			return 0, fmt.Errorf("overview: xlsx style %s: %w", color, err)
		}
		barStyles[color] = id
		return id, nil
	}

	row := headerRows + 1
	for _, p := range g.Projects {
		firstRow := row
		for _, r := range p.Rows {
			style, err := barStyle(r.Color)
			if err != nil {
				return err
			}

			f.SetCellValue(sheetName, fmt.Sprintf("B%d", row), r.Role)
			f.SetCellStyle(sheetName, fmt.Sprintf("B%d", row), fmt.Sprintf("B%d", row), style)
			f.SetCellValue(sheetName, fmt.Sprintf("C%d", row), r.Person)
			if r.Conflict {
				f.SetCellStyle(sheetName, fmt.Sprintf("C%d", row), fmt.Sprintf("C%d", row), conflictStyle)
			}

			for i, bar := range r.Cells {
				if bar == BarNone {
					continue
				}
				cell, _ := excelize.CoordinatesToCellName(labelCols+1+i, row)
				f.SetCellStyle(sheetName, cell, cell, style)
			}
			row++
		}
		f.SetCellValue(sheetName, fmt.Sprintf("A%d", firstRow), p.Name)
		if row-1 > firstRow {
			f.MergeCell(sheetName, fmt.Sprintf("A%d", firstRow), fmt.Sprintf("A%d", row-1))
		}
	}

	f.SetColWidth(sheetName, "A", "A", 20)
	f.SetColWidth(sheetName, "B", "C", 18)
	if len(g.Days) > 0 {
		firstDay, _ := excelize.ColumnNumberToName(labelCols + 1)
		lastDay, _ := excelize.ColumnNumberToName(labelCols + len(g.Days))
		f.SetColWidth(sheetName, firstDay, lastDay, 7)
	}
	f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      labelCols,
		YSplit:      headerRows,
		TopLeftCell: "D4",
		ActivePane:  "bottomRight",
	})

	if err := f.Write(w); err != nil {
		return fmt.Errorf("overview: write xlsx: %w", err)
	}
	return nil
}

func writeBands(f *excelize.File, row int, bands []Band) {
	for _, b := range bands {
		start, _ := excelize.CoordinatesToCellName(labelCols+1+b.Start, row)
		f.SetCellValue(sheetName, start, b.Label)
		if b.Span > 1 {
			end, _ := excelize.CoordinatesToCellName(labelCols+b.Start+b.Span, row)
			f.MergeCell(sheetName, start, end)
		}
	}
}
