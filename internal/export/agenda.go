// Package export renders a day schedule as an Excel agenda.
package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"salonbook/internal/booking"
)

var agendaColumns = []string{"Type", "From", "To", "Minutes", "Client", "Category", "Price", "Status", "Note"}

// sheetWriter appends rows to the active sheet of an excelize file.
type sheetWriter struct {
	file         *excelize.File
	currentSheet string
	currentRow   int
}

func newSheetWriter() *sheetWriter {
	return &sheetWriter{file: excelize.NewFile()}
}

func (w *sheetWriter) addSheet(name string) error {
	// Excel limit
	if len(name) > 31 {
		name = name[:31]
	}

	if w.currentSheet == "" {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}

	w.currentSheet = name
	w.currentRow = 1
	return nil
}

func (w *sheetWriter) writeHeader(columns []string) error {
	row := make([]interface{}, len(columns))
	for i, c := range columns {
		row[i] = c
	}
	if err := w.writeRow(row); err != nil {
		return err
	}

	style, err := w.file.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err == nil {
		startCell, _ := excelize.CoordinatesToCellName(1, w.currentRow-1)
		endCell, _ := excelize.CoordinatesToCellName(len(columns), w.currentRow-1)
		_ = w.file.SetCellStyle(w.currentSheet, startCell, endCell, style)
	}
	return nil
}

func (w *sheetWriter) writeRow(row []interface{}) error {
	if w.currentSheet == "" {
		return fmt.Errorf("no active sheet")
	}
	cell, err := excelize.CoordinatesToCellName(1, w.currentRow)
	if err != nil {
		return err
	}
	if err := w.file.SetSheetRow(w.currentSheet, cell, &row); err != nil {
		return err
	}
	w.currentRow++
	return nil
}

// WriteDayAgenda writes one sheet named after the day with a row per
// segment followed by booked and free totals.
func WriteDayAgenda(out io.Writer, view *booking.DayView) error {
	w := newSheetWriter()
	defer w.file.Close()

	if err := w.addSheet(view.Date); err != nil {
		return err
	}
	if err := w.writeHeader(agendaColumns); err != nil {
		return err
	}

	var bookedMin, freeMin int
	for _, seg := range view.Segments {
		minutes := seg.Interval.Duration()
		row := []interface{}{
			"Free",
			seg.Interval.Start.String(),
			seg.Interval.End.String(),
			minutes,
		}
		if seg.IsFree() {
			freeMin += minutes
		} else {
			bookedMin += minutes
			a := seg.Entry
			var price interface{} = ""
			if a.Price != nil {
				price = *a.Price
			}
			row[0] = "Booked"
			row = append(row, a.ClientID, a.Category, price, string(a.Status), a.Note)
		}
		if err := w.writeRow(row); err != nil {
			return fmt.Errorf("write segment %s: %w", seg.Interval, err)
		}
	}

	w.currentRow++
	if err := w.writeRow([]interface{}{"Booked total", "", "", bookedMin}); err != nil {
		return err
	}
	if err := w.writeRow([]interface{}{"Free total", "", "", freeMin}); err != nil {
		return err
	}

	return w.file.Write(out)
}
