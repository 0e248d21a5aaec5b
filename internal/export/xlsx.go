package export

import (
	"fmt"
	"io"
	"time"

	"wtbooking/internal/models"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
)

const sheetName = "Bookings"

var headers = []string{"Booking", "Unit", "User", "Start", "End", "Nights", "Total", "Status", "Created"}

var statusFill = map[models.BookingStatus]string{
	models.StatusCreated:   "#FFF2CC",
	models.StatusPaid:      "#E2EFDA",
	models.StatusCancelled: "#F8CBAD",
}

// WriteBookingsXLSX renders bookings of [from, to] as a single-sheet workbook.
func WriteBookingsXLSX(w io.Writer, from, to time.Time, bookings []*models.Booking) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	_ = f.DeleteSheet("Sheet1")

	lastCol, _ := excelize.ColumnNumberToName(len(headers))

	_ = f.SetCellValue(sheetName, "A1", fmt.Sprintf("Период: %s - %s",
		from.Format(models.DateLayout), to.Format(models.DateLayout)))
	_ = f.MergeCell(sheetName, "A1", lastCol+"1")
	titleStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	_ = f.SetCellStyle(sheetName, "A1", "A1", titleStyle)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#DDEBF7"}, Pattern: 1},
		Font:      &excelize.Font{Bold: true},
		Alignment: &excelize.Alignment{Horizontal: "center"},
	})
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 2)
		_ = f.SetCellValue(sheetName, cell, h)
		_ = f.SetCellStyle(sheetName, cell, cell, headerStyle)
	}
	_ = f.SetColWidth(sheetName, "A", "C", 38)
	_ = f.SetColWidth(sheetName, "D", lastCol, 14)

	styles := make(map[models.BookingStatus]int, len(statusFill))
	for status, color := range statusFill {
		id, err := f.NewStyle(&excelize.Style{
			Fill: excelize.Fill{Type: "pattern", Color: []string{color}, Pattern: 1},
		})
		if err == nil {
			styles[status] = id
		}
	}

	for i, b := range bookings {
		row := i + 3
		userID := ""
		if b.UserID != uuid.Nil {
			userID = b.UserID.String()
		}
		values := []interface{}{
			b.ID.String(),
			b.UnitID.String(),
			userID,
			b.StartDate.Format(models.DateLayout),
			b.EndDate.Format(models.DateLayout),
			b.Nights(),
			b.TotalCost.StringFixed(2),
			string(b.Status),
			b.CreatedAt.UTC().Format(time.RFC3339),
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheetName, start, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		if style, ok := styles[b.Status]; ok {
			statusCell, _ := excelize.CoordinatesToCellName(8, row)
			_ = f.SetCellStyle(sheetName, statusCell, statusCell, style)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}
