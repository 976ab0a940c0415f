// Package export writes the facility registry workbook for hospital staff.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/maatrinet/go-intake/internal/backend"
	"github.com/maatrinet/go-intake/internal/dashboard"
)

// SheetName is the registry worksheet
const SheetName = "Facility Registry"

// ContentType of the workbook
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var registryColumns = []struct {
	header string
	width  float64
	value  func(p backend.Patient) any
}{
	{"ID", 8, func(p backend.Patient) any { return p.ID }},
	{"Name", 24, func(p backend.Patient) any { return p.Name }},
	{"Status", 14, func(p backend.Patient) any { return p.Status }},
	{"Risk Level", 12, func(p backend.Patient) any { return p.Risk }},
	{"Risk Score", 12, func(p backend.Patient) any { return p.RiskScore }},
	{"EDD", 14, func(p backend.Patient) any { return deref(p.EDD) }},
	{"Off-track History", 18, func(p backend.Patient) any { return yesNo(p.OfftrackHistory) }},
	{"Delivery Date", 14, func(p backend.Patient) any { return deref(p.DeliveryDate) }},
	{"Delivery Type", 14, func(p backend.Patient) any { return deref(p.DeliveryType) }},
	{"Post-birth Risk", 16, func(p backend.Patient) any { return deref(p.PostbirthRisk) }},
	{"Children", 30, func(p backend.Patient) any { return children(p.Children) }},
}

// WriteRegistry writes the hospital patient list as an XLSX workbook,
// highest risk first.
func WriteRegistry(w io.Writer, d *backend.HospitalDashboard) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(SheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	highRiskStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "#E11D48"},
	})
	if err != nil {
		return fmt.Errorf("create risk style: %w", err)
	}

	for i, col := range registryColumns {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(SheetName, cell, col.header); err != nil {
			return fmt.Errorf("set header %s: %w", cell, err)
		}
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return err
		}
		if err := f.SetColWidth(SheetName, name, name, col.width); err != nil {
			return fmt.Errorf("set column width: %w", err)
		}
	}
	last, _ := excelize.CoordinatesToCellName(len(registryColumns), 1)
	if err := f.SetCellStyle(SheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("set header style: %w", err)
	}

	for r, p := range dashboard.SortByRisk(d.PatientList) {
		row := r + 2
		values := make([]any, len(registryColumns))
		for i, col := range registryColumns {
			values[i] = col.value(p)
		}
		start, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(SheetName, start, &values); err != nil {
			return fmt.Errorf("write row %d: %w", row, err)
		}
		if p.Risk == dashboard.RiskHigh {
			riskCell, _ := excelize.CoordinatesToCellName(4, row)
			if err := f.SetCellStyle(SheetName, riskCell, riskCell, highRiskStyle); err != nil {
				return fmt.Errorf("style row %d: %w", row, err)
			}
		}
	}

	if err := f.SetPanes(SheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func children(cs []backend.ChildStatus) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		s := fmt.Sprintf("%s (%d/%d)", c.Name, c.ImmunizationsCompleted, c.ImmunizationsExpected)
		if c.Offtrack {
			s += " off-track"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "; ")
}
