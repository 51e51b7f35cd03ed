package http

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	billingapp "finance-backoffice/internal/billing/application"
	billing "finance-backoffice/internal/billing/domain"
)

// BuildScheduleXLSX renders the installment schedule of a charge.
func BuildScheduleXLSX(v *billingapp.ChargeView) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := "schedule"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}

	c := v.Charge
	_ = f.SetCellValue(sheet, "A1", "Installment Schedule")
	_ = f.SetCellValue(sheet, "A3", "Charge")
	_ = f.SetCellValue(sheet, "B3", c.ID)
	_ = f.SetCellValue(sheet, "A4", "Payer")
	_ = f.SetCellValue(sheet, "B4", c.PayerName)
	_ = f.SetCellValue(sheet, "A5", "Service")
	_ = f.SetCellValue(sheet, "B5", c.Service)
	_ = f.SetCellValue(sheet, "A6", "Branch")
	_ = f.SetCellValue(sheet, "B6", c.Branch)
	_ = f.SetCellValue(sheet, "A7", "Status")
	_ = f.SetCellValue(sheet, "B7", c.Status)

	const header = 9
	_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", header), "Number")
	_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", header), "Due Date")
	_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", header), "Amount")
	_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", header), "Status")
	for i, inst := range v.Installments {
		row := header + 1 + i
		amount, _ := inst.Amount.Float64()
		_ = f.SetCellValue(sheet, fmt.Sprintf("A%d", row), inst.Number)
		_ = f.SetCellValue(sheet, fmt.Sprintf("B%d", row), inst.DueDate.Format(billing.DateLayout))
		_ = f.SetCellValue(sheet, fmt.Sprintf("C%d", row), amount)
		_ = f.SetCellValue(sheet, fmt.Sprintf("D%d", row), string(inst.Status))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
