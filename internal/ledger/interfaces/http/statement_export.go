package http

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/xuri/excelize/v2"

	ledgerapp "finance-backoffice/internal/ledger/application"
)

const dateLayout = "2006-01-02"

func periodLabel(stmt *ledgerapp.Statement, loc *time.Location) string {
	from, to := "start", "now"
	if !stmt.From.IsZero() {
		from = stmt.From.In(loc).Format(dateLayout)
	}
	if !stmt.To.IsZero() {
		to = stmt.To.In(loc).AddDate(0, 0, -1).Format(dateLayout)
	}
	return from + " to " + to
}

func branchLabel(stmt *ledgerapp.Statement) string {
	if stmt.Branch == "" {
		return "all"
	}
	return stmt.Branch
}

// BuildStatementPDF renders a statement as a one-table PDF.
func BuildStatementPDF(stmt *ledgerapp.Statement, loc *time.Location) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetFont("Arial", "", 12)
	pdf.AddPage()

	pdf.Cell(0, 8, "Financial Statement")
	pdf.Ln(10)
	pdf.SetFont("Arial", "", 10)
	pdf.Cell(0, 6, tr(fmt.Sprintf("Branch: %s", branchLabel(stmt))))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Period: %s", periodLabel(stmt, loc)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Credits: %s", stmt.Credits.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Debits: %s", stmt.Debits.StringFixed(2)))
	pdf.Ln(5)
	pdf.Cell(0, 6, fmt.Sprintf("Balance: %s", stmt.Balance.StringFixed(2)))
	pdf.Ln(8)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(25, 6, "Date", "1", 0, "C", false, 0, "")
	pdf.CellFormat(95, 6, "Description", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Amount", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Status", "1", 0, "C", false, 0, "")
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	for _, e := range stmt.Entries {
		pdf.CellFormat(25, 6, e.Date.In(loc).Format(dateLayout), "1", 0, "C", false, 0, "")
		pdf.CellFormat(95, 6, tr(truncate(e.Description, 60)), "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, e.Amount.StringFixed(2), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 6, string(e.Status), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// BuildStatementXLSX renders a statement with a summary and an entries sheet.
func BuildStatementXLSX(stmt *ledgerapp.Statement, loc *time.Location) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	summarySheet := "summary"
	entriesSheet := "entries"
	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(entriesSheet); err != nil {
		return nil, err
	}

	credits, _ := stmt.Credits.Float64()
	debits, _ := stmt.Debits.Float64()
	balance, _ := stmt.Balance.Float64()
	_ = f.SetCellValue(summarySheet, "A1", "Financial Statement")
	_ = f.SetCellValue(summarySheet, "A3", "Branch")
	_ = f.SetCellValue(summarySheet, "B3", branchLabel(stmt))
	_ = f.SetCellValue(summarySheet, "A4", "Period")
	_ = f.SetCellValue(summarySheet, "B4", periodLabel(stmt, loc))
	_ = f.SetCellValue(summarySheet, "A5", "Credits")
	_ = f.SetCellValue(summarySheet, "B5", credits)
	_ = f.SetCellValue(summarySheet, "A6", "Debits")
	_ = f.SetCellValue(summarySheet, "B6", debits)
	_ = f.SetCellValue(summarySheet, "A7", "Balance")
	_ = f.SetCellValue(summarySheet, "B7", balance)

	_ = f.SetCellValue(entriesSheet, "A1", "Date")
	_ = f.SetCellValue(entriesSheet, "B1", "Description")
	_ = f.SetCellValue(entriesSheet, "C1", "Type")
	_ = f.SetCellValue(entriesSheet, "D1", "Amount")
	_ = f.SetCellValue(entriesSheet, "E1", "Category")
	_ = f.SetCellValue(entriesSheet, "F1", "Status")
	_ = f.SetCellValue(entriesSheet, "G1", "Origin")
	for i, e := range stmt.Entries {
		row := i + 2
		amount, _ := e.Amount.Float64()
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("A%d", row), e.Date.In(loc).Format(dateLayout))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("B%d", row), e.Description)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("C%d", row), string(e.Type))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("D%d", row), amount)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("E%d", row), e.Category)
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("F%d", row), string(e.Status))
		_ = f.SetCellValue(entriesSheet, fmt.Sprintf("G%d", row), string(e.Origin))
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "."
}
