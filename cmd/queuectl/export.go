package main

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kirillkom/idverify/internal/core/domain"
)

const reviewSheet = "Reviews"

var reviewHeader = []any{
	"Document ID", "User ID", "Type", "Status", "AI Score", "AI Decision",
	"Ticket ID", "NIK", "NPWP", "Name", "Original Filename", "Created At", "Processed At",
}

// writeReviewWorkbook writes one row per document, oldest first as listed.
func writeReviewWorkbook(docs []domain.Document, path string, generatedAt time.Time) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", reviewSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(reviewSheet, "A1", &reviewHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := f.SetPanes(reviewSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	for i, doc := range docs {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := reviewRow(doc)
		if err := f.SetSheetRow(reviewSheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:   "Documents awaiting manual review",
		Created: generatedAt.UTC().Format(time.RFC3339),
	}); err != nil {
		return fmt.Errorf("set properties: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func reviewRow(doc domain.Document) []any {
	row := []any{
		doc.ID,
		doc.UserID,
		string(doc.Type),
		string(doc.Status),
		"",
		"",
		deref(doc.TicketID),
		fieldText(doc.ParsedFields, "nik"),
		fieldText(doc.ParsedFields, "npwpNumber"),
		fieldText(doc.ParsedFields, "name"),
		doc.OriginalFilename,
		doc.CreatedAt.UTC().Format(time.RFC3339),
		"",
	}
	if doc.AIScore != nil {
		row[4] = *doc.AIScore
	}
	if doc.AIDecision != nil {
		row[5] = string(*doc.AIDecision)
	}
	if doc.ProcessedAt != nil {
		row[12] = doc.ProcessedAt.UTC().Format(time.RFC3339)
	}
	return row
}

func fieldText(fields domain.ParsedFields, key string) string {
	v, ok := fields[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
