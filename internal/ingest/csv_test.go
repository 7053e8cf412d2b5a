package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/testutil"
)

const sampleCSV = `transaction_id,entity_name,gstin,invoice_number,description,amount,gst_amount,tax_type,date
TXN-001,Acme Traders,27AAPFU0939F1ZV,INV-001,office rent,50000,9000,gst,2024-03-15
,Beta Supplies,,INV-002,consulting fee,20000,,tds,15/03/2024
`

func testParser() *Parser {
	return NewParser(testutil.DiscardLogger())
}

func TestParse(t *testing.T) {
	txs, result, err := testParser().Parse(context.Background(), strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Parsed != 2 || result.Skipped != 0 {
		t.Fatalf("result = %+v, want 2 parsed", result)
	}

	first := txs[0]
	if first.TransactionID != "TXN-001" || first.EntityName != "Acme Traders" || first.Amount != 50000 {
		t.Errorf("first transaction = %+v", first)
	}
	if first.GSTAmount != 9000 || first.TaxType != "gst" {
		t.Errorf("first tax fields = %.2f/%s", first.GSTAmount, first.TaxType)
	}
	if first.Status != models.CompliancePending {
		t.Errorf("status = %q, want pending", first.Status)
	}
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	if !first.Date.Equal(want) {
		t.Errorf("date = %v, want %v", first.Date, want)
	}

	second := txs[1]
	if !strings.HasPrefix(second.TransactionID, "TXN-") || second.TransactionID == "TXN-" {
		t.Errorf("missing transaction_id was not generated: %q", second.TransactionID)
	}
	if !second.Date.Equal(want) {
		t.Errorf("dd/mm/yyyy date = %v, want %v", second.Date, want)
	}
}

func TestParseSkipsBadRows(t *testing.T) {
	csvData := `entity_name,description,amount,tax_type,date
Acme,ok row,1000,gst,2024-03-15
Acme,bad amount,not-a-number,gst,2024-03-15
Acme,bad date,1000,gst,someday
Acme,bad tax type,1000,vat,2024-03-15
,missing entity,1000,gst,2024-03-15
`
	txs, result, err := testParser().Parse(context.Background(), strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Parsed != 1 || result.Skipped != 4 {
		t.Fatalf("result = %+v, want 1 parsed 4 skipped", result)
	}
	if len(txs) != 1 || txs[0].Description != "ok row" {
		t.Errorf("transactions = %+v", txs)
	}
	if len(result.Errors) != 4 {
		t.Errorf("errors = %v, want 4 row errors", result.Errors)
	}
	for _, e := range result.Errors {
		if !strings.HasPrefix(e, "line ") {
			t.Errorf("row error %q missing line prefix", e)
		}
	}
}

func TestParseStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"empty file", "", ErrEmptyFile},
		{"header only", "entity_name,description,amount,tax_type,date\n", ErrEmptyFile},
		{"missing columns", "entity_name,amount\nAcme,1000\n", ErrMissingColumns},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := testParser().Parse(context.Background(), strings.NewReader(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestParseHeaderNormalization(t *testing.T) {
	csvData := "Entity Name, Description ,AMOUNT,Tax Type,Date\nAcme,supplies,1000,gst,2024-03-15\n"

	txs, result, err := testParser().Parse(context.Background(), strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if result.Parsed != 1 || txs[0].EntityName != "Acme" {
		t.Errorf("result = %+v txs = %+v", result, txs)
	}
}

func TestParseCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := testParser().Parse(ctx, strings.NewReader(sampleCSV))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Parse with cancelled context = %v, want context.Canceled", err)
	}
}
