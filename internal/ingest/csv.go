// Package ingest parses uploaded transaction files into Transaction
// documents. CSV is the only supported format; header names follow the
// standard export layout of accounting tools.
package ingest

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/taxpilot/taxpilot/internal/log"
	"github.com/taxpilot/taxpilot/internal/models"
)

var (
	// ErrEmptyFile indicates the upload contained no data rows.
	ErrEmptyFile = errors.New("file contains no transactions")

	// ErrMissingColumns indicates required header columns are absent.
	ErrMissingColumns = errors.New("missing required columns")
)

// requiredColumns must be present in the header row.
var requiredColumns = []string{"entity_name", "description", "amount", "tax_type", "date"}

// dateFormats are tried in order when parsing the date column.
var dateFormats = []string{"2006-01-02", "02/01/2006", "2006-01-02T15:04:05Z07:00"}

// Result summarizes one ingest run.
type Result struct {
	Parsed  int      `json:"parsed"`
	Skipped int      `json:"skipped"`
	Errors  []string `json:"errors,omitempty"`
}

// Parser converts CSV uploads into transactions.
type Parser struct {
	logger log.Logger
}

// NewParser creates a Parser.
func NewParser(logger log.Logger) *Parser {
	return &Parser{logger: logger}
}

// maxRowErrors bounds how many per-row errors are reported back.
const maxRowErrors = 20

// Parse reads the CSV stream and returns the transactions it contains.
// Rows that fail to parse are skipped and reported in the result; only
// structural problems (bad header, empty file) fail the whole upload.
func (p *Parser) Parse(ctx context.Context, r io.Reader) ([]models.Transaction, *Result, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("reading CSV header: %w", err)
	}

	cols, err := columnIndex(header)
	if err != nil {
		return nil, nil, err
	}

	result := &Result{}
	var txs []models.Transaction
	now := time.Now().UTC()

	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Skipped++
			result.Errors = appendRowError(result.Errors, line, err)
			continue
		}

		tx, err := parseRow(cols, record, now)
		if err != nil {
			result.Skipped++
			result.Errors = appendRowError(result.Errors, line, err)
			continue
		}
		txs = append(txs, *tx)
		result.Parsed++
	}

	if result.Parsed == 0 && result.Skipped == 0 {
		return nil, nil, ErrEmptyFile
	}

	p.logger.Info("transactions parsed", "parsed", result.Parsed, "skipped", result.Skipped)
	return txs, result, nil
}

// columnIndex maps normalized header names to their positions.
func columnIndex(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[normalizeHeader(name)] = i
	}

	var missing []string
	for _, required := range requiredColumns {
		if _, ok := cols[required]; !ok {
			missing = append(missing, required)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return cols, nil
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.ReplaceAll(name, " ", "_")
}

func parseRow(cols map[string]int, record []string, now time.Time) (*models.Transaction, error) {
	get := func(name string) string {
		idx, ok := cols[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	amount, err := strconv.ParseFloat(get("amount"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", get("amount"))
	}

	date, err := parseDate(get("date"))
	if err != nil {
		return nil, err
	}

	taxType := strings.ToLower(get("tax_type"))
	if taxType != "gst" && taxType != "tds" {
		return nil, fmt.Errorf("invalid tax_type %q, want gst or tds", get("tax_type"))
	}

	tx := &models.Transaction{
		TransactionID: transactionID(get("transaction_id")),
		EntityName:    get("entity_name"),
		GSTIN:         strings.ToUpper(get("gstin")),
		PAN:           strings.ToUpper(get("pan")),
		InvoiceNumber: get("invoice_number"),
		Description:   get("description"),
		Amount:        amount,
		TaxType:       taxType,
		Date:          date,
		Status:        models.CompliancePending,
		CreatedAt:     now,
	}
	if tx.EntityName == "" {
		return nil, errors.New("entity_name is required")
	}

	// Optional tax amount columns.
	if v := get("gst_amount"); v != "" {
		if tx.GSTAmount, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid gst_amount %q", v)
		}
	}
	if v := get("tds_amount"); v != "" {
		if tx.TDSAmount, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("invalid tds_amount %q", v)
		}
	}

	return tx, nil
}

func parseDate(s string) (time.Time, error) {
	for _, format := range dateFormats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// transactionID keeps a caller-provided ID or generates one.
func transactionID(provided string) string {
	if provided != "" {
		return provided
	}
	return "TXN-" + uuid.NewString()
}

func appendRowError(errs []string, line int, err error) []string {
	if len(errs) >= maxRowErrors {
		return errs
	}
	return append(errs, fmt.Sprintf("line %d: %v", line, err))
}
