// Package models defines the document types persisted in MongoDB and the
// status enums shared across agents, pipeline, and API layers.
//
// Historical data may carry raw validation results ("pass", "fail", "warning")
// where a compliance status is expected. NormalizeComplianceStatus maps those
// onto the canonical set; every boundary that reads status values from
// storage or from model output must apply it.
package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ComplianceStatus is the canonical compliance state of a transaction.
type ComplianceStatus string

const (
	ComplianceValid   ComplianceStatus = "valid"
	ComplianceInvalid ComplianceStatus = "invalid"
	CompliancePending ComplianceStatus = "pending"
)

// ValidationResult is the raw per-rule outcome produced by the compliance
// validator before normalization.
type ValidationResult string

const (
	ValidationPass    ValidationResult = "pass"
	ValidationFail    ValidationResult = "fail"
	ValidationWarning ValidationResult = "warning"
)

// AnomalyType classifies a detected anomaly.
type AnomalyType string

const (
	AnomalyDuplicate  AnomalyType = "duplicate"
	AnomalyMismatch   AnomalyType = "mismatch"
	AnomalySuspicious AnomalyType = "suspicious"
)

// AnomalyStatus is the lifecycle state of a detected anomaly.
type AnomalyStatus string

const (
	AnomalyOpen     AnomalyStatus = "open"
	AnomalyResolved AnomalyStatus = "resolved"
	AnomalyIgnored  AnomalyStatus = "ignored"
)

// ParseAnomalyStatus maps a raw string to a known anomaly status.
// Unknown values return false.
func ParseAnomalyStatus(raw string) (AnomalyStatus, bool) {
	switch AnomalyStatus(raw) {
	case AnomalyOpen, AnomalyResolved, AnomalyIgnored:
		return AnomalyStatus(raw), true
	}
	return "", false
}

// Severity ranks how urgent an anomaly is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// FilingStatus tracks the lifecycle of a filing report.
type FilingStatus string

const (
	FilingDraft     FilingStatus = "draft"
	FilingReady     FilingStatus = "ready"
	FilingSubmitted FilingStatus = "submitted"
)

// NormalizeComplianceStatus maps raw validation results and legacy casing
// onto the canonical compliance statuses:
//
//	pass    -> valid
//	fail    -> invalid
//	warning -> pending
//
// Unknown values map to pending so that nothing is silently treated as valid.
func NormalizeComplianceStatus(raw string) ComplianceStatus {
	switch ComplianceStatus(raw) {
	case ComplianceValid, ComplianceInvalid, CompliancePending:
		return ComplianceStatus(raw)
	}
	switch ValidationResult(raw) {
	case ValidationPass:
		return ComplianceValid
	case ValidationFail:
		return ComplianceInvalid
	case ValidationWarning:
		return CompliancePending
	}
	return CompliancePending
}

// NormalizeSeverity clamps unknown severity strings to medium.
func NormalizeSeverity(raw string) Severity {
	switch Severity(raw) {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return Severity(raw)
	}
	return SeverityMedium
}

// Regulation is a tax regulation document fetched from an official source.
type Regulation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	RegulationID  string             `bson:"regulation_id" json:"regulation_id"`
	Title         string             `bson:"title" json:"title"`
	Content       string             `bson:"content" json:"content"`
	Domain        string             `bson:"domain" json:"domain"`           // e.g. "gst", "tds", "income_tax"
	EntityType    string             `bson:"entity_type" json:"entity_type"` // e.g. "company", "individual"
	SourceURL     string             `bson:"source_url" json:"source_url"`
	EffectiveFrom time.Time          `bson:"effective_from" json:"effective_from"`
	FetchedAt     time.Time          `bson:"fetched_at" json:"fetched_at"`
	Indexed       bool               `bson:"indexed" json:"indexed"`
}

// Transaction is a financial transaction subject to compliance validation.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionID string             `bson:"transaction_id" json:"transaction_id"`
	EntityName    string             `bson:"entity_name" json:"entity_name"`
	GSTIN         string             `bson:"gstin,omitempty" json:"gstin,omitempty"`
	PAN           string             `bson:"pan,omitempty" json:"pan,omitempty"`
	InvoiceNumber string             `bson:"invoice_number,omitempty" json:"invoice_number,omitempty"`
	Description   string             `bson:"description" json:"description"`
	Amount        float64            `bson:"amount" json:"amount"`
	GSTAmount     float64            `bson:"gst_amount" json:"gst_amount"`
	TDSAmount     float64            `bson:"tds_amount" json:"tds_amount"`
	TaxType       string             `bson:"tax_type" json:"tax_type"` // "gst" or "tds"
	Date          time.Time          `bson:"date" json:"date"`
	Status        ComplianceStatus   `bson:"status" json:"status"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
}

// RuleCheck is a single rule outcome inside a validation.
type RuleCheck struct {
	Rule    string           `bson:"rule" json:"rule"`
	Result  ValidationResult `bson:"result" json:"result"`
	Message string           `bson:"message" json:"message"`
}

// Validation records the compliance check of one transaction.
type Validation struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	TransactionID string             `bson:"transaction_id" json:"transaction_id"`
	Status        ComplianceStatus   `bson:"status" json:"status"`
	Checks        []RuleCheck        `bson:"checks" json:"checks"`
	Issues        []string           `bson:"issues,omitempty" json:"issues,omitempty"`
	Suggestions   []string           `bson:"suggestions,omitempty" json:"suggestions,omitempty"`
	RegulationIDs []string           `bson:"regulation_ids,omitempty" json:"regulation_ids,omitempty"`
	ValidatedAt   time.Time          `bson:"validated_at" json:"validated_at"`
}

// Anomaly records an irregularity detected across transactions.
type Anomaly struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	AnomalyID      string             `bson:"anomaly_id" json:"anomaly_id"`
	Type           AnomalyType        `bson:"type" json:"type"`
	Severity       Severity           `bson:"severity" json:"severity"`
	Description    string             `bson:"description" json:"description"`
	TransactionIDs []string           `bson:"transaction_ids" json:"transaction_ids"`
	SuggestedFix   string             `bson:"suggested_fix,omitempty" json:"suggested_fix,omitempty"`
	Status         AnomalyStatus      `bson:"status" json:"status"`
	ResolvedAt     *time.Time         `bson:"resolved_at,omitempty" json:"resolved_at,omitempty"`
	DetectedAt     time.Time          `bson:"detected_at" json:"detected_at"`
}

// FilingLine is one aggregated line in a filing report section.
type FilingLine struct {
	Label       string  `bson:"label" json:"label"`
	Amount      float64 `bson:"amount" json:"amount"`
	TaxAmount   float64 `bson:"tax_amount" json:"tax_amount"`
	Transaction int     `bson:"transaction_count" json:"transaction_count"`
}

// FilingSection groups lines under a filing form heading, for example
// "GSTR-1 Outward Supplies" or "TDS Deductee Summary".
type FilingSection struct {
	Name  string       `bson:"name" json:"name"`
	Lines []FilingLine `bson:"lines" json:"lines"`
}

// FilingReport is the aggregated filing output for a period.
type FilingReport struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ReportID       string             `bson:"report_id" json:"report_id"` // "REP-" + 8 hex chars
	FilingType     string             `bson:"filing_type" json:"filing_type"` // "gstr1", "gstr3b", "tds"
	Period         string             `bson:"period" json:"period"`           // "2025-04" or "2025-Q1"
	Status         FilingStatus       `bson:"status" json:"status"`
	Sections       []FilingSection    `bson:"sections" json:"sections"`
	TotalTaxable   float64            `bson:"total_taxable" json:"total_taxable"`
	TotalTax       float64            `bson:"total_tax" json:"total_tax"`
	ReadinessLevel float64            `bson:"readiness_level" json:"readiness_level"` // percentage 0-100
	Summary        string             `bson:"summary,omitempty" json:"summary,omitempty"`
	GeneratedAt    time.Time          `bson:"generated_at" json:"generated_at"`
}

// ExecutionLog records one agent execution for auditing.
type ExecutionLog struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	ExecutionID   string             `bson:"execution_id" json:"execution_id"`
	AgentName     string             `bson:"agent_name" json:"agent_name"`
	Status        string             `bson:"status" json:"status"` // "In Progress", "Success", "Error"
	Input         string             `bson:"input,omitempty" json:"input,omitempty"`
	Output        string             `bson:"output,omitempty" json:"output,omitempty"`
	ErrorMessage  string             `bson:"error_message,omitempty" json:"error_message,omitempty"`
	StartedAt     time.Time          `bson:"started_at" json:"started_at"`
	CompletedAt   *time.Time         `bson:"completed_at,omitempty" json:"completed_at,omitempty"`
	ExecutionTime float64            `bson:"execution_time" json:"execution_time"` // seconds
}

// Execution log status values.
const (
	ExecutionInProgress = "In Progress"
	ExecutionSuccess    = "Success"
	ExecutionError      = "Error"
)
