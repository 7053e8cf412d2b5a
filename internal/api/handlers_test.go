package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"

	"github.com/taxpilot/taxpilot/internal/models"
	"github.com/taxpilot/taxpilot/internal/rag"
	"github.com/taxpilot/taxpilot/internal/testutil"
)

func TestFilingTypesHandler(t *testing.T) {
	h := &filingHandler{logger: testutil.DiscardLogger()}
	rec := httptest.NewRecorder()
	h.filingTypes(rec, httptest.NewRequest(http.MethodGet, "/api/v1/filing/filing-types", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		FilingTypes []string `json:"filing_types"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	want := []string{"gstr1", "gstr3b", "tds"}
	if len(body.FilingTypes) != len(want) {
		t.Fatalf("filing_types = %v, want %v", body.FilingTypes, want)
	}
	for i := range want {
		if body.FilingTypes[i] != want[i] {
			t.Errorf("filing_types[%d] = %q, want %q", i, body.FilingTypes[i], want[i])
		}
	}
}

func TestPeriodsHandler(t *testing.T) {
	h := &filingHandler{logger: testutil.DiscardLogger()}
	rec := httptest.NewRecorder()
	h.periods(rec, httptest.NewRequest(http.MethodGet, "/api/v1/filing/periods", nil))

	var body struct {
		Monthly   []string `json:"monthly"`
		Quarterly []string `json:"quarterly"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Monthly) != 12 || len(body.Quarterly) != 4 {
		t.Fatalf("periods = %d monthly / %d quarterly, want 12/4", len(body.Monthly), len(body.Quarterly))
	}

	monthPattern := regexp.MustCompile(`^\d{4}-\d{2}$`)
	for _, m := range body.Monthly {
		if !monthPattern.MatchString(m) {
			t.Errorf("monthly period %q is not YYYY-MM", m)
		}
	}
	quarterPattern := regexp.MustCompile(`^\d{4}-Q[1-4]$`)
	for _, q := range body.Quarterly {
		if !quarterPattern.MatchString(q) {
			t.Errorf("quarterly period %q is not YYYY-Qn", q)
		}
	}
}

func TestAnomalyTypesHandler(t *testing.T) {
	h := &anomalyHandler{logger: testutil.DiscardLogger()}
	rec := httptest.NewRecorder()
	h.types(rec, httptest.NewRequest(http.MethodGet, "/api/v1/anomalies/types", nil))

	var body struct {
		Types      []string `json:"types"`
		Severities []string `json:"severities"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if len(body.Types) != 3 || len(body.Severities) != 4 {
		t.Errorf("taxonomy = %v / %v", body.Types, body.Severities)
	}
}

func TestReportDownloadRejectsBadID(t *testing.T) {
	h := &reportHandler{logger: testutil.DiscardLogger()}

	for _, id := range []string{"..%2Fetc%2Fpasswd", "REP-xyz", "REP-1234567", "notareport"} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/download/"+id, nil)
		req.SetPathValue("id", id)
		rec := httptest.NewRecorder()
		h.download(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("download(%q) = %d, want 400", id, rec.Code)
		}
	}
}

func TestRegulationSearchRejectsBadFilter(t *testing.T) {
	h := &regulationHandler{searcher: rag.NewSearcher(nil), logger: testutil.DiscardLogger()}

	for _, domain := range []string{"GST", "gst' OR '1'='1", "a b"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/regulations/search?q=threshold&domain="+url.QueryEscape(domain), nil)
		h.search(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("domain %q: status = %d, want %d", domain, rec.Code, http.StatusBadRequest)
		}
		var body struct {
			Error errorBody `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decoding body: %v", err)
		}
		if body.Error.Code != "invalid_filter" {
			t.Errorf("domain %q: error code = %q, want invalid_filter", domain, body.Error.Code)
		}
	}
}

func TestMergeSearchResults(t *testing.T) {
	regs := []models.Regulation{
		{RegulationID: "gst-reg-threshold", Title: "Registration Threshold", Content: "Registration is mandatory above 40 lakh."},
		{RegulationID: "gst-itc", Title: "Input Tax Credit", Content: "ITC may be claimed on eligible inputs."},
	}
	hits := []rag.Source{
		{RegulationID: "gst-reg-threshold", Title: "registration threshold", Excerpt: "vector copy"},
		{RegulationID: "tds-194c", Title: "TDS on Contracts", Excerpt: "Deduct at source on contract payments."},
	}

	merged := mergeSearchResults(regs, hits)

	wantTitles := []string{"Input Tax Credit", "Registration Threshold", "TDS on Contracts"}
	if len(merged) != len(wantTitles) {
		t.Fatalf("merged = %d results, want %d: %+v", len(merged), len(wantTitles), merged)
	}
	for i, want := range wantTitles {
		if merged[i].Title != want {
			t.Errorf("merged[%d].Title = %q, want %q", i, merged[i].Title, want)
		}
	}
	// The corpus version wins over the duplicate vector hit.
	for _, s := range merged {
		if s.RegulationID == "gst-reg-threshold" && s.Excerpt == "vector copy" {
			t.Error("vector hit replaced the corpus result for the same title")
		}
	}
}

func TestAnomalyListRejectsBadStatus(t *testing.T) {
	h := &anomalyHandler{logger: testutil.DiscardLogger()}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies?status=bogus", nil)
	h.list(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body struct {
		Error errorBody `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error.Code != "invalid_status" {
		t.Errorf("error code = %q, want invalid_status", body.Error.Code)
	}
}
