package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mikey/linxo-exporter/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testKey = "secret-key"

type fakeExporter struct {
	err         error
	contentType string
	calls       int
	gotCred     core.Credential
	runs        []*core.RunRecord
	gotLimit    int
	recentErr   error
}

func (f *fakeExporter) Export(_ context.Context, cred core.Credential) (*core.ExportReport, *core.ExportArtifact, error) {
	f.calls++
	f.gotCred = cred
	if f.err != nil {
		return nil, nil, f.err
	}
	contentType := f.contentType
	if contentType == "" {
		contentType = "text/csv"
	}
	artifact := &core.ExportArtifact{
		Data:        []byte("date;amount\n2024-01-02;-3,50\n"),
		ContentType: contentType,
		Filename:    "linxo_transactions.csv",
	}
	return &core.ExportReport{
		RunID:            "run-1",
		DeliverySuccess:  false,
		DeliveryError:    "delivery_error: artifact delivery: connection refused",
		LocalSaveSuccess: true,
		ArtifactSize:     artifact.Size(),
	}, artifact, nil
}

func (f *fakeExporter) Recent(_ context.Context, limit int) ([]*core.RunRecord, error) {
	f.gotLimit = limit
	return f.runs, f.recentErr
}

func newTestServer(exp *fakeExporter, opts Options) http.Handler {
	if opts.APIKey == "" {
		opts.APIKey = testKey
	}
	cred := func() core.Credential {
		return core.Credential{Identity: "user@example.com", Secret: "pw"}
	}
	return NewServer(exp, cred, opts, zap.NewNop()).Handler()
}

func do(h http.Handler, target string, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthNeedsNoKey(t *testing.T) {
	rec := do(newTestServer(&fakeExporter{}, Options{}), "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIKeyIsRequired(t *testing.T) {
	exp := &fakeExporter{}
	h := newTestServer(exp, Options{})

	assert.Equal(t, http.StatusUnauthorized, do(h, "/export-csv", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "/export-csv", "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, do(h, "/runs", "").Code)
	assert.Zero(t, exp.calls)
}

func TestUnconfiguredAPIKeyRejectsEverything(t *testing.T) {
	exp := &fakeExporter{}
	h := NewServer(exp, func() core.Credential { return core.Credential{} }, Options{}, zap.NewNop()).Handler()

	rec := do(h, "/export-csv", "anything")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, exp.calls)
}

func TestExportReport(t *testing.T) {
	exp := &fakeExporter{}
	rec := do(newTestServer(exp, Options{}), "/export-csv", testKey)

	require.Equal(t, http.StatusOK, rec.Code)
	var report core.ExportReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "run-1", report.RunID)
	assert.False(t, report.DeliverySuccess)
	assert.NotEmpty(t, report.DeliveryError)
	assert.True(t, report.LocalSaveSuccess)
	assert.Equal(t, 29, report.ArtifactSize)
	assert.Equal(t, "user@example.com", exp.gotCred.Identity)
}

func TestExportDownload(t *testing.T) {
	rec := do(newTestServer(&fakeExporter{}, Options{}), "/export-csv?download=true", testKey)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=linxo_transactions.csv", rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "run-1", rec.Header().Get("X-Run-ID"))
	assert.Equal(t, "date;amount\n2024-01-02;-3,50\n", rec.Body.String())
}

func TestExportDownloadKeepsOneCharset(t *testing.T) {
	exp := &fakeExporter{contentType: "text/csv; charset=utf-8"}
	rec := do(newTestServer(exp, Options{}), "/export-csv?download=true", testKey)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestExportErrorStatus(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{&core.AutomationError{Kind: core.KindConfiguration}, http.StatusBadRequest},
		{&core.AutomationError{Kind: core.KindChallengeTimeout}, http.StatusGatewayTimeout},
		{&core.AutomationError{Kind: core.KindExportTimeout}, http.StatusGatewayTimeout},
		{&core.AutomationError{Kind: core.KindCodeUnavailable}, http.StatusBadGateway},
		{&core.AutomationError{Kind: core.KindValidationRejected, Detail: "Code invalide"}, http.StatusBadGateway},
		{&core.AutomationError{Kind: core.KindInputNotFound}, http.StatusBadGateway},
		{&core.AutomationError{Kind: core.KindElementNotFound}, http.StatusBadGateway},
		{&core.AutomationError{Kind: core.KindBrowser}, http.StatusInternalServerError},
		{fmt.Errorf("wrapped: %w", &core.AutomationError{Kind: core.KindExportTimeout}), http.StatusGatewayTimeout},
		{errors.New("untyped"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.status, StatusFor(tt.err))

			rec := do(newTestServer(&fakeExporter{err: tt.err}, Options{}), "/export-csv", testKey)
			assert.Equal(t, tt.status, rec.Code)

			var body errorBody
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error)
			assert.Equal(t, tt.err.Error(), body.Detail)
		})
	}
}

func TestExportRateLimit(t *testing.T) {
	exp := &fakeExporter{}
	h := newTestServer(exp, Options{RateLimit: 1, RateBurst: 1})

	assert.Equal(t, http.StatusOK, do(h, "/export-csv", testKey).Code)
	rec := do(h, "/export-csv", testKey)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, 1, exp.calls)
}

func TestRuns(t *testing.T) {
	exp := &fakeExporter{runs: []*core.RunRecord{{ID: "a", Outcome: core.RunSucceeded, ArtifactSize: 3}}}
	h := newTestServer(exp, Options{})

	rec := do(h, "/runs?limit=5", testKey)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, exp.gotLimit)

	var body struct {
		Runs []core.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "a", body.Runs[0].ID)

	assert.Equal(t, http.StatusBadRequest, do(h, "/runs?limit=x", testKey).Code)

	rec = do(newTestServer(&fakeExporter{}, Options{}), "/runs", testKey)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())

	rec = do(newTestServer(&fakeExporter{recentErr: errors.New("db down")}, Options{}), "/runs", testKey)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestStartStop(t *testing.T) {
	s := NewServer(&fakeExporter{}, func() core.Credential { return core.Credential{} },
		Options{Addr: "127.0.0.1:0", APIKey: testKey}, zap.NewNop())
	require.NoError(t, s.Start())

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/healthz")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "ok")

	require.NoError(t, s.Stop())
}
