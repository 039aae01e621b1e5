package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"azcost/connectors/csv"
	"azcost/connectors/ingestion"
	"azcost/domain/cloudspending"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func seed(t *testing.T, dir string) {
	t.Helper()
	budget := 200.0
	records := []cloudspending.SubscriptionRecord{
		cloudspending.NewSubscriptionRecord(cloudspending.RecordInput{
			Subscription: cloudspending.Subscription{ID: "sub-1", DisplayName: "Payments", State: "Enabled"},
			GroupName:    "Prod",
			GroupPath:    []string{"Contoso", "Prod"},
			Cost:         180,
			Budget:       &budget,
			Currency:     "USD",
			Period:       cloudspending.LastDays(time.Now(), 30),
			Generated:    time.Now(),
		}),
	}
	require.NoError(t, csv.WriteReportCSVs(dir, records))
	s := ingestion.NewSender(ingestion.Config{BackupDir: dir}, nil)
	_, err := s.Backup("run-1", records)
	require.NoError(t, err)
}

func TestAPIServesReports(t *testing.T) {
	dir := t.TempDir()
	seed(t, dir)
	e := NewServer(dir, filepath.Join(dir, "no-ui"))

	rec := get(t, e, "/api/budget_status")
	require.Equal(t, http.StatusOK, rec.Code)
	var rows []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "Near Limit", rows[0]["status"])
	assert.Equal(t, "90.00", rows[0]["budget_used_percent"])

	rec = get(t, e, "/api/management_groups")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rows))
	assert.Equal(t, "Contoso/Prod", rows[0]["management_group_path"])

	rec = get(t, e, "/api/payload")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload []cloudspending.SubscriptionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "sub-1", payload[0].SubscriptionID)

	rec = get(t, e, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPIMissingFiles(t *testing.T) {
	e := NewServer(t.TempDir(), t.TempDir())
	assert.Equal(t, http.StatusNotFound, get(t, e, "/api/budget_status").Code)
	assert.Equal(t, http.StatusNotFound, get(t, e, "/api/payload").Code)
}

func TestSPAFallback(t *testing.T) {
	ui := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ui, "index.html"), []byte("<html>dashboard</html>"), 0o644))
	e := NewServer(t.TempDir(), ui)

	rec := get(t, e, "/budgets/overview")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard")

	assert.Equal(t, http.StatusNotFound, get(t, e, "/api/unknown").Code)
}
