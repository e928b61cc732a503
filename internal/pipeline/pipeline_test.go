package pipeline

import (
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grantcsv/internal/config"
	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/flatten"
	"grantcsv/internal/storage"
)

const pageTemplate = `{
  "applications": [{
    "applicationFormName": "Test Form",
    "applicationFormVersion": 1,
    "ggisReferenceNumber": "G1",
    "totalSubmissionPages": 2,
    "submissions": [{
      "submissionId": "S%[1]d",
      "grantApplicantEmailAddress": "a%[1]d@example.com",
      "sections": [
        {"sectionTitle": "Intro", "questions": [
          {"questionTitle": "Name", "questionResponse": "Org %[1]d"},
          {"questionTitle": "Consent", "questionResponse": true}
        ]},
        {"sectionTitle": "Budget", "questions": [
          {"questionTitle": "Costs", "questionResponse": {"staff": %[1]d, "kit": 5}}
        ]}
      ]
    }]
  }]
}`

func newTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.API.BaseURL = baseURL
	cfg.API.ReferenceNumber = "G1"
	cfg.API.APIKey = "secret"
	cfg.Fetch.RequestIntervalMs = 0
	cfg.Fetch.BackoffBaseMs = 1
	cfg.Fetch.BackoffCapMs = 2
	cfg.Output.Path = filepath.Join(t.TempDir(), "out.csv")
	return cfg
}

func submissionsServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		if r.Header.Get("x-api-key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		if r.URL.Path != "/api/open-data/submissions/G1" {
			http.NotFound(w, r)
			return
		}
		page := 1
		if p := r.URL.Query().Get("pageNumber"); p != "" {
			_, _ = fmt.Sscan(p, &page)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, pageTemplate, page)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunner_Export(t *testing.T) {
	srv := submissionsServer(t, nil)
	cfg := newTestConfig(t, srv.URL)

	summary, err := New(cfg, nil).Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 2, summary.Rows)
	assert.Equal(t, cfg.Output.Path, summary.Output)

	records := readCSV(t, cfg.Output.Path)
	wantHeader := []string{
		"submissionId", "grantApplicantEmailAddress",
		"Section: Intro", "Name",
		"Section: Budget", "Costs_staff",
	}
	if diff := cmp.Diff(wantHeader, records[0]); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"S1", "a1@example.com", "", "Org 1", "", "1"}, records[1])
	assert.Equal(t, []string{"S2", "a2@example.com", "", "Org 2", "", "2"}, records[2])

	wantDropped := []string{
		"applicationFormName", "applicationFormVersion", "applicationId",
		"ggisReferenceNumber", "grantAdminEmailAddress",
		"submittedTimeStamp", "gapId",
		"Consent", "Costs_kit",
	}
	if diff := cmp.Diff(wantDropped, summary.DroppedColumns); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}
}

func TestRunner_ExportDefaultName(t *testing.T) {
	srv := submissionsServer(t, nil)
	cfg := newTestConfig(t, srv.URL)
	cfg.Output.Path = ""
	t.Chdir(t.TempDir())

	day := time.Date(2025, 11, 18, 9, 30, 0, 0, time.UTC)
	summary, err := New(cfg, nil, WithClock(func() time.Time { return day })).Export(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "test_form-2025-11-18.csv", summary.Output)
	assert.FileExists(t, summary.Output)
	assert.Equal(t, []string{
		"Output written to: test_form-2025-11-18.csv",
		"Retrieved 2 applications in 0.00 seconds",
	}, summary.Lines())
}

func TestRunner_ExportKeepsEverythingWhenFilterOff(t *testing.T) {
	srv := submissionsServer(t, nil)
	cfg := newTestConfig(t, srv.URL)
	cfg.Columns.DropConstant = false

	summary, err := New(cfg, nil).Export(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.DroppedColumns)

	header := readCSV(t, cfg.Output.Path)[0]
	assert.Equal(t, flatten.MetaHeader(), header[:9])
	assert.Contains(t, header, "Consent")
	assert.NotContains(t, header, "totalSubmissionPages", "only allow-listed root fields become columns")
}

func TestRunner_ExportUnauthorized(t *testing.T) {
	srv := submissionsServer(t, nil)
	cfg := newTestConfig(t, srv.URL)
	cfg.API.APIKey = "wrong"
	cfg.Fetch.MaxAttempts = 1

	_, err := New(cfg, nil).Export(context.Background())
	require.Error(t, err)
	assert.Equal(t, grerrors.Unauthorized, grerrors.CodeOf(err))
	assert.NoFileExists(t, cfg.Output.Path)
}

func TestRunner_ExportInvalidConfig(t *testing.T) {
	cfg := newTestConfig(t, "https://api.example.gov.uk")
	cfg.API.ReferenceNumber = " "

	_, err := New(cfg, nil).Export(context.Background())
	assert.Equal(t, grerrors.ConfigInvalid, grerrors.CodeOf(err))
}

func TestRunner_ExportUsesCacheAndRecordsRuns(t *testing.T) {
	var hits atomic.Int32
	srv := submissionsServer(t, &hits)
	cfg := newTestConfig(t, srv.URL)
	cfg.Cache.Enabled = true

	db, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 2; i++ {
		_, err := New(cfg, nil, WithStore(db)).Export(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(2), hits.Load(), "second export should be served from the cache")

	_, err = New(cfg, nil, WithStore(db), WithoutCache()).Export(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(4), hits.Load())

	runs, err := storage.NewRunStore(db).List(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.Equal(t, storage.RunSucceeded, r.Status)
		assert.Equal(t, CommandExport, r.Command)
		assert.Equal(t, "G1", r.Source)
		assert.Equal(t, 2, r.Rows)
	}
}

func TestRunner_FailedRunIsRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"unexpected": true}`)
	}))
	defer srv.Close()
	cfg := newTestConfig(t, srv.URL)

	db, err := storage.Open(filepath.Join(t.TempDir(), "cache.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = New(cfg, nil, WithStore(db)).Export(context.Background())
	require.Error(t, err)
	assert.Equal(t, grerrors.UnrecognizedShape, grerrors.CodeOf(err))

	runs, err := storage.NewRunStore(db).List(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, storage.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "UNRECOGNIZED_SHAPE")
}

func TestRunner_Flatten(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "2025", "q1"), 0755))
	files := map[string]string{
		"2025/q1/a.json": `{"applications":{"applicationFormName":"Local","submissions":[
			{"submissionId":"A","sections":[{"sectionTitle":"One","questions":[{"questionTitle":"Q","questionResponse":"x"}]}]}]}}`,
		"2025/b.json": `[{"submissionId":"B","sections":[{"sectionTitle":"One","questions":[{"questionTitle":"Q","questionResponse":"y"}]}]}]`,
		"2025/notes.txt": "ignored",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}

	cfg := config.DefaultConfig()
	cfg.Output.Path = filepath.Join(dir, "out.csv")

	summary, err := New(cfg, nil).Flatten(context.Background(), []string{filepath.Join(dir, "**", "*.json")})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Pages)
	assert.Equal(t, 2, summary.Rows)

	records := readCSV(t, cfg.Output.Path)
	assert.Equal(t, []string{"applicationFormName", "submissionId", "Section: One", "Q"}, records[0])
	// b.json sorts before q1/a.json.
	assert.Equal(t, []string{"", "B", "", "y"}, records[1])
	assert.Equal(t, []string{"Local", "A", "", "x"}, records[2])
}

func TestExpandInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}

	files, err := ExpandInputs([]string{filepath.Join(dir, "b.json"), filepath.Join(dir, "*.json")})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b.json"), filepath.Join(dir, "a.json")}, files)

	_, err = ExpandInputs([]string{filepath.Join(dir, "missing-*.json")})
	assert.Equal(t, grerrors.ConfigInvalid, grerrors.CodeOf(err))

	_, err = ExpandInputs(nil)
	assert.Error(t, err)
}

func TestBuildTable_ShapeErrorNamesDocument(t *testing.T) {
	good, _ := flatten.Decode([]byte(`[{"submissionId":"S"}]`))
	bad, _ := flatten.Decode([]byte(`{"x":1}`))

	_, _, err := BuildTable([]flatten.Value{good, bad}, config.DefaultConfig().Columns)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "document 2"), err.Error())
}

func TestBuildTable_SeparatorsSurviveWithoutKeepPatterns(t *testing.T) {
	doc, _ := flatten.Decode([]byte(`[
		{"submissionId": "S1", "sections": [{"sectionTitle": "Intro", "questions": [{"questionTitle": "Name", "questionResponse": "A"}]}]},
		{"submissionId": "S2", "sections": [{"sectionTitle": "Intro", "questions": [{"questionTitle": "Name", "questionResponse": "A"}]}]}
	]`))
	cols := config.DefaultConfig().Columns
	cols.DropConstant = true
	cols.KeepPatterns = nil

	table, dropped, err := BuildTable([]flatten.Value{doc}, cols)
	require.NoError(t, err)
	assert.Equal(t, []string{"submissionId", "Section: Intro"}, table.Header)
	assert.Contains(t, dropped, "Name")
	assert.NotContains(t, dropped, "Section: Intro")
}
