package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	grerrors "grantcsv/internal/errors"
	"grantcsv/internal/flatten"
)

func mustDecode(t *testing.T, s string) flatten.Value {
	t.Helper()
	v, err := flatten.Decode([]byte(s))
	require.NoError(t, err)
	return v
}

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base, path, ref string
		want            string
		wantErr         bool
	}{
		{"https://api.example.gov.uk", "/api/open-data/submissions/{ggisReferenceNumber}", "GGIS-1", "https://api.example.gov.uk/api/open-data/submissions/GGIS-1", false},
		{"https://api.example.gov.uk///", "submissions/{ggisReferenceNumber}", " G 2 ", "https://api.example.gov.uk/submissions/G%202", false},
		{"https://api.example.gov.uk", "/v1/{ggisReferenceNumber}/subs", "R", "https://api.example.gov.uk/v1/R/subs", false},
		{"https://api.example.gov.uk", "/api/submissions", "R", "", true},
	}
	for _, tt := range tests {
		got, err := Endpoint(tt.base, tt.path, tt.ref)
		if tt.wantErr {
			require.Error(t, err)
			assert.Equal(t, grerrors.ConfigInvalid, grerrors.CodeOf(err))
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		base string
		page int
		want string
	}{
		{"https://x.example/subs/R", 2, "https://x.example/subs/R?pageNumber=2"},
		{"https://x.example/subs/R?size=50", 3, "https://x.example/subs/R?pageNumber=3&size=50"},
		{"https://x.example/subs/R?pageNumber=1", 4, "https://x.example/subs/R?pageNumber=4"},
	}
	for _, tt := range tests {
		got, err := PageURL(tt.base, "pageNumber", tt.page)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}

func TestTotalPages(t *testing.T) {
	tests := []struct {
		doc  string
		want int
	}{
		{`{"applications": [{"totalSubmissionPages": 3}]}`, 3},
		{`{"applications": [{"totalSubmissionPages": "4"}]}`, 4},
		{`{"applications": {"totalSubmissionPages": 5}}`, 5},
		{`{"totalSubmissionPages": "6"}`, 6},
		{`{"applications": [{"totalSubmissionPages": "x"}], "totalSubmissionPages": 2}`, 2},
		{`{"applications": [{"totalSubmissionPages": 2.5}]}`, 1},
		{`{"applications": [{"totalSubmissionPages": "-2"}]}`, 1},
		{`{"applications": [{"totalSubmissionPages": 0}], "totalSubmissionPages": 9}`, 1},
		{`{"applications": []}`, 1},
		{`{}`, 1},
	}
	for _, tt := range tests {
		if got := TotalPages(mustDecode(t, tt.doc)); got != tt.want {
			t.Errorf("TotalPages(%s) = %d, want %d", tt.doc, got, tt.want)
		}
	}
}

func submissionIDs(v flatten.Value) []string {
	var out []string
	for _, s := range v.Field("submissions").Elems() {
		out = append(out, flatten.ToCell(s.Field("submissionId")))
	}
	return out
}

func TestMerge_ApplicationList(t *testing.T) {
	first := mustDecode(t, `{"applications": [
		{"applicationId": "A", "submissions": [{"submissionId": "1"}]},
		{"applicationId": "B"}
	]}`)
	page2 := mustDecode(t, `{"applications": [
		{"submissions": [{"submissionId": "2"}]},
		{"submissions": [{"submissionId": "3"}]},
		{"submissions": [{"submissionId": "ignored"}]}
	]}`)
	page3 := mustDecode(t, `{"applications": [{"submissions": null}]}`)

	merged := Merge(first, page2, page3)
	apps := merged.Field("applications").Elems()
	require.Len(t, apps, 2)
	assert.Equal(t, []string{"1", "2"}, submissionIDs(apps[0]))
	assert.Equal(t, []string{"3"}, submissionIDs(apps[1]))
	assert.False(t, merged.Object().Has("submissions"))

	assert.Equal(t, []string{"1"}, submissionIDs(first.Field("applications").Elems()[0]), "input must not be modified")
}

func TestMerge_ApplicationObjectAndTopLevel(t *testing.T) {
	obj := Merge(
		mustDecode(t, `{"applications": {"applicationFormName": "F", "submissions": [{"submissionId": "1"}]}}`),
		mustDecode(t, `{"applications": {"submissions": [{"submissionId": "2"}]}}`),
	)
	assert.Equal(t, []string{"1", "2"}, submissionIDs(obj.Field("applications")))
	assert.Equal(t, "F", obj.Field("applications").Field("applicationFormName").Str())

	top := Merge(
		mustDecode(t, `{"submissions": [{"submissionId": "1"}]}`),
		mustDecode(t, `{"submissions": [{"submissionId": "2"}, {"submissionId": "3"}]}`),
		mustDecode(t, `{}`),
	)
	assert.Equal(t, []string{"1", "2", "3"}, submissionIDs(top))
}

func pagedServer(t *testing.T, total int, failPage int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		page := 1
		if p := r.URL.Query().Get("pageNumber"); p != "" {
			page, _ = strconv.Atoi(p)
		}
		if page == failPage {
			http.Error(w, "nope", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"applications": [{"applicationFormName": "Form", "totalSubmissionPages": %d,
			"submissions": [{"submissionId": "p%d"}]}]}`, total, page)
	}))
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestFetchAll_MergesInPageOrder(t *testing.T) {
	ts, calls := pagedServer(t, 5, 0)

	c := NewClient("k", testOptions(), nil)
	res, err := c.FetchAll(context.Background(), ts.URL+"/subs/R")
	require.NoError(t, err)

	assert.Equal(t, 5, res.Pages)
	assert.EqualValues(t, 5, calls.Load())
	app := res.Document.Field("applications").Elems()[0]
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, submissionIDs(app))
}

func TestFetchAll_SinglePage(t *testing.T) {
	ts, calls := pagedServer(t, 1, 0)

	res, err := NewClient("k", testOptions(), nil).FetchAll(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pages)
	assert.EqualValues(t, 1, calls.Load())
}

func TestFetchAll_PageFailureAborts(t *testing.T) {
	ts, _ := pagedServer(t, 4, 3)

	_, err := NewClient("k", testOptions(), nil).FetchAll(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch page 3")
	assert.Equal(t, grerrors.TransportFailed, grerrors.CodeOf(err))
}

func TestFetchAll_FirstPageFailure(t *testing.T) {
	ts, _ := pagedServer(t, 4, 1)

	_, err := NewClient("k", testOptions(), nil).FetchAll(context.Background(), ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
}
