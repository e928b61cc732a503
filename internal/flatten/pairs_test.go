package flatten

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func submissionIDs(pairs []Pair) []string {
	var out []string
	for _, p := range pairs {
		out = append(out, ToCell(p.Submission.Field("submissionId")))
	}
	return out
}

func TestCoercePairs(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantIDs  []string
		wantRoot []string // root keys of the first pair
	}{
		{
			name: "applications list",
			doc: `{"applications": [
				{"applicationId": "A", "submissions": [{"submissionId": "1"}, {"submissionId": "2"}]},
				{"applicationId": "B", "submissions": [{"submissionId": "3"}]}
			]}`,
			wantIDs:  []string{"1", "2", "3"},
			wantRoot: []string{"applicationId"},
		},
		{
			name:     "applications object",
			doc:      `{"applications": {"applicationFormName": "F", "submissions": [{"submissionId": "1"}]}}`,
			wantIDs:  []string{"1"},
			wantRoot: []string{"applicationFormName"},
		},
		{
			name:     "top-level submissions",
			doc:      `{"ggisReferenceNumber": "G", "submissions": [{"submissionId": "1"}], "extra": true}`,
			wantIDs:  []string{"1"},
			wantRoot: []string{"ggisReferenceNumber", "extra"},
		},
		{
			name:    "bare list",
			doc:     `[{"submissionId": "1"}, {"submissionId": "2"}]`,
			wantIDs: []string{"1", "2"},
		},
		{
			name:    "single submission by id",
			doc:     `{"submissionId": "9"}`,
			wantIDs: []string{"9"},
		},
		{
			name:    "single submission by sections",
			doc:     `{"sections": []}`,
			wantIDs: []string{""},
		},
		{
			name:    "application without submissions",
			doc:     `{"applications": [{"applicationId": "A"}, "junk", {"submissions": "nope"}]}`,
			wantIDs: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pairs, err := CoercePairs(mustDecode(t, tt.doc))
			if err != nil {
				t.Fatalf("CoercePairs: %v", err)
			}
			if diff := cmp.Diff(tt.wantIDs, submissionIDs(pairs)); diff != "" {
				t.Errorf("submissions mismatch (-want +got):\n%s", diff)
			}
			if len(pairs) > 0 {
				if pairs[0].Root.Has("submissions") {
					t.Error("root metadata must not include submissions")
				}
				var gotRoot []string
				gotRoot = append(gotRoot, pairs[0].Root.Keys()...)
				if diff := cmp.Diff(tt.wantRoot, gotRoot); diff != "" {
					t.Errorf("root keys mismatch (-want +got):\n%s", diff)
				}
			}
		})
	}
}

func TestCoercePairs_RootPerApplication(t *testing.T) {
	doc := mustDecode(t, `{"applications": [
		{"applicationId": "A", "submissions": [{"submissionId": "1"}]},
		{"applicationId": "B", "submissions": [{"submissionId": "2"}]}
	]}`)
	pairs, err := CoercePairs(doc)
	if err != nil {
		t.Fatalf("CoercePairs: %v", err)
	}
	for i, want := range []string{"A", "B"} {
		v, _ := pairs[i].Root.Get("applicationId")
		if got := ToCell(v); got != want {
			t.Errorf("pair %d applicationId = %q, want %q", i, got, want)
		}
	}
}

func TestCoercePairs_Unrecognized(t *testing.T) {
	for _, doc := range []string{`{"foo": 1}`, `"text"`, `42`, `null`} {
		if _, err := CoercePairs(mustDecode(t, doc)); !errors.Is(err, ErrUnrecognizedShape) {
			t.Errorf("CoercePairs(%s) err = %v, want ErrUnrecognizedShape", doc, err)
		}
	}
}
