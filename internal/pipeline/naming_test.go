package pipeline

import (
	"testing"
	"time"

	"grantcsv/internal/flatten"
)

func TestSnakeCase(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Community Fund 2025", "community_fund_2025"},
		{"GrantForm", "grant_form"},
		{"  --Test Form (v2)!! ", "test_form_v2"},
		{"already_snake", "already_snake"},
		{"Form9Name", "form9_name"},
		{"", ""},
		{"***", ""},
	}
	for _, tt := range tests {
		if got := SnakeCase(tt.in); got != tt.want {
			t.Errorf("SnakeCase(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDefaultOutputName(t *testing.T) {
	day := time.Date(2025, 3, 7, 18, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		doc         string
		compression string
		want        string
	}{
		{"list", `{"applications":[{"applicationFormName":"Test Form"}]}`, "", "test_form-2025-03-07.csv"},
		{"object", `{"applications":{"applicationFormName":"SmallGrants"}}`, "none", "small_grants-2025-03-07.csv"},
		{"empty list", `{"applications":[]}`, "", "applications-2025-03-07.csv"},
		{"no applications", `{"submissions":[]}`, "", "applications-2025-03-07.csv"},
		{"blank name", `{"applications":[{"applicationFormName":""}]}`, "gzip", "applications-2025-03-07.csv.gz"},
		{"zstd", `{"applications":[{"applicationFormName":"A"}]}`, "zstd", "a-2025-03-07.csv.zst"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := flatten.Decode([]byte(tt.doc))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got := DefaultOutputName(doc, day, tt.compression); got != tt.want {
				t.Errorf("DefaultOutputName = %q, want %q", got, tt.want)
			}
		})
	}
}
