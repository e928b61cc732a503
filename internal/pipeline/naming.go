package pipeline

import (
	"regexp"
	"strings"
	"time"

	"grantcsv/internal/csvout"
	"grantcsv/internal/flatten"
)

// fallbackName is used when the document carries no form name.
const fallbackName = "applications"

var (
	nonAlnum   = regexp.MustCompile(`[^A-Za-z0-9]+`)
	caseChange = regexp.MustCompile(`([a-z0-9])([A-Z])`)
)

// SnakeCase turns a form name into a file-name stem:
// "Community Fund 2025" -> "community_fund_2025", "GrantForm" -> "grant_form".
func SnakeCase(s string) string {
	s = nonAlnum.ReplaceAllString(s, "_")
	s = caseChange.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(strings.Trim(s, "_"))
}

// FormName returns applicationFormName from the first application of a
// merged document, or "" when there is none.
func FormName(doc flatten.Value) string {
	apps := doc.Field("applications")
	switch apps.Kind() {
	case flatten.KindArray:
		if elems := apps.Elems(); len(elems) > 0 {
			return flatten.ToCell(elems[0].Field("applicationFormName"))
		}
	case flatten.KindObject:
		return flatten.ToCell(apps.Field("applicationFormName"))
	}
	return ""
}

// DefaultOutputName derives "<snake_case(form name)>-YYYY-MM-DD.csv" from
// the document, plus the compression suffix.
func DefaultOutputName(doc flatten.Value, day time.Time, compression string) string {
	stem := SnakeCase(FormName(doc))
	if stem == "" {
		stem = fallbackName
	}
	return stem + "-" + day.Format("2006-01-02") + ".csv" + csvout.Extension(compression)
}
