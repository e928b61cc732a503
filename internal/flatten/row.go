package flatten

import "strings"

// Root-level fields copied into every row, in header order.
var RootMetaFields = []string{
	"applicationFormName",
	"applicationFormVersion",
	"applicationId",
	"ggisReferenceNumber",
	"grantAdminEmailAddress",
}

// Submission-level fields copied into every row, in header order.
var SubmissionMetaFields = []string{
	"submissionId",
	"grantApplicantEmailAddress",
	"submittedTimeStamp",
	"gapId",
}

const (
	// SeparatorPrefix starts every section separator column name.
	SeparatorPrefix = "Section: "
	// UntitledSection names sections with neither a title nor an id.
	UntitledSection = "Untitled Section"
	// fallbackQuestion names questions with neither a title nor an id.
	fallbackQuestion = "question"
	// dupSuffix disambiguates a repeated column when the question has no id.
	dupSuffix = "dup"
)

// Options controls how question columns are named.
type Options struct {
	// IncludeQuestionID appends "__<questionId>" to every question column.
	IncludeQuestionID bool
	// PrefixSectionTitle prepends "<sectionTitle>__" to every question column.
	PrefixSectionTitle bool
	// SectionSeparators emits an empty "Section: <title>" column per section.
	SectionSeparators bool
}

// DefaultOptions matches the exporter's defaults: separators on, no id
// suffixes, no section prefixes.
func DefaultOptions() Options {
	return Options{SectionSeparators: true}
}

// Block is the run of columns produced by one section, in JSON order.
type Block struct {
	// Separator is the section's separator column, or "" when disabled.
	Separator string
	Columns   []string
}

// Row is one submission's extracted cells plus the ordering information the
// header aggregator needs.
type Row struct {
	Meta   *Columns
	Data   *Columns
	Blocks []Block
}

// MetaHeader returns the sanitized meta column names in canonical order.
func MetaHeader() []string {
	out := make([]string, 0, len(RootMetaFields)+len(SubmissionMetaFields))
	for _, f := range RootMetaFields {
		out = append(out, Sanitize(f))
	}
	for _, f := range SubmissionMetaFields {
		out = append(out, Sanitize(f))
	}
	return out
}

// SeparatorName returns the separator column for a section title.
func SeparatorName(sectionTitle string) string {
	title := sectionTitle
	if title == "" {
		title = UntitledSection
	}
	return SeparatorPrefix + strings.TrimSpace(title)
}

// ExtractRow builds one submission's meta columns, question columns and
// ordered section blocks.
//
// Root meta fields come from rootMeta unless the submission carries them
// itself. Within a row, a scalar answer whose column name is already taken
// is renamed with its question id (or "dup") instead of overwriting the
// earlier answer. Nothing is disambiguated across rows: equally named
// questions in different submissions share a column.
func ExtractRow(rootMeta *Object, submission Value, opts Options) Row {
	row := Row{Meta: NewColumns(), Data: NewColumns()}

	for _, f := range RootMetaFields {
		if v, ok := rootMeta.Get(f); ok {
			row.Meta.Set(Sanitize(f), ToCell(v))
		}
	}
	for _, f := range SubmissionMetaFields {
		if v, ok := submission.Get(f); ok {
			row.Meta.Set(Sanitize(f), ToCell(v))
		}
	}
	for _, f := range RootMetaFields {
		if v, ok := submission.Get(f); ok {
			row.Meta.Set(Sanitize(f), ToCell(v))
		}
	}

	for _, section := range submission.Field("sections").Elems() {
		title := firstText(section.Field("sectionTitle"), section.Field("sectionId"))

		var block Block
		if opts.SectionSeparators {
			block.Separator = SeparatorName(title)
			if !row.Data.Has(block.Separator) {
				row.Data.Set(block.Separator, "")
			}
		}

		for _, question := range section.Field("questions").Elems() {
			qTitle := strings.TrimSpace(firstText(question.Field("questionTitle")))
			qID := question.Field("questionId")
			col := columnName(qTitle, qID, title, opts)
			response := question.Field("questionResponse")

			if response.IsContainer() {
				flat := Flatten(col, response)
				for _, name := range flat.Names() {
					cell, _ := flat.Get(name)
					row.Data.Set(name, cell)
					block.Columns = append(block.Columns, name)
				}
				continue
			}

			if row.Data.Has(col) && !opts.IncludeQuestionID {
				suffix := dupSuffix
				if qID.Truthy() {
					suffix = SanitizeValue(qID)
				}
				col = col + "__" + suffix
			}
			row.Data.Set(col, ToCell(response))
			block.Columns = append(block.Columns, col)
		}

		row.Blocks = append(row.Blocks, block)
	}

	return row
}

// columnName derives a question's base column name.
func columnName(title string, id Value, sectionTitle string, opts Options) string {
	var base string
	switch {
	case title != "":
		base = Sanitize(title)
	case id.Truthy():
		base = SanitizeValue(id)
	default:
		base = Sanitize(fallbackQuestion)
	}
	if opts.PrefixSectionTitle && sectionTitle != "" {
		base = Sanitize(sectionTitle) + "__" + base
	}
	if opts.IncludeQuestionID && id.Truthy() {
		base = base + "__" + SanitizeValue(id)
	}
	return base
}

// firstText returns the cell text of the first usable value.
func firstText(candidates ...Value) string {
	for _, c := range candidates {
		if c.Truthy() {
			return ToCell(c)
		}
	}
	return ""
}
