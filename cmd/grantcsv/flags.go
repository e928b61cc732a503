package main

import (
	"github.com/spf13/cobra"

	"grantcsv/internal/config"
)

// tableFlags are the column and output flags shared by export and flatten.
type tableFlags struct {
	output             string
	compression        string
	includeQuestionID  bool
	prefixSectionTitle bool
	noSeparators       bool
	keepConstant       bool
	ignoreEmpty        bool
	keep               []string
	jsonSummary        bool
}

func (f *tableFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.output, "output", "o", "", "Output CSV path (default <form_name>-YYYY-MM-DD.csv)")
	flags.StringVar(&f.compression, "compression", "", "Compress the output: none, gzip, zstd")
	flags.BoolVar(&f.includeQuestionID, "include-question-id", false, "Append __<questionId> to every question column")
	flags.BoolVar(&f.prefixSectionTitle, "prefix-section-title", false, "Prefix question columns with <sectionTitle>__")
	flags.BoolVar(&f.noSeparators, "no-separators", false, "Omit the empty 'Section: <title>' columns")
	flags.BoolVar(&f.keepConstant, "keep-constant", false, "Keep columns with a single distinct value")
	flags.BoolVar(&f.ignoreEmpty, "ignore-empty", false, "Treat blank cells as absent when finding constant columns")
	flags.StringSliceVar(&f.keep, "keep", nil, "Regex of columns never dropped as constant (repeatable)")
	flags.BoolVar(&f.jsonSummary, "json", false, "Print the run summary as JSON")
}

// apply overlays flags the user set onto c.
func (f *tableFlags) apply(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("output") {
		c.Output.Path = f.output
	}
	if flags.Changed("compression") {
		c.Output.Compression = f.compression
	}
	if flags.Changed("include-question-id") {
		c.Columns.IncludeQuestionID = f.includeQuestionID
	}
	if flags.Changed("prefix-section-title") {
		c.Columns.PrefixSectionTitle = f.prefixSectionTitle
	}
	if flags.Changed("no-separators") {
		c.Columns.SectionSeparators = !f.noSeparators
	}
	if flags.Changed("keep-constant") {
		c.Columns.DropConstant = !f.keepConstant
	}
	if flags.Changed("ignore-empty") {
		c.Columns.IgnoreEmpty = f.ignoreEmpty
	}
	if flags.Changed("keep") {
		c.Columns.KeepPatterns = append(c.Columns.KeepPatterns, f.keep...)
	}
}
