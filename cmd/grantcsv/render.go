package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Output formats for structured command output.
const (
	formatHuman = "human"
	formatJSON  = "json"
	formatYAML  = "yaml"
	formatTOML  = "toml"
)

// render writes v in a structured format. TOML needs a table at the top
// level, so v must be a struct or map for it.
func render(w io.Writer, v interface{}, format string) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(v); err != nil {
			return err
		}
		_, err := w.Write(buf.Bytes())
		return err
	default:
		return usageError{fmt.Errorf("unsupported format: %s", format)}
	}
}
