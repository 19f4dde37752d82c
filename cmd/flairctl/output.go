package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type outputFormat string

const (
	formatTable outputFormat = "table"
	formatJSON  outputFormat = "json"
	formatYAML  outputFormat = "yaml"
)

type outputMode struct {
	format outputFormat
	w      io.Writer
}

func newOutput(cmd *cobra.Command) outputMode {
	format, _ := cmd.Flags().GetString("output")
	return outputMode{format: outputFormat(strings.ToLower(format)), w: cmd.OutOrStdout()}
}

// structured prints value as JSON or YAML. It reports false for table
// output so the caller can render its own rows.
func (o outputMode) structured(value any) (bool, error) {
	switch o.format {
	case formatJSON:
		data, err := json.MarshalIndent(value, "", "  ")
		if err != nil {
			return true, fmt.Errorf("format json: %w", err)
		}
		_, err = fmt.Fprintln(o.w, string(data))
		return true, err
	case formatYAML:
		// Round-trip through JSON so field names follow the json tags.
		data, err := json.Marshal(value)
		if err != nil {
			return true, fmt.Errorf("format yaml: %w", err)
		}
		return true, o.raw(data)
	case formatTable, "":
		return false, nil
	default:
		return true, fmt.Errorf("unknown output format %q", o.format)
	}
}

// raw prints an already encoded JSON document in the selected format.
func (o outputMode) raw(data []byte) error {
	if o.format != formatYAML {
		_, err := fmt.Fprintln(o.w, string(data))
		return err
	}
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return fmt.Errorf("format yaml: %w", err)
	}
	enc := yaml.NewEncoder(o.w)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return fmt.Errorf("format yaml: %w", err)
	}
	return enc.Close()
}

func (o outputMode) table(rows [][]string) {
	w := tabwriter.NewWriter(o.w, 2, 4, 2, ' ', 0)
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	_ = w.Flush()
}
