package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/twinbud/pkg/earbud"
)

// OutputFormat is an output format name.
type OutputFormat string

const (
	FormatYAML  OutputFormat = "yaml"
	FormatJSON  OutputFormat = "json"
	FormatTable OutputFormat = "table"
)

// OutputOptions configures Output.
type OutputOptions struct {
	Format OutputFormat
	// Writer defaults to os.Stdout.
	Writer io.Writer
	// Styles is used by the table format. Default is NewStyles(DefaultTheme).
	Styles *Styles
}

// Output writes result in the requested format. The table format is
// available for earbud.Status only.
func Output(result any, opts OutputOptions) error {
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	switch opts.Format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case FormatYAML, "":
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("cli: format output: %w", err)
		}
		_, err = w.Write(data)
		return err
	case FormatTable:
		st, ok := result.(earbud.Status)
		if !ok {
			if p, isPtr := result.(*earbud.Status); isPtr && p != nil {
				st, ok = *p, true
			}
		}
		if !ok {
			return fmt.Errorf("cli: table output not supported for %T", result)
		}
		styles := NewStyles(DefaultTheme)
		if opts.Styles != nil {
			styles = *opts.Styles
		}
		_, err := io.WriteString(w, RenderStatus(st, styles)+"\n")
		return err
	default:
		return fmt.Errorf("cli: unsupported output format: %s", opts.Format)
	}
}

// PrintSuccess prints a success message with a checkmark.
func PrintSuccess(format string, args ...any) {
	fmt.Printf("✓ "+format+"\n", args...)
}

// PrintError prints an error message to stderr.
func PrintError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
}
