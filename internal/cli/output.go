package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dl-alexandre/ocsync/internal/types"
	"github.com/dl-alexandre/ocsync/internal/utils"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
)

// OutputWriter handles CLI output formatting
type OutputWriter struct {
	format   types.OutputFormat
	quiet    bool
	verbose  bool
	warnings []types.CLIWarning
	stdout   io.Writer
	stderr   io.Writer
}

// NewOutputWriter creates a new output writer
func NewOutputWriter(format types.OutputFormat, quiet, verbose bool) *OutputWriter {
	return &OutputWriter{
		format:   format,
		quiet:    quiet,
		verbose:  verbose,
		warnings: []types.CLIWarning{},
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
}

// AddWarning adds a warning to the output
func (w *OutputWriter) AddWarning(code, message, severity string) {
	w.warnings = append(w.warnings, types.CLIWarning{
		Code:     code,
		Message:  message,
		Severity: severity,
	})
}

// WriteSuccess writes a successful result
func (w *OutputWriter) WriteSuccess(command string, data interface{}) error {
	output := types.CLIOutput{
		SchemaVersion: utils.SchemaVersion,
		TraceID:       uuid.New().String(),
		Command:       command,
		Data:          data,
		Warnings:      w.warnings,
		Errors:        []types.CLIError{},
	}

	if w.format == types.OutputFormatJSON {
		return w.writeJSON(output)
	}
	for _, warn := range w.warnings {
		w.Log("Warning: %s", warn.Message)
	}
	return w.writeTable(command, data)
}

// WriteError prints the error and returns it as an *utils.AppError so the
// process exits with the matching code.
func (w *OutputWriter) WriteError(command string, cliErr types.CLIError) error {
	if w.format == types.OutputFormatJSON {
		output := types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       uuid.New().String(),
			Command:       command,
			Data:          nil,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{cliErr},
		}
		if err := w.writeJSON(output); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(w.stderr, "Error [%s]: %s\n", cliErr.Code, cliErr.Message)
	}
	return utils.NewAppError(cliErr)
}

func (w *OutputWriter) writeJSON(output types.CLIOutput) error {
	encoder := json.NewEncoder(w.stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(output)
}

func (w *OutputWriter) writeTable(command string, data interface{}) error {
	if renderable, ok := data.(types.TableRenderable); ok {
		return w.renderTable(renderable.AsTableRenderer())
	}
	if renderer, ok := data.(types.TableRenderer); ok {
		return w.renderTable(renderer)
	}
	switch v := data.(type) {
	case nil:
		return nil
	case string:
		if !w.quiet {
			fmt.Fprintln(w.stdout, v)
		}
		return nil
	case map[string]string:
		return w.renderTable(keyValueTable(v))
	default:
		// Fallback to JSON for unknown types
		return w.writeJSON(types.CLIOutput{
			SchemaVersion: utils.SchemaVersion,
			TraceID:       uuid.New().String(),
			Command:       command,
			Data:          data,
			Warnings:      w.warnings,
			Errors:        []types.CLIError{},
		})
	}
}

func (w *OutputWriter) renderTable(renderer types.TableRenderer) error {
	rows := renderer.Rows()
	if len(rows) == 0 {
		if !w.quiet {
			fmt.Fprintln(w.stdout, renderer.EmptyMessage())
		}
		return nil
	}

	table := tablewriter.NewWriter(w.stdout)
	table.SetHeader(renderer.Headers())
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for _, row := range rows {
		table.Append(row)
	}

	table.Render()
	return nil
}

// Log writes to stderr if not quiet
func (w *OutputWriter) Log(format string, args ...interface{}) {
	if !w.quiet {
		fmt.Fprintf(w.stderr, format+"\n", args...)
	}
}

// Verbose writes to stderr if verbose is enabled
func (w *OutputWriter) Verbose(format string, args ...interface{}) {
	if w.verbose {
		fmt.Fprintf(w.stderr, "[VERBOSE] "+format+"\n", args...)
	}
}

// keyValueTable renders a flat map sorted by key.
type keyValueTable map[string]string

func (t keyValueTable) Headers() []string { return []string{"Key", "Value"} }

func (t keyValueTable) Rows() [][]string {
	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, t[k]})
	}
	return rows
}

func (t keyValueTable) EmptyMessage() string { return "Nothing to show" }
