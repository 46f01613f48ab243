package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/Sternrassler/console-store/pkg/entity"
	"github.com/Sternrassler/console-store/pkg/listsource"
)

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// NewOutputFormatter creates a formatter writing to w.
func NewOutputFormatter(format string, w io.Writer) *OutputFormatter {
	return &OutputFormatter{Format: format, Writer: w}
}

// JSON writes v as indented JSON.
func (f *OutputFormatter) JSON(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Page writes a list page: a table of id, name and state in text mode.
func (f *OutputFormatter) Page(p listsource.Page) error {
	if f.Format == "json" {
		return f.JSON(p)
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATE")
	for _, r := range p.Rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", r.ID, displayName(r.Entity), r.Entity.String("entity.state"))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if p.Error {
		fmt.Fprintf(f.Writer, "error: %s\n", p.Message)
	}
	_, err := fmt.Fprintf(f.Writer, "page %d, %d rows of %d results\n", p.PageNumber, len(p.Rows), p.TotalResults)
	return err
}

// Entity writes one entity: its fields as sorted key/value lines in text
// mode.
func (f *OutputFormatter) Entity(id string, e entity.Entity) error {
	if f.Format == "json" {
		return f.JSON(e)
	}

	fields := map[string]any(e)
	if inner, ok := e.Lookup("entity"); ok {
		if m, ok := inner.(map[string]any); ok {
			fields = m
		}
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id:\t%s\n", id)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s:\t%v\n", k, fields[k])
	}
	return tw.Flush()
}

func displayName(e entity.Entity) string {
	if name := e.String("entity.name"); name != "" {
		return name
	}
	return e.String("name")
}
