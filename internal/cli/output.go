package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func ParseOutputFormat(s string) OutputFormat {
	switch OutputFormat(s) {
	case FormatText, FormatJSON:
		return OutputFormat(s)
	default:
		return FormatText
	}
}

func PrintJSON(w io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(w, string(b))
}

// printer writes command results in the selected format. Text mode calls
// the supplied renderer; JSON mode prints the value itself.
type printer struct {
	format OutputFormat
	w      io.Writer
}

func newPrinter(opts *RootOptions, cmd *cobra.Command) printer {
	return printer{format: ParseOutputFormat(opts.Format), w: cmd.OutOrStdout()}
}

func (p printer) print(v any, text func(w io.Writer)) {
	if p.format == FormatJSON || text == nil {
		PrintJSON(p.w, v)
		return
	}
	text(p.w)
}

// records prints one compact JSON object per line in text mode.
func (p printer) records(recs []map[string]any) {
	p.print(recs, func(w io.Writer) {
		for _, r := range recs {
			b, _ := json.Marshal(r)
			fmt.Fprintln(w, string(b))
		}
	})
}
