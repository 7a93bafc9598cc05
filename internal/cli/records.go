package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nonibytes/docsync/docstore"
	"github.com/nonibytes/docsync/docstore/query"
)

func parseObject(s string) (docstore.Record, error) {
	var rec docstore.Record
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, usageErrorf("invalid JSON object: %v", err)
	}
	if rec == nil {
		return nil, usageErrorf("expected a JSON object")
	}
	return rec, nil
}

// applySets merges repeated k=v flags into rec, a bare k becomes true.
func applySets(rec docstore.Record, sets []string) docstore.Record {
	if rec == nil && len(sets) > 0 {
		rec = docstore.Record{}
	}
	for _, kv := range sets {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			rec[kv] = true
			continue
		}
		rec[k] = v
	}
	return rec
}

func parseWhere(s string) (query.Query, error) {
	if s == "" {
		return query.Query{}, nil
	}
	q, err := query.ParseJSON([]byte(s), true)
	if err != nil {
		return q, usageErrorf("--where: %v", err)
	}
	return q, nil
}

func NewPutCommand(opts *RootOptions) *cobra.Command {
	var data, from string
	var sets []string
	var cast bool

	cmd := &cobra.Command{
		Use:   "put",
		Short: "Create records from --data, --set or JSON lines on stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var single docstore.Record
			if data != "" {
				rec, err := parseObject(data)
				if err != nil {
					return err
				}
				single = rec
			}
			single = applySets(single, sets)

			copts := docstore.CreateOptions{CastToSchema: cast}
			p := newPrinter(opts, cmd)
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				w := a.writer()
				if single != nil {
					rec, err := w.Create(cmd.Context(), single, copts)
					if err != nil {
						return err
					}
					p.print(rec, func(out io.Writer) { fmt.Fprintln(out, rec[a.eng.Primary()]) })
					return nil
				}

				var in io.Reader = cmd.InOrStdin()
				if from != "" && from != "-" {
					f, err := os.Open(from)
					if err != nil {
						return err
					}
					defer f.Close()
					in = f
				}
				n, err := putLines(cmd.Context(), w, in, copts)
				p.print(map[string]any{"created": n}, func(out io.Writer) { fmt.Fprintf(out, "created %d\n", n) })
				return err
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "record as a JSON object")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set k=v (repeatable)")
	cmd.Flags().StringVar(&from, "import", "", "JSONL file to import (default stdin)")
	cmd.Flags().BoolVar(&cast, "cast", false, "cast values to the schema before validation")
	return cmd
}

// putLines creates one record per non-empty line and stops at the first
// failure.
func putLines(ctx context.Context, w writer, in io.Reader, copts docstore.CreateOptions) (int, error) {
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	n, line := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		rec, err := parseObject(text)
		if err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		if _, err := w.Create(ctx, rec, copts); err != nil {
			return n, fmt.Errorf("line %d: %w", line, err)
		}
		n++
	}
	return n, sc.Err()
}

func NewGetCommand(opts *RootOptions) *cobra.Command {
	var fields []string
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Fetch one record by primary key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				rec, ok, err := a.eng.FindByID(cmd.Context(), args[0], fields...)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("record %q not found", args[0])
				}
				newPrinter(opts, cmd).print(rec, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "project onto these keys")
	return cmd
}

func NewFindCommand(opts *RootOptions) *cobra.Command {
	var where, sortKey, order string
	var fields []string
	var byDate bool
	var limit int

	cmd := &cobra.Command{
		Use:   "find",
		Short: "List records matching a query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseWhere(where)
			if err != nil {
				return err
			}
			if order != string(docstore.Asc) && order != string(docstore.Desc) {
				return usageErrorf("--order must be asc or desc")
			}
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				recs, err := a.eng.Find(cmd.Context(), docstore.FindOptions{Query: q})
				if err != nil {
					return err
				}
				if sortKey != "" {
					so := docstore.SortOptions{Key: sortKey, Order: docstore.Order(order)}
					if byDate {
						so.Mode = docstore.SortDate
					}
					recs = docstore.Sort(recs, so)
				}
				recs = docstore.Limit(recs, limit)
				if len(fields) > 0 {
					recs = projectAll(recs, fields)
				}
				newPrinter(opts, cmd).records(recs)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&where, "where", "", `query as JSON, e.g. {"age":{"$gt":30}}`)
	f.StringSliceVar(&fields, "fields", nil, "project onto these keys")
	f.StringVar(&sortKey, "sort", "", "sort by this key")
	f.StringVar(&order, "order", "asc", "sort order (asc|desc)")
	f.BoolVar(&byDate, "date", false, "compare sort keys as dates")
	f.IntVar(&limit, "limit", -1, "maximum records to print (negative for all)")
	return cmd
}

// projectAll runs after sorting so the sort key need not be projected.
func projectAll(recs []docstore.Record, fields []string) []docstore.Record {
	out := make([]docstore.Record, len(recs))
	for i, r := range recs {
		p := make(docstore.Record, len(fields))
		for _, f := range fields {
			if v, ok := r[f]; ok {
				p[f] = v
			}
		}
		out[i] = p
	}
	return out
}

func NewUpdateCommand(opts *RootOptions) *cobra.Command {
	var data string
	var sets []string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Merge a partial record into an existing one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch docstore.Record
			if data != "" {
				rec, err := parseObject(data)
				if err != nil {
					return err
				}
				patch = rec
			}
			patch = applySets(patch, sets)
			if len(patch) == 0 {
				return usageErrorf("nothing to update: pass --data or --set")
			}
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				rec, err := a.writer().Update(cmd.Context(), patch, args[0])
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(rec, nil)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "patch as a JSON object")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "set k=v (repeatable)")
	return cmd
}

func NewDeleteCommand(opts *RootOptions) *cobra.Command {
	var id, where string
	cmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete one record by id, or every record matching --where",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if id != "" && id != args[0] {
					return usageErrorf("conflicting ids %q and %q", args[0], id)
				}
				id = args[0]
			}
			if (id != "") == (where != "") {
				return usageErrorf("pass exactly one of <id>, --id or --where")
			}
			p := newPrinter(opts, cmd)
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				if id != "" {
					if err := a.writer().Delete(cmd.Context(), id); err != nil {
						return err
					}
					p.print(map[string]any{"deleted": 1}, func(out io.Writer) { fmt.Fprintln(out, "deleted") })
					return nil
				}
				q, err := parseWhere(where)
				if err != nil {
					return err
				}
				n, err := a.eng.DeleteMany(cmd.Context(), docstore.FindOptions{Query: q})
				if err != nil {
					return err
				}
				p.print(map[string]any{"deleted": n}, func(out io.Writer) { fmt.Fprintf(out, "deleted %d\n", n) })
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "primary key of the record to delete")
	cmd.Flags().StringVar(&where, "where", "", "delete every record matching this JSON query")
	return cmd
}

func NewCountCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Count records in the active collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				n, err := a.eng.Count(cmd.Context())
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(map[string]any{"count": n}, func(out io.Writer) { fmt.Fprintln(out, n) })
				return nil
			})
		},
	}
}

func NewClearCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every record from the active collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return usageErrorf("clear removes every record; pass --yes to confirm")
			}
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				if err := a.eng.Clear(cmd.Context()); err != nil {
					return err
				}
				newPrinter(opts, cmd).print(map[string]any{"cleared": a.eng.ActiveCollection()}, func(out io.Writer) {
					fmt.Fprintln(out, "cleared", a.eng.ActiveCollection())
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}
