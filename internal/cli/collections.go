package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nonibytes/docsync/docstore"
)

func NewCollectionsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "collections",
		Aliases: []string{"coll"},
		Short:   "List or add collections",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List collections of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				out := map[string]any{
					"collections": a.eng.Collections(),
					"active":      a.eng.ActiveCollection(),
					"version":     a.eng.Version(),
				}
				newPrinter(opts, cmd).print(out, func(w io.Writer) {
					for _, c := range a.eng.Collections() {
						mark := " "
						if c == a.eng.ActiveCollection() {
							mark = "*"
						}
						fmt.Fprintf(w, "%s %s\n", mark, c)
					}
				})
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name>...",
		Short: "Add collections, bumping the database version",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				res, err := a.eng.AddCollections(cmd.Context(), args...)
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(res, func(w io.Writer) {
					if len(res.AddedCollections) == 0 {
						fmt.Fprintln(w, "nothing added")
						return
					}
					fmt.Fprintf(w, "added %s (version %d)\n", strings.Join(res.AddedCollections, ", "), a.eng.Version())
				})
				return nil
			})
		},
	})
	return cmd
}

func NewDropCommand(opts *RootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Delete the whole database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return usageErrorf("drop deletes every collection; pass --yes to confirm")
			}
			return withApp(cmd.Context(), opts, modeNoSync, func(a *app) error {
				if err := a.eng.Drop(cmd.Context()); err != nil {
					return err
				}
				newPrinter(opts, cmd).print(map[string]any{"dropped": a.eng.Name()}, func(w io.Writer) {
					fmt.Fprintln(w, "dropped", a.eng.Name())
				})
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func NewIndexCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Check, create or drop field indexes on the active collection",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check <field>",
		Short: "Report whether a field is indexed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				info, ok, err := a.eng.CheckIndex(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := map[string]any{"field": args[0], "exists": ok}
				if ok {
					out["index"] = info
				}
				newPrinter(opts, cmd).print(out, func(w io.Writer) {
					if !ok {
						fmt.Fprintf(w, "%s: not indexed\n", args[0])
						return
					}
					fmt.Fprintf(w, "%s: %s unique=%t\n", args[0], info.Name, info.Unique)
				})
				return nil
			})
		},
	})

	var unique bool
	create := &cobra.Command{
		Use:   "create <field>",
		Short: "Create an index, a no-op when it exists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				if err := a.eng.CreateIndex(cmd.Context(), args[0], docstore.IndexOptions{Unique: unique}); err != nil {
					return err
				}
				newPrinter(opts, cmd).print(map[string]any{"created": args[0], "unique": unique}, func(w io.Writer) {
					fmt.Fprintln(w, "indexed", args[0])
				})
				return nil
			})
		},
	}
	create.Flags().BoolVar(&unique, "unique", false, "reject duplicate values")
	cmd.AddCommand(create)

	cmd.AddCommand(&cobra.Command{
		Use:   "drop <field>",
		Short: "Drop a field index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				if err := a.eng.DropIndex(cmd.Context(), args[0]); err != nil {
					return err
				}
				newPrinter(opts, cmd).print(map[string]any{"dropped": args[0]}, func(w io.Writer) {
					fmt.Fprintln(w, "dropped index", args[0])
				})
				return nil
			})
		},
	})
	return cmd
}

func NewDatabasesCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "databases",
		Short: "List databases held by the storage backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeNoSync, func(a *app) error {
				dbs, err := a.eng.Databases(cmd.Context())
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(dbs, func(w io.Writer) {
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "NAME\tVERSION\tSTORES")
					for _, d := range dbs {
						fmt.Fprintf(tw, "%s\t%d\t%d\n", d.Name, d.Version, len(d.Stores))
					}
					tw.Flush()
				})
				return nil
			})
		},
	}
}

func NewAnalyzeCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze [database]",
		Short: "Report collections, record counts and indexes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return withApp(cmd.Context(), opts, modeNoSync, func(a *app) error {
				an, err := a.eng.AnalyzeDB(cmd.Context(), name)
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(an, func(w io.Writer) {
					fmt.Fprintf(w, "%s (version %d)\n", an.Name, an.Version)
					tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
					fmt.Fprintln(tw, "COLLECTION\tKEY\tCOUNT\tINDEXES")
					for _, c := range an.Collections {
						names := make([]string, 0, len(c.Indexes))
						for _, ix := range c.Indexes {
							names = append(names, ix.Field)
						}
						fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", c.Name, c.KeyPath, c.Count, strings.Join(names, ","))
					}
					tw.Flush()
				})
				return nil
			})
		},
	}
}
