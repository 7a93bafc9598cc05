package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/nonibytes/docsync/backup"
)

// passphrase returns the flag value, then $DOCSYNC_PASSPHRASE, then
// backup.passphrase.
func passphrase(flag string, a *app) (string, error) {
	for _, p := range []string{flag, os.Getenv("DOCSYNC_PASSPHRASE"), a.cfg.Backup.Passphrase} {
		if p != "" {
			return p, nil
		}
	}
	return "", usageErrorf("a passphrase is required: pass --passphrase or set backup.passphrase")
}

func NewExportCommand(opts *RootOptions) *cobra.Command {
	var out, pass string
	var toDir bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an encrypted export of the active collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeNoSync, func(a *app) error {
				pw, err := passphrase(pass, a)
				if err != nil {
					return err
				}
				p := newPrinter(opts, cmd)
				if toDir {
					path, err := backup.WriteFile(cmd.Context(), a.eng, a.cfg.Backup.Dir, pw)
					if err != nil {
						return err
					}
					p.print(map[string]any{"path": path}, func(w io.Writer) { fmt.Fprintln(w, path) })
					return nil
				}
				blob, err := backup.Export(cmd.Context(), a.eng, pw)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = cmd.OutOrStdout().Write(blob)
					return err
				}
				if err := os.WriteFile(out, blob, 0o600); err != nil {
					return err
				}
				p.print(map[string]any{"path": out, "bytes": len(blob)}, func(w io.Writer) { fmt.Fprintln(w, out) })
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&pass, "passphrase", "", "encryption passphrase")
	cmd.Flags().BoolVar(&toDir, "to-dir", false, "write a timestamped file into backup.dir")
	return cmd
}

func NewImportCommand(opts *RootOptions) *cobra.Command {
	var pass string
	var replace bool
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Restore an encrypted export into the active collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var blob []byte
			var err error
			if args[0] == "-" {
				blob, err = io.ReadAll(cmd.InOrStdin())
			} else {
				blob, err = os.ReadFile(args[0])
			}
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), opts, modeNoSync, func(a *app) error {
				pw, err := passphrase(pass, a)
				if err != nil {
					return err
				}
				res, err := backup.Import(cmd.Context(), a.eng, blob, pw, backup.ImportOptions{Replace: replace})
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(res, func(w io.Writer) {
					fmt.Fprintf(w, "imported %d records into %s\n", res.Imported, res.ModelName)
				})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&pass, "passphrase", "", "decryption passphrase")
	cmd.Flags().BoolVar(&replace, "replace", false, "clear the collection before importing")
	return cmd
}
