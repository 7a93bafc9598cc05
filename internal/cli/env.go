package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nonibytes/docsync/internal/config"
	"github.com/nonibytes/docsync/internal/envprobe"
)

func NewEnvCommand(opts *RootOptions) *cobra.Command {
	var limit string
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Report storage drivers and disk usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var quota uint64
			if limit != "" {
				n, err := humanize.ParseBytes(limit)
				if err != nil {
					return usageErrorf("--limit: %v", err)
				}
				quota = n
			}
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			caps := envprobe.Probe()
			out := map[string]any{"capabilities": caps, "backend": cfg.Storage.Backend}
			var usage *envprobe.Usage
			if cfg.Storage.Backend == "sqlite" {
				u, err := envprobe.Quota(resolveSQLitePath(cfg.Storage.Path), int64(quota))
				if err != nil {
					return err
				}
				usage = &u
				out["usage"] = u
			}

			newPrinter(opts, cmd).print(out, func(w io.Writer) {
				fmt.Fprintf(w, "platform  %s/%s\n", caps.GOOS, caps.GOARCH)
				fmt.Fprintf(w, "drivers   %s\n", strings.Join(caps.Drivers, ", "))
				fmt.Fprintf(w, "backends  %s\n", strings.Join(caps.Backends, ", "))
				if usage == nil {
					return
				}
				fmt.Fprintf(w, "database  %s\n", usage.Path)
				fmt.Fprintf(w, "used      %s\n", usage.UsedHuman)
				if usage.Free >= 0 {
					fmt.Fprintf(w, "free      %s\n", usage.FreeHuman)
				}
				if usage.Limit > 0 {
					fmt.Fprintf(w, "quota     %s exceeded=%t\n", humanize.IBytes(uint64(usage.Limit)), usage.Exceeded)
				}
			})
			if usage != nil && usage.Exceeded {
				return fmt.Errorf("storage quota exceeded: %s used of %s", usage.UsedHuman, limit)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&limit, "limit", "", "quota to check against, e.g. 50MiB")
	return cmd
}

func NewConfigCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.JSONSchema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			redact(&cfg)
			p := newPrinter(opts, cmd)
			p.print(cfg, func(w io.Writer) {
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				_ = enc.Encode(cfg)
				_ = enc.Close()
			})
			return nil
		},
	})
	return cmd
}

func redact(c *config.Config) {
	for _, s := range []*string{&c.Sync.Token, &c.Sync.JWTSecret, &c.Backup.Passphrase} {
		if *s != "" {
			*s = "********"
		}
	}
	if c.Storage.DSN != "" {
		c.Storage.DSN = "********"
	}
}
