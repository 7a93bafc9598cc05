package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nonibytes/docsync/authority"
	"github.com/nonibytes/docsync/backup"
	"github.com/nonibytes/docsync/docstore"
	"github.com/nonibytes/docsync/syncsvc"
)

func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var watch bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push local changes and pull remote ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, modeClient, func(a *app) error {
				m, err := a.requireSync()
				if err != nil {
					return err
				}
				p := newPrinter(opts, cmd)
				if !watch {
					res := m.Sync(ctx)
					printSyncResult(p, res)
					if !res.Success {
						return syncErr(res)
					}
					return nil
				}

				every := interval
				if every == 0 {
					every = a.cfg.Sync.Interval.Std()
				}
				auto, err := m.SetupAutoSync(ctx, every, func(res syncsvc.SyncResult) {
					printSyncResult(p, res)
				})
				if err != nil {
					return usageErrorf("--interval: %v", err)
				}
				a.log.Infow("auto sync started", "interval", every)
				<-ctx.Done()
				auto.Stop()
				a.log.Infow("auto sync stopped", "runs", auto.Runs(), "skipped", auto.Skipped())
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep syncing on an interval until interrupted")
	cmd.Flags().DurationVar(&interval, "interval", 0, "interval for --watch (default sync.interval)")

	cmd.AddCommand(newConflictsCommand(opts), newResolveCommand(opts))
	return cmd
}

func syncErr(res syncsvc.SyncResult) error {
	return errors.Join(res.Push.Err, res.Pull.Err)
}

func printSyncResult(p printer, res syncsvc.SyncResult) {
	out := map[string]any{
		"success":      res.Success,
		"synchronized": res.Synchronized,
		"pushed":       res.Push.Synchronized,
		"pulled":       res.Pull.Synchronized,
	}
	if err := syncErr(res); err != nil {
		out["error"] = err.Error()
	}
	p.print(out, func(w io.Writer) {
		fmt.Fprintf(w, "pushed %d, pulled %d\n", res.Push.Synchronized, res.Pull.Synchronized)
	})
}

func newConflictsCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List records waiting for manual resolution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				m, err := a.requireSync()
				if err != nil {
					return err
				}
				recs, err := m.Find(cmd.Context(), docstore.FindOptions{
					Where: map[string]any{m.Fields().Status: string(syncsvc.StatusConflict)},
				})
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).records(recs)
				return nil
			})
		},
	}
}

func newResolveCommand(opts *RootOptions) *cobra.Command {
	var useServer, keepLocal bool
	cmd := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Resolve a conflict with --server or --local",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if useServer == keepLocal {
				return usageErrorf("pass exactly one of --server or --local")
			}
			return withApp(cmd.Context(), opts, modeClient, func(a *app) error {
				m, err := a.requireSync()
				if err != nil {
					return err
				}
				rec, err := m.ResolveConflict(cmd.Context(), args[0], useServer)
				if err != nil {
					return err
				}
				newPrinter(opts, cmd).print(rec, nil)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&useServer, "server", false, "take the server version")
	cmd.Flags().BoolVar(&keepLocal, "local", false, "keep the local version and push it next sync")
	return cmd
}

func NewServeCommand(opts *RootOptions) *cobra.Command {
	var listen string
	var autoBackup bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the sync pull and push endpoints from this store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withApp(ctx, opts, modeAuthority, func(a *app) error {
				addr := listen
				if addr == "" {
					addr = a.cfg.Sync.Listen
				}
				hopts := authority.DefaultOptions()
				hopts.Logger = a.log
				if a.cfg.Sync.JWTSecret != "" {
					hopts.Secret = []byte(a.cfg.Sync.JWTSecret)
				} else {
					a.log.Warn("sync.jwt_secret is empty; serving without authentication")
				}

				if autoBackup {
					ab, err := backup.StartAuto(ctx, a.eng, backup.AutoOptions{
						Dir:        a.cfg.Backup.Dir,
						Passphrase: a.cfg.Backup.Passphrase,
						Interval:   a.cfg.Backup.Interval.Std(),
						OnWrite: func(path string, err error) {
							if err != nil {
								a.log.Errorw("backup failed", "error", err)
								return
							}
							a.log.Infow("backup written", "path", path)
						},
					})
					if err != nil {
						return err
					}
					defer ab.Stop()
				}

				srv := &http.Server{
					Addr:              addr,
					Handler:           authority.New(a.eng, hopts),
					ReadHeaderTimeout: 10 * time.Second,
					BaseContext:       func(net.Listener) context.Context { return ctx },
				}
				g, gctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					a.log.Infow("serving", "addr", addr, "collection", a.eng.ActiveCollection())
					if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						return err
					}
					return nil
				})
				g.Go(func() error {
					<-gctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return srv.Shutdown(sctx)
				})
				return g.Wait()
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default sync.listen)")
	cmd.Flags().BoolVar(&autoBackup, "backup", false, "write encrypted backups every backup.interval")
	return cmd
}
