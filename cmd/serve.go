// File: cmd/serve.go
package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/fireflybatch/internal/panel"
	"github.com/xkilldash9x/fireflybatch/internal/queue"
)

func newServeCmd(a *app) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve [prompts.txt]",
		Short: "Serves a websocket control panel for the prompt queue",
		Long: `Connects to the Firefly tab and waits for control messages on the panel socket
(LOAD, START, RESUME, PAUSE, STOP, RESET). An optional prompt file is loaded at startup and,
with --watch, reloaded whenever it is saved.`,
		Args: cobra.MaximumNArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if err := a.v.BindPFlag("panel.listen", cmd.Flags().Lookup("listen")); err != nil {
				return err
			}
			if err := a.v.BindPFlag("queue.watch", cmd.Flags().Lookup("watch")); err != nil {
				return err
			}
			a.cfg.Panel.Listen = a.v.GetString("panel.listen")
			a.cfg.Queue.Watch = a.v.GetBool("queue.watch")
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger
			cfg := a.cfg

			var prompts []string
			if len(args) == 1 {
				loaded, err := queue.LoadPromptFile(args[0])
				if err != nil {
					return err
				}
				prompts = loaded
			}

			lp := startLogPipeline(ctx, cfg, cmd.OutOrStdout(), logger)
			defer func() {
				if err := lp.close(); err != nil {
					logger.Debug("log pipeline closed with error", zap.Error(err))
				}
			}()

			ff, err := connect(ctx, cfg, lp, logger)
			if err != nil {
				return err
			}
			defer ff.close()

			if prompts != nil {
				if err := ff.controller.Load(prompts); err != nil {
					return err
				}
			}

			srv := panel.NewServer(ff.controller, lp.bus, panel.Config{
				Listen:        cfg.Panel.Listen,
				ControlRate:   cfg.Panel.ControlRate,
				ControlBurst:  cfg.Panel.ControlBurst,
				WriteTimeout:  cfg.Panel.WriteTimeout,
				AllowedOrigin: cfg.Panel.AllowedOrigin,
			}, logger)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx)
			})
			if cfg.Queue.Watch && len(args) == 1 {
				g.Go(func() error {
					return queue.WatchPromptFile(gctx, ff.controller, args[0], cfg.Queue.WatchDebounce, logger)
				})
			}

			err = g.Wait()
			_ = ff.controller.Stop()
			if err != nil {
				return err
			}
			return ctx.Err()
		},
	}

	serveCmd.Flags().String("listen", "", "address the control panel listens on (overrides config)")
	serveCmd.Flags().Bool("watch", false, "reload the prompt file when it changes")
	return serveCmd
}
