// File: cmd/run.go
package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/api/schemas"
	"github.com/xkilldash9x/fireflybatch/internal/queue"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run <prompts.txt>",
		Short: "Generates and downloads images for every prompt in a file",
		Long: `Reads one prompt per line (blank lines are skipped), then submits each prompt to the
open Firefly tab, waits for the images and downloads them. Ctrl+C interrupts the run.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger

			prompts, err := queue.LoadPromptFile(args[0])
			if err != nil {
				return err
			}
			if len(prompts) == 0 {
				return fmt.Errorf("%s contains no prompts", args[0])
			}

			lp := startLogPipeline(ctx, a.cfg, cmd.OutOrStdout(), logger)
			defer func() {
				if err := lp.close(); err != nil {
					logger.Debug("log pipeline closed with error", zap.Error(err))
				}
			}()

			ff, err := connect(ctx, a.cfg, lp, logger)
			if err != nil {
				return err
			}
			defer ff.close()

			if err := ff.controller.Load(prompts); err != nil {
				return err
			}
			runErr := ff.controller.Run(ctx)

			st := ff.controller.State()
			fields := []zap.Field{zap.Int("processed", st.Cursor), zap.Int("total", st.Total())}
			if ff.downloads != nil {
				fields = append(fields, zap.Int64("downloads", ff.downloads.Completed()))
			}
			logger.Info("Run finished.", fields...)

			if errors.Is(runErr, schemas.ErrConnectionLost) {
				return fmt.Errorf("run halted at prompt %d of %d: %w", st.Cursor+1, st.Total(), runErr)
			}
			return runErr
		},
	}
}
