// File: cmd/probe.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/fireflybatch/internal/automation"
	"github.com/xkilldash9x/fireflybatch/internal/browser/dom"
	"github.com/xkilldash9x/fireflybatch/internal/browser/session"
	"github.com/xkilldash9x/fireflybatch/internal/browser/shadowdom"
)

func newProbeCmd(a *app) *cobra.Command {
	var htmlFile, snapshotFile string

	probeCmd := &cobra.Command{
		Use:   "probe",
		Short: "Reports what the automation can see on the Firefly page",
		Long: `Looks for the prompt field, the generate control, result images, download controls
and consent dialogs without typing or clicking. With --html a saved page is inspected instead of
the live tab; --snapshot saves the live page (shadow roots included) for later offline probing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := a.logger

			ac, err := automationConfig(a.cfg)
			if err != nil {
				return err
			}

			var page dom.Primitives
			if htmlFile != "" {
				doc, err := shadowdom.ParseFile(htmlFile)
				if err != nil {
					return err
				}
				page = doc
			} else {
				live, err := session.Open(ctx, a.cfg.Browser, logger)
				if err != nil {
					return fmt.Errorf("connect to Firefly: %w", err)
				}
				defer live.Close()
				defer func() {
					if err := live.Release(ctx); err != nil {
						logger.Debug("failed to release page handles", zap.Error(err))
					}
				}()

				if snapshotFile != "" {
					html, err := live.Snapshot(ctx)
					if err != nil {
						return err
					}
					if err := os.WriteFile(snapshotFile, []byte(html), 0o644); err != nil {
						return fmt.Errorf("write snapshot: %w", err)
					}
					logger.Info("Saved page snapshot.", zap.String("path", snapshotFile), zap.Int("bytes", len(html)))
				}
				page = live
			}

			rep, err := automation.Probe(ctx, page, ac)
			if err != nil {
				return err
			}
			_, err = rep.WriteTo(cmd.OutOrStdout())
			return err
		},
	}

	probeCmd.Flags().StringVar(&htmlFile, "html", "", "inspect a saved HTML file instead of the live tab")
	probeCmd.Flags().StringVar(&snapshotFile, "snapshot", "", "save the live page's HTML to this file")
	return probeCmd
}
