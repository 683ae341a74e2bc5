package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/thumbor-attrs/internal/observability"
	"github.com/xkilldash9x/thumbor-attrs/internal/results"
)

type rewriteFlags struct {
	in        string
	out       string
	baseURL   string
	report    string
	force     bool
	noPreload bool
	browser   bool
	brotli    bool
	strict    bool
}

// bindCommon registers the flags shared by rewrite and watch.
func (f *rewriteFlags) bindCommon(cmd *cobra.Command, defaultOut string) {
	cmd.Flags().StringVarP(&f.in, "in", "i", "", "input HTML file ('-' for stdin)")
	cmd.Flags().StringVarP(&f.out, "out", "o", defaultOut, "output HTML file")
	cmd.Flags().StringVar(&f.baseURL, "base-url", "", "page URL relative image paths resolve against (overrides thumbor.base_url)")
	cmd.Flags().StringVar(&f.report, "report", "", "write a JSON pass report to this file ('-' for stdout)")
	cmd.Flags().BoolVar(&f.noPreload, "no-preload", false, "swap final URLs in without loading them")
	cmd.Flags().BoolVar(&f.browser, "browser", false, "measure element geometry in a headless browser")
	cmd.Flags().BoolVar(&f.brotli, "brotli", false, "also write a brotli-compressed <out>.br")
	_ = cmd.MarkFlagRequired("in")
}

// apply folds explicitly set flags into the configuration.
func (f *rewriteFlags) apply(cmd *cobra.Command, a *app) {
	if f.baseURL != "" {
		a.cfg.SetThumborBaseURL(f.baseURL)
	}
	if f.noPreload {
		a.cfg.SetPreloadEnabled(false)
	}
	if cmd.Flags().Changed("browser") {
		a.cfg.SetBrowserEnabled(f.browser)
	}
	if cmd.Flags().Changed("brotli") {
		a.cfg.SetOutputBrotli(f.brotli)
	}
}

func newRewriteCmd(a *app) *cobra.Command {
	f := &rewriteFlags{}
	cmd := &cobra.Command{
		Use:   "rewrite",
		Short: "Run one rewrite pass over an HTML document",
		Long: `Rewrites every element carrying a thumbor attribute: computes its target
size, builds the (signed) image service URL, waits for the images to load and
writes the resulting document.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()
			f.apply(cmd, a)

			doc, err := readDocument(f.in)
			if err != nil {
				return err
			}

			s := newSession(a.cfg, logger)
			o := s.orchestrator(ctx, doc)

			report, passErr := o.RunPass(ctx, f.force)
			if passErr != nil {
				logger.Warn("Some elements were not rewritten", zap.Error(passErr))
			}
			if err := o.Wait(ctx); err != nil {
				return fmt.Errorf("interrupted while loading images: %w", err)
			}

			if err := writeOutput(f.out, o, a.cfg.Output(), cmd.OutOrStdout()); err != nil {
				return err
			}
			if f.report != "" {
				if err := results.WriteFile(f.report, report); err != nil {
					return err
				}
			}

			counts := report.Counts()
			logger.Info("Rewrite finished",
				zap.String("pass", report.ID()),
				zap.Int("loaded", counts[results.StatusLoaded]),
				zap.Int("failed", counts[results.StatusFailed]),
				zap.Int("invalid", counts[results.StatusInvalid]),
			)

			if f.strict && passErr != nil {
				return errors.Join(errors.New("invalid thumbor attributes"), passErr)
			}
			return nil
		},
	}
	f.bindCommon(cmd, "-")
	cmd.Flags().BoolVar(&f.force, "force", false, "reprocess elements already marked thumbor-done")
	cmd.Flags().BoolVar(&f.strict, "strict", false, "exit non-zero when any element has invalid attributes")
	return cmd
}
