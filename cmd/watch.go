package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/thumbor-attrs/internal/config"
	"github.com/xkilldash9x/thumbor-attrs/internal/observability"
	"github.com/xkilldash9x/thumbor-attrs/internal/orchestrator"
	"github.com/xkilldash9x/thumbor-attrs/internal/results"
	"github.com/xkilldash9x/thumbor-attrs/internal/trigger"
)

func newWatchCmd(a *app) *cobra.Command {
	f := &rewriteFlags{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Rewrite a document and keep it up to date",
		Long: `Runs a rewrite pass, then watches the input file. Saving the input reloads it
and runs a refresh pass; SIGHUP runs a hard refresh that reprocesses every
element. The output is rewritten after every pass.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f.apply(cmd, a)
			if f.in == "-" || f.out == "-" {
				return errors.New("watch needs real files for --in and --out")
			}
			return runWatch(cmd.Context(), a.cfg, f, observability.GetLogger())
		},
	}
	f.bindCommon(cmd, "")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

// runWatch blocks until ctx is done.
func runWatch(ctx context.Context, cfg config.Interface, f *rewriteFlags, logger *zap.Logger) error {
	logger = logger.Named("watch")

	input, err := filepath.Abs(f.in)
	if err != nil {
		return fmt.Errorf("failed to resolve input path: %w", err)
	}
	doc, err := readDocument(input)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s := newSession(cfg, logger)
	bus := trigger.NewBus(logger, 1)

	var o *orchestrator.Orchestrator
	o = s.orchestrator(ctx, doc, orchestrator.WithPassHook(func(report *results.PassReport, _ error) {
		if err := o.Wait(ctx); err != nil {
			return
		}
		if err := writeOutput(f.out, o, cfg.Output(), io.Discard); err != nil {
			logger.Error("Failed to write output", zap.Error(err))
			return
		}
		if f.report != "" {
			if err := results.WriteFile(f.report, report); err != nil {
				logger.Error("Failed to write report", zap.Error(err))
			}
		}
		logger.Info("Output updated", zap.String("out", f.out), zap.String("pass", report.ID()))
	}))
	listenerDone := o.Listen(ctx, bus)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()
	// Watch the directory so editors that replace the file are still seen.
	if err := fsw.Add(filepath.Dir(input)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(input), err)
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(bus.Post(gctx, trigger.Refresh, "startup"))
	})
	g.Go(func() error {
		return watchInput(gctx, fsw, input, cfg.Watch().Debounce, logger, func() {
			fresh, err := readDocument(input)
			if err != nil {
				logger.Warn("Failed to reload input", zap.Error(err))
				return
			}
			s.reload(gctx, o, fresh)
			if err := bus.Post(gctx, trigger.Refresh, "fsnotify"); err != nil && gctx.Err() == nil {
				logger.Warn("Failed to post refresh", zap.Error(err))
			}
		})
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				if err := bus.Post(gctx, trigger.RefreshHard, "SIGHUP"); err != nil {
					return ignoreCancel(err)
				}
			}
		}
	})

	logger.Info("Watching for changes", zap.String("in", input), zap.String("out", f.out))
	err = g.Wait()

	cancel()
	bus.Shutdown()
	<-listenerDone
	return err
}

// watchInput calls onChange once per burst of writes to path, after the
// burst has been quiet for debounce.
func watchInput(ctx context.Context, w *fsnotify.Watcher, path string, debounce time.Duration, logger *zap.Logger, onChange func()) error {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !isInputEvent(ev, path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			onChange()
		}
	}
}

func isInputEvent(ev fsnotify.Event, path string) bool {
	if filepath.Clean(ev.Name) != path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
