// File: cmd/pipeline.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"github.com/xkilldash9x/thumbor-attrs/internal/browser"
	"github.com/xkilldash9x/thumbor-attrs/internal/config"
	"github.com/xkilldash9x/thumbor-attrs/internal/dimension"
	"github.com/xkilldash9x/thumbor-attrs/internal/dom"
	"github.com/xkilldash9x/thumbor-attrs/internal/options"
	"github.com/xkilldash9x/thumbor-attrs/internal/orchestrator"
	"github.com/xkilldash9x/thumbor-attrs/internal/preload"
	"github.com/xkilldash9x/thumbor-attrs/internal/size"
)

// session wires documents to the rewrite machinery for one command run.
// The device pixel ratio is resolved once per session.
type session struct {
	cfg    config.Interface
	logger *zap.Logger
	probe  *browser.Probe

	ratioMu  sync.Mutex
	ratioSrc *size.RatioSource
	ratio    *size.PixelRatio
}

func newSession(cfg config.Interface, logger *zap.Logger) *session {
	s := &session{cfg: cfg, logger: logger}
	if cfg.Browser().Enabled {
		s.probe = browser.NewProbe(cfg.Browser(), cfg.Viewport(), logger)
	}
	s.ratio = size.NewPixelRatio(s.ratioSource)
	return s
}

// ratioSource prefers what the browser reported and falls back to the
// configured viewport.
func (s *session) ratioSource() size.RatioSource {
	s.ratioMu.Lock()
	defer s.ratioMu.Unlock()
	if s.ratioSrc != nil {
		return *s.ratioSrc
	}
	vp := s.cfg.Viewport()
	return size.RatioSource{
		SystemXDPI:       vp.SystemXDPI,
		LogicalXDPI:      vp.LogicalXDPI,
		DevicePixelRatio: vp.DevicePixelRatio,
	}
}

// measure probes doc in the browser when enabled. Probe failures degrade to
// static geometry.
func (s *session) measure(ctx context.Context, doc *dom.Document) []dom.Measurer {
	if s.probe == nil {
		return nil
	}
	snap, err := s.probe.Measure(ctx, doc, options.AttrSource)
	if err != nil {
		s.logger.Warn("Browser probe failed; using static geometry", zap.Error(err))
		return nil
	}
	s.ratioMu.Lock()
	if s.ratioSrc == nil {
		src := snap.Ratio
		s.ratioSrc = &src
	}
	s.ratioMu.Unlock()
	return []dom.Measurer{snap.Boxes}
}

func (s *session) environment() dimension.Environment {
	vp := s.cfg.Viewport()
	return dimension.Environment{
		ViewportWidth:  float64(vp.Width),
		ViewportHeight: float64(vp.Height),
		Ratio:          s.ratio,
	}
}

// orchestrator builds an orchestrator for doc.
func (s *session) orchestrator(ctx context.Context, doc *dom.Document, extra ...orchestrator.Option) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(s.logger),
		orchestrator.WithMeasurers(s.measure(ctx, doc)...),
	}
	if s.cfg.Preload().Enabled {
		opts = append(opts, orchestrator.WithLoader(preload.NewHTTPLoader(s.cfg.Preload(), nil, s.logger)))
	}
	opts = append(opts, extra...)
	return orchestrator.New(doc, s.cfg.Thumbor(), s.environment(), opts...)
}

// reload swaps a freshly parsed document into o.
func (s *session) reload(ctx context.Context, o *orchestrator.Orchestrator, doc *dom.Document) {
	o.Load(doc, s.measure(ctx, doc)...)
}

// readDocument parses the HTML at path, or stdin for "-".
func readDocument(path string) (*dom.Document, error) {
	if path == "-" {
		return dom.Parse(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}
	defer f.Close()
	return dom.Parse(f)
}

// writeOutput renders the document to path, or stdout for "-". With brotli
// enabled a precompressed copy is written to path + ".br".
func writeOutput(path string, o *orchestrator.Orchestrator, out config.OutputConfig, stdout io.Writer) error {
	var buf bytes.Buffer
	if err := o.Render(&buf); err != nil {
		return fmt.Errorf("failed to render document: %w", err)
	}

	if path == "-" {
		_, err := stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write output %s: %w", path, err)
	}
	if !out.Brotli {
		return nil
	}
	return writeBrotli(path+".br", buf.Bytes(), out.BrotliQuality)
}

func writeBrotli(path string, data []byte, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	w := brotli.NewWriterLevel(f, quality)
	if _, err := w.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to compress output: %w", err)
	}
	if err := w.Close(); err != nil {
		f.Close()
		return fmt.Errorf("failed to compress output: %w", err)
	}
	return f.Close()
}
