// internal/browser/probe.go
package browser

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/thumbor-attrs/internal/config"
	"github.com/xkilldash9x/thumbor-attrs/internal/dom"
	"github.com/xkilldash9x/thumbor-attrs/internal/size"
)

// Snapshot is what a rendered copy of the document reports.
type Snapshot struct {
	Boxes dom.Measurements
	Ratio size.RatioSource
}

// rawBox and rawSnapshot mirror the object returned by measureScript.
type rawBox struct {
	ID           string  `json:"id"`
	OffsetWidth  float64 `json:"offsetWidth"`
	OffsetHeight float64 `json:"offsetHeight"`
	ParentWidth  float64 `json:"parentWidth"`
	ParentHeight float64 `json:"parentHeight"`
}

type rawSnapshot struct {
	Elements         []rawBox `json:"elements"`
	SystemXDPI       float64  `json:"systemXDPI"`
	LogicalXDPI      float64  `json:"logicalXDPI"`
	DevicePixelRatio float64  `json:"devicePixelRatio"`
}

const measureScript = `(() => {
  const out = {elements: [], systemXDPI: 0, logicalXDPI: 0, devicePixelRatio: window.devicePixelRatio || 0};
  if (typeof screen.systemXDPI === "number") out.systemXDPI = screen.systemXDPI;
  if (typeof screen.logicalXDPI === "number") out.logicalXDPI = screen.logicalXDPI;
  document.querySelectorAll("[` + dom.ProbeAttr + `]").forEach((el) => {
    const p = el.parentElement;
    out.elements.push({
      id: el.getAttribute("` + dom.ProbeAttr + `"),
      offsetWidth: el.offsetWidth || 0,
      offsetHeight: el.offsetHeight || 0,
      parentWidth: p ? p.offsetWidth || 0 : 0,
      parentHeight: p ? p.offsetHeight || 0 : 0,
    });
  });
  return out;
})()`

// Probe lays the document out in a headless browser and reports element
// and parent sizes.
type Probe struct {
	cfg      config.BrowserConfig
	viewport config.ViewportConfig
	logger   *zap.Logger
}

// NewProbe creates a probe.
func NewProbe(cfg config.BrowserConfig, viewport config.ViewportConfig, logger *zap.Logger) *Probe {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Probe{cfg: cfg, viewport: viewport, logger: logger.Named("browser_probe")}
}

// AllocatorOptions translates the browser configuration into chromedp
// allocator options. Args may be "flag" or "flag=value".
func AllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}

// Measure renders doc at the configured viewport and measures every
// element carrying attr.
func (p *Probe) Measure(ctx context.Context, doc *dom.Document, attr string) (*Snapshot, error) {
	markup, ids, err := doc.ProbeHTML(attr)
	if err != nil {
		return nil, fmt.Errorf("failed to render probe document: %w", err)
	}
	if len(ids) == 0 {
		return &Snapshot{Boxes: dom.Measurements{}}, nil
	}

	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, AllocatorOptions(p.cfg)...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	dpr := p.viewport.DevicePixelRatio
	if dpr <= 0 {
		dpr = 1
	}

	var raw rawSnapshot
	err = chromedp.Run(taskCtx,
		emulation.SetDeviceMetricsOverride(int64(p.viewport.Width), int64(p.viewport.Height), dpr, false),
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to get frame tree: %w", err)
			}
			return page.SetDocumentContent(tree.Frame.ID, markup).Do(ctx)
		}),
		chromedp.Evaluate(measureScript, &raw),
	)
	if err != nil {
		return nil, fmt.Errorf("browser probe failed: %w", err)
	}

	snap := convert(raw)
	p.logger.Debug("Measured document",
		zap.Int("elements", len(ids)),
		zap.Int("measured", len(snap.Boxes)),
		zap.Float64("device_pixel_ratio", raw.DevicePixelRatio),
	)
	return snap, nil
}

// convert turns the script result into a Snapshot. Entries with an
// unparsable id are dropped.
func convert(raw rawSnapshot) *Snapshot {
	snap := &Snapshot{
		Boxes: make(dom.Measurements, len(raw.Elements)),
		Ratio: size.RatioSource{
			SystemXDPI:       raw.SystemXDPI,
			LogicalXDPI:      raw.LogicalXDPI,
			DevicePixelRatio: raw.DevicePixelRatio,
		},
	}
	for _, el := range raw.Elements {
		id, err := strconv.ParseUint(el.ID, 10, 64)
		if err != nil {
			continue
		}
		snap.Boxes[dom.ElementID(id)] = dom.Box{
			OffsetWidth:  el.OffsetWidth,
			OffsetHeight: el.OffsetHeight,
			ParentWidth:  el.ParentWidth,
			ParentHeight: el.ParentHeight,
		}
	}
	return snap
}
