// File: internal/orchestrator/orchestrator.go
// Description: Drives rewrite passes over a document. Each pass selects the
// annotated elements, validates their attributes, resolves target sizes, builds
// image service URLs and swaps the final images in as their loads complete.

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/thumbor-attrs/internal/config"
	"github.com/xkilldash9x/thumbor-attrs/internal/dimension"
	"github.com/xkilldash9x/thumbor-attrs/internal/dom"
	"github.com/xkilldash9x/thumbor-attrs/internal/options"
	"github.com/xkilldash9x/thumbor-attrs/internal/preload"
	"github.com/xkilldash9x/thumbor-attrs/internal/results"
	"github.com/xkilldash9x/thumbor-attrs/internal/thumbor"
	"github.com/xkilldash9x/thumbor-attrs/internal/trigger"
)

// elementState is the per-element record of the arena. generation grows on
// every (re)processing so late load completions can be recognised.
type elementState struct {
	done       bool
	generation uint64
}

// Subscriber is the part of the trigger bus the orchestrator listens on.
type Subscriber interface {
	Subscribe(signals ...trigger.Signal) (<-chan trigger.Message, func())
	Acknowledge(msg trigger.Message)
}

// Orchestrator owns a document and rewrites its annotated elements. The
// document and the arena are only touched with mu held.
type Orchestrator struct {
	mu     sync.Mutex
	doc    *dom.Document
	states map[dom.ElementID]*elementState

	thumbor   config.ThumborConfig
	env       dimension.Environment
	loader    preload.Loader
	measurers []dom.Measurer
	onPass    func(*results.PassReport, error)
	logger    *zap.Logger

	// loadMu guards pending and idle. idle is closed whenever no load is
	// pending, so Wait never has to block on anything it cannot abandon.
	loadMu  sync.Mutex
	pending int
	idle    chan struct{}

	listenOnce sync.Once
	listenDone chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithLoader sets the image loader. Without one, final images are swapped
// in immediately.
func WithLoader(l preload.Loader) Option {
	return func(o *Orchestrator) { o.loader = l }
}

// WithMeasurers adds geometry sources consulted before the static estimate.
func WithMeasurers(m ...dom.Measurer) Option {
	return func(o *Orchestrator) { o.measurers = append(o.measurers, m...) }
}

// WithPassHook is called after every pass started by a trigger signal.
func WithPassHook(fn func(*results.PassReport, error)) Option {
	return func(o *Orchestrator) { o.onPass = fn }
}

// New creates an orchestrator for doc.
func New(doc *dom.Document, tcfg config.ThumborConfig, env dimension.Environment, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		doc:        doc,
		states:     make(map[dom.ElementID]*elementState),
		thumbor:    tcfg,
		env:        env,
		logger:     zap.NewNop(),
		listenDone: make(chan struct{}),
		idle:       make(chan struct{}),
	}
	close(o.idle)
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.Named("orchestrator")
	return o
}

// Load replaces the document and its measurers. State kept for the previous
// document is dropped, so loads still in flight for it are discarded on
// completion.
func (o *Orchestrator) Load(doc *dom.Document, measurers ...dom.Measurer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.doc = doc
	o.states = make(map[dom.ElementID]*elementState)
	o.measurers = measurers
}

// RunPass processes every annotated element not yet processed. With forceAll
// every element is processed again. Attribute errors affect only their
// element; they are recorded in the report and returned joined.
func (o *Orchestrator) RunPass(ctx context.Context, forceAll bool) (*results.PassReport, error) {
	report := results.NewPassReport(forceAll)

	o.mu.Lock()
	defer o.mu.Unlock()

	elements := o.doc.SelectByAttr(options.AttrSource)
	o.logger.Debug("Starting pass",
		zap.String("pass", report.ID()),
		zap.Bool("force_all", forceAll),
		zap.Int("elements", len(elements)),
	)

	var errs []error
	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := o.processElement(ctx, el, forceAll, report); err != nil {
			errs = append(errs, err)
		}
	}
	report.Finish()

	counts := report.Counts()
	o.logger.Info("Pass complete",
		zap.String("pass", report.ID()),
		zap.Int("rewritten", counts[results.StatusPending]+counts[results.StatusLoaded]),
		zap.Int("skipped", counts[results.StatusSkipped]),
		zap.Int("invalid", counts[results.StatusInvalid]),
	)
	return report, errors.Join(errs...)
}

func (o *Orchestrator) processElement(ctx context.Context, el *dom.Element, forceAll bool, report *results.PassReport) error {
	st, ok := o.states[el.ID()]
	if !ok {
		st = &elementState{}
		o.states[el.ID()] = st
	}
	entry := results.Entry{ElementID: uint64(el.ID()), Tag: el.Tag()}

	if forceAll {
		st.done = false
		el.RemoveAttr(options.AttrDone)
	}
	if st.done || el.Has(options.AttrDone) {
		st.done = true
		entry.Status = results.StatusSkipped
		report.Add(entry)
		return nil
	}

	// The element is claimed before validation so a bad element is not
	// retried by every later soft refresh.
	st.done = true
	st.generation++
	el.SetAttr(options.AttrDone, "")
	el.InstallPlaceholder(o.thumbor.LoaderURL)

	opts, err := options.Parse(el)
	if err != nil {
		entry.Status = results.StatusInvalid
		entry.Error = err.Error()
		report.Add(entry)
		o.logger.Warn("Invalid thumbor attributes", zap.Uint64("element", entry.ElementID), zap.Error(err))
		return fmt.Errorf("element %d <%s>: %w", entry.ElementID, entry.Tag, err)
	}

	res := dimension.Resolve(opts, el.Geometry(o.measurers...), o.env)
	url, err := o.buildURL(opts, res)
	if err != nil {
		entry.Status = results.StatusInvalid
		entry.Error = err.Error()
		report.Add(entry)
		return fmt.Errorf("element %d <%s>: %w", entry.ElementID, entry.Tag, err)
	}

	entry.Source = opts.SourceURL()
	entry.URL = url
	entry.Width = res.Width
	entry.Height = res.Height
	entry.Strategy = res.Strategy.String()
	entry.Status = results.StatusPending
	report.Add(entry)

	o.logger.Debug("Element rewritten",
		zap.Uint64("element", entry.ElementID),
		zap.String("strategy", entry.Strategy),
		zap.Int("width", res.Width),
		zap.Int("height", res.Height),
		zap.String("url", url),
	)

	if o.loader == nil {
		el.ShowImage(url)
		report.SetStatus(entry.ElementID, results.StatusLoaded, nil)
		return nil
	}

	ch := o.loader.Start(ctx, url)
	gen := st.generation
	o.loadStarted()
	go func() {
		defer o.loadFinished()
		r, ok := <-ch
		if !ok {
			r = preload.Result{URL: url, Err: errors.New("loader closed without a result")}
		}
		o.complete(el, st, gen, r, report)
	}()
	return nil
}

// complete applies a finished load if it still belongs to the element's
// latest processing.
func (o *Orchestrator) complete(el *dom.Element, st *elementState, gen uint64, r preload.Result, report *results.PassReport) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := uint64(el.ID())
	if cur, ok := o.states[el.ID()]; !ok || cur != st || st.generation != gen {
		report.SetStatus(id, results.StatusStale, nil)
		o.logger.Debug("Discarding stale image load", zap.Uint64("element", id), zap.String("url", r.URL))
		return
	}
	if r.Err != nil {
		// The placeholder stays; load failures are not retried.
		report.SetStatus(id, results.StatusFailed, r.Err)
		o.logger.Debug("Image failed to load", zap.Uint64("element", id), zap.String("url", r.URL), zap.Error(r.Err))
		return
	}
	el.ShowImage(r.URL)
	report.SetStatus(id, results.StatusLoaded, nil)
}

// buildURL assembles the image service URL. Directives are applied in a
// fixed order: strategy, smart, filters, flips, alignments, format.
func (o *Orchestrator) buildURL(opts options.TransformOptions, res dimension.Result) (string, error) {
	src, err := thumbor.AbsoluteURL(o.thumbor.BaseURL, opts.SourceURL())
	if err != nil {
		return "", err
	}

	b := thumbor.New(o.thumbor.SecurityKey, o.thumbor.ServerURL).SetImagePath(src)
	switch res.Strategy {
	case dimension.Resize:
		b.Resize(res.Width, res.Height)
	case dimension.FitIn:
		b.FitIn(res.Width, res.Height)
	}
	b.SmartCrop(opts.SmartCrop())
	for _, f := range opts.Filters() {
		b.Filter(f)
	}
	if opts.FlipHorizontal() {
		b.FlipHorizontally()
	}
	if opts.FlipVertical() {
		b.FlipVertically()
	}
	if a := opts.HAlign(); a != options.HAlignNone {
		b.HAlign(string(a))
	}
	if a := opts.VAlign(); a != options.VAlignNone {
		b.VAlign(string(a))
	}
	if f := opts.Format(); f != options.FormatNone {
		b.Filter("format(" + string(f) + ")")
	}
	return b.BuildURL()
}

// Wait blocks until every started image load has been applied or
// discarded, or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.loadMu.Lock()
	idle := o.idle
	o.loadMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) loadStarted() {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()
	if o.pending == 0 {
		o.idle = make(chan struct{})
	}
	o.pending++
}

func (o *Orchestrator) loadFinished() {
	o.loadMu.Lock()
	defer o.loadMu.Unlock()
	o.pending--
	if o.pending == 0 {
		close(o.idle)
	}
}

// Render writes the current document.
func (o *Orchestrator) Render(w io.Writer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.doc.Render(w)
}

// Listen subscribes to refresh signals and runs a pass for each: Refresh
// processes new elements, RefreshHard all of them. Only the first call
// subscribes; every call returns a channel closed once the listener exits,
// which happens when ctx is done or the bus shuts down.
func (o *Orchestrator) Listen(ctx context.Context, bus Subscriber) <-chan struct{} {
	o.listenOnce.Do(func() {
		ch, unsubscribe := bus.Subscribe(trigger.Refresh, trigger.RefreshHard)
		go func() {
			defer close(o.listenDone)
			defer unsubscribe()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-ch:
					if !ok {
						return
					}
					o.handleSignal(ctx, msg)
					bus.Acknowledge(msg)
				}
			}
		}()
	})
	return o.listenDone
}

func (o *Orchestrator) handleSignal(ctx context.Context, msg trigger.Message) {
	o.logger.Info("Refresh requested", zap.String("signal", string(msg.Signal)), zap.String("source", msg.Source))
	report, err := o.RunPass(ctx, msg.Signal == trigger.RefreshHard)
	if err != nil {
		o.logger.Warn("Pass finished with element errors", zap.String("pass", report.ID()), zap.Error(err))
	}
	if o.onPass != nil {
		o.onPass(report, err)
	}
}
