// Package engine fronts one WAL node per region. It rejects writes once the
// engine is closed or the process degraded to read-only mode, validates
// records, and waits for each accepted record to become durable.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/hooks"
	"github.com/INLOpen/nexuswal/wal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"
)

var (
	ErrEngineClosed  = errors.New("engine is closed")
	ErrUnknownRegion = errors.New("unknown region")
)

// WALDirName is the directory under DataDir holding one sub-directory per region.
const WALDirName = "wal"

// Options configures an Engine.
type Options struct {
	DataDir string
	Regions []string
	// WAL is the template for every region's node; Identifier, Dir, State,
	// HookManager, Logger and Metrics are filled in per region.
	WAL wal.Options
	// WriteTimeout bounds how long Write waits for durability. Zero waits for
	// the caller's context only.
	WriteTimeout time.Duration
	// PublishMetrics registers engine and WAL counters in the global expvar
	// namespace under MetricsPrefix.
	PublishMetrics bool
	MetricsPrefix  string

	TracerProvider trace.TracerProvider
	HookManager    hooks.HookManager
	Logger         *slog.Logger
}

// Engine owns the WAL nodes of all regions and the shared SystemState.
type Engine struct {
	opts        Options
	logger      *slog.Logger
	state       *core.SystemState
	hookManager hooks.HookManager
	metrics     *EngineMetrics
	tracer      trace.Tracer

	nodes   map[string]*wal.WAL
	regions []string

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Open creates the data directory and opens a WAL node for every region. If
// any node fails to open, the nodes opened so far are closed again.
func Open(opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		return nil, errors.New("engine: DataDir must be set")
	}
	if len(opts.Regions) == 0 {
		return nil, errors.New("engine: at least one region is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "Engine")
	if opts.HookManager == nil {
		opts.HookManager = hooks.NewHookManager(logger)
	}
	tp := opts.TracerProvider
	if tp == nil {
		tp = noop.NewTracerProvider()
	}

	e := &Engine{
		opts:        opts,
		logger:      logger,
		state:       core.NewSystemState(logger),
		hookManager: opts.HookManager,
		metrics:     NewEngineMetrics(opts.PublishMetrics, opts.MetricsPrefix),
		tracer:      tp.Tracer("github.com/INLOpen/nexuswal/engine"),
		nodes:       make(map[string]*wal.WAL, len(opts.Regions)),
	}

	startPayload := hooks.EngineLifecyclePayload{DataDir: opts.DataDir}
	if err := e.hookManager.Trigger(context.Background(), hooks.NewPreStartEngineEvent(startPayload)); err != nil {
		return nil, fmt.Errorf("engine start cancelled by hook: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(opts.DataDir, WALDirName), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	for _, region := range opts.Regions {
		if _, dup := e.nodes[region]; dup {
			e.closeNodes()
			return nil, fmt.Errorf("duplicate region %q", region)
		}
		node, err := wal.Open(e.nodeOptions(region))
		if err != nil {
			e.closeNodes()
			return nil, fmt.Errorf("failed to open WAL for region %s: %w", region, err)
		}
		e.nodes[region] = node
		e.regions = append(e.regions, region)
	}
	sort.Strings(e.regions)

	logger.Info("Engine started", "data_dir", opts.DataDir, "regions", e.regions)
	_ = e.hookManager.Trigger(context.Background(), hooks.NewPostStartEngineEvent(startPayload))
	return e, nil
}

func (e *Engine) nodeOptions(region string) wal.Options {
	o := e.opts.WAL
	o.Identifier = region
	o.Dir = filepath.Join(e.opts.DataDir, WALDirName, region)
	o.State = e.state
	o.HookManager = e.hookManager
	o.Logger = e.logger.With("region", region)
	o.Metrics = wal.NewMetrics(e.opts.PublishMetrics, fmt.Sprintf("%s%s_", e.opts.MetricsPrefix, region))
	return o
}

// Write appends rec to the WAL of region and waits until it is durable, the
// write timeout expires or ctx is done.
func (e *Engine) Write(ctx context.Context, region string, rec wal.Record) (err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Write")
	defer span.End()
	span.SetAttributes(attribute.String("wal.region", region))

	start := time.Now()
	e.metrics.WritesTotal.Add(1)
	defer func() {
		observeLatency(e.metrics.WriteLatencyHist, time.Since(start).Seconds())
		if err != nil {
			e.metrics.WriteErrorsTotal.Add(1)
			span.RecordError(err)
			span.SetStatus(codes.Error, "write_failed")
		}
	}()

	if rec == nil {
		return &core.ValidationError{Field: "record", Value: "nil", Message: "record is nil"}
	}
	span.SetAttributes(
		attribute.String("wal.entry_type", rec.EntryType().String()),
		attribute.Int64("wal.search_index", rec.SearchIndex()),
	)

	if err := e.checkWritable(); err != nil {
		e.metrics.RejectedWritesTotal.Add(1)
		return err
	}
	if v, ok := rec.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	prePayload := hooks.PreWritePayload{Region: &region, EntryType: rec.EntryType(), SearchIndex: rec.SearchIndex()}
	if err := e.hookManager.Trigger(ctx, hooks.NewPreWriteEvent(prePayload)); err != nil {
		return fmt.Errorf("write cancelled by pre-write hook: %w", err)
	}

	node, ok := e.nodes[region]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}

	if e.opts.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.WriteTimeout)
		defer cancel()
	}
	err = node.Append(rec).Wait(ctx)

	_ = e.hookManager.Trigger(ctx, hooks.NewPostWriteEvent(hooks.PostWritePayload{
		Region:      region,
		EntryType:   rec.EntryType(),
		SearchIndex: rec.SearchIndex(),
		Duration:    time.Since(start),
		Error:       err,
	}))
	if err != nil {
		return fmt.Errorf("write to region %s: %w", region, err)
	}
	return nil
}

func (e *Engine) checkWritable() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if e.state.IsReadOnly() {
		e.metrics.ReadOnly.Set(1)
		return core.ErrReadOnly
	}
	return nil
}

// Roll closes the active segment of region once everything written before is
// durable and starts a new one.
func (e *Engine) Roll(ctx context.Context, region string) error {
	ctx, span := e.tracer.Start(ctx, "Engine.Roll")
	defer span.End()
	span.SetAttributes(attribute.String("wal.region", region))

	if e.closed.Load() {
		return ErrEngineClosed
	}
	node, ok := e.nodes[region]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	e.metrics.RollsTotal.Add(1)
	if err := node.Roll().Wait(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "roll_failed")
		return fmt.Errorf("roll region %s: %w", region, err)
	}
	return nil
}

// WaitForFlush blocks until the WAL of region completes its next buffer flush.
func (e *Engine) WaitForFlush(ctx context.Context, region string) error {
	node, ok := e.nodes[region]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRegion, region)
	}
	return node.WaitForFlush(ctx)
}

func (e *Engine) IsReadOnly() bool { return e.state.IsReadOnly() }

func (e *Engine) State() *core.SystemState { return e.state }

// Regions returns the configured regions in sorted order.
func (e *Engine) Regions() []string {
	out := make([]string, len(e.regions))
	copy(out, e.regions)
	return out
}

// Node returns the WAL node of region.
func (e *Engine) Node(region string) (*wal.WAL, bool) {
	n, ok := e.nodes[region]
	return n, ok
}

func (e *Engine) Metrics() *EngineMetrics { return e.metrics }

func (e *Engine) HookManager() hooks.HookManager { return e.hookManager }

// Close rejects new writes and closes every WAL node concurrently. It is safe
// to call more than once; later calls return the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		payload := hooks.EngineLifecyclePayload{DataDir: e.opts.DataDir}
		if err := e.hookManager.Trigger(context.Background(), hooks.NewPreCloseEngineEvent(payload)); err != nil {
			e.logger.Warn("PreCloseEngine hook failed, closing anyway", "error", err)
		}
		e.closeErr = e.closeNodes()
		if e.closeErr != nil {
			e.logger.Error("Engine closed with errors", "error", e.closeErr)
		} else {
			e.logger.Info("Engine closed")
		}
		_ = e.hookManager.Trigger(context.Background(), hooks.NewPostCloseEngineEvent(payload))
	})
	return e.closeErr
}

// closeNodes closes every node concurrently and joins the failures of all
// regions in region order.
func (e *Engine) closeNodes() error {
	var g errgroup.Group
	errs := make([]error, len(e.regions))
	for i, region := range e.regions {
		i, region, node := i, region, e.nodes[region]
		g.Go(func() error {
			if err := node.Close(); err != nil {
				e.logger.Error("Failed to close WAL", "region", region, "error", err)
				errs[i] = fmt.Errorf("close WAL of region %s: %w", region, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}
