// Package orchestrator runs sync cycles across every configured source.
//
// A cycle initializes connectors on first use, syncs each selected source
// in a bounded worker pool, normalizes and deduplicates the rows, and folds
// the per-source outcomes into one SyncResult. A failing, panicking or
// cancelled source never aborts its siblings; it becomes a failed
// ImportResult and an entry in SyncResult.Errors.
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajitpratap0/wealthsync/pkg/clients"
	"github.com/ajitpratap0/wealthsync/pkg/config"
	"github.com/ajitpratap0/wealthsync/pkg/connector/core"
	"github.com/ajitpratap0/wealthsync/pkg/connector/registry"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/jobstore"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
	"github.com/ajitpratap0/wealthsync/pkg/metrics"
	"github.com/ajitpratap0/wealthsync/pkg/observability"
	"github.com/ajitpratap0/wealthsync/pkg/plugins"
)

// SyncOptions narrows a cycle.
type SyncOptions struct {
	// Sources limits the cycle to these ids. Empty means every connected source.
	Sources []string
	// Since bounds transactions. Zero falls back to sync.since_days.
	Since time.Time
	// TriggeredBy is stored on the job record.
	TriggeredBy string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRegistry sets the built-in connector registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithPluginManager enables plugin sources.
func WithPluginManager(m *plugins.Manager) Option {
	return func(o *Orchestrator) { o.plugins = m }
}

// WithJobStore persists each cycle's job record.
func WithJobStore(s jobstore.JobStore) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithDeduplicator shares dedup state with the caller.
func WithDeduplicator(d *Deduplicator) Option {
	return func(o *Orchestrator) { o.dedup = d }
}

// WithLogger sets the base logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClock sets the clock used for timestamps and durations.
func WithClock(c clients.Clock) Option {
	return func(o *Orchestrator) { o.clock = c }
}

// Orchestrator owns the connectors of one configuration.
type Orchestrator struct {
	cfg      *config.Config
	registry *registry.Registry
	plugins  *plugins.Manager
	store    jobstore.JobStore
	dedup    *Deduplicator
	logger   *zap.Logger
	clock    clients.Clock

	mu          sync.RWMutex
	connectors  map[string]core.Connector
	initialized bool
}

// New creates an orchestrator for cfg. Without options it uses the global
// connector registry, no plugins and no job store.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		connectors: make(map[string]core.Connector),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = registry.GetRegistry()
	}
	if o.store == nil {
		o.store = jobstore.Nop{}
	}
	if o.dedup == nil {
		o.dedup = NewDeduplicator()
	}
	if o.logger == nil {
		o.logger = logger.Get()
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	if o.clock == nil {
		o.clock = clients.SystemClock
	}
	return o
}

// InitializeConnectors creates and authenticates every enabled source.
// Failures are reported per source and never stop the others; only
// authenticated connectors are kept. Connectors from an earlier call are
// disconnected first.
func (o *Orchestrator) InitializeConnectors(ctx context.Context) map[string]InitResult {
	o.mu.Lock()
	previous := o.connectors
	o.connectors = make(map[string]core.Connector)
	o.mu.Unlock()
	for id, conn := range previous {
		if err := safeDisconnect(ctx, conn); err != nil {
			o.logger.Warn("disconnect failed", zap.String("source", id), zap.Error(err))
		}
	}

	ids := o.cfg.EnabledSources()
	results := make(map[string]InitResult, len(ids))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(o.workers())
	for _, id := range ids {
		g.Go(func() error {
			conn, res := o.initSource(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			results[id] = res
			if conn != nil {
				o.mu.Lock()
				o.connectors[id] = conn
				o.mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	o.initialized = true
	connected := len(o.connectors)
	o.mu.Unlock()

	o.logger.Info("connectors initialized", zap.Int("configured", len(ids)), zap.Int("connected", connected))
	return results
}

func (o *Orchestrator) initSource(ctx context.Context, id string) (core.Connector, InitResult) {
	log := o.logger.With(zap.String("source", id))
	src := o.cfg.Sources[id]

	var conn core.Connector
	err := safely(func() error {
		var createErr error
		conn, createErr = o.createConnector(ctx, id, src)
		return createErr
	})
	if err != nil {
		log.Error("connector creation failed", zap.Error(err))
		return nil, InitResult{Message: describeError(err), Err: err}
	}

	var status core.Status
	err = safely(func() error {
		var authErr error
		status, authErr = conn.Authenticate(ctx)
		return authErr
	})
	if err == nil && !status.OK {
		err = errors.NewAuthentication(id, status.Message)
	}
	if err != nil {
		log.Warn("authentication failed", zap.Error(err))
		if derr := safeDisconnect(ctx, conn); derr != nil {
			log.Debug("disconnect after failed authentication", zap.Error(derr))
		}
		return nil, InitResult{Message: describeError(err), Err: err}
	}

	log.Info("connector ready", zap.String("message", status.Message))
	return conn, InitResult{OK: true, Message: status.Message}
}

func (o *Orchestrator) createConnector(ctx context.Context, id string, src config.SourceConfig) (core.Connector, error) {
	settings := o.cfg.SourceSettings(id)
	if !src.IsPlugin() {
		return o.registry.Create(src.Type, id, settings)
	}

	if o.plugins == nil {
		return nil, errors.NewConfiguration(fmt.Sprintf("source %s needs plugin %s but plugins are not configured", id, src.Plugin))
	}
	if !o.cfg.PluginAllowed(src.Plugin) {
		return nil, errors.NewConfiguration(fmt.Sprintf("plugin %s is not enabled", src.Plugin))
	}
	if _, err := o.plugins.Discover(ctx, false); err != nil {
		return nil, err
	}
	if !o.plugins.Registry().Enable(src.Plugin) {
		metrics.PluginsLoaded.WithLabelValues(src.Plugin, "not_found").Inc()
		return nil, errors.NewPluginLoad(fmt.Sprintf("plugin not found: %s", src.Plugin))
	}

	conn, err := o.plugins.LoadPlugin(ctx, src.Plugin, settings)
	if err != nil {
		metrics.PluginsLoaded.WithLabelValues(src.Plugin, "failed").Inc()
		return nil, err
	}
	metrics.PluginsLoaded.WithLabelValues(src.Plugin, "loaded").Inc()
	return conn, nil
}

// RunFullSync runs one sync cycle and returns its job record. The record is
// persisted through the job store; a storage failure is logged only.
func (o *Orchestrator) RunFullSync(ctx context.Context, opts SyncOptions) *SyncResult {
	jobID := uuid.NewString()[:8]
	result := &SyncResult{JobID: jobID, StartedAt: o.clock.Now()}

	ctx = logger.ContextWithJobID(ctx, jobID)
	log := o.logger.With(zap.String("job_id", jobID))
	log.Info("starting sync job")

	if !o.isInitialized() {
		inits := o.InitializeConnectors(ctx)
		result.Initialization = inits
		ids := make([]string, 0, len(inits))
		for id := range inits {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if !inits[id].OK {
				result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", id, inits[id].Message))
			}
		}
	}

	targets := o.selectSources(opts.Sources)
	since := opts.Since
	if since.IsZero() && o.cfg.Sync.SinceDays > 0 {
		since = o.clock.Now().AddDate(0, 0, -o.cfg.Sync.SinceDays)
	}

	ctx, span := observability.StartSync(ctx, jobID, len(targets))
	defer span.End()

	var (
		mu      sync.Mutex
		results = make([]ImportResult, 0, len(targets))
		done    = make(map[string]bool, len(targets))
	)
	var g errgroup.Group
	g.SetLimit(o.workers())
	for _, t := range targets {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res := o.syncSource(ctx, log, t.id, t.conn, since)
			mu.Lock()
			results = append(results, res)
			done[t.id] = true
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range targets {
		if !done[t.id] {
			results = append(results, ImportResult{
				SourceID:     t.id,
				SourceType:   sourceType(t.conn),
				Cancelled:    true,
				ErrorMessage: cancelledMessage(ctx),
			})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].SourceID < results[j].SourceID })

	result.Results = results
	for _, res := range results {
		result.TotalImported += res.RecordsImported
		result.TotalUpdated += res.RecordsUpdated
		result.TotalSkipped += res.RecordsSkipped
		if !res.Success && res.ErrorMessage != "" {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", res.SourceID, res.ErrorMessage))
		}
	}
	result.cancelled = ctx.Err() != nil
	result.CompletedAt = o.clock.Now()

	status := result.Status()
	metrics.SyncsTotal.WithLabelValues(status).Inc()
	span.SetAttribute("sync.status", status)
	span.SetAttribute("sync.records_imported", result.TotalImported)
	if status == StatusFailed || status == StatusCancelled {
		span.Fail(fmt.Errorf("sync %s with %d error(s)", status, len(result.Errors)))
	}

	if err := o.store.SaveJob(context.WithoutCancel(ctx), result.JobRecord(opts.TriggeredBy)); err != nil {
		log.Error("failed to save import job", zap.Error(err))
	}

	log.Info("sync job completed",
		zap.String("status", status),
		zap.Int("sources", len(results)),
		zap.Int("imported", result.TotalImported),
		zap.Int("updated", result.TotalUpdated),
		zap.Int("skipped", result.TotalSkipped),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration()))
	return result
}

type target struct {
	id   string
	conn core.Connector
}

func (o *Orchestrator) selectSources(filter []string) []target {
	o.mu.RLock()
	defer o.mu.RUnlock()

	want := make(map[string]bool, len(filter))
	for _, id := range filter {
		want[id] = true
	}
	var out []target
	for id, conn := range o.connectors {
		if len(filter) > 0 && !want[id] {
			continue
		}
		out = append(out, target{id: id, conn: conn})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// syncSource fetches, normalizes and deduplicates one source.
func (o *Orchestrator) syncSource(ctx context.Context, log *zap.Logger, id string, conn core.Connector, since time.Time) (res ImportResult) {
	start := o.clock.Now()
	res.SourceID = id
	collector := metrics.NewCollector(id)
	ctx = logger.ContextWithSource(ctx, id)
	log = log.With(zap.String("source", id))

	ctx, span := observability.StartSource(ctx, id, "")
	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.ErrorMessage = fmt.Sprintf("Unexpected error: %v", r)
			log.Error("connector panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
		res.Duration = o.clock.Now().Sub(start)

		status := StatusSuccess
		switch {
		case res.Cancelled:
			status = StatusCancelled
		case !res.Success:
			status = StatusFailed
		}
		collector.RecordSync(status, res.Duration)
		span.SetAttribute("source.type", res.SourceType)
		span.SetAttribute("source.status", status)
		span.SetAttribute("records.fetched", res.RecordsFetched)
		if !res.Success {
			span.Fail(fmt.Errorf("%s", res.ErrorMessage))
			log.Warn("source sync failed", zap.String("error", res.ErrorMessage))
		} else {
			log.Info("source synced",
				zap.Int("fetched", res.RecordsFetched),
				zap.Int("imported", res.RecordsImported),
				zap.Int("updated", res.RecordsUpdated),
				zap.Int("skipped", res.RecordsSkipped))
		}
		span.End()
	}()

	res.SourceType = sourceType(conn)
	if ctx.Err() != nil {
		res.Cancelled = true
		res.ErrorMessage = cancelledMessage(ctx)
		return res
	}

	srcCtx := ctx
	if timeout := o.cfg.Sync.SourceTimeout; timeout > 0 {
		var cancel context.CancelFunc
		srcCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	fail := func(err error) ImportResult {
		switch {
		case ctx.Err() != nil:
			res.Cancelled = true
			res.ErrorMessage = cancelledMessage(ctx)
		case errors.Is(srcCtx.Err(), context.DeadlineExceeded):
			res.ErrorMessage = fmt.Sprintf("Data fetch failed: timed out after %s: %v", o.cfg.Sync.SourceTimeout, err)
		default:
			res.ErrorMessage = describeError(err)
		}
		return res
	}

	holdings, err := conn.Holdings(srcCtx, "")
	if err != nil {
		return fail(err)
	}
	res.Holdings = holdings.Rows()
	res.RecordsFetched += len(res.Holdings)

	txs, err := conn.Transactions(srcCtx, core.TransactionQuery{Since: since})
	if err != nil {
		return fail(err)
	}
	res.Transactions = txs.Rows()
	res.RecordsFetched += len(res.Transactions)

	var counts Counts
	counts.Add(o.dedup.Holdings(id, res.Holdings))
	counts.Add(o.dedup.Transactions(id, res.Transactions))
	res.RecordsImported = counts.Imported
	res.RecordsUpdated = counts.Updated
	res.RecordsSkipped = counts.Skipped
	res.Success = true

	collector.RecordRecords("fetched", res.RecordsFetched)
	collector.RecordRecords("imported", counts.Imported)
	collector.RecordRecords("updated", counts.Updated)
	collector.RecordRecords("skipped", counts.Skipped)
	return res
}

// HealthCheckAll checks every connected source.
func (o *Orchestrator) HealthCheckAll(ctx context.Context) map[string]core.Status {
	out := make(map[string]core.Status)
	for _, t := range o.selectSources(nil) {
		var status core.Status
		err := safely(func() error {
			status = t.conn.HealthCheck(ctx)
			return nil
		})
		if err != nil {
			status = core.StatusFailed(err.Error())
		}
		out[t.id] = status
	}
	return out
}

// DisconnectAll disconnects every source and forgets them. The next
// RunFullSync initializes again.
func (o *Orchestrator) DisconnectAll(ctx context.Context) error {
	o.mu.Lock()
	conns := o.connectors
	o.connectors = make(map[string]core.Connector)
	o.initialized = false
	o.mu.Unlock()

	ids := make([]string, 0, len(conns))
	for id := range conns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		if err := safeDisconnect(ctx, conns[id]); err != nil {
			o.logger.Error("error disconnecting", zap.String("source", id), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		o.logger.Info("disconnected", zap.String("source", id))
	}
	return errors.Join(errs...)
}

// Connector returns the connected source id.
func (o *Orchestrator) Connector(id string) (core.Connector, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.connectors[id]
	return c, ok
}

// Sources returns the connected source ids in sorted order.
func (o *Orchestrator) Sources() []string {
	targets := o.selectSources(nil)
	ids := make([]string, len(targets))
	for i, t := range targets {
		ids[i] = t.id
	}
	return ids
}

func (o *Orchestrator) isInitialized() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.initialized
}

func (o *Orchestrator) workers() int {
	if o.cfg.Sync.Workers > 0 {
		return o.cfg.Sync.Workers
	}
	return 1
}

// describeError maps an error to the message stored on a failed result.
func describeError(err error) string {
	switch errors.TypeOf(err) {
	case errors.ErrorTypeAuthentication:
		return "Authentication failed: " + err.Error()
	case errors.ErrorTypeRateLimit:
		return "Rate limit exceeded: " + err.Error()
	case errors.ErrorTypeDataFetch, errors.ErrorTypeTimeout, errors.ErrorTypeConnection:
		return "Data fetch failed: " + err.Error()
	case errors.ErrorTypeConfig:
		return "Configuration error: " + err.Error()
	case errors.ErrorTypePluginLoad, errors.ErrorTypePluginValidation:
		return "Plugin error: " + err.Error()
	default:
		return "Unexpected error: " + err.Error()
	}
}

func cancelledMessage(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil {
		cause = context.Canceled
	}
	return "cancelled: " + cause.Error()
}

func sourceType(conn core.Connector) (t string) {
	defer func() {
		if recover() != nil {
			t = "unknown"
		}
	}()
	return string(conn.Metadata().Category)
}

// safely runs fn and turns a panic into an internal error.
func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.ErrorTypeInternal, fmt.Sprintf("panic: %v", r))
		}
	}()
	return fn()
}

func safeDisconnect(ctx context.Context, conn core.Connector) error {
	return safely(func() error { return conn.Disconnect(ctx) })
}
