package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LovationAdmin/fleet-api/metrics"
)

// DashboardView is the view whose targets the reconciler maintains.
const DashboardView = "dashboard"

var ErrMissingSource = errors.New("source collection not loaded")

// CollectionLoader fetches one collection when a snapshot arrives without it.
type CollectionLoader interface {
	LoadCollection(ctx context.Context, name string) (Collection, error)
}

// SnapshotSource produces the snapshot for each scheduled run. It may return
// a partial snapshot together with an error; the collections it did load are
// still used.
type SnapshotSource interface {
	Snapshot(ctx context.Context) (Snapshot, error)
}

// SnapshotFunc adapts a function to SnapshotSource.
type SnapshotFunc func(ctx context.Context) (Snapshot, error)

func (f SnapshotFunc) Snapshot(ctx context.Context) (Snapshot, error) { return f(ctx) }

// Reconciler recomputes month-to-date KPIs from a snapshot and writes them
// onto a display surface, overriding whatever the primary render left there.
type Reconciler struct {
	defs      []KPIDefinition
	formatter *CurrencyFormatter
	loader    CollectionLoader
	now       func() time.Time
	loc       *time.Location
}

type ReconcilerOption func(*Reconciler)

func WithDefinitions(defs []KPIDefinition) ReconcilerOption {
	return func(r *Reconciler) { r.defs = defs }
}

func WithLoader(l CollectionLoader) ReconcilerOption {
	return func(r *Reconciler) { r.loader = l }
}

func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func WithLocation(loc *time.Location) ReconcilerOption {
	return func(r *Reconciler) { r.loc = loc }
}

func NewReconciler(f *CurrencyFormatter, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		defs:      DefaultKPIs(),
		formatter: f,
		now:       time.Now,
		loc:       time.Local,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Report is the outcome of one reconcile run.
type Report struct {
	Success  bool       `json:"success"`
	Values   []KPIValue `json:"values,omitempty"`
	Updated  []string   `json:"updated,omitempty"`
	Skipped  []string   `json:"skipped,omitempty"`
	Reloaded []string   `json:"reloaded,omitempty"`
	Err      error      `json:"-"`
}

// Value returns the computed KPI with the given name.
func (r Report) Value(name string) (KPIValue, bool) {
	for _, v := range r.Values {
		if v.Name == name {
			return v, true
		}
	}
	return KPIValue{}, false
}

// Compute evaluates the KPIs for snap without touching any surface.
// Missing sources evaluate as empty.
func (r *Reconciler) Compute(snap Snapshot) []KPIValue {
	since := MonthStart(r.now().In(r.loc))
	return computeKPIs(r.defs, snap, since, r.formatter)
}

// Reconcile writes every KPI onto the targets of surface that exist.
// Missing targets are skipped. Absent collections are reloaded once through
// the loader before computing. Errors and panics are returned in the report
// and never escape.
func (r *Reconciler) Reconcile(ctx context.Context, surface Surface, snap Snapshot) (rep Report) {
	defer func() {
		if p := recover(); p != nil {
			rep = Report{Err: fmt.Errorf("reconcile panicked: %v", p)}
		}
		r.record(rep)
	}()
	return r.reconcile(ctx, surface, snap)
}

func (r *Reconciler) reconcile(ctx context.Context, surface Surface, snap Snapshot) Report {
	var rep Report

	if missing := missingSources(r.defs, snap); len(missing) > 0 {
		snap, rep.Reloaded = r.reload(ctx, snap, missing)
		for _, name := range missingSources(r.defs, snap) {
			if r.required(name) {
				rep.Err = fmt.Errorf("%w: %s", ErrMissingSource, name)
				return rep
			}
			log.Printf("⚠️ Collection %s not available, counting it as empty", name)
		}
	}
	if err := ctx.Err(); err != nil {
		rep.Err = err
		return rep
	}

	rep.Values = r.Compute(snap)
	for i, def := range r.defs {
		v := rep.Values[i]
		for _, id := range def.Targets {
			if _, ok := surface.Text(id); !ok {
				log.Printf("❌ Target #%s not found", id)
				rep.Skipped = append(rep.Skipped, id)
				continue
			}
			if err := surface.Write(id, v.Text, UpdatedStyle); err != nil {
				if errors.Is(err, ErrNoSuchTarget) {
					rep.Skipped = append(rep.Skipped, id)
					continue
				}
				rep.Err = fmt.Errorf("write #%s: %w", id, err)
				return rep
			}
			rep.Updated = append(rep.Updated, id)
		}
	}

	rep.Success = true
	return rep
}

func (r *Reconciler) reload(ctx context.Context, snap Snapshot, missing []string) (Snapshot, []string) {
	if r.loader == nil {
		return snap, nil
	}
	var reloaded []string
	for _, name := range missing {
		log.Printf("🔄 Collection %s missing, reloading...", name)
		c, err := r.loader.LoadCollection(ctx, name)
		if err != nil {
			log.Printf("❌ Reload of %s failed: %v", name, err)
			continue
		}
		log.Printf("✅ Collection %s reloaded: %d records", name, c.Count)
		snap = snap.With(name, c)
		reloaded = append(reloaded, name)
	}
	return snap, reloaded
}

func (r *Reconciler) required(source string) bool {
	for _, d := range r.defs {
		if d.Source == source && d.Required {
			return true
		}
	}
	return false
}

func (r *Reconciler) record(rep Report) {
	if rep.Success {
		metrics.ReconcileRuns.WithLabelValues("success").Inc()
	} else {
		metrics.ReconcileRuns.WithLabelValues("failure").Inc()
		log.Printf("❌ KPI reconcile failed: %v", rep.Err)
	}
	metrics.ReconcileTargets.WithLabelValues("updated").Add(float64(len(rep.Updated)))
	metrics.ReconcileTargets.WithLabelValues("skipped").Add(float64(len(rep.Skipped)))
}

// totalTargets returns the targets of the derived total KPI.
func (r *Reconciler) totalTargets() []string {
	for _, d := range r.defs {
		if d.Derived {
			return d.Targets
		}
	}
	return nil
}

// ShowsPlaceholder reports whether the first total target exists and still
// shows "-" or a zero amount.
func (r *Reconciler) ShowsPlaceholder(surface Surface) bool {
	targets := r.totalTargets()
	if len(targets) == 0 {
		return false
	}
	text, ok := surface.Text(targets[0])
	if !ok {
		return false
	}
	return text == "-" || text == "" || text == r.formatter.Zero()
}

// ============================================================================
// SUBSCRIPTIONS
// ============================================================================

type Policy string

const (
	// PolicyAlways rewrites the targets on every tick.
	PolicyAlways Policy = "always"
	// PolicyPlaceholder only rewrites while the dashboard is active and the
	// total still shows a placeholder.
	PolicyPlaceholder Policy = "placeholder"
)

const DefaultInterval = 10 * time.Second

type SubscribeOptions struct {
	Interval time.Duration
	Policy   Policy
	Source   SnapshotSource
	// ActiveView reports the view the client is showing. Nil means the
	// dashboard is always active.
	ActiveView func() string
	// OnReport, when set, receives the report of every run.
	OnReport func(Report)
}

// Subscription is a running reconcile loop bound to one surface.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe runs a reconcile immediately and then on every interval until
// Stop is called or ctx is cancelled.
func (r *Reconciler) Subscribe(ctx context.Context, surface Surface, opts SubscribeOptions) *Subscription {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Policy == "" {
		opts.Policy = PolicyPlaceholder
	}

	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}
	metrics.ActiveSubscriptions.Inc()

	go func() {
		defer close(sub.done)
		defer metrics.ActiveSubscriptions.Dec()

		r.run(ctx, surface, opts)

		ticker := time.NewTicker(opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if opts.Policy == PolicyPlaceholder && !r.needsRepair(surface, opts) {
					continue
				}
				r.run(ctx, surface, opts)
			}
		}
	}()
	return sub
}

func (r *Reconciler) needsRepair(surface Surface, opts SubscribeOptions) bool {
	if opts.ActiveView != nil && opts.ActiveView() != DashboardView {
		return false
	}
	if !r.ShowsPlaceholder(surface) {
		return false
	}
	log.Printf("🔄 Total still shows a placeholder, reconciling...")
	return true
}

func (r *Reconciler) run(ctx context.Context, surface Surface, opts SubscribeOptions) {
	var snap Snapshot
	if opts.Source != nil {
		var err error
		snap, err = opts.Source.Snapshot(ctx)
		if err != nil {
			log.Printf("⚠️ Snapshot incomplete: %v", err)
		}
	}
	rep := r.Reconcile(ctx, surface, snap)
	if opts.OnReport != nil {
		opts.OnReport(rep)
	}
}

// Stop ends the loop and waits for it to exit. Safe to call more than once.
func (s *Subscription) Stop() {
	s.cancel()
	<-s.done
}

// Done is closed once the loop has exited.
func (s *Subscription) Done() <-chan struct{} { return s.done }
