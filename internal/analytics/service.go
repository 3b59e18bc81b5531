package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	v1 "github.com/aevon-lab/fuel-ledger/internal/api/v1"
	"github.com/aevon-lab/fuel-ledger/internal/core/period"
	"github.com/aevon-lab/fuel-ledger/internal/core/storage"
	"github.com/aevon-lab/fuel-ledger/internal/efficiency"
	"github.com/aevon-lab/fuel-ledger/internal/notify"
	"github.com/aevon-lab/fuel-ledger/internal/observability/metrics"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	defaultSeriesCacheSize = 512
	seriesLoadConcurrency  = 8
	maxTopN                = 100
	maxEvolutionPeriods    = 36
)

// ErrInvalidQuery marks request validation errors that should return HTTP 400.
var ErrInvalidQuery = errors.New("invalid stats query")

// StatsQuery is the unparsed form of a stats request.
type StatsQuery struct {
	// Period is "YYYY-MM", "YYYY", "YYYY-MM-DD..YYYY-MM-DD" or a trailing span
	// ending now such as "last:30d". Empty means the current month.
	Period string `form:"period"`

	// Compare overrides the comparison window; empty means the preceding period.
	Compare string `form:"compare"`

	GroupBy   string `form:"group_by"`
	TopN      int    `form:"top"`
	Evolution int    `form:"evolution"`
}

// Service answers stats queries from the event store. Vehicle histories and
// their derived series are memoized until the ledger reports a change.
type Service struct {
	events    storage.FuelEventStore
	directory storage.Directory

	cache *seriesCache
	group singleflight.Group

	loc              *time.Location
	topN             int
	evolutionPeriods int
	nowFn            func() time.Time
}

// Option configures a Service.
type Option func(*Service)

func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

func WithEvolutionPeriods(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.evolutionPeriods = n
		}
	}
}

// WithSeriesCacheSize bounds the number of vehicles memoized. Zero disables caching.
func WithSeriesCacheSize(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.cache = newSeriesCache(n)
		}
	}
}

// WithLocation sets the time zone calendar periods are cut in.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// NewService creates the analytics query service. directory may be nil, in
// which case entries are labelled by their refs.
func NewService(events storage.FuelEventStore, directory storage.Directory, opts ...Option) *Service {
	if events == nil {
		panic("analytics: event store must not be nil")
	}
	s := &Service{
		events:           events,
		directory:        directory,
		cache:            newSeriesCache(defaultSeriesCacheSize),
		loc:              time.UTC,
		topN:             DefaultTopN,
		evolutionPeriods: DefaultEvolutionPeriods,
		nowFn:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleChange drops cached series for the vehicles touched by a ledger write.
// It is meant to be subscribed to the notification bus.
func (s *Service) HandleChange(_ context.Context, change notify.Change) error {
	refs := []string{change.VehicleRef}
	if change.PreviousVehicleRef != "" {
		refs = append(refs, change.PreviousVehicleRef)
	}
	s.cache.invalidate(refs...)
	slog.Debug("[Analytics] Series invalidated", "vehicle_refs", refs, "kind", change.Kind)
	return nil
}

// ParseRequest resolves a StatsQuery into an aggregation Request.
func (s *Service) ParseRequest(q StatsQuery) (Request, error) {
	var req Request

	now := s.nowFn().In(s.loc)
	if q.Period == "" {
		req.Window = period.MonthOf(now)
	} else if w, ok, err := period.ParseTrailing(q.Period, now); ok {
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		req.Window = w
	} else {
		w, err := period.Parse(q.Period, s.loc)
		if err != nil {
			return Request{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
		}
		req.Window = w
	}

	if q.Compare != "" {
		w, err := period.Parse(q.Compare, s.loc)
		if err != nil {
			return Request{}, fmt.Errorf("%w: compare: %v", ErrInvalidQuery, err)
		}
		req.Comparison = w
	}

	groupBy, err := ParseGroupBy(q.GroupBy)
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	req.GroupBy = groupBy

	switch {
	case q.TopN < 0 || q.TopN > maxTopN:
		return Request{}, fmt.Errorf("%w: top must be between 1 and %d", ErrInvalidQuery, maxTopN)
	case q.Evolution < 0 || q.Evolution > maxEvolutionPeriods:
		return Request{}, fmt.Errorf("%w: evolution must be between 1 and %d", ErrInvalidQuery, maxEvolutionPeriods)
	}

	req.TopN = s.topN
	if q.TopN > 0 {
		req.TopN = q.TopN
	}
	req.EvolutionPeriods = s.evolutionPeriods
	if q.Evolution > 0 {
		req.EvolutionPeriods = q.Evolution
	}

	return req.withDefaults(), nil
}

// Query loads the events a StatsQuery needs and aggregates them.
func (s *Service) Query(ctx context.Context, q StatsQuery) (PeriodStats, error) {
	req, err := s.ParseRequest(q)
	if err != nil {
		return PeriodStats{}, err
	}
	return s.Run(ctx, req)
}

// Run aggregates an already parsed Request.
func (s *Service) Run(ctx context.Context, req Request) (PeriodStats, error) {
	start := time.Now()
	stats, err := s.run(ctx, req.withDefaults())

	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveAggregation(result, time.Since(start), stats.Excluded)
	return stats, err
}

func (s *Service) run(ctx context.Context, req Request) (PeriodStats, error) {
	from, to := loadRange(req)

	events, err := s.events.ListInRange(ctx, from, to)
	if err != nil {
		return PeriodStats{}, fmt.Errorf("failed to load fuel events: %w", err)
	}

	vehicleRefs := distinctVehicles(events)
	histories := make([]VehicleHistory, len(vehicleRefs))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		req.Labels = s.labels(gctx, vehicleRefs, events)
		return nil
	})

	loads, lctx := errgroup.WithContext(gctx)
	loads.SetLimit(seriesLoadConcurrency)
	for i, ref := range vehicleRefs {
		loads.Go(func() error {
			h, err := s.history(lctx, ref)
			if err != nil {
				return err
			}
			histories[i] = h
			return nil
		})
	}
	g.Go(loads.Wait)

	if err := g.Wait(); err != nil {
		return PeriodStats{}, err
	}

	var series []efficiency.Interval
	for _, h := range histories {
		series = append(series, h.Series...)
	}

	stats := Aggregate(events, series, req)

	slog.Info("[Analytics] Stats computed",
		"window", req.Window.Label(),
		"comparison", req.Comparison.Label(),
		"group_by", req.GroupBy,
		"events", len(events),
		"vehicles", len(vehicleRefs),
		"excluded", stats.Excluded)
	return stats, nil
}

// VehicleSeries returns one vehicle's chronological history with derived intervals.
func (s *Service) VehicleSeries(ctx context.Context, vehicleRef string) (VehicleHistory, error) {
	if vehicleRef == "" {
		return VehicleHistory{}, fmt.Errorf("%w: vehicle_ref is required", ErrInvalidQuery)
	}
	return s.history(ctx, vehicleRef)
}

// history returns the memoized history of a vehicle, loading it on a miss.
// Concurrent misses for the same vehicle share one load.
func (s *Service) history(ctx context.Context, vehicleRef string) (VehicleHistory, error) {
	if h, ok := s.cache.get(vehicleRef); ok {
		metrics.IncSeriesCache(true)
		return h, nil
	}
	metrics.IncSeriesCache(false)

	v, err, _ := s.group.Do(vehicleRef, func() (interface{}, error) {
		epoch := s.cache.currentEpoch()

		events, err := s.events.ListByVehicle(ctx, vehicleRef)
		if err != nil {
			return nil, fmt.Errorf("failed to load history for vehicle %s: %w", vehicleRef, err)
		}

		h := VehicleHistory{
			VehicleRef: vehicleRef,
			Events:     events,
			Series:     efficiency.ComputeSeries(events),
		}
		if anomalies := efficiency.Anomalies(h.Events, h.Series); len(anomalies) > 0 {
			slog.Warn("[Analytics] Undefined efficiency intervals",
				"vehicle_ref", vehicleRef,
				"count", len(anomalies),
				"first_event_id", anomalies[0].EventID,
				"cause", anomalies[0].Cause)
		}

		s.cache.put(h, epoch)
		return h, nil
	})
	if err != nil {
		return VehicleHistory{}, err
	}
	return v.(VehicleHistory), nil
}

// labels resolves display names. Directory failures degrade to raw refs.
func (s *Service) labels(ctx context.Context, vehicleRefs []string, events []v1.FuelEvent) Labels {
	if s.directory == nil {
		return Labels{}
	}

	vehicles, err := s.directory.LookupVehicles(ctx, vehicleRefs)
	if err != nil {
		slog.Warn("[Analytics] Vehicle lookup failed, using raw refs", "error", err)
		vehicles = nil
	}

	seen := make(map[string]struct{})
	var sectorRefs []string
	addSector := func(ref string) {
		if ref == "" {
			return
		}
		if _, ok := seen[ref]; ok {
			return
		}
		seen[ref] = struct{}{}
		sectorRefs = append(sectorRefs, ref)
	}
	for _, evt := range events {
		addSector(evt.SectorRef)
	}
	for _, info := range vehicles {
		addSector(info.SectorRef)
	}
	sort.Strings(sectorRefs)

	sectors, err := s.directory.LookupSectors(ctx, sectorRefs)
	if err != nil {
		slog.Warn("[Analytics] Sector lookup failed, using raw refs", "error", err)
		sectors = nil
	}

	return Labels{Vehicles: vehicles, Sectors: sectors}
}

// loadRange covers the window, the comparison window and every evolution period.
func loadRange(req Request) (time.Time, time.Time) {
	from, to := req.Window.Start, req.Window.End

	windows := append([]period.Window{req.Comparison}, req.Window.Trailing(req.EvolutionPeriods)...)
	for _, w := range windows {
		if w.IsZero() {
			continue
		}
		if w.Start.Before(from) {
			from = w.Start
		}
		if w.End.After(to) {
			to = w.End
		}
	}
	return from, to
}

func distinctVehicles(events []v1.FuelEvent) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, evt := range events {
		if evt.VehicleRef == "" {
			continue
		}
		if _, ok := seen[evt.VehicleRef]; ok {
			continue
		}
		seen[evt.VehicleRef] = struct{}{}
		out = append(out, evt.VehicleRef)
	}
	sort.Strings(out)
	return out
}
