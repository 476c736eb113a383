// Package continuous_querier periodically re-runs registered queries
// and writes their results into target series.
package continuous_querier

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/cql"
	"github.com/kronosdb/kronosdb/meta"
	"github.com/kronosdb/kronosdb/models"
	"github.com/kronosdb/kronosdb/pkg/logger"
	"github.com/kronosdb/kronosdb/query"
)

// Statistics keeps service counters, read atomically.
type Statistics struct {
	QueryOK       int64
	QueryFail     int64
	PointsWritten int64
}

// Service runs continuous queries on an interval.
type Service struct {
	MetaClient interface {
		Databases() []meta.DatabaseInfo
		ContinuousQueries(database string) []meta.ContinuousQueryInfo
		SetContinuousQueryLastRun(database string, id uint64, lastRun int64) error
	}
	QueryExecutor *query.Executor

	config Config
	wg     sync.WaitGroup
	done   chan struct{}

	stats Statistics

	logger *zap.Logger
}

// NewService returns a configured continuous query service.
func NewService(c Config) *Service {
	return &Service{
		config: c,
		logger: zap.NewNop(),
	}
}

// Open starts the service.
func (s *Service) Open() error {
	if !s.config.Enabled || s.done != nil {
		return nil
	}

	s.logger.Info("Starting continuous query service",
		logger.DurationLiteral("run_interval", s.config.RunInterval.Duration()))
	s.done = make(chan struct{})

	s.wg.Add(1)
	go func() { defer s.wg.Done(); s.run() }()
	return nil
}

// Close stops the service.
func (s *Service) Close() error {
	if !s.config.Enabled || s.done == nil {
		return nil
	}

	s.logger.Info("Closing continuous query service")
	close(s.done)

	s.wg.Wait()
	s.done = nil
	return nil
}

// WithLogger sets the logger on the service.
func (s *Service) WithLogger(log *zap.Logger) {
	s.logger = log.With(zap.String("service", "continuous_querier"))
}

// Statistics returns a copy of the service counters.
func (s *Service) Statistics() []models.Statistic {
	return []models.Statistic{{
		Name: "cq",
		Values: map[string]interface{}{
			"queryOk":       atomic.LoadInt64(&s.stats.QueryOK),
			"queryFail":     atomic.LoadInt64(&s.stats.QueryFail),
			"pointsWritten": atomic.LoadInt64(&s.stats.PointsWritten),
		},
	}}
}

func (s *Service) run() {
	ticker := time.NewTicker(s.config.RunInterval.Duration())
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.runContinuousQueries(now.UTC())
		}
	}
}

// runContinuousQueries executes every registered query over the window
// since its last run.
func (s *Service) runContinuousQueries(now time.Time) {
	for _, db := range s.MetaClient.Databases() {
		for _, cq := range s.MetaClient.ContinuousQueries(db.Name) {
			if err := s.runContinuousQuery(db.Name, cq, now); err != nil {
				atomic.AddInt64(&s.stats.QueryFail, 1)
				s.logger.Warn("continuous query failed",
					logger.Database(db.Name),
					zap.Uint64("id", cq.ID),
					zap.Error(err))
				continue
			}
			atomic.AddInt64(&s.stats.QueryOK, 1)
		}
	}
}

func (s *Service) runContinuousQuery(db string, cq meta.ContinuousQueryInfo, now time.Time) error {
	q, err := cql.ParseQuery(cq.Query)
	if err != nil {
		return err
	}
	if len(q.Statements) != 1 {
		return nil
	}
	sel, ok := q.Statements[0].(*cql.SelectStatement)
	if !ok || sel.Into == "" {
		return nil
	}
	if isFanout(sel) {
		// Handled on the write path as points arrive.
		return nil
	}

	// Constrain the select to the window since the last run so each
	// pass only processes new points.
	run := *sel
	if cq.LastRun > 0 {
		window := &cql.BinaryExpr{
			Op:  cql.GT,
			LHS: &cql.VarRef{Val: models.TimeColumn},
			RHS: &cql.IntegerLiteral{Val: cq.LastRun},
		}
		if run.Condition != nil {
			run.Condition = &cql.BinaryExpr{Op: cql.AND, LHS: run.Condition, RHS: window}
		} else {
			run.Condition = window
		}
	}

	opt := query.ExecutionOptions{
		Database:  db,
		Precision: models.PrecisionNanosecond,
		Now:       now,
	}
	n, err := s.QueryExecutor.RunInto(context.Background(), &run, opt)
	if err != nil {
		return err
	}
	atomic.AddInt64(&s.stats.PointsWritten, int64(n))

	return s.MetaClient.SetContinuousQueryLastRun(db, cq.ID, now.UnixNano())
}

// isFanout reports whether a continuous query is a plain copy that can
// be applied point by point at write time instead of on the interval.
func isFanout(sel *cql.SelectStatement) bool {
	return !sel.HasAggregates() && sel.Condition == nil && sel.GroupBy == nil
}

// FanoutPoints derives the points a write implies through registered
// non-aggregate continuous queries: each incoming point whose series
// feeds a "select ... into target" copy is mirrored, with the selected
// columns, into the target series.
func (s *Service) FanoutPoints(database string, points []models.Point) []models.Point {
	if !s.config.Enabled {
		return nil
	}

	var out []models.Point
	for _, cq := range s.MetaClient.ContinuousQueries(database) {
		q, err := cql.ParseQuery(cq.Query)
		if err != nil || len(q.Statements) != 1 {
			continue
		}
		sel, ok := q.Statements[0].(*cql.SelectStatement)
		if !ok || sel.Into == "" || !isFanout(sel) {
			continue
		}

		names := sel.Source.Names()
		for _, p := range points {
			if !containsName(names, p.Series) {
				continue
			}
			values := fanoutValues(sel, p)
			if len(values) == 0 {
				continue
			}
			out = append(out, models.Point{Series: sel.Into, Time: p.Time, Values: values})
		}
	}
	atomic.AddInt64(&s.stats.PointsWritten, int64(len(out)))
	return out
}

// fanoutValues projects a point through the select field list.
func fanoutValues(sel *cql.SelectStatement, p models.Point) map[string]interface{} {
	if sel.HasWildcard() {
		values := make(map[string]interface{}, len(p.Values))
		for k, v := range p.Values {
			values[k] = v
		}
		return values
	}

	values := make(map[string]interface{}, len(sel.Fields))
	for _, f := range sel.Fields {
		ref, ok := f.Expr.(*cql.VarRef)
		if !ok {
			continue
		}
		if v, ok := p.Values[ref.Val]; ok {
			values[f.Name()] = v
		}
	}
	return values
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
