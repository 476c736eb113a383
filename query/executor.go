// Package query evaluates parsed statements against the meta store and
// the shard data.
package query

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/kronosdb/kronosdb/cql"
	"github.com/kronosdb/kronosdb/meta"
	"github.com/kronosdb/kronosdb/models"
	kerrors "github.com/kronosdb/kronosdb/pkg/errors"
	"github.com/kronosdb/kronosdb/tsdb"
)

// ErrDatabaseNotFound is returned when a query names an unknown database.
var ErrDatabaseNotFound = errors.New("database not found")

// MetaClient is the subset of the meta store the executor needs.
type MetaClient interface {
	Database(name string) *meta.DatabaseInfo
	CreateContinuousQuery(database, query string) (uint64, error)
	DropContinuousQuery(database string, id uint64) error
	ContinuousQueries(database string) []meta.ContinuousQueryInfo
}

// TSDBStore is the subset of the shard store the executor needs.
type TSDBStore interface {
	Shard(database string) *tsdb.Shard
	CreateShard(database string) error
	WriteToShard(database string, points []models.Point) error
}

// ExecutionOptions carries per-request query parameters.
type ExecutionOptions struct {
	// Database the statements run against.
	Database string

	// Precision interprets bare integer timestamps in conditions and
	// formats timestamps in results.
	Precision models.Precision

	// Now anchors relative time expressions. Zero means time.Now.
	Now time.Time
}

// Statistics keeps executor counters, read atomically.
type Statistics struct {
	QueriesExecuted int64
	QueryErrors     int64
	PointsScanned   int64
}

// Executor runs parsed statements.
type Executor struct {
	MetaClient MetaClient
	TSDBStore  TSDBStore

	stats  Statistics
	logger *zap.Logger
}

// NewExecutor returns an executor bound to the given stores.
func NewExecutor(mc MetaClient, store TSDBStore) *Executor {
	return &Executor{
		MetaClient: mc,
		TSDBStore:  store,
		logger:     zap.NewNop(),
	}
}

// WithLogger sets the logger on the executor.
func (e *Executor) WithLogger(log *zap.Logger) {
	e.logger = log.With(zap.String("service", "executor"))
}

// Statistics returns a copy of the executor counters.
func (e *Executor) Statistics() Statistics {
	return Statistics{
		QueriesExecuted: atomic.LoadInt64(&e.stats.QueriesExecuted),
		QueryErrors:     atomic.LoadInt64(&e.stats.QueryErrors),
		PointsScanned:   atomic.LoadInt64(&e.stats.PointsScanned),
	}
}

// ExecuteQuery runs every statement in q and returns the combined rows.
func (e *Executor) ExecuteQuery(ctx context.Context, q *cql.Query, opt ExecutionOptions) ([]*models.Row, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "execute_query")
	span.SetTag("db", opt.Database)
	span.SetTag("statements", len(q.Statements))
	defer span.Finish()

	if opt.Now.IsZero() {
		opt.Now = time.Now()
	}
	if e.MetaClient.Database(opt.Database) == nil {
		return nil, ErrDatabaseNotFound
	}

	atomic.AddInt64(&e.stats.QueriesExecuted, 1)

	var rows []*models.Row
	for _, stmt := range q.Statements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		a, err := e.executeStatement(ctx, stmt, opt)
		if err != nil {
			atomic.AddInt64(&e.stats.QueryErrors, 1)
			return nil, err
		}
		rows = append(rows, a...)
	}
	return rows, nil
}

func (e *Executor) executeStatement(ctx context.Context, stmt cql.Statement, opt ExecutionOptions) ([]*models.Row, error) {
	switch s := stmt.(type) {
	case *cql.SelectStatement:
		if s.IsContinuous() {
			return e.executeCreateContinuousQuery(s, opt)
		}
		return e.executeSelect(ctx, s, opt)
	case *cql.DeleteStatement:
		return nil, e.executeDelete(s, opt)
	case *cql.DropSeriesStatement:
		return nil, e.executeDropSeries(s, opt)
	case *cql.ListSeriesStatement:
		return e.executeListSeries(opt)
	case *cql.ListContinuousQueriesStatement:
		return e.executeListContinuousQueries(opt)
	case *cql.DropContinuousQueryStatement:
		return nil, e.executeDropContinuousQuery(s, opt)
	case *cql.ExplainStatement:
		return e.executeExplain(s, opt)
	default:
		return nil, errors.Errorf("unsupported statement type %T", stmt)
	}
}

func (e *Executor) executeCreateContinuousQuery(s *cql.SelectStatement, opt ExecutionOptions) ([]*models.Row, error) {
	id, err := e.MetaClient.CreateContinuousQuery(opt.Database, s.String())
	if err != nil {
		return nil, err
	}
	e.logger.Info("Registered continuous query",
		zap.String("db", opt.Database),
		zap.Uint64("id", id),
		zap.String("query", s.String()))
	return []*models.Row{{
		Name:    "continuous_query",
		Columns: []string{"id"},
		Values:  [][]interface{}{{int64(id)}},
	}}, nil
}

func (e *Executor) executeDelete(s *cql.DeleteStatement, opt ExecutionOptions) error {
	sh := e.TSDBStore.Shard(opt.Database)
	if sh == nil {
		return ErrDatabaseNotFound
	}

	min, max := timeRangeOf(s.Condition, opt)
	if s.Condition != nil && !cql.HasTimeCondition(s.Condition) {
		return kerrors.NewClientError(errors.New("delete supports time conditions only"))
	}
	if s.Condition == nil {
		// Bare delete removes everything.
		min, max = minInt64, maxInt64
	}
	return sh.DeleteRange(s.Source.Name, min, max)
}

func (e *Executor) executeDropSeries(s *cql.DropSeriesStatement, opt ExecutionOptions) error {
	sh := e.TSDBStore.Shard(opt.Database)
	if sh == nil {
		return ErrDatabaseNotFound
	}
	return sh.DropSeries(s.Name)
}

func (e *Executor) executeListSeries(opt ExecutionOptions) ([]*models.Row, error) {
	sh := e.TSDBStore.Shard(opt.Database)
	if sh == nil {
		return nil, ErrDatabaseNotFound
	}

	names := sh.SeriesNames()
	row := &models.Row{Name: "list_series_result", Columns: []string{"name"}}
	for _, name := range names {
		row.Values = append(row.Values, []interface{}{name})
	}
	return []*models.Row{row}, nil
}

func (e *Executor) executeListContinuousQueries(opt ExecutionOptions) ([]*models.Row, error) {
	cqs := e.MetaClient.ContinuousQueries(opt.Database)
	sort.Slice(cqs, func(i, j int) bool { return cqs[i].ID < cqs[j].ID })

	row := &models.Row{Name: "continuous queries", Columns: []string{"id", "query"}}
	for _, cq := range cqs {
		row.Values = append(row.Values, []interface{}{int64(cq.ID), cq.Query})
	}
	return []*models.Row{row}, nil
}

func (e *Executor) executeDropContinuousQuery(s *cql.DropContinuousQueryStatement, opt ExecutionOptions) error {
	return e.MetaClient.DropContinuousQuery(opt.Database, s.ID)
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// timeRangeOf resolves the query's time window in nanoseconds. Queries
// without a time condition get the default trailing window.
func timeRangeOf(cond cql.Expr, opt ExecutionOptions) (min, max int64) {
	if cond == nil || !cql.HasTimeCondition(cond) {
		max = opt.Now.UnixNano()
		min = max - int64(cql.DefaultQueryWindow)
		return min, max
	}
	min, max = cql.TimeRange(cond, opt.Now, func(v int64) int64 {
		return opt.Precision.ToNanos(float64(v))
	})
	if max == 0 {
		max = opt.Now.UnixNano()
	}
	return min, max
}
