package retrieval

import (
	"context"
	"errors"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// SeriesPoint is one raw reading returned by the store.
type SeriesPoint struct {
	Time  time.Time
	Value float64
}

// SeriesStore is the time-series query interface the executor depends on.
// Implementations wrap transient failures in ErrStoreUnavailable and
// rejections in ErrQueryRejected; anything else is treated as transient.
type SeriesStore interface {
	// Query returns the points for one series in store order. An empty
	// slice with a nil error means the store was reachable and the series
	// has no data in the window; it is not a failure.
	Query(ctx context.Context, q Query) ([]SeriesPoint, error)
}

// QueryKey identifies a (unit, quantity) result in the executor's output.
type QueryKey struct {
	UnitID   string
	Quantity string
}

// ExecutorConfig bounds the executor's concurrency and retry behavior.
type ExecutorConfig struct {
	MaxInFlight    int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	QueryTimeout   time.Duration
	RatePerSecond  float64
	RateBurst      int
	CacheSize      int
}

// DefaultExecutorConfig returns the bounds used when config does not
// override them. The 10-minute query timeout matches the store's own upper
// bound for large windows.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		MaxInFlight:    8,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		QueryTimeout:   10 * time.Minute,
		RatePerSecond:  20,
		RateBurst:      40,
		CacheSize:      1024,
	}
}

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unitexport_store_queries_total",
			Help: "Store queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "unitexport_store_query_duration_seconds",
			Help:    "Store query latency including retries.",
			Buckets: prometheus.DefBuckets,
		},
	)
	retriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "unitexport_store_query_retries_total",
			Help: "Retry attempts after transient store failures.",
		},
	)
)

// RegisterMetrics registers the executor's collectors.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(queriesTotal, queryLatency, retriesTotal)
}

// QueryCache is an LRU of query results keyed by signature. It is safe for
// concurrent use and outlives any single executor, so a re-run of an
// identical request skips the store entirely.
type QueryCache struct {
	lru *lru.Cache
}

// NewQueryCache creates a cache holding up to size query results.
func NewQueryCache(size int) (*QueryCache, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &QueryCache{lru: cache}, nil
}

func (c *QueryCache) get(key string) ([]SeriesPoint, bool) {
	v, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return v.([]SeriesPoint), true
}

func (c *QueryCache) add(key string, points []SeriesPoint) {
	c.lru.Add(key, points)
}

// Executor runs store queries concurrently with a bounded in-flight count,
// a store-side rate limit, bounded retries for transient failures, and an
// LRU cache keyed by query signature so identical re-runs skip the store.
type Executor struct {
	store   SeriesStore
	limiter *rate.Limiter
	cache   *QueryCache
	cfg     ExecutorConfig
	logger  *logrus.Logger
}

// NewExecutor creates an executor over the given store. A nil cache gives
// the executor a private one sized from the config; callers that re-run
// requests pass a shared cache so later runs reuse earlier results.
func NewExecutor(store SeriesStore, cache *QueryCache, cfg ExecutorConfig, logger *logrus.Logger) (*Executor, error) {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cache == nil {
		var err error
		cache, err = NewQueryCache(cfg.CacheSize)
		if err != nil {
			return nil, err
		}
	}
	return &Executor{
		store:   store,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		cache:   cache,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Execute runs every query and returns the per-series points plus the
// ordered failure records. Each query is independent: one failure never
// aborts its siblings. Failures keep the input query order.
func (e *Executor) Execute(ctx context.Context, queries []Query) (map[QueryKey][]SeriesPoint, []Failure) {
	results := make([][]SeriesPoint, len(queries))
	failures := make([]*Failure, len(queries))

	sem := make(chan struct{}, e.cfg.MaxInFlight)
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q Query) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				failures[i] = &Failure{UnitID: q.UnitID, Quantity: q.Quantity, Kind: FailureTransient, Err: ctx.Err()}
				return
			}
			points, err := e.runQuery(ctx, q)
			if err != nil {
				kind := FailureTransient
				if errors.Is(err, ErrQueryRejected) {
					kind = FailureNonTransient
				}
				failures[i] = &Failure{UnitID: q.UnitID, Quantity: q.Quantity, Kind: kind, Err: err}
				return
			}
			results[i] = points
		}(i, q)
	}
	wg.Wait()

	series := make(map[QueryKey][]SeriesPoint, len(queries))
	var failed []Failure
	for i, q := range queries {
		if failures[i] != nil {
			failed = append(failed, *failures[i])
			continue
		}
		series[QueryKey{UnitID: q.UnitID, Quantity: q.Quantity}] = results[i]
	}
	return series, failed
}

// runQuery executes one query with caching, rate limiting and retries.
func (e *Executor) runQuery(ctx context.Context, q Query) ([]SeriesPoint, error) {
	key := q.Signature()
	if cached, ok := e.cache.get(key); ok {
		queriesTotal.WithLabelValues("cached").Inc()
		return cached, nil
	}

	start := time.Now()
	defer func() { queryLatency.Observe(time.Since(start).Seconds()) }()

	backoff := e.cfg.InitialBackoff
	var lastErr error
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		points, err := e.queryOnce(ctx, q)
		if err == nil {
			queriesTotal.WithLabelValues("ok").Inc()
			e.cache.add(key, points)
			return points, nil
		}
		lastErr = err

		if errors.Is(err, ErrQueryRejected) || ctx.Err() != nil {
			break
		}
		if attempt == e.cfg.MaxAttempts {
			break
		}

		retriesTotal.Inc()
		e.logger.WithFields(logrus.Fields{
			"unit":     q.UnitID,
			"quantity": q.Quantity,
			"attempt":  attempt,
			"backoff":  backoff.String(),
		}).Warn("Transient store failure, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			queriesTotal.WithLabelValues("failed").Inc()
			return nil, ctx.Err()
		}
		backoff *= 2
		if e.cfg.MaxBackoff > 0 && backoff > e.cfg.MaxBackoff {
			backoff = e.cfg.MaxBackoff
		}
	}
	queriesTotal.WithLabelValues("failed").Inc()
	return nil, lastErr
}

func (e *Executor) queryOnce(ctx context.Context, q Query) ([]SeriesPoint, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}
	return e.store.Query(ctx, q)
}
