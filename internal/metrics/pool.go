package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

type poolStat struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(*pgxpool.Stat) float64
}

// PoolCollector exports pgxpool statistics for every named pool: the
// dashboard store and each PostgreSQL datasource. Stats are read during
// the scrape.
type PoolCollector struct {
	pools map[string]*pgxpool.Pool
	stats []poolStat
}

// NewPoolCollector creates a collector labelled by pool name.
func NewPoolCollector(pools map[string]*pgxpool.Pool) *PoolCollector {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(namespace+"_pgxpool_"+name, help, []string{"pool"}, nil)
	}
	return &PoolCollector{
		pools: pools,
		stats: []poolStat{
			{desc("acquire_count_total", "Cumulative count of successful connection acquires."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return float64(s.AcquireCount()) }},
			{desc("acquire_duration_seconds_total", "Cumulative time spent acquiring connections."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return s.AcquireDuration().Seconds() }},
			{desc("canceled_acquire_count_total", "Cumulative count of acquires canceled by context."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return float64(s.CanceledAcquireCount()) }},
			{desc("empty_acquire_count_total", "Cumulative count of acquires that waited on an empty pool."), prometheus.CounterValue,
				func(s *pgxpool.Stat) float64 { return float64(s.EmptyAcquireCount()) }},
			{desc("acquired_conns", "Connections currently acquired."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.AcquiredConns()) }},
			{desc("idle_conns", "Idle connections in the pool."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.IdleConns()) }},
			{desc("total_conns", "Total connections in the pool."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.TotalConns()) }},
			{desc("max_conns", "Maximum connections allowed."), prometheus.GaugeValue,
				func(s *pgxpool.Stat) float64 { return float64(s.MaxConns()) }},
		},
	}
}

// Describe implements prometheus.Collector.
func (c *PoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, s := range c.stats {
		ch <- s.desc
	}
}

// Collect implements prometheus.Collector.
func (c *PoolCollector) Collect(ch chan<- prometheus.Metric) {
	for name, pool := range c.pools {
		stat := pool.Stat()
		for _, s := range c.stats {
			ch <- prometheus.MustNewConstMetric(s.desc, s.kind, s.value(stat), name)
		}
	}
}
