package engine

import (
	"expvar"
	"fmt"
)

// latencyBuckets defines the buckets for latency histograms (in seconds).
var latencyBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5}

// EngineMetrics holds the expvar variables of an Engine.
type EngineMetrics struct {
	PublishedGlobally bool

	WritesTotal         *expvar.Int
	WriteErrorsTotal    *expvar.Int
	RejectedWritesTotal *expvar.Int
	RollsTotal          *expvar.Int
	ReadOnly            *expvar.Int

	// WriteLatencyHist is a cumulative histogram: count, sum and one le_<bucket>
	// counter per entry of latencyBuckets plus le_inf.
	WriteLatencyHist *expvar.Map
}

// NewEngineMetrics creates the engine counters. When publishGlobally is true
// they are registered in the expvar namespace under prefix.
func NewEngineMetrics(publishGlobally bool, prefix string) *EngineMetrics {
	newInt := func(_ string) *expvar.Int { return new(expvar.Int) }
	newMap := func(_ string) *expvar.Map { return new(expvar.Map).Init() }
	if publishGlobally {
		newInt = publishExpvarInt
		newMap = publishExpvarMap
	}

	em := &EngineMetrics{
		PublishedGlobally:   publishGlobally,
		WritesTotal:         newInt(prefix + "writes_total"),
		WriteErrorsTotal:    newInt(prefix + "write_errors_total"),
		RejectedWritesTotal: newInt(prefix + "rejected_writes_total"),
		RollsTotal:          newInt(prefix + "rolls_total"),
		ReadOnly:            newInt(prefix + "read_only"),
		WriteLatencyHist:    newMap(prefix + "write_latency_seconds"),
	}
	em.WriteLatencyHist.Set("count", new(expvar.Int))
	em.WriteLatencyHist.Set("sum", new(expvar.Float))
	for _, b := range latencyBuckets {
		em.WriteLatencyHist.Set(bucketName(b), new(expvar.Int))
	}
	em.WriteLatencyHist.Set("le_inf", new(expvar.Int))
	return em
}

func bucketName(b float64) string { return fmt.Sprintf("le_%.4f", b) }

// observeLatency records one observation in a histogram built by NewEngineMetrics.
func observeLatency(hist *expvar.Map, seconds float64) {
	if hist == nil {
		return
	}
	if c, ok := hist.Get("count").(*expvar.Int); ok {
		c.Add(1)
	}
	if s, ok := hist.Get("sum").(*expvar.Float); ok {
		s.Add(seconds)
	}
	for _, b := range latencyBuckets {
		if seconds > b {
			continue
		}
		if c, ok := hist.Get(bucketName(b)).(*expvar.Int); ok {
			c.Add(1)
		}
	}
	if c, ok := hist.Get("le_inf").(*expvar.Int); ok {
		c.Add(1)
	}
}

// publishExpvarInt publishes an expvar.Int, resetting and reusing an existing one.
func publishExpvarInt(name string) *expvar.Int {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewInt(name)
	}
	if iv, ok := v.(*expvar.Int); ok {
		iv.Set(0)
		return iv
	}
	panic(fmt.Sprintf("expvar: trying to publish Int %s but variable already exists with different type %T", name, v))
}

// publishExpvarMap publishes an expvar.Map. An existing map is returned as is;
// NewEngineMetrics resets its members.
func publishExpvarMap(name string) *expvar.Map {
	v := expvar.Get(name)
	if v == nil {
		return expvar.NewMap(name)
	}
	if mv, ok := v.(*expvar.Map); ok {
		return mv
	}
	panic(fmt.Sprintf("expvar: trying to publish Map %s but variable already exists with different type %T", name, v))
}
