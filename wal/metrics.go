package wal

import (
	"expvar"
	"fmt"
)

// Metrics holds the expvar counters of one WAL node.
type Metrics struct {
	PublishedGlobally bool
	prefix            string

	EntriesSerialized      *expvar.Int
	SerializationErrors    *expvar.Int
	RejectedEntries        *expvar.Int
	BytesWritten           *expvar.Int
	BufferSwitches         *expvar.Int
	ForcedSyncs            *expvar.Int
	SyncErrors             *expvar.Int
	Rolls                  *expvar.Int
	SearchIndexRegressions *expvar.Int
	CurrentSearchIndex     *expvar.Int
}

// NewMetrics creates the counters of a node. When publishGlobally is true the
// counters are registered in the expvar namespace under prefix, so they show
// up on /debug/vars and on the metrics server.
func NewMetrics(publishGlobally bool, prefix string) *Metrics {
	newIntFunc := func(_ string) *expvar.Int { return new(expvar.Int) }
	if publishGlobally {
		newIntFunc = publishExpvarInt
	}
	return &Metrics{
		PublishedGlobally:      publishGlobally,
		prefix:                 prefix,
		EntriesSerialized:      newIntFunc(prefix + "wal_entries_serialized_total"),
		SerializationErrors:    newIntFunc(prefix + "wal_serialization_errors_total"),
		RejectedEntries:        newIntFunc(prefix + "wal_rejected_entries_total"),
		BytesWritten:           newIntFunc(prefix + "wal_bytes_written_total"),
		BufferSwitches:         newIntFunc(prefix + "wal_buffer_switches_total"),
		ForcedSyncs:            newIntFunc(prefix + "wal_forced_syncs_total"),
		SyncErrors:             newIntFunc(prefix + "wal_sync_errors_total"),
		Rolls:                  newIntFunc(prefix + "wal_rolls_total"),
		SearchIndexRegressions: newIntFunc(prefix + "wal_search_index_regressions_total"),
		CurrentSearchIndex:     newIntFunc(prefix + "wal_current_search_index"),
	}
}

// publishQueueLength exposes the live queue length of a node as an expvar.Func.
func (m *Metrics) publishQueueLength(f func() interface{}) {
	if !m.PublishedGlobally {
		return
	}
	name := m.prefix + "wal_queue_length"
	// expvar.Publish panics on reuse; the first node with this prefix wins.
	if expvar.Get(name) != nil {
		return
	}
	expvar.Publish(name, expvar.Func(f))
}

// publishExpvarInt publishes an expvar.Int, resetting and reusing it when a
// variable of the same name already exists.
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
