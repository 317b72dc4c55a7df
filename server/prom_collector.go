package server

import (
	"github.com/INLOpen/nexuswal/sys"
	"github.com/INLOpen/nexuswal/wal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// WALSource is the view of the engine the servers need.
type WALSource interface {
	Regions() []string
	Node(region string) (*wal.WAL, bool)
	IsReadOnly() bool
}

var regionLabel = []string{"region"}

// WALCollector exports the expvar counters of every WAL node as Prometheus
// metrics labelled by region. Values are read at scrape time.
type WALCollector struct {
	source WALSource

	entries        *prometheus.Desc
	serializeErrs  *prometheus.Desc
	rejected       *prometheus.Desc
	bytesWritten   *prometheus.Desc
	switches       *prometheus.Desc
	forcedSyncs    *prometheus.Desc
	syncErrors     *prometheus.Desc
	rolls          *prometheus.Desc
	regressions    *prometheus.Desc
	searchIndex    *prometheus.Desc
	queueLength    *prometheus.Desc
	readOnly       *prometheus.Desc
	allEntriesDone *prometheus.Desc
	prealloc       *prometheus.Desc
}

var _ prometheus.Collector = (*WALCollector)(nil)

func NewWALCollector(source WALSource) *WALCollector {
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc("nexuswal_"+name, help, labels, nil)
	}
	return &WALCollector{
		source:         source,
		entries:        desc("wal_entries_serialized_total", "Entries serialized into the WAL buffers.", regionLabel),
		serializeErrs:  desc("wal_serialization_errors_total", "Entries dropped because they could not be serialized.", regionLabel),
		rejected:       desc("wal_rejected_entries_total", "Entries rejected because the node was closed.", regionLabel),
		bytesWritten:   desc("wal_bytes_written_total", "Bytes appended to segment files.", regionLabel),
		switches:       desc("wal_buffer_switches_total", "Working buffer handoffs to the syncer.", regionLabel),
		forcedSyncs:    desc("wal_forced_syncs_total", "Batches forced to stable storage.", regionLabel),
		syncErrors:     desc("wal_sync_errors_total", "Segment write, fsync and roll failures.", regionLabel),
		rolls:          desc("wal_rolls_total", "Segment rollovers.", regionLabel),
		regressions:    desc("wal_search_index_regressions_total", "Insert entries whose search index was below the watermark.", regionLabel),
		searchIndex:    desc("wal_current_search_index", "Highest search index serialized.", regionLabel),
		queueLength:    desc("wal_queue_length", "Entries waiting for the serializer.", regionLabel),
		allEntriesDone: desc("wal_all_entries_consumed", "1 when every accepted entry has been resolved.", regionLabel),
		readOnly:       desc("read_only", "1 once a persistence failure switched the process to read-only mode.", nil),
		prealloc:       desc("segment_preallocations_total", "Segment preallocation attempts by outcome.", []string{"outcome"}),
	}
}

func (c *WALCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.entries, c.serializeErrs, c.rejected, c.bytesWritten, c.switches, c.forcedSyncs,
		c.syncErrors, c.rolls, c.regressions, c.searchIndex, c.queueLength, c.allEntriesDone, c.readOnly, c.prealloc,
	} {
		ch <- d
	}
}

func (c *WALCollector) Collect(ch chan<- prometheus.Metric) {
	for _, region := range c.source.Regions() {
		node, ok := c.source.Node(region)
		if !ok {
			continue
		}
		m := node.Metrics()
		counter := func(d *prometheus.Desc, v int64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), region)
		}
		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, region)
		}
		counter(c.entries, m.EntriesSerialized.Value())
		counter(c.serializeErrs, m.SerializationErrors.Value())
		counter(c.rejected, m.RejectedEntries.Value())
		counter(c.bytesWritten, m.BytesWritten.Value())
		counter(c.switches, m.BufferSwitches.Value())
		counter(c.forcedSyncs, m.ForcedSyncs.Value())
		counter(c.syncErrors, m.SyncErrors.Value())
		counter(c.rolls, m.Rolls.Value())
		counter(c.regressions, m.SearchIndexRegressions.Value())
		gauge(c.searchIndex, float64(node.CurrentSearchIndex()))
		gauge(c.queueLength, float64(node.QueueLength()))
		gauge(c.allEntriesDone, boolFloat(node.IsAllEntriesConsumed()))
	}
	ch <- prometheus.MustNewConstMetric(c.readOnly, prometheus.GaugeValue, boolFloat(c.source.IsReadOnly()))

	ps := sys.ReadPreallocStats()
	for outcome, v := range map[string]uint64{
		"success":     ps.Successes,
		"failure":     ps.Failures,
		"unsupported": ps.Unsupported,
	} {
		ch <- prometheus.MustNewConstMetric(c.prealloc, prometheus.CounterValue, float64(v), outcome)
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// NewRegistry returns a registry with the WAL collector and the standard Go
// and process collectors.
func NewRegistry(source WALSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewWALCollector(source),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}
