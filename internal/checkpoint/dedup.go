// Package checkpoint implements the checkpointer: after every
// commit, it decides whether this table has reached a checkpoint_interval
// boundary and, if so, materializes the table's active file set as a
// checkpoint Parquet file. Concurrent attempts pass through a dedup gate
// keyed by (table, version): the checkpointer has nothing to queue and
// drain, only to deduplicate concurrent attempts at the same checkpoint.
package checkpoint

import "sync"

// key identifies one (table, version) checkpoint attempt.
type key struct {
	table   string
	version int64
}

// Stats tracks checkpoint attempt outcomes.
type Stats struct {
	Attempted int64
	Completed int64
	Failed    int64
	Deduped   int64
}

// dedupSet tracks in-flight (table, version) checkpoint attempts so a
// second concurrent commit landing on the same boundary is a no-op.
type dedupSet struct {
	mu       sync.Mutex
	inFlight map[key]bool
	statsMu  sync.Mutex
	stats    Stats
}

func newDedupSet() *dedupSet {
	return &dedupSet{inFlight: make(map[key]bool)}
}

// claim attempts to become the sole owner of the (table, version)
// checkpoint attempt. Returns false if another attempt is already
// in-flight.
func (d *dedupSet) claim(table string, version int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	k := key{table, version}
	if d.inFlight[k] {
		d.statsMu.Lock()
		d.stats.Deduped++
		d.statsMu.Unlock()
		return false
	}
	d.inFlight[k] = true
	d.statsMu.Lock()
	d.stats.Attempted++
	d.statsMu.Unlock()
	return true
}

// release removes the (table, version) entry once the attempt (successful
// or not) has finished, recording the outcome.
func (d *dedupSet) release(table string, version int64, err error) {
	d.mu.Lock()
	delete(d.inFlight, key{table, version})
	d.mu.Unlock()

	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	if err != nil {
		d.stats.Failed++
	} else {
		d.stats.Completed++
	}
}

func (d *dedupSet) snapshot() Stats {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()
	return d.stats
}
