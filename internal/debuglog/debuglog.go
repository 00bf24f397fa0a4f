// Package debuglog collects the coordinator's structured debug records.
package debuglog

import (
	"sync"

	"coachmic/internal/domain"
	"coachmic/internal/logger"
	"coachmic/internal/ports"
)

const DefaultCapacity = 500

// Ring keeps the most recent records, newest first. It is safe for
// concurrent use.
type Ring struct {
	mu       sync.Mutex
	records  []domain.DebugRecord
	next     int
	full     bool
	capacity int
	total    uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Ring{records: make([]domain.DebugRecord, capacity), capacity: capacity}
}

func (r *Ring) Record(record domain.DebugRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[r.next] = cloneRecord(record)
	r.next = (r.next + 1) % r.capacity
	if r.next == 0 {
		r.full = true
	}
	r.total++
}

// Snapshot returns up to limit records, most recent first. A limit <= 0
// returns everything retained.
func (r *Ring) Snapshot(limit int) []domain.DebugRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	size := r.next
	if r.full {
		size = r.capacity
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]domain.DebugRecord, 0, limit)
	idx := r.next
	for i := 0; i < limit; i++ {
		idx = (idx - 1 + r.capacity) % r.capacity
		out = append(out, cloneRecord(r.records[idx]))
	}
	return out
}

// Total counts every record ever written, including evicted ones.
func (r *Ring) Total() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make([]domain.DebugRecord, r.capacity)
	r.next = 0
	r.full = false
}

func cloneRecord(record domain.DebugRecord) domain.DebugRecord {
	if record.Fields == nil {
		return record
	}
	fields := make(map[string]any, len(record.Fields))
	for k, v := range record.Fields {
		fields[k] = v
	}
	record.Fields = fields
	return record
}

// Fanout copies every record to each sink in order. A panicking sink is
// logged and skipped.
type Fanout []ports.DebugSink

func (f Fanout) Record(record domain.DebugRecord) {
	for _, sink := range f {
		if sink == nil {
			continue
		}
		recordSafely(sink, record)
	}
}

func recordSafely(sink ports.DebugSink, record domain.DebugRecord) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("debug sink panicked", "type", record.Type, "panic", r)
		}
	}()
	sink.Record(record)
}

// LogSink mirrors records to the structured logger. Failures go out at warn
// level, everything else at debug.
type LogSink struct{}

func (LogSink) Record(record domain.DebugRecord) {
	args := make([]any, 0, 2+2*len(record.Fields))
	args = append(args, "type", record.Type)
	for k, v := range record.Fields {
		args = append(args, k, v)
	}
	if isFailure(record.Type) {
		logger.Warn("voice", args...)
		return
	}
	logger.Debug("voice", args...)
}

func isFailure(recordType string) bool {
	switch recordType {
	case "listen_failed", "listen_unavailable", "speech_stop_failed",
		"recognizer_stop_failed", "native_force_stop_failed", "platform_end_failed":
		return true
	}
	return false
}
