package audit

import (
	"sync"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// RingLogger keeps the last N AuditRecords in memory for the debug feed
// and for tests, optionally forwarding each record to an underlying sink.
type RingLogger struct {
	mu      sync.Mutex
	records []model.AuditRecord
	cap     int
	next    func(model.AuditRecord)
}

// NewRingLogger builds a RingLogger bounded to capacity entries. forward
// may be nil.
func NewRingLogger(capacity int, forward func(model.AuditRecord)) *RingLogger {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingLogger{records: make([]model.AuditRecord, 0, capacity), cap: capacity, next: forward}
}

// Log appends record, evicting the oldest entry once at capacity.
func (r *RingLogger) Log(record model.AuditRecord) {
	r.mu.Lock()
	if len(r.records) >= r.cap {
		r.records = append(r.records[1:], record)
	} else {
		r.records = append(r.records, record)
	}
	r.mu.Unlock()

	if r.next != nil {
		r.next(record)
	}
}

// Recent returns a copy of the buffered records, oldest first.
func (r *RingLogger) Recent() []model.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditRecord, len(r.records))
	copy(out, r.records)
	return out
}

// Close is a no-op; RingLogger owns no external resources.
func (r *RingLogger) Close() error { return nil }
