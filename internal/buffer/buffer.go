// Package buffer provides the bounded in-memory queue of pending
// records between the logger and its flush sink.
package buffer

import (
	"context"
	"sync"

	"github.com/fyrsmithlabs/opsgate/internal/event"
)

// Sink receives a drained batch in a single atomic write. A sink must
// either persist the whole batch or fail without partial effects on
// the record stream.
type Sink interface {
	WriteBatch(ctx context.Context, batch []*event.Record) error
}

// Buffer is an ordered FIFO of pending records with a soft capacity.
// Callers decide what to do when capacity is reached (the logger
// forces a flush before admitting the next record). Safe for
// concurrent use.
type Buffer struct {
	mu       sync.Mutex
	records  []*event.Record
	capacity int
}

// New creates a buffer with the given capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &Buffer{
		records:  make([]*event.Record, 0, capacity),
		capacity: capacity,
	}
}

// Append enqueues a record at the back.
func (b *Buffer) Append(rec *event.Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = append(b.records, rec)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// AtCapacity reports whether the buffer has reached its capacity.
func (b *Buffer) AtCapacity() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.records) >= b.capacity
}

// Drain removes and returns all buffered records in enqueue order.
func (b *Buffer) Drain() []*event.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	drained := b.records
	b.records = make([]*event.Record, 0, b.capacity)
	return drained
}

// Requeue restores a drained batch to the front of the buffer,
// preserving its original order ahead of records enqueued since the
// drain.
func (b *Buffer) Requeue(batch []*event.Record) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	restored := make([]*event.Record, 0, len(batch)+len(b.records))
	restored = append(restored, batch...)
	restored = append(restored, b.records...)
	b.records = restored
}

// Flush atomically drains the buffer and hands the batch to the sink
// in one write. On sink failure the batch is restored to the front,
// so the buffer content equals its pre-flush state plus anything
// enqueued concurrently. Returns the number of records flushed.
func (b *Buffer) Flush(ctx context.Context, sink Sink) (int, error) {
	batch := b.Drain()
	if len(batch) == 0 {
		return 0, nil
	}
	if err := sink.WriteBatch(ctx, batch); err != nil {
		b.Requeue(batch)
		return 0, err
	}
	return len(batch), nil
}
