// Package regulator implements the rate-limited, message-size-bounded
// outbound aggregator that batches small chunks into at-most one
// MQTT-sized payload per tick.
package regulator

import (
	"container/list"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nimbusvoice/aiaclient/worker"
)

// Mode selects how many ready batches a tick drains.
type Mode uint8

const (
	// Trickle emits at most one batch per tick.
	Trickle Mode = iota
	// Burst emits as many ready batches as exist, back-to-back.
	Burst
)

// Chunk is one opaque unit of outbound data with a known wire size.
type Chunk interface {
	Size() int
}

// Result tells the Regulator what to do with a chunk the callback just
// attempted to deliver.
type Result struct {
	// Failed means the chunk (and everything after it in the batch)
	// stays queued for the next tick.
	Failed bool
}

// EmitFunc is invoked once per chunk in a batch, in FIFO order.
// remainingBytes/remainingChunks describe what is left in the current
// batch after this chunk, reaching zero on the last chunk.
type EmitFunc func(chunk Chunk, remainingBytes, remainingChunks int) Result

// Regulator batches enqueued chunks under maxMessageSize and drains
// them on a publishRate cadence via the shared task pool, following
// the teacher's convention of driving periodic work from a single
// worker goroutine rather than a free-running ticker per caller.
type Regulator struct {
	worker.Worker

	log *log.Logger

	mu    sync.Mutex
	queue *list.List // of Chunk

	maxMessageSize int
	publishRate    time.Duration
	mode           Mode
	emit           EmitFunc
}

// New creates a Regulator. emit is called synchronously from the
// Regulator's own tick goroutine; it must not block on I/O for long.
func New(maxMessageSize int, publishRate time.Duration, mode Mode, emit EmitFunc, logger *log.Logger) *Regulator {
	return &Regulator{
		log:            logger.WithPrefix("regulator"),
		queue:          list.New(),
		maxMessageSize: maxMessageSize,
		publishRate:    publishRate,
		mode:           mode,
		emit:           emit,
	}
}

// Start begins the tick loop. Must be called once before Write.
func (r *Regulator) Start() {
	r.Go(r.tickLoop)
}

// Write enqueues a chunk. It fails if the chunk alone exceeds
// maxMessageSize, since no batch could ever carry it.
func (r *Regulator) Write(c Chunk) error {
	if c.Size() > r.maxMessageSize {
		return ErrChunkTooLarge
	}
	r.mu.Lock()
	r.queue.PushBack(c)
	r.mu.Unlock()
	return nil
}

// Len reports the number of chunks currently queued.
func (r *Regulator) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue.Len()
}

// Clear empties the queue, invoking destroy on every chunk that is
// discarded. A nil destroy is rejected: §9 notes that a nil destroy
// callback silently leaks the chunks, so this implementation requires
// an explicit one instead.
func (r *Regulator) Clear(destroy func(Chunk)) error {
	if destroy == nil {
		return ErrNilDestroy
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for e := r.queue.Front(); e != nil; e = e.Next() {
		destroy(e.Value.(Chunk))
	}
	r.queue.Init()
	return nil
}

func (r *Regulator) tickLoop() {
	ticker := time.NewTicker(r.publishRate)
	defer ticker.Stop()
	for {
		select {
		case <-r.HaltCh():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Regulator) tick() {
	switch r.mode {
	case Trickle:
		r.emitOneBatch()
	case Burst:
		for r.emitOneBatch() {
		}
	}
}

// emitOneBatch emits the longest queued prefix whose cumulative size
// fits under maxMessageSize, and reports whether it emitted anything
// (so Burst mode knows when to stop).
func (r *Regulator) emitOneBatch() bool {
	r.mu.Lock()
	if r.queue.Len() == 0 {
		r.mu.Unlock()
		return false
	}

	var batch []*list.Element
	size := 0
	for e := r.queue.Front(); e != nil; e = e.Next() {
		c := e.Value.(Chunk)
		if size+c.Size() > r.maxMessageSize && len(batch) > 0 {
			break
		}
		batch = append(batch, e)
		size += c.Size()
		if size >= r.maxMessageSize {
			break
		}
	}
	r.mu.Unlock()

	if len(batch) == 0 {
		return false
	}

	remainingBytes := size
	remainingChunks := len(batch)
	delivered := 0
	for _, e := range batch {
		c := e.Value.(Chunk)
		remainingBytes -= c.Size()
		remainingChunks--
		res := r.emit(c, remainingBytes, remainingChunks)
		if res.Failed {
			r.log.Warnf("emit failed, chunk stays queued, batch stops (%d of %d delivered)", delivered, len(batch))
			break
		}
		delivered++
	}

	r.mu.Lock()
	for i := 0; i < delivered; i++ {
		r.queue.Remove(batch[i])
	}
	r.mu.Unlock()

	return delivered > 0
}
