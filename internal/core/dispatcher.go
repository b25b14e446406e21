package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

// ReadResult is the outcome of one identification attempt.
type ReadResult struct {
	ID     string    `json:"id"`
	Reader string    `json:"reader"`
	UID    string    `json:"uid"`
	Error  string    `json:"error,omitempty"`
	At     time.Time `json:"timestamp"`

	CardID CardID `json:"-"`
	Err    error  `json:"-"`
}

// Empty reports whether the attempt finished without an identifier or error.
func (r ReadResult) Empty() bool {
	return r.Err == nil && r.CardID.Empty()
}

func newReadResult(reader string, id CardID, err error) ReadResult {
	r := ReadResult{
		ID:     uuid.New().String(),
		Reader: reader,
		UID:    id.String(),
		At:     time.Now(),
		CardID: id,
		Err:    err,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Dispatcher moves identification off the monitor goroutine. Reader names
// are queued and a single worker performs the blocking reads in order,
// handing each ReadResult to onResult from the worker goroutine.
type Dispatcher struct {
	reader   IDReader
	onResult func(ReadResult)

	queue chan string
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewDispatcher creates a dispatcher with a queue of queueSize pending reads.
func NewDispatcher(reader IDReader, queueSize int, onResult func(ReadResult)) *Dispatcher {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Dispatcher{
		reader:   reader,
		onResult: onResult,
		queue:    make(chan string, queueSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the worker. Calling it more than once has no effect.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	go d.work()
}

// HandleStatus queues a read for an Empty→Present transition and ignores
// everything else. It is meant to be installed as a Monitor handler.
func (d *Dispatcher) HandleStatus(ev StatusEvent) {
	if !ShouldIdentify(ev) {
		return
	}
	d.Submit(ev.Reader)
}

// Submit queues one read of readerName. It blocks while the queue is full
// and returns false once the dispatcher is closed.
func (d *Dispatcher) Submit(readerName string) bool {
	select {
	case <-d.stop:
		return false
	default:
	}

	select {
	case d.queue <- readerName:
		return true
	case <-d.stop:
		return false
	}
}

// Close stops the worker after the read in progress and drops queued reads.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	close(d.stop)
	d.mu.Unlock()

	if started {
		<-d.done
	}
}

func (d *Dispatcher) work() {
	defer close(d.done)
	for {
		select {
		case <-d.stop:
			return
		case name := <-d.queue:
			d.identify(name)
		}
	}
}

func (d *Dispatcher) identify(readerName string) {
	defer logging.RecoverAndLog("card identification", false)

	id, err := d.reader.ReadID(readerName)
	result := newReadResult(readerName, id, err)

	switch {
	case err != nil:
		logging.Error(logging.CatCard, "Card read failed", map[string]any{
			"reader": readerName,
			"error":  err.Error(),
		})
		logging.CaptureError(err, "card identification", map[string]interface{}{
			"reader": readerName,
		})
	case id.Empty():
		logging.Info(logging.CatCard, "No identifier obtained", map[string]any{
			"reader": readerName,
		})
	default:
		logging.Info(logging.CatCard, "Card identified", map[string]any{
			"reader": readerName,
			"uid":    result.UID,
		})
	}

	if d.onResult != nil {
		d.onResult(result)
	}
}
