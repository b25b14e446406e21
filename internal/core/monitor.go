package core

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

// statusWaitTimeout bounds each GetStatusChange call so a Stop that races
// ahead of the wait is still observed. Cancel normally ends the wait first.
const statusWaitTimeout = time.Second

// MonitorState is the lifecycle state of a Monitor.
type MonitorState int

const (
	MonitorStopped MonitorState = iota
	MonitorMonitoring
)

func (s MonitorState) String() string {
	if s == MonitorMonitoring {
		return "monitoring"
	}
	return "stopped"
}

// Monitor watches one reader for card presence transitions. Handlers run
// on the monitor goroutine and must hand work off rather than block.
type Monitor struct {
	factory    ContextFactory
	readerName string

	mu       sync.Mutex
	run      *monitorRun
	lastDone chan struct{}
	lastErr  error
	onStatus func(StatusEvent)
	onError  func(error)
}

// monitorRun owns the PC/SC context of one Start..Stop cycle.
type monitorRun struct {
	ctx      SmartCardContext
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func (r *monitorRun) halt() {
	r.stopOnce.Do(func() {
		close(r.stop)
		if err := r.ctx.Cancel(); err != nil {
			logging.Debug(logging.CatReader, "Cancel on monitor context failed", map[string]any{
				"error": err.Error(),
			})
		}
	})
}

func (r *monitorRun) stopping() bool {
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

// NewMonitor creates a stopped monitor for readerName.
func NewMonitor(factory ContextFactory, readerName string) *Monitor {
	return &Monitor{
		factory:    factory,
		readerName: readerName,
	}
}

// ReaderName returns the reader this monitor watches.
func (m *Monitor) ReaderName() string {
	return m.readerName
}

// OnStatusChanged sets the transition handler.
func (m *Monitor) OnStatusChanged(fn func(StatusEvent)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStatus = fn
}

// OnError sets the handler called when monitoring ends because of an error.
func (m *Monitor) OnError(fn func(error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onError = fn
}

// Start begins monitoring. It fails with *ReaderNotFoundError when the
// reader is not enumerated and *ServiceUnavailableError when PC/SC is not
// running; in both cases the monitor stays stopped.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.run != nil {
		return ErrMonitorRunning
	}

	ctx, err := m.factory.EstablishContext()
	if err != nil {
		return wrapServiceError("failed to establish context", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil {
		ctx.Release()
		return wrapServiceError("failed to list readers", err)
	}
	if !slices.Contains(readers, m.readerName) {
		ctx.Release()
		return &ReaderNotFoundError{Reader: m.readerName, Available: readers}
	}

	run := &monitorRun{
		ctx:  ctx,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	m.run = run
	m.lastDone = run.done
	m.lastErr = nil

	go m.loop(run)

	logging.Info(logging.CatReader, "Monitoring started", map[string]any{
		"reader": m.readerName,
	})
	return nil
}

// Stop cancels monitoring. It is safe to call at any time, any number of times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	run := m.run
	m.run = nil
	m.mu.Unlock()

	if run == nil {
		return
	}
	run.halt()

	logging.Info(logging.CatReader, "Monitoring stopped", map[string]any{
		"reader": m.readerName,
	})
}

// State returns the current lifecycle state.
func (m *Monitor) State() MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.run != nil {
		return MonitorMonitoring
	}
	return MonitorStopped
}

// Err returns the error that ended the last monitoring run, if any.
func (m *Monitor) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Done returns a channel closed once the latest run has released its
// context, which may be after Stop returns. Before the first Start the
// returned channel is already closed.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastDone == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return m.lastDone
}

func (m *Monitor) loop(run *monitorRun) {
	defer close(run.done)
	defer func() {
		if err := run.ctx.Release(); err != nil {
			logging.Warn(logging.CatReader, "Failed to release monitor context", map[string]any{
				"error": err.Error(),
			})
		}
	}()
	defer logging.RecoverAndLogFunc("reader monitor", false, func(v interface{}, _ string) {
		m.fail(run, fmt.Errorf("monitor panic: %v", v))
	})

	if err := m.watch(run); err != nil {
		m.fail(run, err)
	}
}

func (m *Monitor) watch(run *monitorRun) error {
	states := []ReaderState{{Reader: m.readerName, CurrentState: StateUnaware}}
	previous := PresenceUnknown

	for {
		if run.stopping() {
			return nil
		}

		err := run.ctx.GetStatusChange(states, statusWaitTimeout)
		if err != nil {
			if errors.Is(err, ErrTimeout) {
				continue
			}
			if errors.Is(err, ErrCancelled) && run.stopping() {
				return nil
			}
			return fmt.Errorf("failed to get status change for %q: %w", m.readerName, err)
		}

		flags := states[0].EventState
		states[0].CurrentState = flags &^ StateChanged

		current := PresenceFromFlags(flags)
		if current == previous {
			continue
		}

		ev := StatusEvent{
			Reader:   m.readerName,
			Previous: previous,
			Current:  current,
			At:       time.Now(),
		}
		previous = current

		if run.stopping() {
			return nil
		}

		logging.Debug(logging.CatReader, "Status changed", map[string]any{
			"reader":   m.readerName,
			"previous": ev.Previous.String(),
			"current":  ev.Current.String(),
			"flags":    flags.String(),
		})

		m.mu.Lock()
		handler := m.onStatus
		m.mu.Unlock()
		if handler != nil {
			handler(ev)
		}
	}
}

// fail ends the run with err unless Stop already claimed it.
func (m *Monitor) fail(run *monitorRun, err error) {
	if run.stopping() {
		return
	}

	m.mu.Lock()
	if m.run == run {
		m.run = nil
	}
	m.lastErr = err
	handler := m.onError
	m.mu.Unlock()

	// The loop has already left GetStatusChange; only mark the run ended.
	run.stopOnce.Do(func() { close(run.stop) })

	logging.Error(logging.CatReader, "Monitoring ended with error", map[string]any{
		"reader": m.readerName,
		"error":  err.Error(),
	})
	logging.CaptureError(err, "reader monitor", map[string]interface{}{
		"reader": m.readerName,
	})

	if handler != nil {
		handler(err)
	}
}
