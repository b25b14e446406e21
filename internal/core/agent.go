package core

import (
	"sync"
	"time"

	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

// EventType names the kinds of Event the agent publishes.
type EventType string

const (
	EventStatus       EventType = "status"
	EventCard         EventType = "card"
	EventMonitorState EventType = "monitor_state"
	EventMonitorError EventType = "monitor_error"
)

// Event is what subscribers of an Agent receive.
type Event struct {
	Type   EventType    `json:"type"`
	Status *StatusEvent `json:"status,omitempty"`
	Result *ReadResult  `json:"result,omitempty"`
	State  string       `json:"state,omitempty"`
	Error  string       `json:"error,omitempty"`
}

const (
	dispatchQueueSize  = 16
	defaultEventBuffer = 32

	// monitorReleaseTimeout bounds how long Close waits for the monitor
	// loop to release its context.
	monitorReleaseTimeout = 2 * time.Second
)

// Agent composes the monitor, the identifier and the dispatcher for one
// configured reader and fans their output out to subscribers.
type Agent struct {
	readerName string
	ctx        SmartCardContext
	monitor    *Monitor
	identifier IDReader
	dispatcher *Dispatcher

	subMu sync.RWMutex
	subs  map[chan Event]struct{}

	closeOnce sync.Once
}

// NewAgent establishes the shared PC/SC context used for reads. The
// monitor opens its own context on Start so a blocking status wait never
// holds up a connect.
func NewAgent(factory ContextFactory, readerName string) (*Agent, error) {
	ctx, err := factory.EstablishContext()
	if err != nil {
		return nil, wrapServiceError("failed to establish context", err)
	}
	return newAgent(factory, ctx, NewIdentifier(ctx), readerName), nil
}

func newAgent(factory ContextFactory, ctx SmartCardContext, identifier IDReader, readerName string) *Agent {
	a := &Agent{
		readerName: readerName,
		ctx:        ctx,
		identifier: identifier,
		subs:       make(map[chan Event]struct{}),
	}
	a.dispatcher = NewDispatcher(identifier, dispatchQueueSize, a.handleResult)
	a.monitor = NewMonitor(factory, readerName)
	a.monitor.OnStatusChanged(a.handleStatus)
	a.monitor.OnError(a.handleMonitorError)
	a.dispatcher.Start()
	return a
}

// ReaderName returns the configured reader.
func (a *Agent) ReaderName() string {
	return a.readerName
}

// StartMonitor starts watching the configured reader.
func (a *Agent) StartMonitor() error {
	if err := a.monitor.Start(); err != nil {
		return err
	}
	a.publish(Event{Type: EventMonitorState, State: MonitorMonitoring.String()})
	return nil
}

// StopMonitor stops watching. It is a no-op when not monitoring.
func (a *Agent) StopMonitor() {
	wasRunning := a.monitor.State() == MonitorMonitoring
	a.monitor.Stop()
	if wasRunning {
		a.publish(Event{Type: EventMonitorState, State: MonitorStopped.String()})
	}
}

// MonitorState returns the monitor lifecycle state.
func (a *Agent) MonitorState() MonitorState {
	return a.monitor.State()
}

// MonitorErr returns the error that ended the last monitoring run.
func (a *Agent) MonitorErr() error {
	return a.monitor.Err()
}

// ReadNow performs a synchronous identification on the configured reader,
// publishes the result, and returns it.
func (a *Agent) ReadNow() ReadResult {
	id, err := a.identifier.ReadID(a.readerName)
	result := newReadResult(a.readerName, id, err)
	a.handleResult(result)
	return result
}

// ListReaders enumerates the readers known to PC/SC.
func (a *Agent) ListReaders() ([]string, error) {
	readers, err := a.ctx.ListReaders()
	if err != nil {
		return nil, wrapServiceError("failed to list readers", err)
	}
	return readers, nil
}

// Subscribe returns a channel of events and a function that cancels the
// subscription. Events are dropped for subscribers that fall behind.
func (a *Agent) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultEventBuffer
	}
	ch := make(chan Event, buffer)

	a.subMu.Lock()
	a.subs[ch] = struct{}{}
	a.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			a.subMu.Lock()
			if _, ok := a.subs[ch]; ok {
				delete(a.subs, ch)
				close(ch)
			}
			a.subMu.Unlock()
		})
	}
}

// Close stops monitoring and the dispatcher, waits for the monitor to
// release its context, then releases the shared one.
func (a *Agent) Close() error {
	var err error
	a.closeOnce.Do(func() {
		a.StopMonitor()
		select {
		case <-a.monitor.Done():
		case <-time.After(monitorReleaseTimeout):
			logging.Warn(logging.CatReader, "Monitor did not release its context in time", map[string]any{
				"reader": a.readerName,
			})
		}
		a.dispatcher.Close()

		a.subMu.Lock()
		for ch := range a.subs {
			close(ch)
		}
		a.subs = make(map[chan Event]struct{})
		a.subMu.Unlock()

		err = a.ctx.Release()
	})
	return err
}

func (a *Agent) handleStatus(ev StatusEvent) {
	a.publish(Event{Type: EventStatus, Status: &ev})
	a.dispatcher.HandleStatus(ev)
}

func (a *Agent) handleResult(r ReadResult) {
	a.publish(Event{Type: EventCard, Result: &r})
}

func (a *Agent) handleMonitorError(err error) {
	a.publish(Event{Type: EventMonitorError, State: MonitorStopped.String(), Error: err.Error()})
}

func (a *Agent) publish(ev Event) {
	a.subMu.RLock()
	defer a.subMu.RUnlock()
	for ch := range a.subs {
		select {
		case ch <- ev:
		default:
			logging.Warn(logging.CatSystem, "Dropping event for slow subscriber", map[string]any{
				"type": string(ev.Type),
			})
		}
	}
}
