package core

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const testReader = "Sony FeliCa Port/PaSoRi 3.0 0"

// statusStep is one scripted GetStatusChange outcome.
type statusStep struct {
	flags StateFlag
	err   error
}

// MockSmartCardContext implements SmartCardContext for testing
type MockSmartCardContext struct {
	mu         sync.Mutex
	readers    []string
	listErr    error
	connectErr error
	card       *MockSmartCard

	steps       chan statusStep
	cancel      chan struct{}
	releaseGate chan struct{}

	connectCalls int
	cancelCalls  int
	releaseCalls int
}

// NewMockContext creates a mock context that lists the test reader
func NewMockContext() *MockSmartCardContext {
	return &MockSmartCardContext{
		readers: []string{"ACS ACR122U PICC Interface", testReader},
		steps:   make(chan statusStep, 64),
		cancel:  make(chan struct{}, 1),
	}
}

// WithReaders sets the readers for the mock context
func (m *MockSmartCardContext) WithReaders(readers ...string) *MockSmartCardContext {
	m.readers = readers
	return m
}

// WithListError makes ListReaders fail
func (m *MockSmartCardContext) WithListError(err error) *MockSmartCardContext {
	m.listErr = err
	return m
}

// WithCard makes Connect return card
func (m *MockSmartCardContext) WithCard(card *MockSmartCard) *MockSmartCardContext {
	m.card = card
	return m
}

// WithConnectError makes Connect fail
func (m *MockSmartCardContext) WithConnectError(err error) *MockSmartCardContext {
	m.connectErr = err
	return m
}

// Push scripts the next GetStatusChange results, in order.
func (m *MockSmartCardContext) Push(flags ...StateFlag) {
	for _, f := range flags {
		m.steps <- statusStep{flags: f}
	}
}

// PushError scripts a GetStatusChange failure.
func (m *MockSmartCardContext) PushError(err error) {
	m.steps <- statusStep{err: err}
}

func (m *MockSmartCardContext) ListReaders() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.readers, nil
}

func (m *MockSmartCardContext) Connect(reader string, shareMode uint32, protocol uint32) (SmartCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectCalls++
	if m.connectErr != nil {
		return nil, m.connectErr
	}
	if m.card == nil {
		return nil, ErrNoCard
	}
	m.card.shareMode = shareMode
	m.card.protocol = protocol
	return m.card, nil
}

func (m *MockSmartCardContext) GetStatusChange(states []ReaderState, timeout time.Duration) error {
	var expire <-chan time.Time
	if timeout >= 0 {
		expire = time.After(timeout)
	}
	select {
	case step := <-m.steps:
		if step.err != nil {
			return step.err
		}
		states[0].EventState = step.flags | StateChanged
		return nil
	case <-m.cancel:
		return ErrCancelled
	case <-expire:
		return ErrTimeout
	}
}

func (m *MockSmartCardContext) Cancel() error {
	m.mu.Lock()
	m.cancelCalls++
	m.mu.Unlock()
	select {
	case m.cancel <- struct{}{}:
	default:
	}
	return nil
}

// WithReleaseGate makes Release block until gate is closed.
func (m *MockSmartCardContext) WithReleaseGate(gate chan struct{}) *MockSmartCardContext {
	m.releaseGate = gate
	return m
}

func (m *MockSmartCardContext) Release() error {
	if m.releaseGate != nil {
		<-m.releaseGate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	return nil
}

func (m *MockSmartCardContext) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseCalls
}

func (m *MockSmartCardContext) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelCalls
}

// MockContextFactory hands out a fixed context or error.
type MockContextFactory struct {
	ctx   *MockSmartCardContext
	err   error
	calls atomic.Int32
}

func (f *MockContextFactory) EstablishContext() (SmartCardContext, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.ctx, nil
}

// MockSmartCard implements SmartCard for testing
type MockSmartCard struct {
	mu          sync.Mutex
	response    []byte
	transmitErr error
	beginErr    error
	protocol    uint32
	shareMode   uint32

	transmitted    [][]byte
	beginCalls     int
	endCalls       int
	disconnects    int
	endDisposition uint32
	disposition    uint32
	// order records begin/transmit/end/disconnect in call order
	order []string
}

// NewMockCard creates a card that answers every command with response.
func NewMockCard(response ...byte) *MockSmartCard {
	return &MockSmartCard{response: response}
}

// WithTransmitError makes Transmit fail
func (m *MockSmartCard) WithTransmitError(err error) *MockSmartCard {
	m.transmitErr = err
	return m
}

// WithBeginError makes BeginTransaction fail
func (m *MockSmartCard) WithBeginError(err error) *MockSmartCard {
	m.beginErr = err
	return m
}

func (m *MockSmartCard) BeginTransaction() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beginCalls++
	m.order = append(m.order, "begin")
	return m.beginErr
}

func (m *MockSmartCard) EndTransaction(disposition uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endCalls++
	m.endDisposition = disposition
	m.order = append(m.order, "end")
	return nil
}

func (m *MockSmartCard) Transmit(cmd []byte) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transmitted = append(m.transmitted, append([]byte(nil), cmd...))
	m.order = append(m.order, "transmit")
	if m.transmitErr != nil {
		return nil, m.transmitErr
	}
	return append([]byte(nil), m.response...), nil
}

func (m *MockSmartCard) ActiveProtocol() uint32 {
	return ProtocolT1
}

func (m *MockSmartCard) Disconnect(disposition uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnects++
	m.disposition = disposition
	m.order = append(m.order, "disconnect")
	return nil
}

// countingReader is an IDReader that records every attempt.
type countingReader struct {
	mu    sync.Mutex
	calls int
	names []string
	id    CardID
	err   error
	delay time.Duration
}

func (r *countingReader) ReadID(readerName string) (CardID, error) {
	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.names = append(r.names, readerName)
	return r.id, r.err
}

func (r *countingReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

var errProvider = errors.New("reader hardware fault")

// receive waits for one value or fails the test.
func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

// waitFor polls cond until it holds or fails the test.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
