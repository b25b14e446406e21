package api

import (
	"sync"
	"testing"

	"github.com/pcsc-tools/cardid-agent/internal/core"
	"github.com/pcsc-tools/cardid-agent/internal/settings"
)

// fakeController implements Controller for testing
type fakeController struct {
	mu       sync.Mutex
	reader   string
	readers  []string
	listErr  error
	startErr error
	state    core.MonitorState
	lastErr  error
	result   core.ReadResult
	starts   int
	stops    int
	events   chan core.Event
}

func newFakeController() *fakeController {
	return &fakeController{
		reader:  "Sony FeliCa Port/PaSoRi 3.0 0",
		readers: []string{"Sony FeliCa Port/PaSoRi 3.0 0"},
		events:  make(chan core.Event, 16),
	}
}

func (f *fakeController) ReaderName() string { return f.reader }

func (f *fakeController) StartMonitor() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	f.state = core.MonitorMonitoring
	return nil
}

func (f *fakeController) StopMonitor() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.state = core.MonitorStopped
}

func (f *fakeController) MonitorState() core.MonitorState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeController) MonitorErr() error { return f.lastErr }

func (f *fakeController) ReadNow() core.ReadResult { return f.result }

func (f *fakeController) ListReaders() ([]string, error) {
	return f.readers, f.listErr
}

func (f *fakeController) Subscribe(int) (<-chan core.Event, func()) {
	return f.events, func() {}
}

// useController installs c for the duration of the test.
func useController(t *testing.T, c Controller) {
	t.Helper()
	old := controller
	controller = c
	t.Cleanup(func() { controller = old })
}

// useTempSettings keeps settings writes out of the user's config dir.
func useTempSettings(t *testing.T) {
	t.Helper()
	settings.SetPath(t.TempDir() + "/settings.json")
	t.Cleanup(func() { settings.SetPath("") })
}
