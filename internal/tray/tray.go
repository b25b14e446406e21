//go:build darwin || windows

package tray

import (
	"fmt"
	"os/exec"
	"runtime"
	"sync"

	"github.com/getlantern/systray"
	"github.com/pcsc-tools/cardid-agent/internal/api"
	"github.com/pcsc-tools/cardid-agent/internal/core"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
	"github.com/pcsc-tools/cardid-agent/internal/welcome"
)

// TrayApp manages the system tray icon and menu
type TrayApp struct {
	serverAddr string
	agent      api.Controller
	onQuit     func()
	recent     *recentIDs
	mu         sync.Mutex

	// Menu items for updating
	mStatus  *systray.MenuItem
	mToggle  *systray.MenuItem
	mRecent  *systray.MenuItem
	mRecents [RecentSize]*systray.MenuItem

	unsubscribe func()
}

// New creates a new TrayApp instance
func New(serverAddr string, agent api.Controller, onQuit func()) *TrayApp {
	return &TrayApp{
		serverAddr: serverAddr,
		agent:      agent,
		onQuit:     onQuit,
		recent:     newRecentIDs(RecentSize),
	}
}

// RunWithServer runs the tray on the main thread and starts the server in a goroutine.
// This function BLOCKS - it must be called from the main goroutine on macOS.
func (t *TrayApp) RunWithServer(serverStart func()) {
	systray.Run(func() {
		t.onReady()
		if serverStart != nil {
			go serverStart()
		}
	}, t.onExit)
}

func (t *TrayApp) onReady() {
	systray.SetIcon(iconData)
	systray.SetTitle("") // Empty title for cleaner menu bar (macOS)
	systray.SetTooltip("Card ID Agent")

	// Only add "v" prefix for proper version numbers (e.g., "1.2.3"), not for dev builds
	versionStr := api.Version
	if len(versionStr) > 0 && versionStr[0] >= '0' && versionStr[0] <= '9' {
		versionStr = "v" + versionStr
	}
	mVersion := systray.AddMenuItem(fmt.Sprintf("Card ID Agent %s", versionStr), "")
	mVersion.Disable()

	systray.AddSeparator()

	t.mStatus = systray.AddMenuItem("Reader: "+t.agent.ReaderName(), "Monitored reader")
	t.mStatus.Disable()

	t.mToggle = systray.AddMenuItem(toggleLabel(false), "Start or stop watching the reader")

	t.mRecent = systray.AddMenuItem("Recent IDs", "Identifiers read since launch")
	for i := range t.mRecents {
		t.mRecents[i] = t.mRecent.AddSubMenuItem("", "")
		t.mRecents[i].Disable()
		t.mRecents[i].Hide()
	}
	t.mRecent.Disable()

	systray.AddSeparator()

	mOpenUI := systray.AddMenuItem("Open Status Page", "Open the local API in a browser")
	mAbout := systray.AddMenuItem("About", "About Card ID Agent")

	systray.AddSeparator()

	mQuit := systray.AddMenuItem("Quit", "Exit Card ID Agent")

	events, unsubscribe := t.agent.Subscribe(0)
	t.unsubscribe = unsubscribe
	go t.watch(events)
	t.refreshToggle()

	go func() {
		defer logging.RecoverAndLog("tray menu", false)
		for {
			select {
			case <-t.mToggle.ClickedCh:
				t.toggleMonitor()
			case <-mOpenUI.ClickedCh:
				t.openBrowser(fmt.Sprintf("http://%s/", t.serverAddr))
			case <-mAbout.ClickedCh:
				go welcome.ShowAbout(api.Version)
			case <-mQuit.ClickedCh:
				systray.Quit()
				return
			}
		}
	}()
}

func (t *TrayApp) onExit() {
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	if t.onQuit != nil {
		t.onQuit()
	}
}

func (t *TrayApp) toggleMonitor() {
	if t.agent.MonitorState() == core.MonitorMonitoring {
		t.agent.StopMonitor()
		return
	}
	if err := t.agent.StartMonitor(); err != nil {
		logging.Warn(logging.CatSystem, "Monitor start from tray failed", map[string]any{
			"error": err.Error(),
		})
		t.mu.Lock()
		t.mStatus.SetTitle("Reader: " + err.Error())
		t.mu.Unlock()
	}
}

// watch keeps the menu in step with agent events.
func (t *TrayApp) watch(events <-chan core.Event) {
	defer logging.RecoverAndLog("tray event watcher", false)

	for ev := range events {
		switch ev.Type {
		case core.EventMonitorState, core.EventMonitorError:
			t.refreshToggle()
		case core.EventStatus:
			t.mu.Lock()
			t.mStatus.SetTitle(fmt.Sprintf("Reader: %s (%s)", ev.Status.Reader, ev.Status.Current))
			t.mu.Unlock()
		case core.EventCard:
			if ev.Result.UID == "" {
				continue
			}
			t.recent.Add(ev.Result.UID, ev.Result.At)
			t.refreshRecent()
		}
	}
}

func (t *TrayApp) refreshToggle() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mToggle.SetTitle(toggleLabel(t.agent.MonitorState() == core.MonitorMonitoring))
}

func (t *TrayApp) refreshRecent() {
	t.mu.Lock()
	defer t.mu.Unlock()

	items := t.recent.List()
	for i, item := range t.mRecents {
		if i < len(items) {
			item.SetTitle(items[i].menuLabel())
			item.Show()
		} else {
			item.Hide()
		}
	}
	if len(items) > 0 {
		t.mRecent.Enable()
	}
}

func (t *TrayApp) openBrowser(url string) {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	cmd.Start()
}

// IsSupported returns true if the system tray is supported on this platform
func IsSupported() bool {
	return true
}
