package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/pcsc-tools/cardid-agent/internal/config"
)

func useConfig(t *testing.T, cfg *config.Config) {
	t.Helper()
	orig := agentConfig
	SetConfig(cfg)
	t.Cleanup(func() { agentConfig = orig })
}

func TestHandleAutostart_InstallsConfiguredReader(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("desktop autostart entries are Linux only")
	}
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("HOME", dir)
	t.Setenv("DISPLAY", ":0")

	cfg := &config.Config{Host: config.DefaultHost, Port: config.DefaultPort, AutoStart: true}
	cfg.SetReader("ACS ACR1252 1S CL Reader PICC 0")
	useConfig(t, cfg)

	w := httptest.NewRecorder()
	handleAutostart(w, httptest.NewRequest(http.MethodGet, "/v1/autostart", nil))
	var status map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if status["enabled"] != false {
		t.Errorf("expected autostart disabled initially, got %v", status["enabled"])
	}

	w = httptest.NewRecorder()
	handleAutostart(w, httptest.NewRequest(http.MethodPost, "/v1/autostart", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, w.Code, w.Body.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "autostart", "cardid-agent.desktop"))
	if err != nil {
		t.Fatalf("autostart entry not written: %v", err)
	}
	if !strings.Contains(string(data), `-reader "ACS ACR1252 1S CL Reader PICC 0"`) {
		t.Errorf("autostart entry does not carry the configured reader:\n%s", data)
	}
	if !strings.Contains(string(data), "CARDID_AGENT_AUTOSTART=true") {
		t.Errorf("autostart entry does not start monitoring:\n%s", data)
	}

	w = httptest.NewRecorder()
	handleAutostart(w, httptest.NewRequest(http.MethodDelete, "/v1/autostart", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d on disable, got %d", http.StatusOK, w.Code)
	}
}
