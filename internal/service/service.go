package service

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/pcsc-tools/cardid-agent/internal/config"
	"github.com/pcsc-tools/cardid-agent/internal/logging"
)

var (
	ErrAlreadyInstalled = errors.New("auto-start service already installed")
	ErrNotInstalled     = errors.New("auto-start service not installed")
	ErrUnsupported      = errors.New("auto-start is not supported on this platform")
)

// appName names the autostart entry and the process looked up by Status.
const appName = "cardid-agent"

// Service installs the agent to start with the user's session.
type Service interface {
	Install() error
	Uninstall() error
	IsInstalled() bool
	Status() (string, error)
}

// envVar is one environment assignment rendered into a launch entry.
type envVar struct {
	Key   string
	Value string
}

// launchSpec is how an installed entry starts the agent: the binary, its
// arguments, and the environment that reproduces the running configuration.
type launchSpec struct {
	Executable string
	Reader     string
	Args       []string
	Env        []envVar
}

// newLaunchSpec describes a launch of executable that watches the same
// reader on the same address as cfg. A nil cfg reads the environment.
func newLaunchSpec(executable string, cfg *config.Config) launchSpec {
	if cfg == nil {
		cfg = config.Load()
	}
	return launchSpec{
		Executable: executable,
		Reader:     cfg.Reader,
		Args:       []string{"-reader", cfg.Reader},
		Env: []envVar{
			{"CARDID_AGENT_HOST", cfg.Host},
			{"CARDID_AGENT_PORT", strconv.Itoa(cfg.Port)},
			{"CARDID_AGENT_AUTOSTART", strconv.FormatBool(cfg.AutoStart)},
			{"CARDID_AGENT_MDNS", strconv.FormatBool(cfg.MDNS)},
		},
	}
}

// resolveExecutable returns the running binary with symlinks resolved.
func resolveExecutable() (string, error) {
	execPath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}
	execPath, err = filepath.EvalSymlinks(execPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve executable path: %w", err)
	}
	return execPath, nil
}

// writeFile creates path's directory and writes data to it.
func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// runBestEffort runs a service manager command whose failure is expected
// in some states, such as stopping a unit that is not loaded.
func runBestEffort(name string, args ...string) {
	out, err := exec.Command(name, args...).CombinedOutput()
	if err != nil {
		logging.Debug(logging.CatSystem, "Service command failed", map[string]any{
			"command": name,
			"args":    args,
			"output":  string(out),
			"error":   err.Error(),
		})
	}
}
