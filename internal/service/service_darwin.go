//go:build darwin

package service

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pcsc-tools/cardid-agent/internal/config"
)

const (
	launchAgentLabel = "com.pcsc-tools.cardid-agent"
	plistTemplate    = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{.Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Launch.Executable}}</string>
{{- range .Launch.Args}}
        <string>{{xml .}}</string>
{{- end}}
    </array>
    <key>EnvironmentVariables</key>
    <dict>
{{- range .Launch.Env}}
        <key>{{xml .Key}}</key>
        <string>{{xml .Value}}</string>
{{- end}}
    </dict>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <dict>
        <key>SuccessfulExit</key>
        <false/>
    </dict>
    <key>StandardOutPath</key>
    <string>{{xml .LogDir}}/cardid-agent.log</string>
    <key>StandardErrorPath</key>
    <string>{{xml .LogDir}}/cardid-agent.err</string>
    <key>WorkingDirectory</key>
    <string>{{xml .WorkingDir}}</string>
</dict>
</plist>
`
)

// plistData is a launchSpec plus the launchd-only fields.
type plistData struct {
	Launch     launchSpec
	Label      string
	LogDir     string
	WorkingDir string
}

type darwinService struct {
	cfg *config.Config
}

// New returns the autostart manager for this platform. The installed
// LaunchAgent reproduces cfg's reader, address and autostart preference.
func New(cfg *config.Config) Service {
	return &darwinService{cfg: cfg}
}

func (s *darwinService) plistPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "LaunchAgents", launchAgentLabel+".plist")
}

func logDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Library", "Logs", "CardID-Agent")
}

func (s *darwinService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := resolveExecutable()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(logDir(), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	data, err := renderPlist(plistData{
		Launch:     newLaunchSpec(execPath, s.cfg),
		Label:      launchAgentLabel,
		LogDir:     logDir(),
		WorkingDir: filepath.Dir(execPath),
	})
	if err != nil {
		return err
	}
	if err := writeFile(s.plistPath(), data); err != nil {
		return err
	}

	if out, err := exec.Command("launchctl", "load", "-w", s.plistPath()).CombinedOutput(); err != nil {
		return fmt.Errorf("failed to load launch agent: %s: %w", strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *darwinService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	// Not being loaded is fine.
	runBestEffort("launchctl", "unload", "-w", s.plistPath())

	if err := os.Remove(s.plistPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove plist file: %w", err)
	}
	return nil
}

func (s *darwinService) IsInstalled() bool {
	_, err := os.Stat(s.plistPath())
	return err == nil
}

func (s *darwinService) Status() (string, error) {
	if !s.IsInstalled() {
		return "not installed", nil
	}

	output, err := exec.Command("launchctl", "list", launchAgentLabel).CombinedOutput()
	if err != nil {
		return "installed but not running", nil
	}
	if len(output) > 0 {
		return "running", nil
	}
	return "installed", nil
}

func renderPlist(data plistData) ([]byte, error) {
	tmpl, err := template.New("plist").Funcs(template.FuncMap{"xml": xmlEscape}).Parse(plistTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse plist template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render plist: %w", err)
	}
	return buf.Bytes(), nil
}

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}
