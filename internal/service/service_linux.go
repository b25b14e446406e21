//go:build linux

package service

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/pcsc-tools/cardid-agent/internal/config"
)

// Graphical sessions get an XDG autostart entry so the tray comes up with
// the desktop. Headless hosts get a systemd user unit instead.
const (
	desktopTemplate = `[Desktop Entry]
Type=Application
Name=Card ID Agent
Comment=Reads card identifiers from {{.Reader}}
Exec={{execLine .}}
Icon=cardid-agent
Terminal=false
Categories=Utility;
StartupNotify=false
X-GNOME-Autostart-enabled=true
`

	unitTemplate = `[Unit]
Description=Card ID Agent for {{systemdEscape .Reader}}
After=pcscd.socket

[Service]
Type=simple
ExecStart={{unitExecLine .}}
Restart=on-failure
RestartSec=5
{{- range .Env}}
Environment={{systemdQuote (printf "%s=%s" .Key .Value)}}
{{- end}}

[Install]
WantedBy=default.target
`
)

var templateFuncs = template.FuncMap{
	"execLine":      desktopExecLine,
	"unitExecLine":  unitExecLine,
	"systemdQuote":  systemdQuote,
	"systemdEscape": systemdEscape,
}

type linuxService struct {
	cfg *config.Config
}

// New returns the autostart manager for this platform. The installed entry
// reproduces cfg's reader, address and autostart preference.
func New(cfg *config.Config) Service {
	return &linuxService{cfg: cfg}
}

func configHome() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config")
}

func (s *linuxService) autostartPath() string {
	return filepath.Join(configHome(), "autostart", appName+".desktop")
}

func (s *linuxService) unitPath() string {
	return filepath.Join(configHome(), "systemd", "user", appName+".service")
}

func graphicalSession() bool {
	return os.Getenv("DISPLAY") != "" || os.Getenv("WAYLAND_DISPLAY") != ""
}

func (s *linuxService) Install() error {
	if s.IsInstalled() {
		return ErrAlreadyInstalled
	}

	execPath, err := resolveExecutable()
	if err != nil {
		return err
	}
	spec := newLaunchSpec(execPath, s.cfg)

	if graphicalSession() {
		data, err := renderDesktopEntry(spec)
		if err != nil {
			return err
		}
		return writeFile(s.autostartPath(), data)
	}

	data, err := renderUnit(spec)
	if err != nil {
		return err
	}
	if err := writeFile(s.unitPath(), data); err != nil {
		return err
	}
	runBestEffort("systemctl", "--user", "daemon-reload")
	if out, err := exec.Command("systemctl", "--user", "enable", "--now", appName+".service").CombinedOutput(); err != nil {
		return fmt.Errorf("failed to enable %s.service: %s: %w", appName, strings.TrimSpace(string(out)), err)
	}
	return nil
}

func (s *linuxService) Uninstall() error {
	if !s.IsInstalled() {
		return ErrNotInstalled
	}

	if err := os.Remove(s.autostartPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove autostart file: %w", err)
	}

	if _, err := os.Stat(s.unitPath()); err == nil {
		runBestEffort("systemctl", "--user", "disable", "--now", appName+".service")
		if err := os.Remove(s.unitPath()); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove systemd unit: %w", err)
		}
		runBestEffort("systemctl", "--user", "daemon-reload")
	}
	return nil
}

func (s *linuxService) IsInstalled() bool {
	return fileExists(s.autostartPath()) || fileExists(s.unitPath())
}

func (s *linuxService) Status() (string, error) {
	var methods []string
	if fileExists(s.autostartPath()) {
		methods = append(methods, "autostart")
	}
	if fileExists(s.unitPath()) {
		methods = append(methods, "systemd")
	}
	if len(methods) == 0 {
		return "not installed", nil
	}

	if err := exec.Command("pgrep", "-x", appName).Run(); err == nil {
		return fmt.Sprintf("running (%s)", strings.Join(methods, ", ")), nil
	}
	return fmt.Sprintf("installed (%s) but not running", strings.Join(methods, ", ")), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func renderDesktopEntry(spec launchSpec) ([]byte, error) {
	return render("desktop", desktopTemplate, spec)
}

func renderUnit(spec launchSpec) ([]byte, error) {
	return render("unit", unitTemplate, spec)
}

func render(name, text string, spec launchSpec) ([]byte, error) {
	tmpl, err := template.New(name).Funcs(templateFuncs).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, spec); err != nil {
		return nil, fmt.Errorf("failed to render %s template: %w", name, err)
	}
	return buf.Bytes(), nil
}

// desktopExecLine renders an Exec key. Desktop entries have no environment
// key, so the variables go through env(1).
func desktopExecLine(spec launchSpec) string {
	parts := []string{"env"}
	for _, e := range spec.Env {
		parts = append(parts, desktopQuote(e.Key+"="+e.Value))
	}
	parts = append(parts, desktopQuote(spec.Executable))
	for _, a := range spec.Args {
		parts = append(parts, desktopQuote(a))
	}
	return strings.Join(parts, " ")
}

// desktopQuote quotes an Exec argument per the Desktop Entry rules.
func desktopQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n\"'\\><~|&;$*?#()`%") {
		return arg
	}
	r := strings.NewReplacer(`\`, `\\\\`, `"`, `\\"`, "`", "\\\\`", `$`, `\\$`, `%`, `%%`)
	return `"` + r.Replace(arg) + `"`
}

func unitExecLine(spec launchSpec) string {
	parts := []string{systemdQuote(spec.Executable), "-no-tray"}
	for _, a := range spec.Args {
		parts = append(parts, systemdQuote(a))
	}
	return strings.Join(parts, " ")
}

// systemdQuote double-quotes a unit file word and escapes specifiers.
func systemdQuote(word string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, `%`, `%%`, `$`, `$$`)
	return `"` + r.Replace(word) + `"`
}

// systemdEscape escapes specifiers in free text such as Description.
func systemdEscape(text string) string {
	return strings.ReplaceAll(text, "%", "%%")
}
