//go:build darwin

package welcome

import (
	"os/exec"
	"strings"
)

const welcomeTitle = "Card ID Agent"
const welcomeMessage = `Card ID Agent is now running!

It lives in your menu bar and reads the identifier of every card placed on your PC/SC reader.

Use the menu bar icon to start or stop monitoring, see recent card IDs, or quit.

Local API: http://127.0.0.1:32146`

const aboutMessage = `Card ID Agent

Watches a PC/SC smart card reader and reports the identifier of each card placed on it.

- Start/stop monitoring from the menu bar
- Local HTTP and WebSocket API (127.0.0.1 only)

Local API: http://127.0.0.1:32146`

// ShowWelcome displays a native welcome dialog on macOS
func ShowWelcome() {
	script := `display dialog "` + escapeAppleScript(welcomeMessage) + `" with title "` + welcomeTitle + `" buttons {"Got it!"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

// ShowAbout displays a native about dialog on macOS
func ShowAbout(version string) {
	msg := aboutMessage + "\nVersion: " + version
	script := `display dialog "` + escapeAppleScript(msg) + `" with title "About Card ID Agent" buttons {"OK"} default button 1 with icon note`
	exec.Command("osascript", "-e", script).Run()
}

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func escapeAppleScript(s string) string {
	return appleScriptEscaper.Replace(s)
}

const autostartPromptMessage = `Would you like Card ID Agent to start automatically when you log in?

You can change this later with the uninstall command or the autostart API.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	script := `display dialog "` + escapeAppleScript(autostartPromptMessage) + `" with title "Card ID Agent" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}

const crashReportingPromptMessage = `Send anonymous crash reports when Card ID Agent fails?

Only diagnostic information is sent. Card identifiers are never included.

You can change this later through the settings API.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	script := `display dialog "` + escapeAppleScript(crashReportingPromptMessage) + `" with title "Card ID Agent" buttons {"No", "Yes"} default button 2 with icon note`
	out, err := exec.Command("osascript", "-e", script).Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(out), "Yes")
}
