//go:build windows

package welcome

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procMessageBoxW = user32.NewProc("MessageBoxW")
)

const (
	mbOK           = 0x00000000
	mbYesNo        = 0x00000004
	mbIconQuestion = 0x00000020
	mbIconInfo     = 0x00000040
	idYes          = 6
)

const welcomeTitle = "Card ID Agent"
const welcomeMessage = `Card ID Agent is now running!

It lives in your system tray and reads the identifier of every card placed on your PC/SC reader.

Use the tray icon to start or stop monitoring, see recent card IDs, or quit.

Local API: http://127.0.0.1:32146`

const aboutMessage = `Card ID Agent

Watches a PC/SC smart card reader and reports the identifier of each card placed on it.

• Start/stop monitoring from the tray
• Local HTTP and WebSocket API (127.0.0.1 only)

Local API: http://127.0.0.1:32146`

// ShowWelcome displays a native welcome dialog on Windows
func ShowWelcome() {
	messageBox(welcomeTitle, welcomeMessage, mbOK|mbIconInfo)
}

// ShowAbout displays a native about dialog on Windows
func ShowAbout(version string) {
	messageBox("About Card ID Agent", aboutMessage+"\nVersion: "+version, mbOK|mbIconInfo)
}

func messageBox(title, message string, flags uintptr) uintptr {
	titlePtr, err := windows.UTF16PtrFromString(title)
	if err != nil {
		return 0
	}
	messagePtr, err := windows.UTF16PtrFromString(message)
	if err != nil {
		return 0
	}
	ret, _, _ := procMessageBoxW.Call(
		0,
		uintptr(unsafe.Pointer(messagePtr)),
		uintptr(unsafe.Pointer(titlePtr)),
		flags,
	)
	return ret
}

const autostartPromptMessage = `Would you like Card ID Agent to start automatically when you log in?

You can change this later with the uninstall command or the autostart API.`

// PromptAutostart shows a dialog asking if the user wants to enable auto-start.
// Returns true if the user clicked "Yes".
func PromptAutostart() bool {
	return messageBox(welcomeTitle, autostartPromptMessage, mbYesNo|mbIconQuestion) == idYes
}

const crashReportingPromptMessage = `Send anonymous crash reports when Card ID Agent fails?

Only diagnostic information is sent. Card identifiers are never included.

You can change this later through the settings API.`

// PromptCrashReporting shows a dialog asking if the user wants to enable crash reporting.
// Returns true if the user clicked "Yes".
func PromptCrashReporting() bool {
	return messageBox(welcomeTitle, crashReportingPromptMessage, mbYesNo|mbIconQuestion) == idYes
}
