//go:build linux

package welcome

// ShowWelcome is a no-op on Linux (no tray = no welcome popup)
func ShowWelcome() {}

// ShowAbout is a no-op on Linux
func ShowAbout(version string) {}

// PromptAutostart is a no-op on Linux; use the install command instead.
func PromptAutostart() bool {
	return false
}

// PromptCrashReporting is a no-op on Linux; use the settings endpoint.
func PromptCrashReporting() bool {
	return false
}
