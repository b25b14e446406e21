package welcome

import (
	"os"
	"path/filepath"
)

// markerPath overrides the first-run marker location in tests.
var markerPath string

func shownMarker() (string, error) {
	if markerPath != "" {
		return markerPath, nil
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "cardid-agent", ".welcome-shown"), nil
}

// IsFirstRun reports whether the welcome dialog has not been shown yet.
func IsFirstRun() bool {
	path, err := shownMarker()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return os.IsNotExist(err)
}

// MarkAsShown records that the welcome dialog was displayed.
func MarkAsShown() error {
	path, err := shownMarker()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0644)
}
