package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func useCrashDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	crashLogDirOverride = dir
	t.Cleanup(func() { crashLogDirOverride = "" })
	return dir
}

func TestCrashLogDir(t *testing.T) {
	if dir := CrashLogDir(); dir == "" {
		t.Error("CrashLogDir returned empty string")
	}
}

func TestCrashLogDir_EnvOverride(t *testing.T) {
	t.Setenv("CARDID_AGENT_CRASH_DIR", "/tmp/cardid-crashes")
	if dir := CrashLogDir(); dir != "/tmp/cardid-crashes" {
		t.Errorf("expected env override, got %s", dir)
	}
}

func TestWriteAndReadCrashLog(t *testing.T) {
	dir := useCrashDir(t)

	path, err := WriteCrashLog("test panic value", []byte("test stack trace"))
	if err != nil {
		t.Fatalf("WriteCrashLog failed: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Errorf("crash log written to %s, expected directory %s", path, dir)
	}

	content, err := ReadCrashLog(filepath.Base(path))
	if err != nil {
		t.Fatalf("ReadCrashLog failed: %v", err)
	}
	if !strings.Contains(content, "Card ID Agent Crash Report") {
		t.Error("crash log is missing its header")
	}
	if !strings.Contains(content, "test panic value") || !strings.Contains(content, "test stack trace") {
		t.Error("crash log is missing panic value or stack")
	}
}

func TestReadCrashLog_RejectsPaths(t *testing.T) {
	useCrashDir(t)

	if _, err := ReadCrashLog("../settings.json"); err == nil {
		t.Error("expected error for path traversal")
	}
}

func TestGetCrashLogs_IgnoresOtherFiles(t *testing.T) {
	dir := useCrashDir(t)

	for _, name := range []string{"crash_2024-01-01_00-00-00.log", "crash_2024-01-02_00-00-00.log", "other.log"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("failed to create %s: %v", name, err)
		}
	}

	logs, err := GetCrashLogs(10)
	if err != nil {
		t.Fatalf("GetCrashLogs failed: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 crash logs, got %d", len(logs))
	}
	if logs[0].Name != "crash_2024-01-02_00-00-00.log" {
		t.Errorf("expected newest first, got %s", logs[0].Name)
	}
}

func TestCleanupCrashLogs_KeepsAtMostMax(t *testing.T) {
	dir := t.TempDir()

	numFiles := MaxCrashLogs + 5
	for i := 0; i < numFiles; i++ {
		timestamp := time.Now().Add(time.Duration(-numFiles+i) * time.Hour).Format("2006-01-02_15-04-05")
		path := filepath.Join(dir, "crash_"+timestamp+".log")
		if err := os.WriteFile(path, []byte("test"), 0644); err != nil {
			t.Fatalf("Failed to create test file: %v", err)
		}
	}
	nonCrashFile := filepath.Join(dir, "other.log")
	if err := os.WriteFile(nonCrashFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create non-crash file: %v", err)
	}

	cleanupCrashLogs(dir, time.Now())

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read temp dir: %v", err)
	}

	crashLogCount := 0
	hasNonCrashFile := false
	for _, entry := range entries {
		if entry.Name() == "other.log" {
			hasNonCrashFile = true
		} else if isCrashLogName(entry.Name()) {
			crashLogCount++
		}
	}

	if crashLogCount != MaxCrashLogs {
		t.Errorf("Expected %d crash logs, got %d", MaxCrashLogs, crashLogCount)
	}
	if !hasNonCrashFile {
		t.Error("Non-crash file was incorrectly deleted")
	}
}

func TestCleanupCrashLogs_ByAge(t *testing.T) {
	dir := t.TempDir()

	oldFile := filepath.Join(dir, "crash_2020-01-01_00-00-00.log")
	if err := os.WriteFile(oldFile, []byte("old"), 0644); err != nil {
		t.Fatalf("Failed to create old file: %v", err)
	}
	oldTime := time.Now().Add(-60 * 24 * time.Hour)
	if err := os.Chtimes(oldFile, oldTime, oldTime); err != nil {
		t.Fatalf("Failed to set mod time: %v", err)
	}

	recentFile := filepath.Join(dir, "crash_2099-01-01_00-00-00.log")
	if err := os.WriteFile(recentFile, []byte("recent"), 0644); err != nil {
		t.Fatalf("Failed to create recent file: %v", err)
	}

	cleanupCrashLogs(dir, time.Now())

	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("Old crash log was not deleted")
	}
	if _, err := os.Stat(recentFile); os.IsNotExist(err) {
		t.Error("Recent crash log was incorrectly deleted")
	}
}

func TestRecoverAndLogFunc_CallsHandler(t *testing.T) {
	useCrashDir(t)

	var got interface{}
	func() {
		defer RecoverAndLogFunc("test", false, func(v interface{}, _ string) {
			got = v
		})
		panic("boom")
	}()

	if got != "boom" {
		t.Errorf("expected onPanic to receive %q, got %v", "boom", got)
	}
}
