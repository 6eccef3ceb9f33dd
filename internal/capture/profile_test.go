package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestTableFor(t *testing.T) {
	if got := DefaultTable.For("Android")[0].Name; got != "android-rear-1080p" {
		t.Errorf("android first profile = %s", got)
	}
	if got := DefaultTable.For("smart-fridge"); len(got) == 0 || got[0].Name != "rear-any" {
		t.Errorf("unknown platform got %+v", got)
	}
}

func TestParseTableOverridesPerPlatform(t *testing.T) {
	table, err := ParseTable([]byte(`
android:
  - name: rear-wide
    constraints: {facing: environment, width: 1920, height: 1080}
    settings: {frameRate: 15, tryHarder: true}
Kiosk:
  - name: fixed
`))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	android := table.For("android")
	if len(android) != 1 || android[0].Name != "rear-wide" || android[0].Constraints.Width != 1920 || !android[0].Settings.TryHarder {
		t.Errorf("android override = %+v", android)
	}
	if got := table.For("kiosk"); len(got) != 1 || got[0].Name != "fixed" {
		t.Errorf("kiosk = %+v", got)
	}
	if got := table.For("ios"); len(got) != len(DefaultTable["ios"]) {
		t.Errorf("ios defaults lost: %+v", got)
	}
	if len(DefaultTable["android"]) == 1 {
		t.Error("override mutated the default table")
	}
}

func TestParseTableErrors(t *testing.T) {
	if _, err := ParseTable([]byte("android: [{constraints: {facing: user}}]")); err == nil {
		t.Error("expected error for unnamed profile")
	}
	if _, err := ParseTable([]byte("android: {")); err == nil {
		t.Error("expected error for malformed yaml")
	}
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte("desktop:\n  - name: usb\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got := table.For("desktop"); len(got) != 1 || got[0].Name != "usb" {
		t.Errorf("desktop = %+v", got)
	}
	if _, err := LoadTable(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestFrameInterval(t *testing.T) {
	if got := (Profile{Settings: Settings{FrameRate: 20}}).FrameInterval(); got != 50*time.Millisecond {
		t.Errorf("got %s", got)
	}
	if got := (Profile{}).FrameInterval(); got != 100*time.Millisecond {
		t.Errorf("got %s", got)
	}
}
