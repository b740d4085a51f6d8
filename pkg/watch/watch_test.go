package watch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"30s", 30 * time.Second, false},
		{"5m", 5 * time.Minute, false},
		{"1h", time.Hour, false},
		{"24h", 24 * time.Hour, false},
		{"1d", 24 * time.Hour, false},
		{"7d", 7 * 24 * time.Hour, false},
		{"1d12h", 36 * time.Hour, false},
		{"2d6h", 54 * time.Hour, false},
		{"0s", 0, true},
		{"-5m", 0, true},
		{"invalid", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseInterval(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Errorf("ParseInterval(%q) expected error, got nil", tt.input)
				}
				return
			}
			if err != nil {
				t.Errorf("ParseInterval(%q) unexpected error: %v", tt.input, err)
				return
			}
			if got != tt.expected {
				t.Errorf("ParseInterval(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{time.Hour, "1h"},
		{90 * time.Minute, "1h30m"},
		{24 * time.Hour, "1d"},
		{36 * time.Hour, "1d12h"},
		{7 * 24 * time.Hour, "7d"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := FormatInterval(tt.input)
			if got != tt.expected {
				t.Errorf("FormatInterval(%v) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestStateManager(t *testing.T) {
	tmpDir := t.TempDir()
	sm := NewStateManager(tmpDir)

	if err := sm.Load(); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if !sm.ShouldRun("shop", time.Hour) {
		t.Error("ShouldRun() should return true for new site")
	}

	sm.UpdateSiteState("shop", SiteRun{Success: true, ProductCount: 120, ProductHash: "abc", NewProducts: -1})

	if sm.ShouldRun("shop", time.Hour) {
		t.Error("ShouldRun() should return false immediately after run")
	}

	state, ok := sm.GetSiteState("shop")
	if !ok {
		t.Fatal("GetSiteState() should return true for existing site")
	}
	if !state.LastRunSuccess {
		t.Error("LastRunSuccess should be true")
	}
	if state.ProductCount != 120 {
		t.Errorf("ProductCount = %d, want 120", state.ProductCount)
	}

	if err := sm.Save(); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	statePath := filepath.Join(tmpDir, stateFileName)
	if _, err := os.Stat(statePath); os.IsNotExist(err) {
		t.Error("State file should exist after Save()")
	}
	if _, err := os.Stat(statePath + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file should be renamed away after Save()")
	}

	sm2 := NewStateManager(tmpDir)
	if err := sm2.Load(); err != nil {
		t.Fatalf("Load() from saved state failed: %v", err)
	}

	state2, ok := sm2.GetSiteState("shop")
	if !ok {
		t.Fatal("GetSiteState() should return true after Load()")
	}
	if state2.ProductCount != 120 || state2.ProductHash != "abc" {
		t.Errorf("Loaded state = %+v, want count 120 hash abc", state2)
	}
}

func TestStateManagerLoadCorrupt(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, stateFileName), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	sm := NewStateManager(tmpDir)
	if err := sm.Load(); err == nil {
		t.Error("Load() should fail on a corrupt state file")
	}
}

func TestStateManagerChangeDetection(t *testing.T) {
	sm := NewStateManager(t.TempDir())
	_ = sm.Load()

	if sm.UpdateSiteState("shop", SiteRun{Success: true, ProductCount: 2, ProductHash: "h1"}) {
		t.Error("first run should not report a change")
	}
	if sm.UpdateSiteState("shop", SiteRun{Success: true, ProductCount: 2, ProductHash: "h1"}) {
		t.Error("same hash should not report a change")
	}
	if !sm.UpdateSiteState("shop", SiteRun{Success: true, ProductCount: 3, ProductHash: "h2"}) {
		t.Error("different hash should report a change")
	}

	if sm.UpdateSiteState("shop", SiteRun{Success: false, Error: errors.New("robots unreachable")}) {
		t.Error("failed run should not report a change")
	}
	state, _ := sm.GetSiteState("shop")
	if state.ProductCount != 3 || state.ProductHash != "h2" {
		t.Errorf("failed run should keep last good result, got %+v", state)
	}
	if state.ErrorMessage != "robots unreachable" {
		t.Errorf("ErrorMessage = %q", state.ErrorMessage)
	}

	if sm.UpdateSiteState("shop", SiteRun{Success: true, ProductCount: 3, ProductHash: "h2"}) {
		t.Error("recovery with the same hash should not report a change")
	}
}

func TestStateManagerGetAllSiteStates(t *testing.T) {
	sm := NewStateManager(t.TempDir())
	_ = sm.Load()

	sm.UpdateSiteState("site1", SiteRun{Success: true, ProductCount: 50})
	sm.UpdateSiteState("site2", SiteRun{Success: false, Error: errors.New("some error")})
	sm.UpdateSiteState("site3", SiteRun{Success: true, ProductCount: 200})

	states := sm.GetAllSiteStates()

	if len(states) != 3 {
		t.Errorf("GetAllSiteStates() returned %d states, want 3", len(states))
	}
	if states["site1"].ProductCount != 50 {
		t.Errorf("site1 ProductCount = %d, want 50", states["site1"].ProductCount)
	}
	if states["site2"].LastRunSuccess {
		t.Error("site2 LastRunSuccess should be false")
	}
	if states["site2"].ErrorMessage != "some error" {
		t.Errorf("site2 ErrorMessage = %q, want 'some error'", states["site2"].ErrorMessage)
	}
}

func TestStateManagerGetNextRunTime(t *testing.T) {
	sm := NewStateManager(t.TempDir())
	_ = sm.Load()

	interval := time.Hour

	nextRun := sm.GetNextRunTime("new_site", interval)
	if time.Since(nextRun) > time.Second {
		t.Error("GetNextRunTime() for new site should be approximately now")
	}

	sm.UpdateSiteState("existing_site", SiteRun{Success: true, ProductCount: 100})
	state, _ := sm.GetSiteState("existing_site")

	expectedNextRun := state.LastRunTime.Add(interval)
	if got := sm.GetNextRunTime("existing_site", interval); !got.Equal(expectedNextRun) {
		t.Errorf("GetNextRunTime() = %v, want %v", got, expectedNextRun)
	}
}
