package panel

import (
	"path/filepath"
	"testing"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

func newTestRegistry(t *testing.T) (*Registry, *config.Manager) {
	t.Helper()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	r := NewRegistry(mgr)
	t.Cleanup(r.UnmountAll)
	return r, mgr
}

// deadEndpoint is a valid ws URL nothing listens on. Mount succeeds and
// the connection keeps retrying, which is all these tests need.
func deadEndpoint() config.PanelOptions {
	opts := config.DefaultPanelOptions()
	opts.EndpointURL = "ws://127.0.0.1:1/"
	opts.ReconnectDelayMs = config.MaxReconnectDelayMs
	return opts
}

// TestRegistryAddPersistsAndMounts verifies Add stores the panel and
// returns a mounted controller.
func TestRegistryAddPersistsAndMounts(t *testing.T) {
	r, mgr := newTestRegistry(t)

	ctl, err := r.Add(config.PanelConfig{Name: "lab", Options: deadEndpoint()})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if !ctl.Status().Mounted {
		t.Error("controller not mounted after Add")
	}

	stored, err := mgr.GetPanel(ctl.ID())
	if err != nil {
		t.Fatalf("GetPanel() error = %v", err)
	}
	if stored.Name != "lab" {
		t.Errorf("stored name = %q, want lab", stored.Name)
	}

	if _, ok := r.Get(ctl.ID()); !ok {
		t.Error("Get() cannot find added panel")
	}
	if got := len(r.List()); got != 1 {
		t.Errorf("List() has %d panels, want 1", got)
	}
}

// TestRegistryAddRejectsInvalid verifies invalid options never reach the
// runtime or the config.
func TestRegistryAddRejectsInvalid(t *testing.T) {
	r, mgr := newTestRegistry(t)

	opts := deadEndpoint()
	opts.EndpointURL = "ftp://example.com/"
	if _, err := r.Add(config.PanelConfig{Name: "bad", Options: opts}); err == nil {
		t.Fatal("Add() = nil, want error")
	}
	if got := len(r.List()); got != 0 {
		t.Errorf("List() has %d panels, want 0", got)
	}
	for _, pc := range mgr.Panels() {
		if pc.Name == "bad" {
			t.Error("invalid panel persisted to config")
		}
	}
}

// TestRegistryRemove verifies removal unmounts and forgets the panel.
func TestRegistryRemove(t *testing.T) {
	r, mgr := newTestRegistry(t)

	ctl, err := r.Add(config.PanelConfig{Name: "gone", Options: deadEndpoint()})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	if err := r.Remove(ctl.ID()); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if ctl.Status().Mounted {
		t.Error("controller still mounted after Remove")
	}
	if _, ok := r.Get(ctl.ID()); ok {
		t.Error("Get() still finds removed panel")
	}
	if _, err := mgr.GetPanel(ctl.ID()); err == nil {
		t.Error("removed panel still in config")
	}
}

// TestRegistryRemoveUnknown verifies removing a missing id fails.
func TestRegistryRemoveUnknown(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.Remove("nope"); err == nil {
		t.Error("Remove() = nil, want error for unknown id")
	}
}

// TestRegistryUpdateOptionsPersists verifies option updates reach both the
// controller and the config file.
func TestRegistryUpdateOptionsPersists(t *testing.T) {
	r, mgr := newTestRegistry(t)

	ctl, err := r.Add(config.PanelConfig{Name: "tune", Options: deadEndpoint()})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	next := ctl.Options()
	next.FitMode = config.FitFill
	if err := r.UpdateOptions(ctl.ID(), next); err != nil {
		t.Fatalf("UpdateOptions() error = %v", err)
	}

	if got := ctl.Options().FitMode; got != config.FitFill {
		t.Errorf("controller FitMode = %v, want fill", got)
	}
	stored, err := mgr.GetPanel(ctl.ID())
	if err != nil {
		t.Fatalf("GetPanel() error = %v", err)
	}
	if stored.Options.FitMode != config.FitFill {
		t.Errorf("stored FitMode = %v, want fill", stored.Options.FitMode)
	}
}

// TestRegistryMountAll verifies panels from an existing config come up.
func TestRegistryMountAll(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	mgr, err := config.NewManager(cfgPath)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	for _, name := range []string{"one", "two"} {
		if _, err := mgr.AddPanel(config.PanelConfig{Name: name, Options: deadEndpoint()}); err != nil {
			t.Fatalf("AddPanel(%s) error = %v", name, err)
		}
	}

	r := NewRegistry(mgr)
	t.Cleanup(r.UnmountAll)
	r.MountAll()

	// the default config seeds one panel besides the two added
	statuses := r.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() has %d panels, want 3", len(statuses))
	}
	for _, st := range statuses {
		if !st.Mounted {
			t.Errorf("panel %s not mounted", st.ID)
		}
	}

	r.UnmountAll()
	if got := len(r.List()); got != 0 {
		t.Errorf("List() has %d panels after UnmountAll, want 0", got)
	}
}
