package panel

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/logger"
)

// Registry hosts the mounted panels and keeps the persisted configuration
// in sync with runtime changes.
type Registry struct {
	log *zerolog.Logger
	cfg *config.Manager

	mu     sync.Mutex
	panels map[string]*Controller
	order  []string
}

// NewRegistry creates an empty registry backed by the given configuration.
func NewRegistry(cfg *config.Manager) *Registry {
	return &Registry{
		log:    logger.WithComponent("registry"),
		cfg:    cfg,
		panels: make(map[string]*Controller),
	}
}

// MountAll builds and mounts a controller for every configured panel.
// Individual failures are logged and skipped so one bad panel does not
// keep the rest down.
func (r *Registry) MountAll() {
	for _, pc := range r.cfg.Panels() {
		if _, err := r.mount(pc); err != nil {
			r.log.Error().Err(err).Str("panel", pc.ID).Msg("Panel failed to mount")
		}
	}
}

func (r *Registry) mount(pc config.PanelConfig) (*Controller, error) {
	ctl := NewController(pc)
	if err := ctl.Mount(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.panels[ctl.ID()] = ctl
	r.order = append(r.order, ctl.ID())
	r.mu.Unlock()
	return ctl, nil
}

// List returns the controllers in configuration order.
func (r *Registry) List() []*Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Controller, 0, len(r.order))
	for _, id := range r.order {
		if ctl, ok := r.panels[id]; ok {
			out = append(out, ctl)
		}
	}
	return out
}

// Get returns the controller for id.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctl, ok := r.panels[id]
	return ctl, ok
}

// Statuses snapshots every panel in configuration order.
func (r *Registry) Statuses() []Status {
	panels := r.List()
	out := make([]Status, 0, len(panels))
	for _, ctl := range panels {
		out = append(out, ctl.Status())
	}
	return out
}

// Add persists a new panel and mounts it. On mount failure the
// configuration entry is rolled back.
func (r *Registry) Add(pc config.PanelConfig) (*Controller, error) {
	stored, err := r.cfg.AddPanel(pc)
	if err != nil {
		return nil, err
	}
	ctl, err := r.mount(*stored)
	if err != nil {
		if rbErr := r.cfg.RemovePanel(stored.ID); rbErr != nil {
			r.log.Warn().Err(rbErr).Str("panel", stored.ID).Msg("Rollback failed")
		}
		return nil, err
	}
	r.log.Info().Str("panel", ctl.ID()).Str("name", ctl.Name()).Msg("Panel added")
	return ctl, nil
}

// Remove unmounts a panel and deletes it from the configuration.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	ctl, ok := r.panels[id]
	if ok {
		delete(r.panels, id)
		for i, oid := range r.order {
			if oid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if ok {
		ctl.Unmount()
	}
	if err := r.cfg.RemovePanel(id); err != nil {
		if !ok {
			return err
		}
		r.log.Warn().Err(err).Str("panel", id).Msg("Panel removed from runtime but not config")
	}
	r.log.Info().Str("panel", id).Msg("Panel removed")
	return nil
}

// UpdateOptions applies new options to a running panel and persists them.
func (r *Registry) UpdateOptions(id string, opts config.PanelOptions) error {
	r.mu.Lock()
	ctl, ok := r.panels[id]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("panel not found: %s", id)
	}
	if err := ctl.ApplyOptions(opts); err != nil {
		return err
	}
	return r.cfg.UpdatePanelOptions(id, ctl.Options())
}

// UnmountAll stops every panel. Used at shutdown.
func (r *Registry) UnmountAll() {
	panels := r.List()
	r.mu.Lock()
	r.panels = make(map[string]*Controller)
	r.order = nil
	r.mu.Unlock()

	for _, ctl := range panels {
		ctl.Unmount()
	}
	r.log.Info().Int("panels", len(panels)).Msg("All panels unmounted")
}
