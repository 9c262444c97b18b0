package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/internal/config"
	"github.com/hilinkd/hilinkd/internal/events"
	"github.com/hilinkd/hilinkd/internal/storage"
)

// ErrModemNotFound is returned for UUIDs that are not being managed.
var ErrModemNotFound = errors.New("modem not found")

// ModemSource yields the current set of modem records.
type ModemSource interface {
	Modems(ctx context.Context) ([]config.ModemConfig, error)
}

// Store is what the service needs from storage.
type Store interface {
	Recorder
	Purge(ctx context.Context, before time.Time) (storage.PurgeResult, error)
}

// ServiceOptions configure a Service.
type ServiceOptions struct {
	Source    ModemSource
	Store     Store
	Publisher events.Publisher
	Connector Connector

	PollInterval    time.Duration
	ReloadInterval  time.Duration
	CleanupInterval time.Duration
	Retention       time.Duration

	Now func() time.Time
}

type handle struct {
	manager *ModemManager
	cancel  context.CancelFunc
	done    chan struct{}
}

func (h *handle) stop() {
	h.cancel()
	<-h.done
}

// Service runs one manager per enabled modem and the reload and cleanup
// loops.
type Service struct {
	opts ServiceOptions

	mu       sync.RWMutex
	managers map[string]*handle
}

// NewService creates a service
func NewService(opts ServiceOptions) *Service {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ReloadInterval <= 0 {
		opts.ReloadInterval = time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 24 * time.Hour
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Nop{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		opts:     opts,
		managers: make(map[string]*handle),
	}
}

// Run loads the modems and blocks until ctx is done. Only the initial load
// can fail; later reload errors keep the running managers.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		return fmt.Errorf("load modems: %w", err)
	}
	defer s.Stop()

	reload := time.NewTicker(s.opts.ReloadInterval)
	defer reload.Stop()
	cleanup := time.NewTicker(s.opts.CleanupInterval)
	defer cleanup.Stop()

	log.Info().
		Dur("poll_interval", s.opts.PollInterval).
		Dur("reload_interval", s.opts.ReloadInterval).
		Msg("Monitor service started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Monitor service stopping")
			return nil
		case <-reload.C:
			if err := s.Reconcile(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to reload modem configuration")
			}
		case <-cleanup.C:
			s.Cleanup(ctx)
		}
	}
}

// Reconcile diffs the source against the registry: removed modems are
// stopped, new ones started and existing ones updated. Started managers
// live until ctx is done or Stop is called.
func (s *Service) Reconcile(ctx context.Context) error {
	modems, err := s.opts.Source.Modems(ctx)
	if err != nil {
		return err
	}

	wanted := make(map[string]config.ModemConfig, len(modems))
	for _, m := range modems {
		if m.Enabled {
			wanted[m.UUID] = m
		}
	}

	var (
		removed []*handle
		updated []*handle
		added   int
	)

	s.mu.Lock()
	for id, h := range s.managers {
		if _, ok := wanted[id]; !ok {
			removed = append(removed, h)
			delete(s.managers, id)
		}
	}
	for id, cfg := range wanted {
		if h, ok := s.managers[id]; ok {
			updated = append(updated, h)
			continue
		}
		s.managers[id] = s.start(ctx, cfg)
		added++
	}
	s.mu.Unlock()

	for _, h := range removed {
		log.Info().Str("modem", h.manager.UUID()).Msg("Removing modem")
		h.stop()
	}
	for _, h := range updated {
		h.manager.UpdateConfig(ctx, wanted[h.manager.UUID()])
	}

	log.Debug().
		Int("added", added).
		Int("removed", len(removed)).
		Int("kept", len(updated)).
		Msg("Reconciled modems")
	return nil
}

func (s *Service) start(ctx context.Context, cfg config.ModemConfig) *handle {
	loopCtx, cancel := context.WithCancel(ctx)
	h := &handle{
		manager: NewModemManager(cfg, ManagerOptions{
			Connector: s.opts.Connector,
			Recorder:  s.opts.Store,
			Publisher: s.opts.Publisher,
			Now:       s.opts.Now,
		}),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	log.Info().Str("modem", cfg.UUID).Str("name", cfg.Name).Str("ip", cfg.IPAddress).Msg("Adding modem")

	go s.loop(loopCtx, h)
	return h
}

func (s *Service) loop(ctx context.Context, h *handle) {
	defer close(h.done)
	defer h.manager.Close()

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		s.tick(ctx, h.manager)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick shields the loop from panics and lets device calls run to their
// own timeout on shutdown.
func (s *Service) tick(ctx context.Context, m *ModemManager) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("modem", m.UUID()).Msg("Recovered from panic in modem cycle")
		}
	}()
	m.Tick(context.WithoutCancel(ctx))
}

// Stop stops every manager and waits for their loops to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	handles := make([]*handle, 0, len(s.managers))
	for id, h := range s.managers {
		handles = append(handles, h)
		delete(s.managers, id)
	}
	s.mu.Unlock()

	for _, h := range handles {
		h.cancel()
	}
	for _, h := range handles {
		<-h.done
	}
}

// Cleanup deletes samples and events older than the retention period.
func (s *Service) Cleanup(ctx context.Context) {
	if s.opts.Store == nil || s.opts.Retention <= 0 {
		return
	}

	before := s.opts.Now().Add(-s.opts.Retention)
	result, err := s.opts.Store.Purge(ctx, before)
	if err != nil {
		log.Error().Err(err).Msg("Failed to purge old data")
		return
	}
	log.Info().
		Time("before", before).
		Int64("samples", result.Samples).
		Int64("events", result.Events).
		Msg("Purged old data")
}

// Manager returns the manager of one modem.
func (s *Service) Manager(uuid string) (*ModemManager, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.managers[uuid]
	if !ok {
		return nil, false
	}
	return h.manager, true
}

// Snapshots returns the state of every managed modem ordered by name.
func (s *Service) Snapshots() []Snapshot {
	s.mu.RLock()
	snaps := make([]Snapshot, 0, len(s.managers))
	for _, h := range s.managers {
		snaps = append(snaps, h.manager.Snapshot())
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].Name != snaps[j].Name {
			return snaps[i].Name < snaps[j].Name
		}
		return snaps[i].UUID < snaps[j].UUID
	})
	return snaps
}

// Snapshot returns the state of one modem.
func (s *Service) Snapshot(uuid string) (Snapshot, error) {
	m, ok := s.Manager(uuid)
	if !ok {
		return Snapshot{}, ErrModemNotFound
	}
	return m.Snapshot(), nil
}

// Command runs an operator action on one modem.
func (s *Service) Command(ctx context.Context, uuid, action string) error {
	a, err := ParseAction(action)
	if err != nil {
		return err
	}
	m, ok := s.Manager(uuid)
	if !ok {
		return ErrModemNotFound
	}
	return m.Do(ctx, a)
}
