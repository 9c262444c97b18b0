// Package monitor keeps HiLink modems connected, collects their metrics and
// enforces the per-modem policies (auto-connect, data limit, signal alarm).
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/internal/config"
	"github.com/hilinkd/hilinkd/internal/events"
	"github.com/hilinkd/hilinkd/internal/models"
	"github.com/hilinkd/hilinkd/pkg/hilink"
)

var (
	ErrNotConnected  = errors.New("modem not connected")
	ErrUnknownAction = errors.New("unknown action")
)

// State is the session state of a managed modem.
type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	}
	return "uninitialized"
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Action is an operator command on a modem.
type Action string

const (
	ActionConnect    Action = "connect"
	ActionDisconnect Action = "disconnect"
	ActionReboot     Action = "reboot"
)

// ParseAction validates an action name.
func ParseAction(name string) (Action, error) {
	switch a := Action(name); a {
	case ActionConnect, ActionDisconnect, ActionReboot:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, name)
}

// Device is the part of hilink.Client the manager drives.
type Device interface {
	Status(ctx context.Context) (*hilink.ModemStatus, error)
	Signal(ctx context.Context) (*hilink.SignalInfo, error)
	Usage(ctx context.Context) (*hilink.DataUsage, error)
	ConnectData(ctx context.Context) error
	DisconnectData(ctx context.Context) error
	Reboot(ctx context.Context) error
	SetNetworkMode(ctx context.Context, mode hilink.NetworkMode) error
	SetRoaming(ctx context.Context, enabled bool) error
	Close()
}

// Connector opens a fresh authenticated session to a modem.
type Connector func(ctx context.Context, cfg config.ModemConfig) (Device, error)

// DialHiLink returns a Connector backed by hilink.Dial.
func DialHiLink(timeout time.Duration) Connector {
	return func(ctx context.Context, cfg config.ModemConfig) (Device, error) {
		logger := modemLogger(cfg)
		client, err := hilink.Dial(ctx, hilink.Options{
			Host:     cfg.IPAddress,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  timeout,
			Logger:   &logger,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// Recorder persists samples and events. storage.Store satisfies it.
type Recorder interface {
	SaveSample(ctx context.Context, sample *models.MetricSample) error
	CreateEventLog(ctx context.Context, event *models.EventLog) error
}

// Snapshot is a copy of the cached state of one manager.
type Snapshot struct {
	UUID              string              `json:"uuid"`
	Name              string              `json:"name"`
	IPAddress         string              `json:"ipAddress"`
	State             State               `json:"state"`
	Status            *hilink.ModemStatus `json:"status,omitempty"`
	Signal            *hilink.SignalInfo  `json:"signal,omitempty"`
	Usage             *hilink.DataUsage   `json:"usage,omitempty"`
	LastCollection    *time.Time          `json:"lastCollection,omitempty"`
	ReconnectAttempts int                 `json:"reconnectAttempts"`
	ReconnectHalted   bool                `json:"reconnectHalted"`
	DataLimitReached  bool                `json:"dataLimitReached"`
	LowSignal         bool                `json:"lowSignal"`
	LastError         string              `json:"lastError,omitempty"`
}

// ManagerOptions are the collaborators of a ModemManager.
type ManagerOptions struct {
	Connector Connector
	Recorder  Recorder
	Publisher events.Publisher
	Now       func() time.Time
}

// ModemManager owns the session to one modem and runs its policy cycle.
type ModemManager struct {
	connect   Connector
	recorder  Recorder
	publisher events.Publisher
	now       func() time.Time

	// opMu serializes every call on device.
	opMu   sync.Mutex
	device Device

	mu            sync.RWMutex
	cfg           config.ModemConfig
	logger        zerolog.Logger
	state         State
	status        *hilink.ModemStatus
	signal        *hilink.SignalInfo
	usage         *hilink.DataUsage
	lastCollect   time.Time
	lastAttempt   time.Time
	lastDial      time.Time
	attempts      int
	halted        bool
	limitLatched  bool
	// limitCut is the collection whose connected status a data-limit
	// disconnect was issued for.
	limitCut      time.Time
	lowSignal     bool
	settingsDirty bool
	lastErr       string
}

// NewModemManager creates a manager. No connection is made until Tick.
func NewModemManager(cfg config.ModemConfig, opts ManagerOptions) *ModemManager {
	m := &ModemManager{
		connect:   opts.Connector,
		recorder:  opts.Recorder,
		publisher: opts.Publisher,
		now:       opts.Now,
		cfg:       cfg,
		logger:    modemLogger(cfg),
	}
	if m.connect == nil {
		m.connect = DialHiLink(10 * time.Second)
	}
	if m.publisher == nil {
		m.publisher = events.Nop{}
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

func modemLogger(cfg config.ModemConfig) zerolog.Logger {
	return log.With().Str("modem", cfg.UUID).Str("name", cfg.Name).Logger()
}

// UUID returns the modem identifier.
func (m *ModemManager) UUID() string {
	return m.config().UUID
}

// Config returns the current modem record.
func (m *ModemManager) Config() config.ModemConfig {
	return m.config()
}

func (m *ModemManager) config() config.ModemConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ModemManager) currentLogger() *zerolog.Logger {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l := m.logger
	return &l
}

// Tick runs one policy cycle: reconnect when there is no session, then
// apply pending settings, collect when due and run the data-limit,
// auto-connect and signal checks. A failing step does not stop the others.
func (m *ModemManager) Tick(ctx context.Context) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	cfg := m.config()
	if m.device == nil && !m.reconnect(ctx, cfg) {
		return
	}

	m.step(ctx, "apply settings", func() error { return m.applySettings(ctx, cfg) })
	m.step(ctx, "collect metrics", func() error { return m.collect(ctx, cfg) })
	m.step(ctx, "check data limit", func() error { return m.checkDataLimit(ctx, cfg) })
	m.step(ctx, "auto connect", func() error { return m.autoConnect(ctx, cfg) })
	m.step(ctx, "check signal", func() error { return m.checkSignal(ctx, cfg) })
}

// step runs fn when a session exists. Session-fatal errors tear the
// session down; the next Tick reconnects.
func (m *ModemManager) step(ctx context.Context, name string, fn func() error) {
	if m.device == nil {
		return
	}
	err := fn()
	if err == nil {
		return
	}

	m.mu.Lock()
	m.lastErr = err.Error()
	m.mu.Unlock()

	m.currentLogger().Error().Err(err).Str("step", name).Msg("modem cycle step failed")
	if hilink.IsSessionFatal(err) {
		m.teardown(ctx, err)
	}
}

func (m *ModemManager) reconnect(ctx context.Context, cfg config.ModemConfig) bool {
	now := m.now()

	m.mu.Lock()
	if m.halted || m.attempts >= cfg.MaxReconnectAttempts {
		m.mu.Unlock()
		return false
	}
	if !m.lastAttempt.IsZero() && now.Sub(m.lastAttempt) < cfg.ReconnectDelay() {
		m.mu.Unlock()
		return false
	}
	m.lastAttempt = now
	attempt := m.attempts + 1
	m.mu.Unlock()

	logger := m.currentLogger()
	logger.Info().Int("attempt", attempt).Int("max", cfg.MaxReconnectAttempts).Msg("connecting to modem")

	device, err := m.connect(ctx, cfg)
	if err != nil {
		halt := hilink.IsBadCredentials(err) || hilink.IsConfiguration(err) || attempt >= cfg.MaxReconnectAttempts

		m.mu.Lock()
		m.attempts = attempt
		m.state = StateDisconnected
		m.lastErr = err.Error()
		if halt {
			m.halted = true
		}
		m.mu.Unlock()

		logger.Error().Err(err).Int("attempt", attempt).Msg("failed to connect to modem")
		m.emit(ctx, models.EventTypeReconnectFailed, models.EventLevelError,
			"Connection attempt failed", models.Details{
				"attempt": attempt,
				"max":     cfg.MaxReconnectAttempts,
				"error":   err.Error(),
			})
		if halt {
			logger.Error().Msg("reconnection halted until the modem configuration changes")
			m.emit(ctx, models.EventTypeReconnectHalted, models.EventLevelError,
				"Reconnection halted until the configuration changes", models.Details{
					"reason": haltReason(err),
				})
		}
		return false
	}

	m.device = device
	m.mu.Lock()
	m.attempts = 0
	m.state = StateConnected
	m.lastErr = ""
	m.settingsDirty = true
	m.mu.Unlock()

	logger.Info().Msg("modem connected")
	m.emit(ctx, models.EventTypeConnected, models.EventLevelInfo, "Session established", nil)
	return true
}

func haltReason(err error) string {
	switch {
	case hilink.IsBadCredentials(err):
		return "bad credentials"
	case hilink.IsConfiguration(err):
		return "configuration error"
	}
	return "attempts exhausted"
}

func (m *ModemManager) teardown(ctx context.Context, reason error) {
	if m.device != nil {
		m.device.Close()
		m.device = nil
	}

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()

	m.currentLogger().Warn().Err(reason).Msg("modem session closed")
	m.emit(ctx, models.EventTypeDisconnected, models.EventLevelWarning,
		"Session lost", models.Details{"reason": reason.Error()})
}

func (m *ModemManager) applySettings(ctx context.Context, cfg config.ModemConfig) error {
	m.mu.Lock()
	dirty := m.settingsDirty
	m.settingsDirty = false
	m.mu.Unlock()
	if !dirty {
		return nil
	}

	mode, err := hilink.ParseNetworkMode(cfg.NetworkMode)
	if err != nil {
		return err
	}
	if err := m.device.SetRoaming(ctx, cfg.RoamingEnabled); err != nil {
		return fmt.Errorf("set roaming: %w", err)
	}
	if err := m.device.SetNetworkMode(ctx, mode); err != nil {
		return fmt.Errorf("set network mode: %w", err)
	}

	m.currentLogger().Info().Bool("roaming", cfg.RoamingEnabled).Str("network_mode", cfg.NetworkMode).Msg("applied modem settings")
	m.emit(ctx, models.EventTypeSettingsApplied, models.EventLevelInfo, "Settings applied", models.Details{
		"roaming":      cfg.RoamingEnabled,
		"network_mode": cfg.NetworkMode,
	})
	return nil
}

// collect refreshes status, signal and usage once the collection interval
// has elapsed. The cache is replaced only when all three reads succeed.
func (m *ModemManager) collect(ctx context.Context, cfg config.ModemConfig) error {
	now := m.now()

	m.mu.RLock()
	last := m.lastCollect
	m.mu.RUnlock()
	if !last.IsZero() && now.Sub(last) < cfg.CollectEvery() {
		return nil
	}

	status, err := m.device.Status(ctx)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	signal, err := m.device.Signal(ctx)
	if err != nil {
		return fmt.Errorf("read signal: %w", err)
	}
	usage, err := m.device.Usage(ctx)
	if err != nil {
		return fmt.Errorf("read usage: %w", err)
	}

	m.mu.Lock()
	m.status = status
	m.signal = signal
	m.usage = usage
	m.lastCollect = now
	m.lastErr = ""
	m.mu.Unlock()

	sample := BuildSample(cfg.UUID, now, status, signal, usage)
	if m.recorder != nil {
		if err := m.recorder.SaveSample(ctx, sample); err != nil {
			m.currentLogger().Error().Err(err).Msg("failed to store metric sample")
		}
	}
	if err := m.publisher.PublishSample(ctx, sample); err != nil {
		m.currentLogger().Warn().Err(err).Msg("failed to publish metric sample")
	}

	m.currentLogger().Debug().
		Int("rssi", signal.RSSI).
		Str("network_type", status.NetworkType).
		Bool("connected", status.Connected).
		Msg("collected modem metrics")
	return nil
}

// BuildSample converts one collection into the stored sample shape.
func BuildSample(modemUUID string, at time.Time, status *hilink.ModemStatus, signal *hilink.SignalInfo, usage *hilink.DataUsage) *models.MetricSample {
	sample := &models.MetricSample{
		ModemUUID:       modemUUID,
		Timestamp:       at.Unix(),
		SignalStrength:  signal.RSSI,
		SignalQuality:   hilink.QualityPercent(signal.Bars),
		RxBytes:         usage.TotalDownload,
		TxBytes:         usage.TotalUpload,
		ConnectionState: models.SampleDisconnected,
		NetworkType:     hilink.NetworkTypeCode(status.NetworkType),
	}
	if status.Connected {
		sample.ConnectionState = models.SampleConnected
	}
	return sample
}

// checkDataLimit enforces the monthly quota. Every collection that shows the
// link up over quota switches mobile data off, so a device that redials on
// its own is cut again. The latch only suppresses auto-connect and repeated
// DATA_LIMIT events; it holds until the record changes.
func (m *ModemManager) checkDataLimit(ctx context.Context, cfg config.ModemConfig) error {
	if !cfg.DataLimitEnabled {
		return nil
	}

	m.mu.RLock()
	usage, status, latched := m.usage, m.status, m.limitLatched
	lastCollect, limitCut := m.lastCollect, m.limitCut
	m.mu.RUnlock()
	if usage == nil || usage.MonthTotal < cfg.DataLimitBytes() {
		return nil
	}

	usedMB := float64(usage.MonthTotal) / 1024 / 1024

	disconnected := false
	if status != nil && status.Connected && limitCut.Before(lastCollect) {
		if latched {
			m.currentLogger().Warn().Float64("used_mb", usedMB).Msg("link up over data limit, disconnecting again")
		}
		if err := m.device.DisconnectData(ctx); err != nil {
			return fmt.Errorf("disconnect over data limit: %w", err)
		}
		m.mu.Lock()
		m.limitCut = lastCollect
		m.mu.Unlock()
		disconnected = true
	}

	if latched {
		return nil
	}

	m.currentLogger().Warn().Float64("used_mb", usedMB).Int64("limit_mb", cfg.DataLimitMB).Msg("data limit reached")

	m.mu.Lock()
	m.limitLatched = true
	m.mu.Unlock()

	m.emit(ctx, models.EventTypeDataLimit, models.EventLevelWarning, "Monthly data limit reached", models.Details{
		"used_mb":      usedMB,
		"limit_mb":     cfg.DataLimitMB,
		"disconnected": disconnected,
	})
	return nil
}

// autoConnect dials once per collection while the data link is down.
func (m *ModemManager) autoConnect(ctx context.Context, cfg config.ModemConfig) error {
	if !cfg.AutoConnect {
		return nil
	}

	m.mu.RLock()
	status, latched, lastCollect, lastDial := m.status, m.limitLatched, m.lastCollect, m.lastDial
	m.mu.RUnlock()
	if latched || status == nil || status.Connected || status.ConnectionState == hilink.ConnectionConnecting {
		return nil
	}
	if !lastDial.IsZero() && !lastDial.Before(lastCollect) {
		return nil
	}

	m.mu.Lock()
	m.lastDial = m.now()
	m.mu.Unlock()

	m.currentLogger().Info().Str("state", status.ConnectionState.String()).Msg("auto-connecting modem")
	if err := m.device.ConnectData(ctx); err != nil {
		return fmt.Errorf("auto connect: %w", err)
	}
	m.emit(ctx, models.EventTypeAutoConnect, models.EventLevelInfo, "Mobile data switched on", nil)
	return nil
}

// checkSignal warns on every check below the threshold and records an
// event when the signal crosses it.
func (m *ModemManager) checkSignal(ctx context.Context, cfg config.ModemConfig) error {
	m.mu.RLock()
	signal, wasLow := m.signal, m.lowSignal
	m.mu.RUnlock()
	if signal == nil {
		return nil
	}

	low := signal.RSSI < cfg.SignalThreshold
	if low {
		m.currentLogger().Warn().Int("rssi", signal.RSSI).Int("threshold", cfg.SignalThreshold).Msg("low signal")
	}
	if low == wasLow {
		return nil
	}

	m.mu.Lock()
	m.lowSignal = low
	m.mu.Unlock()

	if low {
		m.emit(ctx, models.EventTypeLowSignal, models.EventLevelWarning, "Signal below threshold", models.Details{
			"rssi":      signal.RSSI,
			"threshold": cfg.SignalThreshold,
		})
	} else {
		m.currentLogger().Info().Int("rssi", signal.RSSI).Msg("signal recovered")
	}
	return nil
}

// Do runs an operator action against the current session.
func (m *ModemManager) Do(ctx context.Context, action Action) error {
	switch action {
	case ActionConnect:
		return m.command(ctx, action, Device.ConnectData)
	case ActionDisconnect:
		return m.command(ctx, action, Device.DisconnectData)
	case ActionReboot:
		return m.command(ctx, action, Device.Reboot)
	}
	return fmt.Errorf("%w: %q", ErrUnknownAction, action)
}

// Connect switches mobile data on.
func (m *ModemManager) Connect(ctx context.Context) error { return m.Do(ctx, ActionConnect) }

// Disconnect switches mobile data off.
func (m *ModemManager) Disconnect(ctx context.Context) error { return m.Do(ctx, ActionDisconnect) }

// Reboot restarts the modem.
func (m *ModemManager) Reboot(ctx context.Context) error { return m.Do(ctx, ActionReboot) }

func (m *ModemManager) command(ctx context.Context, action Action, fn func(Device, context.Context) error) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.device == nil {
		return ErrNotConnected
	}
	if err := fn(m.device, ctx); err != nil {
		if hilink.IsSessionFatal(err) {
			m.teardown(ctx, err)
		}
		return fmt.Errorf("%s: %w", action, err)
	}

	// force a fresh collection on the next cycle
	m.mu.Lock()
	m.lastCollect = time.Time{}
	m.mu.Unlock()

	m.currentLogger().Info().Str("action", string(action)).Msg("operator action executed")
	m.emit(ctx, models.EventTypeCommand, models.EventLevelInfo, "Operator action "+string(action), models.Details{
		"action": string(action),
	})
	return nil
}

// UpdateConfig installs a reloaded record. Any change clears the reconnect
// counter, the halt flag and the data-limit latch; changed settings are
// reapplied and changed connection parameters force a new session.
func (m *ModemManager) UpdateConfig(ctx context.Context, cfg config.ModemConfig) {
	m.mu.Lock()
	old := m.cfg
	if old == cfg {
		m.mu.Unlock()
		return
	}
	m.cfg = cfg
	m.logger = modemLogger(cfg)
	m.attempts = 0
	m.halted = false
	m.limitLatched = false
	m.limitCut = time.Time{}
	m.lastAttempt = time.Time{}
	if old.SettingsChanged(cfg) {
		m.settingsDirty = true
	}
	m.mu.Unlock()

	m.currentLogger().Info().Msg("modem configuration updated")

	if old.ConnectionChanged(cfg) {
		m.opMu.Lock()
		if m.device != nil {
			m.teardown(ctx, errors.New("connection settings changed"))
		}
		m.opMu.Unlock()
	}
}

// Close drops the session.
func (m *ModemManager) Close() {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	if m.device == nil {
		return
	}
	m.device.Close()
	m.device = nil

	m.mu.Lock()
	m.state = StateDisconnected
	m.mu.Unlock()
	m.currentLogger().Info().Msg("modem session closed")
}

// Snapshot returns a copy of the cached state.
func (m *ModemManager) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		UUID:              m.cfg.UUID,
		Name:              m.cfg.Name,
		IPAddress:         m.cfg.IPAddress,
		State:             m.state,
		ReconnectAttempts: m.attempts,
		ReconnectHalted:   m.halted,
		DataLimitReached:  m.limitLatched,
		LowSignal:         m.lowSignal,
		LastError:         m.lastErr,
	}
	if m.status != nil {
		status := *m.status
		snap.Status = &status
	}
	if m.signal != nil {
		signal := *m.signal
		snap.Signal = &signal
	}
	if m.usage != nil {
		usage := *m.usage
		snap.Usage = &usage
	}
	if !m.lastCollect.IsZero() {
		at := m.lastCollect
		snap.LastCollection = &at
	}
	return snap
}

func (m *ModemManager) emit(ctx context.Context, typ models.EventType, level models.EventLevel, description string, details models.Details) {
	cfg := m.config()
	event := &models.EventLog{
		ID:          uuid.New(),
		CreatedAt:   m.now().UTC(),
		ModemUUID:   cfg.UUID,
		ModemName:   cfg.Name,
		Type:        typ,
		Level:       level,
		Description: description,
		Details:     details,
	}

	if m.recorder != nil {
		if err := m.recorder.CreateEventLog(ctx, event); err != nil {
			m.currentLogger().Error().Err(err).Str("type", string(typ)).Msg("failed to store event")
		}
	}
	if err := m.publisher.PublishEvent(ctx, event); err != nil {
		m.currentLogger().Warn().Err(err).Str("type", string(typ)).Msg("failed to publish event")
	}
}
