package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hilinkd/hilinkd/internal/config"
	"github.com/hilinkd/hilinkd/internal/models"
	"github.com/hilinkd/hilinkd/internal/storage"
	"github.com/hilinkd/hilinkd/pkg/hilink"
)

var errTimeout = &hilink.TransportError{Op: "/api/monitoring/status", Err: errors.New("timeout")}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeDevice struct {
	mu sync.Mutex

	status hilink.ModemStatus
	signal hilink.SignalInfo
	usage  hilink.DataUsage

	statusErr, signalErr, usageErr error
	connectErr, disconnectErr     error

	calls   map[string]int
	modes   []hilink.NetworkMode
	roaming []bool
	closed  bool
	panics  bool
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		status: hilink.ModemStatus{
			Connected:       true,
			ConnectionState: hilink.ConnectionConnected,
			NetworkType:     "LTE",
			Operator:        "Carrier",
		},
		signal: hilink.SignalInfo{RSSI: -65, Bars: 5, Quality: hilink.QualityExcellent},
		usage: hilink.DataUsage{
			TotalDownload: 5000,
			TotalUpload:   700,
			MonthTotal:    1024,
		},
		calls: make(map[string]int),
	}
}

func (d *fakeDevice) record(name string) {
	d.calls[name]++
}

func (d *fakeDevice) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[name]
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

func (d *fakeDevice) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *fakeDevice) Status(ctx context.Context) (*hilink.ModemStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("status")
	if d.panics {
		panic("status exploded")
	}
	if d.statusErr != nil {
		return nil, d.statusErr
	}
	s := d.status
	return &s, nil
}

func (d *fakeDevice) Signal(ctx context.Context) (*hilink.SignalInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("signal")
	if d.signalErr != nil {
		return nil, d.signalErr
	}
	s := d.signal
	return &s, nil
}

func (d *fakeDevice) Usage(ctx context.Context) (*hilink.DataUsage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("usage")
	if d.usageErr != nil {
		return nil, d.usageErr
	}
	u := d.usage
	return &u, nil
}

func (d *fakeDevice) ConnectData(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("connect")
	return d.connectErr
}

func (d *fakeDevice) DisconnectData(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("disconnect")
	return d.disconnectErr
}

func (d *fakeDevice) Reboot(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("reboot")
	return nil
}

func (d *fakeDevice) SetNetworkMode(ctx context.Context, mode hilink.NetworkMode) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("mode")
	d.modes = append(d.modes, mode)
	return nil
}

func (d *fakeDevice) SetRoaming(ctx context.Context, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.record("roaming")
	d.roaming = append(d.roaming, enabled)
	return nil
}

func (d *fakeDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// fakeConnector hands out the queued results in order and repeats the last
// one when the queue runs dry.
type fakeConnector struct {
	mu      sync.Mutex
	results []connectResult
	calls   int
	configs []config.ModemConfig
}

type connectResult struct {
	device *fakeDevice
	err    error
}

func (c *fakeConnector) connect(ctx context.Context, cfg config.ModemConfig) (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.configs = append(c.configs, cfg)

	r := c.results[0]
	if len(c.results) > 1 {
		c.results = c.results[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.device, nil
}

func (c *fakeConnector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func succeed(d *fakeDevice) *fakeConnector {
	return &fakeConnector{results: []connectResult{{device: d}}}
}

func fail(err error) *fakeConnector {
	return &fakeConnector{results: []connectResult{{err: err}}}
}

type fakeRecorder struct {
	mu      sync.Mutex
	samples []*models.MetricSample
	events  []*models.EventLog
	purged  []time.Time
}

func (r *fakeRecorder) SaveSample(ctx context.Context, sample *models.MetricSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample)
	return nil
}

func (r *fakeRecorder) CreateEventLog(ctx context.Context, event *models.EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *fakeRecorder) Purge(ctx context.Context, before time.Time) (storage.PurgeResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.purged = append(r.purged, before)
	return storage.PurgeResult{Samples: 3, Events: 1}, nil
}

func (r *fakeRecorder) sampleCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

func (r *fakeRecorder) types() []models.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *fakeRecorder) countType(typ models.EventType) int {
	n := 0
	for _, t := range r.types() {
		if t == typ {
			n++
		}
	}
	return n
}

func testModem() config.ModemConfig {
	cfg := config.DefaultModemConfig()
	cfg.UUID = "m1"
	cfg.Name = "Primary"
	cfg.Password = "secret"
	return cfg
}

type harness struct {
	clock    *clock
	conn     *fakeConnector
	recorder *fakeRecorder
	manager  *ModemManager
}

func newHarness(cfg config.ModemConfig, conn *fakeConnector) *harness {
	h := &harness{clock: newClock(), conn: conn, recorder: &fakeRecorder{}}
	h.manager = NewModemManager(cfg, ManagerOptions{
		Connector: conn.connect,
		Recorder:  h.recorder,
		Now:       h.clock.now,
	})
	return h
}

func (h *harness) tick() {
	h.manager.Tick(context.Background())
}

// step advances the clock by d and runs one cycle.
func (h *harness) step(d time.Duration) {
	h.clock.advance(d)
	h.tick()
}
