// Package hilink is a client for the HTTP/XML web API of Huawei HiLink
// USB modems and mobile routers.
package hilink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every request to the device.
const DefaultTimeout = 10 * time.Second

// Options configure a Client.
type Options struct {
	// Host is an address such as 192.168.8.1 or a full http:// base URL.
	Host     string
	Username string
	Password string
	Timeout  time.Duration

	// HTTPClient overrides the default client built from Timeout.
	HTTPClient *http.Client
	Logger     *zerolog.Logger

	// Nonce overrides the client nonce generator of the challenge login.
	Nonce func() string
}

// Client is an authenticated connection to one HiLink device. Connect and
// Close replace the session, so a Client must not be shared between
// goroutines without external locking.
type Client struct {
	baseURL string
	creds   Credentials
	http    *http.Client
	logger  zerolog.Logger
	nonce   func() string
	session *Session
}

// NewClient builds a client without touching the network.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	nonce := opts.Nonce
	if nonce == nil {
		nonce = newClientNonce
	}

	return &Client{
		baseURL: baseURL(opts.Host),
		creds:   Credentials{Username: opts.Username, Password: opts.Password},
		http:    httpClient,
		logger:  logger.With().Str("host", opts.Host).Logger(),
		nonce:   nonce,
	}
}

// Dial creates a client and connects it.
func Dial(ctx context.Context, opts Options) (*Client, error) {
	c := NewClient(opts)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func baseURL(host string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return host
	}
	return "http://" + host
}

// Connect discards the current session, negotiates a new one and logs in
// when the device requires it.
func (c *Client) Connect(ctx context.Context) error {
	c.Close()

	s := newSession(c.baseURL, c.creds, c.http, c.logger, c.nonce)
	if err := s.negotiate(ctx); err != nil {
		return fmt.Errorf("negotiate session: %w", err)
	}
	if err := s.detectLoginRequired(ctx); err != nil {
		return fmt.Errorf("detect login mode: %w", err)
	}

	if !s.LoginRequired() {
		s.setState(StateAuthenticated)
	} else if err := s.login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	c.session = s
	c.logger.Info().
		Str("generation", s.Generation().String()).
		Bool("login_required", s.LoginRequired()).
		Msg("connected to modem")
	return nil
}

// Login authenticates the current session. Calling it on an authenticated
// session performs no requests.
func (c *Client) Login(ctx context.Context) error {
	if c.session == nil {
		return ErrNotAuthenticated
	}
	return c.session.login(ctx)
}

// Close drops the session. The client can be reconnected with Connect.
func (c *Client) Close() {
	c.session = nil
}

// Session returns the active session, or nil.
func (c *Client) Session() *Session {
	return c.session
}

// Generation returns the firmware generation of the active session.
func (c *Client) Generation() Generation {
	if c.session == nil {
		return GenerationUnknown
	}
	return c.session.Generation()
}

// State returns the authentication state of the active session.
func (c *Client) State() AuthState {
	if c.session == nil {
		return StateUnauthenticated
	}
	return c.session.State()
}

func (c *Client) authenticated() (*Session, error) {
	s := c.session
	if s == nil || s.State() != StateAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return s, nil
}

// Status merges device information, monitoring status and the current PLMN.
func (c *Client) Status(ctx context.Context) (*ModemStatus, error) {
	s, err := c.authenticated()
	if err != nil {
		return nil, err
	}

	info, err := s.call(ctx, http.MethodGet, pathDeviceInformation, nil)
	if err != nil {
		return nil, err
	}
	mon, err := s.call(ctx, http.MethodGet, pathMonitoringStatus, nil)
	if err != nil {
		return nil, err
	}
	plmn, err := s.call(ctx, http.MethodGet, pathCurrentPLMN, nil)
	if err != nil {
		return nil, err
	}

	code, _ := leadingInt(mon.Get("ConnectionStatus", "0"))
	state := ConnectionStateFromCode(int(code))

	return &ModemStatus{
		Connected:        state == ConnectionConnected,
		ConnectionState:  state,
		NetworkType:      NetworkTypeLabel(mon.Get("CurrentNetworkType", "Unknown")),
		Operator:         plmn.Get("FullName", "Unknown"),
		WanIP:            mon.Get("WanIPAddress", ""),
		SimStatus:        mon.Get("SimStatus", "Unknown"),
		DeviceName:       info.Get("DeviceName", "Unknown"),
		IMEI:             info.Get("Imei", ""),
		ICCID:            info.Get("Iccid", ""),
		ConnectedSeconds: intField(mon, "CurrentConnectTime"),
		Roaming:          mon.Get("RoamingStatus", "0") == "1",
	}, nil
}

// Signal reads radio measurements.
func (c *Client) Signal(ctx context.Context) (*SignalInfo, error) {
	s, err := c.authenticated()
	if err != nil {
		return nil, err
	}

	resp, err := s.call(ctx, http.MethodGet, pathSignal, nil)
	if err != nil {
		return nil, err
	}

	raw, _ := leadingInt(resp.Get("rssi", "0"))
	dbm := RSSIToDBm(int(raw))
	bars, quality := QualityFromDBm(dbm)

	return &SignalInfo{
		RSSI:      dbm,
		RSRP:      optionalInt(resp, "rsrp"),
		RSRQ:      optionalInt(resp, "rsrq"),
		SINR:      optionalInt(resp, "sinr"),
		Bars:      bars,
		Quality:   quality,
		CellID:    optionalInt64(resp, "cell_id"),
		Band:      resp.Get("band", ""),
		Frequency: optionalInt(resp, "arfcn"),
	}, nil
}

// Usage merges session, lifetime and monthly traffic counters. The monthly
// total is computed locally.
func (c *Client) Usage(ctx context.Context) (*DataUsage, error) {
	s, err := c.authenticated()
	if err != nil {
		return nil, err
	}

	traffic, err := s.call(ctx, http.MethodGet, pathTraffic, nil)
	if err != nil {
		return nil, err
	}
	month, err := s.call(ctx, http.MethodGet, pathMonthStatistics, nil)
	if err != nil {
		return nil, err
	}

	monthUp := intField(month, "CurrentMonthUpload")
	monthDown := intField(month, "CurrentMonthDownload")

	return &DataUsage{
		SessionUpload:   intField(traffic, "CurrentUpload"),
		SessionDownload: intField(traffic, "CurrentDownload"),
		SessionDuration: intField(traffic, "CurrentConnectTime"),
		TotalUpload:     intField(traffic, "TotalUpload"),
		TotalDownload:   intField(traffic, "TotalDownload"),
		TotalDuration:   intField(traffic, "TotalConnectTime"),
		MonthUpload:     monthUp,
		MonthDownload:   monthDown,
		MonthTotal:      monthUp + monthDown,
	}, nil
}

// SetNetworkMode changes the preferred radio technology, resubmitting the
// current band settings unchanged.
func (c *Client) SetNetworkMode(ctx context.Context, mode NetworkMode) error {
	if !mode.Valid() {
		return &ConfigurationError{Field: "network_mode", Reason: "unsupported value " + string(mode)}
	}
	s, err := c.authenticated()
	if err != nil {
		return err
	}

	current, err := s.call(ctx, http.MethodGet, pathNetMode, nil)
	if err != nil {
		return err
	}
	body := EncodeRequest(
		Field{Name: "NetworkMode", Value: string(mode)},
		Field{Name: "NetworkBand", Value: current.Get("NetworkBand", "3FFFFFFF")},
		Field{Name: "LTEBand", Value: current.Get("LTEBand", "7FFFFFFFFFFFFFFF")},
	)
	if err := c.write(ctx, s, pathNetMode, body); err != nil {
		return err
	}

	c.logger.Info().Str("mode", mode.String()).Msg("network mode set")
	return nil
}

// SetRoaming toggles roaming auto-connect, resubmitting the other dial-up
// settings unchanged.
func (c *Client) SetRoaming(ctx context.Context, enabled bool) error {
	s, err := c.authenticated()
	if err != nil {
		return err
	}

	current, err := s.call(ctx, http.MethodGet, pathDialupConnection, nil)
	if err != nil {
		return err
	}
	body := EncodeRequest(
		Field{Name: "RoamAutoConnectEnable", Value: flag(enabled)},
		Field{Name: "MaxIdelTime", Value: current.Get("MaxIdelTime", "0")},
		Field{Name: "ConnectMode", Value: current.Get("ConnectMode", "0")},
		Field{Name: "MTU", Value: current.Get("MTU", "1500")},
		Field{Name: "auto_dial_switch", Value: current.Get("auto_dial_switch", "1")},
		Field{Name: "pdp_always_on", Value: current.Get("pdp_always_on", "0")},
	)
	if err := c.write(ctx, s, pathDialupConnection, body); err != nil {
		return err
	}

	c.logger.Info().Bool("enabled", enabled).Msg("roaming set")
	return nil
}

// ConnectData switches mobile data on.
func (c *Client) ConnectData(ctx context.Context) error {
	return c.dataSwitch(ctx, true)
}

// DisconnectData switches mobile data off.
func (c *Client) DisconnectData(ctx context.Context) error {
	return c.dataSwitch(ctx, false)
}

func (c *Client) dataSwitch(ctx context.Context, on bool) error {
	s, err := c.authenticated()
	if err != nil {
		return err
	}
	body := EncodeRequest(Field{Name: "dataswitch", Value: flag(on)})
	if err := c.write(ctx, s, pathDataSwitch, body); err != nil {
		return err
	}
	c.logger.Info().Bool("on", on).Msg("data switch set")
	return nil
}

// Reboot sends the restart command. The device drops the connection while
// restarting, so transport and protocol errors are expected and ignored;
// an error envelope from the device is still returned.
func (c *Client) Reboot(ctx context.Context) error {
	s, err := c.authenticated()
	if err != nil {
		return err
	}

	_, err = s.call(ctx, http.MethodPost, pathDeviceControl, EncodeRequest(Field{Name: "Control", Value: "1"}))
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	if err != nil {
		c.logger.Debug().Err(err).Msg("connection dropped during reboot")
	}

	c.logger.Info().Msg("reboot initiated")
	return nil
}

func (c *Client) write(ctx context.Context, s *Session, path string, body []byte) error {
	resp, err := s.call(ctx, http.MethodPost, path, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		c.logger.Debug().Str("path", path).Str("value", resp.Value).Msg("write acknowledged without OK marker")
	}
	return nil
}

func flag(on bool) string {
	if on {
		return "1"
	}
	return "0"
}
