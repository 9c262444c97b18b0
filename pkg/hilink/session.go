package hilink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Generation is the web UI dialect of the device firmware.
type Generation int

const (
	GenerationUnknown Generation = 0
	Gen10             Generation = 10
	Gen17             Generation = 17
	Gen21             Generation = 21
)

func (g Generation) String() string {
	if g == GenerationUnknown {
		return "unknown"
	}
	return fmt.Sprintf("webui-%d", int(g))
}

const (
	tokenHeader   = "__RequestVerificationToken"
	sessionCookie = "SessionID"
	maxBodySize   = 1 << 20
)

const (
	pathRoot              = "/"
	pathToken             = "/api/webserver/token"
	pathHomePage          = "/html/home.html"
	pathBasicInformation  = "/api/device/basic_information"
	pathHiLinkLogin       = "/api/user/hilink_login"
	pathStateLogin        = "/api/user/state-login"
	pathLogin             = "/api/user/login"
	pathChallengeLogin    = "/api/user/challenge_login"
	pathAuthLogin         = "/api/user/authentication_login"
	pathDeviceInformation = "/api/device/information"
	pathMonitoringStatus  = "/api/monitoring/status"
	pathCurrentPLMN       = "/api/net/current-plmn"
	pathSignal            = "/api/device/signal"
	pathTraffic           = "/api/monitoring/traffic-statistics"
	pathMonthStatistics   = "/api/monitoring/month_statistics"
	pathNetMode           = "/api/net/net-mode"
	pathDialupConnection  = "/api/dialup/connection"
	pathDataSwitch        = "/api/dialup/mobile-dataswitch"
	pathDeviceControl     = "/api/device/control"
)

// Credentials for the device web UI.
type Credentials struct {
	Username string
	Password string
}

// Session is the cookie and rotating verification token shared with one
// device. Requests on a session are serialized: each one reads the latest
// token and applies the token and cookie from its response before the next
// request is sent.
type Session struct {
	mu      sync.Mutex
	baseURL string
	creds   Credentials
	client  *http.Client
	logger  zerolog.Logger
	nonce   func() string

	sessionID     string
	token         string
	generation    Generation
	loginRequired bool
	state         AuthState
}

func newSession(baseURL string, creds Credentials, client *http.Client, logger zerolog.Logger, nonce func() string) *Session {
	return &Session{
		baseURL: baseURL,
		creds:   creds,
		client:  client,
		logger:  logger,
		nonce:   nonce,
		state:   StateUnauthenticated,
	}
}

// Token returns the current verification token.
func (s *Session) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// SessionID returns the current session cookie value.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Generation returns the detected firmware generation.
func (s *Session) Generation() Generation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// LoginRequired reports whether the device demands a login.
func (s *Session) LoginRequired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginRequired
}

// State returns the authentication state.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state AuthState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) setToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Session) setGeneration(g Generation) {
	s.mu.Lock()
	s.generation = g
	s.mu.Unlock()
}

func (s *Session) setLoginRequired(required bool) {
	s.mu.Lock()
	s.loginRequired = required
	s.mu.Unlock()
}

// do performs one round trip and returns the raw body.
func (s *Session) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, &TransportError{Op: path, Err: err}
	}

	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	}
	if s.token != "" {
		// sent verbatim, some firmware compares the header name case-sensitively
		req.Header[tokenHeader] = []string{s.token}
	}
	if s.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookie, Value: s.sessionID})
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &TransportError{Op: path, Err: err}
	}
	defer resp.Body.Close()

	s.absorb(resp)

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: path, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: path, Err: &statusError{code: resp.StatusCode, status: resp.Status}}
	}

	s.logger.Trace().
		Str("method", method).
		Str("path", path).
		Int("size", len(data)).
		Msg("hilink request")

	return data, nil
}

// statusError is a completed round trip answered with a non-2xx status.
type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return "unexpected status " + e.status }

func isHTTPStatus(err error) bool {
	var se *statusError
	return errors.As(err, &se)
}

// absorb applies session state carried by a response. Caller holds s.mu.
func (s *Session) absorb(resp *http.Response) {
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie && c.Value != "" {
			s.sessionID = c.Value
		}
	}
	if token := resp.Header.Get(tokenHeader); token != "" {
		if i := strings.IndexByte(token, '#'); i >= 0 {
			token = token[:i]
		}
		s.token = token
	}
}

// call performs a request and decodes the XML reply.
func (s *Session) call(ctx context.Context, method, path string, body []byte) (*Response, error) {
	data, err := s.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	resp, err := DecodeResponse(data)
	if err != nil {
		return nil, withOp(err, path)
	}
	return resp, nil
}

func withOp(err error, op string) error {
	switch e := err.(type) {
	case *DeviceError:
		e.Op = op
	case *ProtocolError:
		e.Op = op
	}
	return err
}
