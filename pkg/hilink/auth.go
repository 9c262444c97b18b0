package hilink

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/hilinkd/hilinkd/pkg/crypto"
)

// AuthState is the login state of a session.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateChallenged
	StateAuthenticated
	StateFailed
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	}
	return "AuthState(" + strconv.Itoa(int(s)) + ")"
}

const defaultPasswordType = "4"

// login authenticates the session. It is a no-op once authenticated.
func (s *Session) login(ctx context.Context) error {
	if s.State() == StateAuthenticated {
		return nil
	}
	if s.creds.Username == "" || s.creds.Password == "" {
		s.setState(StateFailed)
		return &ConfigurationError{Field: "credentials", Reason: "username and password required for login"}
	}

	resp, err := s.call(ctx, http.MethodGet, pathStateLogin, nil)
	if err != nil {
		return s.fail(err)
	}
	if state, ok := leadingInt(resp.Get("State", "-1")); ok && state == 0 {
		s.setState(StateAuthenticated)
		return nil
	}
	passwordType := resp.Get("password_type", "")
	if passwordType == "" {
		passwordType = defaultPasswordType
	}

	switch s.Generation() {
	case Gen17, Gen21:
		err = s.loginHashed(ctx, passwordType)
	default:
		err = s.loginChallenge(ctx)
	}
	if err != nil {
		return s.fail(err)
	}

	s.setState(StateAuthenticated)
	s.logger.Info().Str("generation", s.Generation().String()).Msg("logged in to modem")
	return nil
}

// fail records a failed login. Transport errors leave the state untouched so
// that they stay distinguishable from rejected credentials.
func (s *Session) fail(err error) error {
	if !IsTransport(err) {
		s.setState(StateFailed)
	}
	return err
}

// loginHashed is the single-shot login of web UI 17 and 21.
func (s *Session) loginHashed(ctx context.Context, passwordType string) error {
	password := crypto.HiLinkPasswordHash(s.creds.Username, s.creds.Password, s.Token())
	body := EncodeRequest(
		Field{Name: "Username", Value: s.creds.Username},
		Field{Name: "Password", Value: password},
		Field{Name: "password_type", Value: passwordType},
	)

	resp, err := s.call(ctx, http.MethodPost, pathLogin, body)
	if err != nil {
		return err
	}
	if !resp.OK() {
		return &AuthError{Reason: fmt.Sprintf("unexpected login response %q", resp.Value)}
	}
	return nil
}

// loginChallenge is the salted challenge login of web UI 10.
func (s *Session) loginChallenge(ctx context.Context) error {
	// tokens are single use on this generation
	resp, err := s.call(ctx, http.MethodGet, pathToken, nil)
	if err != nil {
		return err
	}
	if token := resp.Get("token", ""); token != "" {
		s.setToken(lastChars(token, tokenLength))
	}

	clientNonce := s.nonce()
	body := EncodeRequest(
		Field{Name: "username", Value: s.creds.Username},
		Field{Name: "firstnonce", Value: clientNonce},
		Field{Name: "mode", Value: "1"},
	)
	resp, err = s.call(ctx, http.MethodPost, pathChallengeLogin, body)
	if err != nil {
		return err
	}
	s.setState(StateChallenged)

	salt, err := hex.DecodeString(resp.Get("salt", ""))
	if err != nil {
		return &ProtocolError{Op: pathChallengeLogin, Err: fmt.Errorf("decode salt: %w", err)}
	}
	serverNonce := resp.Get("servernonce", "")
	if serverNonce == "" {
		return &ProtocolError{Op: pathChallengeLogin, Err: errors.New("missing servernonce")}
	}
	iterations, err := strconv.Atoi(resp.Get("iterations", ""))
	if err != nil || iterations <= 0 {
		return &ProtocolError{Op: pathChallengeLogin, Err: fmt.Errorf("invalid iterations %q", resp.Get("iterations", ""))}
	}

	proof := crypto.ScramClientProof(s.creds.Password, salt, iterations, clientNonce, serverNonce)
	body = EncodeRequest(
		Field{Name: "clientproof", Value: hex.EncodeToString(proof)},
		Field{Name: "finalnonce", Value: serverNonce},
	)
	_, err = s.call(ctx, http.MethodPost, pathAuthLogin, body)
	return err
}

// newClientNonce returns two random 128-bit values as 64 hex characters.
func newClientNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "") + strings.ReplaceAll(uuid.NewString(), "-", "")
}
