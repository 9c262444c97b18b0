package hilink

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned by every device operation attempted on a
// session that has not completed login.
var ErrNotAuthenticated = errors.New("hilink: session not authenticated")

// ErrorKind is the symbolic meaning of a device error code.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNoSupport
	KindNoRights
	KindBusy
	KindUsernameWrong
	KindPasswordWrong
	KindAlreadyLoggedIn
	KindUsernameOrPasswordWrong
	KindTooManyAttempts
	KindWrongToken
	KindWrongSession
	KindWrongSessionToken
)

var errorCodes = map[int]ErrorKind{
	100002: KindNoSupport,
	100003: KindNoRights,
	100004: KindBusy,
	108001: KindUsernameWrong,
	108002: KindPasswordWrong,
	108003: KindAlreadyLoggedIn,
	108006: KindUsernameOrPasswordWrong,
	108007: KindTooManyAttempts,
	125001: KindWrongToken,
	125002: KindWrongSession,
	125003: KindWrongSessionToken,
}

var kindNames = map[ErrorKind]string{
	KindUnknown:                 "ERROR_UNKNOWN",
	KindNoSupport:               "ERROR_SYSTEM_NO_SUPPORT",
	KindNoRights:                "ERROR_SYSTEM_NO_RIGHTS",
	KindBusy:                    "ERROR_BUSY",
	KindUsernameWrong:           "ERROR_LOGIN_USERNAME_WRONG",
	KindPasswordWrong:           "ERROR_LOGIN_PASSWORD_WRONG",
	KindAlreadyLoggedIn:         "ERROR_LOGIN_ALREADY_LOGIN",
	KindUsernameOrPasswordWrong: "ERROR_LOGIN_USERNAME_OR_PASSWORD_ERROR",
	KindTooManyAttempts:         "ERROR_LOGIN_TOO_MANY_TIMES",
	KindWrongToken:              "ERROR_WRONG_TOKEN",
	KindWrongSession:            "ERROR_WRONG_SESSION",
	KindWrongSessionToken:       "ERROR_WRONG_SESSION_TOKEN",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// KindForCode maps a raw device error code to its kind. Unknown codes map to KindUnknown.
func KindForCode(code int) ErrorKind {
	if kind, ok := errorCodes[code]; ok {
		return kind
	}
	return KindUnknown
}

// DeviceError is a decoded <error> envelope.
type DeviceError struct {
	Op   string
	Code int
	Kind ErrorKind
}

func (e *DeviceError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("device error %s (code: %d)", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: device error %s (code: %d)", e.Op, e.Kind, e.Code)
}

// SessionExpired reports whether the error means the session or token is no
// longer accepted and a fresh login is needed.
func (e *DeviceError) SessionExpired() bool {
	switch e.Kind {
	case KindWrongToken, KindWrongSession, KindWrongSessionToken, KindNoRights:
		return true
	}
	return false
}

// BadCredentials reports whether the device rejected the configured username or password.
func (e *DeviceError) BadCredentials() bool {
	switch e.Kind {
	case KindUsernameWrong, KindPasswordWrong, KindUsernameOrPasswordWrong:
		return true
	}
	return false
}

// TransportError wraps connection refused, timeouts and non-2xx HTTP replies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("%s: transport: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError reports a response the client cannot interpret.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("%s: protocol: %v", e.Op, e.Err) }
func (e *ProtocolError) Unwrap() error { return e.Err }

// ConfigurationError is never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Reason)
}

// AuthError means the device answered the login exchange without accepting it.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return "authentication failed: " + e.Reason }

// IsSessionFatal reports whether err leaves the session unusable, so the
// owner must tear it down and negotiate a new one.
func IsSessionFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotAuthenticated) {
		return true
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return true
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return de.SessionExpired()
	}
	return false
}

// IsBadCredentials reports whether err is a credential rejection by the device.
func IsBadCredentials(err error) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.BadCredentials()
}

// IsConfiguration reports whether err is a *ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsTransport reports whether err is a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
