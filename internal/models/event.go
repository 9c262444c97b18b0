package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventLog represents an event log entry
type EventLog struct {
	ID        uuid.UUID `json:"id" db:"id"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`

	ModemUUID string `json:"modemUuid" db:"modem_uuid"`
	ModemName string `json:"modemName,omitempty" db:"modem_name"`

	Type        EventType  `json:"type" db:"type"`
	Level       EventLevel `json:"level" db:"level"`
	Code        string     `json:"code,omitempty" db:"code"`
	Description string     `json:"description" db:"description"`

	Details Details `json:"details,omitempty" db:"details"`
}

// EventType represents event types
type EventType string

const (
	// Connection lifecycle
	EventTypeConnected       EventType = "CONNECTED"
	EventTypeDisconnected    EventType = "DISCONNECTED"
	EventTypeReconnectFailed EventType = "RECONNECT_FAILED"
	EventTypeReconnectHalted EventType = "RECONNECT_HALTED"

	// Policy
	EventTypeLowSignal   EventType = "LOW_SIGNAL"
	EventTypeDataLimit   EventType = "DATA_LIMIT"
	EventTypeAutoConnect EventType = "AUTO_CONNECT"

	// Operator
	EventTypeSettingsApplied EventType = "SETTINGS_APPLIED"
	EventTypeCommand         EventType = "COMMAND"
)

// EventLevel represents event severity levels
type EventLevel string

const (
	EventLevelDebug   EventLevel = "DEBUG"
	EventLevelInfo    EventLevel = "INFO"
	EventLevelWarning EventLevel = "WARNING"
	EventLevelError   EventLevel = "ERROR"
)

// Details is the free-form payload of an event, stored as JSONB.
type Details map[string]interface{}

// Value implements driver.Valuer
func (d Details) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *Details) Scan(value interface{}) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("scan details: unsupported type %T", value)
	}
	return json.Unmarshal(raw, d)
}
