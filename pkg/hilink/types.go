package hilink

import (
	"strconv"
	"strings"
)

// ConnectionState is the dial-up state reported by /api/monitoring/status.
type ConnectionState int

const (
	ConnectionUnknown ConnectionState = iota
	ConnectionDisconnected
	ConnectionConnecting
	ConnectionConnected
	ConnectionDisconnecting
)

// ConnectionStateFromCode maps ConnectionStatus codes 900-903.
func ConnectionStateFromCode(code int) ConnectionState {
	switch code {
	case 901:
		return ConnectionConnected
	case 900:
		return ConnectionConnecting
	case 902:
		return ConnectionDisconnected
	case 903:
		return ConnectionDisconnecting
	}
	return ConnectionUnknown
}

func (s ConnectionState) String() string {
	switch s {
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionConnecting:
		return "connecting"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// MarshalText implements encoding.TextMarshaler
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ModemStatus is a snapshot of device, dial-up and network information.
type ModemStatus struct {
	Connected        bool            `json:"connected"`
	ConnectionState  ConnectionState `json:"connection_state"`
	NetworkType      string          `json:"network_type"`
	Operator         string          `json:"operator"`
	WanIP            string          `json:"wan_ip,omitempty"`
	SimStatus        string          `json:"sim_status"`
	DeviceName       string          `json:"device_name"`
	IMEI             string          `json:"imei"`
	ICCID            string          `json:"iccid"`
	ConnectedSeconds int64           `json:"connected_seconds"`
	Roaming          bool            `json:"roaming"`
}

// SignalInfo holds radio measurements. RSSI is always in dBm.
// LTE-only values are nil on other radio technologies.
type SignalInfo struct {
	RSSI      int    `json:"rssi"`
	RSRP      *int   `json:"rsrp,omitempty"`
	RSRQ      *int   `json:"rsrq,omitempty"`
	SINR      *int   `json:"sinr,omitempty"`
	Bars      int    `json:"bars"`
	Quality   string `json:"quality"`
	CellID    *int64 `json:"cell_id,omitempty"`
	Band      string `json:"band,omitempty"`
	Frequency *int   `json:"frequency,omitempty"`
}

// DataUsage holds traffic counters in bytes and durations in seconds.
type DataUsage struct {
	SessionUpload   int64 `json:"session_upload"`
	SessionDownload int64 `json:"session_download"`
	SessionDuration int64 `json:"session_duration"`
	TotalUpload     int64 `json:"total_upload"`
	TotalDownload   int64 `json:"total_download"`
	TotalDuration   int64 `json:"total_duration"`
	MonthUpload     int64 `json:"month_upload"`
	MonthDownload   int64 `json:"month_download"`
	MonthTotal      int64 `json:"month_total"`
}

// leadingInt parses the leading signed integer of s so that values such as
// "-65dBm", "-10.5dB" or ">=-51dBm" are accepted.
func leadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(strings.TrimSpace(s), "<>=")
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0, false
	}
	v, err := strconv.ParseInt(s[:end], 10, 64)
	return v, err == nil
}

func intField(r *Response, name string) int64 {
	v, _ := leadingInt(r.Get(name, "0"))
	return v
}

func optionalInt(r *Response, name string) *int {
	raw, ok := r.Fields[name]
	if !ok {
		return nil
	}
	v, ok := leadingInt(raw)
	if !ok {
		return nil
	}
	n := int(v)
	return &n
}

func optionalInt64(r *Response, name string) *int64 {
	raw, ok := r.Fields[name]
	if !ok {
		return nil
	}
	v, ok := leadingInt(raw)
	if !ok {
		return nil
	}
	return &v
}
