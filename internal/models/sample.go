package models

// Connection state codes stored with samples.
const (
	SampleDisconnected = 0
	SampleConnected    = 1
)

// MetricSample is one collection result of a modem. Timestamp is in epoch
// seconds; RxBytes and TxBytes are the lifetime counters of the device.
type MetricSample struct {
	ModemUUID       string  `json:"modemUuid" db:"modem_uuid"`
	Timestamp       int64   `json:"timestamp" db:"ts"`
	SignalStrength  int     `json:"signalStrength" db:"signal_strength"`
	SignalQuality   float64 `json:"signalQuality" db:"signal_quality"`
	RxBytes         int64   `json:"rxBytes" db:"rx_bytes"`
	TxBytes         int64   `json:"txBytes" db:"tx_bytes"`
	ConnectionState int     `json:"connectionState" db:"connection_state"`
	NetworkType     int     `json:"networkType" db:"network_type"`
}

// MetricSummary aggregates one numeric series.
type MetricSummary struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Avg  float64 `json:"avg"`
	Last float64 `json:"last"`
}

// SampleStatistics summarizes the samples of one modem over a period.
type SampleStatistics struct {
	ModemUUID      string        `json:"modemUuid"`
	Period         string        `json:"period"`
	Start          int64         `json:"start"`
	End            int64         `json:"end"`
	Samples        int           `json:"samples"`
	SignalStrength MetricSummary `json:"signalStrength"`
	SignalQuality  MetricSummary `json:"signalQuality"`
	UptimePercent  float64       `json:"uptimePercent"`
	TotalRxBytes   int64         `json:"totalRxBytes"`
	TotalTxBytes   int64         `json:"totalTxBytes"`
}
