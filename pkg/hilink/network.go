package hilink

import (
	"sort"
	"strings"
)

// NetworkMode is the value of NetworkMode in /api/net/net-mode.
type NetworkMode string

const (
	NetworkModeAuto        NetworkMode = "00"
	NetworkModeGSM         NetworkMode = "01"
	NetworkModeWCDMA       NetworkMode = "02"
	NetworkModeLTE         NetworkMode = "03"
	NetworkModeWCDMAGSM    NetworkMode = "0201"
	NetworkModeLTEWCDMA    NetworkMode = "0302"
	NetworkModeLTEGSM      NetworkMode = "0301"
	NetworkModeLTEWCDMAGSM NetworkMode = "030201"
)

var networkModeNames = map[NetworkMode]string{
	NetworkModeAuto:        "AUTO",
	NetworkModeGSM:         "GSM_ONLY",
	NetworkModeWCDMA:       "WCDMA_ONLY",
	NetworkModeLTE:         "LTE_ONLY",
	NetworkModeWCDMAGSM:    "WCDMA_GSM",
	NetworkModeLTEWCDMA:    "LTE_WCDMA",
	NetworkModeLTEGSM:      "LTE_GSM",
	NetworkModeLTEWCDMAGSM: "LTE_WCDMA_GSM",
}

// configured mode names accepted in modem configuration
var networkModeByName = map[string]NetworkMode{
	"auto":         NetworkModeAuto,
	"4g_preferred": NetworkModeLTEWCDMAGSM,
	"3g_preferred": NetworkModeWCDMAGSM,
	"4g_only":      NetworkModeLTE,
	"3g_only":      NetworkModeWCDMA,
}

func (m NetworkMode) String() string {
	if name, ok := networkModeNames[m]; ok {
		return name
	}
	return string(m)
}

// Valid reports whether m is a known device code.
func (m NetworkMode) Valid() bool {
	_, ok := networkModeNames[m]
	return ok
}

// ParseNetworkMode maps a configured mode name (auto, 4g_preferred,
// 3g_preferred, 4g_only, 3g_only) to the device code.
func ParseNetworkMode(name string) (NetworkMode, error) {
	if mode, ok := networkModeByName[strings.ToLower(strings.TrimSpace(name))]; ok {
		return mode, nil
	}
	return "", &ConfigurationError{Field: "network_mode", Reason: "unsupported value " + name}
}

// NetworkModeNames lists the accepted configured mode names.
func NetworkModeNames() []string {
	names := make([]string, 0, len(networkModeByName))
	for name := range networkModeByName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Numeric CurrentNetworkType values reported by most firmware.
var networkTypeLabels = map[string]string{
	"0":   "No Service",
	"1":   "GSM",
	"2":   "GPRS (2G)",
	"3":   "EDGE (2G)",
	"4":   "WCDMA",
	"5":   "HSDPA (3G)",
	"6":   "HSUPA (3G)",
	"7":   "HSPA (3G)",
	"8":   "TD-SCDMA (3G)",
	"9":   "HSPA+ (3G)",
	"17":  "HSPA+ 64QAM (3G)",
	"18":  "HSPA+ MIMO (3G)",
	"19":  "LTE",
	"41":  "UMTS",
	"44":  "HSPA (3G)",
	"45":  "HSPA+ (3G)",
	"46":  "DC-HSPA+ (3G)",
	"101": "LTE",
	"111": "5G NSA",
}

// NetworkTypeLabel turns a numeric CurrentNetworkType into a readable label.
// Values that are already labels, or unknown codes, are returned unchanged.
func NetworkTypeLabel(raw string) string {
	raw = strings.TrimSpace(raw)
	if label, ok := networkTypeLabels[raw]; ok {
		return label
	}
	return raw
}

// order matters: the first substring match wins
var networkTypeCodes = []struct {
	match string
	code  int
}{
	{"No Service", 0},
	{"2G", 1},
	{"GSM", 1},
	{"3G", 2},
	{"WCDMA", 2},
	{"UMTS", 2},
	{"4G", 3},
	{"LTE", 3},
	{"5G", 4},
}

// NetworkTypeCode maps a network type label to the numeric code stored with
// metric samples: 0 none, 1 2G, 2 3G, 3 4G, 4 5G.
func NetworkTypeCode(label string) int {
	for _, entry := range networkTypeCodes {
		if strings.Contains(label, entry.match) {
			return entry.code
		}
	}
	return 0
}
