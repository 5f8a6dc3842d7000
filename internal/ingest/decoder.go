package ingest

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// rawScan/rawStatus/rawEvent mirror the JSON wire shapes from spec §4.2.
// json unmarshaling accepts missing fields; each Decode method checks the
// required ones afterwards (empty string or nil pointer means missing) and
// rejects the payload the same way the original's Pydantic models reject
// missing required fields.
type rawScan struct {
	TS         *int64   `json:"ts"`
	AnchorID   string   `json:"anchor_id"`
	UID        string   `json:"uid"`
	RSSI       *float64 `json:"rssi"`
	AdvSeq     *int64   `json:"adv_seq"`
	Battery    *float64 `json:"battery"`
	TempC      *float64 `json:"temp_c"`
	TxPowerDBM *int     `json:"tx_power_dbm"`
	Emergency  *bool    `json:"emergency"`
}

type rawStatus struct {
	TS            *int64   `json:"ts"`
	AnchorID      string   `json:"anchor_id"`
	IP            *string  `json:"ip"`
	FW            *string  `json:"fw"`
	UptimeS       *int64   `json:"uptime_s"`
	WifiRSSI      *int     `json:"wifi_rssi"`
	HeapFree      *int64   `json:"heap_free"`
	HeapMin       *int64   `json:"heap_min"`
	ChipTempC     *float64 `json:"chip_temp_c"`
	TxPowerDBM    *int     `json:"tx_power_dbm"`
	BLEScanActive *bool    `json:"ble_scan_active"`
}

type rawEvent struct {
	TS       *int64  `json:"ts"`
	UID      string  `json:"uid"`
	Type     string  `json:"type"`
	Severity *int    `json:"severity"`
	Details  *string `json:"details"`
	AnchorID *string `json:"anchor_id"`
}

// ScanMessage, StatusMessage and EventMessage are the decoder's typed,
// timestamp-normalized output records (C2's product).
type ScanMessage struct {
	TS         time.Time
	AnchorID   string
	UID        string
	RSSI       float64
	AdvSeq     *int64
	Battery    *float64
	TempC      *float64
	TxPowerDBM *int
	Emergency  *bool
}

type StatusMessage struct {
	TS            time.Time
	AnchorID      string
	IP            *string
	FW            *string
	UptimeS       *int64
	WifiRSSI      *int
	HeapFree      *int64
	HeapMin       *int64
	ChipTempC     *float64
	TxPowerDBM    *int
	BLEScanActive *bool
}

type EventMessage struct {
	TS       time.Time
	UID      string
	Type     string
	Severity *int
	Details  *string
	AnchorID *string
}

// TSPolicy controls timestamp normalization (spec §4.2). The upper bound is
// always now+1y. The zero value has no lower bound (MinEpochMS 0) and
// fallback-to-now disabled, so callers set both fields explicitly.
type TSPolicy struct {
	MinEpochMS     int64
	AllowFallback  bool
}

func (p TSPolicy) normalize(ts *int64, now time.Time) (time.Time, error) {
	nowMS := now.UnixMilli()
	if ts == nil {
		if !p.AllowFallback {
			return time.Time{}, fmt.Errorf("ts missing and fallback disabled")
		}
		return now.UTC(), nil
	}
	tsMS := *ts
	maxMS := nowMS + int64(365*24*time.Hour/time.Millisecond)
	if tsMS < p.MinEpochMS || tsMS > maxMS {
		tsMS = nowMS
	}
	return time.UnixMilli(tsMS).UTC(), nil
}

// Decoder validates and normalizes wire payloads into typed records (C2).
// It never panics on a single bad message: every decode method reports
// failure via its error return so the subscriber can log-and-drop and stay
// subscribed (spec §4.2).
type Decoder struct {
	Policy TSPolicy
	Now    func() time.Time // overridable for tests
}

// NewDecoder builds a Decoder with the given policy and a real clock.
func NewDecoder(policy TSPolicy) *Decoder {
	return &Decoder{Policy: policy, Now: time.Now}
}

// DecodeScan parses a rtls/anchor/<id>/scan payload.
func (d *Decoder) DecodeScan(payload []byte) (ScanMessage, error) {
	var raw rawScan
	if err := json.Unmarshal(payload, &raw); err != nil {
		return ScanMessage{}, fmt.Errorf("invalid scan json: %w", err)
	}
	if raw.AnchorID == "" || raw.UID == "" || raw.RSSI == nil {
		return ScanMessage{}, fmt.Errorf("scan missing required field (anchor_id/uid/rssi)")
	}
	if len(raw.AnchorID) > 64 || len(raw.UID) > 64 {
		return ScanMessage{}, fmt.Errorf("anchor_id/uid exceeds 64 characters")
	}
	ts, err := d.Policy.normalize(raw.TS, d.Now())
	if err != nil {
		return ScanMessage{}, err
	}
	return ScanMessage{
		TS:         ts,
		AnchorID:   raw.AnchorID,
		UID:        raw.UID,
		RSSI:       *raw.RSSI,
		AdvSeq:     raw.AdvSeq,
		Battery:    raw.Battery,
		TempC:      raw.TempC,
		TxPowerDBM: raw.TxPowerDBM,
		Emergency:  raw.Emergency,
	}, nil
}

// DecodeStatus parses a rtls/anchor/<id>/status payload.
func (d *Decoder) DecodeStatus(payload []byte) (StatusMessage, error) {
	var raw rawStatus
	if err := json.Unmarshal(payload, &raw); err != nil {
		return StatusMessage{}, fmt.Errorf("invalid status json: %w", err)
	}
	if raw.AnchorID == "" {
		return StatusMessage{}, fmt.Errorf("status missing required field anchor_id")
	}
	ts, err := d.Policy.normalize(raw.TS, d.Now())
	if err != nil {
		return StatusMessage{}, err
	}
	return StatusMessage{
		TS:            ts,
		AnchorID:      raw.AnchorID,
		IP:            raw.IP,
		FW:            raw.FW,
		UptimeS:       raw.UptimeS,
		WifiRSSI:      raw.WifiRSSI,
		HeapFree:      raw.HeapFree,
		HeapMin:       raw.HeapMin,
		ChipTempC:     raw.ChipTempC,
		TxPowerDBM:    raw.TxPowerDBM,
		BLEScanActive: raw.BLEScanActive,
	}, nil
}

// DecodeEvent parses a rtls/events payload.
func (d *Decoder) DecodeEvent(payload []byte) (EventMessage, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return EventMessage{}, fmt.Errorf("invalid event json: %w", err)
	}
	if raw.UID == "" || raw.Type == "" {
		return EventMessage{}, fmt.Errorf("event missing required field (uid/type)")
	}
	ts, err := d.Policy.normalize(raw.TS, d.Now())
	if err != nil {
		return EventMessage{}, err
	}
	return EventMessage{
		TS:       ts,
		UID:      raw.UID,
		Type:     raw.Type,
		Severity: raw.Severity,
		Details:  raw.Details,
		AnchorID: raw.AnchorID,
	}, nil
}

// TopicKind classifies a bus topic into one of the three payload shapes,
// or reports it as unrecognized.
type TopicKind int

const (
	TopicUnknown TopicKind = iota
	TopicScan
	TopicStatus
	TopicEvent
)

// ClassifyTopic matches a concrete MQTT topic against the three topic
// families named in spec §4.2/§6.
func ClassifyTopic(topic, eventsTopic string) TopicKind {
	switch {
	case topic == eventsTopic:
		return TopicEvent
	case strings.HasPrefix(topic, "rtls/anchor/") && strings.HasSuffix(topic, "/scan"):
		return TopicScan
	case strings.HasPrefix(topic, "rtls/anchor/") && strings.HasSuffix(topic, "/status"):
		return TopicStatus
	default:
		return TopicUnknown
	}
}
