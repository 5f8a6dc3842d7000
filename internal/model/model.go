// Package model holds the shared RTLS data types: anchors, wearables, the
// observations anchors report about wearables, and the positions the
// locator derives from them.
package model

import "time"

// Method identifies which rule produced a Position.
type Method string

const (
	MethodSingleAnchor    Method = "single_anchor"
	MethodProximity       Method = "proximity"
	MethodFallbackNearest Method = "fallback_nearest"
)

// EventKind enumerates the RTLS event types carried on rtls/events.
type EventKind string

const (
	EventEmergency     EventKind = "emergency"
	EventGeofenceEnter EventKind = "geofence_enter"
	EventGeofenceExit  EventKind = "geofence_exit"
	EventBatteryLow    EventKind = "battery_low"
)

// Anchor is a fixed receiver at a known planar (and nominal z) position.
type Anchor struct {
	ID        string    `db:"id" json:"id"`
	Name      *string   `db:"name" json:"name,omitempty"`
	X         float64   `db:"x" json:"x"`
	Y         float64   `db:"y" json:"y"`
	Z         float64   `db:"z" json:"z"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Wearable is a mobile beacon identified by uid.
type Wearable struct {
	UID       string    `db:"uid" json:"uid"`
	PersonRef *string   `db:"person_ref" json:"person_ref,omitempty"`
	Role      *string   `db:"role" json:"role,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Scan is one RSSI observation of a wearable by an anchor.
type Scan struct {
	TS          time.Time `db:"ts" json:"ts"`
	AnchorID    string    `db:"anchor_id" json:"anchor_id"`
	UID         string    `db:"uid" json:"uid"`
	RSSI        float64   `db:"rssi" json:"rssi"`
	Battery     *float64  `db:"battery" json:"battery,omitempty"`
	TempC       *float64  `db:"temp_c" json:"temp_c,omitempty"`
	TxPowerDBM  *int      `db:"tx_power_dbm" json:"tx_power_dbm,omitempty"`
	AdvSeq      *int64    `db:"adv_seq" json:"adv_seq,omitempty"`
	Emergency   *bool     `db:"emergency" json:"emergency,omitempty"`
}

// AnchorStatus is a heartbeat reported by an anchor.
type AnchorStatus struct {
	TS            time.Time `db:"ts" json:"ts"`
	AnchorID      string    `db:"anchor_id" json:"anchor_id"`
	IP            *string   `db:"ip" json:"ip,omitempty"`
	FW            *string   `db:"fw" json:"fw,omitempty"`
	UptimeS       *int64    `db:"uptime_s" json:"uptime_s,omitempty"`
	WifiRSSI      *int      `db:"wifi_rssi" json:"wifi_rssi,omitempty"`
	HeapFree      *int64    `db:"heap_free" json:"heap_free,omitempty"`
	HeapMin       *int64    `db:"heap_min" json:"heap_min,omitempty"`
	ChipTempC     *float64  `db:"chip_temp_c" json:"chip_temp_c,omitempty"`
	TxPowerDBM    *int      `db:"tx_power_dbm" json:"tx_power_dbm,omitempty"`
	BLEScanActive *bool     `db:"ble_scan_active" json:"ble_scan_active,omitempty"`
}

// Event is a discrete, notable occurrence tied to a wearable.
type Event struct {
	TS       time.Time `db:"ts" json:"ts"`
	UID      string    `db:"uid" json:"uid"`
	Type     EventKind `db:"type" json:"type"`
	Severity *int      `db:"severity" json:"severity,omitempty"`
	Details  *string   `db:"details" json:"details,omitempty"`
	AnchorID *string   `db:"anchor_id" json:"anchor_id,omitempty"`
}

// Position is one position estimate emitted by the locator.
type Position struct {
	ID              int64             `db:"id" json:"id"`
	TS              time.Time         `db:"ts" json:"ts"`
	UID             string            `db:"uid" json:"uid"`
	X               float64           `db:"x" json:"x"`
	Y               float64           `db:"y" json:"y"`
	Z               float64           `db:"z" json:"z"`
	Method          Method            `db:"method" json:"method"`
	QScore          float64           `db:"q_score" json:"q_score"`
	Zone            *string           `db:"zone" json:"zone,omitempty"`
	NearestAnchorID string            `db:"nearest_anchor_id" json:"nearest_anchor_id"`
	DistM           float64           `db:"dist_m" json:"dist_m"`
	NumAnchors      int               `db:"num_anchors" json:"num_anchors"`
	Dists           map[string]float64 `db:"-" json:"dists"`
}
