// Package locate implements the RSSI→distance model and the sliding-window
// position estimator (C5, C6).
package locate

import "math"

// RSSIToDistance converts an RSSI reading to an estimated distance in
// meters via the log-distance path loss model (spec §4.5):
//
//	d = 10 ^ ((txPowerAt1m - rssi) / (10 * pathLossExponent))
//
// No clamping is applied at this layer.
func RSSIToDistance(rssi, txPowerAt1m, pathLossExponent float64) float64 {
	return math.Pow(10, (txPowerAt1m-rssi)/(10.0*pathLossExponent))
}
