package ingest

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedPolicy() TSPolicy {
	return TSPolicy{MinEpochMS: 1514764800000, AllowFallback: true}
}

func newFixedClockDecoder(now time.Time) *Decoder {
	d := NewDecoder(fixedPolicy())
	d.Now = func() time.Time { return now }
	return d
}

func TestDecodeScan_Valid(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := newFixedClockDecoder(now)
	payload := []byte(fmt.Sprintf(`{"ts":%d,"anchor_id":"A1","uid":"U1","rssi":-55.5}`, now.UnixMilli()))

	m, err := d.DecodeScan(payload)
	require.NoError(t, err)
	assert.Equal(t, "A1", m.AnchorID)
	assert.Equal(t, "U1", m.UID)
	assert.Equal(t, -55.5, m.RSSI)
	assert.True(t, m.TS.Equal(now))
}

func TestDecodeScan_MissingRequiredField(t *testing.T) {
	d := newFixedClockDecoder(time.Now())
	_, err := d.DecodeScan([]byte(`{"anchor_id":"A1","rssi":-55}`))
	assert.Error(t, err)
}

func TestDecodeScan_IDTooLong(t *testing.T) {
	d := newFixedClockDecoder(time.Now())
	longID := make([]byte, 65)
	for i := range longID {
		longID[i] = 'x'
	}
	payload := []byte(`{"anchor_id":"` + string(longID) + `","uid":"U1","rssi":-55}`)
	_, err := d.DecodeScan(payload)
	assert.Error(t, err)
}

// TestDecodeScan_FallbackTimestamp matches spec scenario 5: ts=0 falls back
// to the decoder's now, within tolerance.
func TestDecodeScan_FallbackTimestamp(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := newFixedClockDecoder(now)
	m, err := d.DecodeScan([]byte(`{"ts":0,"anchor_id":"A1","uid":"U1","rssi":-55}`))
	require.NoError(t, err)
	assert.WithinDuration(t, now, m.TS, time.Second)
}

func TestDecodeScan_MissingTimestampFallsBackWhenAllowed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := newFixedClockDecoder(now)
	m, err := d.DecodeScan([]byte(`{"anchor_id":"A1","uid":"U1","rssi":-55}`))
	require.NoError(t, err)
	assert.True(t, m.TS.Equal(now))
}

func TestDecodeScan_MissingTimestampFailsWhenFallbackDisabled(t *testing.T) {
	d := NewDecoder(TSPolicy{MinEpochMS: 1514764800000, AllowFallback: false})
	d.Now = func() time.Time { return time.Now() }
	_, err := d.DecodeScan([]byte(`{"anchor_id":"A1","uid":"U1","rssi":-55}`))
	assert.Error(t, err)
}

func TestDecodeScan_FutureTimestampBeyondOneYearFallsBack(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := newFixedClockDecoder(now)
	farFuture := now.Add(2 * 365 * 24 * time.Hour).UnixMilli()
	m, err := d.DecodeScan([]byte(fmt.Sprintf(`{"ts":%d,"anchor_id":"A1","uid":"U1","rssi":-55}`, farFuture)))
	require.NoError(t, err)
	assert.WithinDuration(t, now, m.TS, time.Second)
}

func TestDecodeStatus_RequiresAnchorID(t *testing.T) {
	d := newFixedClockDecoder(time.Now())
	_, err := d.DecodeStatus([]byte(`{}`))
	assert.Error(t, err)
}

func TestDecodeEvent_RequiresUIDAndType(t *testing.T) {
	d := newFixedClockDecoder(time.Now())
	_, err := d.DecodeEvent([]byte(`{"uid":"u1"}`))
	assert.Error(t, err)

	m, err := d.DecodeEvent([]byte(`{"uid":"u1","type":"emergency"}`))
	require.NoError(t, err)
	assert.Equal(t, "emergency", m.Type)
}

func TestClassifyTopic(t *testing.T) {
	assert.Equal(t, TopicScan, ClassifyTopic("rtls/anchor/A1/scan", "rtls/events"))
	assert.Equal(t, TopicStatus, ClassifyTopic("rtls/anchor/A1/status", "rtls/events"))
	assert.Equal(t, TopicEvent, ClassifyTopic("rtls/events", "rtls/events"))
	assert.Equal(t, TopicUnknown, ClassifyTopic("unrelated/topic", "rtls/events"))
}
