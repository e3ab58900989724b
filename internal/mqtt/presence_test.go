package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePresenceDeviceShape(t *testing.T) {
	update, err := ParsePresence([]byte(`{"present": true, "in_grace_period": false}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeDevice, update.Shape)
	assert.True(t, update.Present)
	assert.False(t, update.InGracePeriod)

	update, err = ParsePresence([]byte(`{"present": true, "in_grace_period": true, "grace_period_remaining": 45000}`))
	require.NoError(t, err)
	assert.True(t, update.InGracePeriod)
	assert.Equal(t, 45*time.Second, update.GraceRemaining)
}

func TestParsePresenceBLEShape(t *testing.T) {
	update, err := ParsePresence([]byte(`{"available": true, "ble_presence": false}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeBLE, update.Shape)
	assert.True(t, update.Present)
	assert.False(t, update.BLE)
}

func TestParsePresenceStatusShape(t *testing.T) {
	update, err := ParsePresence([]byte(`{"status": "AVAILABLE"}`))
	require.NoError(t, err)
	assert.Equal(t, ShapeStatus, update.Shape)
	assert.True(t, update.Present)

	update, err = ParsePresence([]byte(`{"status": "BUSY"}`))
	require.NoError(t, err)
	assert.False(t, update.Present)
}

func TestParsePresenceLegacyStrings(t *testing.T) {
	update, err := ParsePresence([]byte("keychain_connected"))
	require.NoError(t, err)
	assert.Equal(t, ShapeLegacyString, update.Shape)
	assert.True(t, update.Present)

	update, err = ParsePresence([]byte("keychain_disconnected"))
	require.NoError(t, err)
	assert.False(t, update.Present)
}

func TestParsePresenceRejectsGarbage(t *testing.T) {
	_, err := ParsePresence([]byte(""))
	assert.Error(t, err)

	_, err = ParsePresence([]byte("hello"))
	assert.Error(t, err)

	_, err = ParsePresence([]byte(`{"unrelated": 1}`))
	assert.Error(t, err)
}
