package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PresenceShape identifies which wire shape an inbound presence payload used.
// Desk units in the field emit three JSON generations plus bare legacy strings.
type PresenceShape int

const (
	// ShapeDevice is the current desk-unit shape: {"present": bool,
	// "in_grace_period": bool?, "grace_period_remaining": ms?}.
	ShapeDevice PresenceShape = iota
	// ShapeBLE is the intermediate shape: {"available": bool, "ble_presence": bool?}.
	ShapeBLE
	// ShapeStatus is the oldest JSON shape: {"status": "AVAILABLE"|other}.
	ShapeStatus
	// ShapeLegacyString is a bare keychain_connected/keychain_disconnected string.
	ShapeLegacyString
)

// PresenceUpdate is the normalized result of parsing any accepted presence
// payload shape.
type PresenceUpdate struct {
	Shape          PresenceShape
	Present        bool
	InGracePeriod  bool
	GraceRemaining time.Duration
	BLE            bool
}

type presenceEnvelope struct {
	Present        *bool   `json:"present"`
	InGracePeriod  *bool   `json:"in_grace_period"`
	GraceRemaining *int64  `json:"grace_period_remaining"`
	Available      *bool   `json:"available"`
	BLEPresence    *bool   `json:"ble_presence"`
	Status         *string `json:"status"`
}

// ParsePresence decodes an inbound presence payload, selecting the shape by
// field presence rather than probing loosely-typed maps.
func ParsePresence(payload []byte) (PresenceUpdate, error) {
	raw := strings.TrimSpace(string(payload))
	if raw == "" {
		return PresenceUpdate{}, fmt.Errorf("empty presence payload")
	}

	if !strings.HasPrefix(raw, "{") {
		switch raw {
		case "keychain_connected":
			return PresenceUpdate{Shape: ShapeLegacyString, Present: true, BLE: true}, nil
		case "keychain_disconnected":
			return PresenceUpdate{Shape: ShapeLegacyString, Present: false, BLE: true}, nil
		}
		return PresenceUpdate{}, fmt.Errorf("unrecognized presence string %q", raw)
	}

	var env presenceEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return PresenceUpdate{}, fmt.Errorf("decode presence payload: %w", err)
	}

	switch {
	case env.Present != nil:
		update := PresenceUpdate{Shape: ShapeDevice, Present: *env.Present, BLE: true}
		if env.InGracePeriod != nil {
			update.InGracePeriod = *env.InGracePeriod
		}
		if env.GraceRemaining != nil {
			update.GraceRemaining = time.Duration(*env.GraceRemaining) * time.Millisecond
			if update.GraceRemaining > 0 {
				update.InGracePeriod = true
			}
		}
		return update, nil
	case env.Available != nil:
		update := PresenceUpdate{Shape: ShapeBLE, Present: *env.Available}
		if env.BLEPresence != nil {
			update.BLE = *env.BLEPresence
		}
		return update, nil
	case env.Status != nil:
		return PresenceUpdate{
			Shape:   ShapeStatus,
			Present: strings.EqualFold(*env.Status, "AVAILABLE"),
		}, nil
	}

	return PresenceUpdate{}, fmt.Errorf("presence payload carries no recognized fields")
}
