package mqtt

import "strings"

// Legacy topics kept for older field devices that predate the namespaced
// topic tree.
const (
	LegacyStatusTopic  = "professor/status"
	LegacyMessageTopic = "professor/messages"
)

// Topics builds the hierarchical topic tree under a configurable root.
type Topics struct {
	Base string
}

// NewTopics returns a Topics helper, defaulting the root to "consultease".
func NewTopics(base string) Topics {
	if base == "" {
		base = "consultease"
	}
	return Topics{Base: strings.Trim(base, "/")}
}

// SystemStatus is the retained online/offline presence beacon topic.
func (t Topics) SystemStatus() string { return t.Base + "/system/status" }

// SystemNotifications carries broadcast system events.
func (t Topics) SystemNotifications() string { return t.Base + "/system/notifications" }

// Ack is the reserved acknowledgment sub-topic for at-least-once deliveries.
func (t Topics) Ack() string { return t.Base + "/ack" }

// FacultyStatus is the inbound presence topic for one faculty desk unit.
func (t Topics) FacultyStatus(facultyID string) string {
	return t.Base + "/faculty/" + facultyID + "/status"
}

// FacultyStatusPattern subscribes to presence from every desk unit.
func (t Topics) FacultyStatusPattern() string { return t.Base + "/faculty/+/status" }

// FacultyRequests carries structured consultation payloads to a desk unit.
func (t Topics) FacultyRequests(facultyID string) string {
	return t.Base + "/faculty/" + facultyID + "/requests"
}

// FacultyMessages is the per-faculty plain-text legacy topic.
func (t Topics) FacultyMessages(facultyID string) string {
	return t.Base + "/faculty/" + facultyID + "/messages"
}

// StudentNotifications is the personal notification topic for one student.
func (t Topics) StudentNotifications(studentID string) string {
	return t.Base + "/student/" + studentID + "/notifications"
}

// FacultyIDFromStatusTopic extracts the faculty id from a concrete status
// topic, returning false for topics outside the faculty status tree.
func (t Topics) FacultyIDFromStatusTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != t.Base || parts[1] != "faculty" || parts[3] != "status" {
		return "", false
	}
	if parts[2] == "" || parts[2] == "+" {
		return "", false
	}
	return parts[2], true
}

// Match tests a received topic against a subscription pattern using MQTT
// wildcard semantics: "+" matches exactly one level, "#" matches the
// remainder and must terminate the pattern.
func Match(pattern, topic string) bool {
	if pattern == topic {
		return true
	}

	patternParts := strings.Split(pattern, "/")
	topicParts := strings.Split(topic, "/")

	for i, part := range patternParts {
		if part == "#" {
			return i == len(patternParts)-1
		}
		if i >= len(topicParts) {
			return false
		}
		if part == "+" {
			continue
		}
		if part != topicParts[i] {
			return false
		}
	}

	return len(patternParts) == len(topicParts)
}
