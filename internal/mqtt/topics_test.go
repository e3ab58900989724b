package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		topic   string
		want    bool
	}{
		{"consultease/faculty/7/status", "consultease/faculty/7/status", true},
		{"consultease/faculty/+/status", "consultease/faculty/7/status", true},
		{"consultease/faculty/+/status", "consultease/faculty/7/requests", false},
		{"consultease/faculty/+/status", "consultease/faculty/a/b/status", false},
		{"consultease/#", "consultease/faculty/7/status", true},
		{"consultease/faculty/#", "consultease/faculty/7/status", true},
		{"consultease/faculty/#", "consultease/student/7/notifications", false},
		{"#", "anything/at/all", true},
		{"+/status", "professor/status", true},
		{"+/status", "professor/desk/status", false},
		{"consultease/faculty/+", "consultease/faculty/7/status", false},
		{"consultease/faculty/+/status", "consultease/faculty/7", false},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Match(tc.pattern, tc.topic), "pattern %q topic %q", tc.pattern, tc.topic)
	}
}

func TestTopicsTree(t *testing.T) {
	topics := NewTopics("consultease")

	assert.Equal(t, "consultease/system/status", topics.SystemStatus())
	assert.Equal(t, "consultease/ack", topics.Ack())
	assert.Equal(t, "consultease/faculty/42/requests", topics.FacultyRequests("42"))
	assert.Equal(t, "consultease/faculty/+/status", topics.FacultyStatusPattern())
	assert.Equal(t, "consultease/student/9/notifications", topics.StudentNotifications("9"))
}

func TestFacultyIDFromStatusTopic(t *testing.T) {
	topics := NewTopics("consultease")

	id, ok := topics.FacultyIDFromStatusTopic("consultease/faculty/42/status")
	assert.True(t, ok)
	assert.Equal(t, "42", id)

	_, ok = topics.FacultyIDFromStatusTopic("professor/status")
	assert.False(t, ok)

	_, ok = topics.FacultyIDFromStatusTopic("consultease/faculty/42/requests")
	assert.False(t, ok)

	_, ok = topics.FacultyIDFromStatusTopic("consultease/faculty/+/status")
	assert.False(t, ok)
}
