package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopicRender(t *testing.T) {
	tmpl, err := ParseTopic("{run_id}/hello/{session_id}/world")
	require.NoError(t, err)
	assert.Equal(t, "r1/hello/pub-00001/world", tmpl.Render(TopicData{SessionID: "pub-00001", RunID: "r1"}))
	assert.Equal(t, "r1/hello/+/world", tmpl.Filter("r1"))
}

func TestTopicLegacyTokens(t *testing.T) {
	tmpl, err := ParseTopic("/tenants/{unique_id}/devices/{pub_id}/events/{data_type}/jsonarray")
	require.NoError(t, err)
	assert.Equal(t, "/tenants/u/devices/d/events/imu/jsonarray",
		tmpl.Render(TopicData{SessionID: "d", RunID: "u", DataKind: "imu"}))
	assert.Equal(t, "/tenants/u/devices/+/events/+/jsonarray", tmpl.Filter("u"))
}

func TestTopicMalformed(t *testing.T) {
	for _, format := range []string{
		"",
		"{run_id}/{nope}",
		"a/{session_id",
		"a/}b",
		"{{.Evil}}",
	} {
		_, err := ParseTopic(format)
		assert.ErrorIs(t, err, ErrMalformedTemplate, format)
	}
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 10)
	assert.NotEqual(t, a, b)
	assert.NotContains(t, a, "-")
}
