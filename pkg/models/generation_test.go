package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, valid := range []string{
		"pending", "generating_script", "generating_voice",
		"generating_video", "compositing", "completed", "failed",
	} {
		s, err := ParseStatus(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, Status(valid), s)
	}

	_, err := ParseStatus("processing")
	assert.Error(t, err)
	_, err = ParseStatus("")
	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusCompositing.Terminal())
}

func TestParseScriptType(t *testing.T) {
	st, err := ParseScriptType("ai_generated")
	require.NoError(t, err)
	assert.False(t, st.RequiresContent())

	st, err = ParseScriptType("user_provided")
	require.NoError(t, err)
	assert.True(t, st.RequiresContent())

	st, err = ParseScriptType("template")
	require.NoError(t, err)
	assert.True(t, st.RequiresContent())

	_, err = ParseScriptType("freeform")
	assert.Error(t, err)
}

func TestParseVisibility(t *testing.T) {
	v, err := ParseVisibility("")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPublic, v, "empty visibility defaults to public")

	v, err = ParseVisibility("private")
	require.NoError(t, err)
	assert.Equal(t, VisibilityPrivate, v)

	_, err = ParseVisibility("unlisted")
	assert.Error(t, err)
}

func TestValidDuration(t *testing.T) {
	for _, d := range []int{60, 120, 180, 300} {
		assert.True(t, ValidDuration(d), "duration %d", d)
	}
	for _, d := range []int{0, 30, 90, 240, 600, -60} {
		assert.False(t, ValidDuration(d), "duration %d", d)
	}
}
