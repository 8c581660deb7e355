package tui

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TenSeventy7/libfprint-egismoc-sdcp/internal/action"
)

func TestUpdateTracksProgressEvents(t *testing.T) {
	m := NewModel(nil, nil, "")

	updated, _ := m.Update(progressMsg(action.ProgressEvent{
		Stage: "CAPTURE_READ_RESPONSE", StagesComplete: 2, StagesTotal: 5, Hint: action.RetryHintCenterFinger,
	}))
	next := updated.(Model)

	assert.Equal(t, "CAPTURE_READ_RESPONSE", next.stage)
	assert.Equal(t, 2, next.stagesComplete)
	assert.Equal(t, 5, next.stagesTotal)
	assert.Equal(t, action.RetryHintCenterFinger, next.hint)
}

func TestUpdateMarksDoneOnResult(t *testing.T) {
	m := NewModel(nil, nil, "")

	rec := action.EnrollmentRecord{EnrollmentID: [32]byte{1, 2, 3}}
	updated, _ := m.Update(doneMsg{record: rec, err: nil})
	next := updated.(Model)

	assert.True(t, next.done)
	assert.NoError(t, next.err)
	assert.Equal(t, rec, next.record)
}

func TestViewRendersProgressBarWhenStagesKnown(t *testing.T) {
	m := NewModel(nil, nil, "")
	m.stagesTotal = 4
	m.stagesComplete = 2
	m.stage = "CAPTURE_READ_RESPONSE"

	view := m.View()
	assert.Contains(t, view, "CAPTURE_READ_RESPONSE")
	assert.Contains(t, view, "2/4")
}

func TestViewShowsRetryHint(t *testing.T) {
	m := NewModel(nil, nil, "")
	m.hint = action.RetryHintCleanSensor

	assert.Contains(t, m.View(), "Clean the sensor")
}
