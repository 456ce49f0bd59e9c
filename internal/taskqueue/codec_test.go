package taskqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/petrijr/chatflow/pkg/api"
)

func TestTaskCodecKeepsResumePayload(t *testing.T) {
	task := resumeTask("exec-9", map[string]any{"reply": "yes"})
	task.NotBefore = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task.Attempts = 2

	data, err := EncodeTask(task)
	require.NoError(t, err)

	got, err := DecodeTask(data)
	require.NoError(t, err)
	require.Equal(t, task.ID, got.ID)
	require.Equal(t, TaskTypeResume, got.Type)
	require.Equal(t, 2, got.Attempts)
	require.True(t, task.NotBefore.Equal(got.NotBefore))
	require.Equal(t, api.ResumeUserInput, got.Resume.Type)
	require.Equal(t, map[string]any{"reply": "yes"}, got.Resume.Data)
}

func TestNewTasksHaveDistinctIDs(t *testing.T) {
	a := NewStopTask("x")
	b := NewStopTask("x")
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
	require.False(t, a.EnqueuedAt.IsZero())
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	_, err := DecodeTask([]byte("{not json"))
	require.Error(t, err)
}
