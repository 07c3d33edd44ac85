package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/simaogato/wealthflow-automation/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Emit(t *testing.T) {
	ctx := context.Background()
	recorder := NewRecorder()

	success := domain.Notification{ID: uuid.New(), Type: domain.NotificationAutomationSuccess}
	failed := domain.Notification{ID: uuid.New(), Type: domain.NotificationAutomationFailed}

	require.NoError(t, recorder.Emit(ctx, success))
	require.NoError(t, recorder.Emit(ctx, success))
	require.NoError(t, recorder.Emit(ctx, failed))

	assert.Len(t, recorder.Notifications(), 2)
	assert.Len(t, recorder.ByType(domain.NotificationAutomationSuccess), 1)
	assert.Len(t, recorder.ByType(domain.NotificationAutomationFailed), 1)
}

func TestRecorder_EmitError(t *testing.T) {
	recorder := NewRecorder()
	recorder.Err = errors.New("broker down")

	err := recorder.Emit(context.Background(), domain.Notification{ID: uuid.New()})
	assert.Error(t, err)
	assert.Empty(t, recorder.Notifications())
}
