package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknode/tasknode-be/internal/scheduler/domain"
)

func TestRunRetention(t *testing.T) {
	store := newFakeStore()
	objects := newFakeObjects()

	expiredJobID := uuid.New().String()
	freshJobID := uuid.New().String()

	// Result objects: one past the 72h retention, one fresh.
	objects.put("processed-bucket", domain.OutputLogKey(expiredJobID), &fakeObject{
		data:         []byte("old"),
		lastModified: time.Now().Add(-80 * time.Hour),
	})
	objects.put("processed-bucket", domain.OutputLogKey(freshJobID), &fakeObject{
		data:         []byte("new"),
		lastModified: time.Now().Add(-time.Hour),
	})

	// Drop objects: one past the 24h retention, one fresh.
	objects.put("drop-bucket", "stale.zip", &fakeObject{
		data:         []byte("zip"),
		lastModified: time.Now().Add(-30 * time.Hour),
	})
	objects.put("drop-bucket", "recent.zip", &fakeObject{
		data:         []byte("zip"),
		lastModified: time.Now().Add(-time.Hour),
	})

	s := newTestScheduler(store, objects, newFakeGateway(), &fakeNotifier{})

	require.NoError(t, s.runRetention(context.Background()))

	assert.False(t, objects.has("processed-bucket", domain.OutputLogKey(expiredJobID)))
	assert.True(t, objects.has("processed-bucket", domain.OutputLogKey(freshJobID)))
	assert.Equal(t, []string{expiredJobID}, store.responseRemoved)

	assert.False(t, objects.has("drop-bucket", "stale.zip"))
	assert.True(t, objects.has("drop-bucket", "recent.zip"))
	assert.Equal(t, []string{"drop-bucket/stale.zip"}, store.uploadRemovedByObject)
}

func TestRunRetention_IgnoresForeignKeys(t *testing.T) {
	store := newFakeStore()
	objects := newFakeObjects()

	// An expired object whose key carries no job id prefix is deleted but
	// flips no job flag.
	objects.put("processed-bucket", "orphan/output.log", &fakeObject{
		data:         []byte("old"),
		lastModified: time.Now().Add(-80 * time.Hour),
	})

	s := newTestScheduler(store, objects, newFakeGateway(), &fakeNotifier{})

	require.NoError(t, s.runRetention(context.Background()))

	assert.False(t, objects.has("processed-bucket", "orphan/output.log"))
	assert.Empty(t, store.responseRemoved)
}

func TestJobIDFromResultKey(t *testing.T) {
	jobID := uuid.New().String()

	tests := []struct {
		name   string
		key    string
		wantID string
		wantOK bool
	}{
		{
			name:   "result key",
			key:    jobID + "/output.log",
			wantID: jobID,
			wantOK: true,
		},
		{
			name:   "nested key",
			key:    jobID + "/generated/a.csv",
			wantID: jobID,
			wantOK: true,
		},
		{
			name:   "no separator",
			key:    jobID,
			wantOK: false,
		},
		{
			name:   "prefix is not a uuid",
			key:    "backups/output.log",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := jobIDFromResultKey(tt.key)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantID, id)
		})
	}
}
