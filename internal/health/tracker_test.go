package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordNavFailure_ReachesThreshold(t *testing.T) {
	tr := NewTracker(3, time.Hour)
	defer tr.Close()

	assert.False(t, tr.RecordNavFailure())
	assert.False(t, tr.RecordNavFailure())
	assert.True(t, tr.RecordNavFailure())
}

func TestRecordNavSuccess_ResetsCounter(t *testing.T) {
	tr := NewTracker(2, time.Hour)
	defer tr.Close()

	assert.False(t, tr.RecordNavFailure())
	tr.RecordNavSuccess()
	assert.False(t, tr.RecordNavFailure())

	snap := tr.Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestBeginEndOp(t *testing.T) {
	tr := NewTracker(3, time.Hour)
	defer tr.Close()

	tr.BeginOp()
	tr.BeginOp()
	assert.EqualValues(t, 2, tr.Snapshot().ActiveOps)
	tr.EndOp()
	assert.EqualValues(t, 1, tr.Snapshot().ActiveOps)
}

func TestSetRecovering(t *testing.T) {
	tr := NewTracker(3, time.Hour)
	defer tr.Close()

	assert.False(t, tr.Snapshot().Recovering)
	tr.SetRecovering(true)
	assert.True(t, tr.Snapshot().Recovering)
}
