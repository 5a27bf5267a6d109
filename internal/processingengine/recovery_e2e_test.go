package processingengine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/queue"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
)

// TestHandle_ResumesAfterCrashFromLastCheckpoint exercises spec.md §8
// scenario 3 end-to-end: a replica checkpoints partway through a file,
// crashes before finishing, and RecoveryLoop's stuck-upload scan re-enqueues
// it from the last committed checkpoint rather than from line zero.
func TestHandle_ResumesAfterCrashFromLastCheckpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckpointInterval = 2
	e, reg, store, q := newHarness(cfg)
	ctx := context.Background()

	content := line('1') + "\n" + line('2') + "\n" + line('2') + "\n" + line('2') + "\n" + line('4') + "\n"
	upload := seedUpload(t, ctx, store, reg, "crash.txt", content)

	// Simulate the first replica crashing immediately after flushing the
	// checkpoint for the first chunk (lines 0-1): the checkpoint and
	// cumulative counts are durable, but the lock has since expired and the
	// original delivery was never acked.
	require.NoError(t, reg.UpdateCheckpoint(ctx, upload.ID, 1, 2, 0, 0))
	attempt := 1
	require.NoError(t, reg.UpdateStatus(ctx, upload.ID, model.UploadStatusProcessing, &attempt, nil))
	require.NoError(t, reg.Backdate(upload.ID, 45*time.Minute))

	rl := recoveryloop.New(recoveryloop.DefaultConfig(), reg, q, nil)
	results := rl.ResumeAll(ctx, 30*time.Minute)
	require.Len(t, results, 1)
	require.True(t, results[0].Resumed)

	msgs, err := q.Consume(ctx, queue.StreamUploadQueue, cfg.ConsumerGroup, "resumed-consumer", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	resumed := msgs[0]
	require.Equal(t, upload.ID, resumed.UploadID)
	require.EqualValues(t, 2, resumed.ResumeFromLine)
	require.Equal(t, 2, resumed.Attempt)

	// A second replica picks up the resumed message and finishes the file.
	e.handle(ctx, resumed)

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, got.Status)
	// Lines 2 and 3 carry identical content, so the second of them shares
	// the first's line hash and is skipped: 2 seeded + 2 new processed.
	require.EqualValues(t, 4, got.ProcessedLineCount)
	require.EqualValues(t, 0, got.FailedLineCount)
	require.EqualValues(t, 4, got.LastCheckpointLine)

	// Lines 0-1 were never replayed: IsLineUnique would have deduped them as
	// already-recorded hashes, but asserting the cumulative count above
	// already proves the resumed run started counting from the seeded 2
	// rather than from zero.
}

// TestHandle_ResumesNeverCheckpointedUploadFromLineZero covers the
// companion crash case: a replica dies before its first checkpoint ever
// flushes, so recovery must resume from the beginning rather than skip
// lines that were never durably recorded.
func TestHandle_ResumesNeverCheckpointedUploadFromLineZero(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckpointInterval = 10
	e, reg, store, q := newHarness(cfg)
	ctx := context.Background()

	content := line('1') + "\n" + line('2') + "\n" + line('4') + "\n"
	upload := seedUpload(t, ctx, store, reg, "fresh-crash.txt", content)

	attempt := 0
	require.NoError(t, reg.UpdateStatus(ctx, upload.ID, model.UploadStatusProcessing, &attempt, nil))
	require.NoError(t, reg.Backdate(upload.ID, 45*time.Minute))

	rl := recoveryloop.New(recoveryloop.DefaultConfig(), reg, q, nil)
	results := rl.ResumeAll(ctx, 30*time.Minute)
	require.Len(t, results, 1)
	require.True(t, results[0].Resumed)

	msgs, err := q.Consume(ctx, queue.StreamUploadQueue, cfg.ConsumerGroup, "resumed-consumer", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.EqualValues(t, 0, msgs[0].ResumeFromLine)

	e.handle(ctx, msgs[0])

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, got.Status)
	require.EqualValues(t, 3, got.ProcessedLineCount)
}
