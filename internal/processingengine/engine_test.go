package processingengine

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/lock"
	lockmem "github.com/cnabflow/ingestor/internal/lock/memory"
	"github.com/cnabflow/ingestor/internal/objectstore/memory"
	"github.com/cnabflow/ingestor/internal/queue"
	queuemem "github.com/cnabflow/ingestor/internal/queue/memory"
	registrymem "github.com/cnabflow/ingestor/internal/registry/memory"
)

const testBucket = "cnab-uploads"

func line(typ byte) string {
	return string(typ) + "20190301" + "0000014200" + "09620676017" + "1234****7890" + "153453" + "JOAO MACEDO   " + "BAR DO JOAO       "
}

func newHarness(cfg Config) (*Engine, *registrymem.Registry, *memory.Store, *queuemem.Queue) {
	cfg.Bucket = testBucket
	store := memory.New()
	reg := registrymem.New()
	q := queuemem.New()
	lk := lockmem.New()
	e := New(cfg, store, reg, q, lk, nil)
	return e, reg, store, q
}

func seedUpload(t *testing.T, ctx context.Context, store *memory.Store, reg *registrymem.Registry, fileName, content string) *model.FileUpload {
	t.Helper()
	require.NoError(t, store.Put(ctx, testBucket, fileName, bytes.NewReader([]byte(content)), int64(len(content))))
	upload, err := reg.CreatePending(ctx, fileName, fileName+"-hash", int64(len(content)), fileName)
	require.NoError(t, err)
	return upload
}

func TestHandle_HappyPathThreeLines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckpointInterval = 2
	e, reg, store, _ := newHarness(cfg)
	ctx := context.Background()

	content := line('1') + "\n" + line('2') + "\n" + line('4') + "\n"
	upload := seedUpload(t, ctx, store, reg, "upload-1.txt", content)

	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: "upload-1.txt"})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, got.Status)
	require.EqualValues(t, 3, got.ProcessedLineCount)
	require.EqualValues(t, 0, got.FailedLineCount)
	require.EqualValues(t, 2, got.LastCheckpointLine)
}

func TestHandle_PartialFailureOneInvalidLine(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, store, _ := newHarness(cfg)
	ctx := context.Background()

	bad := "X" + "20190301" + "0000014200" + "09620676017" + "1234****7890" + "153453" + "JOAO MACEDO   " + "BAR DO JOAO       "
	content := line('1') + "\n" + line('2') + "\n" + bad + "\n" + line('4') + "\n" + line('8') + "\n"
	upload := seedUpload(t, ctx, store, reg, "upload-2.txt", content)

	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: "upload-2.txt"})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusPartiallyCompleted, got.Status)
	require.EqualValues(t, 4, got.ProcessedLineCount)
	require.EqualValues(t, 1, got.FailedLineCount)
}

func TestHandle_MissingBlobGoesToDLQAndFailed(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, _, q := newHarness(cfg)
	ctx := context.Background()

	upload, err := reg.CreatePending(ctx, "gone.txt", "gone-hash", 10, "")
	require.NoError(t, err)

	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: ""})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusFailed, got.Status)

	dead := q.DeadLetters(queue.StreamUploadDLQ)
	require.Len(t, dead, 1)
	require.Equal(t, upload.ID, dead[0].UploadID)
}

func TestHandle_ObjectNotFoundGoesToDLQAndFailed(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, _, q := newHarness(cfg)
	ctx := context.Background()

	upload, err := reg.CreatePending(ctx, "phantom.txt", "phantom-hash", 10, "phantom.txt")
	require.NoError(t, err)

	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: "phantom.txt"})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusFailed, got.Status)
	require.Len(t, q.DeadLetters(queue.StreamUploadDLQ), 1)
}

func TestHandle_ResumeFromCheckpointSkipsAlreadyProcessedLines(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CheckpointInterval = 10
	e, reg, store, _ := newHarness(cfg)
	ctx := context.Background()

	content := line('1') + "\n" + line('2') + "\n" + line('4') + "\n"
	upload := seedUpload(t, ctx, store, reg, "upload-3.txt", content)

	// Simulate a prior run that already checkpointed through line index 1
	// (lines 0 and 1 processed) before crashing.
	require.NoError(t, reg.UpdateCheckpoint(ctx, upload.ID, 1, 2, 0, 0))

	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: "upload-3.txt", ResumeFromLine: 2})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, got.Status)
	require.EqualValues(t, 3, got.ProcessedLineCount)
	require.EqualValues(t, 2, got.LastCheckpointLine)
}

func TestHandle_AlreadyTerminalUploadIsAckedWithoutReprocessing(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, store, _ := newHarness(cfg)
	ctx := context.Background()

	content := line('1') + "\n"
	upload := seedUpload(t, ctx, store, reg, "done.txt", content)
	attempt := 0
	require.NoError(t, reg.UpdateStatus(ctx, upload.ID, model.UploadStatusSuccess, &attempt, nil))

	// Should return immediately without touching counters again.
	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: "done.txt"})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, got.ProcessedLineCount)
}

func TestHandle_SecondWorkerSkipsWhenLockHeld(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, store, _ := newHarness(cfg)
	ctx := context.Background()

	content := line('1') + "\n"
	upload := seedUpload(t, ctx, store, reg, "locked.txt", content)

	held, err := e.lock.Acquire(ctx, lock.NameForUpload(upload.ID), cfg.ProcessingTTL)
	require.NoError(t, err)
	defer held.Release(ctx)

	e.handle(ctx, queue.Message{UploadID: upload.ID, StoragePath: "locked.txt"})

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusPending, got.Status)
}

func TestProcessInline_SynchronousHappyPath(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, _, _ := newHarness(cfg)
	ctx := context.Background()

	upload, err := reg.CreatePending(ctx, "sync.txt", "sync-hash", 1, "")
	require.NoError(t, err)

	content := line('1') + "\n" + line('2') + "\n"
	count, err := e.ProcessInline(ctx, upload.ID, []byte(content))
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	got, err := reg.GetByID(ctx, upload.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, got.Status)
}

func TestSplitLines_HandlesCRLFAndOptionalTrailingTerminator(t *testing.T) {
	content := []byte("a\r\nb\nc")
	lines := splitLines(content)
	require.Equal(t, [][]byte{[]byte("a"), []byte("b"), []byte("c")}, lines)

	withTrailing := []byte("a\nb\n")
	require.Equal(t, [][]byte{[]byte("a"), []byte("b")}, splitLines(withTrailing))
}
