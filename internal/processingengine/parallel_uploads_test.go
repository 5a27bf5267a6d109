package processingengine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cnabflow/ingestor/internal/cnab/model"
	"github.com/cnabflow/ingestor/internal/queue"
)

// lineWithCPF mirrors the `line` helper's fixed-width layout but swaps in a
// caller-supplied CPF so two otherwise-identical files produce distinct line
// hashes, the way two real CNAB files from different merchants would.
func lineWithCPF(typ byte, cpf string) string {
	return string(typ) + "20190301" + "0000014200" + cpf + "1234****7890" + "153453" + "JOAO MACEDO   " + "BAR DO JOAO       "
}

// TestHandle_ParallelUploadsOfDistinctFilesDoNotContend covers spec.md §8
// scenario 5: two uploads submitted close together must both reach Success
// without their per-upload locks contending, since processingengine.Engine
// locks by upload ID (internal/lock.NameForUpload), never globally.
func TestHandle_ParallelUploadsOfDistinctFilesDoNotContend(t *testing.T) {
	cfg := DefaultConfig()
	e, reg, store, _ := newHarness(cfg)
	ctx := context.Background()

	contentA := lineWithCPF('1', "09620676017") + "\n" + lineWithCPF('2', "09620676018") + "\n" + lineWithCPF('4', "09620676019") + "\n"
	contentB := lineWithCPF('1', "11122233344") + "\n" + lineWithCPF('2', "11122233345") + "\n" + lineWithCPF('4', "11122233346") + "\n"

	uploadA := seedUpload(t, ctx, store, reg, "merchant-a.txt", contentA)
	uploadB := seedUpload(t, ctx, store, reg, "merchant-b.txt", contentB)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		e.handle(ctx, queue.Message{UploadID: uploadA.ID, StoragePath: "merchant-a.txt"})
	}()
	go func() {
		defer wg.Done()
		e.handle(ctx, queue.Message{UploadID: uploadB.ID, StoragePath: "merchant-b.txt"})
	}()
	wg.Wait()

	gotA, err := reg.GetByID(ctx, uploadA.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, gotA.Status)
	require.EqualValues(t, 3, gotA.ProcessedLineCount)
	require.EqualValues(t, 0, gotA.FailedLineCount)

	gotB, err := reg.GetByID(ctx, uploadB.ID)
	require.NoError(t, err)
	require.Equal(t, model.UploadStatusSuccess, gotB.Status)
	require.EqualValues(t, 3, gotB.ProcessedLineCount)
	require.EqualValues(t, 0, gotB.FailedLineCount)
}
