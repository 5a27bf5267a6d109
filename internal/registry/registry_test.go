package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cnabflow/ingestor/internal/cnab/model"
)

func TestFinaliseDecision(t *testing.T) {
	cases := []struct {
		name                         string
		total, processed, failed, skipped int64
		want                         model.UploadStatus
	}{
		{"incomplete stays processing", 10, 4, 1, 0, model.UploadStatusProcessing},
		{"complete no failures is success", 3, 3, 0, 0, model.UploadStatusSuccess},
		{"complete with failures is partial", 5, 4, 1, 0, model.UploadStatusPartiallyCompleted},
		{"skipped counts toward completion", 5, 3, 0, 2, model.UploadStatusSuccess},
		{"overshoot sum still resolves", 3, 3, 1, 0, model.UploadStatusPartiallyCompleted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := FinaliseDecision(tc.total, tc.processed, tc.failed, tc.skipped)
			assert.Equal(t, tc.want, got)
		})
	}
}
