package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cnabflow/ingestor/internal/api"
	"github.com/cnabflow/ingestor/internal/ingestionfront"
	"github.com/cnabflow/ingestor/internal/objectstore/memory"
	queuemem "github.com/cnabflow/ingestor/internal/queue/memory"
	"github.com/cnabflow/ingestor/internal/recoveryloop"
	registrymem "github.com/cnabflow/ingestor/internal/registry/memory"
)

const validLine = "1" + "20190301" + "0000014200" + "09620676017" + "1234****7890" + "153453" + "JOAO MACEDO   " + "BAR DO JOAO       "

func buildMultipart(t *testing.T, fileName string, content []byte) (string, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return w.FormDataContentType(), buf
}

func newTestRouter(t *testing.T) (http.Handler, *registrymem.Registry) {
	t.Helper()
	store := memory.New()
	reg := registrymem.New()
	q := queuemem.New()
	front := ingestionfront.New(ingestionfront.DefaultConfig(), store, "cnab-uploads", reg, q, nil, nil)
	recovery := recoveryloop.New(recoveryloop.DefaultConfig(), reg, q, nil)
	return api.NewRouter(front, reg, recovery), reg
}

func TestHealth_LivenessAlwaysOK(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_ReadinessOK(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestUpload_AcceptedAsync(t *testing.T) {
	router, _ := newTestRouter(t)
	contentType, body := buildMultipart(t, "upload.txt", []byte(validLine))

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "processing", resp["status"])
}

func TestUpload_RejectsWrongExtensionWithProblemDetails(t *testing.T) {
	router, _ := newTestRouter(t)
	contentType, body := buildMultipart(t, "upload.csv", []byte(validLine))

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
	require.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
}

func TestUpload_SecondUploadIsDuplicateConflict(t *testing.T) {
	router, _ := newTestRouter(t)

	contentType1, body1 := buildMultipart(t, "upload.txt", []byte(validLine))
	req1 := httptest.NewRequest(http.MethodPost, "/upload", body1)
	req1.Header.Set("Content-Type", contentType1)
	rec1 := httptest.NewRecorder()
	router.ServeHTTP(rec1, req1)
	require.Equal(t, http.StatusAccepted, rec1.Code)

	contentType2, body2 := buildMultipart(t, "upload-again.txt", []byte(validLine))
	req2 := httptest.NewRequest(http.MethodPost, "/upload", body2)
	req2.Header.Set("Content-Type", contentType2)
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusConflict, rec2.Code)
}

func TestUploadsList_ReturnsAcceptedUpload(t *testing.T) {
	router, reg := newTestRouter(t)
	ctx := context.Background()
	_, err := reg.CreatePending(ctx, "a.txt", "hash-a", 10, "a.txt")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Items []map[string]any `json:"items"`
		Total int64             `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.EqualValues(t, 1, resp.Total)
	require.Len(t, resp.Items, 1)
	require.Equal(t, "a.txt", resp.Items[0]["fileName"])
}

func TestUploadsIncomplete_EmptyWhenNothingStuck(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/uploads/incomplete", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var items []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &items))
	require.Empty(t, items)
}

func TestResumeSingleUpload_NotFoundReportsErrorInBody(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads/does-not-exist/resume", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		UploadID string `json:"UploadID"`
		Resumed  bool    `json:"Resumed"`
		Error    string  `json:"Error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Resumed)
	require.NotEmpty(t, resp.Error)
}

func TestDeleteTransactions_ReturnsNoContent(t *testing.T) {
	router, _ := newTestRouter(t)
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/transactions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
}
