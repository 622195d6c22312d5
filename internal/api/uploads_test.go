package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docserver/docserver/internal/config"
	"github.com/docserver/docserver/internal/db"
	"github.com/docserver/docserver/internal/job"
	"github.com/docserver/docserver/internal/storage"
	"github.com/docserver/docserver/internal/upload"
)

func submit(t *testing.T, router http.Handler, body string) (int, IdentifierResponse) {
	t.Helper()
	req := httptest.NewRequest("POST", "/upload", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp IdentifierResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func getStatus(router http.Handler, id string) (int, map[string]any) {
	req := httptest.NewRequest("GET", "/upload/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp map[string]any
	json.Unmarshal(rec.Body.Bytes(), &resp)
	return rec.Code, resp
}

func TestSubmitUpload(t *testing.T) {
	release := make(chan struct{})
	router, _ := newTestRouter(t, func(context.Context, job.Request) (job.Result, error) {
		<-release
		return job.Completed("ok"), nil
	})
	defer close(release)

	code, resp := submit(t, router, `{"path":"report.pdf","user":"alice"}`)

	assert.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "1", resp.Identifier)

	code, st := getStatus(router, resp.Identifier)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "1", st["id"])
	assert.Contains(t, []any{"queued", "running"}, st["state"])
}

func TestSubmitUpload_InvalidBody(t *testing.T) {
	router, _ := newTestRouter(t, instant)

	code, resp := submit(t, router, "invalid")

	assert.Equal(t, http.StatusBadRequest, code)
	assert.Empty(t, resp.Identifier)
}

type closedDispatcher struct{ Dispatcher }

func (closedDispatcher) Submit(job.Request) (uint64, error) { return 0, job.ErrClosed }

func TestSubmitUpload_DispatcherClosed(t *testing.T) {
	log, _ := test.NewNullLogger()
	router := NewRouter(&config.Config{}, closedDispatcher{}, log)

	code, resp := submit(t, router, `{"path":"a","user":"b"}`)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Empty(t, resp.Identifier)
}

func TestGetUpload_CompletedReadOnce(t *testing.T) {
	router, _ := newTestRouter(t, instant)
	_, resp := submit(t, router, `{"path":"a.txt","user":"alice"}`)

	var last map[string]any
	require.Eventually(t, func() bool {
		code, st := getStatus(router, resp.Identifier)
		last = st
		return code == http.StatusOK && st["state"] == "completed"
	}, 2*time.Second, 5*time.Millisecond)

	result := last["result"].(map[string]any)
	assert.Equal(t, "Successfully uploaded a.txt for user alice", result["message"])

	code, _ := getStatus(router, resp.Identifier)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetUpload_FailureMessage(t *testing.T) {
	router, _ := newTestRouter(t, func(context.Context, job.Request) (job.Result, error) {
		return job.Result{}, errors.New("disk full")
	})
	_, resp := submit(t, router, `{"path":"a.txt","user":"alice"}`)

	var last map[string]any
	require.Eventually(t, func() bool {
		code, st := getStatus(router, resp.Identifier)
		last = st
		return code == http.StatusOK && st["state"] == "failed"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, last["message"], "disk full")
}

func TestGetUpload_NotFound(t *testing.T) {
	router, _ := newTestRouter(t, instant)

	for _, id := range []string{"999999", "abc", "-1", "0", "18446744073709551616"} {
		code, _ := getStatus(router, id)
		assert.Equal(t, http.StatusNotFound, code, "id %q", id)
	}
}

func deleteUpload(router http.Handler, id string) int {
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/upload/"+id, nil))
	return rec.Code
}

func TestDeleteUpload_Running(t *testing.T) {
	release := make(chan struct{})
	router, d := newTestRouter(t, func(context.Context, job.Request) (job.Result, error) {
		<-release
		return job.Completed("ok"), nil
	})

	_, resp := submit(t, router, `{"path":"a","user":"b"}`)
	require.Eventually(t, func() bool { return d.Stats().Running == 1 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, deleteUpload(router, resp.Identifier))

	close(release)
	require.Eventually(t, func() bool { return d.Stats().DiscardedTotal == 1 }, 2*time.Second, 5*time.Millisecond)

	code, _ := getStatus(router, resp.Identifier)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, deleteUpload(router, resp.Identifier))
}

func TestDeleteUpload_Queued(t *testing.T) {
	release := make(chan struct{})
	var ran sync.Map
	router, d := newTestRouter(t, func(_ context.Context, req job.Request) (job.Result, error) {
		ran.Store(req.Path, true)
		<-release
		return job.Completed("ok"), nil
	})
	defer close(release)

	submit(t, router, `{"path":"first","user":"b"}`)
	submit(t, router, `{"path":"second","user":"b"}`)
	_, queued := submit(t, router, `{"path":"queued","user":"b"}`)
	require.Eventually(t, func() bool { return d.Stats().Running == 2 }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, http.StatusNoContent, deleteUpload(router, queued.Identifier))
	assert.Equal(t, 0, d.Stats().Queued)

	code, _ := getStatus(router, queued.Identifier)
	assert.Equal(t, http.StatusNotFound, code)

	release <- struct{}{}
	release <- struct{}{}
	require.Eventually(t, func() bool { return d.Stats().CompletedTotal == 2 }, 2*time.Second, 5*time.Millisecond)

	_, found := ran.Load("queued")
	assert.False(t, found, "removed upload must never start")
}

func TestStorageRoutes(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "source")
	require.NoError(t, os.MkdirAll(source, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "notes.txt"), []byte("hello"), 0644))

	files, err := storage.NewStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	dbStore, err := db.NewStore(filepath.Join(dir, "db"), nil)
	require.NoError(t, err)
	defer dbStore.Close()

	log, _ := test.NewNullLogger()
	manifest := upload.NewManifest(dbStore)
	uploader := upload.NewStorageUploader(source, files, manifest, log)

	d := job.NewDispatcher(uploader.Upload, job.WithLogger(log))
	require.NoError(t, d.Start(context.Background()))
	defer d.Shutdown(context.Background())

	router := NewRouterWithStorage(&config.Config{UploadMode: config.UploadModeStorage}, d, log, files, manifest)

	_, resp := submit(t, router, `{"path":"notes.txt","user":"alice"}`)
	require.Eventually(t, func() bool {
		code, st := getStatus(router, resp.Identifier)
		return code == http.StatusOK && st["state"] == "completed"
	}, 2*time.Second, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/files/alice/notes.txt", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", rec.Body.String())

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/manifest/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var listing map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, float64(1), listing["count"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/files/alice/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var files2 storage.ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &files2))
	assert.Equal(t, []string{"notes.txt"}, files2.Files)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/manifest/alice/notes.txt", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var entry upload.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.Equal(t, int64(5), entry.Size)

	// Deleting the file drops its manifest entry as well.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/files/alice/notes.txt", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/manifest/alice", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	assert.Equal(t, float64(0), listing["count"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/api/manifest/alice/notes.txt", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
