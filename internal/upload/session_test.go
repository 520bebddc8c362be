package upload

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

type stubPersister struct {
	mu        sync.Mutex
	calls     int
	lastBatch []models.Artifact
	err       error
}

func (p *stubPersister) AttachArtifacts(_ context.Context, _ models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastBatch = artifacts
	if p.err != nil {
		return nil, p.err
	}
	out := make([]models.Artifact, len(artifacts))
	for i, artifact := range artifacts {
		artifact.ID = uuid.NewString()
		artifact.ParentID = parentID
		artifact.Position = i
		out[i] = artifact
	}
	return out, nil
}

func newBlobServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fail") == "1" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)
	return server
}

func testFiles(names ...string) []File {
	files := make([]File, len(names))
	for i, name := range names {
		files[i] = File{Filename: name, MimeType: "application/octet-stream", Data: []byte("data-" + name)}
	}
	return files
}

func TestSessionPartialFailureStillAttachesSiblings(t *testing.T) {
	server := newBlobServer(t)
	issuer := &stubIssuer{baseURL: server.URL, failFor: map[string]bool{"b.bin": true}}
	persister := &stubPersister{}

	session := NewSession(models.ParentTask, "task-1", "user-1", false,
		testFiles("a.bin", "b.bin", "c.bin"),
		SessionConfig{
			Concurrency: 2,
			Transferrer: NewTransferrer(issuer, time.Minute, nil),
			Persister:   persister,
		})

	result := session.Run(context.Background())

	require.Len(t, result.Attached, 2)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, "b.bin", result.Failed[0].Filename)
	assert.Equal(t, appErrors.ErrTransfer.Code, result.Failed[0].Code)

	assert.Equal(t, 1, persister.calls)
	assert.Len(t, persister.lastBatch, 2)
	for _, artifact := range result.Attached {
		assert.Equal(t, "task-1", artifact.ParentID)
		assert.Equal(t, "user-1", artifact.UploadedBy)
	}

	assert.Equal(t, float64(100), session.Progress())
	snapshot := session.Snapshot()
	assert.True(t, snapshot.Settled)
	for _, job := range snapshot.Jobs {
		assert.True(t, job.State.Terminal())
		assert.Equal(t, float64(100), job.Progress)
	}
}

func TestSessionAllSucceed(t *testing.T) {
	server := newBlobServer(t)
	issuer := &stubIssuer{baseURL: server.URL}
	persister := &stubPersister{}

	session := NewSession(models.ParentTask, "task-1", "user-1", false,
		testFiles("a.bin", "b.bin", "c.bin", "d.bin"),
		SessionConfig{
			Concurrency: 3,
			Transferrer: NewTransferrer(issuer, time.Minute, nil),
			Persister:   persister,
		})

	result := session.Run(context.Background())

	assert.Len(t, result.Attached, 4)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 1, persister.calls)

	select {
	case <-session.Done():
	default:
		t.Fatal("session should be settled")
	}
}

func TestSessionPersistenceFailureReportsAllFilesFailed(t *testing.T) {
	server := newBlobServer(t)
	issuer := &stubIssuer{baseURL: server.URL}
	persister := &stubPersister{err: assert.AnError}

	session := NewSession(models.ParentTask, "task-1", "user-1", false,
		testFiles("a.bin", "b.bin"),
		SessionConfig{
			Transferrer: NewTransferrer(issuer, time.Minute, nil),
			Persister:   persister,
		})

	result := session.Run(context.Background())

	assert.Empty(t, result.Attached)
	assert.Len(t, result.Failed, 2)
	assert.Equal(t, 1, persister.calls)
}

func TestSessionCancelDiscardsRemainingJobs(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		server.Close()
	})

	issuer := &stubIssuer{baseURL: server.URL}
	persister := &stubPersister{}

	session := NewSession(models.ParentTask, "task-1", "user-1", false,
		testFiles("a.bin", "b.bin", "c.bin"),
		SessionConfig{
			Concurrency: 1,
			Transferrer: NewTransferrer(issuer, time.Minute, nil),
			Persister:   persister,
		})

	done := make(chan *SessionResult, 1)
	go func() {
		done <- session.Run(context.Background())
	}()

	<-started
	session.Cancel()

	var result *SessionResult
	select {
	case result = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not settle after cancel")
	}

	assert.Empty(t, result.Attached)
	assert.Len(t, result.Failed, 3)
	assert.Equal(t, 0, persister.calls)
	assert.Equal(t, float64(100), session.Progress())

	// Discarded and aborted jobs report the cancellation code, not a generic
	// failure, so the per-file breakdown stays honest.
	for _, failed := range result.Failed {
		assert.Equal(t, appErrors.ErrCancelled.Code, failed.Code)
	}
}

func TestSessionSnapshotSafeDuringCompression(t *testing.T) {
	server := newBlobServer(t)
	issuer := &stubIssuer{baseURL: server.URL}
	persister := &stubPersister{}

	names := make([]string, 32)
	for i := range names {
		names[i] = fmt.Sprintf("file-%d.bin", i)
	}
	session := NewSession(models.ParentTask, "task-1", "user-1", false,
		testFiles(names...),
		SessionConfig{
			Concurrency: 4,
			Compressor:  NewCompressor(1<<20, nil),
			Transferrer: NewTransferrer(issuer, time.Minute, nil),
			Persister:   persister,
		})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				snapshot := session.Snapshot()
				for _, job := range snapshot.Jobs {
					assert.NotEmpty(t, job.Filename)
				}
			}
		}
	}()

	result := session.Run(context.Background())
	close(stop)
	wg.Wait()

	assert.Len(t, result.Attached, len(names))
	assert.Empty(t, result.Failed)
}

func TestSessionEmptyBatchSettlesImmediately(t *testing.T) {
	persister := &stubPersister{}
	session := NewSession(models.ParentTask, "task-1", "user-1", false, nil,
		SessionConfig{
			Transferrer: NewTransferrer(&stubIssuer{}, time.Minute, nil),
			Persister:   persister,
		})

	result := session.Run(context.Background())

	assert.Empty(t, result.Attached)
	assert.Empty(t, result.Failed)
	assert.Equal(t, 0, persister.calls)
	assert.Equal(t, float64(100), session.Progress())
}

func TestSessionCompressesBeforeTransfer(t *testing.T) {
	server := newBlobServer(t)
	issuer := &stubIssuer{baseURL: server.URL}
	persister := &stubPersister{}

	session := NewSession(models.ParentTask, "task-1", "user-1", false,
		testFiles("a.bin"),
		SessionConfig{
			Compressor:  NewCompressor(1<<20, nil),
			Transferrer: NewTransferrer(issuer, time.Minute, nil),
			Persister:   persister,
		})

	result := session.Run(context.Background())

	require.Len(t, result.Attached, 1)
	assert.Equal(t, int64(len("data-a.bin")), result.Attached[0].SizeBytes)
}

func TestRegistrySweepDropsSettledSessions(t *testing.T) {
	registry := NewRegistry(time.Nanosecond, nil)

	session := NewSession(models.ParentTask, "task-1", "user-1", false, nil,
		SessionConfig{Transferrer: NewTransferrer(&stubIssuer{}, time.Minute, nil)})
	registry.Put(session)

	assert.Equal(t, 0, registry.Sweep())

	session.Run(context.Background())
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 1, registry.Sweep())
	_, ok := registry.Get(session.ID)
	assert.False(t, ok)
}

func TestRegistryCancelUnknownSession(t *testing.T) {
	registry := NewRegistry(time.Hour, nil)
	assert.False(t, registry.Cancel("missing"))
}
