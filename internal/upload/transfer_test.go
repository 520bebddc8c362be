package upload

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

type stubIssuer struct {
	mu       sync.Mutex
	baseURL  string
	failFor  map[string]bool
	issueErr error
	issued   int
}

func (s *stubIssuer) Issue(_ context.Context, req CredentialRequest) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.issueErr != nil {
		return nil, s.issueErr
	}
	s.issued++
	writeURL := s.baseURL + "/put/" + req.Filename
	if s.failFor[req.Filename] {
		writeURL += "?fail=1"
	}
	return &Credential{
		WriteURL:   writeURL,
		ReadURL:    s.baseURL + "/get/" + req.Filename,
		StorageKey: "uploads/test/" + req.Filename,
	}, nil
}

func (s *stubIssuer) ResignRead(_ context.Context, storageKey string) (string, time.Duration, error) {
	return s.baseURL + "/get/" + storageKey, time.Minute, nil
}

func TestTransferrerPutSucceeds(t *testing.T) {
	var gotBody []byte
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotContentType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	issuer := &stubIssuer{baseURL: server.URL}
	tr := NewTransferrer(issuer, time.Minute, nil)
	file := File{Filename: "photo.jpg", MimeType: "image/jpeg", Data: []byte("payload-bytes")}

	var reports []float64
	artifact, err := tr.Transfer(context.Background(), file, "user-1", false, func(p float64) {
		reports = append(reports, p)
	})
	require.NoError(t, err)

	assert.Equal(t, file.Data, gotBody)
	assert.Equal(t, "image/jpeg", gotContentType)
	assert.Equal(t, "uploads/test/photo.jpg", artifact.StorageKey)
	assert.Equal(t, server.URL+"/get/photo.jpg", artifact.URL)
	assert.Equal(t, int64(len(file.Data)), artifact.SizeBytes)

	require.NotEmpty(t, reports)
	for i := 1; i < len(reports); i++ {
		assert.GreaterOrEqual(t, reports[i], reports[i-1])
	}
	assert.Equal(t, float64(100), reports[len(reports)-1])
}

func TestTransferrerPutMapsRejectionToTransferError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	issuer := &stubIssuer{baseURL: server.URL}
	tr := NewTransferrer(issuer, time.Minute, nil)

	_, err := tr.Transfer(context.Background(), File{Filename: "f.bin", MimeType: "application/octet-stream", Data: []byte("x")}, "user-1", false, nil)
	require.Error(t, err)

	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTransfer.Code, appErr.Code)
	assert.False(t, appErrors.IsTimeout(err))
}

func TestTransferrerPutTimesOut(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer func() {
		close(release)
		server.Close()
	}()

	issuer := &stubIssuer{baseURL: server.URL}
	tr := NewTransferrer(issuer, 50*time.Millisecond, nil)

	_, err := tr.Transfer(context.Background(), File{Filename: "slow.bin", MimeType: "application/octet-stream", Data: []byte("x")}, "user-1", false, nil)
	require.Error(t, err)

	assert.True(t, appErrors.IsTimeout(err))
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrTimeout.Code, appErr.Code)
}

func TestTransferrerPutPropagatesCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	issuer := &stubIssuer{baseURL: server.URL}
	tr := NewTransferrer(issuer, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.Transfer(ctx, File{Filename: "f.bin", MimeType: "application/octet-stream", Data: []byte("x")}, "user-1", false, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTransferrerIssueFailure(t *testing.T) {
	issuer := &stubIssuer{issueErr: assert.AnError}
	tr := NewTransferrer(issuer, time.Minute, nil)

	_, err := tr.Transfer(context.Background(), File{Filename: "f.bin"}, "user-1", false, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}
