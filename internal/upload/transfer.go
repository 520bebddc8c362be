package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

// CredentialRequest is the payload sent to the credential issuer.
type CredentialRequest struct {
	Filename    string
	ContentType string
	OwnerID     string
	IsPrivate   bool
}

// Credential is a presigned write/read handle pair for one object.
type Credential struct {
	WriteURL   string
	ReadURL    string
	StorageKey string
}

// CredentialIssuer abstracts the storage-adjacent service that mints
// presigned handles. The pipeline depends only on this contract.
type CredentialIssuer interface {
	Issue(ctx context.Context, req CredentialRequest) (*Credential, error)
	ResignRead(ctx context.Context, storageKey string) (string, time.Duration, error)
}

// ProgressFunc receives byte-level progress in [0,100].
type ProgressFunc func(percent float64)

// TransferObserver receives the outcome of each completed PUT attempt.
type TransferObserver func(succeeded bool, bytes int64, duration time.Duration)

// Transferrer streams one file end to end: credential, PUT, artifact.
type Transferrer struct {
	issuer   CredentialIssuer
	client   *http.Client
	timeout  time.Duration
	logger   *zap.Logger
	observer TransferObserver
}

// NewTransferrer builds a transfer worker factory.
func NewTransferrer(issuer CredentialIssuer, timeout time.Duration, logger *zap.Logger) *Transferrer {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transferrer{
		issuer:  issuer,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// SetObserver registers a metrics hook for transfer outcomes.
func (t *Transferrer) SetObserver(observer TransferObserver) {
	t.observer = observer
}

// Issue requests a write credential for the file.
func (t *Transferrer) Issue(ctx context.Context, file File, ownerID string, isPrivate bool) (*Credential, error) {
	cred, err := t.issuer.Issue(ctx, CredentialRequest{
		Filename:    file.Filename,
		ContentType: file.MimeType,
		OwnerID:     ownerID,
		IsPrivate:   isPrivate,
	})
	if err != nil {
		return nil, fmt.Errorf("issue credential: %w", err)
	}
	return cred, nil
}

// Put streams the file body to the credential's write handle. Progress is
// emitted per read chunk and is monotone non-decreasing. Once the transport
// reports completion the worker finishes resolution even if the caller's
// context has since been cancelled, so no stored object is left unreferenced.
func (t *Transferrer) Put(ctx context.Context, cred *Credential, file File, onProgress ProgressFunc) (artifact *models.Artifact, err error) {
	putCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	if t.observer != nil {
		start := time.Now()
		defer func() {
			t.observer(err == nil, int64(len(file.Data)), time.Since(start))
		}()
	}

	body := &progressReader{
		r:      bytes.NewReader(file.Data),
		total:  int64(len(file.Data)),
		report: onProgress,
	}
	req, err := http.NewRequestWithContext(putCtx, http.MethodPut, cred.WriteURL, body)
	if err != nil {
		return nil, &appErrors.TransferError{Err: err}
	}
	req.ContentLength = int64(len(file.Data))
	req.Header.Set("Content-Type", file.MimeType)

	resp, err := t.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, context.Canceled
		}
		if isTimeout(putCtx, err) {
			return nil, &appErrors.TransferError{Timeout: true, Err: err}
		}
		return nil, &appErrors.TransferError{Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &appErrors.TransferError{TransportStatus: resp.StatusCode}
	}

	return &models.Artifact{
		StorageKey: cred.StorageKey,
		URL:        cred.ReadURL,
		Filename:   file.Filename,
		MimeType:   file.MimeType,
		SizeBytes:  int64(len(file.Data)),
	}, nil
}

// Transfer runs the full worker protocol for one file.
func (t *Transferrer) Transfer(ctx context.Context, file File, ownerID string, isPrivate bool, onProgress ProgressFunc) (*models.Artifact, error) {
	cred, err := t.Issue(ctx, file, ownerID, isPrivate)
	if err != nil {
		return nil, err
	}
	return t.Put(ctx, cred, file, onProgress)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// progressReader counts bytes handed to the transport. Progress only ever
// increases; the transport reading sequentially guarantees ordering.
type progressReader struct {
	r      io.Reader
	total  int64
	sent   int64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		if p.report != nil && p.total > 0 {
			percent := float64(p.sent) / float64(p.total) * 100
			if percent > 100 {
				percent = 100
			}
			p.report(percent)
		}
	}
	return n, err
}
