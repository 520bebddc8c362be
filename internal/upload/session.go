package upload

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dayline-app/dayline-api/internal/models"
	appErrors "github.com/dayline-app/dayline-api/pkg/errors"
)

// JobState tracks one file through the pipeline.
type JobState string

const (
	JobQueued       JobState = "QUEUED"
	JobCompressing  JobState = "COMPRESSING"
	JobRequesting   JobState = "REQUESTING"
	JobTransferring JobState = "TRANSFERRING"
	JobCompleted    JobState = "COMPLETED"
	JobFailed       JobState = "FAILED"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

type job struct {
	id       string
	file     File
	progress float64
	state    JobState
	err      error
	artifact *models.Artifact
}

// JobView is a read-only snapshot of one job.
type JobView struct {
	ID       string   `json:"id"`
	Filename string   `json:"filename"`
	Progress float64  `json:"progress"`
	State    JobState `json:"state"`
	Error    string   `json:"error,omitempty"`
}

// FailedFile reports one file that did not complete, with its error code so
// the caller can decide whether resubmitting may help.
type FailedFile struct {
	Filename string `json:"filename"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// SessionResult is the settlement outcome. Partial success is a valid
// result, not an overall failure.
type SessionResult struct {
	Attached []models.Artifact `json:"attached"`
	Failed   []FailedFile      `json:"failed"`
}

// Snapshot is the polling view of a running or settled session.
type Snapshot struct {
	SessionID  string            `json:"sessionId"`
	ParentType models.ParentType `json:"parentType"`
	ParentID   string            `json:"parentId"`
	Aggregate  float64           `json:"aggregateProgress"`
	Settled    bool              `json:"settled"`
	Jobs       []JobView         `json:"jobs"`
	Result     *SessionResult    `json:"result,omitempty"`
}

// Persister performs the single settlement write appending artifacts to the
// target record.
type Persister interface {
	AttachArtifacts(ctx context.Context, parentType models.ParentType, parentID string, artifacts []models.Artifact) ([]models.Artifact, error)
}

// SessionConfig wires the pipeline stages.
type SessionConfig struct {
	Concurrency int
	Compressor  *Compressor
	Transferrer *Transferrer
	Persister   Persister
	Logger      *zap.Logger
}

// Session owns the batch of jobs for one attachment operation: it compresses
// sequentially, fans transfers out with bounded concurrency, tracks per-job
// progress, and performs exactly one persistence call once every job is
// terminal.
type Session struct {
	ID         string
	ParentType models.ParentType
	ParentID   string
	OwnerID    string
	IsPrivate  bool

	cfg SessionConfig

	mu        sync.RWMutex
	jobs      []*job
	cancel    context.CancelFunc
	settled   bool
	settledAt time.Time
	result    *SessionResult
	done      chan struct{}
	createdAt time.Time
}

// NewSession builds a session for a batch of files targeting one record.
func NewSession(parentType models.ParentType, parentID, ownerID string, isPrivate bool, files []File, cfg SessionConfig) *Session {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	jobs := make([]*job, len(files))
	for i, file := range files {
		jobs[i] = &job{id: uuid.NewString(), file: file, state: JobQueued}
	}
	return &Session{
		ID:         uuid.NewString(),
		ParentType: parentType,
		ParentID:   parentID,
		OwnerID:    ownerID,
		IsPrivate:  isPrivate,
		cfg:        cfg,
		jobs:       jobs,
		done:       make(chan struct{}),
		createdAt:  time.Now().UTC(),
	}
}

// Run executes the pipeline to settlement. It blocks; callers wanting a
// background session run it in a goroutine and poll Snapshot.
func (s *Session) Run(ctx context.Context) *SessionResult {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	// Compression is sequential so at most one decoded image is in memory.
	for i, j := range s.jobs {
		if runCtx.Err() != nil {
			break
		}
		if s.cfg.Compressor != nil {
			s.setState(j, JobCompressing)
			s.cfg.Logger.Debug("compressing file",
				zap.Int("index", i), zap.Int("total", len(s.jobs)), zap.String("filename", j.file.Filename))
			// Snapshot reads job files concurrently, so the result is staged
			// and stored under the session lock.
			compressed := s.cfg.Compressor.Compress(j.file)
			s.mu.Lock()
			j.file = compressed
			s.mu.Unlock()
			s.setState(j, JobQueued)
		}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for _, j := range s.jobs {
		j := j
		g.Go(func() error {
			s.runJob(runCtx, j)
			return nil
		})
	}
	_ = g.Wait()

	return s.settle(ctx)
}

// runJob drives one transfer worker. A failure here never affects sibling
// jobs; each terminal state is independent.
func (s *Session) runJob(ctx context.Context, j *job) {
	if ctx.Err() != nil {
		// Queued jobs are discarded on cancellation.
		s.fail(j, ctx.Err())
		return
	}
	s.setState(j, JobRequesting)
	cred, err := s.cfg.Transferrer.Issue(ctx, j.file, s.OwnerID, s.IsPrivate)
	if err != nil {
		s.fail(j, err)
		return
	}
	s.setState(j, JobTransferring)
	artifact, err := s.cfg.Transferrer.Put(ctx, cred, j.file, func(p float64) {
		s.setProgress(j, p)
	})
	if err != nil {
		s.fail(j, err)
		return
	}
	artifact.UploadedBy = s.OwnerID
	s.complete(j, artifact)
}

// settle runs once after every job is terminal: one attach call for all
// completed artifacts, then the result is frozen. Completed artifacts are
// persisted even when the session was cancelled so no stored object is left
// without a record reference.
func (s *Session) settle(ctx context.Context) *SessionResult {
	completed := make([]models.Artifact, 0, len(s.jobs))
	failed := make([]FailedFile, 0)
	s.mu.RLock()
	for _, j := range s.jobs {
		switch j.state {
		case JobCompleted:
			completed = append(completed, *j.artifact)
		case JobFailed:
			appErr := appErrors.FromError(j.err)
			failed = append(failed, FailedFile{Filename: j.file.Filename, Code: appErr.Code, Message: appErr.Message})
		}
	}
	s.mu.RUnlock()

	result := &SessionResult{Attached: []models.Artifact{}, Failed: failed}
	if len(completed) > 0 && s.cfg.Persister != nil {
		attached, err := s.cfg.Persister.AttachArtifacts(context.WithoutCancel(ctx), s.ParentType, s.ParentID, completed)
		if err != nil {
			// The media set change is all-or-nothing: when the single
			// persistence call fails no artifact is reported as attached.
			s.cfg.Logger.Error("session settlement failed", zap.String("session_id", s.ID), zap.Error(err))
			appErr := appErrors.FromError(err)
			for _, artifact := range completed {
				result.Failed = append(result.Failed, FailedFile{Filename: artifact.Filename, Code: appErr.Code, Message: appErr.Message})
			}
		} else {
			result.Attached = attached
		}
	}

	s.mu.Lock()
	s.settled = true
	s.settledAt = time.Now().UTC()
	s.result = result
	s.mu.Unlock()
	close(s.done)
	return result
}

// Cancel aborts in-flight transfers and discards queued jobs. Jobs that have
// already completed are not rolled back; detach is the explicit undo.
func (s *Session) Cancel() {
	s.mu.RLock()
	cancel := s.cancel
	s.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
}

// Done is closed at settlement.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Progress returns the aggregate percentage: the unweighted mean of per-job
// progress. Terminal jobs report 100, so the aggregate reaches 100 exactly
// when every job has settled.
func (s *Session) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() float64 {
	if len(s.jobs) == 0 {
		return 100
	}
	var sum float64
	for _, j := range s.jobs {
		sum += j.progress
	}
	return sum / float64(len(s.jobs))
}

// Snapshot returns the polling view.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	jobs := make([]JobView, len(s.jobs))
	for i, j := range s.jobs {
		view := JobView{ID: j.id, Filename: j.file.Filename, Progress: j.progress, State: j.state}
		if j.err != nil {
			view.Error = appErrors.FromError(j.err).Message
		}
		jobs[i] = view
	}
	return Snapshot{
		SessionID:  s.ID,
		ParentType: s.ParentType,
		ParentID:   s.ParentID,
		Aggregate:  s.progressLocked(),
		Settled:    s.settled,
		Jobs:       jobs,
		Result:     s.result,
	}
}

// SettledAt reports when the session settled (zero until then).
func (s *Session) SettledAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settledAt
}

// setProgress raises a job's progress; events arriving out of order or
// duplicated never move it backwards.
func (s *Session) setProgress(j *job, percent float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if percent > j.progress && !j.state.Terminal() {
		if percent > 100 {
			percent = 100
		}
		j.progress = percent
	}
}

func (s *Session) setState(j *job, state JobState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !j.state.Terminal() {
		j.state = state
	}
}

func (s *Session) fail(j *job, err error) {
	if errors.Is(err, context.Canceled) {
		err = appErrors.Clone(appErrors.ErrCancelled, "")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = JobFailed
	j.err = err
	j.progress = 100
}

func (s *Session) complete(j *job, artifact *models.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.state.Terminal() {
		return
	}
	j.state = JobCompleted
	j.artifact = artifact
	j.progress = 100
}
