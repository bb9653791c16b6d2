package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/staykey-io/staykey/internal/database"
	"github.com/staykey-io/staykey/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrJobNotFound is returned by GetStatus for unknown job identifiers
var ErrJobNotFound = errors.New("job not found")

// ResultStatus is the classification tag a handler returns. The queue
// inspects it to decide between completion, retry and dead-letter; the
// handlers stay free of queue mechanics.
type ResultStatus int

const (
	ResultSuccess ResultStatus = iota // done, no further attempts
	ResultRetry                       // transient failure, retry with backoff
	ResultDead                        // terminal, retries cannot help
)

// Result is returned by every job handler
type Result struct {
	Status ResultStatus
	Err    error
}

// Success returns a successful result
func Success() Result { return Result{Status: ResultSuccess} }

// Retry classifies a transient failure
func Retry(err error) Result { return Result{Status: ResultRetry, Err: err} }

// Dead classifies a terminal failure (dead-letter, no retry)
func Dead(err error) Result { return Result{Status: ResultDead, Err: err} }

// Handler processes one fired job. Attempts on the passed job row is the
// current attempt number (1-based); MaxAttempts is the retry ceiling.
type Handler interface {
	Process(ctx context.Context, job *models.QueueJob) Result
}

// Config holds queue tuning knobs
type Config struct {
	PollInterval      time.Duration // cadence of the due-job poll
	Workers           int           // concurrent handler goroutines
	MaxAttempts       int           // default retry ceiling for new jobs
	VisibilityTimeout time.Duration // running jobs older than this are requeued
	BaseBackoff       time.Duration // first retry delay, doubled per attempt
}

func (c *Config) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.VisibilityTimeout <= 0 {
		c.VisibilityTimeout = 5 * time.Minute
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 30 * time.Second
	}
}

// Queue is a delay-capable, at-least-once work queue persisted in the
// queue_jobs table. Multiple processes may poll the same table; claims are
// serialized through conditional updates on the status column.
type Queue struct {
	db       *database.DB
	cfg      Config
	mu       sync.RWMutex
	handlers map[models.JobKind]Handler

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a queue on top of an established database connection
func New(db *database.DB, cfg Config) *Queue {
	cfg.defaults()
	return &Queue{
		db:       db,
		cfg:      cfg,
		handlers: make(map[models.JobKind]Handler),
		stop:     make(chan struct{}),
	}
}

// RegisterHandler binds a handler to a job kind
func (q *Queue) RegisterHandler(kind models.JobKind, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[kind] = h
}

// Enqueue schedules a job to fire after the given delay. Re-enqueueing
// with the same jobID atomically replaces any prior pending job: payload,
// fire time and attempt counter are reset in one statement. A currently
// running execution is not interrupted; its completion update will simply
// miss the replaced row.
func (q *Queue) Enqueue(jobID string, kind models.JobKind, payload models.JSONB, delay time.Duration) error {
	if jobID == "" {
		return fmt.Errorf("job ID cannot be empty")
	}
	if delay < 0 {
		delay = 0
	}

	job := models.QueueJob{
		JobID:       jobID,
		Kind:        kind,
		Payload:     payload,
		RunAt:       time.Now().UTC().Add(delay),
		Attempts:    0,
		MaxAttempts: q.cfg.MaxAttempts,
		Status:      models.JobStatusPending,
	}

	return q.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"kind", "payload", "run_at", "attempts", "max_attempts",
			"status", "last_error", "started_at", "finished_at", "updated_at",
		}),
	}).Create(&job).Error
}

// Cancel removes a pending job by identifier. Returns true if a pending
// job was actually removed; cancelling an absent or already-fired job is
// a no-op.
func (q *Queue) Cancel(jobID string) (bool, error) {
	res := q.db.Where("job_id = ? AND status = ?", jobID, models.JobStatusPending).
		Delete(&models.QueueJob{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// GetStatus returns the queue entry for a job identifier
func (q *Queue) GetStatus(jobID string) (*models.QueueJob, error) {
	var job models.QueueJob
	err := q.db.First(&job, "job_id = ?", jobID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return &job, nil
}

// ListPending returns all pending jobs (used by reconciliation orphan cleanup)
func (q *Queue) ListPending() ([]models.QueueJob, error) {
	var jobs []models.QueueJob
	err := q.db.Where("status = ?", models.JobStatusPending).Find(&jobs).Error
	return jobs, err
}

// Start launches the polling workers and the stuck-job sweeper
func (q *Queue) Start(ctx context.Context) {
	log.Printf("🗓️ Job queue starting (%d workers, poll every %v)", q.cfg.Workers, q.cfg.PollInterval)

	for i := 0; i < q.cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}

	q.wg.Add(1)
	go q.sweeper(ctx)
}

// Stop shuts the queue down and waits for in-flight handlers
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
	q.wg.Wait()
	log.Println("✅ Job queue stopped")
}

// worker polls for due jobs and runs them
func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for {
				job, ok := q.claimNext()
				if !ok {
					break
				}
				q.run(ctx, job)
			}
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// claimNext atomically claims one due pending job. The conditional update
// on status means only one worker process wins a given row.
func (q *Queue) claimNext() (*models.QueueJob, bool) {
	now := time.Now().UTC()

	var candidate models.QueueJob
	err := q.db.Where("status = ? AND run_at <= ?", models.JobStatusPending, now).
		Order("run_at ASC").First(&candidate).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("⚠️ Queue poll error: %v", err)
		}
		return nil, false
	}

	res := q.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", candidate.ID, models.JobStatusPending).
		Updates(map[string]interface{}{
			"status":     models.JobStatusRunning,
			"attempts":   gorm.Expr("attempts + 1"),
			"started_at": now,
		})
	if res.Error != nil || res.RowsAffected == 0 {
		// Lost the race to another worker
		return nil, false
	}

	candidate.Status = models.JobStatusRunning
	candidate.Attempts++
	candidate.StartedAt = &now
	return &candidate, true
}

// run executes the handler for a claimed job and applies its result
func (q *Queue) run(ctx context.Context, job *models.QueueJob) {
	q.mu.RLock()
	handler, ok := q.handlers[job.Kind]
	q.mu.RUnlock()

	if !ok {
		log.Printf("⚠️ No handler registered for job kind %s (%s)", job.Kind, job.JobID)
		q.finish(job, models.JobStatusDead, fmt.Sprintf("no handler for kind %s", job.Kind))
		return
	}

	result := handler.Process(ctx, job)

	switch result.Status {
	case ResultSuccess:
		q.finish(job, models.JobStatusSucceeded, "")

	case ResultRetry:
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		if job.Attempts >= job.MaxAttempts {
			log.Printf("❌ Job %s exhausted %d attempts: %s", job.JobID, job.Attempts, msg)
			q.finish(job, models.JobStatusFailed, msg)
			return
		}
		delay := q.backoff(job.Attempts)
		log.Printf("🔁 Job %s attempt %d/%d failed, retrying in %v: %s",
			job.JobID, job.Attempts, job.MaxAttempts, delay, msg)
		q.reschedule(job, delay, msg)

	case ResultDead:
		msg := ""
		if result.Err != nil {
			msg = result.Err.Error()
		}
		log.Printf("💀 Job %s dead-lettered: %s", job.JobID, msg)
		q.finish(job, models.JobStatusDead, msg)
	}
}

// backoff doubles the base delay per completed attempt
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.cfg.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
	}
	return d
}

// finish records a terminal job state. The status guard keeps a
// superseding Enqueue from being clobbered by a stale completion.
func (q *Queue) finish(job *models.QueueJob, status, lastError string) {
	now := time.Now().UTC()
	err := q.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":      status,
			"last_error":  lastError,
			"finished_at": now,
		}).Error
	if err != nil {
		log.Printf("⚠️ Failed to finish job %s: %v", job.JobID, err)
	}
}

// reschedule puts a job back to pending with a delayed fire time
func (q *Queue) reschedule(job *models.QueueJob, delay time.Duration, lastError string) {
	err := q.db.Model(&models.QueueJob{}).
		Where("id = ? AND status = ?", job.ID, models.JobStatusRunning).
		Updates(map[string]interface{}{
			"status":     models.JobStatusPending,
			"run_at":     time.Now().UTC().Add(delay),
			"last_error": lastError,
		}).Error
	if err != nil {
		log.Printf("⚠️ Failed to reschedule job %s: %v", job.JobID, err)
	}
}

// sweeper requeues jobs stuck in running state past the visibility
// timeout (crashed worker) so at-least-once delivery holds.
func (q *Queue) sweeper(ctx context.Context) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.cfg.VisibilityTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-q.cfg.VisibilityTimeout)
			res := q.db.Model(&models.QueueJob{}).
				Where("status = ? AND started_at < ?", models.JobStatusRunning, cutoff).
				Update("status", models.JobStatusPending)
			if res.Error != nil {
				log.Printf("⚠️ Stuck-job sweep failed: %v", res.Error)
			} else if res.RowsAffected > 0 {
				log.Printf("🧹 Requeued %d stuck jobs", res.RowsAffected)
			}
		case <-q.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}
