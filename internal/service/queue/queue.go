package queue

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Taichi-iskw/vid-scribe/internal/errors"
	"github.com/Taichi-iskw/vid-scribe/internal/model"
	"github.com/Taichi-iskw/vid-scribe/internal/service/events"
)

// defaultYield keeps the scheduler responsive between jobs
const defaultYield = 100 * time.Millisecond

// ProgressFunc reports stage progress for the job being processed
type ProgressFunc func(stage string, progress int, message string)

// Runner executes one job end-to-end. The job is passed by value so the
// queue remains the only writer of scheduling state.
type Runner interface {
	Process(ctx context.Context, job model.Job, onProgress ProgressFunc) error
}

// Stats aggregates job counts by status
type Stats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
}

// Queue schedules transcription jobs strictly one at a time, highest
// priority first and FIFO among equal priorities.
type Queue interface {
	// Enqueue adds a job and starts processing if idle. A video can have
	// at most one active job.
	Enqueue(videoID, videoPath string, priority int) (*model.Job, error)
	// Cancel removes a queued job or trips the cancellation handle of the
	// processing one.
	Cancel(jobID string) error
	// Job returns a snapshot of one job.
	Job(jobID string) (*model.Job, error)
	// JobsByVideo returns snapshots of all jobs for a video, oldest first.
	JobsByVideo(videoID string) []*model.Job
	// Jobs returns snapshots of every known job, oldest first.
	Jobs() []*model.Job
	// Status aggregates job counts by status.
	Status() Stats
	// Remove forgets a terminal job.
	Remove(jobID string) error
	// Close cancels the in-flight job, stops the loop, and waits for it.
	Close()
}

type queue struct {
	runner Runner
	bus    *events.Bus
	logger *logrus.Logger
	yield  time.Duration

	mu      sync.Mutex
	jobs    map[string]*model.Job
	pending []*model.Job
	cancels map[string]context.CancelFunc

	wake      chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewQueue creates a queue and starts its scheduling loop
func NewQueue(runner Runner, bus *events.Bus, logger *logrus.Logger) Queue {
	return NewQueueWithYield(runner, bus, logger, defaultYield)
}

// NewQueueWithYield creates a queue with a custom between-job yield (for
// testing)
func NewQueueWithYield(runner Runner, bus *events.Bus, logger *logrus.Logger, yield time.Duration) Queue {
	q := &queue{
		runner:  runner,
		bus:     bus,
		logger:  logger,
		yield:   yield,
		jobs:    make(map[string]*model.Job),
		cancels: make(map[string]context.CancelFunc),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *queue) Enqueue(videoID, videoPath string, priority int) (*model.Job, error) {
	if videoID == "" {
		return nil, errors.New(errors.CodeInvalidArg, "video id is required")
	}
	if videoPath == "" {
		return nil, errors.New(errors.CodeInvalidArg, "video path is required")
	}

	q.mu.Lock()
	for _, job := range q.jobs {
		if job.VideoID == videoID && job.Status.IsActive() {
			q.mu.Unlock()
			return nil, errors.New(errors.CodeConflict, fmt.Sprintf("video %s already has an active job", videoID))
		}
	}

	job := &model.Job{
		ID:        uuid.New().String(),
		VideoID:   videoID,
		VideoPath: videoPath,
		Status:    model.JobStatusQueued,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
	q.jobs[job.ID] = job
	q.insertLocked(job)
	snapshot := *job
	q.mu.Unlock()

	q.publish(events.TypeAdded, &snapshot, "job queued")
	q.wakeLoop()
	return &snapshot, nil
}

// insertLocked places the job before the first queued job with a lower
// priority, preserving FIFO order among equal priorities
func (q *queue) insertLocked(job *model.Job) {
	pos := len(q.pending)
	for i, queued := range q.pending {
		if queued.Priority < job.Priority {
			pos = i
			break
		}
	}
	q.pending = append(q.pending, nil)
	copy(q.pending[pos+1:], q.pending[pos:])
	q.pending[pos] = job
}

func (q *queue) removePendingLocked(jobID string) {
	for i, job := range q.pending {
		if job.ID == jobID {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *queue) Cancel(jobID string) error {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return errors.New(errors.CodeNotFound, fmt.Sprintf("job not found: %s", jobID))
	}

	switch job.Status {
	case model.JobStatusQueued:
		q.removePendingLocked(jobID)
		now := time.Now()
		job.Status = model.JobStatusCancelled
		job.CompletedAt = &now
		snapshot := *job
		q.mu.Unlock()
		q.publish(events.TypeCancelled, &snapshot, "job cancelled")
		return nil

	case model.JobStatusProcessing:
		cancel := q.cancels[jobID]
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil

	default:
		q.mu.Unlock()
		return errors.New(errors.CodeInvalidArg, fmt.Sprintf("job %s is already %s", jobID, job.Status))
	}
}

func (q *queue) Job(jobID string) (*model.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("job not found: %s", jobID))
	}
	snapshot := *job
	return &snapshot, nil
}

func (q *queue) JobsByVideo(videoID string) []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*model.Job
	for _, job := range q.jobs {
		if job.VideoID == videoID {
			snapshot := *job
			out = append(out, &snapshot)
		}
	}
	sortJobs(out)
	return out
}

func (q *queue) Jobs() []*model.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*model.Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		snapshot := *job
		out = append(out, &snapshot)
	}
	sortJobs(out)
	return out
}

func sortJobs(jobs []*model.Job) {
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}

func (q *queue) Status() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	var stats Stats
	for _, job := range q.jobs {
		switch job.Status {
		case model.JobStatusQueued:
			stats.Queued++
		case model.JobStatusProcessing:
			stats.Processing++
		case model.JobStatusCompleted:
			stats.Completed++
		case model.JobStatusFailed:
			stats.Failed++
		case model.JobStatusCancelled:
			stats.Cancelled++
		}
	}
	return stats
}

func (q *queue) Remove(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	job, ok := q.jobs[jobID]
	if !ok {
		return errors.New(errors.CodeNotFound, fmt.Sprintf("job not found: %s", jobID))
	}
	if !job.Status.IsTerminal() {
		return errors.New(errors.CodeInvalidArg, fmt.Sprintf("job %s is still %s", jobID, job.Status))
	}
	delete(q.jobs, jobID)
	return nil
}

func (q *queue) Close() {
	q.closeOnce.Do(func() {
		close(q.stopCh)
		q.mu.Lock()
		for _, cancel := range q.cancels {
			cancel()
		}
		q.mu.Unlock()
	})
	<-q.done
}

func (q *queue) wakeLoop() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) loop() {
	defer close(q.done)
	for {
		select {
		case <-q.stopCh:
			return
		case <-q.wake:
		}

		for {
			job, ctx := q.takeNext()
			if job == nil {
				break
			}

			q.publish(events.TypeStarted, job, "job started")
			err := q.runJob(ctx, *job)
			q.finishJob(job.ID, err)

			select {
			case <-q.stopCh:
				return
			case <-time.After(q.yield):
			}
		}
	}
}

// takeNext pulls the highest-priority queued job and marks it processing
func (q *queue) takeNext() (*model.Job, context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]

	ctx, cancel := context.WithCancel(context.Background())
	q.cancels[job.ID] = cancel

	now := time.Now()
	job.Status = model.JobStatusProcessing
	job.StartedAt = &now

	snapshot := *job
	return &snapshot, ctx
}

// runJob executes the runner, converting panics into failures so one bad
// job cannot stop the loop
func (q *queue) runJob(ctx context.Context, job model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Errorf("job %s panicked: %v", job.ID, r)
			err = errors.New(errors.CodeInternal, fmt.Sprintf("job panicked: %v", r))
		}
	}()

	return q.runner.Process(ctx, job, func(stage string, progress int, message string) {
		q.updateProgress(job.ID, stage, progress, message)
	})
}

func (q *queue) updateProgress(jobID, stage string, progress int, message string) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok || job.Status != model.JobStatusProcessing {
		q.mu.Unlock()
		return
	}
	job.Stage = stage
	job.Progress = progress
	snapshot := *job
	q.mu.Unlock()

	q.publish(events.TypeProgress, &snapshot, message)
}

// finishJob records the outcome and releases the processing slot
func (q *queue) finishJob(jobID string, err error) {
	q.mu.Lock()
	job, ok := q.jobs[jobID]
	if !ok {
		q.mu.Unlock()
		return
	}

	if cancel := q.cancels[jobID]; cancel != nil {
		cancel()
		delete(q.cancels, jobID)
	}

	now := time.Now()
	job.CompletedAt = &now

	eventType := events.TypeCompleted
	message := "job completed"
	switch {
	case err == nil:
		job.Status = model.JobStatusCompleted
		job.Progress = 100
	case errors.IsCancelled(err) || stderrors.Is(err, context.Canceled):
		job.Status = model.JobStatusCancelled
		eventType = events.TypeCancelled
		message = "job cancelled"
	default:
		job.Status = model.JobStatusFailed
		job.Error = err.Error()
		eventType = events.TypeFailed
		message = err.Error()
		q.logger.Errorf("job %s failed: %v", jobID, err)
	}

	snapshot := *job
	q.mu.Unlock()

	q.publish(eventType, &snapshot, message)
}

func (q *queue) publish(eventType events.Type, job *model.Job, message string) {
	q.bus.Publish(events.Event{
		Type:     eventType,
		JobID:    job.ID,
		VideoID:  job.VideoID,
		Stage:    job.Stage,
		Progress: job.Progress,
		Message:  message,
	})
}
