package downloader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"docharvest/pkg/browser"
	errs "docharvest/pkg/errors"
	"docharvest/pkg/linkset"
	"docharvest/pkg/logger"
	"docharvest/pkg/ratelimit"
)

// Job is a single download task.
type Job struct {
	Link   linkset.Link
	Target string
}

// JobResult is the result of a download job.
type JobResult struct {
	Job      Job
	Result   Result
	Err      error
	Duration time.Duration
	WorkerID int
}

// Escalator re-verifies the gate for one browser.
type Escalator interface {
	Reclear(ctx context.Context, b browser.Browser) error
}

// PoolOptions configures pacing between downloads.
type PoolOptions struct {
	// Pace runs after every attempted download.
	Pace ratelimit.Jitter
	// Backoff replaces Pace after an Unauthorized response.
	Backoff ratelimit.Jitter
}

// WorkerPool runs one worker per browser. With a single browser jobs are
// processed strictly in submission order.
type WorkerPool struct {
	browsers    []browser.Browser
	jobQueue    chan Job
	resultQueue chan JobResult
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	executor    *Executor
	gate        Escalator
	opts        PoolOptions
	logger      logger.Logger
	stopOnce    sync.Once
}

// NewWorkerPool creates a pool bound to ctx. gate may be nil.
func NewWorkerPool(
	ctx context.Context,
	browsers []browser.Browser,
	executor *Executor,
	gate Escalator,
	opts PoolOptions,
	log logger.Logger,
) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)

	if log == nil {
		log = logger.GetLogger()
	}

	n := len(browsers)
	return &WorkerPool{
		browsers:    browsers,
		jobQueue:    make(chan Job, n*2),
		resultQueue: make(chan JobResult, n),
		ctx:         ctx,
		cancel:      cancel,
		executor:    executor,
		gate:        gate,
		opts:        opts,
		logger:      log,
	}
}

// Start launches the workers.
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("starting worker pool", map[string]interface{}{
		"num_workers": len(wp.browsers),
	})

	for i := range wp.browsers {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers and closes Results.
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() {
		close(wp.jobQueue)
		wp.wg.Wait()
		close(wp.resultQueue)
		wp.cancel()
		wp.logger.Debug("worker pool stopped")
	})
}

// Cancel aborts in-flight and queued jobs. Results is still closed by Stop.
func (wp *WorkerPool) Cancel() {
	wp.cancel()
}

// Submit queues a job, blocking while the queue is full.
func (wp *WorkerPool) Submit(job Job) error {
	if err := wp.ctx.Err(); err != nil {
		return fmt.Errorf("worker pool is shutting down: %w", err)
	}
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel.
func (wp *WorkerPool) Results() <-chan JobResult {
	return wp.resultQueue
}

// Run starts the pool, feeds it jobs and calls fn with every result. fn
// returning false cancels the remaining jobs. Run returns once every worker
// has stopped.
func (wp *WorkerPool) Run(jobs []Job, fn func(JobResult) bool) {
	wp.Start()
	go func() {
		defer wp.Stop()
		for _, job := range jobs {
			if err := wp.Submit(job); err != nil {
				return
			}
		}
	}()

	stopped := false
	for res := range wp.Results() {
		if stopped {
			continue
		}
		if !fn(res) {
			stopped = true
			wp.Cancel()
		}
	}
}

// GetActiveWorkers returns the number of workers.
func (wp *WorkerPool) GetActiveWorkers() int {
	return len(wp.browsers)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	b := wp.browsers[id]

	for job := range wp.jobQueue {
		if wp.ctx.Err() != nil {
			continue
		}

		result := wp.processJob(b, job, id)
		if wp.ctx.Err() != nil {
			continue
		}

		select {
		case wp.resultQueue <- result:
		case <-wp.ctx.Done():
		}
	}
}

func (wp *WorkerPool) processJob(b browser.Browser, job Job, workerID int) JobResult {
	start := time.Now()
	fields := map[string]interface{}{
		"worker_id": workerID,
		"id":        job.Link.ID,
		"dataset":   job.Link.Dataset,
	}

	res, err := wp.executor.Download(wp.ctx, b, job.Link, job.Target)
	if err != nil && wp.gate != nil && wp.ctx.Err() == nil &&
		(errs.Is(err, errs.ErrorTypeUnauthorized) || errs.Is(err, errs.ErrorTypeUnexpectedContentType)) {
		wp.logger.WarnWithFields("document blocked, re-verifying gate", fields)
		if gerr := wp.gate.Reclear(wp.ctx, b); gerr != nil {
			err = gerr
		} else {
			first := res.Attempts
			res, err = wp.executor.Download(wp.ctx, b, job.Link, job.Target)
			res.Attempts += first
		}
	}

	if res.Outcome != Skipped || err != nil {
		pace := wp.opts.Pace
		if errs.Is(err, errs.ErrorTypeUnauthorized) {
			pace = wp.opts.Backoff
		}
		_ = pace.Wait(wp.ctx)
	}

	return JobResult{
		Job:      job,
		Result:   res,
		Err:      err,
		Duration: time.Since(start),
		WorkerID: workerID,
	}
}
