package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

// Task is what a handler sees of the job it executes.
type Task struct {
	ID     string
	Kind   Kind
	Params Params

	tracker *ProgressTracker
}

// Progress publishes the position of the running job.
func (t *Task) Progress(current, total int, message string) {
	if t.tracker != nil {
		t.tracker.UpdateProgress(current, total, message)
	}
}

// Handler executes one job. The returned value becomes the job result. The
// context is cancelled with ErrCancelled or ErrHardAbort as its cause.
type Handler func(ctx context.Context, task *Task) (any, error)

// Options configure a Runner.
type Options struct {
	PoolSize    int
	Retention   time.Duration
	GracePeriod time.Duration
	ReapEvery   time.Duration
}

type execution struct {
	ctx     context.Context
	cancel  context.CancelCauseFunc
	tracker *ProgressTracker
}

// Runner executes jobs on a bounded worker pool, one job per kind at a time.
type Runner struct {
	store    Store
	handlers map[Kind]Handler
	pool     *ants.Pool
	opts     Options
	now      func() time.Time
	newID    func() string
	// jobs requested before bootedAt belong to an earlier process
	bootedAt time.Time

	mu      sync.Mutex
	active  map[Kind]string
	running map[string]*execution
	started bool
	stopped bool
	wg      sync.WaitGroup

	stopReaper chan struct{}
	reaperDone chan struct{}
}

// NewRunner creates a runner. Start must be called before jobs are reaped.
func NewRunner(store Store, handlers map[Kind]Handler, opts Options) (*Runner, error) {
	// one worker per kind; coalescing keeps at most len(Kinds) jobs active,
	// so a non-blocking submit never overloads the pool
	if opts.PoolSize < len(Kinds) {
		opts.PoolSize = len(Kinds)
	}
	if opts.Retention <= 0 {
		opts.Retention = 24 * time.Hour
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = time.Hour
	}
	if opts.ReapEvery <= 0 {
		opts.ReapEvery = time.Minute
	}

	pool, err := ants.NewPool(opts.PoolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Runner{
		store:      store,
		handlers:   handlers,
		pool:       pool,
		opts:       opts,
		now:        time.Now,
		newID:      uuid.NewString,
		bootedAt:   time.Now().UTC(),
		active:     make(map[Kind]string),
		running:    make(map[string]*execution),
		stopReaper: make(chan struct{}),
		reaperDone: make(chan struct{}),
	}, nil
}

// Start reaps jobs left over from a previous process and begins periodic
// pruning.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.started || r.stopped {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	if err := r.Prune(); err != nil {
		log.Error().Err(err).Msg("Failed to prune jobs")
	}

	go func() {
		defer close(r.reaperDone)
		ticker := time.NewTicker(r.opts.ReapEvery)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := r.Prune(); err != nil {
					log.Error().Err(err).Msg("Failed to prune jobs")
				}
			case <-r.stopReaper:
				return
			}
		}
	}()
}

// Enqueue registers a QUEUED job and hands it to a worker. If a job of the
// same kind is already queued or running, that job is returned with
// coalesced set and nothing new is created.
func (r *Runner) Enqueue(kind Kind, params Params) (job *Job, coalesced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, false, ErrRunnerStopped
	}
	handler, ok := r.handlers[kind]
	if !ok {
		return nil, false, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	if id, ok := r.active[kind]; ok {
		existing, err := r.store.Get(id)
		if err != nil {
			return nil, false, err
		}
		if exec, ok := r.running[id]; ok {
			attachProgress(existing, exec)
		}
		log.Info().Str("job_id", id).Str("kind", string(kind)).Msg("Job already active, coalescing")
		return existing, true, nil
	}

	job = &Job{
		ID:          r.newID(),
		Kind:        kind,
		State:       StateQueued,
		Params:      params,
		RequestedAt: r.now().UTC(),
	}
	if err := r.store.Save(job); err != nil {
		return nil, false, fmt.Errorf("failed to save job: %w", err)
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	exec := &execution{ctx: ctx, cancel: cancel, tracker: NewProgressTracker(job.ID)}
	r.active[kind] = job.ID
	r.running[job.ID] = exec
	r.wg.Add(1)

	log.Info().Str("job_id", job.ID).Str("kind", string(kind)).Msg("Job queued")
	if err := r.pool.Submit(func() { r.execute(job.ID, kind, handler, exec) }); err != nil {
		delete(r.active, kind)
		delete(r.running, job.ID)
		r.wg.Done()
		cancel(err)
		_ = r.store.Delete(job.ID)
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to submit job")
		return nil, false, fmt.Errorf("failed to submit job: %w", err)
	}

	return job.clone(), false, nil
}

func (r *Runner) execute(id string, kind Kind, handler Handler, exec *execution) {
	defer r.wg.Done()

	job, err := r.store.Get(id)
	if err != nil {
		log.Error().Err(err).Str("job_id", id).Msg("Failed to load queued job")
		r.release(id, kind)
		exec.cancel(nil)
		exec.tracker.Close(StateFailed, err.Error())
		return
	}
	logger := log.With().Str("job_id", id).Str("kind", string(job.Kind)).Logger()

	if exec.ctx.Err() != nil {
		cause := context.Cause(exec.ctx)
		r.finish(job, nil, cause, exec)
		logger.Info().Err(cause).Msg("Job cancelled before it started")
		return
	}

	started := r.now().UTC()
	job.State = StateRunning
	job.StartedAt = &started
	if err := r.store.Save(job); err != nil {
		logger.Error().Err(err).Msg("Failed to save running job")
	}
	exec.tracker.UpdateState(StateRunning, "running")
	logger.Info().Msg("Job started")

	task := &Task{ID: job.ID, Kind: job.Kind, Params: job.Params, tracker: exec.tracker}
	result, runErr := invoke(exec.ctx, handler, task)

	r.finish(job, result, runErr, exec)
	if runErr != nil {
		logger.Error().Err(runErr).Dur("duration", time.Since(started)).Msg("Job failed")
	} else {
		logger.Info().Dur("duration", time.Since(started)).Msg("Job succeeded")
	}
}

func invoke(ctx context.Context, handler Handler, task *Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ctx, task)
}

// finish moves job to its terminal state and releases the kind.
func (r *Runner) finish(job *Job, result any, runErr error, exec *execution) {
	completed := r.now().UTC()
	job.CompletedAt = &completed
	job.Progress = exec.tracker.Snapshot()

	if result != nil {
		encoded, err := json.Marshal(result)
		if err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to encode job result")
		} else {
			job.Result = encoded
		}
	}

	if runErr != nil {
		job.State = StateFailed
		job.Error = runErr.Error()
	} else {
		job.State = StateSucceeded
	}

	// once a terminal state is visible the kind must already be free
	r.release(job.ID, job.Kind)
	if err := r.store.Save(job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to save finished job")
	}
	exec.cancel(nil)
	exec.tracker.Close(job.State, closeMessage(job))
}

func (r *Runner) release(id string, kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[kind] == id {
		delete(r.active, kind)
	}
	delete(r.running, id)
}

func closeMessage(job *Job) string {
	if job.Error != "" {
		return job.Error
	}
	return "done"
}

// GetStatus returns the current state of a job.
func (r *Runner) GetStatus(id string) (*Job, error) {
	job, err := r.store.Get(id)
	if err != nil {
		return nil, err
	}
	return r.withProgress(job), nil
}

func (r *Runner) withProgress(job *Job) *Job {
	if job.State.Terminal() {
		return job
	}
	r.mu.Lock()
	exec, ok := r.running[job.ID]
	r.mu.Unlock()
	if ok {
		attachProgress(job, exec)
	}
	return job
}

func attachProgress(job *Job, exec *execution) {
	if p := exec.tracker.Snapshot(); p != nil {
		job.Progress = p
	}
}

// List returns every retained job, newest first.
func (r *Runner) List() ([]*Job, error) {
	return r.store.List()
}

// Cancel cancels a queued or running job. A soft cancel lets the job flush
// what it already completed; hard discards it.
func (r *Runner) Cancel(id string, hard bool) (*Job, error) {
	r.mu.Lock()
	exec, ok := r.running[id]
	r.mu.Unlock()

	if !ok {
		job, err := r.store.Get(id)
		if err != nil {
			return nil, err
		}
		if job.State.Terminal() {
			return job, ErrJobFinished
		}
		return job, fmt.Errorf("job %s is not owned by this runner", id)
	}

	cause := ErrCancelled
	if hard {
		cause = ErrHardAbort
	}
	exec.cancel(cause)
	log.Info().Str("job_id", id).Bool("hard", hard).Msg("Job cancel requested")

	return r.GetStatus(id)
}

// Subscribe returns a channel of progress updates for an active job, closed
// when the job finishes, and a function to stop listening.
func (r *Runner) Subscribe(id string) (<-chan ProgressUpdate, func(), error) {
	r.mu.Lock()
	exec, ok := r.running[id]
	r.mu.Unlock()

	if !ok {
		if _, err := r.store.Get(id); err != nil {
			return nil, nil, err
		}
		return nil, nil, ErrJobFinished
	}

	ch := exec.tracker.Subscribe()
	return ch, func() { exec.tracker.Unsubscribe(ch) }, nil
}

// Prune deletes terminal jobs past retention and fails jobs that were left
// queued or running by an earlier process for longer than the grace period.
// Jobs requested since this runner was created are never reaped.
func (r *Runner) Prune() error {
	jobs, err := r.store.List()
	if err != nil {
		return err
	}

	now := r.now().UTC()
	var errs []error
	for _, job := range jobs {
		switch {
		case job.State.Terminal():
			if job.CompletedAt != nil && now.Sub(*job.CompletedAt) > r.opts.Retention {
				if err := r.store.Delete(job.ID); err != nil {
					errs = append(errs, err)
				}
			}

		case job.RequestedAt.Before(r.bootedAt) && !r.owns(job.ID) && now.Sub(job.RequestedAt) > r.opts.GracePeriod:
			job.State = StateFailed
			job.Error = "abandoned after restart"
			job.CompletedAt = &now
			if err := r.store.Save(job); err != nil {
				errs = append(errs, err)
				continue
			}
			log.Warn().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("Marked abandoned job as failed")
		}
	}
	return errors.Join(errs...)
}

func (r *Runner) owns(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.running[id]
	return ok
}

// RunnerStats summarizes the runner for health checks.
type RunnerStats struct {
	Active      []Kind `json:"active"`
	Workers     int    `json:"workers"`
	BusyWorkers int    `json:"busy_workers"`
	Stopped     bool   `json:"stopped"`
}

// Stats reports the active kinds and pool usage.
func (r *Runner) Stats() RunnerStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	active := make([]Kind, 0, len(r.active))
	for _, k := range Kinds {
		if _, ok := r.active[k]; ok {
			active = append(active, k)
		}
	}
	return RunnerStats{
		Active:      active,
		Workers:     r.pool.Cap(),
		BusyWorkers: r.pool.Running(),
		Stopped:     r.stopped,
	}
}

// Stop rejects new jobs and waits for running ones. When ctx expires first
// the remaining jobs are cancelled softly and awaited.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	started := r.started
	r.mu.Unlock()

	close(r.stopReaper)
	if started {
		<-r.reaperDone
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		r.mu.Lock()
		for _, exec := range r.running {
			exec.cancel(ErrCancelled)
		}
		r.mu.Unlock()
		<-done
	}

	r.pool.Release()
	return err
}
