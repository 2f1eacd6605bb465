package usecase

import (
	"container/heap"
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"subsearch-pipeline/internal/domain"
	"subsearch-pipeline/internal/domain/model"
	"subsearch-pipeline/internal/domain/ports/repository"
	ports "subsearch-pipeline/internal/domain/ports/usecase"
	"subsearch-pipeline/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Compile-time checks
var (
	_ ports.JobScheduler = (*Scheduler)(nil)
	_ ports.Reaper       = (*Scheduler)(nil)
)

type SchedulerConfig struct {
	MaxConcurrentJobs int
	JobTimeout        time.Duration
	// HistorySize bounds how many terminal jobs stay in memory for Status.
	HistorySize int
}

// liveJob is a job that is Queued or Running.
type liveJob struct {
	job    *model.Job
	entry  *queueEntry // set while queued
	cancel context.CancelFunc
	stop   atomic.Bool
}

// Scheduler owns every live job, the admission heap and the running set.
// All state sits behind mu; executors run outside it.
type Scheduler struct {
	cfg  SchedulerConfig
	exec ports.JobExecutor
	repo repository.JobRepository
	eta  *ETAEstimator
	log  *zerolog.Logger
	now  func() time.Time

	mu           sync.Mutex
	baseCtx      context.Context
	started      bool
	closed       bool
	seq          uint64
	queue        entryHeap
	live         map[string]*liveJob
	running      int
	history      map[string]*model.Job
	historyOrder []string
	stats        model.QueueStats
	lastFinished time.Time
	observers    []func(model.Job)

	// cancelled holds ids of queued jobs removed by Cancel. Their rows may
	// still be in the store until the writer deletes them.
	cancelled      map[string]struct{}
	cancelledOrder []string

	persistCh     chan persistOp
	persistClosed bool
	persistWG     sync.WaitGroup

	// writeMu serialises store writes so a delete never lands before a
	// save of the same job that was already in flight.
	writeMu sync.Mutex
	runs    sync.WaitGroup
}

type persistOp struct {
	job    model.Job
	delete bool
}

func NewScheduler(cfg SchedulerConfig, exec ports.JobExecutor, repo repository.JobRepository, eta *ETAEstimator, logger *zerolog.Logger) *Scheduler {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Hour
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 500
	}
	l := logger.With().Str("component", "Scheduler").Logger()
	return &Scheduler{
		cfg:       cfg,
		exec:      exec,
		repo:      repo,
		eta:       eta,
		log:       &l,
		now:       time.Now,
		live:      make(map[string]*liveJob),
		history:   make(map[string]*model.Job),
		cancelled: make(map[string]struct{}),
		persistCh: make(chan persistOp, 1024),
	}
}

// OnFailure registers fn to be called, outside the scheduler lock, with a
// snapshot of every job that transitions to Failed.
func (s *Scheduler) OnFailure(fn func(model.Job)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Start begins admitting jobs. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.persistWG.Add(1)
	go s.persistLoop()

	s.mu.Lock()
	s.baseCtx = ctx
	s.started = true
	launch := s.dispatchLocked()
	s.mu.Unlock()
	s.launch(launch)
	s.log.Info().Int("max_concurrent_jobs", s.cfg.MaxConcurrentJobs).Msg("scheduler started")
}

// Stop refuses new work, cancels running jobs and waits for them to drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for _, lj := range s.live {
		if lj.cancel != nil {
			lj.cancel()
		}
	}
	s.mu.Unlock()

	s.runs.Wait()
	s.mu.Lock()
	s.persistClosed = true
	close(s.persistCh)
	s.mu.Unlock()
	s.persistWG.Wait()
	s.log.Info().Msg("scheduler stopped")
}

func (s *Scheduler) Submit(ctx context.Context, source model.JobSource, priority int, params model.JobParams) (string, error) {
	job, err := model.NewJob(source, priority, params, s.now())
	if err != nil {
		return "", err
	}
	if err := s.Enqueue(job); err != nil {
		return "", err
	}
	return job.ID, nil
}

// Enqueue adds an already built Queued job, e.g. a retry attempt.
func (s *Scheduler) Enqueue(job *model.Job) error {
	if job == nil || job.State != model.JobStateQueued {
		return domain.ErrInvalidArgument
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSchedulerClosed
	}
	if _, dup := s.live[job.ID]; dup {
		s.mu.Unlock()
		return domain.ErrAlreadyExists
	}
	s.pushLocked(job)
	s.stats.TotalEnqueued++
	s.persistLocked(job, false)
	launch := s.dispatchLocked()
	s.mu.Unlock()

	metrics.IncJobSubmitted(string(job.Source))
	s.log.Debug().Str("job_id", job.ID).Int("priority", job.Priority).Str("source", string(job.Source)).Msg("job enqueued")
	s.launch(launch)
	return nil
}

func (s *Scheduler) pushLocked(job *model.Job) {
	s.seq++
	e := &queueEntry{jobID: job.ID, priority: job.Priority, seq: s.seq}
	heap.Push(&s.queue, e)
	s.live[job.ID] = &liveJob{job: job, entry: e}
}

// Cancel removes a queued job immediately, or flags a running one so its
// fetch stops at the next page boundary.
func (s *Scheduler) Cancel(ctx context.Context, id string) bool {
	s.mu.Lock()
	lj, ok := s.live[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	if lj.job.State == model.JobStateRunning {
		lj.stop.Store(true)
		s.mu.Unlock()
		s.log.Info().Str("job_id", id).Msg("stop requested for running job")
		return true
	}

	heap.Remove(&s.queue, lj.entry.index)
	delete(s.live, id)
	_ = lj.job.Stop(s.now(), 0)
	s.stats.TotalStopped++
	s.tombstoneLocked(id)
	queued := s.persistLocked(lj.job, true)
	s.publishGaugesLocked()
	s.mu.Unlock()

	if !queued && s.repo != nil {
		s.write(persistOp{job: model.Job{ID: id}, delete: true})
	}
	metrics.IncJobFinished(string(model.JobStateStopped))
	s.log.Info().Str("job_id", id).Msg("queued job cancelled")
	return true
}

func (s *Scheduler) Status(ctx context.Context, id string) (model.JobView, error) {
	s.mu.Lock()
	if lj, ok := s.live[id]; ok {
		v := lj.job.View()
		if lj.entry != nil {
			pos := s.queue.position(lj.entry)
			eta := int64(s.eta.Wait(pos) / time.Second)
			v.QueuePosition, v.ETASeconds = &pos, &eta
		}
		s.mu.Unlock()
		return v, nil
	}
	if j, ok := s.history[id]; ok {
		v := j.View()
		s.mu.Unlock()
		return v, nil
	}
	_, gone := s.cancelled[id]
	s.mu.Unlock()

	if gone || s.repo == nil {
		return model.JobView{}, domain.ErrNotFound
	}
	j, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return model.JobView{}, err
	}
	return j.View(), nil
}

// QueuePosition is the number of queued entries ahead of id, or false when
// id is not queued.
func (s *Scheduler) QueuePosition(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lj, ok := s.live[id]
	if !ok || lj.entry == nil {
		return 0, false
	}
	return s.queue.position(lj.entry), true
}

func (s *Scheduler) Estimate() time.Duration { return s.eta.Estimate() }

func (s *Scheduler) ListQueue() []model.QueueItem {
	s.mu.Lock()
	entries := make([]*queueEntry, len(s.queue))
	copy(entries, s.queue)
	jobs := make(map[string]*model.Job, len(entries))
	for _, e := range entries {
		j := s.live[e.jobID].job.Snapshot()
		jobs[e.jobID] = &j
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].less(entries[j]) })
	avg := s.eta.Estimate()
	items := make([]model.QueueItem, 0, len(entries))
	for pos, e := range entries {
		j := jobs[e.jobID]
		items = append(items, model.QueueItem{
			JobID:           j.ID,
			Keyword:         j.Params.Keyword,
			Limit:           j.Params.Limit,
			Source:          j.Source,
			Priority:        j.Priority,
			Position:        pos,
			ETAStartSeconds: int64(time.Duration(pos) * avg / time.Second),
			ETADoneSeconds:  int64(time.Duration(pos+1) * avg / time.Second),
			Interactive:     j.Priority == model.PriorityInteractive,
		})
	}
	return items
}

func (s *Scheduler) Stats() model.QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.QueueSize = len(s.queue)
	st.Running = s.running
	return st
}

func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) == 0 && s.running == 0
}

func (s *Scheduler) LastFinishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastFinished
}

// Reap fails every running job whose runtime exceeds the job timeout,
// cancels its context and frees its slot.
func (s *Scheduler) Reap(ctx context.Context, now time.Time) []string {
	s.mu.Lock()
	var reaped []string
	var failed []model.Job
	for id, lj := range s.live {
		j := lj.job
		if j.State != model.JobStateRunning || j.StartedAt == nil {
			continue
		}
		if now.Sub(*j.StartedAt) <= s.cfg.JobTimeout {
			continue
		}
		lj.cancel()
		if err := j.Fail(now, domain.ErrJobTimeout, j.ResultCount); err != nil {
			continue
		}
		s.retireLocked(lj)
		reaped = append(reaped, id)
		failed = append(failed, j.Snapshot())
	}
	launch := s.dispatchLocked()
	observers := s.observers
	s.mu.Unlock()

	if len(reaped) > 0 {
		metrics.IncJobsReaped(len(reaped))
		s.log.Warn().Strs("job_ids", reaped).Dur("timeout", s.cfg.JobTimeout).Msg("reaped stale jobs")
	}
	s.notify(observers, failed)
	s.launch(launch)
	return reaped
}

type launchSpec struct {
	id  string
	lj  *liveJob
	ctx context.Context
	job model.Job
}

// dispatchLocked admits queued jobs while slots are free and returns the
// runs to launch once the lock is released.
func (s *Scheduler) dispatchLocked() []launchSpec {
	defer s.publishGaugesLocked()
	if !s.started || s.closed {
		return nil
	}
	var out []launchSpec
	for s.running < s.cfg.MaxConcurrentJobs && s.queue.Len() > 0 {
		e := heap.Pop(&s.queue).(*queueEntry)
		lj := s.live[e.jobID]
		lj.entry = nil
		if err := lj.job.Start(s.now()); err != nil {
			s.log.Error().Err(err).Str("job_id", e.jobID).Msg("cannot start job")
			delete(s.live, e.jobID)
			continue
		}
		runCtx, cancel := context.WithCancel(s.baseCtx)
		lj.cancel = cancel
		s.running++
		s.stats.TotalAdmitted++
		s.persistLocked(lj.job, false)
		s.runs.Add(1)
		out = append(out, launchSpec{id: e.jobID, lj: lj, ctx: runCtx, job: lj.job.Snapshot()})
	}
	return out
}

func (s *Scheduler) launch(specs []launchSpec) {
	for _, sp := range specs {
		go func(sp launchSpec) {
			defer s.runs.Done()
			rep := &reporter{s: s, id: sp.id, lj: sp.lj}
			out := s.exec.Run(sp.ctx, sp.job, rep)
			s.finish(sp.id, sp.lj, out)
		}(sp)
	}
}

// finish applies the outcome of a run. Runs that were reaped meanwhile only
// refresh the persisted count of their already failed job.
func (s *Scheduler) finish(id string, lj *liveJob, out ports.RunOutcome) {
	s.mu.Lock()
	lj.cancel()
	if cur, ok := s.live[id]; !ok || cur != lj || lj.job.State != model.JobStateRunning {
		if j, ok := s.history[id]; ok && j.State == model.JobStateFailed && out.ResultCount > j.ResultCount {
			j.ResultCount = out.ResultCount
			s.persistLocked(j, false)
		}
		s.mu.Unlock()
		return
	}

	if s.closed && errors.Is(out.Err, context.Canceled) {
		// left Running in the history store; Recover fails it as stale
		delete(s.live, id)
		s.running--
		s.mu.Unlock()
		return
	}

	j := lj.job
	now := s.now()
	var err error
	switch {
	case out.Stopped:
		err = j.Stop(now, out.ResultCount)
	case out.Err != nil && lj.stop.Load() && errors.Is(out.Err, context.Canceled):
		err = j.Stop(now, out.ResultCount)
	case out.Err != nil:
		err = j.Fail(now, out.Err, out.ResultCount)
	default:
		err = j.Complete(now, out.ResultCount)
	}
	if err != nil {
		s.log.Error().Err(err).Str("job_id", id).Msg("cannot finish job")
	}
	if j.State == model.JobStateCompleted {
		if d, ok := j.Duration(); ok {
			s.eta.Observe(d)
			metrics.ObserveJobDuration(d.Seconds())
		}
	}
	s.retireLocked(lj)
	var failed []model.Job
	if j.State == model.JobStateFailed {
		failed = append(failed, j.Snapshot())
	}
	launch := s.dispatchLocked()
	observers := s.observers
	s.mu.Unlock()

	var ev *zerolog.Event
	if j.State == model.JobStateFailed {
		ev = s.log.Warn().Str("error", j.Error).Bool("retryable", j.Retryable)
	} else {
		ev = s.log.Info()
	}
	ev.Str("job_id", id).Str("state", string(j.State)).Int("result_count", j.ResultCount).Msg("job finished")

	s.notify(observers, failed)
	s.launch(launch)
}

// retireLocked moves a job that just turned terminal out of the live set.
func (s *Scheduler) retireLocked(lj *liveJob) {
	j := lj.job
	delete(s.live, j.ID)
	s.running--
	switch j.State {
	case model.JobStateCompleted:
		s.stats.TotalCompleted++
	case model.JobStateFailed:
		s.stats.TotalFailed++
	case model.JobStateStopped:
		s.stats.TotalStopped++
	}
	if j.CompletedAt != nil && j.CompletedAt.After(s.lastFinished) {
		s.lastFinished = *j.CompletedAt
	}
	s.remember(j)
	s.persistLocked(j, false)
	metrics.IncJobFinished(string(j.State))
}

func (s *Scheduler) remember(j *model.Job) {
	if _, ok := s.history[j.ID]; !ok {
		s.historyOrder = append(s.historyOrder, j.ID)
	}
	s.history[j.ID] = j
	for len(s.historyOrder) > s.cfg.HistorySize {
		delete(s.history, s.historyOrder[0])
		s.historyOrder = s.historyOrder[1:]
	}
}

func (s *Scheduler) notify(observers []func(model.Job), failed []model.Job) {
	for _, j := range failed {
		for _, fn := range observers {
			fn(j)
		}
	}
}

func (s *Scheduler) publishGaugesLocked() {
	metrics.SetQueueState(len(s.queue), s.running)
}

func (s *Scheduler) tombstoneLocked(id string) {
	if _, ok := s.cancelled[id]; ok {
		return
	}
	s.cancelled[id] = struct{}{}
	s.cancelledOrder = append(s.cancelledOrder, id)
	for len(s.cancelledOrder) > s.cfg.HistorySize {
		delete(s.cancelled, s.cancelledOrder[0])
		s.cancelledOrder = s.cancelledOrder[1:]
	}
}

// persistLocked hands a snapshot to the writer goroutine and reports whether
// it was accepted. Saves are best-effort and dropped when the writer falls
// behind; callers must write a rejected delete themselves.
func (s *Scheduler) persistLocked(j *model.Job, del bool) bool {
	if s.repo == nil || s.persistClosed {
		return false
	}
	select {
	case s.persistCh <- persistOp{job: j.Snapshot(), delete: del}:
		return true
	default:
		if !del {
			s.log.Warn().Str("job_id", j.ID).Msg("job history writer saturated; dropping snapshot")
		}
		return false
	}
}

func (s *Scheduler) persistLoop() {
	defer s.persistWG.Done()
	for op := range s.persistCh {
		s.write(op)
	}
}

func (s *Scheduler) write(op persistOp) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	if op.delete {
		err = s.repo.Delete(ctx, repository.NoTX, op.job.ID)
	} else {
		s.mu.Lock()
		_, gone := s.cancelled[op.job.ID]
		s.mu.Unlock()
		if gone {
			return
		}
		j := op.job
		err = s.repo.Save(ctx, repository.NoTX, &j)
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.log.Warn().Err(err).Str("job_id", op.job.ID).Bool("delete", op.delete).Msg("failed to persist job snapshot")
	}
}

// Recover restores state left by a previous process: queued jobs are
// re-enqueued in submission order, jobs that were running are failed as
// stale, and the ETA window is primed from recent completions. Call it
// before Start.
func (s *Scheduler) Recover(ctx context.Context, etaWindow int) error {
	if s.repo == nil {
		return nil
	}
	if durs, err := s.repo.RecentDurations(ctx, etaWindow); err == nil {
		for i := len(durs) - 1; i >= 0; i-- {
			s.eta.Observe(durs[i])
		}
	} else {
		s.log.Warn().Err(err).Msg("could not seed ETA window")
	}
	if last, err := s.repo.LastFinishedAt(ctx); err == nil && last != nil {
		s.mu.Lock()
		s.lastFinished = *last
		s.mu.Unlock()
	}

	stale, err := s.repo.ListByState(ctx, model.JobStateRunning)
	if err != nil {
		return err
	}
	var failed []model.Job
	now := s.now()
	for _, j := range stale {
		if err := j.Fail(now, domain.ErrStaleJob, j.ResultCount); err != nil {
			continue
		}
		if err := s.repo.Save(ctx, repository.NoTX, j); err != nil {
			s.log.Warn().Err(err).Str("job_id", j.ID).Msg("could not mark stale job failed")
		}
		s.mu.Lock()
		s.stats.TotalFailed++
		s.remember(j)
		s.mu.Unlock()
		failed = append(failed, j.Snapshot())
	}

	queued, err := s.repo.ListByState(ctx, model.JobStateQueued)
	if err != nil {
		return err
	}
	s.mu.Lock()
	for _, j := range queued {
		if _, dup := s.live[j.ID]; dup {
			continue
		}
		if _, gone := s.cancelled[j.ID]; gone {
			continue
		}
		s.pushLocked(j)
		s.stats.TotalEnqueued++
	}
	s.publishGaugesLocked()
	observers := s.observers
	s.mu.Unlock()

	s.log.Info().Int("requeued", len(queued)).Int("stale", len(stale)).Msg("scheduler state recovered")
	s.notify(observers, failed)
	return nil
}

// reporter is the executor's handle back into the scheduler.
type reporter struct {
	s  *Scheduler
	id string
	lj *liveJob
}

func (r *reporter) Progress(p model.Progress) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if cur, ok := r.s.live[r.id]; !ok || cur != r.lj {
		return
	}
	if r.lj.job.UpdateProgress(p, r.s.now()) {
		r.s.persistLocked(r.lj.job, false)
	}
}

func (r *reporter) Stopped() bool { return r.lj.stop.Load() }
