package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/vocaldesk/vocaldesk/internal/archive"
	"github.com/vocaldesk/vocaldesk/internal/db"
	"github.com/vocaldesk/vocaldesk/internal/models"
	"github.com/vocaldesk/vocaldesk/internal/queue"
	"github.com/vocaldesk/vocaldesk/internal/storage"
	"github.com/vocaldesk/vocaldesk/internal/synth"
)

// JobStore is the slice of the database the worker needs. Status writes
// are per-job atomic updates; the worker is the only writer of status,
// zip and attempts, so intake submissions can never be lost to a
// concurrent pass.
type JobStore interface {
	ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error)
	MarkJobDone(ctx context.Context, id uuid.UUID, archivePath string) error
	MarkJobFailed(ctx context.Context, id uuid.UUID, reason string) error
	BumpJobAttempts(ctx context.Context, id uuid.UUID) (int, error)
}

// ProfileStore resolves voice profile references at processing time, so
// profile edits between submission and processing take effect.
type ProfileStore interface {
	GetProfile(ctx context.Context, id int64) (*models.VoiceProfile, error)
}

// Notifier delivers best-effort completion and failure notices.
type Notifier interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	// Interval between polling passes; redis nudges trigger passes sooner.
	Interval time.Duration
	// MaxAttempts bounds how many passes a job with an unresolvable
	// profile stays queued before turning failed.
	MaxAttempts int
	// MaxConcurrentRows bounds row synthesis parallelism within a job.
	MaxConcurrentRows int
	// SynthTimeout caps each row's upstream synthesis call.
	SynthTimeout time.Duration
	// Retention is the output time-to-live enforced by the cleanup sweep.
	Retention time.Duration
}

// Worker drains queued batch jobs: one periodic, single-instance,
// run-to-completion pass over everything still queued.
type Worker struct {
	jobs     JobStore
	profiles ProfileStore
	synth    synth.Client
	store    *storage.Storage
	notifier Notifier
	queue    *queue.Queue // may be nil; polling still works without nudges
	cfg      Config
	log      *logrus.Entry
}

func New(jobs JobStore, profiles ProfileStore, synthClient synth.Client, store *storage.Storage, notifier Notifier, q *queue.Queue, cfg Config) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.MaxConcurrentRows <= 0 {
		cfg.MaxConcurrentRows = 1
	}
	if cfg.SynthTimeout <= 0 {
		cfg.SynthTimeout = 90 * time.Second
	}

	return &Worker{
		jobs:     jobs,
		profiles: profiles,
		synth:    synthClient,
		store:    store,
		notifier: notifier,
		queue:    q,
		cfg:      cfg,
		log:      logrus.WithField("component", "worker"),
	}
}

// Start runs passes until the context is cancelled: one on every interval
// tick and one whenever batch intake nudges the queue. A slower ticker
// runs the retention sweep.
func (w *Worker) Start(ctx context.Context) {
	w.log.WithField("interval", w.cfg.Interval).Info("worker started")

	nudges := make(chan struct{}, 1)
	if w.queue != nil {
		go w.listenNudges(ctx, nudges)
	}

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	sweepTicker := time.NewTicker(time.Hour)
	defer sweepTicker.Stop()

	// Drain anything left over from before the last shutdown.
	w.runPass(ctx)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("worker shutting down")
			return
		case <-ticker.C:
			w.runPass(ctx)
		case <-nudges:
			w.runPass(ctx)
		case <-sweepTicker.C:
			w.runSweep(ctx)
		}
	}
}

func (w *Worker) listenNudges(ctx context.Context, nudges chan<- struct{}) {
	for {
		if ctx.Err() != nil {
			return
		}

		jobID, err := w.queue.WaitBatchNudge(ctx, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.WithError(err).Warn("failed to wait for nudge")
			time.Sleep(time.Second)
			continue
		}
		if jobID == "" {
			continue
		}

		select {
		case nudges <- struct{}{}:
		default: // a pass is already pending
		}
	}
}

func (w *Worker) runPass(ctx context.Context) {
	if err := w.RunPass(ctx); err != nil && ctx.Err() == nil {
		w.log.WithError(err).Error("worker pass failed")
	}
}

// RunPass processes every queued job once, in submission order. Jobs in
// any other status are never touched. A cancelled pass stops between jobs
// and leaves the in-flight job queued for a full re-run; row writes are
// idempotent by relative name, so the retry converges on the same paths.
func (w *Worker) RunPass(ctx context.Context) error {
	jobs, err := w.jobs.ListJobsByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}
	if len(jobs) == 0 {
		return nil
	}

	w.log.WithField("queued", len(jobs)).Info("starting pass")

	for i := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.processJob(ctx, &jobs[i])
	}

	return nil
}

// processJob runs one job to completion. Per-row failures are logged and
// skipped — rows are independent deliverables, and partial delivery beats
// blocking the whole batch on one bad row.
func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	log := w.log.WithField("job", job.ID)

	profile, ok := w.resolveProfile(ctx, job, log)
	if !ok {
		return
	}

	params := synth.ParamsFromProfile(profile)

	root, err := w.store.JobRoot(job.ID.String())
	if err != nil {
		log.WithError(err).Error("failed to create output directory")
		return
	}

	// Bounded row parallelism. Row workers never return errors: a failed
	// row must not cancel its siblings, only get logged and skipped.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.MaxConcurrentRows)

	var written, skipped int64
	results := make([]bool, len(job.Rows))

	for i, row := range job.Rows {
		i, row := i, row
		g.Go(func() error {
			results[i] = w.processRow(gctx, root, params, row, log)
			return nil
		})
	}
	_ = g.Wait()

	for _, ok := range results {
		if ok {
			written++
		} else {
			skipped++
		}
	}

	if ctx.Err() != nil {
		// Cancelled mid-job: no status commit, the job re-runs in full
		// on the next pass.
		log.Warn("pass cancelled, job stays queued")
		return
	}

	archivePath := w.store.ArchivePath(job.ID.String() + ".zip")
	if err := archive.Dir(root, archivePath); err != nil {
		// The job stays queued and is retried in full next pass.
		// Re-synthesis is wasteful but correct: row files are
		// overwritten idempotently by relative name.
		log.WithError(err).Error("failed to archive job output")
		return
	}

	if err := w.jobs.MarkJobDone(ctx, job.ID, archivePath); err != nil {
		log.WithError(err).Error("failed to mark job done")
		return
	}

	log.WithFields(logrus.Fields{"written": written, "skipped": skipped}).Info("job done")

	w.notify(ctx, job, fmt.Sprintf(
		"Your batch job %s is complete: %d of %d files generated.",
		job.ID, written, len(job.Rows)))
}

// resolveProfile looks up the job's profile reference. An unresolvable
// reference leaves the job queued for a bounded number of passes, then
// moves it to the terminal failed state with a notice.
func (w *Worker) resolveProfile(ctx context.Context, job *models.Job, log *logrus.Entry) (*models.VoiceProfile, bool) {
	var profile *models.VoiceProfile
	profileID, err := strconv.ParseInt(job.Profile, 10, 64)
	if err != nil {
		// A malformed reference can never resolve; treat it like a
		// deleted profile so it burns attempts instead of stalling.
		err = db.ErrNotFound
	} else {
		profile, err = w.profiles.GetProfile(ctx, profileID)
	}
	if err == nil {
		return profile, true
	}

	if !errors.Is(err, db.ErrNotFound) && ctx.Err() == nil {
		// Transient lookup failure; try again next pass without
		// burning an attempt.
		log.WithError(err).Warn("profile lookup failed, retrying next pass")
		return nil, false
	}
	if ctx.Err() != nil {
		return nil, false
	}

	attempts, bumpErr := w.jobs.BumpJobAttempts(ctx, job.ID)
	if bumpErr != nil {
		log.WithError(bumpErr).Error("failed to bump attempts")
		return nil, false
	}

	log.WithFields(logrus.Fields{"profile": job.Profile, "attempts": attempts}).
		Warn("voice profile cannot be resolved")

	if attempts >= w.cfg.MaxAttempts {
		reason := fmt.Sprintf("voice profile %q could not be resolved after %d passes", job.Profile, attempts)
		if err := w.jobs.MarkJobFailed(ctx, job.ID, reason); err != nil {
			log.WithError(err).Error("failed to mark job failed")
			return nil, false
		}
		log.Error("job failed: " + reason)
		w.notify(ctx, job, "Your batch job "+job.ID.String()+" failed: "+reason)
	}

	return nil, false
}

// processRow synthesizes and stores one row. Reports success; failures
// are logged against the job and skipped.
func (w *Worker) processRow(ctx context.Context, root string, params synth.Params, row models.Row, log *logrus.Entry) bool {
	if ctx.Err() != nil {
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, w.cfg.SynthTimeout)
	defer cancel()

	audio, err := w.synth.Synthesize(callCtx, row.Text, params)
	if err != nil {
		log.WithField("row", row.Filename).WithError(err).Warn("row synthesis failed, skipping")
		return false
	}

	if _, err := w.store.WriteRow(root, row.Filename, params.Format, audio); err != nil {
		log.WithField("row", row.Filename).WithError(err).Warn("row write failed, skipping")
		return false
	}

	return true
}

// notify emits the completion/failure side-effect. Failures never affect
// job status.
func (w *Worker) notify(ctx context.Context, job *models.Job, body string) {
	if w.notifier == nil || job.NotifyEmail == nil || *job.NotifyEmail == "" {
		return
	}
	if err := w.notifier.Send(ctx, *job.NotifyEmail, "Batch synthesis update", body); err != nil {
		w.log.WithField("job", job.ID).WithError(err).Warn("failed to send notification")
	}
}

// runSweep removes generated output older than the retention window.
// Queued jobs are treated as active so their partial output is never
// deleted out from under a pass.
func (w *Worker) runSweep(ctx context.Context) {
	if w.cfg.Retention <= 0 {
		return
	}

	active := map[string]bool{}
	if jobs, err := w.jobs.ListJobsByStatus(ctx, models.JobStatusQueued); err == nil {
		for _, job := range jobs {
			active[job.ID.String()] = true
		}
	} else {
		w.log.WithError(err).Warn("sweep: failed to list queued jobs, skipping sweep")
		return
	}

	w.store.Sweep(time.Now().Add(-w.cfg.Retention), func(jobID string) bool {
		return active[jobID]
	})
}
