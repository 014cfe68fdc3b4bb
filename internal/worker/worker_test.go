package worker

import (
	"archive/zip"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vocaldesk/vocaldesk/internal/db"
	"github.com/vocaldesk/vocaldesk/internal/models"
	"github.com/vocaldesk/vocaldesk/internal/storage"
	"github.com/vocaldesk/vocaldesk/internal/synth"
)

type memJobStore struct {
	mu   sync.Mutex
	jobs []*models.Job
}

func (m *memJobStore) add(job *models.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

func (m *memJobStore) get(id uuid.UUID) *models.Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			return job
		}
	}
	return nil
}

func (m *memJobStore) ListJobsByStatus(ctx context.Context, status models.JobStatus) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Job
	for _, job := range m.jobs {
		if job.Status == status {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (m *memJobStore) MarkJobDone(ctx context.Context, id uuid.UUID, archivePath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id && job.Status == models.JobStatusQueued {
			job.Status = models.JobStatusDone
			job.ArchivePath = &archivePath
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memJobStore) MarkJobFailed(ctx context.Context, id uuid.UUID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id && job.Status == models.JobStatusQueued {
			job.Status = models.JobStatusFailed
			job.ErrorMessage = &reason
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memJobStore) BumpJobAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.ID == id {
			job.Attempts++
			return job.Attempts, nil
		}
	}
	return 0, db.ErrNotFound
}

type memProfileStore struct {
	profiles map[int64]*models.VoiceProfile
	err      error
}

func (m *memProfileStore) GetProfile(ctx context.Context, id int64) (*models.VoiceProfile, error) {
	if m.err != nil {
		return nil, m.err
	}
	profile, ok := m.profiles[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return profile, nil
}

// stubSynth returns deterministic audio derived from the input text, and
// fails for any text registered in failOn.
type stubSynth struct {
	mu     sync.Mutex
	calls  []string
	failOn map[string]error
}

func (s *stubSynth) Synthesize(ctx context.Context, text string, p synth.Params) ([]byte, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.mu.Unlock()

	if err, ok := s.failOn[text]; ok {
		return nil, err
	}
	return []byte("audio:" + text), nil
}

func (s *stubSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type memNotifier struct {
	mu     sync.Mutex
	bodies []string
}

func (m *memNotifier) Send(ctx context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bodies = append(m.bodies, body)
	return nil
}

func strPtr(s string) *string { return &s }

func newTestWorker(t *testing.T, jobs *memJobStore, profiles *memProfileStore, tts synth.Client, notifier Notifier, cfg Config) (*Worker, *storage.Storage) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)
	return New(jobs, profiles, tts, store, notifier, nil, cfg), store
}

func zipEntries(t *testing.T, path string) []string {
	t.Helper()
	reader, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer reader.Close()

	var names []string
	for _, f := range reader.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	return names
}

func TestRunPassCompletesJob(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{
		3: {ID: 3, Name: "Narrator", Model: "gpt-4o-mini-tts", Voice: "alloy", Format: "mp3"},
	}}
	tts := &stubSynth{}
	notifier := &memNotifier{}

	job := &models.Job{
		ID:      uuid.New(),
		Profile: "3",
		Rows: models.RowList{
			{Filename: "digits/1", Text: "One"},
			{Filename: "welcome", Text: "Welcome to the service"},
		},
		NotifyEmail: strPtr("ops@example.com"),
		Status:      models.JobStatusQueued,
	}
	jobs.add(job)

	w, store := newTestWorker(t, jobs, profiles, tts, notifier, Config{MaxConcurrentRows: 2})
	require.NoError(t, w.RunPass(context.Background()))

	got := jobs.get(job.ID)
	assert.Equal(t, models.JobStatusDone, got.Status)
	require.NotNil(t, got.ArchivePath)

	root, err := store.JobRoot(job.ID.String())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "digits", "1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "audio:One", string(data))
	assert.FileExists(t, filepath.Join(root, "welcome.mp3"))

	assert.Equal(t, []string{"digits/1.mp3", "welcome.mp3"}, zipEntries(t, *got.ArchivePath))

	require.Len(t, notifier.bodies, 1)
	assert.Contains(t, notifier.bodies[0], "2 of 2")
}

func TestRunPassContinuesOnRowFailure(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{
		1: {ID: 1, Name: "Default", Model: "tts-1", Voice: "nova", Format: "mp3"},
	}}
	tts := &stubSynth{failOn: map[string]error{
		"Bad row": &synth.SynthesisError{StatusCode: 500, Body: []byte(`{"error":"boom"}`)},
	}}
	notifier := &memNotifier{}

	job := &models.Job{
		ID:      uuid.New(),
		Profile: "1",
		Rows: models.RowList{
			{Filename: "good", Text: "Fine"},
			{Filename: "bad", Text: "Bad row"},
			{Filename: "also-good", Text: "Also fine"},
		},
		NotifyEmail: strPtr("ops@example.com"),
		Status:      models.JobStatusQueued,
	}
	jobs.add(job)

	w, _ := newTestWorker(t, jobs, profiles, tts, notifier, Config{})
	require.NoError(t, w.RunPass(context.Background()))

	got := jobs.get(job.ID)
	assert.Equal(t, models.JobStatusDone, got.Status, "a failed row must not block the batch")
	require.NotNil(t, got.ArchivePath)
	assert.Equal(t, []string{"also-good.mp3", "good.mp3"}, zipEntries(t, *got.ArchivePath))

	require.Len(t, notifier.bodies, 1)
	assert.Contains(t, notifier.bodies[0], "2 of 3")
}

func TestUnresolvableProfileFailsAfterMaxAttempts(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{}}
	tts := &stubSynth{}
	notifier := &memNotifier{}

	job := &models.Job{
		ID:          uuid.New(),
		Profile:     "99",
		Rows:        models.RowList{{Filename: "a", Text: "A"}},
		NotifyEmail: strPtr("ops@example.com"),
		Status:      models.JobStatusQueued,
	}
	jobs.add(job)

	w, _ := newTestWorker(t, jobs, profiles, tts, notifier, Config{MaxAttempts: 2})

	require.NoError(t, w.RunPass(context.Background()))
	got := jobs.get(job.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status, "first miss leaves the job queued")
	assert.Equal(t, 1, got.Attempts)
	assert.Empty(t, notifier.bodies)

	require.NoError(t, w.RunPass(context.Background()))
	got = jobs.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, `voice profile "99"`)

	require.Len(t, notifier.bodies, 1)
	assert.Contains(t, notifier.bodies[0], "failed")

	assert.Zero(t, tts.callCount(), "no synthesis without a resolved profile")
}

// A reference that cannot even parse as a profile id can never resolve,
// so it must burn attempts like a deleted profile instead of leaving the
// job queued forever.
func TestMalformedProfileRefFailsAfterMaxAttempts(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{}}
	tts := &stubSynth{}
	notifier := &memNotifier{}

	job := &models.Job{
		ID:          uuid.New(),
		Profile:     "default-voice",
		Rows:        models.RowList{{Filename: "a", Text: "A"}},
		NotifyEmail: strPtr("ops@example.com"),
		Status:      models.JobStatusQueued,
	}
	jobs.add(job)

	w, _ := newTestWorker(t, jobs, profiles, tts, notifier, Config{MaxAttempts: 2})

	for i := 0; i < 5; i++ {
		require.NoError(t, w.RunPass(context.Background()))
	}

	got := jobs.get(job.ID)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts, "attempts stop once the job is failed")
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, `voice profile "default-voice"`)
	require.Len(t, notifier.bodies, 1)
	assert.Zero(t, tts.callCount())
}

func TestTransientProfileLookupKeepsJobQueued(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{err: errors.New("connection refused")}
	tts := &stubSynth{}

	job := &models.Job{
		ID:      uuid.New(),
		Profile: "1",
		Rows:    models.RowList{{Filename: "a", Text: "A"}},
		Status:  models.JobStatusQueued,
	}
	jobs.add(job)

	w, _ := newTestWorker(t, jobs, profiles, tts, nil, Config{MaxAttempts: 1})
	require.NoError(t, w.RunPass(context.Background()))

	got := jobs.get(job.ID)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Zero(t, got.Attempts, "transient lookup failures must not burn attempts")
}

func TestRunPassIgnoresTerminalJobs(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{
		1: {ID: 1, Name: "Default", Model: "tts-1", Voice: "nova", Format: "mp3"},
	}}
	tts := &stubSynth{}

	done := &models.Job{
		ID:      uuid.New(),
		Profile: "1",
		Rows:    models.RowList{{Filename: "a", Text: "A"}},
		Status:  models.JobStatusDone,
	}
	failed := &models.Job{
		ID:      uuid.New(),
		Profile: "1",
		Rows:    models.RowList{{Filename: "b", Text: "B"}},
		Status:  models.JobStatusFailed,
	}
	jobs.add(done)
	jobs.add(failed)

	w, _ := newTestWorker(t, jobs, profiles, tts, nil, Config{})
	require.NoError(t, w.RunPass(context.Background()))

	assert.Zero(t, tts.callCount())
	assert.Equal(t, models.JobStatusDone, jobs.get(done.ID).Status)
	assert.Equal(t, models.JobStatusFailed, jobs.get(failed.ID).Status)
}

func TestCancelledPassLeavesJobQueued(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{
		1: {ID: 1, Name: "Default", Model: "tts-1", Voice: "nova", Format: "mp3"},
	}}
	tts := &stubSynth{}

	job := &models.Job{
		ID:      uuid.New(),
		Profile: "1",
		Rows:    models.RowList{{Filename: "a", Text: "A"}},
		Status:  models.JobStatusQueued,
	}
	jobs.add(job)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w, _ := newTestWorker(t, jobs, profiles, tts, nil, Config{})
	err := w.RunPass(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, models.JobStatusQueued, jobs.get(job.ID).Status)
}

func TestNotifyWithoutEmailIsSilent(t *testing.T) {
	jobs := &memJobStore{}
	profiles := &memProfileStore{profiles: map[int64]*models.VoiceProfile{
		1: {ID: 1, Name: "Default", Model: "tts-1", Voice: "nova", Format: "mp3"},
	}}
	tts := &stubSynth{}
	notifier := &memNotifier{}

	job := &models.Job{
		ID:      uuid.New(),
		Profile: "1",
		Rows:    models.RowList{{Filename: "a", Text: "A"}},
		Status:  models.JobStatusQueued,
	}
	jobs.add(job)

	w, _ := newTestWorker(t, jobs, profiles, tts, notifier, Config{})
	require.NoError(t, w.RunPass(context.Background()))

	assert.Equal(t, models.JobStatusDone, jobs.get(job.ID).Status)
	assert.Empty(t, notifier.bodies)
}
