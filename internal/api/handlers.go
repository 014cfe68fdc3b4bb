package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/vocaldesk/vocaldesk/internal/archive"
	"github.com/vocaldesk/vocaldesk/internal/db"
	"github.com/vocaldesk/vocaldesk/internal/models"
	"github.com/vocaldesk/vocaldesk/internal/storage"
	"github.com/vocaldesk/vocaldesk/internal/synth"
)

// Storage interfaces the handlers depend on. *db.DB satisfies all of them.

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context) ([]models.Job, error)
}

type ProfileStore interface {
	CreateProfile(ctx context.Context, profile *models.VoiceProfile) error
	GetProfile(ctx context.Context, id int64) (*models.VoiceProfile, error)
	ListProfiles(ctx context.Context) ([]models.VoiceProfile, error)
	UpdateProfile(ctx context.Context, profile *models.VoiceProfile) error
	DeleteProfile(ctx context.Context, id int64) error
}

type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUserPermissions(ctx context.Context, id uuid.UUID, permissions int) error
	SetUserPassword(ctx context.Context, id uuid.UUID, password string) error
	DeleteUser(ctx context.Context, id uuid.UUID) error
	CreatePasswordReset(ctx context.Context, userID uuid.UUID, ttl time.Duration) (*models.PasswordReset, error)
	ConsumePasswordReset(ctx context.Context, token string) (uuid.UUID, error)
}

type SettingsStore interface {
	GetSMTPSettings(ctx context.Context) (*models.SMTPSettings, error)
	SaveSMTPSettings(ctx context.Context, settings *models.SMTPSettings) error
}

// Sessions maps opaque tokens to user ids.
type Sessions interface {
	Create(ctx context.Context, userID uuid.UUID) (string, error)
	Get(ctx context.Context, token string) (uuid.UUID, error)
	Delete(ctx context.Context, token string) error
}

// Nudger wakes the batch worker after an enqueue.
type Nudger interface {
	NudgeBatch(ctx context.Context, jobID uuid.UUID) error
}

// Mailer sends password-reset and test mail.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
	SendTest(cfg *models.SMTPSettings, to string) error
}

type Handler struct {
	jobs         JobStore
	profiles     ProfileStore
	users        UserStore
	settings     SettingsStore
	sessions     Sessions
	nudge        Nudger
	mail         Mailer
	synth        synth.Client
	store        *storage.Storage
	synthTimeout time.Duration
	log          *logrus.Entry
}

func NewHandler(jobs JobStore, profiles ProfileStore, users UserStore, settings SettingsStore,
	sessions Sessions, nudge Nudger, mail Mailer, synthClient synth.Client,
	store *storage.Storage, synthTimeout time.Duration) *Handler {
	if synthTimeout <= 0 {
		synthTimeout = 90 * time.Second
	}
	return &Handler{
		jobs:         jobs,
		profiles:     profiles,
		users:        users,
		settings:     settings,
		sessions:     sessions,
		nudge:        nudge,
		mail:         mail,
		synth:        synthClient,
		store:        store,
		synthTimeout: synthTimeout,
		log:          logrus.WithField("component", "api"),
	}
}

// profileByRef resolves a profile reference string at call time.
func (h *Handler) profileByRef(ctx context.Context, ref string) (*models.VoiceProfile, error) {
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return nil, db.ErrNotFound
	}
	return h.profiles.GetProfile(ctx, id)
}

// SubmitBatch handles POST /v1/batches — the queue path. Validation
// failures are reported through the success envelope with no partial
// effect; a valid submission only touches the database and the nudge
// queue, never the synthesis client.
func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, models.BatchResponse{Success: false, Message: "invalid request body"})
		return
	}

	if err := req.Validate(); err != nil {
		respondJSON(w, http.StatusOK, models.BatchResponse{Success: false, Message: err.Error()})
		return
	}

	job := &models.Job{
		ID:      uuid.New(),
		Profile: req.Profile,
		Rows:    req.Rows,
		Status:  models.JobStatusQueued,
	}
	if req.Email != "" {
		job.NotifyEmail = &req.Email
	}

	if err := h.jobs.CreateJob(r.Context(), job); err != nil {
		h.log.WithError(err).Error("failed to create job")
		respondError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	// Best-effort: the worker's polling pass picks the job up anyway.
	if err := h.nudge.NudgeBatch(r.Context(), job.ID); err != nil {
		h.log.WithField("job", job.ID).WithError(err).Warn("failed to nudge worker")
	}

	respondJSON(w, http.StatusOK, models.BatchResponse{Success: true, JobID: job.ID.String()})
}

// ListBatches handles GET /v1/batches.
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

// GetBatch handles GET /v1/batches/{id}.
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// DownloadBatch handles GET /v1/batches/{id}/download, serving the archive
// of a done job.
func (h *Handler) DownloadBatch(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}

	if job.Status != models.JobStatusDone || job.ArchivePath == nil {
		respondError(w, http.StatusNotFound, "archive not ready")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+job.ID.String()+`.zip"`)
	http.ServeFile(w, r, *job.ArchivePath)
}

// BeginWorkspace handles POST /v1/workspaces — the real-time path. Shares
// validation with the queue path, allocates a scratch directory keyed by a
// fresh token and snapshots the request; nothing is enqueued.
func (h *Handler) BeginWorkspace(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, models.BatchResponse{Success: false, Message: "invalid request body"})
		return
	}

	if err := req.Validate(); err != nil {
		respondJSON(w, http.StatusOK, models.BatchResponse{Success: false, Message: err.Error()})
		return
	}

	// The format is pinned at workspace creation; every uploaded row gets
	// this extension regardless of what the upload's own name carries.
	profile, err := h.profileByRef(r.Context(), req.Profile)
	if err != nil {
		respondJSON(w, http.StatusOK, models.BatchResponse{Success: false, Message: "unknown voice profile"})
		return
	}

	workspaceID := uuid.New().String()
	snapshot := models.WorkspaceSnapshot{
		Profile:   req.Profile,
		Format:    synth.NormalizeFormat(profile.Format),
		Rows:      req.Rows,
		CreatedAt: time.Now().UTC(),
	}

	if err := h.store.WriteWorkspaceSnapshot(workspaceID, snapshot); err != nil {
		h.log.WithError(err).Error("failed to create workspace")
		respondError(w, http.StatusInternalServerError, "failed to create workspace")
		return
	}

	respondJSON(w, http.StatusOK, models.BatchResponse{Success: true, JobID: workspaceID})
}

// UploadRow handles POST /v1/workspaces/{id}/rows — multipart upload of
// one client-synthesized row into the workspace tree.
func (h *Handler) UploadRow(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if !h.store.WorkspaceExists(workspaceID) {
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "unknown workspace"})
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "invalid multipart body"})
		return
	}

	filename := r.FormValue("filename")
	if filename == "" {
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "filename is required"})
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "audio file is required"})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "failed to read audio"})
		return
	}

	var snapshot models.WorkspaceSnapshot
	if err := h.store.ReadWorkspaceSnapshot(workspaceID, &snapshot); err != nil {
		h.log.WithField("workspace", workspaceID).WithError(err).Error("failed to read workspace snapshot")
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "workspace is corrupt"})
		return
	}

	root, err := h.store.WorkspaceRoot(workspaceID)
	if err != nil {
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: "workspace is unavailable"})
		return
	}

	storedPath, err := h.store.WriteRow(root, filename, snapshot.Format, audio)
	if err != nil {
		h.log.WithField("workspace", workspaceID).WithError(err).Warn("row upload rejected")
		respondJSON(w, http.StatusOK, models.UploadResponse{Success: false, Message: err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, models.UploadResponse{Success: true, File: storedPath})
}

// ArchiveWorkspace handles POST /v1/workspaces/{id}/archive. The manifest
// holds relative paths previously returned by UploadRow; entries that no
// longer exist on disk are skipped, not failed.
func (h *Handler) ArchiveWorkspace(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	if !h.store.WorkspaceExists(workspaceID) {
		respondJSON(w, http.StatusOK, models.ArchiveResponse{Success: false, Message: "unknown workspace"})
		return
	}

	var req models.ArchiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSON(w, http.StatusOK, models.ArchiveResponse{Success: false, Message: "invalid request body"})
		return
	}
	if len(req.Files) == 0 {
		respondJSON(w, http.StatusOK, models.ArchiveResponse{Success: false, Message: "no files to archive"})
		return
	}

	root, err := h.store.WorkspaceRoot(workspaceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "workspace is unavailable")
		return
	}

	// Unique per invocation: a workspace may be archived more than once.
	name := workspaceID + "-" + strconv.FormatInt(time.Now().UnixNano(), 10) + ".zip"
	if err := archive.Files(root, req.Files, h.store.ArchivePath(name)); err != nil {
		h.log.WithField("workspace", workspaceID).WithError(err).Error("failed to archive workspace")
		respondJSON(w, http.StatusOK, models.ArchiveResponse{Success: false, Message: "failed to create archive"})
		return
	}

	respondJSON(w, http.StatusOK, models.ArchiveResponse{Success: true, Zip: name})
}

// DownloadArchive handles GET /v1/archives/{name}.
func (h *Handler) DownloadArchive(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	path, err := storage.SafeJoin(h.store.ArchivePath(""), name)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid archive name")
		return
	}

	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeFile(w, r, path)
}

// Preview handles POST /v1/preview — synchronous single-phrase synthesis.
// This is the interactive path: synthesis failures with an upstream
// response are relayed with the upstream status and raw body unchanged.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	var req models.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Profile == "" || req.Text == "" {
		respondError(w, http.StatusBadRequest, "profile and text are required")
		return
	}

	profile, err := h.profileByRef(r.Context(), req.Profile)
	if err != nil {
		respondError(w, http.StatusNotFound, "unknown voice profile")
		return
	}

	params := synth.ParamsFromProfile(profile)

	ctx, cancel := context.WithTimeout(r.Context(), h.synthTimeout)
	defer cancel()

	audio, err := h.synth.Synthesize(ctx, req.Text, params)
	if err != nil {
		var synthErr *synth.SynthesisError
		if errors.As(err, &synthErr) {
			w.WriteHeader(synthErr.StatusCode)
			w.Write(synthErr.Body)
			return
		}
		h.log.WithError(err).Error("preview synthesis failed")
		respondError(w, http.StatusBadGateway, "synthesis failed")
		return
	}

	w.Header().Set("Content-Type", synth.ContentType(params.Format))
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

// Health check
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
