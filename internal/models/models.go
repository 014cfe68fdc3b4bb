package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums

type JobStatus string

const (
	JobStatusQueued JobStatus = "queued"
	JobStatusDone   JobStatus = "done"
	JobStatusFailed JobStatus = "failed"
)

// Permission indexes into the 20-bit user permission vector.
// Stored as an integer bitmask; bit i grants the permission with index i.
const (
	PermSynthesize     = 0 // single-phrase preview and real-time runs
	PermSubmitBatches  = 1 // create and download batch jobs
	PermManageProfiles = 2 // voice profile CRUD
	PermManageUsers    = 3 // user CRUD and permission edits
	PermManageSettings = 4 // SMTP settings

	PermissionBits = 20
)

// PermissionMask keeps stored vectors inside the fixed 20-bit range.
const PermissionMask = (1 << PermissionBits) - 1

// Row is one (relative name, text) pair within a batch job. Filename is a
// path-like name that may contain "/" separators; it is used to build the
// output path after traversal sanitization.
type Row struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// RowList is stored as a JSONB column, preserving submission order.
type RowList []Row

func (r RowList) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *RowList) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into RowList", value)
	}
	return json.Unmarshal(bytes, r)
}

// Job is one durable batch submission. Immutable after creation except for
// status, attempts, error and zip, which only the worker writes.
type Job struct {
	ID           uuid.UUID `json:"id"`
	Profile      string    `json:"profile"` // profile reference, resolved at processing time
	Rows         RowList   `json:"rows"`
	NotifyEmail  *string   `json:"email,omitempty"`
	Status       JobStatus `json:"status"`
	Attempts     int       `json:"attempts,omitempty"`
	ErrorMessage *string   `json:"error,omitempty"`
	ArchivePath  *string   `json:"zip,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// VoiceProfile is a named bundle of synthesis parameters applied to every
// row of a batch. Pitch and Volume are accepted and stored but are not
// forwarded to the speech API, which has no matching parameters.
type VoiceProfile struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Model     string    `json:"model"`
	Voice     string    `json:"voice"`
	Format    string    `json:"format"` // mp3, wav or pcm
	StyleHint *string   `json:"style_hint,omitempty"`
	Speed     *float64  `json:"speed,omitempty"`
	Pitch     *float64  `json:"pitch,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	PasswordSalt string    `json:"-"`
	Permissions  int       `json:"permissions"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Can reports whether the user holds the permission with the given index.
func (u *User) Can(index int) bool {
	if index < 0 || index >= PermissionBits {
		return false
	}
	return u.Permissions&(1<<index) != 0
}

type PasswordReset struct {
	Token     string     `json:"token"`
	UserID    uuid.UUID  `json:"user_id"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type SMTPSettings struct {
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	Username    string    `json:"username,omitempty"`
	Password    string    `json:"password,omitempty"`
	FromAddress string    `json:"from_address"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WorkspaceSnapshot is persisted inside a real-time workspace directory at
// creation time. The recorded format decides the extension of every row
// uploaded into the workspace, so profile edits mid-run cannot change the
// naming convention under the caller's feet.
type WorkspaceSnapshot struct {
	Profile   string    `json:"profile"`
	Format    string    `json:"format"`
	Rows      RowList   `json:"rows"`
	CreatedAt time.Time `json:"created_at"`
}

// API request/response types

// SubmitBatchRequest is shared by the queue path and the real-time
// workspace path; both validate identically.
type SubmitBatchRequest struct {
	Profile string  `json:"profile"`
	Rows    RowList `json:"rows"`
	Email   string  `json:"email,omitempty"`
}

// Validate rejects incomplete submissions with no partial acceptance.
func (r *SubmitBatchRequest) Validate() error {
	if r.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	if len(r.Rows) == 0 {
		return fmt.Errorf("at least one row is required")
	}
	for i, row := range r.Rows {
		if row.Filename == "" {
			return fmt.Errorf("row %d: filename is required", i)
		}
		if row.Text == "" {
			return fmt.Errorf("row %d: text is required", i)
		}
	}
	return nil
}

// BatchResponse is the envelope for batch and workspace creation.
type BatchResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"job_id,omitempty"`
	Message string `json:"message,omitempty"`
}

type UploadResponse struct {
	Success bool   `json:"success"`
	File    string `json:"file,omitempty"`
	Message string `json:"message,omitempty"`
}

type ArchiveRequest struct {
	Files []string `json:"files"`
}

type ArchiveResponse struct {
	Success bool   `json:"success"`
	Zip     string `json:"zip,omitempty"`
	Message string `json:"message,omitempty"`
}

type PreviewRequest struct {
	Profile string `json:"profile"`
	Text    string `json:"text"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token       string `json:"token"`
	Permissions int    `json:"permissions"`
}

type ResetRequest struct {
	Email string `json:"email"`
}

type ResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type CreateUserRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Permissions int    `json:"permissions"`
}
