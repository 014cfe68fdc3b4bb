package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/vocaldesk/vocaldesk/internal/db"
	"github.com/vocaldesk/vocaldesk/internal/models"
	"github.com/vocaldesk/vocaldesk/internal/synth"
)

const resetTokenTTL = time.Hour

// Voice profiles

func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var profile models.VoiceProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if profile.Name == "" || profile.Model == "" || profile.Voice == "" {
		respondError(w, http.StatusBadRequest, "name, model and voice are required")
		return
	}
	profile.Format = synth.NormalizeFormat(profile.Format)

	if err := h.profiles.CreateProfile(r.Context(), &profile); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create profile")
		return
	}

	respondJSON(w, http.StatusCreated, profile)
}

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.profiles.ListProfiles(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if profiles == nil {
		profiles = []models.VoiceProfile{}
	}
	respondJSON(w, http.StatusOK, profiles)
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile ID")
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile ID")
		return
	}

	var profile models.VoiceProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	profile.ID = id
	profile.Format = synth.NormalizeFormat(profile.Format)

	if err := h.profiles.UpdateProfile(r.Context(), &profile); err != nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	respondJSON(w, http.StatusOK, profile)
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid profile ID")
		return
	}

	if err := h.profiles.DeleteProfile(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "profile not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Users

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	salt, err := db.NewSalt()
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	user := &models.User{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordSalt: salt,
		PasswordHash: db.HashPassword(salt, req.Password),
		Permissions:  req.Permissions & models.PermissionMask,
	}

	if err := h.users.CreateUser(r.Context(), user); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create user")
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListUsers(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list users")
		return
	}
	if users == nil {
		users = []models.User{}
	}
	respondJSON(w, http.StatusOK, users)
}

func (h *Handler) UpdateUserPermissions(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	var req struct {
		Permissions int `json:"permissions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.users.UpdateUserPermissions(r.Context(), id, req.Permissions); err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid user ID")
		return
	}

	if user := userFrom(r.Context()); user != nil && user.ID == id {
		respondError(w, http.StatusBadRequest, "cannot delete your own account")
		return
	}

	if err := h.users.DeleteUser(r.Context(), id); err != nil {
		respondError(w, http.StatusNotFound, "user not found")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// Auth

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil || !db.VerifyPassword(user, req.Password) {
		respondError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := h.sessions.Create(r.Context(), user.ID)
	if err != nil {
		h.log.WithError(err).Error("failed to create session")
		respondError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	respondJSON(w, http.StatusOK, models.LoginResponse{Token: token, Permissions: user.Permissions})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := h.sessions.Delete(r.Context(), token); err != nil {
			h.log.WithError(err).Warn("failed to delete session")
		}
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// RequestPasswordReset always answers OK so the endpoint cannot be used to
// probe which addresses have accounts.
func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		respondError(w, http.StatusBadRequest, "email is required")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err == nil {
		reset, err := h.users.CreatePasswordReset(r.Context(), user.ID, resetTokenTTL)
		if err == nil {
			body := "A password reset was requested for your account.\n\n" +
				"Reset token: " + reset.Token + "\n\n" +
				"The token expires in one hour. If you did not request this, ignore this message."
			if err := h.mail.Send(r.Context(), user.Email, "Password reset", body); err != nil {
				h.log.WithError(err).Warn("failed to send reset mail")
			}
		} else {
			h.log.WithError(err).Error("failed to create password reset")
		}
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req models.ResetConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Password == "" {
		respondError(w, http.StatusBadRequest, "token and password are required")
		return
	}

	userID, err := h.users.ConsumePasswordReset(r.Context(), req.Token)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid or expired token")
		return
	}

	if err := h.users.SetUserPassword(r.Context(), userID, req.Password); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to set password")
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// SMTP settings

func (h *Handler) GetSMTPSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSMTPSettings(r.Context())
	if err != nil {
		respondJSON(w, http.StatusOK, models.SMTPSettings{Port: 587})
		return
	}

	settings.Password = "" // never echo the stored secret
	respondJSON(w, http.StatusOK, settings)
}

func (h *Handler) SaveSMTPSettings(w http.ResponseWriter, r *http.Request) {
	var settings models.SMTPSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if settings.Host == "" || settings.FromAddress == "" {
		respondError(w, http.StatusBadRequest, "host and from_address are required")
		return
	}
	if settings.Port == 0 {
		settings.Port = 587
	}

	if err := h.settings.SaveSMTPSettings(r.Context(), &settings); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	settings.Password = ""
	respondJSON(w, http.StatusOK, settings)
}

// TestSMTPSettings sends a test mail with the posted (not yet saved)
// configuration.
func (h *Handler) TestSMTPSettings(w http.ResponseWriter, r *http.Request) {
	var req struct {
		models.SMTPSettings
		To string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.To == "" {
		respondError(w, http.StatusBadRequest, "settings and recipient are required")
		return
	}

	if err := h.mail.SendTest(&req.SMTPSettings, req.To); err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"success": false, "message": err.Error()})
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}
