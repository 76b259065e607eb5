package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/rekindle/internal/model"
)

type userRequest struct {
	Timezone     string                   `json:"timezone" validate:"omitempty,timezone"`
	Availability model.AvailabilityParams `json:"availability"`
}

func (s *Server) handlePutUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req userRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if n := req.Availability.Night; n != nil && n.StartMinute == n.EndMinute {
		s.writeError(w, r, model.NewValidationError("availability.night", "start and end must differ"))
		return
	}

	u := model.User{ID: userID, Timezone: req.Timezone, Availability: req.Availability}
	if err := s.db.UpsertUser(r.Context(), u); err != nil {
		s.writeError(w, r, err)
		return
	}
	stored, err := s.db.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stored)
}

type contactInput struct {
	ID            int64           `json:"id" validate:"gt=0"`
	DisplayName   string          `json:"display_name"`
	Frequency     model.Frequency `json:"frequency" validate:"omitempty,oneof=daily weekly monthly yearly flexible unset"`
	LastContactAt *time.Time      `json:"last_contact_at"`
	Tags          []string        `json:"tags" validate:"dive,required"`
	Groups        []string        `json:"groups" validate:"dive,required"`
	Interests     []string        `json:"interests" validate:"dive,required"`
	City          string          `json:"city"`
	Style         model.CommStyle `json:"style" validate:"omitempty,oneof=irl url none"`
}

type contactsRequest struct {
	Contacts []contactInput `json:"contacts" validate:"required,dive"`
}

// handlePutContacts takes an enrichment snapshot. The recently-met flag belongs
// to the lifecycle and is not accepted here; last contact only moves forward.
func (s *Server) handlePutContacts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !s.userExists(w, r, userID) {
		return
	}

	var req contactsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	seen := make(map[int64]bool, len(req.Contacts))
	contacts := make([]model.Contact, 0, len(req.Contacts))
	for _, in := range req.Contacts {
		if seen[in.ID] {
			s.writeError(w, r, model.NewValidationError("contacts.id", "duplicate contact id"))
			return
		}
		seen[in.ID] = true
		contacts = append(contacts, model.Contact{
			ID:            in.ID,
			UserID:        userID,
			DisplayName:   strings.TrimSpace(in.DisplayName),
			Frequency:     in.Frequency,
			LastContactAt: in.LastContactAt,
			Tags:          in.Tags,
			Groups:        in.Groups,
			Interests:     in.Interests,
			City:          strings.TrimSpace(in.City),
			Style:         in.Style,
		})
	}

	if err := s.db.UpsertContacts(r.Context(), userID, contacts); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "contacts": len(contacts)})
}

type coMentionInput struct {
	A     int64 `json:"a" validate:"gt=0"`
	B     int64 `json:"b" validate:"gt=0,nefield=A"`
	Count int   `json:"count" validate:"gte=0"`
}

type coMentionsRequest struct {
	CoMentions []coMentionInput `json:"comentions" validate:"required,dive"`
}

func (s *Server) handlePutCoMentions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !s.userExists(w, r, userID) {
		return
	}

	var req coMentionsRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	pairs := make([]model.CoMention, len(req.CoMentions))
	for i, in := range req.CoMentions {
		pairs[i] = model.CoMention{A: in.A, B: in.B, Count: in.Count}
	}
	if err := s.db.ReplaceCoMentions(r.Context(), userID, pairs); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "comentions": len(pairs)})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	res, err := s.engine.GenerateForUser(r.Context(), userID, s.now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	status := http.StatusCreated
	if res.Skipped || (res.Unavailable && len(res.Suggestions) == 0) {
		status = http.StatusOK
	}
	if res.Suggestions == nil {
		res.Suggestions = []model.Suggestion{}
	}
	writeJSON(w, status, map[string]any{
		"batch_id":    res.BatchID,
		"skipped":     res.Skipped,
		"unavailable": res.Unavailable,
		"suggestions": res.Suggestions,
	})
}

func (s *Server) handleListSuggestions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	list, err := s.lifecycle.List(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": list})
}

func (s *Server) handleGetSuggestion(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sg, err := s.db.GetSuggestion(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sg == nil {
		s.writeError(w, r, model.NewNotFoundError("suggestion", id))
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	sg, err := s.lifecycle.Accept(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

type dismissRequest struct {
	Reason string `json:"reason" validate:"required,max=200"`
}

func (s *Server) handleDismiss(w http.ResponseWriter, r *http.Request) {
	var req dismissRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sg, err := s.lifecycle.Dismiss(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

type snoozeRequest struct {
	Duration string `json:"duration" validate:"required"`
}

func (s *Server) handleSnooze(w http.ResponseWriter, r *http.Request) {
	var req snoozeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := time.ParseDuration(req.Duration)
	if err != nil {
		s.writeError(w, r, model.NewValidationError("duration", "not a duration like 48h"))
		return
	}

	sg, err := s.lifecycle.Snooze(r.Context(), chi.URLParam(r, "id"), d)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (s *Server) userExists(w http.ResponseWriter, r *http.Request, userID string) bool {
	u, err := s.db.GetUser(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return false
	}
	if u == nil {
		s.writeError(w, r, model.NewNotFoundError("user", userID))
		return false
	}
	return true
}
