package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"remindd/internal/eventbus"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Machine-readable error kinds carried in every error response.
const (
	kindValidation   = "validation"
	kindWindowInPast = "window_in_past"
	kindWindowSoon   = "window_too_soon"
	kindWindowFar    = "window_too_far"
	kindNotFound     = "not_found"
	kindConflict     = "conflict"
	kindInternal     = "internal"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type createRequest struct {
	OwnerID string           `json:"owner_id"`
	Message string           `json:"message"`
	FireAt  time.Time        `json:"fire_at"`
	Channel reminder.Channel `json:"channel"`
}

type updateRequest struct {
	Message *string    `json:"message,omitempty"`
	FireAt  *time.Time `json:"fire_at,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "owner_id is required")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "message is required")
		return
	}
	if req.FireAt.IsZero() {
		writeError(w, http.StatusBadRequest, kindValidation, "fire_at is required")
		return
	}
	if err := req.Channel.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}

	minLead, maxLead := s.window()
	if err := reminder.Validate(time.Now().UTC(), req.FireAt, minLead, maxLead); err != nil {
		writeWindowError(w, err)
		return
	}

	rem := reminder.New(req.OwnerID, req.Message, req.FireAt, req.Channel)
	if err := s.store.Put(r.Context(), rem); err != nil {
		s.log.Error("create reminder failed", logx.String("owner_id", req.OwnerID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, kindInternal, "store write failed")
		return
	}
	if s.sched != nil {
		s.sched.Schedule(rem.ID, rem.FireAt)
	}
	s.log.Info("reminder created",
		logx.String("id", rem.ID),
		logx.String("owner_id", rem.OwnerID),
		logx.Time("fire_at", rem.FireAt),
		logx.String("channel", string(rem.Channel.Type)))
	writeJSON(w, http.StatusCreated, rem)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rem, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req updateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Message == nil && req.FireAt == nil {
		writeError(w, http.StatusBadRequest, kindValidation, "nothing to update")
		return
	}

	rem, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	if rem.State.Terminal() {
		writeError(w, http.StatusConflict, kindConflict, "reminder is already resolved")
		return
	}

	now := time.Now().UTC()
	mut := storage.Mutation{UpdatedAt: now}
	if req.Message != nil {
		if strings.TrimSpace(*req.Message) == "" {
			writeError(w, http.StatusBadRequest, kindValidation, "message must not be empty")
			return
		}
		mut.Message = req.Message
	}
	if req.FireAt != nil {
		minLead, maxLead := s.window()
		if err := reminder.Validate(now, *req.FireAt, minLead, maxLead); err != nil {
			writeWindowError(w, err)
			return
		}
		at := req.FireAt.UTC()
		mut.FireAt = &at
	}

	// Conditional on the state and retry count just read, so an engine
	// cycle claimed in between cannot be overwritten with stale values.
	err = s.store.ConditionalUpdate(r.Context(), id, rem.State, rem.RetryCount, mut)
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, "reminder not found")
		return
	case errors.Is(err, reminder.ErrPreconditionFailed):
		writeError(w, http.StatusConflict, kindConflict, "reminder changed concurrently; retry")
		return
	case err != nil:
		s.log.Error("update reminder failed", logx.String("id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, kindInternal, "store write failed")
		return
	}

	if mut.Message != nil {
		rem.Message = *mut.Message
	}
	if mut.FireAt != nil {
		rem.FireAt = *mut.FireAt
	}
	rem.UpdatedAt = now

	if s.sched != nil && mut.FireAt != nil {
		s.sched.Schedule(rem.ID, rem.FireAt)
	}
	writeJSON(w, http.StatusOK, rem)
}

// handleAck marks a Pending reminder Acknowledged via the conditional
// write. A lost race (the engine exhausted it meanwhile, or a duplicate
// ack) comes back as 409.
func (s *Server) handleAck(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rem, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, s.log, err)
		return
	}
	if rem.State == reminder.StateAcknowledged {
		// Idempotent: repeating an ack is fine.
		writeJSON(w, http.StatusOK, rem)
		return
	}
	if rem.State != reminder.StatePending {
		writeError(w, http.StatusConflict, kindConflict, "reminder is already resolved")
		return
	}

	st := reminder.StateAcknowledged
	now := time.Now().UTC()
	err = s.store.ConditionalUpdate(r.Context(), id, rem.State, rem.RetryCount, storage.Mutation{State: &st, UpdatedAt: now})
	switch {
	case errors.Is(err, reminder.ErrNotFound):
		writeError(w, http.StatusNotFound, kindNotFound, "reminder not found")
		return
	case errors.Is(err, reminder.ErrPreconditionFailed):
		writeError(w, http.StatusConflict, kindConflict, "reminder changed concurrently; retry")
		return
	case err != nil:
		s.log.Error("ack reminder failed", logx.String("id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, kindInternal, "store write failed")
		return
	}

	if s.sched != nil {
		s.sched.Cancel(id)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeAcknowledged,
			Data: eventbus.ReminderEvent{ID: id, OwnerID: rem.OwnerID, At: now},
		})
	}
	s.log.Info("reminder acknowledged", logx.String("id", id))

	rem.State = st
	rem.UpdatedAt = now
	writeJSON(w, http.StatusOK, rem)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.log.Error("delete reminder failed", logx.String("id", id), logx.Err(err))
		writeError(w, http.StatusInternalServerError, kindInternal, "store delete failed")
		return
	}
	if s.sched != nil {
		s.sched.Cancel(id)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeDeleted,
			Data: eventbus.ReminderEvent{ID: id, At: time.Now().UTC()},
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, kindValidation, "owner_id query parameter is required")
		return
	}
	rems, err := s.store.QueryByOwner(r.Context(), ownerID)
	if err != nil {
		s.log.Error("list reminders failed", logx.String("owner_id", ownerID), logx.Err(err))
		writeError(w, http.StatusInternalServerError, kindInternal, "store query failed")
		return
	}
	if rems == nil {
		rems = []reminder.Reminder{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": rems})
}

// ---- helpers ----

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, kindValidation, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]errorBody{"error": {Kind: kind, Message: msg}})
}

func writeWindowError(w http.ResponseWriter, err error) {
	we, ok := reminder.AsWindowError(err)
	if !ok {
		writeError(w, http.StatusBadRequest, kindValidation, err.Error())
		return
	}
	kind := kindValidation
	switch we.Reason {
	case reminder.WindowInPast:
		kind = kindWindowInPast
	case reminder.WindowTooSoon:
		kind = kindWindowSoon
	case reminder.WindowTooFar:
		kind = kindWindowFar
	}
	writeError(w, http.StatusUnprocessableEntity, kind, we.Error())
}

func writeStoreError(w http.ResponseWriter, log logx.Logger, err error) {
	if errors.Is(err, reminder.ErrNotFound) {
		writeError(w, http.StatusNotFound, kindNotFound, "reminder not found")
		return
	}
	log.Error("store read failed", logx.Err(err))
	writeError(w, http.StatusInternalServerError, kindInternal, "store read failed")
}
