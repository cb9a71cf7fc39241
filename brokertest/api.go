package brokertest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/notif-sh/notif-go/models"
	"github.com/notif-sh/notif-go/protocol"
)

var (
	errScheduleNotFound = errors.New("schedule not found")
	errNotPending       = errors.New("schedule is not pending")
)

type scheduleEntry struct {
	s     models.Schedule
	timer *time.Timer
}

func (b *Broker) routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/ws", b.serveWS)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(b.requireAuth)
		r.Post("/emit", b.handleEmit)
		r.Route("/schedules", func(r chi.Router) {
			r.Post("/", b.handleCreateSchedule)
			r.Get("/", b.handleListSchedules)
			r.Get("/{id}", b.handleGetSchedule)
			r.Delete("/{id}", b.handleCancelSchedule)
			r.Post("/{id}/run", b.handleRunSchedule)
		})
	})
	return r
}

// authorized accepts the key as a bearer token or as the token query parameter.
func (b *Broker) authorized(r *http.Request) bool {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return token == b.apiKey
	}
	return r.URL.Query().Get("token") == b.apiKey
}

func (b *Broker) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !b.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (b *Broker) handleEmit(w http.ResponseWriter, r *http.Request) {
	var req models.EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if err := protocol.ValidateTopic(req.Topic); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOPIC", err.Error())
		return
	}

	e, err := b.Publish(req.Topic, req.Data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "PUBLISH_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.EmitResponse{ID: e.ID, Topic: e.Topic, CreatedAt: e.Timestamp})
}

func (b *Broker) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}
	if err := protocol.ValidateTopic(req.Topic); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_TOPIC", err.Error())
		return
	}

	now := time.Now().UTC()
	var at time.Time
	switch {
	case req.ScheduledFor != nil:
		at = req.ScheduledFor.UTC()
	case req.In != "":
		d, err := time.ParseDuration(req.In)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_DURATION", fmt.Sprintf("invalid duration %q", req.In))
			return
		}
		at = now.Add(d)
	default:
		writeError(w, http.StatusBadRequest, "INVALID_SCHEDULE", "scheduled_for or in is required")
		return
	}

	id := fmt.Sprintf("sch_%d", b.seq.Add(1))
	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	entry := &scheduleEntry{s: models.Schedule{
		ID:           id,
		Topic:        req.Topic,
		Data:         data,
		ScheduledFor: at,
		Status:       models.SchedulePending,
		CreatedAt:    now,
	}}

	b.mu.Lock()
	b.schedules[id] = entry
	b.order = append(b.order, id)
	entry.timer = time.AfterFunc(time.Until(at), func() {
		if _, err := b.execute(id); err != nil && !errors.Is(err, errNotPending) {
			b.l.Warn("scheduled emit failed", "id", id, "error", err)
		}
	})
	b.mu.Unlock()

	writeJSON(w, http.StatusCreated, models.CreateScheduleResponse{
		ID:           id,
		Topic:        req.Topic,
		ScheduledFor: at,
		CreatedAt:    now,
	})
}

func (b *Broker) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := models.ScheduleStatus(q.Get("status"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	var matched []models.Schedule
	for _, s := range b.Schedules() {
		if status == "" || s.Status == status {
			matched = append(matched, s)
		}
	}

	resp := models.ScheduleList{Schedules: []models.Schedule{}, Total: len(matched)}
	if offset < len(matched) {
		page := matched[offset:]
		if limit > 0 && limit < len(page) {
			page = page[:limit]
		}
		resp.Schedules = page
	}
	writeJSON(w, http.StatusOK, resp)
}

func (b *Broker) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	entry, ok := b.schedules[id]
	var s models.Schedule
	if ok {
		s = entry.s
	}
	b.mu.Unlock()

	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", errScheduleNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (b *Broker) handleCancelSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b.mu.Lock()
	entry, ok := b.schedules[id]
	switch {
	case !ok:
		b.mu.Unlock()
		writeError(w, http.StatusNotFound, "NOT_FOUND", errScheduleNotFound.Error())
		return
	case entry.s.Status != models.SchedulePending:
		b.mu.Unlock()
		writeError(w, http.StatusConflict, "CONFLICT", errNotPending.Error())
		return
	}
	entry.timer.Stop()
	entry.s.Status = models.ScheduleCancelled
	b.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

func (b *Broker) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	eventID, err := b.execute(id)
	switch {
	case errors.Is(err, errScheduleNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, errNotPending):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, "PUBLISH_ERROR", err.Error())
	default:
		writeJSON(w, http.StatusOK, models.RunScheduleResponse{ScheduleID: id, EventID: eventID})
	}
}

// execute publishes a pending schedule once, whether triggered by its timer or by run.
func (b *Broker) execute(id string) (string, error) {
	b.mu.Lock()
	entry, ok := b.schedules[id]
	if !ok {
		b.mu.Unlock()
		return "", errScheduleNotFound
	}
	if entry.s.Status != models.SchedulePending {
		b.mu.Unlock()
		return "", errNotPending
	}
	entry.s.Status = models.ScheduleCompleted
	entry.timer.Stop()
	topic, data := entry.s.Topic, entry.s.Data
	b.mu.Unlock()

	e, err := b.Publish(topic, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now().UTC()
	entry.s.ExecutedAt = &now
	if err != nil {
		entry.s.Status = models.ScheduleFailed
		entry.s.Error = err.Error()
		return "", err
	}
	return e.ID, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}
