// Package api exposes HTTP handlers for the scheduling engine.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"example.com/scheduling/internal/auth"
	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/lock"
	"example.com/scheduling/internal/logger"
	"example.com/scheduling/internal/persistence"
)

// Handler coordinates HTTP requests with the scheduling engine.
type Handler struct {
	engine        *domain.Engine
	recomputeDays int
	log           *logger.Logger
}

// NewHandler builds a Handler. recomputeDays is the window used by
// POST /v1/streak/recompute when the caller does not pass one.
func NewHandler(engine *domain.Engine, recomputeDays int, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	if recomputeDays <= 0 {
		recomputeDays = 90
	}
	return &Handler{engine: engine, recomputeDays: recomputeDays, log: log}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/schedule", h.schedule)
	mux.HandleFunc("/v1/schedule/free-slots", h.freeSlots)
	mux.HandleFunc("/v1/schedule/", h.scheduleByID)
	mux.HandleFunc("/v1/streak", h.streak)
	mux.HandleFunc("/v1/streak/recompute", h.recomputeStreak)
	mux.HandleFunc("/v1/streak/weekly-goal", h.weeklyGoal)
	mux.HandleFunc("/v1/stats/monthly", h.monthlyStats)
	mux.HandleFunc("/v1/history", h.history)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.scheduleActivity(w, r)
	case http.MethodGet:
		h.listActivities(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

func (h *Handler) scheduleByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/schedule/"), "/")
	if rest == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "missing activity id")
		return
	}

	parts := strings.Split(rest, "/")
	id := parts[0]
	if len(parts) == 2 {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
			return
		}
		switch parts[1] {
		case "complete":
			h.completeActivity(w, r, id)
		case "uncomplete":
			h.uncompleteActivity(w, r, id)
		default:
			writeError(w, http.StatusNotFound, "not_found", "unknown action")
		}
		return
	}
	if len(parts) > 2 {
		writeError(w, http.StatusNotFound, "not_found", "unknown resource")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getActivity(w, r, id)
	case http.MethodPatch:
		h.rescheduleActivity(w, r, id)
	case http.MethodDelete:
		h.cancelActivity(w, r, id)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
	}
}

// authorize resolves the caller's owner id and checks scope. Write scope
// implies read.
func authorize(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	allowed := claims.HasScope(scope)
	if scope == auth.ScopeScheduleRead {
		allowed = claims.HasAnyScope(auth.ScopeScheduleRead, auth.ScopeScheduleWrite)
	}
	if !allowed {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
		return "", false
	}
	owner, ok := auth.OwnerID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "token has no subject")
		return "", false
	}
	return owner, true
}

func (h *Handler) scheduleActivity(w http.ResponseWriter, r *http.Request) {
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	var req ScheduleActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := h.engine.ScheduleActivity(r.Context(), domain.ScheduleRequest{
		OwnerID:      owner,
		Title:        req.Title,
		Date:         req.Date,
		Time:         req.Time,
		DurationMin:  req.DurationMin,
		ActivityType: req.ActivityType,
		Refs: domain.RefIDs{
			WorkoutID:    req.WorkoutID,
			MeditationID: req.MeditationID,
			YogaID:       req.YogaID,
		},
		ReminderLeadMinutes: req.ReminderLeadMinutes,
		Notes:               req.Notes,
		RecurrenceRule:      req.RecurrenceRule,
	})
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(*activity))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	owner, ok := authorize(w, r, auth.ScopeScheduleRead)
	if !ok {
		return
	}

	rawFrom := r.URL.Query().Get("from")
	if rawFrom == "" {
		writeError(w, http.StatusBadRequest, "validation_failed", "missing from parameter")
		return
	}
	from, err := domain.ParseDate(rawFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	to := from
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = domain.ParseDate(raw); err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
			return
		}
	}

	activities, err := h.engine.ListActivities(r.Context(), owner, from, to)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, activity := range activities {
		items = append(items, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{Items: items})
}

func (h *Handler) freeSlots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	owner, ok := authorize(w, r, auth.ScopeScheduleRead)
	if !ok {
		return
	}

	date, err := domain.ParseDate(r.URL.Query().Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	duration, err := strconv.Atoi(r.URL.Query().Get("duration_min"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "duration_min must be an integer")
		return
	}

	slots, err := h.engine.SuggestSlots(r.Context(), owner, date, duration)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, FreeSlotsResponse{
		Date:        domain.FormatDate(date),
		DurationMin: duration,
		Slots:       toSlotViews(slots),
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := authorize(w, r, auth.ScopeScheduleRead)
	if !ok {
		return
	}

	activity, err := h.engine.GetActivity(r.Context(), owner, id)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) rescheduleActivity(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	var req RescheduleActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := h.engine.RescheduleActivity(r.Context(), owner, id, req.toPatch())
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) cancelActivity(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	if err := h.engine.CancelActivity(r.Context(), owner, id); err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) completeActivity(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	var req CompleteActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	activity, err := h.engine.CompleteActivity(r.Context(), owner, id, domain.CompletionDetails{
		DurationMin: req.DurationMin,
		Notes:       req.Notes,
		Rating:      req.Rating,
	})
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) uncompleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	activity, err := h.engine.UncompleteActivity(r.Context(), owner, id)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) streak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	owner, ok := authorize(w, r, auth.ScopeScheduleRead)
	if !ok {
		return
	}

	view, err := h.engine.GetStreak(r.Context(), owner)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	resp := toStreakView(view.StreakRecord)
	resp.WeeklyCompleted = view.WeeklyCompleted
	resp.WeeklyGoalMet = view.WeeklyGoalMet
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) recomputeStreak(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	window := h.recomputeDays
	if raw := r.URL.Query().Get("window_days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "window_days must be an integer")
			return
		}
		window = parsed
	}

	record, err := h.engine.RecomputeStreak(r.Context(), owner, window)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreakView(*record))
}

func (h *Handler) weeklyGoal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	owner, ok := authorize(w, r, auth.ScopeScheduleWrite)
	if !ok {
		return
	}

	var req WeeklyGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	record, err := h.engine.SetWeeklyGoal(r.Context(), owner, req.WeeklyGoal)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toStreakView(*record))
}

func (h *Handler) monthlyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	owner, ok := authorize(w, r, auth.ScopeScheduleRead)
	if !ok {
		return
	}

	month, err := strconv.Atoi(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "month must be an integer")
		return
	}
	year, err := strconv.Atoi(r.URL.Query().Get("year"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "year must be an integer")
		return
	}

	stats, err := h.engine.GetMonthlyStats(r.Context(), owner, month, year)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyStatsView(*stats))
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}
	owner, ok := authorize(w, r, auth.ScopeScheduleRead)
	if !ok {
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	entries, next, err := h.engine.ListHistory(r.Context(), owner, cursor, limit)
	if err != nil {
		h.writeDomainError(r.Context(), w, owner, err)
		return
	}

	items := make([]HistoryEntryView, 0, len(entries))
	for _, entry := range entries {
		items = append(items, toHistoryEntryView(entry))
	}
	writeJSON(w, http.StatusOK, ListHistoryResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// writeDomainError maps engine errors onto status codes. Conflicts carry the
// free slots of the requested date so the caller can pick another time.
func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, owner string, err error) {
	var conflict *domain.ConflictError
	switch {
	case errors.As(err, &conflict):
		resp := ConflictResponse{
			Type:           "conflict",
			Detail:         err.Error(),
			ConflictingIDs: conflict.ConflictingIDs,
			SuggestedSlots: []SlotView{},
		}
		if conflict.Err == nil {
			slots, slotErr := h.engine.SuggestSlots(ctx, owner, conflict.Date, conflict.Interval.Minutes())
			if slotErr != nil {
				h.log.Warn("suggest slots after conflict", "owner_id", owner, "error", slotErr)
			} else {
				resp.SuggestedSlots = toSlotViews(slots)
			}
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "activity not found")
	case errors.Is(err, domain.ErrConflict):
		writeJSON(w, http.StatusConflict, ConflictResponse{Type: "conflict", Detail: err.Error(), SuggestedSlots: []SlotView{}})
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "busy", "schedule is locked, retry later")
	default:
		h.log.Error("request failed", "owner_id", owner, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
