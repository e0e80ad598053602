package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/scheduling/internal/auth"
	"example.com/scheduling/internal/domain"
	"example.com/scheduling/internal/lock"
	"example.com/scheduling/internal/persistence/memory"
)

var testNow = time.Date(2024, time.June, 10, 8, 0, 0, 0, time.UTC)

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	store := memory.NewStore()
	engine := domain.NewEngine(store.Events(), store.Streaks(), store.History(), lock.NewKeyedMutex(),
		domain.WithClock(func() time.Time { return testNow }))
	mux := http.NewServeMux()
	NewHandler(engine, 90, nil).RegisterRoutes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path string, body interface{}, owner string, scopes ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if owner != "" {
		claims := &auth.Claims{
			Subject:   owner,
			Scopes:    map[string]struct{}{},
			ExpiresAt: time.Now().Add(time.Hour),
		}
		for _, scope := range scopes {
			claims.Scopes[scope] = struct{}{}
		}
		req = req.WithContext(auth.WithClaims(req.Context(), claims))
	}
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func writer(t *testing.T, mux *http.ServeMux, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	return do(t, mux, method, path, body, "owner-1", auth.ScopeScheduleWrite)
}

func scheduleWorkout(t *testing.T, mux *http.ServeMux, date, at string, duration int) ActivityView {
	t.Helper()
	rr := writer(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{
		Title:        "Leg day",
		Date:         date,
		Time:         at,
		DurationMin:  duration,
		ActivityType: "Workout",
		WorkoutID:    "wk-1",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var view ActivityView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
	return view
}

func TestScheduleConflictSuggestsSlots(t *testing.T) {
	mux := newTestMux(t)

	created := scheduleWorkout(t, mux, "2024-06-10", "09:00", 60)
	require.Equal(t, "workout", created.ActivityType)
	require.Equal(t, "wk-1", created.WorkoutID)
	require.Equal(t, "10:00", created.EndTime)
	require.False(t, created.Completed)

	rr := writer(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{
		Title:        "Breathing",
		Date:         "2024-06-10",
		Time:         "09:30",
		DurationMin:  30,
		ActivityType: "meditation",
	})
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())

	var conflict ConflictResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &conflict))
	require.Equal(t, "conflict", conflict.Type)
	require.Equal(t, []string{created.ActivityID}, conflict.ConflictingIDs)
	require.Equal(t, []SlotView{
		{Start: "00:00", End: "09:00", DurationMin: 540},
		{Start: "10:00", End: "24:00", DurationMin: 840},
	}, conflict.SuggestedSlots)

	// Back-to-back is allowed.
	scheduleWorkout(t, mux, "2024-06-10", "10:00", 30)
}

func TestScheduleValidationAndAuth(t *testing.T) {
	mux := newTestMux(t)

	rr := do(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{}, "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{}, "owner-1", auth.ScopeScheduleRead)
	require.Equal(t, http.StatusForbidden, rr.Code)

	rr = writer(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{
		Title:        "Run",
		Date:         "2024-06-09",
		Time:         "07:00",
		DurationMin:  30,
		ActivityType: "workout",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = writer(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{
		Title:        "Run",
		Date:         "2024-06-11",
		Time:         "25:00",
		DurationMin:  30,
		ActivityType: "workout",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = writer(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{
		Title:        "Flow",
		Date:         "2024-06-11",
		Time:         "07:00",
		DurationMin:  30,
		ActivityType: "yoga",
		WorkoutID:    "wk-1",
	})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRescheduleCancelAndOwnership(t *testing.T) {
	mux := newTestMux(t)
	first := scheduleWorkout(t, mux, "2024-06-12", "09:00", 60)
	second := scheduleWorkout(t, mux, "2024-06-12", "11:00", 30)

	rr := do(t, mux, http.MethodGet, "/v1/schedule/"+first.ActivityID, nil, "owner-2", auth.ScopeScheduleRead)
	require.Equal(t, http.StatusNotFound, rr.Code)

	// Shortening the activity in place does not conflict with itself.
	rr = writer(t, mux, http.MethodPatch, "/v1/schedule/"+first.ActivityID, map[string]interface{}{"duration_min": 45})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = writer(t, mux, http.MethodPatch, "/v1/schedule/"+first.ActivityID, map[string]interface{}{"time": "10:45"})
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = writer(t, mux, http.MethodPatch, "/v1/schedule/"+first.ActivityID, map[string]interface{}{"date": "2024-06-13", "notes": "moved"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var moved ActivityView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &moved))
	require.Equal(t, "2024-06-13", moved.Date)
	require.Equal(t, "09:00", moved.Time)
	require.Equal(t, 45, moved.DurationMin)
	require.Equal(t, "moved", moved.Notes)

	rr = writer(t, mux, http.MethodDelete, "/v1/schedule/"+second.ActivityID, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = writer(t, mux, http.MethodGet, "/v1/schedule/"+second.ActivityID, nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(t, mux, http.MethodGet, "/v1/schedule?from=2024-06-10&to=2024-06-20", nil, "owner-1", auth.ScopeScheduleRead)
	require.Equal(t, http.StatusOK, rr.Code)
	var list ListActivitiesResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	require.Len(t, list.Items, 1)
	require.Equal(t, first.ActivityID, list.Items[0].ActivityID)
}

func TestListActivitiesRejectsLongRange(t *testing.T) {
	mux := newTestMux(t)

	rr := writer(t, mux, http.MethodGet, "/v1/schedule?from=2024-06-01&to=2024-09-01", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = writer(t, mux, http.MethodGet, "/v1/schedule?to=2024-06-01", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestFreeSlots(t *testing.T) {
	mux := newTestMux(t)
	scheduleWorkout(t, mux, "2024-06-11", "00:00", 600)
	scheduleWorkout(t, mux, "2024-06-11", "12:00", 600)

	rr := writer(t, mux, http.MethodGet, "/v1/schedule/free-slots?date=2024-06-11&duration_min=90", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var resp FreeSlotsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, []SlotView{
		{Start: "10:00", End: "12:00", DurationMin: 120},
		{Start: "22:00", End: "24:00", DurationMin: 120},
	}, resp.Slots)

	rr = writer(t, mux, http.MethodGet, "/v1/schedule/free-slots?date=2024-06-11&duration_min=0", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompleteUpdatesStreakAndHistory(t *testing.T) {
	mux := newTestMux(t)
	activity := scheduleWorkout(t, mux, "2024-06-10", "07:00", 45)

	rating := 4
	for i := 0; i < 2; i++ {
		rr := writer(t, mux, http.MethodPost, "/v1/schedule/"+activity.ActivityID+"/complete", CompleteActivityRequest{Rating: &rating, Notes: "felt good"})
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var view ActivityView
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &view))
		require.True(t, view.Completed)
	}

	rr := writer(t, mux, http.MethodGet, "/v1/streak", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var streak StreakView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &streak))
	require.Equal(t, 1, streak.CurrentStreak)
	require.Equal(t, 1, streak.LongestStreak)
	require.Equal(t, 1, streak.TotalWorkouts)
	require.NotNil(t, streak.LastWorkoutDate)
	require.Equal(t, "2024-06-10", *streak.LastWorkoutDate)
	require.Equal(t, 1, streak.WeeklyCompleted)
	require.Equal(t, domain.DefaultWeeklyGoal, streak.WeeklyGoal)
	require.False(t, streak.WeeklyGoalMet)

	rr = writer(t, mux, http.MethodGet, "/v1/history?limit=10", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var history ListHistoryResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	require.Len(t, history.Items, 1)
	require.Equal(t, activity.ActivityID, history.Items[0].ActivityID)
	require.Equal(t, 45, history.Items[0].DurationMin)
	require.Equal(t, "felt good", history.Items[0].Notes)
	require.Empty(t, history.NextCursor)

	rr = writer(t, mux, http.MethodPost, "/v1/schedule/"+activity.ActivityID+"/uncomplete", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var reverted ActivityView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reverted))
	require.False(t, reverted.Completed)

	rr = writer(t, mux, http.MethodGet, "/v1/schedule/"+activity.ActivityID+"/complete", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = writer(t, mux, http.MethodPost, "/v1/history?cursor=not-a-cursor", nil)
	require.Equal(t, http.StatusMethodNotAllowed, rr.Code)

	rr = writer(t, mux, http.MethodGet, "/v1/history?cursor=not-a-cursor", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompleteRejectsBadRating(t *testing.T) {
	mux := newTestMux(t)
	activity := scheduleWorkout(t, mux, "2024-06-10", "07:00", 45)

	rating := 9
	rr := writer(t, mux, http.MethodPost, "/v1/schedule/"+activity.ActivityID+"/complete", CompleteActivityRequest{Rating: &rating})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestWeeklyGoalAndRecompute(t *testing.T) {
	mux := newTestMux(t)

	rr := writer(t, mux, http.MethodPut, "/v1/streak/weekly-goal", WeeklyGoalRequest{WeeklyGoal: 0})
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = writer(t, mux, http.MethodPut, "/v1/streak/weekly-goal", WeeklyGoalRequest{WeeklyGoal: 1})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	activity := scheduleWorkout(t, mux, "2024-06-10", "18:00", 30)
	rr = writer(t, mux, http.MethodPost, "/v1/schedule/"+activity.ActivityID+"/complete", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = writer(t, mux, http.MethodGet, "/v1/streak", nil)
	var streak StreakView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &streak))
	require.Equal(t, 1, streak.WeeklyGoal)
	require.True(t, streak.WeeklyGoalMet)

	rr = writer(t, mux, http.MethodPost, "/v1/streak/recompute?window_days=400", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = writer(t, mux, http.MethodPost, "/v1/streak/recompute?window_days=30", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &streak))
	require.Equal(t, 1, streak.CurrentStreak)
	require.Equal(t, 1, streak.TotalWorkouts)
	require.Equal(t, 1, streak.WeeklyGoal)
}

func TestMonthlyStats(t *testing.T) {
	mux := newTestMux(t)

	rr := writer(t, mux, http.MethodGet, "/v1/stats/monthly?month=6&year=2024", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var empty MonthlyStatsView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &empty))
	require.Equal(t, 0, empty.TotalEvents)
	require.Equal(t, 0, empty.CompletionRate)
	require.Equal(t, 0, empty.WorkoutCompletionRate)

	first := scheduleWorkout(t, mux, "2024-06-10", "07:00", 30)
	scheduleWorkout(t, mux, "2024-06-11", "07:00", 30)
	rr = writer(t, mux, http.MethodPost, "/v1/schedule", ScheduleActivityRequest{
		Title: "Sun salutation", Date: "2024-06-12", Time: "07:00", DurationMin: 20, ActivityType: "yoga",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = writer(t, mux, http.MethodPost, "/v1/schedule/"+first.ActivityID+"/complete", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = writer(t, mux, http.MethodGet, "/v1/stats/monthly?month=6&year=2024", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var stats MonthlyStatsView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &stats))
	require.Equal(t, 3, stats.TotalEvents)
	require.Equal(t, 1, stats.CompletedEvents)
	require.Equal(t, 2, stats.TotalWorkouts)
	require.Equal(t, 1, stats.CompletedWorkouts)
	require.Equal(t, 33, stats.CompletionRate)
	require.Equal(t, 50, stats.WorkoutCompletionRate)
	require.Equal(t, TypeStatsView{Total: 1}, stats.ByType["yoga"])

	rr = writer(t, mux, http.MethodGet, "/v1/stats/monthly?month=13&year=2024", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHealthz(t *testing.T) {
	mux := newTestMux(t)
	rr := do(t, mux, http.MethodGet, "/healthz", nil, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "ok", rr.Body.String())
}

type brokenEvents struct {
	domain.EventStore
}

func (brokenEvents) Get(context.Context, string) (*domain.ScheduledActivity, error) {
	return nil, errors.New("dial tcp 10.0.0.7:5432: connection refused")
}

func TestInternalErrorsHideDetails(t *testing.T) {
	store := memory.NewStore()
	engine := domain.NewEngine(brokenEvents{store.Events()}, store.Streaks(), store.History(), lock.NewKeyedMutex(),
		domain.WithClock(func() time.Time { return testNow }))
	mux := http.NewServeMux()
	NewHandler(engine, 90, nil).RegisterRoutes(mux)

	rr := do(t, mux, http.MethodGet, "/v1/schedule/a1", nil, "owner-1", auth.ScopeScheduleRead)
	require.Equal(t, http.StatusInternalServerError, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "server_error", body["type"])
	require.Equal(t, "internal error", body["detail"])
	require.NotContains(t, rr.Body.String(), "10.0.0.7")
}

func TestCompleteFutureActivityIsRejected(t *testing.T) {
	mux := newTestMux(t)
	activity := scheduleWorkout(t, mux, "2024-06-11", "07:00", 45)

	rr := writer(t, mux, http.MethodPost, "/v1/schedule/"+activity.ActivityID+"/complete", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())

	rr = writer(t, mux, http.MethodGet, "/v1/streak", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var streak StreakView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &streak))
	require.Zero(t, streak.TotalWorkouts)
}
