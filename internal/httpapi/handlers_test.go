package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

type stubSched struct {
	mu        sync.Mutex
	scheduled []string
	cancelled []string
}

func (s *stubSched) Schedule(id string, at time.Time) {
	s.mu.Lock()
	s.scheduled = append(s.scheduled, id)
	s.mu.Unlock()
}

func (s *stubSched) Cancel(id string) {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, id)
	s.mu.Unlock()
}

func (s *stubSched) scheduledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.scheduled)
}

func (s *stubSched) cancelledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancelled)
}

type testAPI struct {
	mux   *http.ServeMux
	store storage.Store
	sched *stubSched
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	return newTestAPIWith(t, storage.NewMemory())
}

func newTestAPIWith(t *testing.T, store storage.Store) *testAPI {
	t.Helper()
	sched := &stubSched{}
	srv := New(Config{
		MinLead: 5 * time.Minute,
		MaxLead: 72 * time.Hour,
	}, store, sched, nil, logx.Nop())
	mux := http.NewServeMux()
	srv.routes(mux)
	return &testAPI{mux: mux, store: store, sched: sched}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	a.mux.ServeHTTP(rr, req)
	return rr
}

func decodeErrorKind(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Kind string `json:"kind"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return body.Error.Kind
}

func validCreate(fireAt time.Time) map[string]any {
	return map[string]any{
		"owner_id": "alice",
		"message":  "dentist appointment",
		"fire_at":  fireAt.Format(time.RFC3339),
		"channel": map[string]any{
			"type":         "email",
			"to_address":   "alice@example.com",
			"from_address": "noreply@example.com",
		},
	}
}

func TestCreateReminder(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	fireAt := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rr := api.do(t, http.MethodPost, "/reminders", validCreate(fireAt))
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", rr.Code, rr.Body.String())
	}

	var got reminder.Reminder
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID == "" || got.State != reminder.StatePending || got.RetryCount != 0 {
		t.Fatalf("created = %+v", got)
	}
	if !got.FireAt.Equal(fireAt) {
		t.Fatalf("fire_at = %v, want %v", got.FireAt, fireAt)
	}
	if api.sched.scheduledCount() != 1 {
		t.Fatal("create must arm the invocation timer")
	}
	if _, err := api.store.Get(context.Background(), got.ID); err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	fireAt := time.Now().Add(time.Hour).UTC()
	tests := []struct {
		name     string
		mutate   func(m map[string]any)
		wantCode int
		wantKind string
	}{
		{"missing owner", func(m map[string]any) { delete(m, "owner_id") }, http.StatusBadRequest, "validation"},
		{"blank message", func(m map[string]any) { m["message"] = "  " }, http.StatusBadRequest, "validation"},
		{"missing fire_at", func(m map[string]any) { delete(m, "fire_at") }, http.StatusBadRequest, "validation"},
		{"bad channel", func(m map[string]any) { m["channel"] = map[string]any{"type": "email"} }, http.StatusBadRequest, "validation"},
		{"unknown field", func(m map[string]any) { m["surprise"] = true }, http.StatusBadRequest, "validation"},
		{"fire_at in past", func(m map[string]any) { m["fire_at"] = time.Now().Add(-time.Hour).Format(time.RFC3339) }, http.StatusUnprocessableEntity, "window_in_past"},
		{"fire_at too soon", func(m map[string]any) { m["fire_at"] = time.Now().Add(time.Minute).Format(time.RFC3339) }, http.StatusUnprocessableEntity, "window_too_soon"},
		{"fire_at too far", func(m map[string]any) { m["fire_at"] = time.Now().Add(30 * 24 * time.Hour).Format(time.RFC3339) }, http.StatusUnprocessableEntity, "window_too_far"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			api := newTestAPI(t)
			body := validCreate(fireAt)
			tt.mutate(body)
			rr := api.do(t, http.MethodPost, "/reminders", body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%s)", rr.Code, tt.wantCode, rr.Body.String())
			}
			if kind := decodeErrorKind(t, rr); kind != tt.wantKind {
				t.Fatalf("kind = %q, want %q", kind, tt.wantKind)
			}
			if api.sched.scheduledCount() != 0 {
				t.Fatal("rejected create must not arm a timer")
			}
		})
	}
}

func createOne(t *testing.T, api *testAPI) reminder.Reminder {
	t.Helper()
	rr := api.do(t, http.MethodPost, "/reminders", validCreate(time.Now().Add(time.Hour).UTC()))
	if rr.Code != http.StatusCreated {
		t.Fatalf("seed create failed: %d %s", rr.Code, rr.Body.String())
	}
	var rem reminder.Reminder
	if err := json.Unmarshal(rr.Body.Bytes(), &rem); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return rem
}

func TestGetReminder(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rem := createOne(t, api)

	rr := api.do(t, http.MethodGet, "/reminders/"+rem.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}

	rr = api.do(t, http.MethodGet, "/reminders/ghost", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing get status = %d, want 404", rr.Code)
	}
	if kind := decodeErrorKind(t, rr); kind != "not_found" {
		t.Fatalf("kind = %q", kind)
	}
}

func TestUpdateReminder(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rem := createOne(t, api)
	newFireAt := time.Now().Add(2 * time.Hour).UTC().Truncate(time.Second)

	rr := api.do(t, http.MethodPut, "/reminders/"+rem.ID, map[string]any{
		"message": "dentist moved",
		"fire_at": newFireAt.Format(time.RFC3339),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rr.Code, rr.Body.String())
	}
	got, _ := api.store.Get(context.Background(), rem.ID)
	if got.Message != "dentist moved" || !got.FireAt.Equal(newFireAt) {
		t.Fatalf("update not applied: %+v", got)
	}
	if api.sched.scheduledCount() != 2 {
		t.Fatal("fire_at change must re-arm the timer")
	}

	// Empty body, window violation, terminal record.
	rr = api.do(t, http.MethodPut, "/reminders/"+rem.ID, map[string]any{})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("empty update status = %d, want 400", rr.Code)
	}

	rr = api.do(t, http.MethodPut, "/reminders/"+rem.ID, map[string]any{
		"fire_at": time.Now().Add(-time.Hour).Format(time.RFC3339),
	})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("past fire_at status = %d, want 422", rr.Code)
	}

	got.State = reminder.StateAcknowledged
	_ = api.store.Put(context.Background(), got)
	rr = api.do(t, http.MethodPut, "/reminders/"+rem.ID, map[string]any{"message": "too late"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("terminal update status = %d, want 409", rr.Code)
	}
	if kind := decodeErrorKind(t, rr); kind != "conflict" {
		t.Fatalf("kind = %q", kind)
	}
}

// racingStore claims an engine cycle behind the handler's back on its first
// Get, reproducing an invocation landing between the update's read and its
// write.
type racingStore struct {
	storage.Store
	once sync.Once
}

func (r *racingStore) Get(ctx context.Context, id string) (reminder.Reminder, error) {
	rec, err := r.Store.Get(ctx, id)
	if err != nil {
		return rec, err
	}
	r.once.Do(func() {
		next := rec.RetryCount + 1
		_ = r.Store.ConditionalUpdate(ctx, id, rec.State, rec.RetryCount,
			storage.Mutation{RetryCount: &next, UpdatedAt: time.Now().UTC()})
	})
	return rec, err
}

func TestUpdateLosesRaceWithEngine(t *testing.T) {
	t.Parallel()

	inner := storage.NewMemory()
	api := newTestAPIWith(t, &racingStore{Store: inner})
	rem := createOne(t, api)

	rr := api.do(t, http.MethodPut, "/reminders/"+rem.ID, map[string]any{"message": "stale write"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409 (%s)", rr.Code, rr.Body.String())
	}
	if kind := decodeErrorKind(t, rr); kind != "conflict" {
		t.Fatalf("kind = %q, want conflict", kind)
	}

	// The claimed cycle must survive; retry_count never decreases and the
	// stale message must not land.
	got, err := inner.Get(context.Background(), rem.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.RetryCount != 1 {
		t.Fatalf("retry_count = %d, want 1", got.RetryCount)
	}
	if got.Message != rem.Message {
		t.Fatalf("message overwritten: %q", got.Message)
	}
}

func TestUpdateMessageOnlyKeepsTimer(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rem := createOne(t, api)

	rr := api.do(t, http.MethodPut, "/reminders/"+rem.ID, map[string]any{"message": "new text"})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if api.sched.scheduledCount() != 1 {
		t.Fatal("message-only update must not re-arm the timer")
	}
}

func TestAckReminder(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rem := createOne(t, api)

	rr := api.do(t, http.MethodPost, fmt.Sprintf("/reminders/%s/ack", rem.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("ack status = %d (%s)", rr.Code, rr.Body.String())
	}
	got, _ := api.store.Get(context.Background(), rem.ID)
	if got.State != reminder.StateAcknowledged {
		t.Fatalf("state = %s, want Acknowledged", got.State)
	}
	if api.sched.cancelledCount() != 1 {
		t.Fatal("ack must cancel the pending timer")
	}

	// Repeating the ack is idempotent.
	rr = api.do(t, http.MethodPost, fmt.Sprintf("/reminders/%s/ack", rem.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("repeat ack status = %d, want 200", rr.Code)
	}

	// Unacknowledged is a conflict.
	got.State = reminder.StateUnacknowledged
	_ = api.store.Put(context.Background(), got)
	rr = api.do(t, http.MethodPost, fmt.Sprintf("/reminders/%s/ack", rem.ID), nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("ack of unacknowledged = %d, want 409", rr.Code)
	}

	rr = api.do(t, http.MethodPost, "/reminders/ghost/ack", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("ack of missing = %d, want 404", rr.Code)
	}
}

func TestDeleteReminder(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	rem := createOne(t, api)

	rr := api.do(t, http.MethodDelete, "/reminders/"+rem.ID, nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if _, err := api.store.Get(context.Background(), rem.ID); err == nil {
		t.Fatal("record still present after delete")
	}
	if api.sched.cancelledCount() != 1 {
		t.Fatal("delete must cancel the pending timer")
	}
}

func TestListReminders(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	createOne(t, api)
	createOne(t, api)

	rr := api.do(t, http.MethodGet, "/reminders?owner_id=alice", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	var body struct {
		Reminders []reminder.Reminder `json:"reminders"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Reminders) != 2 {
		t.Fatalf("len = %d, want 2", len(body.Reminders))
	}

	rr = api.do(t, http.MethodGet, "/reminders?owner_id=nobody", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("empty list status = %d", rr.Code)
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Reminders == nil || len(body.Reminders) != 0 {
		t.Fatalf("empty list = %v, want []", body.Reminders)
	}

	rr = api.do(t, http.MethodGet, "/reminders", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("missing owner_id status = %d, want 400", rr.Code)
	}
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	srv := New(Config{
		Enabled: true,
		Addr:    "127.0.0.1:0",
		MinLead: time.Minute,
		MaxLead: 72 * time.Hour,
	}, store, &stubSched{}, nil, logx.Nop())

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer srv.Stop(ctx)

	addr := srv.Addr()
	if addr == "" {
		t.Fatal("no bound address")
	}
	resp, err := http.Get("http://" + addr + "/reminders?owner_id=alice")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}
