package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/dispatch"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/repo"
)

const testSecret = "test-reindex-secret"

type fakeSubmitter struct {
	lastType    domain.TaskType
	lastPayload json.RawMessage
	calls       int
	err         error
}

func (s *fakeSubmitter) Submit(_ context.Context, taskType domain.TaskType, payload json.RawMessage) (*dispatch.Result, error) {
	s.calls++
	s.lastType = taskType
	s.lastPayload = payload
	if s.err != nil {
		return nil, s.err
	}
	// Валидация как в настоящем Dispatcher'е.
	if err := domain.ValidatePayload(taskType, payload); err != nil {
		return nil, err
	}
	return &dispatch.Result{TaskID: uuid.New()}, nil
}

type fakeTasks struct {
	envelopes map[uuid.UUID]*domain.TaskEnvelope
}

func (f *fakeTasks) GetByID(_ context.Context, id uuid.UUID) (*domain.TaskEnvelope, error) {
	env, ok := f.envelopes[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return env, nil
}

type fakeDeadLetters struct {
	letters []repo.DeadLetter
}

func (f *fakeDeadLetters) List(_ context.Context, limit int) ([]repo.DeadLetter, error) {
	if limit < len(f.letters) {
		return f.letters[:limit], nil
	}
	return f.letters, nil
}

type fakeHealth struct {
	status *domain.HealthStatus
}

func (f *fakeHealth) Latest(context.Context) (*domain.HealthStatus, error) {
	if f.status == nil {
		return nil, repo.ErrNotFound
	}
	return f.status, nil
}

type fakePushAuth struct {
	err error
}

func (f *fakePushAuth) ValidateRequest(*http.Request) error {
	return f.err
}

type testAPI struct {
	mux         *http.ServeMux
	submitter   *fakeSubmitter
	tasks       *fakeTasks
	deadLetters *fakeDeadLetters
	health      *fakeHealth
	pushAuth    *fakePushAuth
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	a := &testAPI{
		mux:         http.NewServeMux(),
		submitter:   &fakeSubmitter{},
		tasks:       &fakeTasks{envelopes: map[uuid.UUID]*domain.TaskEnvelope{}},
		deadLetters: &fakeDeadLetters{},
		health:      &fakeHealth{},
		pushAuth:    &fakePushAuth{},
	}

	handler := NewHandler(Config{
		Dispatcher:    a.submitter,
		Tasks:         a.tasks,
		DeadLetters:   a.deadLetters,
		Health:        a.health,
		PushAuth:      a.pushAuth,
		ReindexSecret: testSecret,
	})
	handler.RegisterRoutes(a.mux)
	return a
}

func (a *testAPI) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, req)
	return rec
}

func pushBody(t *testing.T, payload string) string {
	t.Helper()
	envelope := PushEnvelope{
		Message: PushMessage{
			Data:      base64.StdEncoding.EncodeToString([]byte(payload)),
			MessageID: "m-1",
		},
		Subscription: "projects/test/subscriptions/journal-indexing",
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal push envelope: %v", err)
	}
	return string(data)
}

func TestIndexJournalEntry(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/tasks/index-journal-entry",
		`{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`, nil)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202, body: %s", rec.Code, rec.Body)
	}
	if a.submitter.lastType != domain.TaskIndexEntry {
		t.Errorf("task type = %s, want index_entry", a.submitter.lastType)
	}
}

func TestIndexJournalEntryInvalid(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/tasks/index-journal-entry", `{"entry_id":"e-1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error response: %v", err)
	}
	if resp.Error.Code != ErrCodeBadRequest {
		t.Errorf("error code = %s, want BAD_REQUEST", resp.Error.Code)
	}
}

func TestPrivilegedOperationsRequireSecret(t *testing.T) {
	for _, path := range []string{"/tasks/reindex-tradition", "/tasks/rebuild-tradition"} {
		t.Run(path, func(t *testing.T) {
			a := newTestAPI(t)

			rec := a.do(t, http.MethodPost, path, `{"tradition":"zen"}`, nil)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("no secret: status = %d, want 401", rec.Code)
			}

			rec = a.do(t, http.MethodPost, path, `{"tradition":"zen"}`,
				map[string]string{"X-Reindex-Secret": "wrong"})
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("wrong secret: status = %d, want 401", rec.Code)
			}
			if a.submitter.calls != 0 {
				t.Error("unauthorized request must not reach the dispatcher")
			}

			rec = a.do(t, http.MethodPost, path, `{"tradition":"zen"}`,
				map[string]string{"X-Reindex-Secret": testSecret})
			if rec.Code != http.StatusAccepted {
				t.Errorf("valid secret: status = %d, want 202, body: %s", rec.Code, rec.Body)
			}
		})
	}
}

func TestPushDelivery(t *testing.T) {
	a := newTestAPI(t)

	body := pushBody(t, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	rec := a.do(t, http.MethodPost, "/pubsub/journal-indexing", body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body: %s", rec.Code, rec.Body)
	}
	if a.submitter.lastType != domain.TaskIndexEntry {
		t.Errorf("task type = %s, want index_entry", a.submitter.lastType)
	}
}

func TestPushDeliveryAuthFailure(t *testing.T) {
	a := newTestAPI(t)
	a.pushAuth.err = fmt.Errorf("%w: token expired", domain.ErrAuth)

	body := pushBody(t, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	rec := a.do(t, http.MethodPost, "/pubsub/journal-indexing", body, nil)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if a.submitter.calls != 0 {
		t.Error("unauthenticated push must not reach the dispatcher")
	}
}

func TestPushDeliveryInvalidPayloadAcked(t *testing.T) {
	a := newTestAPI(t)

	// Невалидный payload подтверждается (200): redelivery бессмысленна.
	body := pushBody(t, `{"entry_id":"e-1"}`)
	rec := a.do(t, http.MethodPost, "/pubsub/journal-indexing", body, nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack-drop", rec.Code)
	}
}

func TestPushDeliveryMalformedEnvelopeAcked(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/pubsub/journal-indexing", `{broken`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 ack-drop", rec.Code)
	}
	if a.submitter.calls != 0 {
		t.Error("malformed envelope must not reach the dispatcher")
	}
}

func TestPushDeliveryTransientFailureNacked(t *testing.T) {
	a := newTestAPI(t)
	a.submitter.err = errors.New("db down")

	body := pushBody(t, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	rec := a.do(t, http.MethodPost, "/pubsub/journal-indexing", body, nil)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 for redelivery", rec.Code)
	}
}

func TestGetTask(t *testing.T) {
	a := newTestAPI(t)

	env, err := domain.NewEnvelope(domain.TaskHealthCheck, nil)
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	a.tasks.envelopes[env.ID] = env

	rec := a.do(t, http.MethodGet, "/api/v1/tasks/"+env.ID.String(), "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/tasks/"+uuid.New().String(), "", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown task: status = %d, want 404", rec.Code)
	}

	rec = a.do(t, http.MethodGet, "/api/v1/tasks/not-a-uuid", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

func TestListDeadLetters(t *testing.T) {
	a := newTestAPI(t)
	a.deadLetters.letters = []repo.DeadLetter{
		{
			TaskID:      uuid.New(),
			TaskType:    domain.TaskIndexEntry,
			Envelope:    domain.TaskEnvelope{ErrorClass: domain.ErrorClassPermanent, DeliveryAttempt: 4},
			EscalatedAt: time.Now(),
		},
	}

	rec := a.do(t, http.MethodGet, "/api/v1/dead-letters", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Data  []DeadLetterResponse `json:"data"`
		Total int                  `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Total != 1 || len(resp.Data) != 1 {
		t.Fatalf("total = %d, data len = %d, want 1/1", resp.Total, len(resp.Data))
	}
	if resp.Data[0].ErrorClass != string(domain.ErrorClassPermanent) {
		t.Errorf("error class = %s, want PERMANENT", resp.Data[0].ErrorClass)
	}
}

func TestGetHealth(t *testing.T) {
	a := newTestAPI(t)

	// Проба ещё не прогонялась.
	rec := a.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no probe yet: status = %d, want 503", rec.Code)
	}

	a.health.status = &domain.HealthStatus{
		Overall:   domain.HealthOK,
		CheckedAt: time.Now(),
	}
	rec = a.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("healthy: status = %d, want 200", rec.Code)
	}

	a.health.status.Overall = domain.HealthDown
	rec = a.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("down: status = %d, want 503", rec.Code)
	}
}
