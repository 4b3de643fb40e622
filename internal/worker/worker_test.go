package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/docstore"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/repo"
	"github.com/shaiso/Sutra/internal/retry"
	"github.com/shaiso/Sutra/internal/vector"
)

// --- In-memory fakes ---

type memEnvelopes struct {
	mu   sync.Mutex
	rows map[uuid.UUID]domain.TaskEnvelope
}

func newMemEnvelopes() *memEnvelopes {
	return &memEnvelopes{rows: map[uuid.UUID]domain.TaskEnvelope{}}
}

func (m *memEnvelopes) put(env *domain.TaskEnvelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[env.ID] = *env
}

func (m *memEnvelopes) GetByID(_ context.Context, id uuid.UUID) (*domain.TaskEnvelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	env, ok := m.rows[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	clone := env
	return &clone, nil
}

func (m *memEnvelopes) Update(_ context.Context, env *domain.TaskEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[env.ID]; !ok {
		return repo.ErrNotFound
	}
	m.rows[env.ID] = *env
	return nil
}

type memIdempotency struct {
	mu   sync.Mutex
	rows map[string]domain.IdempotencyRecord
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{rows: map[string]domain.IdempotencyRecord{}}
}

func (m *memIdempotency) Lookup(_ context.Context, key string) (*domain.IdempotencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.rows[key]
	if !ok || !rec.ExpiresAt.After(time.Now()) {
		return nil, repo.ErrNotFound
	}
	clone := rec
	return &clone, nil
}

func (m *memIdempotency) MarkSucceeded(_ context.Context, key string, taskID uuid.UUID, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[key] = domain.IdempotencyRecord{
		Key:         key,
		TaskID:      taskID,
		Disposition: domain.DispositionSucceeded,
		UpdatedAt:   time.Now().UTC(),
		ExpiresAt:   time.Now().UTC().Add(ttl),
	}
	return nil
}

type memReceipts struct {
	mu   sync.Mutex
	rows []domain.DeliveryReceipt
}

func (m *memReceipts) Append(_ context.Context, receipt *domain.DeliveryReceipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, *receipt)
	return nil
}

func (m *memReceipts) outcomes() []domain.Disposition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Disposition, 0, len(m.rows))
	for _, r := range m.rows {
		out = append(out, r.Outcome)
	}
	return out
}

type memEscalator struct {
	mu        sync.Mutex
	escalated []domain.TaskEnvelope
}

func (m *memEscalator) Escalate(_ context.Context, env *domain.TaskEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.escalated = append(m.escalated, *env)
	return nil
}

func (m *memEscalator) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.escalated)
}

// countingExecutor проваливает первые failures вызовов ошибкой err.
type countingExecutor struct {
	mu       sync.Mutex
	calls    int
	failures int
	err      error
}

func (e *countingExecutor) Execute(context.Context, *domain.TaskEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.calls <= e.failures {
		return e.err
	}
	return nil
}

func (e *countingExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type testHarness struct {
	processor   *Processor
	envelopes   *memEnvelopes
	idempotency *memIdempotency
	receipts    *memReceipts
	escalator   *memEscalator
	executor    *countingExecutor
}

func newHarness(t *testing.T, taskType domain.TaskType, executor *countingExecutor, maxRetries int) *testHarness {
	t.Helper()

	registry := NewRegistry()
	registry.Register(taskType, executor)

	h := &testHarness{
		envelopes:   newMemEnvelopes(),
		idempotency: newMemIdempotency(),
		receipts:    &memReceipts{},
		escalator:   &memEscalator{},
		executor:    executor,
	}
	h.processor = NewProcessor(ProcessorConfig{
		Envelopes:   h.envelopes,
		Idempotency: h.idempotency,
		Receipts:    h.receipts,
		Escalator:   h.escalator,
		Registry:    registry,
		Policy: retry.Policy{
			BaseDelay:  time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
			MaxRetries: maxRetries,
		},
	})
	return h
}

func mustEnvelope(t *testing.T, taskType domain.TaskType, payload string) *domain.TaskEnvelope {
	t.Helper()
	env, err := domain.NewEnvelope(taskType, json.RawMessage(payload))
	if err != nil {
		t.Fatalf("NewEnvelope() error = %v", err)
	}
	return env
}

// --- Processor tests ---

func TestProcessSucceedsFirstAttempt(t *testing.T) {
	executor := &countingExecutor{}
	h := newHarness(t, domain.TaskHealthCheck, executor, 3)

	env := mustEnvelope(t, domain.TaskHealthCheck, `{}`)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := h.envelopes.GetByID(context.Background(), env.ID)
	if got.Disposition != domain.DispositionSucceeded {
		t.Errorf("disposition = %s, want SUCCEEDED", got.Disposition)
	}
	if got.DeliveryAttempt != 1 {
		t.Errorf("attempts = %d, want 1", got.DeliveryAttempt)
	}
	if executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1", executor.callCount())
	}

	if _, err := h.idempotency.Lookup(context.Background(), env.IdempotencyKey); err != nil {
		t.Error("idempotency key must be marked after success")
	}
	if outcomes := h.receipts.outcomes(); len(outcomes) != 1 || outcomes[0] != domain.DispositionSucceeded {
		t.Errorf("receipts = %v, want [SUCCEEDED]", outcomes)
	}
}

func TestProcessDuplicateDeliveryRunsOnce(t *testing.T) {
	executor := &countingExecutor{}
	h := newHarness(t, domain.TaskIndexEntry, executor, 3)

	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	h.envelopes.put(env)

	// Повторная доставка того же сообщения.
	for i := 0; i < 3; i++ {
		if err := h.processor.Process(context.Background(), env.ID); err != nil {
			t.Fatalf("Process() #%d error = %v", i+1, err)
		}
	}

	if executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want exactly 1 for duplicate deliveries", executor.callCount())
	}
}

func TestProcessIdempotencyShortCircuit(t *testing.T) {
	executor := &countingExecutor{}
	h := newHarness(t, domain.TaskIndexEntry, executor, 3)

	// Другая задача уже закрыла этот ключ.
	otherTask := uuid.New()
	h.idempotency.MarkSucceeded(context.Background(), "entry:e-1", otherTask, time.Hour)

	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if executor.callCount() != 0 {
		t.Errorf("executor calls = %d, want 0 when key is already done", executor.callCount())
	}
	got, _ := h.envelopes.GetByID(context.Background(), env.ID)
	if got.Disposition != domain.DispositionSucceeded {
		t.Errorf("disposition = %s, want SUCCEEDED", got.Disposition)
	}
}

func TestProcessRetriesTransientThenSucceeds(t *testing.T) {
	executor := &countingExecutor{failures: 2, err: fmt.Errorf("%w: index unavailable", domain.ErrTransient)}
	h := newHarness(t, domain.TaskHealthCheck, executor, 3)

	env := mustEnvelope(t, domain.TaskHealthCheck, `{}`)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := h.envelopes.GetByID(context.Background(), env.ID)
	if got.Disposition != domain.DispositionSucceeded {
		t.Errorf("disposition = %s, want SUCCEEDED after retries", got.Disposition)
	}
	if got.DeliveryAttempt != 3 {
		t.Errorf("attempts = %d, want 3", got.DeliveryAttempt)
	}

	want := []domain.Disposition{
		domain.DispositionFailedRetryable,
		domain.DispositionFailedRetryable,
		domain.DispositionSucceeded,
	}
	outcomes := h.receipts.outcomes()
	if len(outcomes) != len(want) {
		t.Fatalf("receipts = %v, want %v", outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Errorf("receipt[%d] = %s, want %s", i, outcomes[i], want[i])
		}
	}
	if h.escalator.count() != 0 {
		t.Error("recovered task must not be escalated")
	}
}

func TestProcessExhaustedBudgetEscalates(t *testing.T) {
	executor := &countingExecutor{failures: 100, err: fmt.Errorf("%w: index unavailable", domain.ErrTransient)}
	h := newHarness(t, domain.TaskHealthCheck, executor, 2)

	env := mustEnvelope(t, domain.TaskHealthCheck, `{}`)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := h.envelopes.GetByID(context.Background(), env.ID)
	if got.Disposition != domain.DispositionFailedTerminal {
		t.Errorf("disposition = %s, want FAILED_TERMINAL", got.Disposition)
	}
	if got.ErrorClass != domain.ErrorClassPermanent {
		t.Errorf("error class = %s, want PERMANENT after budget exhaustion", got.ErrorClass)
	}
	// Первая попытка + MaxRetries повторов.
	if got.DeliveryAttempt != 3 {
		t.Errorf("attempts = %d, want 3", got.DeliveryAttempt)
	}
	if h.escalator.count() != 1 {
		t.Errorf("escalations = %d, want 1", h.escalator.count())
	}
	if _, err := h.idempotency.Lookup(context.Background(), env.IdempotencyKey); !errors.Is(err, repo.ErrNotFound) {
		t.Error("failed task must not mark its idempotency key")
	}
}

func TestProcessValidationFailsImmediately(t *testing.T) {
	executor := &countingExecutor{failures: 100, err: fmt.Errorf("%w: malformed stored entry", domain.ErrValidation)}
	h := newHarness(t, domain.TaskIndexEntry, executor, 3)

	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if executor.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1 (no retries for validation)", executor.callCount())
	}
	got, _ := h.envelopes.GetByID(context.Background(), env.ID)
	if got.ErrorClass != domain.ErrorClassValidation {
		t.Errorf("error class = %s, want VALIDATION", got.ErrorClass)
	}
	if h.escalator.count() != 1 {
		t.Errorf("escalations = %d, want 1", h.escalator.count())
	}
}

func TestProcessLockContentionNotEscalated(t *testing.T) {
	executor := &countingExecutor{failures: 100, err: fmt.Errorf("%w: tradition zen", domain.ErrLockContention)}
	h := newHarness(t, domain.TaskRebuildTradition, executor, 3)

	env := mustEnvelope(t, domain.TaskRebuildTradition, `{"tradition":"zen"}`)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got, _ := h.envelopes.GetByID(context.Background(), env.ID)
	if got.Disposition != domain.DispositionFailedTerminal {
		t.Errorf("disposition = %s, want FAILED_TERMINAL", got.Disposition)
	}
	if got.ErrorClass != domain.ErrorClassLockContention {
		t.Errorf("error class = %s, want LOCK_CONTENTION", got.ErrorClass)
	}
	if h.escalator.count() != 0 {
		t.Error("lock contention must not reach the dead letter store")
	}
}

func TestProcessUnknownEnvelopeDropped(t *testing.T) {
	executor := &countingExecutor{}
	h := newHarness(t, domain.TaskHealthCheck, executor, 3)

	if err := h.processor.Process(context.Background(), uuid.New()); err != nil {
		t.Fatalf("Process() error = %v, want nil for missing envelope", err)
	}
	if executor.callCount() != 0 {
		t.Error("missing envelope must not reach the executor")
	}
}

func TestProcessInFlightElsewhereSkipped(t *testing.T) {
	executor := &countingExecutor{}
	h := newHarness(t, domain.TaskHealthCheck, executor, 3)

	env := mustEnvelope(t, domain.TaskHealthCheck, `{}`)
	env.Disposition = domain.DispositionInFlight
	env.AckDeadline = time.Now().Add(time.Minute)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if executor.callCount() != 0 {
		t.Error("live in-flight envelope must not be executed concurrently")
	}
}

// deadlineExecutor запоминает остаток бюджета времени попытки.
type deadlineExecutor struct {
	remaining time.Duration
}

func (e *deadlineExecutor) Execute(ctx context.Context, _ *domain.TaskEnvelope) error {
	if deadline, ok := ctx.Deadline(); ok {
		e.remaining = time.Until(deadline)
	}
	return nil
}

func newDeadlineProcessor(t *testing.T, executor Executor, timeLimit time.Duration) (*Processor, *memEnvelopes) {
	t.Helper()

	registry := NewRegistry()
	registry.Register(domain.TaskIndexEntry, executor)

	envelopes := newMemEnvelopes()
	processor := NewProcessor(ProcessorConfig{
		Envelopes:   envelopes,
		Idempotency: newMemIdempotency(),
		Receipts:    &memReceipts{},
		Escalator:   &memEscalator{},
		Registry:    registry,
		Policy:      retry.DefaultPolicy(),
		TimeLimit:   timeLimit,
	})
	return processor, envelopes
}

func TestProcessAttemptBudgetNotAckWindow(t *testing.T) {
	executor := &deadlineExecutor{}
	processor, envelopes := newDeadlineProcessor(t, executor, 0)

	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	envelopes.put(env)

	if err := processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	// Бюджет по умолчанию 300s; 30-секундное ack-окно index_entry
	// управляет только redelivery брокера.
	if executor.remaining <= domain.TaskIndexEntry.AckDeadline() {
		t.Errorf("attempt budget = %v, want the 300s default, not the ack window", executor.remaining)
	}
	if executor.remaining > 300*time.Second {
		t.Errorf("attempt budget = %v, want at most 300s", executor.remaining)
	}
}

func TestProcessAttemptBudgetConfigurable(t *testing.T) {
	executor := &deadlineExecutor{}
	processor, envelopes := newDeadlineProcessor(t, executor, time.Hour)

	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	envelopes.put(env)

	if err := processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if executor.remaining <= 30*time.Minute {
		t.Errorf("attempt budget = %v, want the configured hour", executor.remaining)
	}
}

func TestTimeLimitFromEnv(t *testing.T) {
	t.Setenv("TASK_TIME_LIMIT", "90s")
	if got := TimeLimitFromEnv(); got != 90*time.Second {
		t.Errorf("TimeLimitFromEnv() = %v, want 90s", got)
	}

	t.Setenv("TASK_TIME_LIMIT", "not-a-duration")
	if got := TimeLimitFromEnv(); got != 300*time.Second {
		t.Errorf("TimeLimitFromEnv() = %v, want the 300s default for a bad value", got)
	}

	t.Setenv("TASK_TIME_LIMIT", "")
	if got := TimeLimitFromEnv(); got != 300*time.Second {
		t.Errorf("TimeLimitFromEnv() = %v, want the 300s default", got)
	}
}

func TestProcessStaleInFlightReclaimed(t *testing.T) {
	executor := &countingExecutor{}
	h := newHarness(t, domain.TaskHealthCheck, executor, 3)

	env := mustEnvelope(t, domain.TaskHealthCheck, `{}`)
	env.Disposition = domain.DispositionInFlight
	env.AckDeadline = time.Now().Add(-time.Minute)
	h.envelopes.put(env)

	if err := h.processor.Process(context.Background(), env.ID); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if executor.callCount() != 1 {
		t.Error("stale in-flight envelope must be reclaimed and executed")
	}
}

// --- Executor fakes ---

type fakeDocs struct {
	mu    sync.Mutex
	files map[string][]byte
	fail  map[string]error
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{files: map[string][]byte{}, fail: map[string]error{}}
}

func (d *fakeDocs) Read(_ context.Context, key string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err, ok := d.fail[key]; ok {
		return nil, err
	}
	data, ok := d.files[key]
	if !ok {
		return nil, fmt.Errorf("document %s not found", key)
	}
	return data, nil
}

func (d *fakeDocs) List(_ context.Context, prefix string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var keys []string
	for k := range d.files {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (d *fakeDocs) Ping(context.Context) error { return nil }

type fakeIndex struct {
	mu      sync.Mutex
	upserts map[string]int
	drops   int
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{upserts: map[string]int{}}
}

func (i *fakeIndex) Upsert(_ context.Context, _ string, doc vector.Document) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.upserts[doc.ID]++
	return nil
}

func (i *fakeIndex) Drop(context.Context, string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.drops++
	return nil
}

func (i *fakeIndex) Count(context.Context, string) (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.upserts), nil
}

func (i *fakeIndex) Ping(context.Context) error { return nil }

type fakeLocks struct {
	mu       sync.Mutex
	held     map[string]uuid.UUID
	expiry   map[string]time.Time
	releases int
}

func newFakeLocks() *fakeLocks {
	return &fakeLocks{held: map[string]uuid.UUID{}, expiry: map[string]time.Time{}}
}

// hold занимает lock от имени holder на ttl (отрицательный — уже истёк).
func (l *fakeLocks) hold(tradition string, holder uuid.UUID, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[tradition] = holder
	l.expiry[tradition] = time.Now().Add(ttl)
}

func (l *fakeLocks) Acquire(_ context.Context, tradition string, holder uuid.UUID, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Живой держатель блокирует; истёкший TTL перехватывается.
	if _, ok := l.held[tradition]; ok && l.expiry[tradition].After(time.Now()) {
		return repo.ErrLockHeld
	}
	l.held[tradition] = holder
	l.expiry[tradition] = time.Now().Add(ttl)
	return nil
}

func (l *fakeLocks) Release(_ context.Context, tradition string, holder uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[tradition] == holder {
		delete(l.held, tradition)
		delete(l.expiry, tradition)
		l.releases++
	}
	return nil
}

// --- Executor tests ---

func entryJSON(content string) []byte {
	data, _ := json.Marshal(journalEntry{Content: content})
	return data
}

func TestIndexEntryExecutor(t *testing.T) {
	docs := newFakeDocs()
	docs.files[docstore.EntryKey("u-1", "e-1")] = entryJSON("morning meditation notes")
	index := newFakeIndex()

	executor := NewIndexEntryExecutor(docs, index)
	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)

	if err := executor.Execute(context.Background(), env); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if index.upserts["e-1"] != 1 {
		t.Errorf("upserts for e-1 = %d, want 1", index.upserts["e-1"])
	}
}

func TestIndexEntryExecutorMalformedDocument(t *testing.T) {
	docs := newFakeDocs()
	docs.files[docstore.EntryKey("u-1", "e-1")] = []byte("{not json")
	executor := NewIndexEntryExecutor(docs, newFakeIndex())

	env := mustEnvelope(t, domain.TaskIndexEntry, `{"entry_id":"e-1","user_id":"u-1","tradition":"zen"}`)
	err := executor.Execute(context.Background(), env)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Execute() error = %v, want ErrValidation", err)
	}
}

func TestIndexBatchPartialFailureRetriesOnlyFailed(t *testing.T) {
	docs := newFakeDocs()
	index := newFakeIndex()
	idempotency := newMemIdempotency()

	var entries []string
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("e-%d", i)
		docs.files[docstore.EntryKey("u-1", id)] = entryJSON("entry " + id)
		entries = append(entries, fmt.Sprintf(`{"entry_id":"%s","user_id":"u-1","tradition":"zen"}`, id))
	}
	// Третья entry временно нечитаема.
	brokenKey := docstore.EntryKey("u-1", "e-3")
	docs.fail[brokenKey] = errors.New("connection reset")

	executor := NewIndexBatchExecutor(NewIndexEntryExecutor(docs, index), idempotency, nil)
	payload := fmt.Sprintf(`{"entries":[%s,%s,%s,%s,%s]}`, entries[0], entries[1], entries[2], entries[3], entries[4])
	env := mustEnvelope(t, domain.TaskIndexBatch, payload)

	err := executor.Execute(context.Background(), env)
	if !errors.Is(err, domain.ErrTransient) {
		t.Fatalf("Execute() error = %v, want ErrTransient for partial failure", err)
	}

	// Четыре успешные entries проиндексированы и закрыты ключами.
	for _, id := range []string{"e-1", "e-2", "e-4", "e-5"} {
		if index.upserts[id] != 1 {
			t.Errorf("upserts for %s = %d, want 1", id, index.upserts[id])
		}
	}
	if index.upserts["e-3"] != 0 {
		t.Error("failed entry must not be indexed")
	}

	// Retry: хранилище починилось, повторяется только e-3.
	delete(docs.fail, brokenKey)
	if err := executor.Execute(context.Background(), env); err != nil {
		t.Fatalf("retry Execute() error = %v", err)
	}
	for i := 1; i <= 5; i++ {
		id := fmt.Sprintf("e-%d", i)
		if index.upserts[id] != 1 {
			t.Errorf("upserts for %s = %d, want exactly 1 across retries", id, index.upserts[id])
		}
	}
}

func TestIndexBatchValidationOnlyFailureIsTerminal(t *testing.T) {
	docs := newFakeDocs()
	docs.files[docstore.EntryKey("u-1", "e-1")] = entryJSON("fine")
	docs.files[docstore.EntryKey("u-1", "e-2")] = []byte("{broken")

	executor := NewIndexBatchExecutor(NewIndexEntryExecutor(docs, newFakeIndex()), newMemIdempotency(), nil)
	payload := `{"entries":[
		{"entry_id":"e-1","user_id":"u-1","tradition":"zen"},
		{"entry_id":"e-2","user_id":"u-1","tradition":"zen"}]}`
	env := mustEnvelope(t, domain.TaskIndexBatch, payload)

	err := executor.Execute(context.Background(), env)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Execute() error = %v, want ErrValidation when only broken documents failed", err)
	}
}

func TestTraditionRebuildDropsAndFills(t *testing.T) {
	docs := newFakeDocs()
	docs.files["traditions/zen/sutra-1.md"] = []byte("form is emptiness")
	docs.files["traditions/zen/sutra-2.md"] = []byte("emptiness is form")
	index := newFakeIndex()
	locks := newFakeLocks()

	executor := NewTraditionExecutor(docs, index, locks, nil)
	env := mustEnvelope(t, domain.TaskRebuildTradition, `{"tradition":"zen"}`)

	if err := executor.Execute(context.Background(), env); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if index.drops != 1 {
		t.Errorf("drops = %d, want 1 for rebuild", index.drops)
	}
	if index.upserts["sutra-1"] != 1 || index.upserts["sutra-2"] != 1 {
		t.Errorf("corpus not fully indexed: %v", index.upserts)
	}
	if locks.releases != 1 {
		t.Errorf("lock releases = %d, want 1", locks.releases)
	}
}

func TestTraditionReindexKeepsCollection(t *testing.T) {
	docs := newFakeDocs()
	docs.files["traditions/zen/sutra-1.md"] = []byte("form is emptiness")
	index := newFakeIndex()

	executor := NewTraditionExecutor(docs, index, newFakeLocks(), nil)
	env := mustEnvelope(t, domain.TaskReindexTradition, `{"tradition":"zen"}`)

	if err := executor.Execute(context.Background(), env); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if index.drops != 0 {
		t.Errorf("drops = %d, want 0 for reindex", index.drops)
	}
}

func TestTraditionLockContention(t *testing.T) {
	docs := newFakeDocs()
	docs.files["traditions/zen/sutra-1.md"] = []byte("form is emptiness")
	locks := newFakeLocks()
	locks.hold("zen", uuid.New(), time.Minute)

	executor := NewTraditionExecutor(docs, newFakeIndex(), locks, nil)
	env := mustEnvelope(t, domain.TaskRebuildTradition, `{"tradition":"zen"}`)

	err := executor.Execute(context.Background(), env)
	if !errors.Is(err, domain.ErrLockContention) {
		t.Errorf("Execute() error = %v, want ErrLockContention", err)
	}
}

func TestTraditionExpiredLockReclaimed(t *testing.T) {
	docs := newFakeDocs()
	docs.files["traditions/zen/sutra-1.md"] = []byte("form is emptiness")
	index := newFakeIndex()
	locks := newFakeLocks()
	// Держатель умер посреди rebuild: TTL его lock'а истёк.
	locks.hold("zen", uuid.New(), -time.Minute)

	executor := NewTraditionExecutor(docs, index, locks, nil)
	env := mustEnvelope(t, domain.TaskRebuildTradition, `{"tradition":"zen"}`)

	if err := executor.Execute(context.Background(), env); err != nil {
		t.Fatalf("Execute() error = %v, want the expired lock to be reclaimed", err)
	}
	if index.upserts["sutra-1"] != 1 {
		t.Error("reclaimed rebuild must index the corpus")
	}
	if locks.releases != 1 {
		t.Errorf("lock releases = %d, want 1 by the new holder", locks.releases)
	}
}

func TestTraditionEmptyCorpus(t *testing.T) {
	executor := NewTraditionExecutor(newFakeDocs(), newFakeIndex(), newFakeLocks(), nil)
	env := mustEnvelope(t, domain.TaskRebuildTradition, `{"tradition":"nowhere"}`)

	err := executor.Execute(context.Background(), env)
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("Execute() error = %v, want ErrValidation for empty corpus", err)
	}
}
