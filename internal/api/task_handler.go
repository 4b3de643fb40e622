package api

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/metrics"
	"github.com/shaiso/Sutra/internal/repo"
)

// maxBodySize — предел тела запроса на ingress.
const maxBodySize = 1 << 20 // 1 MiB

// IndexJournalEntry ставит задачу индексации одной entry.
// POST /tasks/index-journal-entry
func (h *Handler) IndexJournalEntry(w http.ResponseWriter, r *http.Request) {
	h.submitDirect(w, r, domain.TaskIndexEntry)
}

// IndexJournalBatch ставит задачу индексации пакета entries.
// POST /tasks/index-journal-batch
func (h *Handler) IndexJournalBatch(w http.ResponseWriter, r *http.Request) {
	h.submitDirect(w, r, domain.TaskIndexBatch)
}

// ReindexTradition ставит привилегированную задачу переиндексации.
// POST /tasks/reindex-tradition
func (h *Handler) ReindexTradition(w http.ResponseWriter, r *http.Request) {
	if !h.checkReindexSecret(w, r) {
		return
	}
	h.submitDirect(w, r, domain.TaskReindexTradition)
}

// RebuildTradition ставит привилегированную задачу полной пересборки.
// POST /tasks/rebuild-tradition
func (h *Handler) RebuildTradition(w http.ResponseWriter, r *http.Request) {
	if !h.checkReindexSecret(w, r) {
		return
	}
	h.submitDirect(w, r, domain.TaskRebuildTradition)
}

// submitDirect — общий путь direct ingress: тело запроса и есть payload.
func (h *Handler) submitDirect(w http.ResponseWriter, r *http.Request, taskType domain.TaskType) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}

	res, err := h.dispatcher.Submit(r.Context(), taskType, payload)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrUnknownTaskType) {
			metrics.TasksRejectedTotal.WithLabelValues("validation").Inc()
			BadRequest(w, err.Error())
			return
		}
		InternalError(w, h.logger, err)
		return
	}

	metrics.TasksSubmittedTotal.WithLabelValues(string(taskType), "direct").Inc()
	Accepted(w, res)
}

// checkReindexSecret проверяет X-Reindex-Secret привилегированной
// операции. Сравнение за константное время.
func (h *Handler) checkReindexSecret(w http.ResponseWriter, r *http.Request) bool {
	if h.reindexSecret == "" {
		h.logger.Error("reindex secret is not configured, rejecting privileged operation")
		Unauthorized(w, "privileged operations are disabled")
		return false
	}

	got := r.Header.Get("X-Reindex-Secret")
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.reindexSecret)) != 1 {
		metrics.TasksRejectedTotal.WithLabelValues("auth").Inc()
		Unauthorized(w, "missing or invalid reindex secret")
		return false
	}
	return true
}

// GetTask возвращает состояние задачи.
// GET /api/v1/tasks/{id}
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid task id")
		return
	}

	env, err := h.tasks.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "task not found") {
		return
	}

	Success(w, TaskFromDomain(env))
}

// ListDeadLetters возвращает последние dead letters.
// GET /api/v1/dead-letters?limit=...
func (h *Handler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		n, err := strconv.Atoi(limitStr)
		if err != nil || n <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		limit = n
	}

	letters, err := h.deadLetters.List(r.Context(), limit)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]DeadLetterResponse, len(letters))
	for i, dl := range letters {
		result[i] = DeadLetterFromRepo(dl)
	}

	List(w, result, len(result))
}

// GetHealth возвращает последний персистированный health-статус.
// Статус пишет задача health_check — endpoint показывает здоровье
// всего pipeline, а не только API процесса.
// GET /health
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, err := h.health.Latest(r.Context())
	if errors.Is(err, repo.ErrNotFound) {
		ServiceUnavailable(w, "no health probe has completed yet")
		return
	}
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}

	code := http.StatusOK
	if status.Overall == domain.HealthDown {
		code = http.StatusServiceUnavailable
	}
	JSON(w, code, DataResponse{Data: status})
}
