package api

import (
	"net/http"

	"github.com/shaiso/Sutra/internal/domain"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)

	// Direct ingress
	mux.Handle("POST /tasks/index-journal-entry", chain(http.HandlerFunc(h.IndexJournalEntry)))
	mux.Handle("POST /tasks/index-journal-batch", chain(http.HandlerFunc(h.IndexJournalBatch)))
	mux.Handle("POST /tasks/reindex-tradition", chain(http.HandlerFunc(h.ReindexTradition)))
	mux.Handle("POST /tasks/rebuild-tradition", chain(http.HandlerFunc(h.RebuildTradition)))

	// Push ingress (брокер)
	mux.Handle("POST /pubsub/journal-indexing", chain(h.PushHandler(domain.TaskIndexEntry)))
	mux.Handle("POST /pubsub/journal-batch-indexing", chain(h.PushHandler(domain.TaskIndexBatch)))
	mux.Handle("POST /pubsub/journal-reindex", chain(h.PushHandler(domain.TaskReindexTradition)))
	mux.Handle("POST /pubsub/tradition-rebuild", chain(h.PushHandler(domain.TaskRebuildTradition)))
	mux.Handle("POST /pubsub/health-check", chain(h.PushHandler(domain.TaskHealthCheck)))

	// Наблюдаемость и операторские ручки
	mux.Handle("GET /health", chain(http.HandlerFunc(h.GetHealth)))
	mux.Handle("GET /api/v1/tasks/{id}", chain(http.HandlerFunc(h.GetTask)))
	mux.Handle("GET /api/v1/dead-letters", chain(http.HandlerFunc(h.ListDeadLetters)))
}
