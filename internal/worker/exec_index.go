package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shaiso/Sutra/internal/docstore"
	"github.com/shaiso/Sutra/internal/domain"
	"github.com/shaiso/Sutra/internal/vector"
)

// journalEntry — форма хранимого документа journal entry.
type journalEntry struct {
	Content string `json:"content"`
	Title   string `json:"title,omitempty"`
}

// IndexEntryExecutor — индексация одной journal entry: читает документ
// из document store и делает upsert в коллекцию tradition.
type IndexEntryExecutor struct {
	docs  docstore.Store
	index vector.Index
}

// NewIndexEntryExecutor создаёт executor задач index_entry.
func NewIndexEntryExecutor(docs docstore.Store, index vector.Index) *IndexEntryExecutor {
	return &IndexEntryExecutor{docs: docs, index: index}
}

// Execute индексирует entry из payload envelope.
func (e *IndexEntryExecutor) Execute(ctx context.Context, env *domain.TaskEnvelope) error {
	var p domain.IndexEntryPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode index_entry payload: %v", domain.ErrValidation, err)
	}

	return e.indexEntry(ctx, domain.EntryRef(p))
}

// indexEntry — общая работа для index_entry и элементов index_batch.
func (e *IndexEntryExecutor) indexEntry(ctx context.Context, ref domain.EntryRef) error {
	key := docstore.EntryKey(ref.UserID, ref.EntryID)

	raw, err := e.docs.Read(ctx, key)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}

	var entry journalEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		// Испорченный документ не починится retry'ем.
		return fmt.Errorf("%w: malformed stored entry %s: %v", domain.ErrValidation, key, err)
	}

	content := entry.Content
	if entry.Title != "" {
		content = entry.Title + "\n\n" + content
	}
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: stored entry %s has no content", domain.ErrValidation, key)
	}

	doc := vector.Document{
		ID:      ref.EntryID,
		Content: content,
		Metadata: map[string]string{
			"user_id":   ref.UserID,
			"tradition": ref.Tradition,
		},
	}

	if err := e.index.Upsert(ctx, ref.Tradition, doc); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrTransient, err)
	}
	return nil
}

// IndexBatchExecutor — индексация пакета entries.
//
// Каждый элемент выполняется независимо и закрывается собственным
// idempotency-ключом: при retry пакета уже проиндексированные entries
// пропускаются, повторяются только провалившиеся.
type IndexBatchExecutor struct {
	entry       *IndexEntryExecutor
	idempotency IdempotencyStore
	logger      *slog.Logger
}

// NewIndexBatchExecutor создаёт executor задач index_batch.
func NewIndexBatchExecutor(entry *IndexEntryExecutor, idempotency IdempotencyStore, logger *slog.Logger) *IndexBatchExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexBatchExecutor{
		entry:       entry,
		idempotency: idempotency,
		logger:      logger,
	}
}

// Execute индексирует все entries пакета. Частичный провал не
// отменяет остальные: ошибка возвращается после прохода по всем.
func (e *IndexBatchExecutor) Execute(ctx context.Context, env *domain.TaskEnvelope) error {
	var p domain.IndexBatchPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return fmt.Errorf("%w: decode index_batch payload: %v", domain.ErrValidation, err)
	}

	var retryable, terminal int
	var lastErr error

	for _, ref := range p.Entries {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", domain.ErrTimeout, ctx.Err())
		}

		key := domain.EntryIdempotencyKey(ref.EntryID)
		now := time.Now().UTC()
		if rec, err := e.idempotency.Lookup(ctx, key); err == nil && rec.Succeeded(now) {
			continue
		}

		if err := e.entry.indexEntry(ctx, ref); err != nil {
			lastErr = err
			if domain.Classify(err).Retryable() {
				retryable++
			} else {
				terminal++
			}
			e.logger.Warn("batch entry failed",
				"task_id", env.ID,
				"entry_id", ref.EntryID,
				"error", err,
			)
			continue
		}

		if err := e.idempotency.MarkSucceeded(ctx, key, env.ID, domain.TaskIndexEntry.IdempotencyTTL()); err != nil {
			e.logger.Warn("failed to mark batch entry idempotency key",
				"task_id", env.ID,
				"entry_id", ref.EntryID,
				"error", err,
			)
		}
	}

	switch {
	case retryable > 0:
		// Retry пакета повторит только незакрытые entries.
		return fmt.Errorf("%w: %d of %d entries failed, last: %v",
			domain.ErrTransient, retryable+terminal, len(p.Entries), lastErr)
	case terminal > 0:
		return fmt.Errorf("%w: %d of %d entries failed permanently, last: %v",
			domain.ErrValidation, terminal, len(p.Entries), lastErr)
	default:
		return nil
	}
}
