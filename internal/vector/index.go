// Package vector — клиент векторного индекса.
//
// Pipeline потребляет индекс как непрозрачный upsert: алгоритм
// эмбеддинга и устройство индекса здесь не определяются. Backend —
// встраиваемая chromem-go БД, по коллекции на tradition.
package vector

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// Document — единица индексации.
type Document struct {
	// ID — ключ документа. Upsert last-write-wins по этому ключу:
	// повторная индексация той же entry всегда безопасна.
	ID string

	// Content — текст для эмбеддинга.
	Content string

	// Metadata — атрибуты для фильтрации (user_id, tradition).
	Metadata map[string]string
}

// Index — операции векторного хранилища, используемые worker'ами.
type Index interface {
	// Upsert записывает документ в коллекцию tradition.
	Upsert(ctx context.Context, tradition string, doc Document) error

	// Drop удаляет коллекцию tradition целиком (rebuild).
	Drop(ctx context.Context, tradition string) error

	// Count возвращает число документов в коллекции.
	Count(ctx context.Context, tradition string) (int, error)

	// Ping — лёгкая проба доступности для Health Prober.
	Ping(ctx context.Context) error
}

// ChromemIndex — Index поверх chromem-go.
type ChromemIndex struct {
	db        *chromem.DB
	embedding chromem.EmbeddingFunc

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemIndex создаёт индекс с персистентным хранилищем в path.
// Пустой path — чисто in-memory (тесты, локальная разработка).
func NewChromemIndex(path string, embedding chromem.EmbeddingFunc) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error

	if path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(path, false)
		if err != nil {
			return nil, fmt.Errorf("open vector db: %w", err)
		}
	}

	return &ChromemIndex{
		db:          db,
		embedding:   embedding,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collectionName — имя коллекции для tradition.
func collectionName(tradition string) string {
	return "tradition_" + tradition
}

// collection возвращает (создавая при необходимости) коллекцию tradition.
func (i *ChromemIndex) collection(tradition string) (*chromem.Collection, error) {
	name := collectionName(tradition)

	i.mu.RLock()
	col, ok := i.collections[name]
	i.mu.RUnlock()
	if ok {
		return col, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if col, ok := i.collections[name]; ok {
		return col, nil
	}

	col, err := i.db.GetOrCreateCollection(name, map[string]string{"tradition": tradition}, i.embedding)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %s: %w", name, err)
	}

	i.collections[name] = col
	return col, nil
}

// Upsert записывает документ; существующий ID перезаписывается.
func (i *ChromemIndex) Upsert(ctx context.Context, tradition string, doc Document) error {
	col, err := i.collection(tradition)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:       doc.ID,
		Content:  doc.Content,
		Metadata: doc.Metadata,
	})
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// Drop удаляет коллекцию tradition.
func (i *ChromemIndex) Drop(ctx context.Context, tradition string) error {
	name := collectionName(tradition)

	i.mu.Lock()
	delete(i.collections, name)
	i.mu.Unlock()

	if err := i.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("delete collection %s: %w", name, err)
	}
	return nil
}

// Count возвращает число документов в коллекции tradition.
func (i *ChromemIndex) Count(ctx context.Context, tradition string) (int, error) {
	col, err := i.collection(tradition)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Ping проверяет доступность хранилища.
func (i *ChromemIndex) Ping(ctx context.Context) error {
	if i.db == nil {
		return fmt.Errorf("vector db is not initialized")
	}
	i.db.ListCollections()
	return nil
}
