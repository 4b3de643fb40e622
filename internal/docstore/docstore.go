// Package docstore — чтение исходных документов.
//
// Object storage потребляется как непрозрачное чтение: journal entries
// и корпуса traditions лежат по известным ключам. Реализация —
// файловая (локальный mount бакета); pipeline зависит только от
// интерфейса Store.
package docstore

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Store — операции чтения document store, используемые worker'ами.
type Store interface {
	// Read возвращает содержимое документа по ключу.
	Read(ctx context.Context, key string) ([]byte, error)

	// List возвращает ключи документов с данным префиксом.
	List(ctx context.Context, prefix string) ([]string, error)

	// Ping — лёгкая проба доступности для Health Prober.
	Ping(ctx context.Context) error
}

// EntryKey — ключ journal entry в хранилище.
func EntryKey(userID, entryID string) string {
	return path.Join("entries", userID, entryID+".json")
}

// TraditionPrefix — префикс корпуса документов tradition.
func TraditionPrefix(tradition string) string {
	return path.Join("traditions", tradition) + "/"
}

// FSStore — Store поверх локальной файловой системы.
type FSStore struct {
	root string
}

// NewFSStore создаёт store с корнем root.
func NewFSStore(root string) *FSStore {
	return &FSStore{root: root}
}

// Read возвращает содержимое документа.
func (s *FSStore) Read(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil {
		return nil, fmt.Errorf("read document %s: %w", key, err)
	}
	return data, nil
}

// List возвращает ключи документов с префиксом prefix.
func (s *FSStore) List(ctx context.Context, prefix string) ([]string, error) {
	dir := filepath.Join(s.root, filepath.FromSlash(prefix))

	var keys []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list documents %s: %w", prefix, err)
	}
	return keys, nil
}

// Ping проверяет доступность корня хранилища.
func (s *FSStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("document store unreachable: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("document store root %s is not a directory", s.root)
	}
	return nil
}

// DocumentID — ID документа в векторном индексе по его ключу.
func DocumentID(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}
