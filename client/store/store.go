package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path"
	"strings"
	"time"

	"github.com/daybook-app/daybook/client/data"
	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the on-device key/value persistence layer. Every synced collection
// lives under one key whose value is a JSON blob.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	GetAll(ctx context.Context, keys []string) (map[string]string, error)
	BulkSet(ctx context.Context, pairs map[string]string) error
	ListAllKeys(ctx context.Context) ([]string, error)
}

// DbStore is the sqlite-backed Store used outside of tests.
type DbStore struct {
	db *gorm.DB
}

func NewDbStore(db *gorm.DB) *DbStore {
	return &DbStore{db: db}
}

func (s *DbStore) Get(ctx context.Context, key string) (string, bool, error) {
	var entry data.StoreEntry
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read store key %q: %w", key, err)
	}
	return entry.Value, true, nil
}

func (s *DbStore) Set(ctx context.Context, key, value string) error {
	return RetryingDbFunction(func() error {
		return s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value"}),
		}).Create(&data.StoreEntry{Key: key, Value: value}).Error
	})
}

func (s *DbStore) GetAll(ctx context.Context, keys []string) (map[string]string, error) {
	var entries []data.StoreEntry
	err := s.db.WithContext(ctx).Where("key IN ?", keys).Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to read store keys: %w", err)
	}
	result := make(map[string]string, len(entries))
	for _, entry := range entries {
		result[entry.Key] = entry.Value
	}
	return result, nil
}

// BulkSet writes all pairs in a single transaction: either all of them are
// persisted or none are, which is what makes restore retryable.
func (s *DbStore) BulkSet(ctx context.Context, pairs map[string]string) error {
	if len(pairs) == 0 {
		return nil
	}
	entries := make([]data.StoreEntry, 0, len(pairs))
	for key, value := range pairs {
		entries = append(entries, data.StoreEntry{Key: key, Value: value})
	}
	return RetryingDbFunction(func() error {
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "key"}},
				DoUpdates: clause.AssignmentColumns([]string{"value"}),
			}).Create(&entries).Error
		})
	})
}

func (s *DbStore) ListAllKeys(ctx context.Context) ([]string, error) {
	var entries []data.StoreEntry
	err := s.db.WithContext(ctx).Select("key").Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list store keys: %w", err)
	}
	return lo.Map(entries, func(entry data.StoreEntry, _ int) string { return entry.Key }), nil
}

const SQLITE_LOCKED_ERR_MSG = "database is locked ("

// RetryingDbFunction retries a DB operation that failed because sqlite
// returned a transient locking error.
func RetryingDbFunction(dbFunc func() error) error {
	var err error
	for i := 0; i < 10; i++ {
		err = dbFunc()
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), SQLITE_LOCKED_ERR_MSG) {
			time.Sleep(time.Duration(i*rand.Intn(100)) * time.Millisecond)
			continue
		}
		return fmt.Errorf("unrecoverable sqlite error: %w", err)
	}
	return fmt.Errorf("failed to execute DB transaction even after retrying: %w", err)
}

// AttachmentDir is a filesystem-backed area for locally cached binary
// attachments (journal images and the like).
type AttachmentDir struct {
	Root string
}

func NewAttachmentDir(root string) *AttachmentDir {
	return &AttachmentDir{Root: root}
}

func (a *AttachmentDir) List(ctx context.Context) ([]string, error) {
	files, err := os.ReadDir(a.Root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list attachment dir %s: %w", a.Root, err)
	}
	var names []string
	for _, file := range files {
		if !file.IsDir() {
			names = append(names, file.Name())
		}
	}
	return names, nil
}

func (a *AttachmentDir) ReadBinary(ctx context.Context, name string) ([]byte, error) {
	dat, err := os.ReadFile(path.Join(a.Root, path.Base(name)))
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment %s: %w", name, err)
	}
	return dat, nil
}

func (a *AttachmentDir) WriteBinary(ctx context.Context, name string, contents []byte) error {
	if err := os.MkdirAll(a.Root, 0o744); err != nil {
		return fmt.Errorf("failed to create attachment dir %s: %w", a.Root, err)
	}
	err := os.WriteFile(path.Join(a.Root, path.Base(name)), contents, 0o644)
	if err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", name, err)
	}
	return nil
}
