package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const sessionPrefix = "session:"

// ErrInvalidSession - session can not be saved without identity or start time.
var ErrInvalidSession = errors.New("journal: session has no id or start time")

// Store - session records kept in Badger.
// Keys are session:<zero-padded unix nano>:<uuid>, so iteration order is start time order.
type Store struct {
	db  *badger.DB
	log *slog.Logger
}

// Open - opens (or creates) store in directory.
func Open(path string, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("journal.Open: %w", err)
	}
	return newStore(db, log), nil
}

// OpenInMemory - store without disk files, mostly for tests.
func OpenInMemory(log *slog.Logger) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("journal.OpenInMemory: %w", err)
	}
	return newStore(db, log), nil
}

func newStore(db *badger.DB, log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Store{db: db, log: log}
}

func sessionKey(s Session) []byte {
	return fmt.Appendf(nil, "%s%019d:%s", sessionPrefix, s.StartedAt.UnixNano(), s.ID)
}

// SaveSession - stores or overwrites session record.
func (s *Store) SaveSession(session Session) error {
	if session.StartedAt.IsZero() || session.ID == uuid.Nil {
		return ErrInvalidSession
	}
	value, err := json.Marshal(session)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sessionKey(session), value)
	})
	if err != nil {
		return fmt.Errorf("journal.SaveSession: %w", err)
	}
	s.log.Debug("Session saved", "id", session.ID, "kind", session.Kind)
	return nil
}

// Sessions - returns the latest sessions in start order, limit <= 0 means all of them.
func (s *Store) Sessions(limit int) ([]Session, error) {
	var sessions []Session
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(sessionPrefix)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(append(prefix, "9999999999999999999"...)); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(sessions) == limit {
				break
			}
			var session Session
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &session)
			})
			if err != nil {
				return fmt.Errorf("key %q: %w", it.Item().Key(), err)
			}
			sessions = append(sessions, session)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("journal.Sessions: %w", err)
	}
	slices.Reverse(sessions)
	return sessions, nil
}

// Prune - deletes sessions started before the given time, returns number of deleted records.
func (s *Store) Prune(before time.Time) (int, error) {
	var keys [][]byte
	bound := fmt.Appendf(nil, "%s%019d", sessionPrefix, before.UnixNano())
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(sessionPrefix)
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		options.Prefix = prefix
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(bound) {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("journal.Prune: %w", err)
	}
	if len(keys) == 0 {
		return 0, nil
	}
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return 0, fmt.Errorf("journal.Prune: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("journal.Prune: %w", err)
	}
	s.log.Info("Sessions pruned", "count", len(keys), "before", before)
	return len(keys), nil
}

// Close - closes underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
