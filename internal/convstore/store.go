package convstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/counselhq/counsel/internal/chat"
)

const keyPrefix = "conv:"

// Store keeps exactly one conversation context in memory and mirrors it to a
// Badger database keyed by context. Every write persists the whole
// conversation blob in a single transaction, so a crash mid-write leaves the
// previous complete conversation rather than a torn one.
type Store struct {
	db     *badger.DB
	logger *log.Logger

	mu     sync.Mutex
	active chat.ContextKey
	msgs   []chat.Message
	gen    uint64
}

// Open opens the conversation store at dir, creating the directory if needed,
// and loads the global context as the active conversation.
func Open(dir string, logger *log.Logger) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("conversation store path is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create conversation store directory: %w", err)
	}

	opts := badger.DefaultOptions(dir).WithSyncWrites(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation store: %w", err)
	}

	return newStore(db, logger)
}

// OpenInMemory opens a throwaway in-memory store, mainly for tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory conversation store: %w", err)
	}

	return newStore(db, nil)
}

func newStore(db *badger.DB, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.New(os.Stderr, "[conv] ", log.LstdFlags)
	}

	s := &Store{
		db:     db,
		logger: logger,
		active: chat.GlobalContext,
		gen:    1,
	}

	msgs, err := s.load(chat.GlobalContext)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to load global context: %w", err)
	}
	s.msgs = msgs

	return s, nil
}

// SwitchContext flushes the active conversation to disk, loads the target
// (a missing key yields an empty conversation) and makes it active. The
// generation counter increments so appends captured against the previous
// context become silent no-ops.
func (s *Store) SwitchContext(ctx context.Context, key chat.ContextKey) ([]chat.Message, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persistLocked(s.active, s.msgs); err != nil {
		return nil, 0, fmt.Errorf("failed to flush context %s: %w", s.active, err)
	}

	msgs, err := s.load(key)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load context %s: %w", key, err)
	}

	s.active = key
	s.msgs = msgs
	s.gen++

	return copyMessages(s.msgs), s.gen, nil
}

// Append adds msg to the active conversation when gen still matches the
// current generation, persisting the updated conversation. A stale
// generation returns false and changes nothing, so a writer that captured
// its generation before a context switch cannot corrupt the new context.
func (s *Store) Append(gen uint64, msg chat.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		return false
	}

	s.msgs = append(s.msgs, msg)
	if err := s.persistLocked(s.active, s.msgs); err != nil {
		// Memory stays authoritative for the running session; the next
		// successful write rewrites the full blob.
		s.logger.Printf("Failed to persist context %s: %v", s.active, err)
	}

	return true
}

// Messages returns a snapshot copy of the active conversation.
func (s *Store) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.msgs)
}

// Generation returns the current generation counter.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Active returns the key of the active context.
func (s *Store) Active() chat.ContextKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Peek loads the stored conversation for key without disturbing the active
// context. Peeking the active context reads from memory so callers see
// messages that have not been flushed yet.
func (s *Store) Peek(ctx context.Context, key chat.ContextKey) ([]chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if key == s.active {
		msgs := copyMessages(s.msgs)
		s.mu.Unlock()
		return msgs, nil
	}
	s.mu.Unlock()

	msgs, err := s.load(key)
	if err != nil {
		return nil, fmt.Errorf("failed to load context %s: %w", key, err)
	}
	return msgs, nil
}

// Clear removes the stored conversation for key. This cannot be undone.
// Clearing the active context also empties memory and bumps the generation
// so in-flight appends from old streams are dropped.
func (s *Store) Clear(ctx context.Context, key chat.ContextKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storageKey(key))
	})
	if err != nil {
		return fmt.Errorf("failed to clear context %s: %w", key, err)
	}

	if key == s.active {
		s.msgs = nil
		s.gen++
	}

	return nil
}

// ListContexts returns every context key with a stored conversation.
func (s *Store) ListContexts() ([]chat.ContextKey, error) {
	var keys []chat.ContextKey
	prefix := []byte(keyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := string(it.Item().KeyCopy(nil))
			keys = append(keys, chat.ContextKey(strings.TrimPrefix(k, keyPrefix)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list contexts: %w", err)
	}

	return keys, nil
}

// Close flushes the active conversation and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	flushErr := s.persistLocked(s.active, s.msgs)
	s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close conversation store: %w", err)
	}
	if flushErr != nil {
		return fmt.Errorf("failed to flush active context: %w", flushErr)
	}
	return nil
}

func (s *Store) persistLocked(key chat.ContextKey, msgs []chat.Message) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal conversation: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storageKey(key), data)
	})
}

func (s *Store) load(key chat.ContextKey) ([]chat.Message, error) {
	var msgs []chat.Message

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storageKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &msgs)
		})
	})
	if err != nil {
		return nil, err
	}

	return msgs, nil
}

func storageKey(key chat.ContextKey) []byte {
	return []byte(keyPrefix + string(key))
}

func copyMessages(msgs []chat.Message) []chat.Message {
	out := make([]chat.Message, len(msgs))
	copy(out, msgs)
	return out
}
