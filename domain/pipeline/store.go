package pipeline

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/afirgen/fir-pipeline/infrastructure/cache"
	svcerrors "github.com/afirgen/fir-pipeline/infrastructure/errors"
)

const sessionsBucket = "sessions"

// sessionCacheTTL matches the spec's 60s in-memory session cache lifetime.
const sessionCacheTTL = 60 * time.Second

// Store persists sessions in an embedded bbolt database (WAL journaling,
// fsync-on-commit durability) and fronts reads with a short-TTL in-memory
// cache so the hot path of repeated /validate calls against the same session
// does not round-trip through disk every time.
type Store struct {
	db    *bolt.DB
	cache *cache.TTLCache[string, *Session]
}

// Open opens (or creates) the bbolt file at path and ensures its bucket
// exists.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionsBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sessions bucket: %w", err)
	}

	return &Store{
		db:    db,
		cache: cache.New[string, *Session](sessionCacheTTL, 0),
	}, nil
}

// Close closes the underlying bbolt file.
func (s *Store) Close() error {
	return s.db.Close()
}

// Create persists a brand-new session.
func (s *Store) Create(sess *Session) error {
	if err := s.put(sess); err != nil {
		return err
	}
	s.cache.Set(sess.ID, sess)
	return nil
}

// Get returns the session with the given id, or NotFound.
func (s *Store) Get(id string) (*Session, error) {
	if sess, ok := s.cache.Get(id); ok {
		cp := *sess
		return &cp, nil
	}

	var sess Session
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(sessionsBucket)).Get([]byte(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &sess)
	})
	if err != nil {
		return nil, svcerrors.DatabaseError("get session", err)
	}
	if !found {
		return nil, svcerrors.NotFound("session", id)
	}

	s.cache.Set(id, &sess)
	cp := sess
	return &cp, nil
}

// Update persists sess (presumed already mutated by the caller under the
// per-session lock) and refreshes the cache.
func (s *Store) Update(sess *Session) error {
	if err := s.put(sess); err != nil {
		return err
	}
	s.cache.Set(sess.ID, sess)
	return nil
}

func (s *Store) put(sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return svcerrors.Internal("marshal session", err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).Put([]byte(sess.ID), data)
	})
	if err != nil {
		return svcerrors.DatabaseError("put session", err)
	}
	return nil
}

// SweepExpired scans every stored session and marks those inactive longer
// than timeout as expired, persisting the status change. Returns the number
// of sessions newly expired. Run periodically by a background ticker; never
// deletes rows, matching the spec's "never deleted while active" lifecycle
// (an expired session is simply no longer active, not removed).
func (s *Store) SweepExpired(timeout time.Duration) (int, error) {
	now := time.Now().UTC()
	var toUpdate []*Session

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(sessionsBucket)).ForEach(func(_, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.Expired(timeout, now) {
				sess.Status = StatusExpired
				toUpdate = append(toUpdate, &sess)
			}
			return nil
		})
	})
	if err != nil {
		return 0, svcerrors.DatabaseError("scan sessions for expiry", err)
	}

	for _, sess := range toUpdate {
		if err := s.Update(sess); err != nil {
			return 0, err
		}
	}
	return len(toUpdate), nil
}
