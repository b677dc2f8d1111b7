package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/example/tablebook/services/reservation-service/internal/workflow"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrNotFound means no session exists for the requester; callers start a
// fresh one.
var ErrNotFound = errors.New("session not found")

// Store persists dialogue sessions between front-end interactions. Sessions
// are keyed by requester so each user has at most one active dialogue.
type Store interface {
	Load(ctx context.Context, requesterID string) (*workflow.Session, error)
	Save(ctx context.Context, s *workflow.Session) error
	Delete(ctx context.Context, requesterID string) error
}

// New returns a fresh idle session for the requester.
func New(requesterID, displayName string) *workflow.Session {
	now := time.Now().UTC()
	return &workflow.Session{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		DisplayName: displayName,
		State:       workflow.StateIdle,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// RedisStore keeps sessions in Redis with a TTL, so abandoned dialogues
// expire on their own and multiple service instances share state.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

func sessionKey(requesterID string) string {
	return "session:" + requesterID
}

func (s *RedisStore) Load(ctx context.Context, requesterID string) (*workflow.Session, error) {
	raw, err := s.rdb.Get(ctx, sessionKey(requesterID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	var sess workflow.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) Save(ctx context.Context, sess *workflow.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := s.rdb.Set(ctx, sessionKey(sess.RequesterID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, requesterID string) error {
	if err := s.rdb.Del(ctx, sessionKey(requesterID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// MemoryStore is an in-process store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]workflow.Session
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: map[string]workflow.Session{}}
}

func (s *MemoryStore) Load(_ context.Context, requesterID string) (*workflow.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[requesterID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := sess
	return &copied, nil
}

func (s *MemoryStore) Save(_ context.Context, sess *workflow.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.RequesterID] = *sess
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, requesterID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, requesterID)
	return nil
}
