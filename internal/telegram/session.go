package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Conversation states. A user is either waiting to hand over a GitHub
// token or browsing repositories; the state lives in Redis so a process
// restart does not lose it. When the record has expired the state derives
// from whether a token is stored.
const (
	StateAwaitingToken = "awaiting_token"
	StateBrowsing      = "browsing"
)

// Steps of the /newfile wizard, carried on the same session record.
const (
	createStepPath    = "path"
	createStepContent = "content"
)

type session struct {
	State      string `json:"state"`
	CreateStep string `json:"create_step,omitempty"`
	CreatePath string `json:"create_path,omitempty"`
}

type sessionStore struct {
	redis *redis.Client
	ttl   time.Duration
}

func newSessionStore(rdb *redis.Client, ttl time.Duration) *sessionStore {
	return &sessionStore{redis: rdb, ttl: ttl}
}

func (s *sessionStore) key(userID int64) string {
	return fmt.Sprintf("gitrover:session:%d", userID)
}

func (s *sessionStore) Set(ctx context.Context, userID int64, sess session) error {
	b, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.redis.Set(ctx, s.key(userID), string(b), s.ttl).Err()
}

func (s *sessionStore) Get(ctx context.Context, userID int64) (*session, error) {
	raw, err := s.redis.Get(ctx, s.key(userID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var sess session
	if err := json.Unmarshal([]byte(raw), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *sessionStore) Clear(ctx context.Context, userID int64) error {
	return s.redis.Del(ctx, s.key(userID)).Err()
}
