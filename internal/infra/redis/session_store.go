package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/repository"
)

const activityKey = "sessions:activity"

var _ repository.SessionStore = (*SessionStore)(nil)

// Sealer encrypts stored transcripts.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// SessionStore keeps each session as JSON under session:<id> and indexes last
// activity in a sorted set so the sweeper can find idle sessions.
type SessionStore struct {
	client *Client
	// hard expiry on the key as a backstop for a missed sweep; 0 disables
	keyTTL time.Duration
	sealer Sealer
}

func NewSessionStore(client *Client, keyTTL time.Duration) *SessionStore {
	return &SessionStore{client: client, keyTTL: keyTTL}
}

// WithSealer stores sessions encrypted.
func (s *SessionStore) WithSealer(sealer Sealer) *SessionStore {
	s.sealer = sealer
	return s
}

func (s *SessionStore) encode(sess *model.Session) ([]byte, error) {
	data, err := json.Marshal(sess)
	if err != nil || s.sealer == nil {
		return data, err
	}
	return s.sealer.Seal(data)
}

func (s *SessionStore) decode(raw []byte, sess *model.Session) error {
	if s.sealer != nil {
		plain, err := s.sealer.Open(raw)
		if err != nil {
			return err
		}
		raw = plain
	}
	return json.Unmarshal(raw, sess)
}

func sessionKey(id string) string { return "session:" + id }

// Get returns domain.ErrNotFound for an unknown or expired session.
func (s *SessionStore) Get(ctx context.Context, id string) (*model.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id))
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := s.decode([]byte(data), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *SessionStore) Append(ctx context.Context, id string, now time.Time, turns ...model.ConversationTurn) (*model.Session, error) {
	key := sessionKey(id)
	var out *model.Session

	txf := func(tx *redis.Tx) error {
		sess := model.NewSession(id, now)
		raw, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := s.decode([]byte(raw), sess); err != nil {
				return err
			}
		}
		sess.Append(now, turns...)
		data, err := s.encode(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, s.keyTTL)
			p.ZAdd(ctx, activityKey, &redis.Z{Score: float64(now.UnixMilli()), Member: id})
			return nil
		})
		out = sess
		return err
	}

	for i := 0; i < 3; i++ {
		err := s.client.cli.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, redis.TxFailedErr
}

func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.client.cli.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, sessionKey(id))
		p.ZRem(ctx, activityKey, id)
		return nil
	})
	return err
}

func (s *SessionStore) SweepExpired(ctx context.Context, now time.Time, ttl time.Duration) (int, error) {
	cutoff := now.Add(-ttl).UnixMilli()
	ids, err := s.client.cli.ZRangeByScore(ctx, activityKey, &redis.ZRangeBy{
		Min: "-inf",
		// exclusive: idle strictly longer than ttl
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
