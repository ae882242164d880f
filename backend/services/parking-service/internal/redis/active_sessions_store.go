package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when a token isn't cached.
var ErrMiss = errors.New("redisstore: miss")

// ActiveSession stored in redis for quick access while a vehicle is inside.
type ActiveSession struct {
	SessionID   int64     `json:"session_id"`
	Token       string    `json:"token"`
	Kind        string    `json:"kind"`
	FacilityID  int64     `json:"facility_id"`
	UserID      int64     `json:"user_id"`
	VehicleType string    `json:"vehicle_type"`
	EntryTime   time.Time `json:"entry_time"`
}

// Store manages active session cache: one JSON value per token plus a token set per facility.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStore returns redis-backed store.
func NewStore(client *redis.Client, ttl time.Duration) *Store {
	return &Store{client: client, ttl: ttl}
}

func (s *Store) key(token string) string {
	return fmt.Sprintf("parking:active:%s", token)
}

func (s *Store) facilityKey(facilityID int64) string {
	return fmt.Sprintf("parking:facility:%d:active", facilityID)
}

// Save caches session and indexes it under its facility.
func (s *Store) Save(ctx context.Context, session ActiveSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(session.Token), data, s.ttl)
		pipe.SAdd(ctx, s.facilityKey(session.FacilityID), session.Token)
		if s.ttl > 0 {
			pipe.Expire(ctx, s.facilityKey(session.FacilityID), s.ttl)
		}
		return nil
	})
	return err
}

// Get returns cached session.
func (s *Store) Get(ctx context.Context, token string) (*ActiveSession, error) {
	result, err := s.client.Get(ctx, s.key(token)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, err
	}
	var session ActiveSession
	if err := json.Unmarshal([]byte(result), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// Delete removes cached session and its facility index entry.
func (s *Store) Delete(ctx context.Context, facilityID int64, token string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(token))
		pipe.SRem(ctx, s.facilityKey(facilityID), token)
		return nil
	})
	return err
}

// ListByFacility returns the cached sessions of a facility. Index entries whose value
// has expired are pruned.
func (s *Store) ListByFacility(ctx context.Context, facilityID int64) ([]ActiveSession, error) {
	tokens, err := s.client.SMembers(ctx, s.facilityKey(facilityID)).Result()
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, nil
	}

	keys := make([]string, len(tokens))
	for i, tok := range tokens {
		keys[i] = s.key(tok)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	sessions := make([]ActiveSession, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			stale = append(stale, tokens[i])
			continue
		}
		var session ActiveSession
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			stale = append(stale, tokens[i])
			continue
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		_ = s.client.SRem(ctx, s.facilityKey(facilityID), stale...).Err()
	}
	return sessions, nil
}
