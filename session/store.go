// Package session keeps the gateway's server-side session records in Redis and
// carries their ids in a signed cookie.
package session

import (
	"context"
	"encoding/base32"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/redis/go-redis/v9"

	"github.com/kweaver-ai/consolegate/config"
	"github.com/kweaver-ai/consolegate/internal/logger"
)

// RedisStore implements sessions.Store. The cookie only holds the signed session id;
// the values are gob-encoded into a Redis string that expires after ttl.
type RedisStore struct {
	client     redis.UniversalClient
	codecs     []securecookie.Codec
	serializer securecookie.GobEncoder
	keyPrefix  string
	ttl        time.Duration
	logger     logger.Logger

	// Options is the template copied into every new session.
	Options *sessions.Options
}

// NewRedisStore builds a store from the session configuration. The hash and block
// keys sign and optionally encrypt the id cookie; PreviousHashKey is accepted on
// decode only.
func NewRedisStore(client redis.UniversalClient, cfg config.SessionConfig, log logger.Logger) *RedisStore {
	if log == nil {
		log = logger.NoOp()
	}
	pairs := [][]byte{[]byte(cfg.HashKey), blockKey(cfg.BlockKey)}
	if cfg.PreviousHashKey != "" {
		pairs = append(pairs, []byte(cfg.PreviousHashKey), blockKey(cfg.BlockKey))
	}
	codecs := securecookie.CodecsFromPairs(pairs...)
	maxAge := int(cfg.TTL / time.Second)
	for _, c := range codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(maxAge)
		}
	}

	return &RedisStore{
		client:    client,
		codecs:    codecs,
		keyPrefix: cfg.KeyPrefix,
		ttl:       cfg.TTL,
		logger:    log,
		Options: &sessions.Options{
			Path:     "/",
			Domain:   cfg.Domain,
			MaxAge:   maxAge,
			Secure:   cfg.Secure,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}
}

func blockKey(key string) []byte {
	if key == "" {
		return nil
	}
	return []byte(key)
}

// Get returns the session cached in the request registry, loading it on first use.
func (s *RedisStore) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New loads the session named by the request's id cookie. A missing, forged or
// expired cookie yields a fresh session with IsNew set; only Redis failures are
// returned as errors.
func (s *RedisStore) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := *s.Options
	session.Options = &opts
	session.IsNew = true

	c, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}
	var id string
	if err := securecookie.DecodeMulti(name, c.Value, &id, s.codecs...); err != nil {
		s.logger.Debugf("Ignoring undecodable session cookie %s: %v", name, err)
		return session, nil
	}

	found, err := s.load(r.Context(), id, session)
	if err != nil {
		return session, err
	}
	if found {
		session.ID = id
		session.IsNew = false
	}
	return session, nil
}

// Save writes the session values and re-issues the id cookie. A negative MaxAge
// deletes the record and expires the cookie.
func (s *RedisStore) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options != nil && session.Options.MaxAge < 0 {
		if session.ID != "" {
			if err := s.Delete(r.Context(), session.ID); err != nil {
				return err
			}
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = newID()
	}
	if err := s.store(r.Context(), session); err != nil {
		return err
	}
	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("failed to encode session cookie: %w", err)
	}
	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Delete removes a session record by id.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) key(id string) string {
	return s.keyPrefix + id
}

func (s *RedisStore) load(ctx context.Context, id string, session *sessions.Session) (bool, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if err := s.serializer.Deserialize(data, &session.Values); err != nil {
		s.logger.Errorf("Discarding corrupt session record %s: %v", id, err)
		session.Values = make(map[interface{}]interface{})
		return false, nil
	}
	return true, nil
}

func (s *RedisStore) store(ctx context.Context, session *sessions.Session) error {
	data, err := s.serializer.Serialize(session.Values)
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}
	if err := s.client.Set(ctx, s.key(session.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	return nil
}

func newID() string {
	return strings.TrimRight(base32.StdEncoding.EncodeToString(securecookie.GenerateRandomKey(32)), "=")
}
