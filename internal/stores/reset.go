package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const resetChallengeV1 = 1

var (
	// ErrResetNotFound covers unknown, expired, and already-consumed
	// challenges alike so a caller cannot probe which one it was.
	ErrResetNotFound = errors.New("reset challenge not found")
	// ErrResetSecretMismatch reports a wrong secret against a live
	// challenge. The attempt was counted.
	ErrResetSecretMismatch = errors.New("reset secret mismatch")
	// ErrResetAttemptsExceeded reports that the attempt cap was reached;
	// the challenge has been destroyed.
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	// ErrResetRedisUnavailable wraps transport failures.
	ErrResetRedisUnavailable = errors.New("reset store unavailable")
)

// ResetChallenge is the stored half of a password-reset token: the
// secret's digest, never the secret.
type ResetChallenge struct {
	UserID     string
	SecretHash [32]byte
	ExpiresAt  int64
	Attempts   uint16
}

// ResetStore keeps reset challenges in Redis, keyed by challenge id.
// Consume is atomic: concurrent presentations of the same token race
// through WATCH/MULTI and exactly one wins.
type ResetStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewResetStore(client redis.UniversalClient, prefix string, now func() time.Time) *ResetStore {
	if prefix == "" {
		prefix = "ac:reset"
	}
	if now == nil {
		now = time.Now
	}
	return &ResetStore{
		redis:  client,
		prefix: prefix,
		now:    now,
	}
}

func (s *ResetStore) key(id string) string {
	return s.prefix + ":" + id
}

// Save stores a fresh challenge under id for ttl.
func (s *ResetStore) Save(ctx context.Context, id string, challenge *ResetChallenge, ttl time.Duration) error {
	if id == "" || challenge == nil || ttl <= 0 {
		return fmt.Errorf("%w: incomplete challenge", ErrResetRedisUnavailable)
	}
	encoded, err := encodeResetChallenge(challenge)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(id), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	return nil
}

// Consume presents providedHash against the challenge stored under id.
// A match destroys the challenge and returns it. A mismatch counts one
// attempt; reaching maxAttempts destroys the challenge. Expired or
// corrupt records are destroyed and read as not found.
func (s *ResetStore) Consume(ctx context.Context, id string, providedHash [32]byte, maxAttempts int) (*ResetChallenge, error) {
	const maxTxRetries = 4
	key := s.key(id)

	for i := 0; i < maxTxRetries; i++ {
		var matched *ResetChallenge

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}

			challenge, err := decodeResetChallenge(data)
			if err != nil {
				if delErr := deleteWatched(ctx, tx, key); delErr != nil {
					return delErr
				}
				return ErrResetNotFound
			}

			now := s.now()
			if now.Unix() > challenge.ExpiresAt {
				if err := deleteWatched(ctx, tx, key); err != nil {
					return err
				}
				return ErrResetNotFound
			}

			if subtle.ConstantTimeCompare(challenge.SecretHash[:], providedHash[:]) != 1 {
				challenge.Attempts++
				if int(challenge.Attempts) >= maxAttempts {
					if err := deleteWatched(ctx, tx, key); err != nil {
						return err
					}
					return ErrResetAttemptsExceeded
				}

				ttl := time.Unix(challenge.ExpiresAt, 0).Sub(now)
				if ttl <= 0 {
					if err := deleteWatched(ctx, tx, key); err != nil {
						return err
					}
					return ErrResetNotFound
				}

				updated, err := encodeResetChallenge(challenge)
				if err != nil {
					return err
				}
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Set(ctx, key, updated, ttl)
					return nil
				})
				if err != nil {
					return err
				}
				return ErrResetSecretMismatch
			}

			if err := deleteWatched(ctx, tx, key); err != nil {
				return err
			}
			matched = challenge
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound),
				errors.Is(err, ErrResetSecretMismatch),
				errors.Is(err, ErrResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}
		return matched, nil
	}

	// Contention exhausted every retry; the challenge may still exist.
	return nil, ErrResetNotFound
}

func deleteWatched(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func encodeResetChallenge(challenge *ResetChallenge) ([]byte, error) {
	if len(challenge.UserID) > 65535 {
		return nil, errors.New("reset challenge user id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(resetChallengeV1)
	if err := binary.Write(&buf, binary.BigEndian, challenge.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, challenge.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(challenge.UserID))); err != nil {
		return nil, err
	}
	buf.WriteString(challenge.UserID)
	buf.Write(challenge.SecretHash[:])
	return buf.Bytes(), nil
}

func decodeResetChallenge(data []byte) (*ResetChallenge, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetChallengeV1 {
		return nil, fmt.Errorf("unknown reset challenge version %d", version)
	}

	challenge := &ResetChallenge{}
	if err := binary.Read(reader, binary.BigEndian, &challenge.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &challenge.ExpiresAt); err != nil {
		return nil, err
	}

	var userIDLen uint16
	if err := binary.Read(reader, binary.BigEndian, &userIDLen); err != nil {
		return nil, err
	}
	userID := make([]byte, userIDLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, err
	}
	challenge.UserID = string(userID)

	if _, err := io.ReadFull(reader, challenge.SecretHash[:]); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("reset challenge trailing data")
	}
	return challenge, nil
}
