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

const (
	resetRecordVersion = 2
	flagConsumed       = 1 << 0
	maxConsumeRetries  = 8
)

var (
	ErrResetNotFound         = errors.New("reset record not found")
	ErrResetConsumed         = errors.New("reset record already consumed")
	ErrResetSecretMismatch   = errors.New("reset secret mismatch")
	ErrResetAttemptsExceeded = errors.New("reset attempts exceeded")
	ErrResetRedisUnavailable = errors.New("reset redis unavailable")
)

// PasswordResetRecord is the persisted state of one reset token.
type PasswordResetRecord struct {
	AccountID  string
	SecretHash [32]byte
	ExpiresAt  time.Time
	Attempts   uint16
	Consumed   bool
}

// PasswordResetStore keeps reset records under <prefix>:<resetID>.
type PasswordResetStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

// NewPasswordResetStore builds a store. A nil now uses time.Now.
func NewPasswordResetStore(redisClient redis.UniversalClient, prefix string, now func() time.Time) *PasswordResetStore {
	if prefix == "" {
		prefix = "ac:pr"
	}
	if now == nil {
		now = time.Now
	}
	return &PasswordResetStore{
		redis:  redisClient,
		prefix: prefix,
		now:    now,
	}
}

func (s *PasswordResetStore) key(resetID string) string {
	return s.prefix + ":" + resetID
}

// Save writes a new record that lives until record.ExpiresAt.
func (s *PasswordResetStore) Save(ctx context.Context, resetID string, record *PasswordResetRecord) error {
	ttl := record.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("reset record already expired")
	}
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}

	ok, err := s.redis.SetNX(ctx, s.key(resetID), encoded, ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}
	if !ok {
		return errors.New("reset id collision")
	}
	return nil
}

// Consume checks providedHash against the record and, on a match, marks it
// consumed and returns it. A consumed record stays in Redis until its TTL so
// later attempts report ErrResetConsumed rather than ErrResetNotFound.
//
// A wrong secret increments the attempt counter; reaching maxAttempts
// deletes the record.
func (s *PasswordResetStore) Consume(ctx context.Context, resetID string, providedHash [32]byte, maxAttempts int) (*PasswordResetRecord, error) {
	key := s.key(resetID)

	for i := 0; i < maxConsumeRetries; i++ {
		var matched *PasswordResetRecord

		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodePasswordResetRecord(data)
			if err != nil {
				return err
			}

			now := s.now()
			if !now.Before(record.ExpiresAt) {
				if err := deleteInTx(ctx, tx, key); err != nil {
					return err
				}
				return ErrResetNotFound
			}
			if record.Consumed {
				return ErrResetConsumed
			}

			if subtle.ConstantTimeCompare(record.SecretHash[:], providedHash[:]) != 1 {
				record.Attempts++
				if maxAttempts > 0 && int(record.Attempts) >= maxAttempts {
					if err := deleteInTx(ctx, tx, key); err != nil {
						return err
					}
					return ErrResetAttemptsExceeded
				}
				if err := writeInTx(ctx, tx, key, record, record.ExpiresAt.Sub(now)); err != nil {
					return err
				}
				return ErrResetSecretMismatch
			}

			record.Consumed = true
			if err := writeInTx(ctx, tx, key, record, record.ExpiresAt.Sub(now)); err != nil {
				return err
			}
			matched = record
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				return nil, ErrResetNotFound
			case errors.Is(err, ErrResetNotFound), errors.Is(err, ErrResetConsumed),
				errors.Is(err, ErrResetSecretMismatch), errors.Is(err, ErrResetAttemptsExceeded):
				return nil, err
			default:
				return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
			}
		}
		return matched, nil
	}

	return nil, fmt.Errorf("%w: consume retries exhausted", ErrResetRedisUnavailable)
}

// Get returns the live record for resetID.
func (s *PasswordResetStore) Get(ctx context.Context, resetID string) (*PasswordResetRecord, error) {
	data, err := s.redis.Get(ctx, s.key(resetID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrResetNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrResetRedisUnavailable, err)
	}

	record, err := decodePasswordResetRecord(data)
	if err != nil {
		return nil, err
	}
	if !s.now().Before(record.ExpiresAt) {
		return nil, ErrResetNotFound
	}
	return record, nil
}

func deleteInTx(ctx context.Context, tx *redis.Tx, key string) error {
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		return nil
	})
	return err
}

func writeInTx(ctx context.Context, tx *redis.Tx, key string, record *PasswordResetRecord, ttl time.Duration) error {
	if ttl < time.Millisecond {
		ttl = time.Millisecond
	}
	encoded, err := encodePasswordResetRecord(record)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, encoded, ttl)
		return nil
	})
	return err
}

func encodePasswordResetRecord(record *PasswordResetRecord) ([]byte, error) {
	if len(record.AccountID) > 65535 {
		return nil, errors.New("reset record account id too long")
	}

	var buf bytes.Buffer
	buf.WriteByte(resetRecordVersion)

	var flags byte
	if record.Consumed {
		flags |= flagConsumed
	}
	buf.WriteByte(flags)

	_ = binary.Write(&buf, binary.BigEndian, record.Attempts)
	_ = binary.Write(&buf, binary.BigEndian, record.ExpiresAt.UnixMilli())
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(record.AccountID)))
	buf.WriteString(record.AccountID)
	buf.Write(record.SecretHash[:])

	return buf.Bytes(), nil
}

func decodePasswordResetRecord(data []byte) (*PasswordResetRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != resetRecordVersion {
		return nil, errors.New("invalid reset record version")
	}
	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &PasswordResetRecord{Consumed: flags&flagConsumed != 0}

	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	var expiresAtMs int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAtMs); err != nil {
		return nil, err
	}
	record.ExpiresAt = time.UnixMilli(expiresAtMs)

	var idLen uint16
	if err := binary.Read(reader, binary.BigEndian, &idLen); err != nil {
		return nil, err
	}
	accountID := make([]byte, idLen)
	if _, err := io.ReadFull(reader, accountID); err != nil {
		return nil, err
	}
	record.AccountID = string(accountID)

	if _, err := io.ReadFull(reader, record.SecretHash[:]); err != nil {
		return nil, err
	}
	return record, nil
}
