package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCodeOutstanding is returned when a live code already exists for the email.
	ErrCodeOutstanding = errors.New("verification code already issued")
	// ErrCodeNotFound is returned when no live code exists for the email.
	ErrCodeNotFound = errors.New("verification code not found or expired")
	// ErrCodeMismatch is returned when the submitted code is wrong.
	ErrCodeMismatch = errors.New("verification code mismatch")
	// ErrCodeExhausted is returned for the wrong guess that uses up the last attempt. The code
	// is discarded with it.
	ErrCodeExhausted = errors.New("too many wrong verification attempts")
)

const (
	// CodeLength is the number of digits in a verification code.
	CodeLength = 6
	// MaxCodeAttempts is how many wrong guesses a code survives before it is discarded.
	MaxCodeAttempts = 5
)

// OTPStore holds one pending verification code per email. Issue never overwrites a live code,
// and Consume accepts a code at most once.
type OTPStore interface {
	Issue(ctx context.Context, email, code string, ttl time.Duration) error
	Consume(ctx context.Context, email, code string) error
}

// GenerateCode returns a random zero-padded numeric code.
func GenerateCode() (string, error) {
	max := big.NewInt(1_000_000)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", CodeLength, n.Int64()), nil
}

// otpKey and attemptsKey share a hash tag so the consume script stays on one cluster slot.
func otpKey(email string) string {
	return "auth:otp:{" + strings.ToLower(strings.TrimSpace(email)) + "}"
}

func attemptsKey(email string) string {
	return otpKey(email) + ":attempts"
}

func codesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// consumeScript checks and deletes the code in one step. Wrong guesses are counted in a key
// that expires with the code; reaching the limit deletes both.
// Returns 1 on match, 0 when no code exists, -1 on mismatch and -2 when attempts run out.
const consumeScript = `
local stored = redis.call('GET', KEYS[1])
if not stored then
  return 0
end
if stored == ARGV[1] then
  redis.call('DEL', KEYS[1], KEYS[2])
  return 1
end
local tries = redis.call('INCR', KEYS[2])
if tries == 1 then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl > 0 then
    redis.call('PEXPIRE', KEYS[2], ttl)
  end
end
if tries >= tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1], KEYS[2])
  return -2
end
return -1
`

// RedisOTPStore keeps codes as expiring keys written with SETNX.
type RedisOTPStore struct {
	client redis.Cmdable
}

// NewRedisOTPStore wraps client.
func NewRedisOTPStore(client redis.Cmdable) *RedisOTPStore {
	return &RedisOTPStore{client: client}
}

func (s *RedisOTPStore) Issue(ctx context.Context, email, code string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, otpKey(email), code, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrCodeOutstanding
	}
	return nil
}

func (s *RedisOTPStore) Consume(ctx context.Context, email, code string) error {
	keys := []string{otpKey(email), attemptsKey(email)}
	result, err := s.client.Eval(ctx, consumeScript, keys, code, MaxCodeAttempts).Int64()
	if err != nil {
		return err
	}
	switch result {
	case 1:
		return nil
	case 0:
		return ErrCodeNotFound
	case -2:
		return ErrCodeExhausted
	default:
		return ErrCodeMismatch
	}
}

type pendingCode struct {
	code      string
	expiresAt time.Time
	attempts  int
}

// MemoryOTPStore is the single-process fallback with explicit TTL eviction.
type MemoryOTPStore struct {
	mu      sync.Mutex
	pending map[string]pendingCode
	now     func() time.Time
}

// NewMemoryOTPStore creates an empty store.
func NewMemoryOTPStore() *MemoryOTPStore {
	return &MemoryOTPStore{pending: make(map[string]pendingCode), now: time.Now}
}

func (s *MemoryOTPStore) Issue(_ context.Context, email, code string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	key := otpKey(email)
	if _, live := s.pending[key]; live {
		return ErrCodeOutstanding
	}
	s.pending[key] = pendingCode{code: code, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryOTPStore) Consume(_ context.Context, email, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
	key := otpKey(email)
	p, ok := s.pending[key]
	if !ok {
		return ErrCodeNotFound
	}
	if !codesEqual(p.code, code) {
		p.attempts++
		if p.attempts >= MaxCodeAttempts {
			delete(s.pending, key)
			return ErrCodeExhausted
		}
		s.pending[key] = p
		return ErrCodeMismatch
	}
	delete(s.pending, key)
	return nil
}

func (s *MemoryOTPStore) evictLocked() {
	now := s.now()
	for key, p := range s.pending {
		if !now.Before(p.expiresAt) {
			delete(s.pending, key)
		}
	}
}
