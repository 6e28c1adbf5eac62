package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"time"
)

const (
	// HeaderKey is the request header carrying the client's idempotency key
	HeaderKey = "Idempotency-Key"

	DefaultMaxKeyLength    = 255
	DefaultLockTimeout     = 2 * time.Minute
	DefaultRetentionPeriod = 24 * time.Hour
	DefaultMaxResponseSize = 1 << 20
)

var (
	ErrKeyTooLong = errors.New("idempotency key exceeds maximum length")
	ErrKeyInvalid = errors.New("idempotency key may only contain letters, digits, '-' and '_'")
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// Record is a stored idempotency key. A record without CompletedAt is being
// processed by the request that holds its lock.
type Record struct {
	ID          string `bson:"_id"`
	Scope       string `bson:"scope"`
	Key         string `bson:"key"`
	Method      string `bson:"method"`
	Path        string `bson:"path"`
	Fingerprint string `bson:"fingerprint"`

	LockedAt *time.Time `bson:"lockedAt,omitempty"`

	ResponseCode    int               `bson:"responseCode,omitempty"`
	ResponseBody    []byte            `bson:"responseBody,omitempty"`
	ResponseHeaders map[string]string `bson:"responseHeaders,omitempty"`

	CreatedAt   time.Time  `bson:"createdAt"`
	CompletedAt *time.Time `bson:"completedAt,omitempty"`
	ExpiresAt   time.Time  `bson:"expiresAt"`
}

// IsCompleted reports whether a response has been stored
func (r *Record) IsCompleted() bool {
	return r.CompletedAt != nil
}

// IsLocked reports whether a request is still working on the key
func (r *Record) IsLocked() bool {
	return r.LockedAt != nil && r.CompletedAt == nil
}

// NormalizeKey trims surrounding whitespace
func NormalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// ValidateKey checks the key charset and length
func ValidateKey(key string, maxLength int) error {
	if len(key) > maxLength {
		return ErrKeyTooLong
	}
	if !keyPattern.MatchString(key) {
		return ErrKeyInvalid
	}
	return nil
}

// Fingerprint hashes the parts of a request a retry must repeat exactly
func Fingerprint(method, path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// RecordID is the storage id of a key within a scope
func RecordID(scope, key string) string {
	return scope + ":" + key
}
