package idempotency

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tilestock/stock-service/pkg/errors"
	"github.com/tilestock/stock-service/pkg/logging"
	"github.com/tilestock/stock-service/pkg/metrics"
	"github.com/tilestock/stock-service/pkg/middleware"
)

// HeaderReplayed marks a response served from a stored record
const HeaderReplayed = "Idempotent-Replayed"

const (
	outcomeMiss       = "miss"
	outcomeHit        = "hit"
	outcomeMismatch   = "mismatch"
	outcomeConcurrent = "concurrent"
	outcomeError      = "storage_error"
)

// Config configures the idempotency middleware
type Config struct {
	Repository Repository

	// Scope separates the key space of different callers. Keys are only
	// compared within one scope.
	Scope func(*gin.Context) string

	// RequireKey rejects mutating requests without a key
	RequireKey bool

	MaxKeyLength    int
	LockTimeout     time.Duration
	RetentionPeriod time.Duration
	MaxResponseSize int

	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns a configuration with optional keys
func DefaultConfig(repository Repository, logger *logging.Logger) *Config {
	return &Config{
		Repository:      repository,
		MaxKeyLength:    DefaultMaxKeyLength,
		LockTimeout:     DefaultLockTimeout,
		RetentionPeriod: DefaultRetentionPeriod,
		MaxResponseSize: DefaultMaxResponseSize,
		Logger:          logger,
	}
}

type captureWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *captureWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// Middleware replays the stored response of a request whose Idempotency-Key
// was already processed, and stores the response of the first one. Server
// errors are not stored, so the client may retry with the same key.
func Middleware(config *Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isMutating(c.Request.Method) {
			c.Next()
			return
		}

		key := NormalizeKey(c.GetHeader(HeaderKey))
		if key == "" {
			if config.RequireKey {
				middleware.AbortWithAppError(c, errors.ErrValidation("Idempotency-Key header is required").
					WithDetail("header", HeaderKey))
				return
			}
			c.Next()
			return
		}
		if err := ValidateKey(key, config.MaxKeyLength); err != nil {
			middleware.AbortWithAppError(c, errors.ErrValidation("invalid Idempotency-Key header").
				WithDetail(HeaderKey, err.Error()))
			return
		}

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			middleware.AbortWithAppError(c, errors.ErrBadRequest("failed to read request body"))
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		scope := ""
		if config.Scope != nil {
			scope = config.Scope(c)
		}

		handle(c, config, scope, key, Fingerprint(c.Request.Method, c.Request.URL.Path, body))
	}
}

func handle(c *gin.Context, config *Config, scope, key, fingerprint string) {
	ctx := c.Request.Context()
	path := c.FullPath()
	logger := config.Logger.WithContext(ctx).With("idempotencyKey", key, "path", c.Request.URL.Path)

	now := time.Now().UTC()
	record := &Record{
		ID:          RecordID(scope, key),
		Scope:       scope,
		Key:         key,
		Method:      c.Request.Method,
		Path:        c.Request.URL.Path,
		Fingerprint: fingerprint,
		LockedAt:    &now,
		CreatedAt:   now,
		ExpiresAt:   now.Add(config.RetentionPeriod),
	}

	stored, created, err := config.Repository.Acquire(ctx, record)
	if err != nil {
		logger.Error("Failed to acquire idempotency key", "error", err)
		observe(config, path, outcomeError)
		middleware.AbortWithAppError(c, errors.ErrUnavailable("idempotency storage is temporarily unavailable").Wrap(err))
		return
	}

	if !created {
		if stored.Fingerprint != fingerprint {
			logger.Warn("Idempotency key reused with a different request")
			observe(config, path, outcomeMismatch)
			middleware.AbortWithAppError(c, errors.ErrKeyReused())
			return
		}

		if stored.IsCompleted() {
			observe(config, path, outcomeHit)
			replay(c, stored)
			return
		}

		staleBefore := now.Add(-config.LockTimeout)
		if stored.LockedAt != nil && stored.LockedAt.After(staleBefore) {
			observe(config, path, outcomeConcurrent)
			middleware.AbortWithAppError(c, errors.ErrConflict("a request with this idempotency key is still being processed"))
			return
		}

		taken, err := config.Repository.TakeOver(ctx, stored.ID, staleBefore)
		if err != nil {
			logger.Error("Failed to take over stale idempotency key", "error", err)
			observe(config, path, outcomeError)
			middleware.AbortWithAppError(c, errors.ErrUnavailable("idempotency storage is temporarily unavailable").Wrap(err))
			return
		}
		if !taken {
			observe(config, path, outcomeConcurrent)
			middleware.AbortWithAppError(c, errors.ErrConflict("a request with this idempotency key is still being processed"))
			return
		}
		logger.Info("Took over stale idempotency key")
	}

	observe(config, path, outcomeMiss)

	writer := &captureWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
	c.Writer = writer
	c.Next()

	// the response is already on the wire; storage must outlive a client disconnect
	storeCtx := context.WithoutCancel(ctx)
	status := writer.Status()

	if status >= http.StatusInternalServerError || writer.body.Len() > config.MaxResponseSize {
		if err := config.Repository.Release(storeCtx, record.ID); err != nil {
			logger.Error("Failed to release idempotency key", "error", err)
		}
		return
	}

	if err := config.Repository.Complete(storeCtx, record.ID, status, writer.body.Bytes(), responseHeaders(writer.Header())); err != nil {
		logger.Error("Failed to store idempotent response", "error", err)
	}
}

func replay(c *gin.Context, stored *Record) {
	for k, v := range stored.ResponseHeaders {
		c.Header(k, v)
	}
	c.Header(HeaderReplayed, "true")

	contentType := stored.ResponseHeaders["Content-Type"]
	if contentType == "" {
		contentType = "application/json; charset=utf-8"
	}
	c.Data(stored.ResponseCode, contentType, stored.ResponseBody)
	c.Abort()
}

// responseHeaders keeps the first value of every header except the
// per-request ones
func responseHeaders(h http.Header) map[string]string {
	requestID := http.CanonicalHeaderKey(middleware.HeaderRequestID)
	headers := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) == 0 || k == "Content-Length" || k == requestID {
			continue
		}
		headers[k] = v[0]
	}
	return headers
}

func observe(config *Config, path, outcome string) {
	if config.Metrics != nil {
		config.Metrics.RecordIdempotency(path, outcome)
	}
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
