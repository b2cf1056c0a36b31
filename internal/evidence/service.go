// Package evidence stores off-ledger supporting documents in a
// content-addressed blob store. The ledger only records the returned
// reference.
package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"custodychain/internal/blob"
	"custodychain/internal/core"

	gocache "github.com/patrickmn/go-cache"
)

const (
	refPrefix = "Qm"

	DefaultCacheExpiration = 10 * time.Minute
	DefaultCleanupInterval = 30 * time.Minute
	DefaultURLExpiry       = 15 * time.Minute
)

var (
	// ErrInvalidRef is returned for references that are not content digests.
	ErrInvalidRef = errors.New("evidence: invalid reference")
	// ErrCorrupt is returned when stored content no longer matches its reference.
	ErrCorrupt = errors.New("evidence: content does not match reference")
	// ErrNotFound aliases the blob sentinel so callers need not import blob.
	ErrNotFound = blob.ErrNotFound
	// ErrUnsupported is returned by URL when the backend cannot sign links.
	ErrUnsupported = blob.ErrUnsupported
)

// Service reads and writes evidence documents. Stored content is immutable,
// so reads are served from a local cache once fetched.
type Service struct {
	store  blob.Store
	cache  *gocache.Cache
	logger core.Logger
	now    func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger used for evidence writes.
func WithLogger(logger core.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithCache overrides the read cache expiration and cleanup interval.
func WithCache(expiration, cleanup time.Duration) Option {
	return func(s *Service) { s.cache = gocache.New(expiration, cleanup) }
}

// WithClock overrides the clock used to stamp log entries.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService wraps store.
func NewService(store blob.Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		cache:  gocache.New(DefaultCacheExpiration, DefaultCleanupInterval),
		logger: core.NewNoopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Driver reports the backing blob driver.
func (s *Service) Driver() blob.Driver { return s.store.Driver() }

// RefFor returns the content reference for data without storing it.
func RefFor(data []byte) string {
	sum := sha256.Sum256(data)
	return refPrefix + hex.EncodeToString(sum[:])
}

// ValidateRef reports whether ref has the shape produced by RefFor.
func ValidateRef(ref string) error {
	digest, ok := strings.CutPrefix(ref, refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return nil
}

// Put stores data and returns its reference. Storing identical content twice
// yields the same reference.
func (s *Service) Put(ctx context.Context, data []byte, contentType string) (string, error) {
	ref := RefFor(data)
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	_, err := s.store.Put(ctx, ref, bytes.NewReader(data), blob.PutOptions{ContentType: contentType})
	switch {
	case errors.Is(err, blob.ErrExists):
		s.logger.Debug("evidence already stored", "ref", ref)
	case err != nil:
		return "", fmt.Errorf("store evidence: %w", err)
	default:
		s.logger.Info("evidence stored", "ref", ref, "size", len(data), "driver", string(s.store.Driver()))
	}
	s.cache.SetDefault(ref, bytes.Clone(data))
	return ref, nil
}

// PutJSON encodes v and stores it.
func (s *Service) PutJSON(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode evidence: %w", err)
	}
	return s.Put(ctx, data, "application/json")
}

// Get returns the content stored under ref.
func (s *Service) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ValidateRef(ref); err != nil {
		return nil, err
	}
	if cached, ok := s.cache.Get(ref); ok {
		if data, ok := cached.([]byte); ok {
			return bytes.Clone(data), nil
		}
	}
	_, rc, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read evidence %s: %w", ref, err)
	}
	if RefFor(data) != ref {
		return nil, fmt.Errorf("%w: %s", ErrCorrupt, ref)
	}
	s.cache.SetDefault(ref, bytes.Clone(data))
	return data, nil
}

// GetJSON loads ref and decodes it into v.
func (s *Service) GetJSON(ctx context.Context, ref string, v any) error {
	data, err := s.Get(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode evidence %s: %w", ref, err)
	}
	return nil
}

// URL returns a time-limited link to the content, or ErrUnsupported when the
// backend cannot produce one.
func (s *Service) URL(ctx context.Context, ref string, expiry time.Duration) (string, error) {
	if err := ValidateRef(ref); err != nil {
		return "", err
	}
	if expiry <= 0 {
		expiry = DefaultURLExpiry
	}
	return s.store.PresignURL(ctx, ref, blob.SignedURLOptions{Method: http.MethodGet, Expiry: expiry})
}
