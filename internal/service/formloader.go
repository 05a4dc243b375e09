package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/formpilot/formpilot/internal/domain/form"
	"github.com/formpilot/formpilot/internal/port/cache"
	"github.com/formpilot/formpilot/internal/port/contentstore"
)

// versionLatest resolves to the store's "latest" document for a form.
const versionLatest = "latest"

// FormLoaderService resolves (formCode, version) to a Form through the
// content store, with a capped TTL cache in front. Forms are re-fetched
// per request rather than snapshotted into session state so schema
// corrections reach in-flight sessions once the cache entry expires.
type FormLoaderService struct {
	content contentstore.Store
	cache   cache.Cache
	ttl     time.Duration
}

// NewFormLoaderService creates the loader.
func NewFormLoaderService(content contentstore.Store, c cache.Cache, ttl time.Duration) *FormLoaderService {
	return &FormLoaderService{content: content, cache: c, ttl: ttl}
}

// Load fetches and decodes the form document. version may be "latest"
// or empty, which resolves to the latest document.
func (s *FormLoaderService) Load(ctx context.Context, formCode, version string) (*form.Form, error) {
	if version == "" {
		version = versionLatest
	}
	fileName := version + ".json"
	key := "form:" + formCode + ":" + fileName

	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			f, err := form.Decode(data)
			if err == nil {
				return f, nil
			}
			// A corrupt cache entry falls through to a fresh read.
			slog.Warn("form cache entry corrupt", "key", key, "error", err)
		}
	}

	data, err := s.content.Read(ctx, formCode, fileName)
	if err != nil {
		return nil, fmt.Errorf("load form %s/%s: %w", formCode, version, err)
	}

	f, err := form.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load form %s/%s: %w", formCode, version, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
			slog.Warn("form cache set failed", "key", key, "error", err)
		}
	}
	return f, nil
}
