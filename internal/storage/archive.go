/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package storage

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/config"
)

// Archive persists roster exports for completed runs so they remain
// available after cache expiry and database pruning.
type Archive struct {
	store  ObjectStore
	logger zerolog.Logger
}

// NewArchive creates an archive using S3 or filesystem storage based on
// config. Call only when cfg.ArchiveEnabled() is true.
func NewArchive(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Archive, error) {
	log := logger.With().Str("component", "archive").Logger()

	var store ObjectStore
	switch {
	case cfg.S3Bucket != "":
		if cfg.S3AccessKeyID == "" || cfg.S3SecretAccessKey == "" {
			log.Warn().Msg("S3 credentials not configured, some operations may fail")
		}
		s3Store, err := NewS3Store(ctx, S3Config{
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			UsePathStyle:    cfg.S3UsePathStyle,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 archive: %w", err)
		}
		store = s3Store
	case cfg.ArchiveLocalDir != "":
		store = NewFilesystemStore(cfg.ArchiveLocalDir, log)
	default:
		return nil, errors.New("archive storage not configured")
	}

	return &Archive{store: store, logger: log}, nil
}

// runKey builds the object key for a run artifact.
// Structure: runs/<run_id>/<name>
func runKey(runID, name string) string {
	return path.Join("runs", runID, name)
}

// StoreArtifact saves one run export and returns its object key.
func (a *Archive) StoreArtifact(ctx context.Context, runID, name string, data []byte) (string, error) {
	key := runKey(runID, name)
	if err := a.store.Put(ctx, key, data); err != nil {
		a.logger.Error().Err(err).
			Str("run_id", runID).
			Str("key", key).
			Msg("archive store failed")
		return "", fmt.Errorf("store artifact: %w", err)
	}

	a.logger.Info().
		Str("run_id", runID).
		Str("key", key).
		Int("bytes", len(data)).
		Msg("artifact archived")
	return key, nil
}

// FetchArtifact loads a previously archived run export.
func (a *Archive) FetchArtifact(ctx context.Context, runID, name string) ([]byte, error) {
	data, err := a.store.Get(ctx, runKey(runID, name))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	return data, nil
}
