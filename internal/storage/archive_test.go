package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/friendsincode/vakt/internal/config"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store := NewFilesystemStore(t.TempDir(), zerolog.Nop())
	ctx := context.Background()

	payload := []byte("day,alice,bob\n0,D,N\n")
	if err := store.Put(ctx, "runs/r1/roster.csv", payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := store.Get(ctx, "runs/r1/roster.csv")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("expected %q, got %q", payload, got)
	}
}

func TestFilesystemStoreGetMissing(t *testing.T) {
	store := NewFilesystemStore(t.TempDir(), zerolog.Nop())

	_, err := store.Get(context.Background(), "runs/missing/roster.json")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNewArchiveChoosesBackend(t *testing.T) {
	logger := zerolog.Nop()

	tests := []struct {
		name      string
		cfg       *config.Config
		wantErr   bool
		wantLocal bool
	}{
		{
			name:      "filesystem archive when local dir configured",
			cfg:       &config.Config{ArchiveLocalDir: t.TempDir()},
			wantLocal: true,
		},
		{
			name:    "error when nothing configured",
			cfg:     &config.Config{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			archive, err := NewArchive(context.Background(), tt.cfg, logger)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got archive %v", archive)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewArchive: %v", err)
			}
			if tt.wantLocal {
				if _, ok := archive.store.(*FilesystemStore); !ok {
					t.Errorf("archive store type = %T, want *FilesystemStore", archive.store)
				}
			}
		})
	}
}

func TestArchiveStoreAndFetchArtifact(t *testing.T) {
	dir := t.TempDir()
	archive, err := NewArchive(context.Background(), &config.Config{ArchiveLocalDir: dir}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewArchive: %v", err)
	}
	ctx := context.Background()

	key, err := archive.StoreArtifact(ctx, "run-42", "roster.json", []byte(`{"complete":true}`))
	if err != nil {
		t.Fatalf("StoreArtifact: %v", err)
	}
	if key != "runs/run-42/roster.json" {
		t.Fatalf("unexpected artifact key %q", key)
	}

	data, err := archive.FetchArtifact(ctx, "run-42", "roster.json")
	if err != nil {
		t.Fatalf("FetchArtifact: %v", err)
	}
	if string(data) != `{"complete":true}` {
		t.Fatalf("unexpected artifact body %q", data)
	}

	if _, err := archive.FetchArtifact(ctx, "run-42", "roster.csv"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing artifact, got %v", err)
	}
}
