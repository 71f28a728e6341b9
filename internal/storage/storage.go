// Package storage archives export snapshots, either to a local directory or
// to S3.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Config selects and configures the archive backend.
type Config struct {
	Type      string // "local" or "s3"; empty disables archiving
	LocalPath string
	Bucket    string
	Region    string
	Profile   string
	Prefix    string
}

// Archiver stores one export body and returns where it went.
type Archiver interface {
	Archive(ctx context.Context, repositoryID string, body []byte) (string, error)
}

// New builds the configured archiver. It returns nil, nil when archiving is
// disabled.
func New(ctx context.Context, cfg Config) (Archiver, error) {
	switch strings.ToLower(cfg.Type) {
	case "":
		return nil, nil
	case "local":
		a, err := NewLocalArchiver(cfg.LocalPath, cfg.Prefix)
		if err != nil {
			return nil, err
		}
		return a, nil
	case "s3":
		if cfg.Bucket == "" {
			return nil, fmt.Errorf("storage: s3 archiving needs a bucket")
		}
		client, err := NewS3Client(ctx, cfg.Region, cfg.Profile)
		if err != nil {
			return nil, err
		}
		return NewS3Archiver(client, cfg.Bucket, cfg.Prefix), nil
	default:
		return nil, fmt.Errorf("storage: unknown type %q", cfg.Type)
	}
}

// objectKey lays snapshots out by repository and date:
// <prefix>/<repository>/2006/01/02/150405-<uuid>.csv
func objectKey(prefix, repositoryID string, at time.Time) string {
	at = at.UTC()
	name := fmt.Sprintf("%s-%s.csv", at.Format("150405"), uuid.NewString())
	parts := []string{repositoryID, at.Format("2006"), at.Format("01"), at.Format("02"), name}
	if p := strings.Trim(prefix, "/"); p != "" {
		parts = append([]string{p}, parts...)
	}
	return strings.Join(parts, "/")
}

// LocalArchiver writes snapshots under a directory.
type LocalArchiver struct {
	root   string
	prefix string
	now    func() time.Time
}

// NewLocalArchiver creates root if needed.
func NewLocalArchiver(root, prefix string) (*LocalArchiver, error) {
	if root == "" {
		root = "./data/exports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating archive directory: %w", err)
	}
	return &LocalArchiver{root: root, prefix: prefix, now: time.Now}, nil
}

// Archive writes body and returns the file path.
func (a *LocalArchiver) Archive(_ context.Context, repositoryID string, body []byte) (string, error) {
	path := filepath.Join(a.root, filepath.FromSlash(objectKey(a.prefix, repositoryID, a.now())))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating archive directory: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("writing archive: %w", err)
	}
	return path, nil
}
