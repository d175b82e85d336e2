// Package export produces an admin snapshot of the server's state: the
// SQLite mirror and the KV store, packed as a gzip tarball with a manifest.
package export

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/bookhive/bookhive/pkg/database"
	"github.com/bookhive/bookhive/pkg/kvstore"
	"github.com/bookhive/bookhive/pkg/locks"
	"github.com/bookhive/bookhive/pkg/oauth"
	"github.com/bookhive/bookhive/pkg/version"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/segmentio/encoding/json"
	"github.com/uptrace/bun"
)

const (
	FormatVersion = "1"

	dbFile       = "db.sqlite"
	kvFile       = "kv.jsonl"
	manifestFile = "manifest.json"
)

type Manifest struct {
	Version         string         `json:"version"`
	BookHiveVersion string         `json:"bookhive_version"`
	CreatedAt       time.Time      `json:"created_at"`
	Files           []ManifestFile `json:"files"`
}

type ManifestFile struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// kvLine is one KV entry in kv.jsonl. Value is base64 in JSON.
type kvLine struct {
	Key       string     `json:"key"`
	Value     []byte     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type Service struct {
	db  *bun.DB
	kv  *kvstore.Store
	now func() time.Time
}

func NewService(db *bun.DB, kv *kvstore.Store) *Service {
	return &Service{db: db, kv: kv, now: time.Now}
}

// Write streams the export to w. Both stores are first written to a scratch
// directory so the manifest can carry sizes and checksums.
func (svc *Service) Write(ctx context.Context, w io.Writer) (*Manifest, error) {
	log := logger.FromContext(ctx)
	start := svc.now()

	dir, err := os.MkdirTemp("", "bookhive-export-")
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer os.RemoveAll(dir)

	if err := database.Snapshot(ctx, svc.db, filepath.Join(dir, dbFile)); err != nil {
		return nil, err
	}
	skipped, err := svc.dumpKV(ctx, filepath.Join(dir, kvFile))
	if err != nil {
		return nil, err
	}

	manifest := &Manifest{
		Version:         FormatVersion,
		BookHiveVersion: version.Version,
		CreatedAt:       start.UTC(),
	}
	for _, name := range []string{dbFile, kvFile} {
		f, err := describe(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		manifest.Files = append(manifest.Files, *f)
	}
	manifestJSON, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, errors.WithStack(err)
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	for _, name := range []string{dbFile, kvFile} {
		if err := addFile(tw, filepath.Join(dir, name), name, start); err != nil {
			return nil, err
		}
	}
	if err := addBytes(tw, manifestFile, manifestJSON, start); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, errors.WithStack(err)
	}
	if err := gz.Close(); err != nil {
		return nil, errors.WithStack(err)
	}

	log.Info("export written", logger.Data{
		"duration":        time.Since(start).String(),
		"kv_keys_skipped": skipped,
	})
	return manifest, nil
}

// dumpKV writes every KV entry except OAuth state, sessions and leases.
func (svc *Service) dumpKV(ctx context.Context, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	skipped := 0
	err = svc.kv.Scan(ctx, "", func(e kvstore.Entry) error {
		if oauth.IsAuthKey(e.Key) || locks.IsLockKey(e.Key) {
			skipped++
			return nil
		}
		line := kvLine{Key: e.Key, Value: e.Value}
		if !e.ExpiresAt.IsZero() {
			exp := e.ExpiresAt
			line.ExpiresAt = &exp
		}
		return errors.WithStack(enc.Encode(line))
	})
	if err != nil {
		return 0, err
	}
	return skipped, errors.WithStack(f.Close())
}

func describe(path string) (*ManifestFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &ManifestFile{Name: filepath.Base(path), Size: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

func addFile(tw *tar.Writer, path, name string, modTime time.Time) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return errors.WithStack(err)
	}
	hdr := &tar.Header{Name: name, Mode: 0o600, Size: info.Size(), ModTime: modTime}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.WithStack(err)
	}
	_, err = io.Copy(tw, f)
	return errors.WithStack(err)
}

func addBytes(tw *tar.Writer, name string, data []byte, modTime time.Time) error {
	hdr := &tar.Header{Name: name, Mode: 0o600, Size: int64(len(data)), ModTime: modTime}
	if err := tw.WriteHeader(hdr); err != nil {
		return errors.WithStack(err)
	}
	_, err := tw.Write(data)
	return errors.WithStack(err)
}
