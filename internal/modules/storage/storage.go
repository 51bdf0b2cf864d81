package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/modmon/internal/domain/catalog"
	apperr "github.com/yungbote/modmon/internal/pkg/errors"
	"github.com/yungbote/modmon/internal/platform/logger"
)

// Mirror receives a copy of every stored directory. It is optional.
type Mirror interface {
	UploadFile(ctx context.Context, key string, file io.Reader) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	URI(key string) string
}

type Config struct {
	// Root is the directory stored model versions live under.
	Root string
	// UploadConcurrency bounds parallel mirror uploads.
	UploadConcurrency int
}

// Store keeps one directory per model version under Root, named by the
// version identifier.
type Store struct {
	cfg    Config
	mirror Mirror
	log    *logger.Logger
}

func NewStore(cfg Config, mirror Mirror, baseLog *logger.Logger) *Store {
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	return &Store{cfg: cfg, mirror: mirror, log: baseLog.With("component", "ModelStore")}
}

func (s *Store) Root() string { return s.cfg.Root }

// Path is where a version's files are stored.
func (s *Store) Path(modelID int64, version string) string {
	return filepath.Join(s.cfg.Root, catalog.Identifier(modelID, version))
}

// Stored is the outcome of Put.
type Stored struct {
	Path      string
	Digest    string
	MirrorURI string
}

// Put copies src into the version's storage directory and returns the
// location and content digest. An existing directory is an error unless
// overwrite is set.
func (s *Store) Put(ctx context.Context, src string, modelID int64, version string, overwrite bool) (*Stored, error) {
	dst := s.Path(modelID, version)
	if _, err := os.Stat(dst); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%s: %w", dst, apperr.ErrAlreadyExists)
		}
		if err := os.RemoveAll(dst); err != nil {
			return nil, fmt.Errorf("clear %s: %w", dst, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	if err := os.MkdirAll(s.cfg.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if err := CopyDir(src, dst); err != nil {
		_ = os.RemoveAll(dst)
		return nil, fmt.Errorf("copy %s to storage: %w", src, err)
	}
	digest, err := DigestDir(dst)
	if err != nil {
		_ = os.RemoveAll(dst)
		return nil, err
	}
	out := &Stored{Path: dst, Digest: digest}
	if s.mirror != nil {
		key := catalog.Identifier(modelID, version)
		if err := s.upload(ctx, dst, key); err != nil {
			_ = os.RemoveAll(dst)
			return nil, fmt.Errorf("mirror %s: %w", key, err)
		}
		out.MirrorURI = s.mirror.URI(key)
	}
	s.log.Info("model version stored", "model_id", modelID, "version", version, "path", dst, "digest", digest)
	return out, nil
}

func (s *Store) upload(ctx context.Context, dir, prefix string) error {
	files, err := listFiles(dir)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.UploadConcurrency)
	for _, rel := range files {
		rel := rel
		g.Go(func() error {
			f, err := os.Open(filepath.Join(dir, rel))
			if err != nil {
				return err
			}
			defer f.Close()
			return s.mirror.UploadFile(gctx, prefix+"/"+filepath.ToSlash(rel), f)
		})
	}
	return g.Wait()
}

// Remove deletes a version's storage directory and its mirror copy.
// Removing something absent is not an error.
func (s *Store) Remove(ctx context.Context, modelID int64, version string) error {
	if err := os.RemoveAll(s.Path(modelID, version)); err != nil {
		return err
	}
	if s.mirror != nil {
		if _, err := s.mirror.DeletePrefix(ctx, catalog.Identifier(modelID, version)+"/"); err != nil {
			return fmt.Errorf("delete mirror copy: %w", err)
		}
	}
	return nil
}

// RemoveAll deletes every stored version and returns the directory names.
func (s *Store) RemoveAll(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), catalog.IdentifierPrefix) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.cfg.Root, e.Name())); err != nil {
			return removed, err
		}
		if s.mirror != nil {
			if _, err := s.mirror.DeletePrefix(ctx, e.Name()+"/"); err != nil {
				return removed, fmt.Errorf("delete mirror copy of %s: %w", e.Name(), err)
			}
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// CopyDir copies the regular files and directories of src into dst, which
// must not exist. Symlinks are copied as links.
func CopyDir(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", src)
	}
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("%s: %w", dst, fs.ErrExist)
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			fi, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, fi.Mode().Perm()|0o700)
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func listFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, rel)
		return nil
	})
	sort.Strings(files)
	return files, err
}

// HashFile is the hex SHA-256 of a file's bytes.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DigestDir hashes the relative path and content of every regular file in
// dir, in sorted order.
func DigestDir(dir string) (string, error) {
	files, err := listFiles(dir)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, rel := range files {
		sum, err := HashFile(filepath.Join(dir, rel))
		if err != nil {
			return "", err
		}
		fmt.Fprintf(h, "%s\x00%s\n", filepath.ToSlash(rel), sum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
