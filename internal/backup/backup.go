// file: internal/backup/backup.go
// version: 2.0.0
// guid: 8f9e0a1b-2c3d-4e5f-6a7b-8c9d0e1f2a3b

// Package backup archives the library cache together with the provider
// state that its cursors refer to, and restores such archives.
//
// Archive layout (tar.gz):
//
//	manifest.yaml
//	database/...        checkpoint of the store
//	provider-state/...  local folder snapshots
package backup

import (
	"archive/tar"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jdfalk/ebook-organizer/internal/database"
)

const (
	manifestName    = "manifest.yaml"
	databaseDir     = "database"
	stateDir        = "provider-state"
	archiveSuffix   = ".tar.gz"
	checksumSuffix  = ".sha256"
	filenamePrefix  = "ebooks_"
	manifestVersion = 1
)

// ErrChecksumMismatch is returned by Restore when an archive does not match
// the checksum recorded next to it.
var ErrChecksumMismatch = errors.New("backup checksum mismatch")

// Info describes one archive on disk.
type Info struct {
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"`
	DatabaseType string    `json:"database_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Manifest is stored first in every archive.
type Manifest struct {
	Version      int       `yaml:"version"`
	CreatedAt    time.Time `yaml:"created_at"`
	DatabaseType string    `yaml:"database_type"`
	HasState     bool      `yaml:"has_provider_state"`
}

// Config holds backup configuration
type Config struct {
	Dir              string
	MaxBackups       int
	CompressionLevel int
}

// DefaultConfig keeps ten archives in a backups directory next to the
// database.
func DefaultConfig(databasePath string) Config {
	return Config{
		Dir:              filepath.Join(filepath.Dir(databasePath), "backups"),
		MaxBackups:       10,
		CompressionLevel: gzip.BestCompression,
	}
}

// Source is what Create archives.
type Source struct {
	Store        database.Store
	DatabaseType string
	StateDir     string
}

// Target is where Restore puts an archive back. Nothing may hold the
// database open while it runs.
type Target struct {
	DatabasePath string
	DatabaseType string
	StateDir     string
}

// Create checkpoints the store, archives it with the provider state and
// prunes archives beyond cfg.MaxBackups.
func Create(src Source, cfg Config) (*Info, error) {
	if src.Store == nil {
		return nil, fmt.Errorf("backup needs an open store")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	work, err := os.MkdirTemp(cfg.Dir, ".checkpoint-")
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	defer os.RemoveAll(work)

	ckpt := filepath.Join(work, databaseDir)
	if err := src.Store.Checkpoint(ckpt); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	manifest := Manifest{
		Version:      manifestVersion,
		CreatedAt:    now,
		DatabaseType: src.DatabaseType,
	}
	if src.StateDir != "" {
		if fi, err := os.Stat(src.StateDir); err == nil && fi.IsDir() {
			manifest.HasState = true
		}
	}

	// Nanoseconds keep archives taken in the same second distinct.
	filename := fmt.Sprintf("%s%s_%s_%09d%s", filenamePrefix, src.DatabaseType,
		now.Format("20060102_150405"), now.Nanosecond(), archiveSuffix)
	path := filepath.Join(cfg.Dir, filename)
	if err := writeArchive(path, cfg.CompressionLevel, manifest, ckpt, src.StateDir); err != nil {
		os.Remove(path)
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}
	checksum, err := fileChecksum(path)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}
	if err := os.WriteFile(path+checksumSuffix, []byte(checksum+"  "+filename+"\n"), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write checksum: %w", err)
	}

	if err := prune(cfg.Dir, cfg.MaxBackups); err != nil {
		log.Printf("[WARN] failed to prune old backups in %s: %v", cfg.Dir, err)
	}

	return &Info{
		Filename:     filename,
		Path:         path,
		Size:         fi.Size(),
		Checksum:     checksum,
		DatabaseType: src.DatabaseType,
		CreatedAt:    now,
	}, nil
}

func writeArchive(path string, level int, manifest Manifest, ckpt, state string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close backup file: %w", cerr)
		}
	}()

	gz, err := gzip.NewWriterLevel(f, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	body, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:    manifestName,
		Mode:    0o644,
		Size:    int64(len(body)),
		ModTime: manifest.CreatedAt,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(body); err != nil {
		return err
	}

	if err := addTree(tw, ckpt, databaseDir); err != nil {
		return fmt.Errorf("failed to archive database: %w", err)
	}
	if manifest.HasState {
		if err := addTree(tw, state, stateDir); err != nil {
			return fmt.Errorf("failed to archive provider state: %w", err)
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return nil
}

// addTree archives root under the archive directory prefix.
func addTree(tw *tar.Writer, root, prefix string) error {
	return filepath.Walk(root, func(file string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() && !fi.Mode().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, file)
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(filepath.Join(prefix, rel))
		if fi.IsDir() {
			header.Name += "/"
		}
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		src, err := os.Open(file)
		if err != nil {
			return err
		}
		defer src.Close()
		_, err = io.Copy(tw, src)
		return err
	})
}

// Restore replaces the database and provider state with the archive's
// contents. With verify set the archive must match its checksum file.
func Restore(archivePath string, target Target, verify bool) error {
	if verify {
		if err := Verify(archivePath); err != nil {
			return err
		}
	}

	parent := filepath.Dir(target.DatabasePath)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}
	work, err := os.MkdirTemp(parent, ".restore-")
	if err != nil {
		return fmt.Errorf("failed to create restore directory: %w", err)
	}
	defer os.RemoveAll(work)

	manifest, err := extract(archivePath, work)
	if err != nil {
		return err
	}
	if manifest.DatabaseType != target.DatabaseType {
		return fmt.Errorf("backup holds a %s database, target is %s", manifest.DatabaseType, target.DatabaseType)
	}

	restored := filepath.Join(work, databaseDir)
	if target.DatabaseType == "sqlite" {
		restored = filepath.Join(restored, database.SQLiteCheckpointFile)
		for _, suffix := range []string{"", "-wal", "-shm"} {
			if err := os.Remove(target.DatabasePath + suffix); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to remove old database: %w", err)
			}
		}
	} else if err := os.RemoveAll(target.DatabasePath); err != nil {
		return fmt.Errorf("failed to remove old database: %w", err)
	}
	if err := os.Rename(restored, target.DatabasePath); err != nil {
		return fmt.Errorf("failed to move restored database into place: %w", err)
	}

	if target.StateDir != "" {
		if err := os.RemoveAll(target.StateDir); err != nil {
			return fmt.Errorf("failed to remove old provider state: %w", err)
		}
		if manifest.HasState {
			if err := os.Rename(filepath.Join(work, stateDir), target.StateDir); err != nil {
				return fmt.Errorf("failed to move provider state into place: %w", err)
			}
		}
	}
	log.Printf("[INFO] Restored %s backup from %s", manifest.DatabaseType, archivePath)
	return nil
}

// extract unpacks the archive into dir and returns its manifest.
func extract(archivePath, dir string) (*Manifest, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup file: %w", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var manifest *Manifest
	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tar header: %w", err)
		}
		name := filepath.Clean(filepath.FromSlash(header.Name))
		if filepath.IsAbs(name) || name == ".." || strings.HasPrefix(name, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("backup entry %q escapes the restore directory", header.Name)
		}
		target := filepath.Join(dir, name)

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory %s: %w", target, err)
			}
		case tar.TypeReg:
			if name == manifestName {
				manifest = &Manifest{}
				if err := yaml.NewDecoder(tr).Decode(manifest); err != nil {
					return nil, fmt.Errorf("failed to decode manifest: %w", err)
				}
				continue
			}
			if err := writeFile(target, tr, os.FileMode(header.Mode).Perm()); err != nil {
				return nil, err
			}
		default:
			log.Printf("[WARN] skipping unsupported entry %s (type %d) in %s", header.Name, header.Typeflag, archivePath)
		}
	}
	if manifest == nil {
		return nil, fmt.Errorf("%s is not a library backup: no manifest", archivePath)
	}
	if manifest.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported backup version %d", manifest.Version)
	}
	return manifest, nil
}

func writeFile(target string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", target, err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode|0o200)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", target, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("failed to write file %s: %w", target, err)
	}
	return out.Close()
}

// Verify compares an archive with its checksum file.
func Verify(archivePath string) error {
	want, err := os.ReadFile(archivePath + checksumSuffix)
	if err != nil {
		return fmt.Errorf("failed to read checksum file: %w", err)
	}
	fields := strings.Fields(string(want))
	if len(fields) == 0 {
		return fmt.Errorf("%w: empty checksum file", ErrChecksumMismatch)
	}
	got, err := fileChecksum(archivePath)
	if err != nil {
		return fmt.Errorf("failed to calculate checksum: %w", err)
	}
	if got != fields[0] {
		return fmt.Errorf("%w: %s", ErrChecksumMismatch, archivePath)
	}
	return nil
}

// List returns the archives in dir, newest first.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filenamePrefix) || !strings.HasSuffix(name, archiveSuffix) {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		info := Info{
			Filename:     name,
			Path:         filepath.Join(dir, name),
			Size:         fi.Size(),
			DatabaseType: "unknown",
			CreatedAt:    fi.ModTime(),
		}
		if sum, err := os.ReadFile(info.Path + checksumSuffix); err == nil {
			if fields := strings.Fields(string(sum)); len(fields) > 0 {
				info.Checksum = fields[0]
			}
		}
		// ebooks_<type>_<date>_<time>_<nanos>.tar.gz
		parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(name, filenamePrefix), archiveSuffix), "_")
		if len(parts) == 4 {
			info.DatabaseType = parts[0]
			if ts, err := time.Parse("20060102_150405", parts[1]+"_"+parts[2]); err == nil {
				info.CreatedAt = ts
			}
		}
		backups = append(backups, info)
	}
	sort.SliceStable(backups, func(i, j int) bool {
		if !backups[i].CreatedAt.Equal(backups[j].CreatedAt) {
			return backups[i].CreatedAt.After(backups[j].CreatedAt)
		}
		return backups[i].Filename > backups[j].Filename
	})
	return backups, nil
}

// Delete removes an archive and its checksum file.
func Delete(archivePath string) error {
	if err := os.Remove(archivePath); err != nil {
		return fmt.Errorf("failed to delete backup: %w", err)
	}
	if err := os.Remove(archivePath + checksumSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete backup checksum: %w", err)
	}
	return nil
}

// prune keeps the newest max archives. max <= 0 keeps everything.
func prune(dir string, max int) error {
	if max <= 0 {
		return nil
	}
	backups, err := List(dir)
	if err != nil {
		return err
	}
	for _, b := range backups[min(max, len(backups)):] {
		if err := Delete(b.Path); err != nil {
			return err
		}
	}
	return nil
}

func fileChecksum(path string) (string, error) {
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
