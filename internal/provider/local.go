// file: internal/provider/local.go
// version: 1.0.0
// guid: 6e1d9b42-7c3a-4f58-8d26-0b4e9a3c7f15

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jdfalk/ebook-organizer/internal/fileops"
	"github.com/jdfalk/ebook-organizer/internal/metadata"
)

const (
	localCursorPrefix   = "local:"
	localSnapshotPrefix = "snapshot-"
	localRetainedGens   = 3
)

// localEntry is one file of a folder snapshot.
type localEntry struct {
	ID       string    `json:"id"`
	Path     string    `json:"path"`
	Hash     string    `json:"hash"`
	Size     int64     `json:"size"`
	ModTime  time.Time `json:"mod_time"`
	Identity uint64    `json:"identity,omitempty"`
}

// localSnapshot is the folder state after a generation, plus the changes
// that led to it from the previous cursor.
type localSnapshot struct {
	Generation int          `json:"generation"`
	Entries    []localEntry `json:"entries"`
	Changes    []Change     `json:"changes"`
}

// LocalFolderAdapter treats a directory tree as a provider. Each listing
// diffs the tree against the snapshot named by the cursor and persists the
// result as a new generation under stateDir, so cursors survive restarts.
// Cursors are "local:<gen>" once caught up and "local:<gen>@<offset>" while
// a generation's changes are paged out. Record ids are the relative path at
// first sight; renames keep the id when the file identity or a unique
// content hash ties the new path to the old one.
type LocalFolderAdapter struct {
	id       string
	root     string
	stateDir string
	pageSize int
	now      func() time.Time

	mu     sync.Mutex
	latest *localSnapshot
}

// NewLocalFolderAdapter creates an adapter for root keeping its snapshots
// in stateDir.
func NewLocalFolderAdapter(id, root, stateDir string, pageSize int) (*LocalFolderAdapter, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("local provider %s: %w", id, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("local provider %s: %s is not a directory", id, abs)
	}
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir %s: %w", stateDir, err)
	}
	return &LocalFolderAdapter{
		id:       id,
		root:     abs,
		stateDir: stateDir,
		pageSize: pageSize,
		now:      time.Now,
	}, nil
}

// ID returns the provider id.
func (l *LocalFolderAdapter) ID() string {
	return l.id
}

// Root returns the watched directory.
func (l *LocalFolderAdapter) Root() string {
	return l.root
}

// ListChanges returns the next page of folder changes.
func (l *LocalFolderAdapter) ListChanges(ctx context.Context, cursor string) (*DeltaPage, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	gen, offset, paging, err := parseLocalCursor(cursor)
	if err != nil {
		return nil, err
	}
	if paging {
		snap, err := l.load(gen)
		if err != nil {
			return nil, err
		}
		return l.page(snap, offset), nil
	}

	// Ids are matched against the cursor's snapshot so they agree with what
	// the caller has stored. A full enumeration reuses the newest snapshot
	// to keep ids stable across cursor resets.
	var base, ref *localSnapshot
	if cursor != "" {
		if base, err = l.load(gen); err != nil {
			return nil, err
		}
		ref = base
	} else if ref, err = l.loadLatest(); err != nil {
		return nil, err
	}

	entries, err := l.scan(ctx, ref)
	if err != nil {
		return nil, err
	}
	var baseEntries []localEntry
	if base != nil {
		baseEntries = base.Entries
	}
	changes := diffSnapshots(baseEntries, entries, l.now().UTC())
	if cursor != "" && len(changes) == 0 {
		return &DeltaPage{NextCursor: cursor}, nil
	}

	next := 1
	if latest, err := l.loadLatest(); err != nil {
		return nil, err
	} else if latest != nil {
		next = latest.Generation + 1
	}
	snap := &localSnapshot{Generation: next, Entries: entries, Changes: changes}
	if err := l.save(snap); err != nil {
		return nil, err
	}
	return l.page(snap, 0), nil
}

func (l *LocalFolderAdapter) page(snap *localSnapshot, offset int) *DeltaPage {
	if offset > len(snap.Changes) {
		offset = len(snap.Changes)
	}
	end := offset + l.pageSize
	if end > len(snap.Changes) {
		end = len(snap.Changes)
	}
	page := &DeltaPage{Changes: make([]Change, 0, end-offset)}
	for _, c := range snap.Changes[offset:end] {
		page.Changes = append(page.Changes, c.Clone())
	}
	if end < len(snap.Changes) {
		page.NextCursor = localCursorPrefix + strconv.Itoa(snap.Generation) + "@" + strconv.Itoa(end)
		page.HasMore = true
	} else {
		page.NextCursor = localCursorPrefix + strconv.Itoa(snap.Generation)
	}
	return page
}

func parseLocalCursor(cursor string) (gen, offset int, paging bool, err error) {
	if cursor == "" {
		return 0, 0, false, nil
	}
	if !strings.HasPrefix(cursor, localCursorPrefix) {
		return 0, 0, false, fmt.Errorf("%w: %q is not a local cursor", ErrCursorExpired, cursor)
	}
	rest := strings.TrimPrefix(cursor, localCursorPrefix)
	genPart, offPart, paging := strings.Cut(rest, "@")
	if gen, err = strconv.Atoi(genPart); err != nil || gen < 1 {
		return 0, 0, false, fmt.Errorf("%w: bad generation in %q", ErrCursorExpired, cursor)
	}
	if paging {
		if offset, err = strconv.Atoi(offPart); err != nil || offset < 0 {
			return 0, 0, false, fmt.Errorf("%w: bad offset in %q", ErrCursorExpired, cursor)
		}
	}
	return gen, offset, paging, nil
}

// scan walks the tree and hashes new or modified files. Unchanged files
// (same path, size and mtime as in ref) keep their stored hash.
func (l *LocalFolderAdapter) scan(ctx context.Context, ref *localSnapshot) ([]localEntry, error) {
	known := make(map[string]localEntry)
	if ref != nil {
		for _, e := range ref.Entries {
			known[e.Path] = e
		}
	}
	stateDir, _ := filepath.Abs(l.stateDir)

	var found []localEntry
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == l.root {
				return err
			}
			log.Printf("[WARN] local provider %s: skipping %s: %v", l.id, p, err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if p == l.root {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || p == stateDir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if ebookFormat(rel, "") == "" {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			log.Printf("[WARN] local provider %s: skipping %s: %v", l.id, rel, err)
			return nil
		}

		e := localEntry{
			Path:     rel,
			Size:     info.Size(),
			ModTime:  info.ModTime().UTC().Truncate(time.Millisecond),
			Identity: fileIdentity(info),
		}
		if prev, ok := known[rel]; ok && prev.Size == e.Size && prev.ModTime.Equal(e.ModTime) {
			e.Hash = prev.Hash
		} else if e.Hash, err = fileops.ComputeFileHash(p); err != nil {
			log.Printf("[WARN] local provider %s: cannot hash %s: %v", l.id, rel, err)
			return nil
		}
		found = append(found, e)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", l.root, err)
	}

	var refEntries []localEntry
	if ref != nil {
		refEntries = ref.Entries
	}
	return assignIDs(refEntries, found), nil
}

// assignIDs gives each scanned file the id of the snapshot entry it
// continues, matching by path and identity, then identity alone, then path
// alone, then a content hash unique on both sides. Unmatched files get
// their path as id.
func assignIDs(ref, found []localEntry) []localEntry {
	used := make(map[string]bool, len(ref))
	taken := make(map[string]bool, len(ref)+len(found))
	for _, e := range ref {
		taken[e.ID] = true
	}
	ids := make([]string, len(found))

	claim := func(i int, e localEntry) {
		ids[i] = e.ID
		used[e.ID] = true
	}
	match := func(pred func(f, e localEntry) bool) {
		for i, f := range found {
			if ids[i] != "" {
				continue
			}
			for _, e := range ref {
				if !used[e.ID] && pred(f, e) {
					claim(i, e)
					break
				}
			}
		}
	}
	match(func(f, e localEntry) bool {
		return f.Path == e.Path && (f.Identity == 0 || e.Identity == 0 || f.Identity == e.Identity)
	})
	match(func(f, e localEntry) bool {
		return f.Identity != 0 && f.Identity == e.Identity
	})
	match(func(f, e localEntry) bool { return f.Path == e.Path })

	hashCount := make(map[string]int)
	for i, f := range found {
		if ids[i] == "" {
			hashCount[f.Hash]++
		}
	}
	refByHash := make(map[string][]localEntry)
	for _, e := range ref {
		if !used[e.ID] {
			refByHash[e.Hash] = append(refByHash[e.Hash], e)
		}
	}
	for i, f := range found {
		if ids[i] == "" && hashCount[f.Hash] == 1 && len(refByHash[f.Hash]) == 1 {
			claim(i, refByHash[f.Hash][0])
		}
	}

	out := make([]localEntry, len(found))
	for i, f := range found {
		e := f
		if ids[i] == "" {
			id := f.Path
			for n := 2; taken[id]; n++ {
				id = f.Path + "~" + strconv.Itoa(n)
			}
			ids[i] = id
		}
		taken[ids[i]] = true
		e.ID = ids[i]
		out[i] = e
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// diffSnapshots lists the changes from base to current, ordered by path
// with deletions last.
func diffSnapshots(base, current []localEntry, now time.Time) []Change {
	before := make(map[string]localEntry, len(base))
	for _, e := range base {
		before[e.ID] = e
	}
	var changes []Change
	seen := make(map[string]bool, len(current))
	sorted := append([]localEntry(nil), current...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	for _, e := range sorted {
		seen[e.ID] = true
		prev, existed := before[e.ID]
		var kind ChangeKind
		switch {
		case !existed:
			kind = ChangeCreated
		case prev.Path != e.Path:
			kind = ChangeMoved
		case prev.Hash != e.Hash:
			kind = ChangeUpdated
		default:
			continue
		}
		changes = append(changes, Change{
			RemoteID:         e.ID,
			Kind:             kind,
			ContentHash:      e.Hash,
			RemoteModifiedAt: e.ModTime,
			SizeBytes:        e.Size,
			Metadata: map[string]string{
				metadata.KeyPath:   e.Path,
				metadata.KeyFormat: ebookFormat(e.Path, ""),
			},
		})
	}
	var gone []string
	for id := range before {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	sort.Strings(gone)
	for _, id := range gone {
		changes = append(changes, Change{RemoteID: id, Kind: ChangeDeleted, RemoteModifiedAt: now})
	}
	return changes
}

func (l *LocalFolderAdapter) snapshotPath(gen int) string {
	return filepath.Join(l.stateDir, fmt.Sprintf("%s%08d.json", localSnapshotPrefix, gen))
}

func (l *LocalFolderAdapter) load(gen int) (*localSnapshot, error) {
	if l.latest != nil && l.latest.Generation == gen {
		return l.latest, nil
	}
	data, err := os.ReadFile(l.snapshotPath(gen))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: snapshot %d of %s is gone", ErrCursorExpired, gen, l.id)
		}
		return nil, fmt.Errorf("failed to read snapshot %d: %w", gen, err)
	}
	var snap localSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: snapshot %d of %s is unreadable: %v", ErrCursorExpired, gen, l.id, err)
	}
	return &snap, nil
}

// generations lists the stored generations, oldest first.
func (l *LocalFolderAdapter) generations() ([]int, error) {
	entries, err := os.ReadDir(l.stateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", l.stateDir, err)
	}
	var gens []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, localSnapshotPrefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, localSnapshotPrefix), ".json"))
		if err == nil {
			gens = append(gens, n)
		}
	}
	sort.Ints(gens)
	return gens, nil
}

func (l *LocalFolderAdapter) loadLatest() (*localSnapshot, error) {
	if l.latest != nil {
		return l.latest, nil
	}
	gens, err := l.generations()
	if err != nil || len(gens) == 0 {
		return nil, err
	}
	snap, err := l.load(gens[len(gens)-1])
	if err != nil {
		return nil, err
	}
	l.latest = snap
	return snap, nil
}

// save writes a generation and prunes all but the newest few.
func (l *LocalFolderAdapter) save(snap *localSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := fileops.WriteFileAtomic(l.snapshotPath(snap.Generation), data, 0o600); err != nil {
		return err
	}
	l.latest = snap

	gens, err := l.generations()
	if err != nil {
		return err
	}
	for len(gens) > localRetainedGens {
		if err := os.Remove(l.snapshotPath(gens[0])); err != nil && !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[WARN] local provider %s: failed to prune snapshot %d: %v", l.id, gens[0], err)
		}
		gens = gens[1:]
	}
	return nil
}

// FetchContent opens the file currently known under remoteID.
func (l *LocalFolderAdapter) FetchContent(ctx context.Context, remoteID string) (*Content, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	l.mu.Lock()
	snap, err := l.loadLatest()
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	rel := ""
	if snap != nil {
		for _, e := range snap.Entries {
			if e.ID == remoteID {
				rel = e.Path
				break
			}
		}
	}
	if rel == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, remoteID)
	}

	f, err := os.Open(filepath.Join(l.root, filepath.FromSlash(rel)))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
		}
		return nil, fmt.Errorf("failed to open %s: %w", rel, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", rel, err)
	}
	return &Content{
		Body: f,
		Size: info.Size(),
		Metadata: map[string]string{
			metadata.KeyPath:   rel,
			metadata.KeyFormat: ebookFormat(rel, ""),
		},
	}, nil
}
