package peerexec

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/G-Research/maestro/internal/common/maestroerrors"
	"github.com/G-Research/maestro/pkg/note"
)

const (
	testsDir           = "tests"
	lastLink           = "last"
	lastSuccessfulLink = "lastSuccessful"
	lastFailedLink     = "lastFailed"

	hashCacheSize = 1024
)

// LogDirectory lays out the logs of a peer:
//
//	<base>/tests/<n>        one directory per run
//	<base>/last             link to the most recent run
//	<base>/lastSuccessful   link to the most recent successful run
//	<base>/lastFailed       link to the most recent failed run
type LogDirectory struct {
	base   string
	mu     sync.Mutex
	hashes *lru.Cache
}

// LogFile is one file of a run directory.
type LogFile struct {
	Name    string
	Path    string
	Size    int64
	ModTime time.Time
}

func NewLogDirectory(base string) (*LogDirectory, error) {
	if err := os.MkdirAll(filepath.Join(base, testsDir), 0o755); err != nil {
		return nil, errors.WithStack(err)
	}
	hashes, err := lru.New(hashCacheSize)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &LogDirectory{base: base, hashes: hashes}, nil
}

func (d *LogDirectory) Base() string {
	return d.base
}

// NewRunDirectory creates the directory of the next run and points `last` at it.
func (d *LogDirectory) NewRunDirectory() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entries, err := os.ReadDir(filepath.Join(d.base, testsDir))
	if err != nil {
		return "", errors.WithStack(err)
	}
	next := 0
	for _, entry := range entries {
		if n, err := strconv.Atoi(entry.Name()); err == nil && n >= next {
			next = n + 1
		}
	}
	dir := filepath.Join(d.base, testsDir, strconv.Itoa(next))
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", errors.WithStack(err)
	}
	return dir, d.link(lastLink, dir)
}

// MarkResult points `lastSuccessful` or `lastFailed` at dir.
func (d *LogDirectory) MarkResult(dir string, success bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if success {
		return d.link(lastSuccessfulLink, dir)
	}
	return d.link(lastFailedLink, dir)
}

// link replaces the link atomically so readers never observe it missing.
func (d *LogDirectory) link(name string, dir string) error {
	target, err := filepath.Rel(d.base, dir)
	if err != nil {
		return errors.WithStack(err)
	}
	tmp := filepath.Join(d.base, fmt.Sprintf(".%s-%d", name, time.Now().UnixNano()))
	if err := os.Symlink(target, tmp); err != nil {
		return errors.WithStack(err)
	}
	if err := os.Rename(tmp, filepath.Join(d.base, name)); err != nil {
		_ = os.Remove(tmp)
		return errors.WithStack(err)
	}
	return nil
}

// Resolve returns the run directory a location refers to. LocationAny is the most recent run.
func (d *LogDirectory) Resolve(location note.LocationType) (string, error) {
	switch location {
	case note.LocationLastSuccessful:
		return d.ResolveName(lastSuccessfulLink)
	case note.LocationLastFailed:
		return d.ResolveName(lastFailedLink)
	default:
		return d.ResolveName(lastLink)
	}
}

// ResolveName resolves a location by name: last, lastSuccessful, lastFailed or tests-<n>.
func (d *LogDirectory) ResolveName(name string) (string, error) {
	var path string
	switch {
	case name == lastLink || name == lastSuccessfulLink || name == lastFailedLink:
		target, err := os.Readlink(filepath.Join(d.base, name))
		if err != nil {
			if os.IsNotExist(err) {
				return "", errors.WithStack(&maestroerrors.ErrNotFound{Type: "location", Value: name})
			}
			return "", errors.WithStack(err)
		}
		path = filepath.Join(d.base, target)
	case strings.HasPrefix(name, testsDir+"-"):
		n, err := strconv.Atoi(strings.TrimPrefix(name, testsDir+"-"))
		if err != nil || n < 0 {
			return "", errors.WithStack(&maestroerrors.ErrInvalidArgument{Name: "location", Value: name})
		}
		path = filepath.Join(d.base, testsDir, strconv.Itoa(n))
	default:
		return "", errors.WithStack(&maestroerrors.ErrInvalidArgument{
			Name:    "location",
			Value:   name,
			Message: "expected last, lastSuccessful, lastFailed or tests-<n>",
		})
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", errors.WithStack(&maestroerrors.ErrNotFound{Type: "location", Value: name})
		}
		return "", errors.WithStack(err)
	}
	return path, nil
}

// Files lists the regular files of dir sorted by name. A non-empty extension, with or without
// the leading dot, restricts the listing to files having it.
func (d *LogDirectory) Files(dir string, extension string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if extension != "" && !strings.HasPrefix(extension, ".") {
		extension = "." + extension
	}
	var files []LogFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if extension != "" && filepath.Ext(entry.Name()) != extension {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		files = append(files, LogFile{
			Name:    entry.Name(),
			Path:    filepath.Join(dir, entry.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Hash returns the hex encoded SHA-256 of the file. Hashes are cached until the file changes.
func (d *LogDirectory) Hash(file LogFile) (string, error) {
	key := fmt.Sprintf("%s:%d:%d", file.Path, file.Size, file.ModTime.UnixNano())
	if hash, ok := d.hashes.Get(key); ok {
		return hash.(string), nil
	}
	f, err := os.Open(file.Path)
	if err != nil {
		return "", errors.WithStack(err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", errors.WithStack(err)
	}
	hash := hex.EncodeToString(h.Sum(nil))
	d.hashes.Add(key, hash)
	return hash, nil
}
