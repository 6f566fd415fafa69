package tools

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/djherbis/times"
	"github.com/hession/korah/internal/logger"
)

// readDirBatch is the number of entries read per directory listing call
const readDirBatch = 128

// FindFilesParams parameters of the find_files tool
type FindFilesParams struct {
	InDirectory     string     `json:"in_directory" jsonschema_description:"Directory to search in. ~ and environment variables are expanded."`
	IsDirectory     *bool      `json:"is_directory,omitempty"`
	IsSymlink       *bool      `json:"is_symlink,omitempty"`
	MinSize         *int64     `json:"min_size,omitempty" jsonschema_description:"In bytes"`
	MaxSize         *int64     `json:"max_size,omitempty" jsonschema_description:"In bytes"`
	MinTimeCreated  *NaiveTime `json:"min_time_created,omitempty" jsonschema_description:"Optional ISO 8601 w/o timezone"`
	MaxTimeCreated  *NaiveTime `json:"max_time_created,omitempty" jsonschema_description:"Optional ISO 8601 w/o timezone"`
	MinTimeModified *NaiveTime `json:"min_time_modified,omitempty" jsonschema_description:"Optional ISO 8601 w/o timezone"`
	MaxTimeModified *NaiveTime `json:"max_time_modified,omitempty" jsonschema_description:"Optional ISO 8601 w/o timezone"`
	NameRegex       *string    `json:"name_regex,omitempty" jsonschema_description:"Optional, RE2-compatible."`
}

// FindFilesOutput a matching file system entry
type FindFilesOutput struct {
	Path string `json:"path"`
}

// FindFiles finds files on the local file system
type FindFiles struct{}

// NewFindFiles creates a FindFiles tool
func NewFindFiles() *FindFiles {
	return &FindFiles{}
}

func (f *FindFiles) Name() string { return "find_files" }

func (f *FindFiles) Description() string {
	return "Recursively finds files and directories matching the given filters"
}

// Call validates the directory and filters, then returns a lazy depth-first
// traversal. Symlinked directories are listed but never descended into.
func (f *FindFiles) Call(ctx context.Context, params FindFilesParams) (iter.Seq[FindFilesOutput], error) {
	dir, err := ExpandPath(params.InDirectory)
	if err != nil {
		return nil, newError(CodePath, "failed to expand in_directory", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, newError(CodeIO, "failed to read "+dir, err)
	}
	if !info.IsDir() {
		return nil, newError(CodePath, dir+" is not a directory", nil)
	}

	filter, err := newFileFilter(params)
	if err != nil {
		return nil, err
	}

	return func(yield func(FindFilesOutput) bool) {
		w := &fileWalker{filter: filter}
		defer w.close()

		if err := w.push(dir); err != nil {
			logger.Warn().Err(err).Str("path", dir).Msg("failed to read dir")
			return
		}

		for {
			if ctx.Err() != nil {
				return
			}
			path, ok := w.next()
			if !ok {
				return
			}
			if path == "" {
				continue
			}
			if !yield(FindFilesOutput{Path: path}) {
				return
			}
		}
	}, nil
}

// dirCursor is an open directory being listed in batches
type dirCursor struct {
	dir   *os.File
	path  string
	batch []fs.DirEntry
	done  bool
}

// fileWalker is a depth-first traversal over an explicit stack of cursors
type fileWalker struct {
	filter *fileFilter
	stack  []*dirCursor
}

func (w *fileWalker) push(path string) error {
	dir, err := os.Open(path)
	if err != nil {
		return err
	}
	w.stack = append(w.stack, &dirCursor{dir: dir, path: path})
	return nil
}

func (w *fileWalker) pop() {
	top := w.stack[len(w.stack)-1]
	top.dir.Close()
	w.stack = w.stack[:len(w.stack)-1]
}

func (w *fileWalker) close() {
	for len(w.stack) > 0 {
		w.pop()
	}
}

// next processes a single directory entry. It returns the entry path when it
// matches, "" when it does not, and false once the traversal is exhausted.
func (w *fileWalker) next() (string, bool) {
	for {
		if len(w.stack) == 0 {
			return "", false
		}
		top := w.stack[len(w.stack)-1]

		if len(top.batch) == 0 {
			if top.done {
				w.pop()
				continue
			}
			entries, err := top.dir.ReadDir(readDirBatch)
			if err != nil {
				top.done = true
				if !errors.Is(err, io.EOF) {
					logger.Warn().Err(err).Str("path", top.path).Msg("failed to read dir entry")
				}
			}
			top.batch = entries
			continue
		}

		entry := top.batch[0]
		top.batch = top.batch[1:]
		return w.visit(top.path, entry), true
	}
}

func (w *fileWalker) visit(parent string, entry fs.DirEntry) string {
	path := filepath.Join(parent, entry.Name())

	// DirEntry.Info does not follow symlinks
	info, err := entry.Info()
	if err != nil {
		logger.Warn().Err(err).Str("path", path).Msg("failed to read meta")
		return ""
	}

	if info.IsDir() {
		if err := w.push(path); err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to read dir")
		}
	}

	if w.filter.matches(path, entry.Name(), info) {
		return path
	}
	return ""
}

type timeBounds struct {
	min, max *time.Time
}

func newTimeBounds(lo, hi *NaiveTime) timeBounds {
	var b timeBounds
	if lo != nil {
		t := lo.Time()
		b.min = &t
	}
	if hi != nil {
		t := hi.Time()
		b.max = &t
	}
	return b
}

func (b timeBounds) set() bool { return b.min != nil || b.max != nil }

func (b timeBounds) contains(t time.Time) bool {
	if b.min != nil && t.Before(*b.min) {
		return false
	}
	if b.max != nil && t.After(*b.max) {
		return false
	}
	return true
}

// fileFilter is the precompiled form of FindFilesParams
type fileFilter struct {
	isDirectory *bool
	isSymlink   *bool
	minSize     *int64
	maxSize     *int64
	created     timeBounds
	modified    timeBounds
	nameRegex   *regexp.Regexp
}

func newFileFilter(params FindFilesParams) (*fileFilter, error) {
	f := &fileFilter{
		isDirectory: params.IsDirectory,
		isSymlink:   params.IsSymlink,
		minSize:     params.MinSize,
		maxSize:     params.MaxSize,
		created:     newTimeBounds(params.MinTimeCreated, params.MaxTimeCreated),
		modified:    newTimeBounds(params.MinTimeModified, params.MaxTimeModified),
	}

	if f.minSize != nil && f.maxSize != nil && *f.minSize > *f.maxSize {
		return nil, newError(CodeInconsistentParams, "min_size is greater than max_size", nil)
	}
	for _, b := range []timeBounds{f.created, f.modified} {
		if b.min != nil && b.max != nil && b.min.After(*b.max) {
			return nil, newError(CodeInconsistentParams, "min time is after max time", nil)
		}
	}

	if params.NameRegex != nil {
		re, err := regexp.Compile(*params.NameRegex)
		if err != nil {
			return nil, newError(CodeRegex, "failed to parse regex", err)
		}
		f.nameRegex = re
	}
	return f, nil
}

// needsTarget reports whether a filter reads metadata a symlink delegates to its target
func (f *fileFilter) needsTarget() bool {
	return f.isDirectory != nil || f.minSize != nil || f.maxSize != nil || f.created.set() || f.modified.set()
}

func (f *fileFilter) matches(path, name string, info fs.FileInfo) bool {
	isSymlink := info.Mode()&fs.ModeSymlink != 0
	if f.isSymlink != nil && isSymlink != *f.isSymlink {
		return false
	}

	if f.nameRegex != nil && !f.nameRegex.MatchString(name) {
		return false
	}

	stat := times.Lstat
	if isSymlink && f.needsTarget() {
		target, err := os.Stat(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to resolve symlink")
			return false
		}
		info = target
		stat = times.Stat
	}

	if f.isDirectory != nil && info.IsDir() != *f.isDirectory {
		return false
	}
	if f.minSize != nil && info.Size() < *f.minSize {
		return false
	}
	if f.maxSize != nil && info.Size() > *f.maxSize {
		return false
	}

	if f.created.set() {
		ts, err := stat(path)
		if err != nil {
			logger.Warn().Err(err).Str("path", path).Msg("failed to get created time")
			return false
		}
		if !ts.HasBirthTime() {
			logger.Warn().Str("path", path).Msg("created time is not available")
			return false
		}
		if !f.created.contains(ts.BirthTime()) {
			return false
		}
	}

	if f.modified.set() && !f.modified.contains(info.ModTime()) {
		return false
	}

	return true
}
