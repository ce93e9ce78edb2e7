// SPDX-License-Identifier: GPL-3.0-or-later

package mooring

import (
	"archive/tar"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
)

// ArchiveEntry describes one file to include in a build context archive.
type ArchiveEntry struct {
	// Path is the path of the entry relative to the context root,
	// using forward slashes.
	Path string

	// Mode contains the file mode bits.
	Mode fs.FileMode

	// Size is the content length in bytes. The archiver writes this
	// into the tar header before streaming the content, so it must
	// match the bytes the content source actually produces.
	Size int64

	// ModTime is the modification time.
	ModTime time.Time

	// Open returns the content source. It is invoked at most once,
	// when the archiver reaches this entry.
	Open func() (io.ReadCloser, error)
}

// EntrySource is a lazy sequence of [*ArchiveEntry] records.
//
// The archiver pulls one entry at a time and never assumes the whole
// tree fits in memory. Next returns [io.EOF] when the sequence ends.
type EntrySource interface {
	Next() (*ArchiveEntry, error)
}

// NewDirEntrySource returns an [EntrySource] lazily walking the
// directory tree rooted at root.
//
// Only regular files are emitted; directories are traversed and
// everything else (symlinks, devices, sockets) is skipped. The exclude
// argument, when non-nil, receives each slash-separated relative path
// and returns true to skip it (for a directory, the whole subtree);
// evaluating ignore rules into such a predicate is the caller's concern.
func NewDirEntrySource(root string, exclude func(relPath string) bool) EntrySource {
	return &dirEntrySource{
		exclude: exclude,
		queue:   []string{""},
		root:    root,
	}
}

// dirEntrySource walks a directory tree iteratively, expanding one
// directory at a time so that pending work stays proportional to the
// tree's width, not its total file count.
type dirEntrySource struct {
	// exclude is the optional exclusion predicate.
	exclude func(string) bool

	// queue holds relative paths not yet visited.
	queue []string

	// root is the directory being archived.
	root string
}

var _ EntrySource = &dirEntrySource{}

// Next implements [EntrySource].
func (src *dirEntrySource) Next() (*ArchiveEntry, error) {
	for len(src.queue) > 0 {
		relPath := src.queue[0]
		src.queue = src.queue[1:]
		if relPath != "" && src.exclude != nil && src.exclude(relPath) {
			continue
		}
		fullPath := filepath.Join(src.root, filepath.FromSlash(relPath))
		info, err := os.Lstat(fullPath)
		if err != nil {
			return nil, err
		}
		switch {
		case info.IsDir():
			names, err := readDirNames(fullPath)
			if err != nil {
				return nil, err
			}
			children := make([]string, 0, len(names))
			for _, name := range names {
				children = append(children, path.Join(relPath, name))
			}
			src.queue = append(children, src.queue...)

		case info.Mode().IsRegular():
			return &ArchiveEntry{
				Path:    relPath,
				Mode:    info.Mode(),
				Size:    info.Size(),
				ModTime: info.ModTime(),
				Open: func() (io.ReadCloser, error) {
					return os.Open(fullPath)
				},
			}, nil
		}
	}
	return nil, io.EOF
}

// readDirNames returns the sorted names of the entries in dir.
func readDirNames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// NewArchiveFunc returns a new [*ArchiveFunc].
//
// The cfg argument contains the common configuration for mooring operations.
//
// The compress argument selects streaming gzip compression of the tar
// output.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewArchiveFunc(cfg *Config, compress bool, logger SLogger) *ArchiveFunc {
	return &ArchiveFunc{
		Compress:      compress,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ArchiveFunc streams an [EntrySource] into a tar archive (optionally
// gzip-compressed) suitable as a [Request] body for a build-context
// upload.
//
// The output is produced with bounded memory: entries are pulled, and
// their content copied, only as fast as the returned reader is consumed.
// Wrap the result in a [ReaderBody] to upload it with chunked transfer
// encoding.
//
// If an entry's content length disagrees with its declared Size, the
// stream terminates with an [*ArchiveError]: the tar header was already
// written and cannot be corrected in a single streaming pass, so a hard
// error is the only alternative to a silently corrupt archive.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ArchiveFunc struct {
	// Compress selects streaming gzip compression.
	//
	// Set by [NewArchiveFunc] to the user-provided value.
	Compress bool

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewArchiveFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use (configurable for testing or custom logging).
	//
	// Set by [NewArchiveFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time (configurable for testing).
	//
	// Set by [NewArchiveFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[EntrySource, io.ReadCloser] = &ArchiveFunc{}

// Call starts streaming the entries into an archive and returns the
// reading end.
//
// Closing the returned reader before the end of the archive stops the
// streaming and releases the source. Errors from the source, from entry
// content, or from a size mismatch surface as the terminal error of the
// returned reader.
func (op *ArchiveFunc) Call(ctx context.Context, entries EntrySource) (io.ReadCloser, error) {
	pr, pw := io.Pipe()
	go op.run(ctx, entries, pw)
	return pr, nil
}

func (op *ArchiveFunc) run(ctx context.Context, entries EntrySource, pw *io.PipeWriter) {
	t0 := op.TimeNow()
	op.logBuildStart(t0)
	entryCount, byteCount, err := op.write(ctx, entries, pw)
	op.logBuildDone(t0, entryCount, byteCount, err)
	pw.CloseWithError(err)
}

func (op *ArchiveFunc) write(
	ctx context.Context, entries EntrySource, pw *io.PipeWriter) (int, int64, error) {
	// 1. Layer the writers: pipe ← gzip? ← tar
	var dst io.Writer = pw
	var gzw *gzip.Writer
	if op.Compress {
		gzw = gzip.NewWriter(pw)
		dst = gzw
	}
	tw := tar.NewWriter(dst)

	// 2. Stream one entry at a time
	entryCount := 0
	byteCount := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return entryCount, byteCount, err
		}
		entry, err := entries.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return entryCount, byteCount, err
		}
		written, err := op.writeEntry(tw, entry)
		byteCount += written
		if err != nil {
			return entryCount, byteCount, err
		}
		entryCount++
	}

	// 3. Terminate the archive (two zero blocks) and flush
	if err := tw.Close(); err != nil {
		return entryCount, byteCount, err
	}
	if gzw != nil {
		if err := gzw.Close(); err != nil {
			return entryCount, byteCount, err
		}
	}
	return entryCount, byteCount, nil
}

func (op *ArchiveFunc) writeEntry(tw *tar.Writer, entry *ArchiveEntry) (int64, error) {
	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     entry.Path,
		Mode:     int64(entry.Mode.Perm()),
		Size:     entry.Size,
		ModTime:  entry.ModTime,
	}
	if err := tw.WriteHeader(header); err != nil {
		return 0, err
	}
	content, err := entry.Open()
	if err != nil {
		return 0, err
	}
	defer content.Close()

	// Copy exactly the declared size, then probe the source for leftover
	// content: either direction of disagreement corrupts the archive.
	written, err := io.CopyN(tw, content, entry.Size)
	if err == io.EOF {
		return written, &ArchiveError{
			Path:     entry.Path,
			Declared: entry.Size,
			Actual:   written,
		}
	}
	if err != nil {
		return written, err
	}
	extra, err := io.Copy(io.Discard, content)
	if err != nil {
		return written, err
	}
	if extra > 0 {
		return written, &ArchiveError{
			Path:     entry.Path,
			Declared: entry.Size,
			Actual:   written + extra,
		}
	}
	return written, nil
}

func (op *ArchiveFunc) logBuildStart(t0 time.Time) {
	op.Logger.Info(
		"archiveBuildStart",
		slog.Bool("archiveCompress", op.Compress),
		slog.Time("t", t0),
	)
}

func (op *ArchiveFunc) logBuildDone(t0 time.Time, entryCount int, byteCount int64, err error) {
	op.Logger.Info(
		"archiveBuildDone",
		slog.Bool("archiveCompress", op.Compress),
		slog.Int("archiveEntries", entryCount),
		slog.Int64("archiveContentBytes", byteCount),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
