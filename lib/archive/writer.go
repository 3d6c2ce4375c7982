// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/rattrap/lib/clock"
)

// DefaultProgressInterval is how often a build logs progress when
// BuildOptions.ProgressInterval is zero.
const DefaultProgressInterval = 5 * time.Second

// BuildOptions configures Build.
type BuildOptions struct {
	// SourceDir is the root of the tree to archive. Required.
	SourceDir string

	// Dest is the container path to create. Required. An existing
	// file at Dest is replaced only when the build succeeds.
	Dest string

	// ChunkSize is the fixed chunk length. Zero selects
	// DefaultChunkSize.
	ChunkSize int

	// Compressor is the preferred codec. Empty selects CodecZstd.
	Compressor Codec

	// CompressorLevel is the codec level. Zero selects the codec's
	// default.
	CompressorLevel int

	// Checksum selects the whole-file and archive checksum. Empty
	// selects ChecksumNone.
	Checksum ChecksumAlgorithm

	// Workers bounds the number of files processed concurrently.
	// Zero selects runtime.NumCPU().
	Workers int

	// FailFast aborts the build on the first unreadable source file
	// instead of skipping it.
	FailFast bool

	// Logger receives build progress. Nil discards.
	Logger *slog.Logger

	// Clock provides created_at, elapsed time, and the progress
	// ticker. Nil selects clock.Real().
	Clock clock.Clock

	// ProgressInterval is the period of progress log lines and
	// OnProgress calls. Zero selects DefaultProgressInterval;
	// negative disables periodic reporting.
	ProgressInterval time.Duration

	// OnProgress, if set, is called periodically and once when all
	// files are processed. Calls are serialized.
	OnProgress func(Progress)
}

// Progress is a build progress snapshot.
type Progress struct {
	FilesDone  int
	FilesTotal int
	BytesDone  int64
	BytesTotal int64
}

// BuildResult reports a successful build. A build that skipped
// unreadable files still succeeds; the skipped files are listed in
// Failures and are absent from the archive.
type BuildResult struct {
	Path            string
	FileCount       int64
	TotalBytes      int64
	Compressor      Codec
	CompressorLevel int
	ChunkSize       int64
	Elapsed         time.Duration

	// ChunkCount is the number of unique chunks stored.
	ChunkCount int64

	// StoredBytes is the total compressed size of stored chunks.
	StoredBytes int64

	// DedupHits counts chunks that resolved to an already-stored
	// chunk.
	DedupHits int64

	Metadata *Metadata
	Failures []*SourceReadError
}

// sourceFile is a file discovered by the walk.
type sourceFile struct {
	absolute string
	relative string
	size     int64
}

// Build archives opts.SourceDir into a new container at opts.Dest.
//
// Errors: a ContainerWriteError when the destination cannot be
// written, ctx.Err() when cancelled, or a SourceReadError when
// FailFast is set and a source file cannot be read. In every error
// case no container is left at Dest.
func Build(ctx context.Context, opts BuildOptions) (*BuildResult, error) {
	settings, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	logger := settings.Logger
	clk := settings.Clock

	// Normalized to the stored precision so the returned metadata
	// matches what ReadMetadata yields.
	start := fromUnixSeconds(unixSeconds(clk.Now()))

	files, failures, err := walkSource(settings.SourceDir, canonicalDest(settings.Dest), logger)
	if err != nil {
		return nil, err
	}
	if settings.FailFast && len(failures) > 0 {
		return nil, failures[0]
	}

	compressor, err := NewCompressor(settings.Compressor, settings.CompressorLevel)
	if err != nil {
		return nil, err
	}

	c, err := createContainer(ctx, settings.Dest, logger)
	if err != nil {
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			c.discard()
		}
	}()

	logger.Info("building archive",
		"source", settings.SourceDir,
		"dest", settings.Dest,
		"files", len(files),
		"chunk_size", settings.ChunkSize,
		"compressor", compressor.Codec(),
		"level", compressor.Level(),
		"checksum", settings.Checksum,
		"workers", settings.Workers,
	)

	b := &builder{
		container: c,
		chunks:    newChunkWriter(c, compressor),
		chunkSize: settings.ChunkSize,
		algorithm: settings.Checksum,
		failFast:  settings.FailFast,
		workers:   settings.Workers,
		logger:    logger,
		progress: Progress{
			FilesTotal: len(files),
			BytesTotal: totalSize(files),
		},
		onProgress: settings.OnProgress,
	}

	snapshot, buildFailures, err := b.run(ctx, files, clk, settings.ProgressInterval)
	if err != nil {
		return nil, err
	}
	failures = append(failures, buildFailures...)

	stats := b.chunks.Stats()
	metadata := sealMetadata(snapshot, sealSettings{
		compressor: compressor,
		chunkSize:  int64(settings.ChunkSize),
		algorithm:  settings.Checksum,
		chunks:     stats,
		createdAt:  start,
	}, clk.Now().Sub(start))

	if err := insertMetadata(ctx, c, metadata); err != nil {
		return nil, err
	}
	if err := c.commit(ctx); err != nil {
		return nil, err
	}
	committed = true

	sort.Slice(failures, func(i, j int) bool { return failures[i].Path < failures[j].Path })
	for _, failure := range failures {
		logger.Warn("skipped unreadable file", "path", failure.Path, "error", failure.Err)
	}
	logger.Info("archive built",
		"dest", settings.Dest,
		"files", metadata.FileCount,
		"total_bytes", metadata.TotalBytes,
		"chunks", stats.Count,
		"stored_bytes", stats.StoredBytes,
		"dedup_hits", stats.DedupHits,
		"skipped", len(failures),
		"elapsed", metadata.Elapsed(),
	)

	return &BuildResult{
		Path:            settings.Dest,
		FileCount:       metadata.FileCount,
		TotalBytes:      metadata.TotalBytes,
		Compressor:      metadata.Compressor,
		CompressorLevel: metadata.CompressorLevel,
		ChunkSize:       metadata.ChunkSize,
		Elapsed:         metadata.Elapsed(),
		ChunkCount:      stats.Count,
		StoredBytes:     stats.StoredBytes,
		DedupHits:       stats.DedupHits,
		Metadata:        metadata,
		Failures:        failures,
	}, nil
}

// resolve validates the options and fills defaults.
func (opts BuildOptions) resolve() (BuildOptions, error) {
	var errs []error
	if opts.SourceDir == "" {
		errs = append(errs, errors.New("source directory is required"))
	}
	if opts.Dest == "" {
		errs = append(errs, errors.New("destination container is required"))
	}
	if opts.ChunkSize == 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkSize < 0 || opts.ChunkSize > MaxChunkSize {
		errs = append(errs, fmt.Errorf("chunk size %d out of range (1..%d)", opts.ChunkSize, MaxChunkSize))
	}
	if opts.Compressor == "" {
		opts.Compressor = CodecZstd
	}
	if _, err := ParseCodec(string(opts.Compressor)); err != nil {
		errs = append(errs, err)
	} else if err := opts.Compressor.ValidateLevel(opts.CompressorLevel); err != nil {
		errs = append(errs, err)
	}
	algorithm, err := ParseChecksumAlgorithm(string(opts.Checksum))
	if err != nil {
		errs = append(errs, err)
	}
	opts.Checksum = algorithm
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.ProgressInterval == 0 {
		opts.ProgressInterval = DefaultProgressInterval
	}
	if len(errs) > 0 {
		return opts, errors.Join(errs...)
	}

	source, err := filepath.Abs(opts.SourceDir)
	if err != nil {
		return opts, fmt.Errorf("resolving source directory: %w", err)
	}
	// WalkDir does not descend into a symlinked root.
	source, err = filepath.EvalSymlinks(source)
	if err != nil {
		return opts, fmt.Errorf("source directory: %w", err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return opts, fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return opts, fmt.Errorf("source %s is not a directory", opts.SourceDir)
	}
	opts.SourceDir = source

	dest, err := filepath.Abs(opts.Dest)
	if err != nil {
		return opts, fmt.Errorf("resolving destination: %w", err)
	}
	opts.Dest = dest
	return opts, nil
}

// canonicalDest resolves symlinks in dest's directory so it compares
// equal to paths found under a resolved source root. A directory that
// cannot be resolved is left as is; createContainer reports it.
func canonicalDest(dest string) string {
	directory, err := filepath.EvalSymlinks(filepath.Dir(dest))
	if err != nil {
		return dest
	}
	return filepath.Join(directory, filepath.Base(dest))
}

// walkSource lists the regular files under root in path order.
// Entries that cannot be read become SourceReadErrors. Symlinks and
// special files are skipped, as are the destination container and
// its temporary files when they live inside the tree.
func walkSource(root, dest string, logger *slog.Logger) ([]sourceFile, []*SourceReadError, error) {
	var (
		files    []sourceFile
		failures []*SourceReadError
	)
	partialPrefix := "." + filepath.Base(dest) + ".partial-"
	destDir := filepath.Dir(dest)

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, walkErr error) error {
		relative, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		relative = filepath.ToSlash(relative)

		if walkErr != nil {
			if path == root {
				return walkErr
			}
			failures = append(failures, &SourceReadError{Path: relative, Err: walkErr})
			if entry != nil && entry.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if entry.IsDir() {
			return nil
		}
		if !entry.Type().IsRegular() {
			logger.Debug("skipping non-regular file", "path", relative, "type", entry.Type().String())
			return nil
		}
		if path == dest || (filepath.Dir(path) == destDir && strings.HasPrefix(entry.Name(), partialPrefix)) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			failures = append(failures, &SourceReadError{Path: relative, Err: err})
			return nil
		}
		files = append(files, sourceFile{absolute: path, relative: relative, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walking %s: %w", root, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].relative < files[j].relative })
	return files, failures, nil
}

func totalSize(files []sourceFile) int64 {
	var total int64
	for _, file := range files {
		total += file.size
	}
	return total
}

// builder holds the state shared by a build's workers.
type builder struct {
	container *container
	chunks    *chunkWriter
	chunkSize int
	algorithm ChecksumAlgorithm
	failFast  bool
	workers   int
	logger    *slog.Logger

	mu         sync.Mutex
	indexed    []fileChecksum
	totalBytes int64
	failures   []*SourceReadError
	progress   Progress

	progressMu sync.Mutex
	onProgress func(Progress)
}

// run processes files on the worker pool and returns the completed
// index snapshot. A fatal error cancels the remaining work.
func (b *builder) run(ctx context.Context, files []sourceFile, clk clock.Clock, interval time.Duration) (indexSnapshot, []*SourceReadError, error) {
	buildCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	jobs := make(chan sourceFile)

	var waitGroup sync.WaitGroup
	for range max(min(b.workers, len(files)), 1) {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			for file := range jobs {
				if err := b.processFile(buildCtx, file); err != nil {
					cancel(err)
					return
				}
			}
		}()
	}

	reporterDone := make(chan struct{})
	stopReporter := make(chan struct{})
	go func() {
		defer close(reporterDone)
		b.reportProgress(stopReporter, clk, interval)
	}()

feed:
	for _, file := range files {
		select {
		case jobs <- file:
		case <-buildCtx.Done():
			break feed
		}
	}
	close(jobs)
	waitGroup.Wait()
	close(stopReporter)
	<-reporterDone

	if err := ctx.Err(); err != nil {
		return indexSnapshot{}, nil, err
	}
	if cause := context.Cause(buildCtx); cause != nil {
		return indexSnapshot{}, nil, cause
	}

	b.mu.Lock()
	snapshot := indexSnapshot{files: b.indexed, totalBytes: b.totalBytes}
	failures := b.failures
	progress := b.progress
	b.mu.Unlock()

	b.emitProgress(progress)
	return snapshot, failures, nil
}

// processFile streams one file through the chunker and the chunk
// store, then writes its file entry. A SourceReadError is recorded and
// swallowed unless failFast is set; any other error is fatal to the
// build.
func (b *builder) processFile(ctx context.Context, file sourceFile) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry, err := b.chunkFile(ctx, file)
	if err != nil {
		var sourceErr *SourceReadError
		if errors.As(err, &sourceErr) && !b.failFast {
			b.mu.Lock()
			b.failures = append(b.failures, sourceErr)
			b.progress.FilesDone++
			b.progress.BytesDone += file.size
			b.mu.Unlock()
			return nil
		}
		return err
	}

	if err := insertFile(ctx, b.container, entry); err != nil {
		return err
	}

	b.mu.Lock()
	b.indexed = append(b.indexed, fileChecksum{path: entry.Path, checksum: entry.Checksum})
	b.totalBytes += entry.Size
	b.progress.FilesDone++
	b.progress.BytesDone += file.size
	b.mu.Unlock()

	b.logger.Debug("indexed file",
		"path", entry.Path,
		"size", entry.Size,
		"chunks", len(entry.ChunkIDs),
	)
	return nil
}

// chunkFile reads the file chunk by chunk, storing each chunk and
// accumulating the optional whole-file checksum in the same pass.
func (b *builder) chunkFile(ctx context.Context, file sourceFile) (*FileEntry, error) {
	source, err := os.Open(file.absolute)
	if err != nil {
		return nil, &SourceReadError{Path: file.relative, Err: err}
	}
	defer source.Close()

	chunker, err := NewChunker(source, b.chunkSize)
	if err != nil {
		return nil, err
	}

	var hasher hash.Hash
	if b.algorithm.Enabled() {
		hasher = b.algorithm.New()
	}

	entry := &FileEntry{Path: file.relative}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chunk, err := chunker.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &SourceReadError{Path: file.relative, Err: err}
		}

		id, err := b.chunks.FindOrInsert(ctx, chunk.Data)
		if err != nil {
			return nil, err
		}
		if hasher != nil {
			hasher.Write(chunk.Data)
		}
		entry.ChunkIDs = append(entry.ChunkIDs, id)
		entry.ChunkSizes = append(entry.ChunkSizes, int64(len(chunk.Data)))
		entry.Size += int64(len(chunk.Data))
	}

	if hasher != nil {
		entry.Checksum = hex.EncodeToString(hasher.Sum(nil))
	}
	return entry, nil
}

// reportProgress logs and emits progress every interval until stop is
// closed.
func (b *builder) reportProgress(stop <-chan struct{}, clk clock.Clock, interval time.Duration) {
	if interval < 0 {
		<-stop
		return
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			progress := b.progress
			b.mu.Unlock()

			b.logger.Info("build progress",
				"files_done", progress.FilesDone,
				"files_total", progress.FilesTotal,
				"bytes_done", progress.BytesDone,
				"bytes_total", progress.BytesTotal,
			)
			b.emitProgress(progress)
		}
	}
}

func (b *builder) emitProgress(progress Progress) {
	if b.onProgress == nil {
		return
	}
	b.progressMu.Lock()
	defer b.progressMu.Unlock()
	b.onProgress(progress)
}
