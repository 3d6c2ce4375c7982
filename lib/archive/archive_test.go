// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/rattrap/lib/archive"
	"github.com/bureau-foundation/rattrap/lib/clock"
	"github.com/bureau-foundation/rattrap/lib/testutil"
)

// buildTree writes files into a fresh source directory and archives
// it with opts. SourceDir and Dest are filled in when empty.
func buildTree(t *testing.T, files map[string][]byte, opts archive.BuildOptions) (string, *archive.BuildResult) {
	t.Helper()
	if opts.SourceDir == "" {
		opts.SourceDir = filepath.Join(t.TempDir(), "source")
		if err := os.MkdirAll(opts.SourceDir, 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		testutil.WriteTree(t, opts.SourceDir, files)
	}
	if opts.Dest == "" {
		opts.Dest = filepath.Join(t.TempDir(), "test.rat")
	}
	result, err := archive.Build(context.Background(), opts)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return opts.Dest, result
}

func openArchive(t *testing.T, path string) *archive.Archive {
	t.Helper()
	opened, err := archive.Open(context.Background(), path, archive.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := opened.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return opened
}

func sampleTree() map[string][]byte {
	return map[string][]byte{
		"readme.md":             []byte("# sample\n"),
		"empty.bin":             {},
		"docs/Guide.TXT":        testutil.Repeated("chapter ", 300_000),
		"docs/nested/deep.dat":  testutil.PseudoRandom(1, 700_000),
		"media/photo.raw":       testutil.PseudoRandom(2, 2*archive.DefaultChunkSize),
		"media/photo-copy.raw":  testutil.PseudoRandom(2, 2*archive.DefaultChunkSize),
		"unicode/Ünïcödé.txt":   []byte("grüße"),
		"unicode/日本語/ファイル.txt": []byte("こんにちは"),
	}
}

func TestRoundTripAllCodecs(t *testing.T) {
	tree := sampleTree()
	for _, codec := range archive.Codecs {
		for _, algorithm := range []archive.ChecksumAlgorithm{archive.ChecksumNone, archive.ChecksumSHA256, archive.ChecksumBLAKE3} {
			t.Run(string(codec)+"/"+string(algorithm), func(t *testing.T) {
				path, result := buildTree(t, tree, archive.BuildOptions{
					Compressor: codec,
					Checksum:   algorithm,
					Workers:    3,
				})
				if len(result.Failures) != 0 {
					t.Fatalf("unexpected failures: %v", result.Failures)
				}
				if result.FileCount != int64(len(tree)) {
					t.Errorf("FileCount = %d, want %d", result.FileCount, len(tree))
				}

				destination := filepath.Join(t.TempDir(), "out")
				extracted, err := archive.Extract(context.Background(), path, destination, archive.ExtractOptions{})
				if err != nil {
					t.Fatalf("Extract: %v", err)
				}
				if len(extracted.Failures) != 0 {
					t.Fatalf("extract failures: %v", extracted.Failures)
				}
				testutil.RequireSameTree(t, testutil.ReadTree(t, destination), tree)
			})
		}
	}
}

func TestDedupIdenticalSmallFiles(t *testing.T) {
	path, result := buildTree(t, map[string][]byte{
		"a.txt": []byte("helloworld"),
		"b.txt": []byte("helloworld"),
	}, archive.BuildOptions{ChunkSize: 1024})

	if result.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", result.ChunkCount)
	}
	if result.TotalBytes != 20 {
		t.Errorf("TotalBytes = %d, want 20", result.TotalBytes)
	}
	if result.DedupHits != 1 {
		t.Errorf("DedupHits = %d, want 1", result.DedupHits)
	}

	opened := openArchive(t, path)
	a, err := opened.Stat(context.Background(), "a.txt")
	if err != nil {
		t.Fatalf("Stat a.txt: %v", err)
	}
	b, err := opened.Stat(context.Background(), "b.txt")
	if err != nil {
		t.Fatalf("Stat b.txt: %v", err)
	}
	if len(a.ChunkIDs) != 1 || len(b.ChunkIDs) != 1 || a.ChunkIDs[0] != b.ChunkIDs[0] {
		t.Errorf("chunk ids a=%v b=%v, want one shared id", a.ChunkIDs, b.ChunkIDs)
	}
	if opened.Metadata().ChunkCount != 1 {
		t.Errorf("metadata chunk_count = %d, want 1", opened.Metadata().ChunkCount)
	}
}

func TestDedupAcrossAndWithinFiles(t *testing.T) {
	block := testutil.PseudoRandom(9, 4096)
	repeated := bytes.Repeat(block, 4)
	path, result := buildTree(t, map[string][]byte{
		"one.bin": repeated,
		"two.bin": block,
	}, archive.BuildOptions{ChunkSize: 4096, Compressor: archive.CodecLZ4})

	if result.ChunkCount != 1 {
		t.Errorf("ChunkCount = %d, want 1", result.ChunkCount)
	}
	opened := openArchive(t, path)
	plan, err := opened.ChunkPlan(context.Background(), "one.bin")
	if err != nil {
		t.Fatalf("ChunkPlan: %v", err)
	}
	if len(plan.Chunks) != 4 {
		t.Fatalf("plan has %d chunks, want 4", len(plan.Chunks))
	}
	for index, chunk := range plan.Chunks {
		if chunk.ChunkID != plan.Chunks[0].ChunkID {
			t.Errorf("chunk %d id %d, want %d", index, chunk.ChunkID, plan.Chunks[0].ChunkID)
		}
		if chunk.Offset != int64(index*4096) {
			t.Errorf("chunk %d offset %d, want %d", index, chunk.Offset, index*4096)
		}
		if chunk.Digest != archive.DigestChunk(block) {
			t.Errorf("chunk %d digest %s, want digest of the repeated block", index, chunk.Digest)
		}
	}
}

func TestRangeReadSpansChunks(t *testing.T) {
	const chunkSize = 512 * 1024
	// 1.5 MiB: exactly three chunks.
	content := testutil.PseudoRandom(3, 1536*1024)

	path, _ := buildTree(t, map[string][]byte{"big.bin": content}, archive.BuildOptions{ChunkSize: chunkSize})
	opened := openArchive(t, path)

	plan, err := opened.ChunkPlan(context.Background(), "big.bin")
	if err != nil {
		t.Fatalf("ChunkPlan: %v", err)
	}
	if len(plan.Chunks) != 3 {
		t.Fatalf("plan has %d chunks, want 3", len(plan.Chunks))
	}
	if last := plan.Chunks[2].RawLength; last != chunkSize {
		t.Errorf("last chunk raw length %d, want %d", last, chunkSize)
	}

	got, err := opened.ReadRange(context.Background(), "big.bin", 500_000, 600_000)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(got) != 100_000 {
		t.Fatalf("ReadRange returned %d bytes, want 100000", len(got))
	}
	if !bytes.Equal(got, content[500_000:600_000]) {
		t.Error("ReadRange content mismatch")
	}
}

func TestRangeReadEquivalence(t *testing.T) {
	content := testutil.PseudoRandom(4, 10_000)
	path, _ := buildTree(t, map[string][]byte{"f": content}, archive.BuildOptions{ChunkSize: 1000})
	opened := openArchive(t, path)
	size := int64(len(content))

	tests := []struct {
		start, end int64
	}{
		{0, 0},
		{0, 1},
		{0, size},
		{999, 1001},
		{1000, 2000},
		{1500, 1501},
		{2999, 7001},
		{size - 1, size},
		{size, size},
	}
	for _, test := range tests {
		got, err := opened.ReadRange(context.Background(), "f", test.start, test.end)
		if err != nil {
			t.Fatalf("ReadRange(%d, %d): %v", test.start, test.end, err)
		}
		if !bytes.Equal(got, content[test.start:test.end]) {
			t.Errorf("ReadRange(%d, %d) mismatch", test.start, test.end)
		}
	}
}

func TestRangeReadErrors(t *testing.T) {
	content := []byte("0123456789")
	path, _ := buildTree(t, map[string][]byte{"digits": content}, archive.BuildOptions{ChunkSize: 4})
	opened := openArchive(t, path)
	ctx := context.Background()

	if _, err := opened.ReadRange(ctx, "missing", 0, 1); !archive.IsNotFound(err) {
		t.Errorf("missing file error = %v, want FileNotFoundError", err)
	}
	if _, err := opened.ReadRange(ctx, "digits", 5, 4); !archive.IsRangeError(err) {
		t.Errorf("start > end error = %v, want RangeError", err)
	}
	if _, err := opened.ReadRange(ctx, "digits", 11, 12); !archive.IsRangeError(err) {
		t.Errorf("start > size error = %v, want RangeError", err)
	}

	// End past the file is clamped.
	got, err := opened.ReadRange(ctx, "digits", 7, 100)
	if err != nil {
		t.Fatalf("clamped ReadRange: %v", err)
	}
	if string(got) != "789" {
		t.Errorf("clamped ReadRange = %q, want %q", got, "789")
	}
}

func TestFileReaderSeekAndReadAt(t *testing.T) {
	content := testutil.PseudoRandom(5, 5000)
	path, _ := buildTree(t, map[string][]byte{"f": content}, archive.BuildOptions{ChunkSize: 512})
	opened := openArchive(t, path)

	file, err := opened.OpenFile(context.Background(), "f")
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if file.Size() != int64(len(content)) {
		t.Errorf("Size = %d, want %d", file.Size(), len(content))
	}

	if _, err := file.Seek(-100, 2); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	tail := make([]byte, 200)
	n, err := file.Read(tail)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != 100 || !bytes.Equal(tail[:n], content[len(content)-100:]) {
		t.Errorf("Read after SeekEnd returned %d bytes", n)
	}

	buffer := make([]byte, 1500)
	n, err = file.ReadAt(buffer, 1000)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != 1500 || !bytes.Equal(buffer, content[1000:2500]) {
		t.Error("ReadAt content mismatch")
	}

	var streamed bytes.Buffer
	if _, err := file.Seek(0, 0); err != nil {
		t.Fatalf("Seek start: %v", err)
	}
	if _, err := streamed.ReadFrom(file); err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if !bytes.Equal(streamed.Bytes(), content) {
		t.Error("sequential read mismatch")
	}
}

func TestListFilesSearch(t *testing.T) {
	path, _ := buildTree(t, sampleTree(), archive.BuildOptions{})
	ctx := context.Background()

	all, err := archive.ListFiles(ctx, path, "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(all) != len(sampleTree()) {
		t.Fatalf("listed %d files, want %d", len(all), len(sampleTree()))
	}
	for index := 1; index < len(all); index++ {
		if all[index-1].Path >= all[index].Path {
			t.Errorf("listing not sorted: %q before %q", all[index-1].Path, all[index].Path)
		}
	}

	tests := []struct {
		query string
		want  []string
	}{
		{"guide", []string{"docs/Guide.TXT"}},
		{".txt", []string{"docs/Guide.TXT", "unicode/Ünïcödé.txt", "unicode/日本語/ファイル.txt"}},
		{"üNÏ", []string{"unicode/Ünïcödé.txt"}},
		{"PHOTO", []string{"media/photo-copy.raw", "media/photo.raw"}},
		{"nothing-matches", nil},
	}
	for _, test := range tests {
		summaries, err := archive.ListFiles(ctx, path, test.query)
		if err != nil {
			t.Fatalf("ListFiles(%q): %v", test.query, err)
		}
		var got []string
		for _, summary := range summaries {
			got = append(got, summary.Path)
		}
		if strings.Join(got, ",") != strings.Join(test.want, ",") {
			t.Errorf("ListFiles(%q) = %v, want %v", test.query, got, test.want)
		}
	}

	for _, summary := range all {
		if summary.Path == "media/photo.raw" && summary.ChunkCount != 2 {
			t.Errorf("photo.raw chunk count = %d, want 2", summary.ChunkCount)
		}
		if summary.Path == "empty.bin" && (summary.ChunkCount != 0 || summary.Size != 0) {
			t.Errorf("empty.bin = %+v", summary)
		}
	}
}

func TestMetadataRecordsBuild(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 9, 26, 500_000_000, time.UTC)
	fake := clock.Fake(start)
	path, result := buildTree(t, map[string][]byte{"x": []byte("x")}, archive.BuildOptions{
		Clock:           fake,
		Compressor:      archive.CodecZlib,
		CompressorLevel: 9,
		Checksum:        archive.ChecksumBLAKE2b,
		ChunkSize:       64 * 1024,
	})

	metadata, err := archive.ReadMetadata(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if metadata.Format != archive.FormatTag {
		t.Errorf("Format = %q", metadata.Format)
	}
	if metadata.Compressor != archive.CodecZlib || metadata.CompressorLevel != 9 {
		t.Errorf("compressor = %s/%d", metadata.Compressor, metadata.CompressorLevel)
	}
	if metadata.ChunkSize != 64*1024 {
		t.Errorf("ChunkSize = %d", metadata.ChunkSize)
	}
	if metadata.ChecksumAlgorithm != archive.ChecksumBLAKE2b || metadata.Checksum == "" {
		t.Errorf("checksum = %s/%q", metadata.ChecksumAlgorithm, metadata.Checksum)
	}
	if !metadata.CreatedAt.Equal(start) {
		t.Errorf("CreatedAt = %v, want %v", metadata.CreatedAt, start)
	}
	// The fake clock never moved.
	if metadata.ElapsedSeconds != 0 || result.Elapsed != 0 {
		t.Errorf("elapsed = %v / %v, want 0", metadata.ElapsedSeconds, result.Elapsed)
	}
	if metadata.FileCount != 1 || metadata.TotalBytes != 1 {
		t.Errorf("counts = %d files / %d bytes", metadata.FileCount, metadata.TotalBytes)
	}
}

func TestEmptySourceTree(t *testing.T) {
	path, result := buildTree(t, nil, archive.BuildOptions{Checksum: archive.ChecksumSHA256})
	if result.FileCount != 0 || result.TotalBytes != 0 || result.ChunkCount != 0 {
		t.Errorf("result = %+v", result)
	}
	opened := openArchive(t, path)
	files, err := opened.ListFiles(context.Background(), "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("listed %d files in empty archive", len(files))
	}
	report, err := opened.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.OK() {
		t.Errorf("empty archive problems: %v", report.Problems)
	}
}

func TestReopenIsStable(t *testing.T) {
	path, _ := buildTree(t, sampleTree(), archive.BuildOptions{ChunkSize: 100_000})
	ctx := context.Background()

	var listings [2][]archive.FileSummary
	var reads [2][]byte
	for attempt := range 2 {
		opened, err := archive.Open(ctx, path, archive.OpenOptions{})
		if err != nil {
			t.Fatalf("Open #%d: %v", attempt, err)
		}
		listings[attempt], err = opened.ListFiles(ctx, "")
		if err != nil {
			t.Fatalf("ListFiles #%d: %v", attempt, err)
		}
		reads[attempt], err = opened.ReadRange(ctx, "docs/nested/deep.dat", 123_456, 345_678)
		if err != nil {
			t.Fatalf("ReadRange #%d: %v", attempt, err)
		}
		if err := opened.Close(); err != nil {
			t.Fatalf("Close #%d: %v", attempt, err)
		}
	}
	if len(listings[0]) != len(listings[1]) {
		t.Fatal("listing changed between opens")
	}
	for index := range listings[0] {
		if listings[0][index] != listings[1][index] {
			t.Errorf("listing entry %d changed: %+v vs %+v", index, listings[0][index], listings[1][index])
		}
	}
	if !bytes.Equal(reads[0], reads[1]) {
		t.Error("range read changed between opens")
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if _, err := os.Stat(path + suffix); err == nil {
			t.Errorf("reader left %s behind", path+suffix)
		}
	}
}

// corruptChunk overwrites one byte of the stored data of the chunk
// that holds the first byte of file.
func corruptChunk(t *testing.T, path, file string) int64 {
	t.Helper()
	opened, err := archive.Open(context.Background(), path, archive.OpenOptions{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entry, err := opened.Stat(context.Background(), file)
	opened.Close()
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	id := entry.ChunkIDs[0]

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	defer conn.Close()
	err = sqlitex.Execute(conn,
		`UPDATE chunks SET data = CAST(
			substr(data, 1, 9) ||
			CASE WHEN substr(data, 10, 1) = X'A5' THEN X'5A' ELSE X'A5' END ||
			substr(data, 11) AS BLOB) WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{id}})
	if err != nil {
		t.Fatalf("corrupting chunk: %v", err)
	}
	return id
}

func TestCorruptionIsDetected(t *testing.T) {
	for _, codec := range archive.Codecs {
		t.Run(string(codec), func(t *testing.T) {
			content := testutil.Repeated("corruption canary ", 8192)
			path, _ := buildTree(t, map[string][]byte{"canary.txt": content}, archive.BuildOptions{
				Compressor: codec,
				ChunkSize:  4096,
			})
			corruptChunk(t, path, "canary.txt")

			opened := openArchive(t, path)
			got, err := opened.ReadRange(context.Background(), "canary.txt", 0, 100)
			if err == nil {
				if bytes.Equal(got, content[:100]) {
					t.Fatal("corruption had no effect")
				}
				t.Fatal("corrupt chunk returned wrong bytes without error")
			}
			var corrupt *archive.CorruptChunkError
			if !errors.As(err, &corrupt) {
				t.Fatalf("error = %v, want CorruptChunkError", err)
			}

			report, err := opened.Verify(context.Background())
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if report.OK() {
				t.Error("Verify found no problems in a corrupt archive")
			}
		})
	}
}

func TestExtractReportsCorruptFilesAndContinues(t *testing.T) {
	tree := map[string][]byte{
		"bad.txt":  testutil.Repeated("bad ", 4096),
		"good.txt": testutil.Repeated("good ", 4096),
	}
	path, _ := buildTree(t, tree, archive.BuildOptions{ChunkSize: 4096, Checksum: archive.ChecksumSHA256})
	corruptChunk(t, path, "bad.txt")

	destination := t.TempDir()
	result, err := archive.Extract(context.Background(), path, destination, archive.ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if result.FilesWritten != 1 {
		t.Errorf("FilesWritten = %d, want 1", result.FilesWritten)
	}
	if len(result.Failures) != 1 || result.Failures[0].Path != "bad.txt" {
		t.Fatalf("Failures = %v, want bad.txt", result.Failures)
	}
	if !archive.IsCorrupt(result.Failures[0].Err) {
		t.Errorf("failure error = %v, want integrity error", result.Failures[0].Err)
	}
	if _, err := os.Stat(filepath.Join(destination, "bad.txt")); !os.IsNotExist(err) {
		t.Errorf("bad.txt was written despite failing: %v", err)
	}
	testutil.RequireSameTree(t, testutil.ReadTree(t, destination), map[string][]byte{"good.txt": tree["good.txt"]})
}

func TestExtractChecksumMismatch(t *testing.T) {
	tree := map[string][]byte{"a.txt": []byte("alpha"), "b.txt": []byte("bravo")}
	path, _ := buildTree(t, tree, archive.BuildOptions{Checksum: archive.ChecksumSHA256})

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	err = sqlitex.Execute(conn, "UPDATE files SET checksum = ? WHERE path = 'a.txt'", &sqlitex.ExecOptions{
		Args: []any{strings.Repeat("0", 64)},
	})
	conn.Close()
	if err != nil {
		t.Fatalf("tampering checksum: %v", err)
	}

	destination := t.TempDir()
	result, err := archive.Extract(context.Background(), path, destination, archive.ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	mismatches := result.ChecksumFailures()
	if len(mismatches) != 1 || mismatches[0].Path != "a.txt" {
		t.Fatalf("checksum failures = %v, want a.txt", mismatches)
	}
	if result.FilesWritten != 1 {
		t.Errorf("FilesWritten = %d, want 1", result.FilesWritten)
	}
	if _, err := os.Stat(filepath.Join(destination, "a.txt")); !os.IsNotExist(err) {
		t.Error("a.txt left in place after checksum mismatch")
	}
}

func TestExtractRejectsUnsafePaths(t *testing.T) {
	path, _ := buildTree(t, map[string][]byte{"ok.txt": []byte("ok")}, archive.BuildOptions{})

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	err = sqlitex.ExecuteScript(conn, `
		INSERT INTO files (path, size, chunk_ids, chunk_sizes, checksum)
		SELECT '../escape.txt', size, chunk_ids, chunk_sizes, checksum FROM files WHERE path = 'ok.txt';
		INSERT INTO files (path, size, chunk_ids, chunk_sizes, checksum)
		SELECT '/abs.txt', size, chunk_ids, chunk_sizes, checksum FROM files WHERE path = 'ok.txt';
	`, nil)
	conn.Close()
	if err != nil {
		t.Fatalf("inserting unsafe paths: %v", err)
	}

	root := t.TempDir()
	destination := filepath.Join(root, "out")
	result, err := archive.Extract(context.Background(), path, destination, archive.ExtractOptions{})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(result.Failures) != 2 {
		t.Errorf("Failures = %v, want two unsafe paths", result.Failures)
	}
	if _, err := os.Stat(filepath.Join(root, "escape.txt")); !os.IsNotExist(err) {
		t.Error("extraction escaped the destination root")
	}
	if result.FilesWritten != 1 {
		t.Errorf("FilesWritten = %d, want 1", result.FilesWritten)
	}
}

func TestOpenRejectsIncompleteArchive(t *testing.T) {
	path, _ := buildTree(t, map[string][]byte{"a": []byte("a")}, archive.BuildOptions{})

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite)
	if err != nil {
		t.Fatalf("OpenConn: %v", err)
	}
	err = sqlitex.ExecuteTransient(conn, "DELETE FROM metadata", nil)
	conn.Close()
	if err != nil {
		t.Fatalf("deleting metadata: %v", err)
	}

	_, err = archive.Open(context.Background(), path, archive.OpenOptions{})
	var invalid *archive.InvalidArchiveError
	if !errors.As(err, &invalid) {
		t.Fatalf("Open error = %v, want InvalidArchiveError", err)
	}

	notSQLite := filepath.Join(t.TempDir(), "junk.rat")
	if err := os.WriteFile(notSQLite, []byte("definitely not a database, just some text"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := archive.Open(context.Background(), notSQLite, archive.OpenOptions{}); !errors.As(err, &invalid) {
		t.Fatalf("Open(junk) error = %v, want InvalidArchiveError", err)
	}
}

func TestBuildSkipsUnreadableFiles(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root can read files regardless of permissions")
	}
	source := t.TempDir()
	testutil.WriteTree(t, source, map[string][]byte{
		"readable.txt": []byte("fine"),
		"locked.txt":   []byte("secret"),
	})
	locked := filepath.Join(source, "locked.txt")
	if err := os.Chmod(locked, 0); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	t.Cleanup(func() { os.Chmod(locked, 0o644) })

	path, result := buildTree(t, nil, archive.BuildOptions{SourceDir: source})
	if len(result.Failures) != 1 || result.Failures[0].Path != "locked.txt" {
		t.Fatalf("Failures = %v, want locked.txt", result.Failures)
	}
	if result.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1", result.FileCount)
	}
	files, err := archive.ListFiles(context.Background(), path, "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 1 || files[0].Path != "readable.txt" {
		t.Errorf("files = %v", files)
	}

	_, err = archive.Build(context.Background(), archive.BuildOptions{
		SourceDir: source,
		Dest:      filepath.Join(t.TempDir(), "strict.rat"),
		FailFast:  true,
	})
	var sourceErr *archive.SourceReadError
	if !errors.As(err, &sourceErr) {
		t.Fatalf("FailFast build error = %v, want SourceReadError", err)
	}
}

func TestCancelledBuildLeavesNothing(t *testing.T) {
	source := t.TempDir()
	testutil.WriteTree(t, source, sampleTree())
	destinationDir := t.TempDir()
	dest := filepath.Join(destinationDir, "cancelled.rat")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := archive.Build(ctx, archive.BuildOptions{SourceDir: source, Dest: dest})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Build error = %v, want context.Canceled", err)
	}

	entries, err := os.ReadDir(destinationDir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		var names []string
		for _, entry := range entries {
			names = append(names, entry.Name())
		}
		t.Errorf("cancelled build left files: %v", names)
	}
}

func TestBuildReplacesExistingDestinationOnlyOnSuccess(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "replace.rat")
	buildTree(t, map[string][]byte{"v1.txt": []byte("one")}, archive.BuildOptions{Dest: dest})

	_, err := archive.Build(context.Background(), archive.BuildOptions{
		SourceDir: filepath.Join(t.TempDir(), "does-not-exist"),
		Dest:      dest,
	})
	if err == nil {
		t.Fatal("Build from a missing source succeeded")
	}
	files, err := archive.ListFiles(context.Background(), dest, "")
	if err != nil {
		t.Fatalf("ListFiles after failed rebuild: %v", err)
	}
	if len(files) != 1 || files[0].Path != "v1.txt" {
		t.Errorf("previous archive damaged: %v", files)
	}

	buildTree(t, map[string][]byte{"v2.txt": []byte("two")}, archive.BuildOptions{Dest: dest})
	files, err = archive.ListFiles(context.Background(), dest, "")
	if err != nil {
		t.Fatalf("ListFiles after rebuild: %v", err)
	}
	if len(files) != 1 || files[0].Path != "v2.txt" {
		t.Errorf("rebuild did not replace archive: %v", files)
	}
}

func TestBuildIgnoresOwnDestinationInsideSource(t *testing.T) {
	source := t.TempDir()
	testutil.WriteTree(t, source, map[string][]byte{"a.txt": []byte("a")})
	dest := filepath.Join(source, "self.rat")

	buildTree(t, nil, archive.BuildOptions{SourceDir: source, Dest: dest})
	// Second build sees the first archive at dest and must skip it.
	_, result := buildTree(t, nil, archive.BuildOptions{SourceDir: source, Dest: dest})
	if result.FileCount != 1 {
		t.Errorf("FileCount = %d, want 1 (archive included itself?)", result.FileCount)
	}
}

func TestBuildFollowsSymlinkedSourceRoot(t *testing.T) {
	target := filepath.Join(t.TempDir(), "real")
	testutil.WriteTree(t, target, map[string][]byte{
		"a.txt":     []byte("alpha"),
		"sub/b.txt": []byte("beta"),
	})
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}

	path, result := buildTree(t, nil, archive.BuildOptions{SourceDir: link})
	if result.FileCount != 2 || len(result.Failures) != 0 {
		t.Fatalf("FileCount = %d, Failures = %v, want 2 files and no failures", result.FileCount, result.Failures)
	}
	files, err := archive.ListFiles(context.Background(), path, "")
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(files) != 2 || files[0].Path != "a.txt" || files[1].Path != "sub/b.txt" {
		t.Errorf("files = %v", files)
	}

	// A destination named through the link is still recognized as the
	// build's own output.
	dest := filepath.Join(link, "self.rat")
	buildTree(t, nil, archive.BuildOptions{SourceDir: link, Dest: dest})
	_, result = buildTree(t, nil, archive.BuildOptions{SourceDir: link, Dest: dest})
	if result.FileCount != 2 {
		t.Errorf("FileCount = %d, want 2 (archive included itself?)", result.FileCount)
	}
}

func TestBuildContainerWriteError(t *testing.T) {
	source := t.TempDir()
	testutil.WriteTree(t, source, map[string][]byte{"a.txt": []byte("a")})

	tests := []struct {
		name  string
		setup func(t *testing.T, directory string) string
		// exists reports whether something is expected at the
		// destination path afterwards.
		exists bool
	}{
		{
			name: "missing directory",
			setup: func(t *testing.T, directory string) string {
				return filepath.Join(directory, "nope", "out.rat")
			},
		},
		{
			name: "destination is a directory",
			setup: func(t *testing.T, directory string) string {
				dest := filepath.Join(directory, "out.rat")
				testutil.WriteTree(t, dest, map[string][]byte{"keep": []byte("k")})
				return dest
			},
			exists: true,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			directory := t.TempDir()
			dest := test.setup(t, directory)

			_, err := archive.Build(context.Background(), archive.BuildOptions{SourceDir: source, Dest: dest})
			var writeErr *archive.ContainerWriteError
			if !errors.As(err, &writeErr) {
				t.Fatalf("Build error = %v, want ContainerWriteError", err)
			}
			if writeErr.Path != dest {
				t.Errorf("ContainerWriteError.Path = %q, want %q", writeErr.Path, dest)
			}

			info, statErr := os.Stat(dest)
			switch {
			case !test.exists && !os.IsNotExist(statErr):
				t.Errorf("something exists at %s after a failed build (stat error %v)", dest, statErr)
			case test.exists && (statErr != nil || !info.IsDir()):
				t.Errorf("destination directory disturbed: %v", statErr)
			}

			entries, err := os.ReadDir(directory)
			if err != nil {
				t.Fatalf("ReadDir: %v", err)
			}
			for _, entry := range entries {
				if strings.Contains(entry.Name(), ".partial-") {
					t.Errorf("failed build left %s", entry.Name())
				}
			}
		})
	}
}

func TestBuildResultMetadataMatchesStored(t *testing.T) {
	start := time.Date(2026, 3, 14, 15, 9, 26, 123_456_789, time.FixedZone("CET", 3600))
	path, result := buildTree(t, map[string][]byte{"x": []byte("x")}, archive.BuildOptions{
		Clock: clock.Fake(start),
	})

	stored, err := archive.ReadMetadata(context.Background(), path)
	if err != nil {
		t.Fatalf("ReadMetadata: %v", err)
	}
	if *result.Metadata != *stored {
		t.Errorf("Build returned %+v, archive holds %+v", *result.Metadata, *stored)
	}
	if want := start.Truncate(time.Microsecond); !stored.CreatedAt.Equal(want) {
		t.Errorf("CreatedAt = %v, want %v", stored.CreatedAt, want)
	}
	if stored.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", stored.CreatedAt.Location())
	}
}

func TestBuildProgressCallback(t *testing.T) {
	tree := sampleTree()
	var last archive.Progress
	calls := 0
	buildTree(t, tree, archive.BuildOptions{
		ProgressInterval: -1,
		OnProgress: func(progress archive.Progress) {
			calls++
			last = progress
		},
	})
	if calls == 0 {
		t.Fatal("OnProgress never called")
	}
	if last.FilesDone != len(tree) || last.FilesTotal != len(tree) {
		t.Errorf("final progress = %+v", last)
	}
	if last.BytesDone != last.BytesTotal {
		t.Errorf("final bytes %d of %d", last.BytesDone, last.BytesTotal)
	}
}

func TestBuildOptionValidation(t *testing.T) {
	source := t.TempDir()
	dest := filepath.Join(t.TempDir(), "x.rat")
	tests := []struct {
		name string
		opts archive.BuildOptions
	}{
		{"missing source", archive.BuildOptions{Dest: dest}},
		{"missing dest", archive.BuildOptions{SourceDir: source}},
		{"bad chunk size", archive.BuildOptions{SourceDir: source, Dest: dest, ChunkSize: -5}},
		{"bad codec", archive.BuildOptions{SourceDir: source, Dest: dest, Compressor: "rar"}},
		{"bad level", archive.BuildOptions{SourceDir: source, Dest: dest, Compressor: archive.CodecZstd, CompressorLevel: 40}},
		{"bad checksum", archive.BuildOptions{SourceDir: source, Dest: dest, Checksum: "crc32"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := archive.Build(context.Background(), test.opts); err == nil {
				t.Fatal("Build succeeded")
			}
			if _, err := os.Stat(dest); !os.IsNotExist(err) {
				t.Errorf("invalid build created %s", dest)
			}
		})
	}
}

func TestVerifyIntactArchive(t *testing.T) {
	path, _ := buildTree(t, sampleTree(), archive.BuildOptions{Checksum: archive.ChecksumBLAKE3})
	opened := openArchive(t, path)
	report, err := opened.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !report.OK() {
		t.Fatalf("problems: %v", report.Problems)
	}
	if report.FilesChecked != int64(len(sampleTree())) {
		t.Errorf("FilesChecked = %d", report.FilesChecked)
	}
	if report.BytesChecked != opened.Metadata().TotalBytes {
		t.Errorf("BytesChecked = %d, want %d", report.BytesChecked, opened.Metadata().TotalBytes)
	}
}

func TestCatStreamsFile(t *testing.T) {
	content := testutil.PseudoRandom(11, 3*archive.DefaultChunkSize+17)
	path, _ := buildTree(t, map[string][]byte{"dir/f.bin": content}, archive.BuildOptions{})

	var output bytes.Buffer
	n, err := archive.Cat(context.Background(), path, "dir/f.bin", &output)
	if err != nil {
		t.Fatalf("Cat: %v", err)
	}
	if n != int64(len(content)) || !bytes.Equal(output.Bytes(), content) {
		t.Errorf("Cat wrote %d bytes, content match %v", n, bytes.Equal(output.Bytes(), content))
	}
}
