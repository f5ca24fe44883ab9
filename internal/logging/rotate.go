package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
)

const brotliRotateQuality = 4 // fast enough for background rotation, ~15-20% smaller than gzip

var gzipWriterPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.DefaultCompression)
		return w
	},
}

// brotliPool is a channel-based bounded pool: sync.Pool evicts every GC
// cycle, which would repeatedly reallocate the writer's ~256KB window. A
// channel holds strong references so rotation writers survive GC.
var brotliPool = func() chan *brotli.Writer {
	size := max(runtime.GOMAXPROCS(0), 4)
	return make(chan *brotli.Writer, size)
}()

func getBrotliWriter(dst io.Writer) *brotli.Writer {
	select {
	case w := <-brotliPool:
		w.Reset(dst)
		return w
	default:
		return brotli.NewWriterLevel(dst, brotliRotateQuality)
	}
}

func putBrotliWriter(w *brotli.Writer) {
	w.Reset(io.Discard)
	select {
	case brotliPool <- w:
	default:
	}
}

// Compression selects the codec applied to rotated log files.
type Compression int

const (
	// CompressGzip compresses rotated files with gzip (the default).
	CompressGzip Compression = iota
	// CompressBrotli compresses rotated files with brotli.
	CompressBrotli
	// CompressNone leaves rotated files uncompressed.
	CompressNone
)

func (c Compression) ext() string {
	switch c {
	case CompressBrotli:
		return ".br"
	case CompressNone:
		return ""
	default:
		return ".gz"
	}
}

// rotatingFile is an append-only sink that rotates to a numbered,
// compressed backup once it crosses maxBytes, keeping at most
// maxBackups old generations.
type rotatingFile struct {
	mu          sync.Mutex
	path        string
	maxBytes    int64
	maxBackups  int
	compression Compression

	f    *os.File
	size int64
}

func newRotatingFile(path string, maxBytes int64, maxBackups int, compression Compression) (*rotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("stat log file %q: %w", path, err)
	}
	return &rotatingFile{
		path:        path,
		maxBytes:    maxBytes,
		maxBackups:  maxBackups,
		compression: compression,
		f:           f,
		size:        info.Size(),
	}, nil
}

// Write appends b, rotating first if it would cross maxBytes.
func (rf *rotatingFile) Write(b []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.maxBytes > 0 && rf.size+int64(len(b)) > rf.maxBytes && rf.size > 0 {
		if err := rf.rotateLocked(); err != nil {
			return 0, err
		}
	}
	n, err := rf.f.Write(b)
	rf.size += int64(n)
	return n, err
}

func (rf *rotatingFile) rotateLocked() error {
	if err := rf.f.Close(); err != nil {
		return fmt.Errorf("close before rotate: %w", err)
	}

	rf.shiftBackupsLocked()
	dst := rf.path + ".1" + rf.compression.ext()
	if err := compressFile(rf.path, dst, rf.compression); err != nil {
		return fmt.Errorf("compress rotated file: %w", err)
	}
	if err := os.Remove(rf.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove rotated source: %w", err)
	}

	rf.pruneBackupsLocked()

	f, err := os.OpenFile(filepath.Clean(rf.path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("reopen after rotate: %w", err)
	}
	rf.f = f
	rf.size = 0
	return nil
}

// shiftBackupsLocked renumbers path.1.gz -> path.2.gz, etc., making room
// for the freshly-written path.1.gz.
func (rf *rotatingFile) shiftBackupsLocked() {
	ext := rf.compression.ext()
	for n := rf.maxBackups; n >= 1; n-- {
		from := fmt.Sprintf("%s.%d%s", rf.path, n, ext)
		to := fmt.Sprintf("%s.%d%s", rf.path, n+1, ext)
		if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
}

// pruneBackupsLocked deletes backups beyond maxBackups generations.
func (rf *rotatingFile) pruneBackupsLocked() {
	dir := filepath.Dir(rf.path)
	base := filepath.Base(rf.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	var gens []int
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, base+".") {
			continue
		}
		rest := strings.TrimPrefix(name, base+".")
		numPart, _, _ := strings.Cut(rest, ".")
		n, err := strconv.Atoi(numPart)
		if err != nil {
			continue
		}
		gens = append(gens, n)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(gens)))
	ext := rf.compression.ext()
	for _, n := range gens {
		if n > rf.maxBackups {
			_ = os.Remove(fmt.Sprintf("%s.%d%s", rf.path, n, ext))
		}
	}
}

func (rf *rotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.f.Close()
}

// compressFile compresses src into dst using the given codec, leaving src
// untouched (the caller removes it once this returns successfully).
func compressFile(src, dst string, compression Compression) error {
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer out.Close()

	switch compression {
	case CompressNone:
		_, err = io.Copy(out, in)
		return err
	case CompressBrotli:
		w := getBrotliWriter(out)
		defer putBrotliWriter(w)
		if _, err := io.Copy(w, in); err != nil {
			return err
		}
		return w.Close()
	default:
		gz := gzipWriterPool.Get().(*gzip.Writer)
		defer gzipWriterPool.Put(gz)
		gz.Reset(out)
		if _, err := io.Copy(gz, in); err != nil {
			return err
		}
		return gz.Close()
	}
}
