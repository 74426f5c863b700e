// Package fileio provides non-blocking file operations atop the event
// loop (spec §4.7): each operation returns a cancellable promise, runs its
// blocking syscall on its own offloaded goroutine and settles the promise
// from the loop goroutine through loop.Submit, and
// guarantees its release hook fires exactly once whether the operation
// completes or is cancelled first.
package fileio

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/brindlecore/reactor/asyncerr"
	"github.com/brindlecore/reactor/loop"
	"github.com/brindlecore/reactor/promise"
)

// ReadResult is the outcome of Read.
type ReadResult struct {
	Bytes []byte
}

// WriteResult is the outcome of Write/Append.
type WriteResult struct {
	BytesWritten int
}

// StatResult mirrors the fields callers typically need from os.FileInfo.
type StatResult struct {
	Size  int64
	Mode  os.FileMode
	IsDir bool
}

// CopyResult is the outcome of Copy.
type CopyResult struct {
	BytesCopied int64
}

// run offloads fn to a goroutine and settles a CancellablePromise exactly
// once, guaranteeing release fires exactly once regardless of whether
// Cancel or normal completion wins the race (spec §4.7 "must always invoke
// the registered release hook exactly once").
func run(l *loop.Loop, release func(), fn func(ctx context.Context) (any, error)) *promise.CancellablePromise {
	ctx, cancel := context.WithCancel(context.Background())
	var once sync.Once
	fire := func() {
		once.Do(func() {
			if release != nil {
				release()
			}
		})
	}

	cp := promise.NewCancellable(l, func() {
		cancel()
		fire()
	})

	go func() {
		v, err := fn(ctx)
		if submitErr := l.Submit(func() {
			fire()
			if err != nil {
				cp.Reject(err)
				return
			}
			cp.Resolve(v)
		}); submitErr != nil {
			// Loop already terminated: nothing will ever run the submitted
			// closure, so fire the release hook directly rather than
			// silently dropping it (spec §4.7 "exactly once").
			fire()
		}
	}()

	return cp
}

// Read reads the whole file at path.
func Read(l *loop.Loop, path string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "read "+path, err)
		}
		return &ReadResult{Bytes: data}, nil
	})
}

// Stream reads path in chunks, invoking onChunk as bytes arrive.
func Stream(l *loop.Loop, path string, onChunk func([]byte)) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "open "+path, err)
		}
		defer f.Close()

		buf := make([]byte, 32*1024)
		for {
			select {
			case <-ctx.Done():
				return nil, asyncerr.New(asyncerr.KindCancelled, "stream cancelled")
			default:
			}
			n, err := f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				onChunk(chunk)
			}
			if err == io.EOF {
				return &ReadResult{}, nil
			}
			if err != nil {
				return nil, asyncerr.Wrap(asyncerr.KindFileIO, "stream "+path, err)
			}
		}
	})
}

// Write writes data to path, truncating any existing content.
func Write(l *loop.Loop, path string, data []byte) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "write "+path, err)
		}
		return &WriteResult{BytesWritten: len(data)}, nil
	})
}

// Append appends data to path, creating it if necessary.
func Append(l *loop.Loop, path string, data []byte) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "append "+path, err)
		}
		defer f.Close()
		n, err := f.Write(data)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "append "+path, err)
		}
		return &WriteResult{BytesWritten: n}, nil
	})
}

// Exists reports whether path exists.
func Exists(l *loop.Loop, path string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return nil, asyncerr.Wrap(asyncerr.KindFileIO, "stat "+path, err)
	})
}

// Stat returns file metadata for path.
func Stat(l *loop.Loop, path string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		info, err := os.Stat(path)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "stat "+path, err)
		}
		return &StatResult{Size: info.Size(), Mode: info.Mode(), IsDir: info.IsDir()}, nil
	})
}

// Delete removes path.
func Delete(l *loop.Loop, path string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		if err := os.Remove(path); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "delete "+path, err)
		}
		return nil, nil
	})
}

// Mkdir creates path, including any missing parents.
func Mkdir(l *loop.Loop, path string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "mkdir "+path, err)
		}
		return nil, nil
	})
}

// Rmdir removes the directory at path and everything under it.
func Rmdir(l *loop.Loop, path string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		if err := os.RemoveAll(path); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "rmdir "+path, err)
		}
		return nil, nil
	})
}

// Copy copies src to dst.
func Copy(l *loop.Loop, src, dst string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		in, err := os.Open(src)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "open "+src, err)
		}
		defer in.Close()

		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "create parent for "+dst, err)
		}
		out, err := os.Create(dst)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "create "+dst, err)
		}
		defer out.Close()

		n, err := io.Copy(out, in)
		if err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "copy "+src+" to "+dst, err)
		}
		return &CopyResult{BytesCopied: n}, nil
	})
}

// Rename renames src to dst.
func Rename(l *loop.Loop, src, dst string) *promise.CancellablePromise {
	return run(l, nil, func(ctx context.Context) (any, error) {
		if err := os.Rename(src, dst); err != nil {
			return nil, asyncerr.Wrap(asyncerr.KindFileIO, "rename "+src+" to "+dst, err)
		}
		return nil, nil
	})
}
