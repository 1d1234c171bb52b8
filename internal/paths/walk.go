package paths

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency bounds the number of directories read at once by Walk.
const DefaultConcurrency = 8

// adminDir is skipped at every depth, whether it is a directory or a gitfile.
const adminDir = ".git"

type walkOptions struct {
	concurrency int
}

// WalkOption configures Walk.
type WalkOption func(*walkOptions)

// WithConcurrency sets how many directories may be read concurrently. Values
// below one fall back to DefaultConcurrency.
func WithConcurrency(n int) WalkOption {
	return func(o *walkOptions) {
		o.concurrency = n
	}
}

// Walk calls fn with the absolute path of every regular file and symlink below
// root. Directories are descended into but not reported, and entries named .git
// are skipped. Sibling directories are read concurrently, so fn must be safe for
// concurrent use and sees paths in no particular order.
//
// The first error, from the filesystem or from fn, cancels the remaining work.
// Walk waits for every started goroutine before returning that error.
func Walk(ctx context.Context, root string, fn func(path string) error, opts ...WalkOption) error {
	o := walkOptions{concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if o.concurrency < 1 {
		o.concurrency = DefaultConcurrency
	}

	root, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("resolve walk root: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	w := &walker{group: g, fn: fn}
	g.Go(func() error {
		return w.walkDir(gctx, root)
	})
	return g.Wait()
}

type walker struct {
	group *errgroup.Group
	fn    func(string) error
}

func (w *walker) walkDir(ctx context.Context, dir string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.Name() == adminDir {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		switch mode := entry.Type(); {
		case mode.IsDir():
			// Run inline when every worker is busy.
			if !w.group.TryGo(func() error { return w.walkDir(ctx, path) }) {
				if err := w.walkDir(ctx, path); err != nil {
					return err
				}
			}
		case mode.IsRegular(), mode&fs.ModeSymlink != 0:
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := w.fn(path); err != nil {
				return err
			}
		}
	}
	return nil
}
