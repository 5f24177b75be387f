package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"

	"github.com/Benny93/timegraph/internal/engine"
)

// DefaultDebounce is the time ref changes settle before Follow syncs.
const DefaultDebounce = 2 * time.Second

// Follow imports the repository like Import, then watches its refs and
// applies new commits as they land. onUpdate runs after the initial import
// and after every sync that applied commits; the cumulative result it gets
// must not be retained past the call. Blocks until the context is cancelled.
func Follow(ctx context.Context, eng *engine.Engine, repoPath string, opts Options, onUpdate func(*Result)) error {
	im, err := newImporter(eng, repoPath, opts)
	if err != nil {
		return err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	// Watch before the initial replay so commits landing during it are seen.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()
	if err := watchRefs(watcher, filepath.Join(repoPath, git.GitDirName)); err != nil {
		return fmt.Errorf("setting up watcher: %w", err)
	}

	if err := im.replay(ctx, opts.Component); err != nil {
		return err
	}
	notify(onUpdate, im.result)

	timer := time.NewTimer(debounce)
	timer.Stop()

	im.logger.Info("following repository", zap.String("path", repoPath), zap.String("head", im.result.Head))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if strings.HasSuffix(event.Name, ".lock") {
				continue
			}
			// New ref namespaces, e.g. refs/heads/feature/.
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			timer.Reset(debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			im.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			tip, err := resolve(im.repo, im.ref)
			if err != nil {
				// Refs are briefly unresolvable while git rewrites them.
				im.logger.Debug("ref not resolvable", zap.Error(err))
				continue
			}
			before := im.result.Commits
			if err := im.advance(ctx, tip); err != nil {
				return err
			}
			if n := im.result.Commits - before; n > 0 {
				im.logger.Info("commits applied",
					zap.Int("commits", n),
					zap.String("head", im.result.Head))
				notify(onUpdate, im.result)
			}
		}
	}
}

// watchRefs watches the git directory and every directory under refs/.
// Objects are not watched: a commit always ends in a ref or HEAD write.
func watchRefs(watcher *fsnotify.Watcher, gitDir string) error {
	if err := watcher.Add(gitDir); err != nil {
		return err
	}
	refs := filepath.Join(gitDir, "refs")
	if _, err := os.Stat(refs); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(refs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}

func notify(onUpdate func(*Result), res *Result) {
	if onUpdate != nil {
		onUpdate(res)
	}
}
