// Package ingestion replays the history of a git repository into the graph
// engine.
//
// Every file and directory becomes a node; "contains" edges link each
// directory to its entries. Commits on the first-parent chain are applied in
// order at their committer time: an added file creates a node, a modified
// file advances it, a deleted file expires it together with its edge.
package ingestion

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/utils/merkletrie"
	"go.uber.org/zap"

	"github.com/Benny93/timegraph/internal/engine"
	"github.com/Benny93/timegraph/internal/graph"
)

// Node and edge types produced by an import.
var (
	TypeFile     = graph.Type{Name: "git.file"}
	TypeDir      = graph.Type{Name: "git.dir"}
	TypeContains = graph.Type{Name: "git.contains"}
	TypeTree     = graph.Type{Name: "git.tree"}
)

// Options tunes an import.
type Options struct {
	// Ref is the branch, tag or revision to replay. Empty means HEAD.
	Ref string

	// Exclude holds gitignore-style patterns for paths to skip.
	Exclude []string

	// Component, when set, names a component created over the final tree.
	Component string

	// Debounce is how long Follow waits for ref changes to settle.
	Debounce time.Duration

	Logger *zap.Logger
}

// Result summarizes an import.
type Result struct {
	Commits  int
	Added    int
	Modified int
	Deleted  int
	Head     string

	// Files and Dirs map active paths to their node ids.
	Files map[string]graph.NanoID
	Dirs  map[string]graph.NanoID

	Component *graph.Component
}

// FileData is the payload of a file node version.
type FileData struct {
	Path   string `json:"path"`
	Blob   string `json:"blob,omitempty"`
	Commit string `json:"commit,omitempty"`
	Author string `json:"author,omitempty"`
}

type change struct {
	action merkletrie.Action
	path   string
	blob   plumbing.Hash
}

type importer struct {
	repo    *git.Repository
	eng     *engine.Engine
	logger  *zap.Logger
	exclude gitignore.Matcher
	ref     string
	result  *Result
	last    time.Time

	// head and tree are the last applied commit and its tree.
	head plumbing.Hash
	tree *object.Tree
}

// Import replays the repository at repoPath into eng.
func Import(ctx context.Context, eng *engine.Engine, repoPath string, opts Options) (*Result, error) {
	im, err := newImporter(eng, repoPath, opts)
	if err != nil {
		return nil, err
	}
	if err := im.replay(ctx, opts.Component); err != nil {
		return nil, err
	}
	return im.result, nil
}

// replay applies the full history up to the ref and optionally groups the
// resulting tree.
func (im *importer) replay(ctx context.Context, component string) error {
	tip, err := resolve(im.repo, im.ref)
	if err != nil {
		return err
	}
	if err := im.advance(ctx, tip); err != nil {
		return err
	}
	if component != "" {
		if err := im.createTreeComponent(ctx, component); err != nil {
			return err
		}
	}

	im.logger.Info("import finished",
		zap.String("head", im.result.Head),
		zap.Int("commits", im.result.Commits),
		zap.Int("added", im.result.Added),
		zap.Int("modified", im.result.Modified),
		zap.Int("deleted", im.result.Deleted))
	return nil
}

func newImporter(eng *engine.Engine, repoPath string, opts Options) (*importer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", repoPath, err)
	}

	var patterns []gitignore.Pattern
	for _, p := range opts.Exclude {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, gitignore.ParsePattern(p, nil))
		}
	}

	return &importer{
		repo:    repo,
		eng:     eng,
		logger:  logger.Named("ingestion"),
		exclude: gitignore.NewMatcher(patterns),
		ref:     opts.Ref,
		result: &Result{
			Files: make(map[string]graph.NanoID),
			Dirs:  make(map[string]graph.NanoID),
		},
	}, nil
}

// advance applies every commit after the last applied one up to tip.
func (im *importer) advance(ctx context.Context, tip plumbing.Hash) error {
	if tip == im.head {
		return nil
	}

	chain, found, err := firstParentChain(im.repo, tip, im.head)
	if err != nil {
		return err
	}
	if !im.head.IsZero() && !found {
		// The ref moved to a commit that does not descend from the last one
		// applied. Only the net change up to the new tip is replayed.
		im.logger.Warn("history rewritten, applying net change",
			zap.String("from", im.head.String()),
			zap.String("to", tip.String()))
		chain = chain[len(chain)-1:]
	}

	for _, c := range chain {
		if err := ctx.Err(); err != nil {
			return err
		}
		tree, err := c.Tree()
		if err != nil {
			return fmt.Errorf("reading tree of %s: %w", c.Hash, err)
		}
		changes, err := diff(im.tree, tree)
		if err != nil {
			return fmt.Errorf("diffing %s: %w", c.Hash, err)
		}
		if err := im.applyCommit(ctx, c, changes); err != nil {
			return fmt.Errorf("applying %s: %w", c.Hash, err)
		}
		im.head, im.tree = c.Hash, tree
	}
	im.result.Head = tip.String()
	return nil
}

func resolve(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if ref == "" {
		head, err := repo.Head()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolving HEAD: %w", err)
		}
		return head.Hash(), nil
	}
	h, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolving %s: %w", ref, err)
	}
	return *h, nil
}

// firstParentChain returns the commits after stop up to head in
// chronological order, following first parents only. found reports whether
// stop was reached; otherwise the chain starts at the root commit.
func firstParentChain(repo *git.Repository, head, stop plumbing.Hash) ([]*object.Commit, bool, error) {
	c, err := repo.CommitObject(head)
	if err != nil {
		return nil, false, fmt.Errorf("loading commit %s: %w", head, err)
	}
	var (
		chain []*object.Commit
		found bool
	)
	for {
		if !stop.IsZero() && c.Hash == stop {
			found = true
			break
		}
		chain = append(chain, c)
		if c.NumParents() == 0 {
			break
		}
		if c, err = c.Parent(0); err != nil {
			return nil, false, fmt.Errorf("loading parent of %s: %w", chain[len(chain)-1].Hash, err)
		}
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, found, nil
}

// diff lists the file changes between two trees, ordered by path. A nil
// from-tree means every file of to is new.
func diff(from, to *object.Tree) ([]change, error) {
	var out []change
	if from == nil {
		err := to.Files().ForEach(func(f *object.File) error {
			out = append(out, change{action: merkletrie.Insert, path: f.Name, blob: f.Hash})
			return nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		changes, err := object.DiffTree(from, to)
		if err != nil {
			return nil, err
		}
		for _, ch := range changes {
			action, err := ch.Action()
			if err != nil {
				return nil, err
			}
			switch action {
			case merkletrie.Delete:
				out = append(out, change{action: action, path: ch.From.Name})
			default:
				out = append(out, change{action: action, path: ch.To.Name, blob: ch.To.TreeEntry.Hash})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out, nil
}

func (im *importer) applyCommit(ctx context.Context, c *object.Commit, changes []change) error {
	at := c.Committer.When.UTC()
	// Rewritten history can carry committer times that go backwards.
	if at.Before(im.last) {
		at = im.last
	}
	im.last = at
	im.result.Commits++

	for _, ch := range changes {
		if im.excluded(ch.path) {
			continue
		}
		data, err := graph.NewData(TypeFile, FileData{
			Path:   ch.path,
			Blob:   ch.blob.String(),
			Commit: c.Hash.String(),
			Author: c.Author.Email,
		})
		if err != nil {
			return err
		}

		id, tracked := im.result.Files[ch.path]
		switch {
		case ch.action == merkletrie.Delete:
			if !tracked {
				continue
			}
			if err := im.eng.ExpireNode(ctx, id, at); err != nil {
				return err
			}
			delete(im.result.Files, ch.path)
			im.result.Deleted++

		case tracked:
			if _, err := im.eng.UpdateNode(ctx, id, engine.NodePatch{Data: &data}, at); err != nil {
				return err
			}
			im.result.Modified++

		default:
			dir, err := im.ensureDir(ctx, path.Dir(ch.path), at)
			if err != nil {
				return err
			}
			n, err := im.eng.AddNode(ctx, engine.NewNode{Type: TypeFile, Data: data}, at)
			if err != nil {
				return err
			}
			if _, err := im.eng.AddEdge(ctx, engine.NewEdge{Type: TypeContains, Source: dir, Target: n.Loc.ID}, at); err != nil {
				return err
			}
			im.result.Files[ch.path] = n.Loc.ID
			im.result.Added++
		}
	}

	im.logger.Debug("commit applied",
		zap.String("commit", c.Hash.String()),
		zap.Time("at", at),
		zap.Int("changes", len(changes)))
	return nil
}

// ensureDir returns the node of dir, creating it and its parents on first use.
func (im *importer) ensureDir(ctx context.Context, dir string, at time.Time) (graph.NanoID, error) {
	if id, ok := im.result.Dirs[dir]; ok {
		return id, nil
	}

	data, err := graph.NewData(TypeDir, FileData{Path: dir})
	if err != nil {
		return "", err
	}
	n, err := im.eng.AddNode(ctx, engine.NewNode{Type: TypeDir, Data: data}, at)
	if err != nil {
		return "", err
	}
	im.result.Dirs[dir] = n.Loc.ID

	if dir != "." {
		parent, err := im.ensureDir(ctx, path.Dir(dir), at)
		if err != nil {
			return "", err
		}
		if _, err := im.eng.AddEdge(ctx, engine.NewEdge{Type: TypeContains, Source: parent, Target: n.Loc.ID}, at); err != nil {
			return "", err
		}
	}
	return n.Loc.ID, nil
}

// createTreeComponent groups the final directory tree of this import into
// one component. Trees of earlier imports into the same engine are left out.
func (im *importer) createTreeComponent(ctx context.Context, name string) error {
	edges, err := im.eng.Edges(ctx)
	if err != nil {
		return err
	}
	ours := make(map[graph.NanoID]bool, len(im.result.Files)+len(im.result.Dirs))
	for _, id := range im.result.Files {
		ours[id] = true
	}
	for _, id := range im.result.Dirs {
		ours[id] = true
	}
	var ids []graph.NanoID
	for _, e := range edges {
		if e.Type == TypeContains && ours[e.Target.ID] {
			ids = append(ids, e.Loc.ID)
		}
	}
	if len(ids) == 0 {
		im.logger.Info("no tree to group", zap.String("component", name))
		return nil
	}

	data, err := graph.NewData(TypeTree, map[string]string{"name": name, "head": im.result.Head})
	if err != nil {
		return err
	}
	c, err := im.eng.CreateComponentFromEdges(ctx, engine.NewComponent{Type: TypeTree, Data: data}, ids, im.last)
	if err != nil {
		return fmt.Errorf("grouping tree: %w", err)
	}
	im.result.Component = c
	return nil
}

func (im *importer) excluded(p string) bool {
	return im.exclude.Match(strings.Split(p, "/"), false)
}
