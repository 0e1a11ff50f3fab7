package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	fdiff "github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
	gitdiff "github.com/go-git/go-git/v5/utils/diff"
	"github.com/sourcegraph/go-diff/diff"

	"github.com/lexcodex/codemend/framework"
)

// maxDiffChars bounds diff text returned to the model.
const maxDiffChars = 1000

// GitRepo opens the repository that contains the workspace.
type GitRepo struct {
	Workspace Workspace
}

func (g GitRepo) open() (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(g.Workspace.Root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("git repository not detected in %s", g.Workspace.Root)
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}

// GitStatusTool reports the branch and changed files.
type GitStatusTool struct {
	Repo GitRepo
}

func (t *GitStatusTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "git_status",
		Description: "Check repository status: current branch, modified, staged and untracked files.",
	}
}

func (t *GitStatusTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	repo, err := t.Repo.open()
	if err != nil {
		return "", err
	}
	branch := "(no commits)"
	if head, err := repo.Head(); err == nil {
		branch = head.Name().Short()
		if !head.Name().IsBranch() {
			branch = "detached at " + head.Hash().String()[:7]
		}
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Branch: %s\n", branch)
	if status.IsClean() {
		b.WriteString("Working tree clean")
		return b.String(), nil
	}
	groups := map[string][]string{}
	for path, fs := range status {
		switch {
		case fs.Worktree == git.Untracked:
			groups["Untracked"] = append(groups["Untracked"], path)
		case fs.Staging != git.Unmodified:
			groups["Staged"] = append(groups["Staged"], fmt.Sprintf("%c %s", fs.Staging, path))
		}
		if fs.Worktree != git.Unmodified && fs.Worktree != git.Untracked {
			groups["Modified"] = append(groups["Modified"], fmt.Sprintf("%c %s", fs.Worktree, path))
		}
	}
	for _, name := range []string{"Staged", "Modified", "Untracked"} {
		files := groups[name]
		if len(files) == 0 {
			continue
		}
		sort.Strings(files)
		fmt.Fprintf(&b, "%s (%d):\n", name, len(files))
		for _, f := range files {
			b.WriteString("  " + f + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

type gitDiffArgs struct {
	Target   string `json:"target,omitempty" jsonschema:"default=HEAD" jsonschema_description:"Commit to show when the working tree is clean (e.g. HEAD, HEAD~1, main)"`
	FilePath string `json:"file_path,omitempty" jsonschema_description:"Limit the diff to one file"`
}

// GitDiffTool shows uncommitted changes, or the changes a commit introduced
// when the working tree is clean.
type GitDiffTool struct {
	Repo GitRepo
}

func (t *GitDiffTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "git_diff",
		Description: "Show uncommitted changes, or the changes introduced by a commit when the working tree is clean.",
		Parameters:  framework.ParametersFor[gitDiffArgs](),
	}
}

func (t *GitDiffTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[gitDiffArgs](raw)
	if err != nil {
		return "", err
	}
	if args.Target == "" {
		args.Target = "HEAD"
	}
	repo, err := t.Repo.open()
	if err != nil {
		return "", err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("status: %w", err)
	}

	var text, title string
	if hasTrackedChanges(status) {
		text, err = worktreePatch(repo, wt, status)
		title = "Changes in working directory"
	} else {
		text, err = commitPatch(repo, args.Target)
		title = "Changes in " + args.Target
	}
	if err != nil {
		return "", err
	}
	filtered, stats, err := filterDiff(text, args.FilePath)
	if err != nil {
		return "", err
	}
	if filtered == "" {
		if args.FilePath != "" {
			return fmt.Sprintf("No changes to %s", args.FilePath), nil
		}
		return "No changes found", nil
	}
	if len(filtered) > maxDiffChars {
		filtered = filtered[:maxDiffChars] + "\n...(truncated)"
	}
	return fmt.Sprintf("%s (%d files, +%d -%d):\n\n%s", title, stats.files, stats.added, stats.deleted, filtered), nil
}

func hasTrackedChanges(status git.Status) bool {
	for _, fs := range status {
		if fs.Worktree == git.Untracked {
			continue
		}
		if fs.Worktree != git.Unmodified || fs.Staging != git.Unmodified {
			return true
		}
	}
	return false
}

// worktreePatch renders HEAD against the files on disk as a unified diff.
func worktreePatch(repo *git.Repository, wt *git.Worktree, status git.Status) (string, error) {
	var headCommit *object.Commit
	if head, err := repo.Head(); err == nil {
		if headCommit, err = repo.CommitObject(head.Hash()); err != nil {
			return "", fmt.Errorf("head commit: %w", err)
		}
	}
	paths := make([]string, 0, len(status))
	for path, fs := range status {
		if fs.Worktree == git.Untracked {
			continue
		}
		if fs.Worktree != git.Unmodified || fs.Staging != git.Unmodified {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)

	var patch textPatch
	for _, path := range paths {
		var before, after string
		var from, to fdiff.File
		if headCommit != nil {
			if f, err := headCommit.File(path); err == nil {
				if before, err = f.Contents(); err != nil {
					return "", err
				}
				from = textFile{path: path, hash: f.Hash, mode: f.Mode}
			}
		}
		data, err := os.ReadFile(filepath.Join(wt.Filesystem.Root(), path))
		switch {
		case err == nil:
			after = string(data)
			to = textFile{path: path, hash: plumbing.ComputeHash(plumbing.BlobObject, data), mode: filemode.Regular}
		case !errors.Is(err, os.ErrNotExist):
			return "", err
		}
		if from == nil && to == nil {
			continue
		}
		patch.files = append(patch.files, textFilePatch{from: from, to: to, chunks: chunksOf(before, after)})
	}
	var buf bytes.Buffer
	if err := fdiff.NewUnifiedEncoder(&buf, fdiff.DefaultContextLines).Encode(patch); err != nil {
		return "", fmt.Errorf("encode diff: %w", err)
	}
	return buf.String(), nil
}

// commitPatch renders the changes target introduced relative to its first
// parent.
func commitPatch(repo *git.Repository, target string) (string, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(target))
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", target, err)
	}
	commit, err := repo.CommitObject(*hash)
	if err != nil {
		return "", err
	}
	tree, err := commit.Tree()
	if err != nil {
		return "", err
	}
	var parentTree *object.Tree
	if commit.NumParents() > 0 {
		parent, err := commit.Parent(0)
		if err != nil {
			return "", err
		}
		if parentTree, err = parent.Tree(); err != nil {
			return "", err
		}
	}
	changes, err := object.DiffTree(parentTree, tree)
	if err != nil {
		return "", err
	}
	patch, err := changes.Patch()
	if err != nil {
		return "", err
	}
	return patch.String(), nil
}

type diffStats struct {
	files   int
	added   int32
	deleted int32
}

// filterDiff keeps the file diffs touching path (all when empty) and counts
// their lines.
func filterDiff(text, path string) (string, diffStats, error) {
	var stats diffStats
	if strings.TrimSpace(text) == "" {
		return "", stats, nil
	}
	fds, err := diff.ParseMultiFileDiff([]byte(text))
	if err != nil {
		return "", stats, fmt.Errorf("parse diff: %w", err)
	}
	var keep []*diff.FileDiff
	for _, fd := range fds {
		if path != "" && stripPrefix(fd.OrigName) != path && stripPrefix(fd.NewName) != path {
			continue
		}
		s := fd.Stat()
		stats.files++
		stats.added += s.Added + s.Changed
		stats.deleted += s.Deleted + s.Changed
		keep = append(keep, fd)
	}
	if len(keep) == 0 {
		return "", stats, nil
	}
	out, err := diff.PrintMultiFileDiff(keep)
	if err != nil {
		return "", stats, err
	}
	return string(out), stats, nil
}

func stripPrefix(name string) string {
	for _, p := range []string{"a/", "b/"} {
		if strings.HasPrefix(name, p) {
			return name[len(p):]
		}
	}
	return name
}

type gitHistoryArgs struct {
	FilePath string `json:"file_path,omitempty" jsonschema_description:"File to get history for; all commits when empty"`
	MaxCount int    `json:"max_count,omitempty" jsonschema:"default=10" jsonschema_description:"Number of commits to show" validate:"gte=0,lte=100"`
}

// GitHistoryTool lists recent commits.
type GitHistoryTool struct {
	Repo GitRepo
}

func (t *GitHistoryTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "git_history",
		Description: "View commit history for a file or the whole project.",
		Parameters:  framework.ParametersFor[gitHistoryArgs](),
	}
}

func (t *GitHistoryTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[gitHistoryArgs](raw)
	if err != nil {
		return "", err
	}
	if args.MaxCount == 0 {
		args.MaxCount = 10
	}
	repo, err := t.Repo.open()
	if err != nil {
		return "", err
	}
	head, err := repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "No commits found", nil
		}
		return "", err
	}
	opts := &git.LogOptions{From: head.Hash()}
	if args.FilePath != "" {
		name := args.FilePath
		opts.FileName = &name
	}
	iter, err := repo.Log(opts)
	if err != nil {
		return "", fmt.Errorf("log: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		commits = append(commits, c)
		if len(commits) >= args.MaxCount {
			return storer.ErrStop
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "No commits found", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Last %d commits", len(commits))
	if args.FilePath != "" {
		fmt.Fprintf(&b, " for %s", args.FilePath)
	}
	b.WriteString(":\n\n")
	for i, c := range commits {
		summary, _, _ := strings.Cut(c.Message, "\n")
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, c.Hash.String()[:7], summary)
		fmt.Fprintf(&b, "   Author: %s\n", c.Author.Name)
		fmt.Fprintf(&b, "   Date: %s\n\n", c.Committer.When.Format("2006-01-02 15:04"))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// The types below adapt two in-memory texts to go-git's patch interfaces so
// the unified encoder can render working tree changes.

type textPatch struct {
	files []fdiff.FilePatch
}

func (p textPatch) FilePatches() []fdiff.FilePatch { return p.files }
func (p textPatch) Message() string                { return "" }

type textFilePatch struct {
	from, to fdiff.File
	chunks   []fdiff.Chunk
}

func (p textFilePatch) IsBinary() bool                  { return false }
func (p textFilePatch) Files() (fdiff.File, fdiff.File) { return p.from, p.to }
func (p textFilePatch) Chunks() []fdiff.Chunk           { return p.chunks }

type textFile struct {
	path string
	hash plumbing.Hash
	mode filemode.FileMode
}

func (f textFile) Hash() plumbing.Hash     { return f.hash }
func (f textFile) Mode() filemode.FileMode { return f.mode }
func (f textFile) Path() string            { return f.path }

type textChunk struct {
	content string
	op      fdiff.Operation
}

func (c textChunk) Content() string       { return c.content }
func (c textChunk) Type() fdiff.Operation { return c.op }

func chunksOf(before, after string) []fdiff.Chunk {
	var out []fdiff.Chunk
	for _, d := range gitdiff.Do(before, after) {
		op := fdiff.Equal
		switch d.Type {
		case 1:
			op = fdiff.Add
		case -1:
			op = fdiff.Delete
		}
		out = append(out, textChunk{content: d.Text, op: op})
	}
	return out
}
