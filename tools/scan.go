package tools

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/lexcodex/codemend/framework"
	"github.com/lexcodex/codemend/verify"
)

var ignoredDirs = map[string]bool{
	"node_modules": true, "__pycache__": true, ".git": true, "venv": true, ".venv": true, "env": true,
	"dist": true, "build": true, ".next": true, ".vscode": true, "target": true, "bin": true, ".codemend": true,
}

// maxScanFiles stops a scan of very large trees.
const maxScanFiles = 20000

type scanProjectArgs struct {
	ProjectPath string `json:"project_path,omitempty" jsonschema:"default=." jsonschema_description:"Directory to scan, relative to the workspace"`
}

// ProjectStats summarizes a directory tree.
type ProjectStats struct {
	Files      int
	Bytes      int64
	Extensions map[string]int
	Languages  map[string]int
	TopDirs    []string
	Truncated  bool
}

// ScanProjectTool reports file statistics for a directory in the workspace.
type ScanProjectTool struct {
	Workspace Workspace
}

func (t *ScanProjectTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "scan_project",
		Description: "Scan the project structure: file counts, sizes, file types and main directories.",
		Parameters:  framework.ParametersFor[scanProjectArgs](),
	}
}

func (t *ScanProjectTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[scanProjectArgs](raw)
	if err != nil {
		return "", err
	}
	root, err := t.Workspace.Resolve(args.ProjectPath)
	if err != nil {
		return "", err
	}
	stats, err := ScanProject(ctx, root)
	if err != nil {
		return "", err
	}
	return formatStats(t.Workspace.Rel(root), stats), nil
}

// ScanProject walks root, skipping dependency and build directories.
func ScanProject(ctx context.Context, root string) (*ProjectStats, error) {
	stats := &ProjectStats{Extensions: map[string]int{}, Languages: map[string]int{}}
	dirs := map[string]bool{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if path != root && ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if stats.Files >= maxScanFiles {
			stats.Truncated = true
			return filepath.SkipAll
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.Files++
		stats.Bytes += info.Size()
		ext := strings.ToLower(filepath.Ext(path))
		if ext == "" {
			ext = "no_ext"
		}
		stats.Extensions[ext]++
		if lang := verify.DetectLanguage(path); lang != "" {
			stats.Languages[lang]++
		}
		if rel, err := filepath.Rel(root, path); err == nil {
			if parts := strings.Split(filepath.ToSlash(rel), "/"); len(parts) > 1 {
				dirs[parts[0]] = true
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	for d := range dirs {
		stats.TopDirs = append(stats.TopDirs, d)
	}
	sort.Strings(stats.TopDirs)
	return stats, nil
}

type countEntry struct {
	key   string
	count int
}

func topCounts(m map[string]int, n int) []countEntry {
	out := make([]countEntry, 0, len(m))
	for k, v := range m {
		out = append(out, countEntry{k, v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].count != out[j].count {
			return out[i].count > out[j].count
		}
		return out[i].key < out[j].key
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func formatStats(path string, s *ProjectStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project scan of %s\n", path)
	fmt.Fprintf(&b, "Total files: %d\n", s.Files)
	fmt.Fprintf(&b, "Total size: %.1f KB\n", float64(s.Bytes)/1024)
	fmt.Fprintf(&b, "Directories: %d\n", len(s.TopDirs))
	if s.Truncated {
		fmt.Fprintf(&b, "(stopped after %d files)\n", maxScanFiles)
	}
	b.WriteString("Top file types:\n")
	for _, e := range topCounts(s.Extensions, 5) {
		fmt.Fprintf(&b, "- %s: %d files\n", e.key, e.count)
	}
	if len(s.Languages) > 0 {
		b.WriteString("Languages:\n")
		for _, e := range topCounts(s.Languages, 6) {
			fmt.Fprintf(&b, "- %s: %d files\n", e.key, e.count)
		}
	}
	if len(s.TopDirs) > 0 {
		b.WriteString("Main directories:\n")
		for i, d := range s.TopDirs {
			if i == 10 {
				break
			}
			fmt.Fprintf(&b, "- %s/\n", d)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
