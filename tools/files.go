package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/lexcodex/codemend/framework"
)

var errBinaryFile = errors.New("binary file detected")

// ErrOutsideWorkspace is returned for paths that escape the workspace root.
var ErrOutsideWorkspace = errors.New("path outside workspace")

// maxReadBytes bounds how much of a file read_file returns.
const maxReadBytes = 64 * 1024

// Workspace confines tool paths to a root directory.
type Workspace struct {
	Root string
}

// NewWorkspace resolves root to an absolute path.
func NewWorkspace(root string) (Workspace, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return Workspace{}, fmt.Errorf("resolve workspace: %w", err)
	}
	return Workspace{Root: filepath.Clean(abs)}, nil
}

// Resolve maps a relative or absolute path into the workspace.
func (w Workspace) Resolve(path string) (string, error) {
	if path == "" {
		path = "."
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(w.Root, path)
	}
	abs = filepath.Clean(abs)
	rel, err := filepath.Rel(w.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideWorkspace)
	}
	return abs, nil
}

// Rel renders abs relative to the workspace root for display.
func (w Workspace) Rel(abs string) string {
	if rel, err := filepath.Rel(w.Root, abs); err == nil {
		return rel
	}
	return abs
}

type readFileArgs struct {
	Path string `json:"path" jsonschema:"required" jsonschema_description:"File path relative to the workspace" validate:"required"`
}

// ReadFileTool reads text files from the workspace.
type ReadFileTool struct {
	Workspace Workspace
}

func (t *ReadFileTool) Descriptor() framework.ToolDescriptor {
	return framework.ToolDescriptor{
		Name:        "read_file",
		Description: "Read a UTF-8 text file from the project.",
		Parameters:  framework.ParametersFor[readFileArgs](),
	}
}

func (t *ReadFileTool) Invoke(ctx context.Context, raw map[string]interface{}) (string, error) {
	args, err := framework.DecodeArgs[readFileArgs](raw)
	if err != nil {
		return "", err
	}
	path, err := t.Workspace.Resolve(args.Path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
	if err != nil {
		return "", err
	}
	if !isText(data) {
		return "", errBinaryFile
	}
	if len(data) > maxReadBytes {
		return string(data[:maxReadBytes]) + "\n...(truncated)", nil
	}
	return string(data), nil
}

// BackupFile copies path to path.bak unless a backup already exists. It
// reports whether a new backup was written.
func BackupFile(path string) (bool, error) {
	backup := path + ".bak"
	if _, err := os.Stat(backup); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := copyFile(path, backup); err != nil {
		return false, fmt.Errorf("backup %s: %w", path, err)
	}
	return true, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func isText(data []byte) bool {
	if bytes.IndexByte(data, 0) >= 0 {
		return false
	}
	return utf8.Valid(data)
}
