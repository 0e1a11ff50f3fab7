package tools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/codemend/framework"
)

func newWorkspace(t *testing.T) Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestWorkspaceResolve(t *testing.T) {
	ws := newWorkspace(t)
	p, err := ws.Resolve("pkg/a.py")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws.Root, "pkg", "a.py"), p)

	_, err = ws.Resolve("../escape.py")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
	_, err = ws.Resolve("/etc/passwd")
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestReadFileTool(t *testing.T) {
	ws := newWorkspace(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "hello.py"), []byte("print('hi')\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws.Root, "blob.bin"), []byte{0x00, 0x01}, 0o644))

	tool := &ReadFileTool{Workspace: ws}
	out, err := tool.Invoke(context.Background(), map[string]interface{}{"path": "hello.py"})
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", out)

	_, err = tool.Invoke(context.Background(), map[string]interface{}{"path": "blob.bin"})
	assert.ErrorIs(t, err, errBinaryFile)

	_, err = tool.Invoke(context.Background(), map[string]interface{}{"path": "../x"})
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestBackupFileDoesNotOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	wrote, err := BackupFile(path)
	require.NoError(t, err)
	assert.True(t, wrote)

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	wrote, err = BackupFile(path)
	require.NoError(t, err)
	assert.False(t, wrote)

	data, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	assert.Equal(t, "v1", string(data))
}

func TestScanProjectTool(t *testing.T) {
	ws := newWorkspace(t)
	files := map[string]string{
		"main.py":               "x = 1\n",
		"pkg/util.py":           "y = 2\n",
		"web/app.js":            "let z = 3\n",
		"README":                "docs\n",
		"node_modules/dep/i.js": "ignored\n",
		"__pycache__/main.pyc":  "ignored\n",
	}
	for name, body := range files {
		p := filepath.Join(ws.Root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}

	stats, err := ScanProject(context.Background(), ws.Root)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Files)
	assert.Equal(t, 2, stats.Extensions[".py"])
	assert.Equal(t, 1, stats.Extensions["no_ext"])
	assert.Equal(t, 2, stats.Languages["python"])
	assert.Equal(t, []string{"pkg", "web"}, stats.TopDirs)

	out, err := (&ScanProjectTool{Workspace: ws}).Invoke(context.Background(), map[string]interface{}{})
	require.NoError(t, err)
	assert.Contains(t, out, "Total files: 4")
	assert.Contains(t, out, "- .py: 2 files")
	assert.Contains(t, out, "- pkg/")

	_, err = (&ScanProjectTool{Workspace: ws}).Invoke(context.Background(), map[string]interface{}{"project_path": ".."})
	assert.ErrorIs(t, err, ErrOutsideWorkspace)
}

func TestCheckSyntaxTool(t *testing.T) {
	tool := &CheckSyntaxTool{}
	out, err := tool.Invoke(context.Background(), map[string]interface{}{"code": "def f():\n    return 1\n"})
	require.NoError(t, err)
	assert.Equal(t, "python syntax is valid", out)

	out, err = tool.Invoke(context.Background(), map[string]interface{}{"code": "def f(:\n", "language": "python"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Syntax errors in python code:\n- line 1"), out)

	out, err = tool.Invoke(context.Background(), map[string]interface{}{"code": "package main\nfunc main() {}\n", "language": "go"})
	require.NoError(t, err)
	assert.Equal(t, "go syntax is valid", out)

	_, err = tool.Invoke(context.Background(), map[string]interface{}{"code": "x", "language": "cobol"})
	var argErr *framework.ArgumentError
	assert.True(t, errors.As(err, &argErr))
}

func TestAnalyzeCodeTool(t *testing.T) {
	code := "from os import *\n\ndef avg(items):\n    return sum(items) / len(items)\n"
	out, err := (&AnalyzeCodeTool{}).Invoke(context.Background(), map[string]interface{}{"code": code})
	require.NoError(t, err)
	assert.Contains(t, out, "Score: 85/100")
	assert.Contains(t, out, "- Division by zero risk on lines: 4")
	assert.Contains(t, out, "- avg (line 3)")
	assert.Contains(t, out, "wildcard import on line 1")

	out, err = (&AnalyzeCodeTool{}).Invoke(context.Background(), map[string]interface{}{"code": "def (:"})
	require.NoError(t, err)
	assert.Contains(t, out, "Score: 0/100")
	assert.NotContains(t, out, "Functions:")
}

func TestNewRegistry(t *testing.T) {
	reg, err := NewRegistry(Options{Workspace: newWorkspace(t)})
	require.NoError(t, err)
	assert.Equal(t, []string{
		"check_syntax", "analyze_code", "run_code", "profile_code", "read_file",
		"scan_project", "git_status", "git_diff", "git_history",
	}, reg.Names())
	assert.ErrorIs(t, reg.Register(&CheckSyntaxTool{}), framework.ErrRegistrySealed)

	for _, desc := range reg.DescribeAll() {
		assert.NotEmpty(t, desc.Description, desc.Name)
	}
	run, ok := reg.Get("run_code")
	require.True(t, ok)
	p, ok := run.Descriptor().Parameter("code")
	require.True(t, ok)
	assert.True(t, p.Required)
}

func TestDispatchThroughDefaultRegistry(t *testing.T) {
	reg, err := NewRegistry(Options{Workspace: newWorkspace(t)})
	require.NoError(t, err)
	d := framework.NewDispatcher(reg)

	out := d.Dispatch(context.Background(), "check_syntax", map[string]interface{}{})
	assert.False(t, out.Success)
	assert.True(t, strings.HasPrefix(out.Text, "Invalid parameters for 'check_syntax':"), out.Text)

	out = d.Dispatch(context.Background(), "run_code", map[string]interface{}{"code": "print(1)"})
	assert.False(t, out.Success)
	assert.Contains(t, out.Text, "code execution is disabled")
}
