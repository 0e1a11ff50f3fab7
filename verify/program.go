package verify

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const maxSyntaxErrors = 50

// SyntaxError is an ERROR or MISSING node reported by tree-sitter.
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e SyntaxError) String() string {
	return fmt.Sprintf("line %d, column %d: %s", e.Line, e.Column, e.Message)
}

// Program is a parsed source file. Checks read it and never mutate it.
type Program struct {
	Language string
	Source   []byte
	Root     *sitter.Node
	Errors   []SyntaxError

	tree *sitter.Tree
}

// Parse parses code with the grammar for language. A fresh parser is used per
// call so Parse is safe for concurrent use.
func Parse(ctx context.Context, language, code string) (*Program, error) {
	lang := Grammar(language)
	if lang == nil {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(lang)
	src := []byte(code)
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", language, err)
	}
	p := &Program{Language: language, Source: src, Root: tree.RootNode(), tree: tree}
	if p.Root.HasError() {
		collectSyntaxErrors(p.Root, src, &p.Errors, 0)
		if len(p.Errors) == 0 {
			p.Errors = append(p.Errors, SyntaxError{Line: 1, Message: "invalid syntax"})
		}
	}
	if strings.EqualFold(language, "python") {
		collectLegacyStatements(p.Root, &p.Errors, 0)
	}
	return p, nil
}

// collectLegacyStatements reports Python 2 print and exec statements. The
// grammar still accepts them; Python 3 does not.
func collectLegacyStatements(node *sitter.Node, out *[]SyntaxError, depth int) {
	if node == nil || depth > 1000 || len(*out) >= maxSyntaxErrors {
		return
	}
	var keyword string
	switch node.Type() {
	case "print_statement":
		if !isParenthesizedCall(node) {
			keyword = "print"
		}
	case "exec_statement":
		keyword = "exec"
	}
	if keyword != "" {
		pt := node.StartPoint()
		*out = append(*out, SyntaxError{
			Line:    int(pt.Row) + 1,
			Column:  int(pt.Column),
			Message: fmt.Sprintf("Missing parentheses in call to '%s'. Did you mean %s(...)?", keyword, keyword),
		})
		return
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		collectLegacyStatements(node.NamedChild(i), out, depth+1)
	}
}

// isParenthesizedCall matches `print (x)` and `print (a, b)`, which Python 3
// reads as calls.
func isParenthesizedCall(n *sitter.Node) bool {
	if n.NamedChildCount() != 1 {
		return false
	}
	switch n.NamedChild(0).Type() {
	case "parenthesized_expression", "tuple":
		return true
	}
	return false
}

// ParsePython is Parse for the python grammar.
func ParsePython(ctx context.Context, code string) (*Program, error) {
	return Parse(ctx, "python", code)
}

// Close releases the syntax tree.
func (p *Program) Close() {
	if p != nil && p.tree != nil {
		p.tree.Close()
		p.tree = nil
	}
}

// Valid reports whether the source parsed without errors.
func (p *Program) Valid() bool {
	return len(p.Errors) == 0
}

// Text returns the source covered by n.
func (p *Program) Text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(p.Source)
}

func lineOf(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func collectSyntaxErrors(node *sitter.Node, src []byte, out *[]SyntaxError, depth int) {
	if node == nil || depth > 1000 || len(*out) >= maxSyntaxErrors {
		return
	}
	if node.IsError() || node.IsMissing() {
		pt := node.StartPoint()
		msg := "invalid syntax"
		if node.IsMissing() {
			msg = fmt.Sprintf("missing %s", node.Type())
		} else if start, end := node.StartByte(), node.EndByte(); end > start && end-start < 100 && int(end) <= len(src) {
			snippet := strings.TrimSpace(string(src[start:end]))
			if nl := strings.IndexByte(snippet, '\n'); nl >= 0 {
				snippet = snippet[:nl]
			}
			if snippet != "" {
				msg = fmt.Sprintf("unexpected %q", snippet)
			}
		}
		*out = append(*out, SyntaxError{Line: int(pt.Row) + 1, Column: int(pt.Column), Message: msg})
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		collectSyntaxErrors(node.Child(i), src, out, depth+1)
	}
}

// Grammar returns the tree-sitter grammar for a language name.
func Grammar(language string) *sitter.Language {
	switch strings.ToLower(language) {
	case "python":
		return python.GetLanguage()
	case "go":
		return golang.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	case "rust":
		return rust.GetLanguage()
	case "bash":
		return bash.GetLanguage()
	default:
		return nil
	}
}

// DetectLanguage maps a file extension to a grammar name.
func DetectLanguage(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py", ".pyi":
		return "python"
	case ".go":
		return "go"
	case ".js", ".jsx", ".mjs", ".cjs":
		return "javascript"
	case ".ts", ".tsx", ".mts", ".cts":
		return "typescript"
	case ".rs":
		return "rust"
	case ".sh", ".bash":
		return "bash"
	default:
		return ""
	}
}

// walkNamed visits named nodes depth-first. fn returns false to skip children.
func walkNamed(n *sitter.Node, fn func(*sitter.Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walkNamed(n.NamedChild(i), fn)
	}
}

func namedChildren(n *sitter.Node) []*sitter.Node {
	if n == nil {
		return nil
	}
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if c := n.NamedChild(i); c != nil {
			out = append(out, c)
		}
	}
	return out
}

// contains reports whether inner lies within outer by byte range.
func contains(outer, inner *sitter.Node) bool {
	if outer == nil || inner == nil {
		return false
	}
	return inner.StartByte() >= outer.StartByte() && inner.EndByte() <= outer.EndByte()
}

// unwrapParens strips parenthesized_expression wrappers.
func unwrapParens(n *sitter.Node) *sitter.Node {
	for n != nil && n.Type() == "parenthesized_expression" && n.NamedChildCount() == 1 {
		n = n.NamedChild(0)
	}
	return n
}

func isAsyncDef(n *sitter.Node) bool {
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		switch c.Type() {
		case "async":
			return true
		case "def":
			return false
		}
	}
	return false
}
