package verify

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Thresholds above which analyze reports a function.
const (
	MaxComplexity    = 10
	MaxFunctionLines = 50
	MaxParameters    = 5
	MaxNesting       = 4
)

// FunctionMetrics describes one def.
type FunctionMetrics struct {
	Name       string
	Line       int
	Lines      int
	Parameters int
	Complexity int
	Nesting    int
	Docstring  bool
}

// Analysis is the structural summary of a module.
type Analysis struct {
	Functions       []FunctionMetrics
	Classes         int
	Imports         int
	WildcardImports []int
	GlobalStmts     []int
	BareExcepts     []int
}

// Warnings renders findings worth showing to a reader.
func (a Analysis) Warnings() []string {
	var out []string
	for _, f := range a.Functions {
		if f.Complexity > MaxComplexity {
			out = append(out, fmt.Sprintf("%s (line %d) has cyclomatic complexity %d", f.Name, f.Line, f.Complexity))
		}
		if f.Lines > MaxFunctionLines {
			out = append(out, fmt.Sprintf("%s (line %d) is %d lines long", f.Name, f.Line, f.Lines))
		}
		if f.Parameters > MaxParameters {
			out = append(out, fmt.Sprintf("%s (line %d) takes %d parameters", f.Name, f.Line, f.Parameters))
		}
		if f.Nesting > MaxNesting {
			out = append(out, fmt.Sprintf("%s (line %d) nests %d levels deep", f.Name, f.Line, f.Nesting))
		}
	}
	for _, l := range a.WildcardImports {
		out = append(out, fmt.Sprintf("wildcard import on line %d", l))
	}
	for _, l := range a.GlobalStmts {
		out = append(out, fmt.Sprintf("global statement on line %d", l))
	}
	for _, l := range a.BareExcepts {
		out = append(out, fmt.Sprintf("bare except on line %d", l))
	}
	return out
}

var branchNodes = map[string]bool{
	"if_statement": true, "elif_clause": true, "for_statement": true, "while_statement": true,
	"except_clause": true, "boolean_operator": true, "conditional_expression": true,
	"if_clause": true, "case_clause": true,
}

var nestingNodes = map[string]bool{
	"if_statement": true, "for_statement": true, "while_statement": true,
	"try_statement": true, "with_statement": true, "match_statement": true,
}

// Analyze computes structural metrics for a parsed Python program.
func Analyze(p *Program) Analysis {
	var a Analysis
	walkNamed(p.Root, func(n *sitter.Node) bool {
		switch n.Type() {
		case "function_definition":
			a.Functions = append(a.Functions, functionMetrics(p, n))
		case "class_definition":
			a.Classes++
		case "import_statement":
			a.Imports++
		case "import_from_statement":
			a.Imports++
			for _, c := range namedChildren(n) {
				if c.Type() == "wildcard_import" {
					a.WildcardImports = append(a.WildcardImports, lineOf(n))
				}
			}
		case "global_statement":
			a.GlobalStmts = append(a.GlobalStmts, lineOf(n))
		case "except_clause":
			if len(namedChildren(n)) <= 1 {
				a.BareExcepts = append(a.BareExcepts, lineOf(n))
			}
		}
		return true
	})
	return a
}

func functionMetrics(p *Program, fn *sitter.Node) FunctionMetrics {
	m := FunctionMetrics{
		Name:       p.Text(fn.ChildByFieldName("name")),
		Line:       lineOf(fn),
		Lines:      int(fn.EndPoint().Row-fn.StartPoint().Row) + 1,
		Parameters: len(parameterNames(p, fn.ChildByFieldName("parameters"))),
		Complexity: 1,
	}
	body := fn.ChildByFieldName("body")
	if body != nil && body.NamedChildCount() > 0 {
		first := body.NamedChild(0)
		if first.Type() == "expression_statement" && first.NamedChildCount() > 0 && first.NamedChild(0).Type() == "string" {
			m.Docstring = true
		}
	}
	var visit func(n *sitter.Node, depth int)
	visit = func(n *sitter.Node, depth int) {
		for _, c := range namedChildren(n) {
			if c.Type() == "function_definition" || c.Type() == "class_definition" {
				continue
			}
			if branchNodes[c.Type()] {
				m.Complexity++
			}
			d := depth
			if nestingNodes[c.Type()] {
				d++
				if d > m.Nesting {
					m.Nesting = d
				}
			}
			visit(c, d)
		}
	}
	visit(body, 0)
	return m
}
