package verify

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

type scopeKind int

const (
	scopeModule scopeKind = iota
	scopeFunction
	scopeClass
	scopeComprehension
)

// scope tracks bindings for the unbound-name heuristic. bound grows in source
// order; all holds every binding in the block and is used for enclosing
// scopes, whose bodies finish executing before nested functions run.
type scope struct {
	kind     scopeKind
	parent   *scope
	bound    map[string]bool
	all      map[string]bool
	wildcard bool
}

func newScope(kind scopeKind, parent *scope) *scope {
	return &scope{kind: kind, parent: parent, bound: map[string]bool{}, all: map[string]bool{}}
}

func (s *scope) inFunction() bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.kind == scopeFunction {
			return true
		}
	}
	return false
}

// resolves applies Python's lookup order: local prior bindings, enclosing
// function scopes (class bodies are skipped), module, builtins.
func (s *scope) resolves(name string) bool {
	if pythonBuiltins[name] {
		return true
	}
	nearestFunction := true
	for cur := s; cur != nil; cur = cur.parent {
		if cur.wildcard {
			return true
		}
		switch cur.kind {
		case scopeComprehension:
			if cur.bound[name] {
				return true
			}
		case scopeClass:
			if cur == s && cur.bound[name] {
				return true
			}
		case scopeFunction:
			if nearestFunction {
				if cur.bound[name] {
					return true
				}
				nearestFunction = false
			} else if cur.all[name] {
				return true
			}
		case scopeModule:
			if cur.all[name] {
				return true
			}
		}
	}
	return false
}

type nameAnalyzer struct {
	p       *Program
	flagged map[string]bool
	out     []Finding
}

// unboundNames flags names read inside functions that no binding reaches.
func unboundNames(p *Program) []Finding {
	a := &nameAnalyzer{p: p, flagged: map[string]bool{}}
	module := newScope(scopeModule, nil)
	a.collect(p.Root, module)
	a.walkBlock(p.Root, module)
	return a.out
}

func (a *nameAnalyzer) load(id *sitter.Node, s *scope) {
	name := a.p.Text(id)
	if name == "" || !s.inFunction() || s.resolves(name) || a.flagged[name] {
		return
	}
	a.flagged[name] = true
	if len(a.out) < MaxUnboundNames {
		a.out = append(a.out, Finding{
			Check:   CheckUnboundNames,
			Line:    lineOf(id),
			Name:    name,
			Message: fmt.Sprintf("'%s' may be used before assignment", name),
		})
	}
}

func (a *nameAnalyzer) walkBlock(n *sitter.Node, s *scope) {
	for _, c := range namedChildren(n) {
		a.walk(c, s)
	}
}

// walk visits n in roughly evaluation order, recording loads and bindings.
func (a *nameAnalyzer) walk(n *sitter.Node, s *scope) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		a.load(n, s)
	case "type", "comment", "string_content", "escape_sequence", "dotted_name", "aliased_import", "wildcard_import":
		// annotations and literals never read names at runtime in a way we track
	case "attribute":
		a.walk(n.ChildByFieldName("object"), s)
	case "keyword_argument":
		a.walk(n.ChildByFieldName("value"), s)
	case "assignment":
		a.walk(n.ChildByFieldName("right"), s)
		a.bindTarget(n.ChildByFieldName("left"), s)
	case "augmented_assignment":
		a.walk(n.ChildByFieldName("right"), s)
		left := n.ChildByFieldName("left")
		if left != nil && left.Type() == "identifier" {
			a.load(left, s)
		}
		a.bindTarget(left, s)
	case "named_expression":
		a.walk(n.ChildByFieldName("value"), s)
		a.bindName(n.ChildByFieldName("name"), s)
	case "for_statement":
		a.walk(n.ChildByFieldName("right"), s)
		a.bindTarget(n.ChildByFieldName("left"), s)
		a.walk(n.ChildByFieldName("body"), s)
		a.walk(n.ChildByFieldName("alternative"), s)
	case "as_pattern":
		alias := n.ChildByFieldName("alias")
		for _, c := range namedChildren(n) {
			if alias != nil && c.StartByte() == alias.StartByte() {
				continue
			}
			a.walk(c, s)
		}
		a.bindTarget(alias, s)
	case "except_clause":
		a.walkExcept(n, s)
	case "import_statement", "import_from_statement":
		for _, name := range importedNames(a.p, n) {
			s.bound[name] = true
		}
	case "global_statement", "nonlocal_statement":
		for _, c := range namedChildren(n) {
			a.bindName(c, s)
		}
	case "decorated_definition":
		a.walkBlock(n, s)
	case "function_definition":
		a.walkFunction(n, s)
	case "lambda":
		a.walkLambda(n, s)
	case "class_definition":
		a.walk(n.ChildByFieldName("superclasses"), s)
		a.bindName(n.ChildByFieldName("name"), s)
		inner := newScope(scopeClass, s)
		a.walkBlock(n.ChildByFieldName("body"), inner)
	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		a.walkComprehension(n, s)
	case "case_clause":
		for _, c := range namedChildren(n) {
			if c.Type() == "case_pattern" {
				a.bindAll(c, s)
				continue
			}
			a.walk(c, s)
		}
	default:
		a.walkBlock(n, s)
	}
}

func (a *nameAnalyzer) walkExcept(n *sitter.Node, s *scope) {
	afterAs := false
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil {
			continue
		}
		if c.Type() == "as" {
			afterAs = true
			continue
		}
		if !c.IsNamed() {
			continue
		}
		if afterAs {
			a.bindTarget(c, s)
			afterAs = false
			continue
		}
		a.walk(c, s)
	}
}

func (a *nameAnalyzer) walkFunction(n *sitter.Node, s *scope) {
	params := n.ChildByFieldName("parameters")
	a.walkDefaults(params, s)
	a.bindName(n.ChildByFieldName("name"), s)

	inner := newScope(scopeFunction, s)
	for _, id := range parameterNames(a.p, params) {
		inner.bound[a.p.Text(id)] = true
		inner.all[a.p.Text(id)] = true
	}
	body := n.ChildByFieldName("body")
	a.collect(body, inner)
	a.walkBlock(body, inner)
}

func (a *nameAnalyzer) walkLambda(n *sitter.Node, s *scope) {
	params := n.ChildByFieldName("parameters")
	a.walkDefaults(params, s)
	inner := newScope(scopeFunction, s)
	for _, id := range parameterNames(a.p, params) {
		inner.bound[a.p.Text(id)] = true
		inner.all[a.p.Text(id)] = true
	}
	a.walk(n.ChildByFieldName("body"), inner)
}

// walkDefaults reads default values, which evaluate in the defining scope.
func (a *nameAnalyzer) walkDefaults(params *sitter.Node, s *scope) {
	for _, c := range namedChildren(params) {
		if c.Type() == "default_parameter" || c.Type() == "typed_default_parameter" {
			a.walk(c.ChildByFieldName("value"), s)
		}
	}
}

func (a *nameAnalyzer) walkComprehension(n *sitter.Node, s *scope) {
	inner := newScope(scopeComprehension, s)
	body := n.ChildByFieldName("body")
	for _, c := range namedChildren(n) {
		if body != nil && c.StartByte() == body.StartByte() && c.EndByte() == body.EndByte() {
			continue
		}
		if c.Type() == "for_in_clause" {
			a.walk(c.ChildByFieldName("right"), inner)
			a.bindTarget(c.ChildByFieldName("left"), inner)
			continue
		}
		a.walk(c, inner)
	}
	a.walk(body, inner)
}

func (a *nameAnalyzer) bindName(n *sitter.Node, s *scope) {
	if n != nil && n.Type() == "identifier" {
		s.bound[a.p.Text(n)] = true
	}
}

// bindTarget binds identifiers in an assignment target; subscripts and
// attributes on the left still read their base.
func (a *nameAnalyzer) bindTarget(n *sitter.Node, s *scope) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "identifier":
		a.bindName(n, s)
	case "attribute", "subscript":
		a.walk(n, s)
	default:
		for _, c := range namedChildren(n) {
			a.bindTarget(c, s)
		}
	}
}

// bindAll binds every identifier below n; used for match patterns.
func (a *nameAnalyzer) bindAll(n *sitter.Node, s *scope) {
	walkNamed(n, func(c *sitter.Node) bool {
		if c.Type() == "identifier" {
			s.bound[a.p.Text(c)] = true
		}
		return true
	})
}

// collect gathers every binding made directly in a block into s.all,
// without entering nested scopes.
func (a *nameAnalyzer) collect(n *sitter.Node, s *scope) {
	var visit func(*sitter.Node)
	addTargets := func(t *sitter.Node) {
		walkNamed(t, func(c *sitter.Node) bool {
			switch c.Type() {
			case "identifier":
				s.all[a.p.Text(c)] = true
				return false
			case "attribute", "subscript":
				return false
			}
			return true
		})
	}
	visit = func(c *sitter.Node) {
		if c == nil {
			return
		}
		switch c.Type() {
		case "function_definition", "class_definition":
			if name := c.ChildByFieldName("name"); name != nil {
				s.all[a.p.Text(name)] = true
			}
			return
		case "lambda", "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
			return
		case "assignment", "augmented_assignment":
			addTargets(c.ChildByFieldName("left"))
			visit(c.ChildByFieldName("right"))
			return
		case "for_statement":
			addTargets(c.ChildByFieldName("left"))
		case "as_pattern":
			addTargets(c.ChildByFieldName("alias"))
		case "named_expression":
			addTargets(c.ChildByFieldName("name"))
		case "case_pattern":
			addTargets(c)
			return
		case "except_clause":
			afterAs := false
			for i := 0; i < int(c.ChildCount()); i++ {
				child := c.Child(i)
				if child == nil {
					continue
				}
				if child.Type() == "as" {
					afterAs = true
					continue
				}
				if afterAs && child.IsNamed() {
					addTargets(child)
					afterAs = false
				}
			}
		case "import_statement", "import_from_statement":
			for _, name := range importedNames(a.p, c) {
				s.all[name] = true
			}
			for _, child := range namedChildren(c) {
				if child.Type() == "wildcard_import" {
					s.wildcard = true
				}
			}
			return
		case "global_statement", "nonlocal_statement":
			addTargets(c)
			return
		}
		for _, child := range namedChildren(c) {
			visit(child)
		}
	}
	for _, c := range namedChildren(n) {
		visit(c)
	}
}

// importedNames returns the local names an import statement binds.
func importedNames(p *Program, n *sitter.Node) []string {
	module := n.ChildByFieldName("module_name")
	var names []string
	for _, c := range namedChildren(n) {
		if module != nil && c.StartByte() == module.StartByte() && c.EndByte() == module.EndByte() {
			continue
		}
		switch c.Type() {
		case "aliased_import":
			if alias := c.ChildByFieldName("alias"); alias != nil {
				names = append(names, p.Text(alias))
			}
		case "dotted_name":
			if n.Type() == "import_statement" {
				if first := c.NamedChild(0); first != nil {
					names = append(names, p.Text(first))
				}
			} else {
				names = append(names, p.Text(c))
			}
		}
	}
	return names
}

var pythonBuiltins = func() map[string]bool {
	names := []string{
		"abs", "aiter", "all", "anext", "any", "ascii", "bin", "bool", "breakpoint", "bytearray", "bytes",
		"callable", "chr", "classmethod", "compile", "complex", "copyright", "credits", "delattr", "dict",
		"dir", "divmod", "enumerate", "eval", "exec", "exit", "filter", "float", "format", "frozenset",
		"getattr", "globals", "hasattr", "hash", "help", "hex", "id", "input", "int", "isinstance",
		"issubclass", "iter", "len", "license", "list", "locals", "map", "max", "memoryview", "min", "next",
		"object", "oct", "open", "ord", "pow", "print", "property", "quit", "range", "repr", "reversed",
		"round", "set", "setattr", "slice", "sorted", "staticmethod", "str", "sum", "super", "tuple", "type",
		"vars", "zip", "__import__", "__name__", "__file__", "__doc__", "__spec__", "__loader__",
		"__package__", "__builtins__", "__debug__", "__annotations__", "__class__",
		"True", "False", "None", "Ellipsis", "NotImplemented",
		"BaseException", "BaseExceptionGroup", "Exception", "ExceptionGroup", "ArithmeticError",
		"AssertionError", "AttributeError", "BlockingIOError", "BrokenPipeError", "BufferError",
		"ChildProcessError", "ConnectionAbortedError", "ConnectionError", "ConnectionRefusedError",
		"ConnectionResetError", "EOFError", "EnvironmentError", "FileExistsError", "FileNotFoundError",
		"FloatingPointError", "GeneratorExit", "IOError", "ImportError", "IndentationError", "IndexError",
		"InterruptedError", "IsADirectoryError", "KeyError", "KeyboardInterrupt", "LookupError",
		"MemoryError", "ModuleNotFoundError", "NameError", "NotADirectoryError", "NotImplementedError",
		"OSError", "OverflowError", "PermissionError", "ProcessLookupError", "RecursionError",
		"ReferenceError", "RuntimeError", "StopAsyncIteration", "StopIteration", "SyntaxError",
		"SystemError", "SystemExit", "TabError", "TimeoutError", "TypeError", "UnboundLocalError",
		"UnicodeDecodeError", "UnicodeEncodeError", "UnicodeError", "UnicodeTranslateError",
		"ValueError", "ZeroDivisionError", "Warning", "DeprecationWarning", "RuntimeWarning",
		"UserWarning", "FutureWarning", "PendingDeprecationWarning", "SyntaxWarning", "ImportWarning",
		"UnicodeWarning", "BytesWarning", "ResourceWarning", "EncodingWarning",
	}
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}()
