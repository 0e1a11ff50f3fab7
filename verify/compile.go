package verify

import (
	"fmt"
	"sort"

	sitter "github.com/smacker/go-tree-sitter"
)

// compileCtx tracks what the enclosing code block allows.
type compileCtx struct {
	inFunction bool
	inAsync    bool
	inLoop     bool
}

// compileErrors reports constructs tree-sitter accepts but CPython rejects at
// compile time, which would make the module fail to import.
func compileErrors(p *Program) []Finding {
	var out []Finding
	checkDeclarations(p, p.Root, nil, &out)
	compileWalk(p, p.Root, compileCtx{}, &out)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Line < out[j].Line })
	return out
}

func compileWalk(p *Program, n *sitter.Node, cc compileCtx, out *[]Finding) {
	if n == nil {
		return
	}
	report := func(format string, args ...interface{}) {
		*out = append(*out, Finding{Check: CheckCompile, Line: lineOf(n), Message: fmt.Sprintf(format, args...)})
	}
	switch n.Type() {
	case "function_definition":
		params := n.ChildByFieldName("parameters")
		checkDuplicateParams(p, params, out)
		checkParameterOrder(params, out)
		body := n.ChildByFieldName("body")
		checkDeclarations(p, body, parameterSet(p, params), out)
		for _, c := range namedChildren(n) {
			if body != nil && c.StartByte() == body.StartByte() && c.EndByte() == body.EndByte() {
				continue
			}
			compileWalk(p, c, cc, out)
		}
		compileWalk(p, body, compileCtx{inFunction: true, inAsync: isAsyncDef(n)}, out)
		return
	case "lambda":
		checkDuplicateParams(p, n.ChildByFieldName("parameters"), out)
		checkParameterOrder(n.ChildByFieldName("parameters"), out)
		compileWalk(p, n.ChildByFieldName("body"), compileCtx{inFunction: true}, out)
		return
	case "class_definition":
		for _, c := range namedChildren(n) {
			if c.Type() == "block" {
				checkDeclarations(p, c, nil, out)
				compileWalk(p, c, compileCtx{}, out)
				continue
			}
			compileWalk(p, c, cc, out)
		}
		return
	case "for_statement", "while_statement":
		body := n.ChildByFieldName("body")
		for _, c := range namedChildren(n) {
			inner := cc
			if body != nil && c.StartByte() == body.StartByte() && c.EndByte() == body.EndByte() {
				inner.inLoop = true
			}
			compileWalk(p, c, inner, out)
		}
		return
	case "return_statement":
		if !cc.inFunction {
			report("'return' outside function")
		}
	case "yield":
		if !cc.inFunction {
			report("'yield' outside function")
		}
	case "await":
		if !cc.inAsync {
			report("'await' outside async function")
		}
	case "break_statement":
		if !cc.inLoop {
			report("'break' outside loop")
		}
	case "continue_statement":
		if !cc.inLoop {
			report("'continue' not properly in loop")
		}
	case "nonlocal_statement":
		if !cc.inFunction {
			report("nonlocal declaration not allowed at module level")
		}
	case "argument_list":
		checkArgumentOrder(n, out)
	case "import_from_statement":
		if cc.inFunction {
			for _, c := range namedChildren(n) {
				if c.Type() == "wildcard_import" {
					report("import * only allowed at module level")
				}
			}
		}
	}
	for _, c := range namedChildren(n) {
		compileWalk(p, c, cc, out)
	}
}

func checkDuplicateParams(p *Program, params *sitter.Node, out *[]Finding) {
	seen := map[string]bool{}
	for _, id := range parameterNames(p, params) {
		name := p.Text(id)
		if seen[name] {
			*out = append(*out, Finding{
				Check:   CheckCompile,
				Line:    lineOf(id),
				Name:    name,
				Message: fmt.Sprintf("duplicate argument '%s' in function definition", name),
			})
		}
		seen[name] = true
	}
}

// parameterNames returns the identifier nodes a parameter list binds.
func parameterNames(p *Program, params *sitter.Node) []*sitter.Node {
	var ids []*sitter.Node
	for _, c := range namedChildren(params) {
		switch c.Type() {
		case "identifier":
			ids = append(ids, c)
		case "default_parameter", "typed_default_parameter":
			if name := c.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				ids = append(ids, name)
			}
		case "typed_parameter", "list_splat_pattern", "dictionary_splat_pattern":
			for _, inner := range namedChildren(c) {
				if inner.Type() == "identifier" {
					ids = append(ids, inner)
					break
				}
				if inner.Type() == "list_splat_pattern" || inner.Type() == "dictionary_splat_pattern" {
					for _, id := range namedChildren(inner) {
						if id.Type() == "identifier" {
							ids = append(ids, id)
							break
						}
					}
					break
				}
			}
		}
	}
	return ids
}

// checkParameterOrder reports a parameter without a default after one with a
// default. Parameters after * or *args are keyword-only and exempt.
func checkParameterOrder(params *sitter.Node, out *[]Finding) {
	sawDefault := false
	for _, c := range namedChildren(params) {
		switch c.Type() {
		case "default_parameter", "typed_default_parameter":
			sawDefault = true
		case "keyword_separator", "list_splat_pattern", "dictionary_splat_pattern":
			return
		case "typed_parameter":
			if first := c.NamedChild(0); first != nil && (first.Type() == "list_splat_pattern" || first.Type() == "dictionary_splat_pattern") {
				return
			}
			fallthrough
		case "identifier":
			if sawDefault {
				*out = append(*out, Finding{Check: CheckCompile, Line: lineOf(c), Message: "non-default argument follows default argument"})
				return
			}
		}
	}
}

// checkArgumentOrder applies the call argument rules: positional arguments
// come before keyword arguments and ** unpacking, and * unpacking comes
// before ** unpacking.
func checkArgumentOrder(args *sitter.Node, out *[]Finding) {
	sawKeyword, sawDoubleStar := false, false
	for _, c := range namedChildren(args) {
		var msg string
		switch c.Type() {
		case "comment":
			continue
		case "keyword_argument":
			sawKeyword = true
		case "dictionary_splat":
			sawDoubleStar = true
		case "list_splat":
			if sawDoubleStar {
				msg = "iterable argument unpacking follows keyword argument unpacking"
			}
		default:
			if sawDoubleStar {
				msg = "positional argument follows keyword argument unpacking"
			} else if sawKeyword {
				msg = "positional argument follows keyword argument"
			}
		}
		if msg != "" {
			*out = append(*out, Finding{Check: CheckCompile, Line: lineOf(c), Message: msg})
			return
		}
	}
}

func parameterSet(p *Program, params *sitter.Node) map[string]bool {
	set := map[string]bool{}
	for _, id := range parameterNames(p, params) {
		set[p.Text(id)] = true
	}
	return set
}

// nameUse records how a name was referenced before a declaration.
type nameUse struct {
	used     bool
	assigned bool
}

// checkDeclarations reports global and nonlocal statements naming something
// the same scope already used, assigned or took as a parameter. Nested
// function, class and lambda bodies are separate scopes and are skipped.
func checkDeclarations(p *Program, body *sitter.Node, params map[string]bool, out *[]Finding) {
	seen := map[string]*nameUse{}
	mark := func(id *sitter.Node, store bool) {
		if id == nil || id.Type() != "identifier" {
			return
		}
		u := seen[p.Text(id)]
		if u == nil {
			u = &nameUse{}
			seen[p.Text(id)] = u
		}
		if store {
			u.assigned = true
		} else {
			u.used = true
		}
	}

	var walk func(n *sitter.Node, store bool)
	walk = func(n *sitter.Node, store bool) {
		if n == nil {
			return
		}
		switch n.Type() {
		case "global_statement", "nonlocal_statement":
			kind := "global"
			if n.Type() == "nonlocal_statement" {
				kind = "nonlocal"
			}
			for _, id := range namedChildren(n) {
				if id.Type() != "identifier" {
					continue
				}
				name := p.Text(id)
				var msg string
				switch u := seen[name]; {
				case params[name]:
					msg = fmt.Sprintf("name '%s' is parameter and %s", name, kind)
				case u != nil && u.used:
					msg = fmt.Sprintf("name '%s' is used prior to %s declaration", name, kind)
				case u != nil && u.assigned:
					msg = fmt.Sprintf("name '%s' is assigned to before %s declaration", name, kind)
				}
				if msg != "" {
					*out = append(*out, Finding{Check: CheckCompile, Line: lineOf(id), Name: name, Message: msg})
				}
			}
			return
		case "identifier":
			mark(n, store)
			return
		case "function_definition":
			mark(n.ChildByFieldName("name"), true)
			for _, c := range namedChildren(n.ChildByFieldName("parameters")) {
				walk(c.ChildByFieldName("value"), false)
			}
			return
		case "class_definition":
			mark(n.ChildByFieldName("name"), true)
			walk(n.ChildByFieldName("superclasses"), false)
			return
		case "lambda":
			return
		case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
			for _, c := range namedChildren(n) {
				if c.Type() == "for_in_clause" {
					walk(c.ChildByFieldName("right"), false)
					break
				}
			}
			return
		case "assignment", "augmented_assignment":
			walk(n.ChildByFieldName("left"), true)
			walk(n.ChildByFieldName("type"), false)
			walk(n.ChildByFieldName("right"), false)
			return
		case "for_statement":
			for _, c := range namedChildren(n) {
				walk(c, sameNode(c, n.ChildByFieldName("left")))
			}
			return
		case "named_expression":
			mark(n.ChildByFieldName("name"), true)
			walk(n.ChildByFieldName("value"), false)
			return
		case "attribute":
			walk(n.ChildByFieldName("object"), false)
			return
		case "subscript":
			for _, c := range namedChildren(n) {
				walk(c, false)
			}
			return
		case "keyword_argument":
			walk(n.ChildByFieldName("value"), false)
			return
		case "import_statement", "import_from_statement":
			module := n.ChildByFieldName("module_name")
			for _, c := range namedChildren(n) {
				switch {
				case sameNode(c, module):
				case c.Type() == "dotted_name":
					mark(c.NamedChild(0), true)
				case c.Type() == "aliased_import":
					mark(c.ChildByFieldName("alias"), true)
				}
			}
			return
		}
		for _, c := range namedChildren(n) {
			walk(c, store)
		}
	}
	for _, c := range namedChildren(body) {
		walk(c, false)
	}
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}
