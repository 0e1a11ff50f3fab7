package verify

import (
	sitter "github.com/smacker/go-tree-sitter"
)

var mutatingMethods = map[string]bool{"remove": true, "pop": true, "append": true, "insert": true, "clear": true}

// loopMutations flags for-loops whose body mutates the collection being
// iterated. Iterating a copy (items[:], list(items)) is not flagged.
func loopMutations(p *Program) []Finding {
	lines := map[int]string{}
	walkNamed(p.Root, func(n *sitter.Node) bool {
		if n.Type() != "for_statement" {
			return true
		}
		target := iteratedCollection(p, n.ChildByFieldName("right"))
		if target == "" {
			return true
		}
		if method, ok := mutatesIn(p, n.ChildByFieldName("body"), target); ok {
			lines[lineOf(n)] = target + "." + method + "() while iterating over " + target
		}
		return true
	})
	return uniqueLines(CheckLoopMutation, lines)
}

// iteratedCollection returns the text of a plain name or attribute being
// iterated, looking through enumerate(...).
func iteratedCollection(p *Program, n *sitter.Node) string {
	n = unwrapParens(n)
	if n == nil {
		return ""
	}
	switch n.Type() {
	case "identifier", "attribute":
		return p.Text(n)
	case "call":
		fn := n.ChildByFieldName("function")
		if fn == nil || p.Text(fn) != "enumerate" {
			return ""
		}
		args := namedChildren(n.ChildByFieldName("arguments"))
		if len(args) == 0 {
			return ""
		}
		return iteratedCollection(p, args[0])
	}
	return ""
}

func mutatesIn(p *Program, body *sitter.Node, target string) (string, bool) {
	var method string
	walkNamed(body, func(n *sitter.Node) bool {
		if method != "" {
			return false
		}
		switch n.Type() {
		case "function_definition", "class_definition", "lambda":
			return false
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil || fn.Type() != "attribute" {
				return true
			}
			attr := fn.ChildByFieldName("attribute")
			if attr != nil && mutatingMethods[p.Text(attr)] && p.Text(fn.ChildByFieldName("object")) == target {
				method = p.Text(attr)
				return false
			}
		}
		return true
	})
	return method, method != ""
}
