package verify

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

var divisionOperators = map[string]bool{"/": true, "//": true, "%": true, "/=": true, "//=": true, "%=": true}

// lengthLike are builtins whose result may be zero for an empty collection.
var lengthLike = map[string]bool{"len": true}

// lengthDivisions flags divisions by len(...) that no guard protects.
func lengthDivisions(p *Program) []Finding {
	lines := map[int]string{}
	walkNamed(p.Root, func(n *sitter.Node) bool {
		if n.Type() != "binary_operator" && n.Type() != "augmented_assignment" {
			return true
		}
		op := n.ChildByFieldName("operator")
		if op == nil || !divisionOperators[p.Text(op)] {
			return true
		}
		operand, ok := lengthOperand(p, n.ChildByFieldName("right"))
		if !ok || guarded(p, n, operand) {
			return true
		}
		lines[lineOf(n)] = "division by " + p.Text(unwrapParens(n.ChildByFieldName("right")))
		return true
	})
	return uniqueLines(CheckLengthDivision, lines)
}

// lengthOperand returns the argument text of a len(...) call.
func lengthOperand(p *Program, n *sitter.Node) (string, bool) {
	n = unwrapParens(n)
	if n == nil || n.Type() != "call" {
		return "", false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil || fn.Type() != "identifier" || !lengthLike[p.Text(fn)] {
		return "", false
	}
	args := namedChildren(n.ChildByFieldName("arguments"))
	if len(args) == 0 {
		return "", true
	}
	return strings.TrimSpace(p.Text(args[0])), true
}

// guarded looks for a condition on operand around or before the division:
// an enclosing if/while/conditional/and, an early exit or assert earlier in
// an enclosing block, or a ZeroDivisionError handler.
func guarded(p *Program, div *sitter.Node, operand string) bool {
	if operand == "" {
		return false
	}
	mentions := mentionPattern(operand)
	child := div
	for cur := div.Parent(); cur != nil; child, cur = cur, cur.Parent() {
		switch cur.Type() {
		case "function_definition", "lambda", "module", "class_definition":
			return false
		case "if_statement", "elif_clause", "while_statement":
			cond := cur.ChildByFieldName("condition")
			if cond != nil && !contains(cond, div) && mentions.MatchString(p.Text(cond)) {
				return true
			}
		case "conditional_expression":
			parts := namedChildren(cur)
			if len(parts) == 3 && !contains(parts[1], div) && mentions.MatchString(p.Text(parts[1])) {
				return true
			}
		case "boolean_operator":
			left := cur.ChildByFieldName("left")
			if left != nil && !contains(left, div) && mentions.MatchString(p.Text(left)) {
				return true
			}
		case "try_statement":
			if handlesZeroDivision(p, cur) && !inHandler(cur, div) {
				return true
			}
		case "block":
			if earlyExitBefore(p, cur, child, mentions) {
				return true
			}
		}
	}
	return false
}

func mentionPattern(operand string) *regexp.Regexp {
	return regexp.MustCompile(`(^|[^\w.])` + regexp.QuoteMeta(operand) + `($|[^\w])`)
}

func handlesZeroDivision(p *Program, try *sitter.Node) bool {
	for _, c := range namedChildren(try) {
		if c.Type() != "except_clause" {
			continue
		}
		exprs := namedChildren(c)
		if len(exprs) <= 1 {
			// bare except
			return true
		}
		head := p.Text(exprs[0])
		if strings.Contains(head, "ZeroDivisionError") || strings.Contains(head, "ArithmeticError") {
			return true
		}
	}
	return false
}

func inHandler(try, n *sitter.Node) bool {
	for _, c := range namedChildren(try) {
		switch c.Type() {
		case "except_clause", "else_clause", "finally_clause":
			if contains(c, n) {
				return true
			}
		}
	}
	return false
}

// earlyExitBefore reports an `if <operand ...>: return/raise/continue/break`
// or an assert mentioning operand among the statements preceding stmt.
func earlyExitBefore(p *Program, block, stmt *sitter.Node, mentions *regexp.Regexp) bool {
	for _, c := range namedChildren(block) {
		if c.StartByte() >= stmt.StartByte() {
			return false
		}
		switch c.Type() {
		case "assert_statement":
			if mentions.MatchString(p.Text(c)) {
				return true
			}
		case "if_statement":
			cond := c.ChildByFieldName("condition")
			if cond != nil && mentions.MatchString(p.Text(cond)) && exits(c.ChildByFieldName("consequence")) {
				return true
			}
		}
	}
	return false
}

func exits(block *sitter.Node) bool {
	found := false
	walkNamed(block, func(n *sitter.Node) bool {
		switch n.Type() {
		case "return_statement", "raise_statement", "continue_statement", "break_statement":
			found = true
		case "function_definition", "class_definition", "lambda":
			return false
		}
		return !found
	})
	return found
}
