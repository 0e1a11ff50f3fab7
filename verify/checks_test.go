package verify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseForTest(t *testing.T, code string) *Program {
	t.Helper()
	p, err := ParsePython(context.Background(), code)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	require.True(t, p.Valid(), "unexpected syntax errors: %v", p.Errors)
	return p
}

func names(findings []Finding) []string {
	var out []string
	for _, f := range findings {
		out = append(out, f.Name)
	}
	return out
}

func lines(findings []Finding) []int {
	var out []int
	for _, f := range findings {
		out = append(out, f.Line)
	}
	return out
}

func TestUnboundNames(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{{
		name: "parameters and locals",
		code: "def f(a, b=1, *args, **kw):\n    c = a + b\n    return c, args, kw\n",
	}, {
		name: "read before assignment",
		code: "def f():\n    x = y\n    y = 1\n    return x\n",
		want: []string{"y"},
	}, {
		name: "module level names resolve even when defined later",
		code: "def f():\n    return helper() + LIMIT\n\ndef helper():\n    return 1\n\nLIMIT = 3\n",
	}, {
		name: "imports and builtins",
		code: "import os.path\nfrom collections import defaultdict as dd\n\ndef f():\n    return os.getcwd(), dd(list), len([]), ValueError\n",
	}, {
		name: "enclosing function scope",
		code: "def outer():\n    def inner():\n        return total\n    total = 3\n    return inner()\n",
	}, {
		name: "class attributes are not visible in methods",
		code: "class C:\n    limit = 3\n\n    def m(self):\n        return limit\n",
		want: []string{"limit"},
	}, {
		name: "comprehension and lambda bindings",
		code: "def f(rows):\n    keys = [k for k, _ in rows if k]\n    return sorted(keys, key=lambda item: item)\n",
	}, {
		name: "for, with and except targets",
		code: "def f(path):\n    with open(path) as fh:\n        for line in fh:\n            pass\n    try:\n        return line\n    except ValueError as err:\n        return err\n",
	}, {
		name: "global declaration",
		code: "def f():\n    global counter\n    counter = counter + 1\n",
	}, {
		name: "augmented assignment of unknown name",
		code: "def f():\n    count += 1\n",
		want: []string{"count"},
	}, {
		name: "keyword argument names are not reads",
		code: "def f(x):\n    return dict(value=x)\n",
	}, {
		name: "module level code is not checked",
		code: "print(undefined_thing)\n",
	}, {
		name: "wildcard import suppresses findings",
		code: "from math import *\n\ndef f():\n    return sqrt(4)\n",
	}, {
		name: "capped at five names",
		code: "def f():\n    return a + b + c + d + e + g + h\n",
		want: []string{"a", "b", "c", "d", "e"},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseForTest(t, tt.code)
			assert.Equal(t, tt.want, names(unboundNames(p)))
		})
	}
}

func TestLengthDivisions(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []int
	}{{
		name: "unguarded",
		code: "def avg(xs):\n    return sum(xs) / len(xs)\n",
		want: []int{2},
	}, {
		name: "modulo and floor division",
		code: "def f(xs, i):\n    a = i % len(xs)\n    b = i // (len(xs))\n    return a, b\n",
		want: []int{2, 3},
	}, {
		name: "augmented assignment",
		code: "def f(xs):\n    total = 10\n    total /= len(xs)\n    return total\n",
		want: []int{3},
	}, {
		name: "literal divisor",
		code: "def f(): return 1/0\n",
	}, {
		name: "enclosing if",
		code: "def avg(xs):\n    if xs:\n        return sum(xs) / len(xs)\n    return 0\n",
	}, {
		name: "early return",
		code: "def avg(xs):\n    if not xs:\n        return 0\n    return sum(xs) / len(xs)\n",
	}, {
		name: "early return on len",
		code: "def avg(xs):\n    if len(xs) == 0:\n        raise ValueError('empty')\n    return sum(xs) / len(xs)\n",
	}, {
		name: "conditional expression",
		code: "def avg(xs):\n    return sum(xs) / len(xs) if xs else 0\n",
	}, {
		name: "short circuit",
		code: "def avg(xs):\n    return xs and sum(xs) / len(xs)\n",
	}, {
		name: "zero division handler",
		code: "def avg(xs):\n    try:\n        return sum(xs) / len(xs)\n    except ZeroDivisionError:\n        return 0\n",
	}, {
		name: "guard on another collection",
		code: "def avg(xs, ys):\n    if ys:\n        return sum(xs) / len(xs)\n    return 0\n",
		want: []int{3},
	}, {
		name: "assert guard",
		code: "def avg(xs):\n    assert xs, 'empty'\n    return sum(xs) / len(xs)\n",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseForTest(t, tt.code)
			assert.Equal(t, tt.want, lines(lengthDivisions(p)))
		})
	}
}

func TestLoopMutations(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []int
	}{{
		name: "remove while iterating",
		code: "def f(xs):\n    for x in xs:\n        if x:\n            xs.remove(x)\n",
		want: []int{2},
	}, {
		name: "append on attribute collection",
		code: "class A:\n    def f(self):\n        for x in self.items:\n            self.items.append(x)\n",
		want: []int{3},
	}, {
		name: "enumerate",
		code: "def f(xs):\n    for i, x in enumerate(xs):\n        xs.pop(i)\n",
		want: []int{2},
	}, {
		name: "iterating a copy",
		code: "def f(xs):\n    for x in xs[:]:\n        xs.remove(x)\n    for x in list(xs):\n        xs.remove(x)\n",
	}, {
		name: "mutating another list",
		code: "def f(xs):\n    out = []\n    for x in xs:\n        out.append(x)\n    return out\n",
	}, {
		name: "nested loops report the loop that iterates the collection",
		code: "def f(xs, ys):\n    for x in xs:\n        for y in ys:\n            xs.clear()\n",
		want: []int{2},
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseForTest(t, tt.code)
			assert.Equal(t, tt.want, lines(loopMutations(p)))
		})
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		code string
		want []string
	}{{
		name: "clean",
		code: "import os\n\nasync def f(xs):\n    for x in xs:\n        if x:\n            break\n        await g(x)\n    return xs\n",
	}, {
		name: "return outside function",
		code: "return 1\n",
		want: []string{"'return' outside function"},
	}, {
		name: "return in class body",
		code: "class A:\n    return 1\n",
		want: []string{"'return' outside function"},
	}, {
		name: "break outside loop",
		code: "def f():\n    break\n",
		want: []string{"'break' outside loop"},
	}, {
		name: "continue in nested function of loop",
		code: "for x in []:\n    def g():\n        continue\n",
		want: []string{"'continue' not properly in loop"},
	}, {
		name: "await in sync function",
		code: "def f():\n    await g()\n",
		want: []string{"'await' outside async function"},
	}, {
		name: "yield at module level",
		code: "yield 1\n",
		want: []string{"'yield' outside function"},
	}, {
		name: "nonlocal at module level",
		code: "nonlocal x\n",
		want: []string{"nonlocal declaration not allowed at module level"},
	}, {
		name: "duplicate argument",
		code: "def f(a, b, a=1):\n    pass\n",
		want: []string{"duplicate argument 'a' in function definition"},
	}, {
		name: "star import in function",
		code: "def f():\n    from os import *\n",
		want: []string{"import * only allowed at module level"},
	}, {
		name: "non-default parameter after default",
		code: "def f(a=1, b):\n    return a + b\n",
		want: []string{"non-default argument follows default argument"},
	}, {
		name: "non-default lambda parameter after default",
		code: "g = lambda a=1, b: a\n",
		want: []string{"non-default argument follows default argument"},
	}, {
		name: "keyword-only parameters after default",
		code: "def f(a=1, *args, b, **kw):\n    return a\n\ndef h(a=1, *, b):\n    return b\n",
	}, {
		name: "positional argument after keyword",
		code: "def f(g, x):\n    return g(k=1, x)\n",
		want: []string{"positional argument follows keyword argument"},
	}, {
		name: "positional argument after keyword unpacking",
		code: "def f(g, kw, x):\n    return g(**kw, x)\n",
		want: []string{"positional argument follows keyword argument unpacking"},
	}, {
		name: "iterable unpacking after keyword unpacking",
		code: "def f(g, kw, xs):\n    return g(**kw, *xs)\n",
		want: []string{"iterable argument unpacking follows keyword argument unpacking"},
	}, {
		name: "mixed arguments in allowed order",
		code: "def f(g, xs, kw):\n    return g(1, *xs, k=2, *xs, **kw)\n",
	}, {
		name: "global after assignment",
		code: "def f():\n    x = 1\n    global x\n",
		want: []string{"name 'x' is assigned to before global declaration"},
	}, {
		name: "nonlocal after use",
		code: "def outer():\n    x = 1\n    def inner():\n        print(x)\n        nonlocal x\n    return inner\n",
		want: []string{"name 'x' is used prior to nonlocal declaration"},
	}, {
		name: "global names a parameter",
		code: "def f(x):\n    global x\n",
		want: []string{"name 'x' is parameter and global"},
	}, {
		name: "module global after assignment",
		code: "x = 1\nglobal x\n",
		want: []string{"name 'x' is assigned to before global declaration"},
	}, {
		name: "global before use",
		code: "count = 0\n\ndef bump():\n    global count\n    count += 1\n    return count\n",
	}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := parseForTest(t, tt.code)
			var got []string
			for _, f := range compileErrors(p) {
				got = append(got, f.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnalyze(t *testing.T) {
	code := `from os import *

def simple(a):
    """Doc."""
    return a

def branchy(a, b, c, d, e, f):
    global counter
    if a and b:
        for x in c:
            while d:
                if e:
                    with open(f) as fh:
                        pass
    try:
        pass
    except:
        pass
`
	p := parseForTest(t, code)
	a := Analyze(p)
	require.Len(t, a.Functions, 2)
	assert.Equal(t, FunctionMetrics{Name: "simple", Line: 3, Lines: 3, Parameters: 1, Complexity: 1, Docstring: true}, a.Functions[0])
	branchy := a.Functions[1]
	assert.Equal(t, 6, branchy.Parameters)
	assert.Equal(t, 7, branchy.Complexity)
	assert.Equal(t, 5, branchy.Nesting)
	assert.Equal(t, []int{1}, a.WildcardImports)
	assert.Equal(t, []int{8}, a.GlobalStmts)
	assert.Equal(t, []int{17}, a.BareExcepts)
	assert.Len(t, a.Warnings(), 5)
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "python", DetectLanguage("a/b.py"))
	assert.Equal(t, "go", DetectLanguage("main.go"))
	assert.Equal(t, "", DetectLanguage("README.md"))
	assert.Nil(t, Grammar("cobol"))
}
