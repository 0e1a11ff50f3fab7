package fix

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lexcodex/codemend/verify"
)

func TestCleanCandidate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "python fence with prose",
			in:   "Here is the fixed code:\n```python\ndef f():\n    return 1\n```\nThis fixes it.",
			want: "def f():\n    return 1",
		},
		{
			name: "bare fence",
			in:   "```\nimport os\nprint(os.sep)\n```",
			want: "import os\nprint(os.sep)",
		},
		{
			name: "prose before def without fence",
			in:   "Sure! The problem was the loop.\n\ndef g(x):\n    return x",
			want: "def g(x):\n    return x",
		},
		{
			name: "leading assignment kept",
			in:   "total = 0\ndef add(x):\n    return x",
			want: "total = 0\ndef add(x):\n    return x",
		},
		{
			name: "decorator",
			in:   "Fixed:\n@cache\ndef h():\n    pass",
			want: "@cache\ndef h():\n    pass",
		},
		{
			name: "markdown heading and prose before def",
			in:   "## Fixed code\nThe bug was an unguarded division, I added a check.\n\ndef avg(xs):\n    if not xs:\n        return 0\n    return sum(xs) / len(xs)",
			want: "def avg(xs):\n    if not xs:\n        return 0\n    return sum(xs) / len(xs)",
		},
		{
			name: "comment block above code kept",
			in:   "Here you go.\n# helpers\n\n# average of a list\nimport math\nx = math.pi",
			want: "# helpers\n\n# average of a list\nimport math\nx = math.pi",
		},
		{
			name: "heading with nothing after it",
			in:   "# Notes\nNothing to change.",
			want: "# Notes\nNothing to change.",
		},
		{
			name: "no code start",
			in:   "  I could not fix this.  ",
			want: "I could not fix this.",
		},
		{
			name: "empty",
			in:   "",
			want: "",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, CleanCandidate(tc.in))
		})
	}
}

func TestFeedback(t *testing.T) {
	assert.Equal(t, "Minor issues remain", Feedback(verify.Result{SyntaxValid: true, Importable: true}))

	got := Feedback(verify.Result{Issues: []string{"Syntax error: empty candidate"}})
	assert.Equal(t, "- Syntax error: empty candidate\n- FIX SYNTAX ERRORS FIRST!\n- Code cannot be imported, check for runtime errors at module level", got)

	got = Feedback(verify.Result{SyntaxValid: true, Importable: true, Issues: []string{"Potential unbound variables: total"}})
	assert.Equal(t, "- Potential unbound variables: total", got)
}

func TestNextInput(t *testing.T) {
	assert.Equal(t, "x = 1\n\n# ISSUES TO FIX:\n- a", NextInput("x = 1", "- a"))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, StatusVerified, StatusFor(85, 85))
	assert.Equal(t, StatusPartial, StatusFor(84, 85))
	assert.Equal(t, StatusPartial, StatusFor(50, 85))
	assert.Equal(t, StatusFailed, StatusFor(49, 85))
}

func TestExtractCode(t *testing.T) {
	assert.Equal(t, "const x = 1;", ExtractCode("Optimized:\n```javascript\nconst x = 1;\n```\nShorter now."))
	assert.Equal(t, "fn main() {}", ExtractCode("  fn main() {}\n"))
}
