package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phobologic/prune/internal/lang"
)

const sample = `class Demo {
    void run() {
        first();
        if (ready()) {
            second();
        }
    }
}
`

func parse(t *testing.T, source string) *sitter.Tree {
	t.Helper()
	p := lang.Languages["java"].NewParser()
	tree, err := p.ParseCtx(context.Background(), nil, []byte(source))
	require.NoError(t, err)
	t.Cleanup(tree.Close)
	return tree
}

func compile(t *testing.T, c *Cache, text string) *sitter.Query {
	t.Helper()
	q, err := c.Get(lang.Languages["java"], text)
	require.NoError(t, err)
	return q
}

func TestCacheCompilesOnce(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	java := lang.Languages["java"]

	q1, err := c.Get(java, "(identifier) @id")
	require.NoError(t, err)
	q2, err := c.Get(java, "(identifier) @id")
	require.NoError(t, err)

	assert.Same(t, q1, q2)
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Contains(java, "(identifier) @id"))
	assert.False(t, c.Contains(lang.Languages["kotlin"], "(identifier) @id"))
}

func TestCacheConcurrentGet(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	java := lang.Languages["java"]

	var wg sync.WaitGroup
	results := make([]*sitter.Query, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q, err := c.Get(java, "(block) @b")
			if err == nil {
				results[i] = q
			}
		}()
	}
	wg.Wait()

	for _, q := range results {
		assert.Same(t, results[0], q)
	}
	assert.Equal(t, 1, c.Len())
}

func TestCacheCompileError(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()

	_, err := c.Get(lang.Languages["java"], "(if_statement")
	require.Error(t, err)

	var ce *CompileError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "java", ce.Language)
	assert.Equal(t, "(if_statement", ce.Query)
	assert.Equal(t, 0, c.Len())
}

func TestAllPreOrder(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	tree := parse(t, sample)
	q := compile(t, c, "(block) @b")

	matches := All(tree.RootNode(), q, []byte(sample))
	require.Len(t, matches, 2)
	// The method body encloses the if body, so it comes first.
	assert.Less(t, matches[0].Range.Start, matches[1].Range.Start)
	assert.True(t, matches[0].Range.Contains(matches[1].Range))
	assert.Contains(t, matches[1].Captures["b"], "second();")
}

func TestAllPredicatesAndCaptures(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	tree := parse(t, sample)
	q := compile(t, c, `((method_invocation name: (identifier) @name) @call (#eq? @name "second"))`)

	matches := All(tree.RootNode(), q, []byte(sample))
	require.Len(t, matches, 1)
	m := matches[0]
	assert.Equal(t, "second()", m.Captures["call"])
	assert.Equal(t, "second", m.Captures["name"])
	assert.Equal(t, m.CaptureRanges["call"], m.Range)
}

func TestUnmatchedCaptureBindsEmpty(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	source := "class A { void m() { {} } }"
	tree := parse(t, source)
	q := compile(t, c, "(block (block (_)* @inner) @nested) @outer")

	matches := All(tree.RootNode(), q, []byte(source))
	require.Len(t, matches, 1)
	inner, ok := matches[0].Captures["inner"]
	assert.True(t, ok)
	assert.Equal(t, "", inner)
	assert.Equal(t, "{}", matches[0].Captures["nested"])
}

func TestQuantifiedCaptureSpansNodes(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	source := "class A { void m() { { a(); b(); } } }"
	tree := parse(t, source)
	q := compile(t, c, "(block (block (_)* @inner) @nested) @outer")

	m, ok := First(tree.RootNode(), q, []byte(source), true)
	require.True(t, ok)
	assert.Equal(t, "a(); b();", m.Captures["inner"])
}

func TestFirstAtNode(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	tree := parse(t, sample)
	root := tree.RootNode()
	q := compile(t, c, "(method_declaration) @m")

	// The root is a program, not a method declaration.
	_, ok := First(root, q, []byte(sample), false)
	assert.False(t, ok)

	m, ok := First(root, q, []byte(sample), true)
	require.True(t, ok)

	node := NodeForRange(root, m.Range.Start, m.Range.End)
	assert.Equal(t, "method_declaration", node.Type())

	_, ok = First(node, q, []byte(sample), false)
	assert.True(t, ok)
}

func TestExists(t *testing.T) {
	t.Parallel()

	c := NewCache()
	defer c.Close()
	tree := parse(t, sample)
	root := tree.RootNode()

	assert.True(t, Exists(root, compile(t, c, "(if_statement) @if"), []byte(sample)))
	assert.False(t, Exists(root, compile(t, c, "(while_statement) @w"), []byte(sample)))
}

func TestNodeForRange(t *testing.T) {
	t.Parallel()

	tree := parse(t, sample)
	root := tree.RootNode()
	src := []byte(sample)

	start := uint32(strings.Index(sample, "second"))
	node := NodeForRange(root, start, start+uint32(len("second")))
	assert.Equal(t, "identifier", node.Type())
	assert.Equal(t, "second", string(src[node.StartByte():node.EndByte()]))

	node = NodeForRange(root, 0, uint32(len(sample)))
	assert.Equal(t, "program", node.Type())
}
