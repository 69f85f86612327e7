package trace

import (
	"regexp"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/pact/errors"
)

const ms = int64(1_000_000)

func rawSpan(id, parent, name string, startMS, endMS int64, attrs ...Attribute) RawSpan {
	return RawSpan{
		SpanID:            id,
		ParentSpanID:      parent,
		Name:              name,
		Attributes:        attrs,
		StartTimeUnixNano: Nanos(startMS * ms),
		EndTimeUnixNano:   Nanos(endMS * ms),
	}
}

func names(t *Tree, idx []int) []string {
	out := make([]string, len(idx))
	for i, n := range idx {
		out[i] = t.At(n).Name
	}
	return out
}

func TestBuildTreeSingleRoot(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("00000000000000aa", "", "A", 0, 100),
		rawSpan("00000000000000bb", "00000000000000aa", "B", 10, 90),
	})
	require.NoError(t, err)

	assert.False(t, tree.HasVirtualRoot())
	assert.Equal(t, 2, tree.Len())
	root := tree.Root()
	assert.Equal(t, "A", root.Name)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "B", tree.At(root.Children[0]).Name)
	assert.Equal(t, "A", tree.ParentOf(root.Children[0]).Name)
	assert.Nil(t, tree.ParentOf(tree.RootIndex()))
}

func TestBuildTreeSynthesizesVirtualRoot(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("00000000000000a1", "", "X", 0, 50),
		rawSpan("00000000000000a2", "", "Y", 20, 70),
	})
	require.NoError(t, err)

	assert.True(t, tree.HasVirtualRoot())
	root := tree.Root()
	assert.Equal(t, "root", root.Name)
	assert.Equal(t, KindRoot, root.Kind)
	assert.Equal(t, int64(0), root.Start)
	assert.Equal(t, 70*ms, root.End)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{16}$`), root.ID)
	assert.Equal(t, []string{"X", "Y"}, names(tree, root.Children))

	found, ok := tree.Lookup(root.ID)
	require.True(t, ok)
	assert.Same(t, root, found)
}

func TestBuildTreeOrdersByStartTime(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("00000000000000c3", "00000000000000c1", "late", 30, 40),
		rawSpan("00000000000000c1", "", "parent", 0, 100),
		rawSpan("00000000000000c2", "00000000000000c1", "early", 10, 20),
	})
	require.NoError(t, err)

	if diff := cmp.Diff([]string{"parent", "early", "late"}, names(tree, tree.LevelOrder())); diff != "" {
		t.Errorf("level order mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTreeUnknownParentBecomesRoot(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("00000000000000d1", "ffffffffffffffff", "orphan", 0, 10),
		rawSpan("00000000000000d2", "00000000000000d1", "child", 1, 5),
	})
	require.NoError(t, err)
	assert.Equal(t, "orphan", tree.Root().Name)
	assert.False(t, tree.HasVirtualRoot())
}

func TestBuildTreeParentMatchesDeclaredParent(t *testing.T) {
	spans := []RawSpan{
		rawSpan("0000000000000001", "", "r", 0, 100),
		rawSpan("0000000000000002", "0000000000000001", "a", 1, 50),
		rawSpan("0000000000000003", "0000000000000002", "b", 2, 40),
		rawSpan("0000000000000004", "0000000000000001", "c", 60, 90),
		rawSpan("0000000000000005", "0000000000000004", "d", 61, 70),
		rawSpan("0000000000000006", "0000000000000099", "e", 95, 99),
	}
	tree, err := BuildTree(spans)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, s := range spans {
		ids[s.SpanID] = true
	}
	for _, s := range spans {
		node, ok := tree.Lookup(s.SpanID)
		require.True(t, ok)
		i, _ := tree.IndexOf(s.SpanID)
		parent := tree.ParentOf(i)
		if ids[s.ParentSpanID] {
			require.NotNil(t, parent, node.Name)
			assert.Equal(t, s.ParentSpanID, parent.ID, node.Name)
		}
	}
	// "e" names an unknown parent, so there are two roots under a virtual one
	assert.True(t, tree.HasVirtualRoot())
	assert.Equal(t, []string{"r", "e"}, names(tree, tree.Root().Children))
}

func TestBuildTreeRejectsDuplicates(t *testing.T) {
	_, err := BuildTree([]RawSpan{
		rawSpan("00000000000000e1", "", "a", 0, 10),
		rawSpan("00000000000000e1", "", "b", 5, 10),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrMalformedInput))
	assert.Contains(t, err.Error(), "duplicate span id 00000000000000e1")
}

func TestBuildTreeRejectsDetachedCycle(t *testing.T) {
	_, err := BuildTree([]RawSpan{
		rawSpan("00000000000000c0", "", "root", 0, 100),
		rawSpan("00000000000000c1", "00000000000000c2", "ping", 10, 20),
		rawSpan("00000000000000c2", "00000000000000c1", "pong", 20, 30),
	})
	require.Error(t, err)
	assert.True(t, errors.IsMalformedInputError(err))
	assert.Contains(t, err.Error(), "2 spans unreachable")

	_, err = BuildTree([]RawSpan{
		rawSpan("00000000000000c1", "00000000000000c2", "ping", 10, 20),
		rawSpan("00000000000000c2", "00000000000000c1", "pong", 20, 30),
	})
	assert.True(t, errors.IsMalformedInputError(err))
}

func TestBuildTreeRejectsEmpty(t *testing.T) {
	_, err := BuildTree(nil)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedInputError(err))
	assert.Contains(t, err.Error(), "missing root")
}

func TestSpanKindDerivation(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("0000000000000011", "", "eval", 0, 100,
			StringAttr("eval.uuid", "scenario-1"),
			StringAttr("openinference.span.kind", "CHAIN")),
		rawSpan("0000000000000012", "0000000000000011", "llm", 1, 2,
			StringAttr("openinference.span.kind", "LLM")),
		rawSpan("0000000000000013", "0000000000000011", "plain", 3, 4),
	})
	require.NoError(t, err)

	kinds := map[string]string{}
	for _, i := range tree.LevelOrder() {
		kinds[tree.At(i).Name] = tree.At(i).Kind
	}
	assert.Equal(t, map[string]string{
		"eval":  KindEvalStart,
		"llm":   "LLM",
		"plain": KindUnknown,
	}, kinds)
}

func TestSpanAttributesAreCleaned(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("0000000000000021", "", "agent", 0, 1,
			StringAttr("openinference.span.kind", "AGENT"),
			StringAttr("input.value", "what is 2+2"),
			StringAttr("input.mime_type", "text/plain"),
			StringAttr("llm.model_name", "gpt-4o"),
		),
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"input": "what is 2+2",
		"llm":   map[string]any{"model_name": "gpt-4o"},
	}, tree.Root().Attributes)
	assert.Len(t, tree.Root().Raw, 4)
}

func TestBuildNormalizesBase64IDs(t *testing.T) {
	// base64 of 0x0102030405060708
	tr, err := Build("AQIDBAUGBwgJCgsMDQ4PEA==", []RawSpan{
		rawSpan("AQIDBAUGBwg=", "", "a", 0, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, "0102030405060708090a0b0c0d0e0f10", tr.ID)
	assert.Equal(t, "0102030405060708", tr.Tree.Root().ID)
}

func TestTreeString(t *testing.T) {
	tree, err := BuildTree([]RawSpan{
		rawSpan("0000000000000031", "", "A", 0, 100),
		rawSpan("0000000000000032", "0000000000000031", "B", 10, 90),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"[UNKNOWN] A (spanID: 0000000000000031)\n└── [UNKNOWN] B (spanID: 0000000000000032)\n",
		tree.String())
}
