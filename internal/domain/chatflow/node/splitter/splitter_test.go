package splitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nodeforge/internal/domain/chatflow/node"
)

func TestRecursiveSplitterNode(t *testing.T) {
	p, ok := node.Lookup("recursiveCharacterTextSplitter")
	require.True(t, ok)

	inst, err := p.Init(context.Background(), &node.NodeData{ID: "s_0", Inputs: map[string]any{
		"chunkSize": "10", "chunkOverlap": 0.0, "separators": `["|"]`,
	}}, nil)
	require.NoError(t, err)
	s := inst.(node.TextSplitter)
	assert.Equal(t, []string{"aaaa|bbbb", "cccc"}, s.SplitText("aaaa|bbbb|cccc"))

	_, err = p.Init(context.Background(), &node.NodeData{ID: "s_0", Inputs: map[string]any{"separators": "|"}}, nil)
	assert.Error(t, err)
}

func TestParseSeparators(t *testing.T) {
	seps, err := parseSeparators(`["##", "\n"]`)
	require.NoError(t, err)
	assert.Equal(t, []string{"##", "\n", ""}, seps)

	seps, err = parseSeparators("")
	require.NoError(t, err)
	assert.Nil(t, seps)
}
