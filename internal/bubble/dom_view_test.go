package bubble

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lechros/chatda/internal/clock"
	"github.com/Lechros/chatda/internal/dom/htmldom"
)

func TestElementSplitsSentences(t *testing.T) {
	el := Element("이 제품의 특징이에요", "BESPOKE 디자인. 1등급 효율. ")
	require.Len(t, el.Children, 2)
	content := el.Children[1].Children
	require.Len(t, content, 2)
	assert.Equal(t, "BESPOKE 디자인.", content[0].Text)
	assert.Equal(t, "1등급 효율.", content[1].Text)
}

func TestDOMViewLifecycle(t *testing.T) {
	ctx := context.Background()
	doc := htmldom.MustParseString(`<div class="menu01"><div id="summaryPlace"></div></div>`)
	mountNode, ok, err := doc.Query(ctx, "#summaryPlace")
	require.NoError(t, err)
	require.True(t, ok)

	view, err := Mount(ctx, mountNode, "header", "one. two.")
	require.NoError(t, err)

	fc := clock.NewFake(time.Unix(0, 0))
	c := New(fc, Options{})
	require.NoError(t, c.Start(ctx, view))

	fc.Advance(3 * time.Second)
	assert.Contains(t, doc.Render(), `class="fade fade-out"`)
	fc.Advance(9 * time.Second)
	assert.Contains(t, doc.Render(), "hidden")

	c.OnHoverEnter()
	out := doc.Render()
	assert.False(t, strings.Contains(out, "fade-out") || strings.Contains(out, "hidden"), out)

	c.Dismiss()
	assert.NotContains(t, doc.Render(), ElementID)
}
