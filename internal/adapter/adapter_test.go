package adapter

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lechros/chatda/internal/clock"
	"github.com/Lechros/chatda/internal/config"
	"github.com/Lechros/chatda/internal/conversation"
	"github.com/Lechros/chatda/internal/dom/htmldom"
)

func loadListing(t *testing.T) *htmldom.Document {
	t.Helper()
	f, err := os.Open("testdata/listing.html")
	require.NoError(t, err)
	defer f.Close()
	doc, err := htmldom.Parse(f)
	require.NoError(t, err)
	return doc
}

func newAdapter() *Adapter {
	return New(config.DefaultConfig().Site)
}

func TestScanListing(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	doc := loadListing(t)

	gen, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 4, gen.Len())
	assert.True(t, gen.LoadMoreBound)
	assert.Contains(t, doc.Render(), `data-chatda-action="load-more"`)

	for i, h := range gen.Handles {
		assert.Equal(t, i, h.Index)
		got, ok := gen.Resolve(h.Key)
		require.True(t, ok)
		assert.Equal(t, h.Key, got.Key)
	}
}

func TestScanProducesFreshGeneration(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	doc := loadListing(t)

	first, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)
	second, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Handles[0].Key, second.Handles[0].Key, "same physical node keeps its key")

	first.Invalidate()
	_, ok := first.Resolve(first.Handles[0].Key)
	assert.False(t, ok)
	_, err = a.Decorate(ctx, first.Handles[0])
	assert.ErrorIs(t, err, ErrStaleHandle)
}

func TestScanMissingContainer(t *testing.T) {
	site := config.DefaultConfig().Site
	site.ContainerSelector = ".does-not-exist"
	a := New(site)

	_, err := a.ScanListing(context.Background(), loadListing(t))
	assert.ErrorIs(t, err, ErrHostStructureNotFound)
}

func TestScanWithContainer(t *testing.T) {
	site := config.DefaultConfig().Site
	site.ContainerSelector = ".product-list"
	gen, err := New(site).ScanListing(context.Background(), loadListing(t))
	require.NoError(t, err)
	assert.Equal(t, 4, gen.Len())
}

func TestDecorateIdempotent(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	doc := loadListing(t)
	gen, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)

	h := gen.Handles[0]
	added, err := a.Decorate(ctx, h)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = a.Decorate(ctx, h)
	require.NoError(t, err)
	assert.False(t, added)

	// Re-scan after a partial re-render: the surviving node must not be decorated twice.
	again, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)
	added, err = a.Decorate(ctx, again.Handles[0])
	require.NoError(t, err)
	assert.False(t, added)

	out := doc.Render()
	assert.Equal(t, 1, strings.Count(out, `data-chatda-compare="true"`))
	assert.Equal(t, 1, strings.Count(out, "ChatDA에서 비교하기"))
}

func TestDecorateCompletesMissingLabel(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	doc := loadListing(t)
	gen, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)

	h := gen.Handles[0]
	_, err = a.Decorate(ctx, h)
	require.NoError(t, err)

	label, ok, err := doc.Query(ctx, "[data-chatda-label]")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, label.Remove(ctx))

	added, err := a.Decorate(ctx, h)
	require.NoError(t, err)
	assert.True(t, added, "missing label must be re-added")

	out := doc.Render()
	assert.Equal(t, 1, strings.Count(out, `data-chatda-compare="true"`))
	assert.Equal(t, 1, strings.Count(out, "data-chatda-label="))
	assert.Contains(t, out, "background-color: #1428a0")
}

func TestProductFields(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	gen, err := a.ScanListing(ctx, loadListing(t))
	require.NoError(t, err)

	name, model, err := a.ProductFields(ctx, gen.Handles[0])
	require.NoError(t, err)
	assert.Equal(t, "BESPOKE 냉장고 4도어", name)
	assert.Equal(t, "RF85C90D1AP", model)

	name, model, err = a.ProductFields(ctx, gen.Handles[1])
	require.NoError(t, err)
	assert.Equal(t, "BESPOKE 김치플러스", name, "whitespace-only spans are skipped")
	assert.Equal(t, "RQ58C94Y1AP", model)

	_, _, err = a.ProductFields(ctx, gen.Handles[2])
	assert.ErrorIs(t, err, ErrProductFieldsUnreadable)
	_, _, err = a.ProductFields(ctx, gen.Handles[3])
	assert.ErrorIs(t, err, ErrProductFieldsUnreadable)
}

func TestOnCompareClick(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	gen, err := a.ScanListing(ctx, loadListing(t))
	require.NoError(t, err)

	now := time.UnixMilli(1700000000000)
	ids := conversation.NewIDGenerator(clock.NewFake(now))
	ev, err := a.OnCompareClick(ctx, gen.Handles[0], ids, now)
	require.NoError(t, err)

	assert.Equal(t, "RF85C90D1AP", ev.Product.ModelNo)
	assert.Equal(t, ev.Product.ID, ev.Message.ID)
	assert.True(t, ev.Message.IsCompared)
	assert.True(t, ev.Message.IsTyping)
	assert.Equal(t, conversation.SenderUser, ev.Message.Sender)
	assert.Equal(t, "BESPOKE 냉장고 4도어\nRF85C90D1AP", ev.Message.Content)

	_, err = a.OnCompareClick(ctx, gen.Handles[2], ids, now)
	assert.True(t, errors.Is(err, ErrProductFieldsUnreadable))
}

func TestReplacedNodesYieldUnreadable(t *testing.T) {
	ctx := context.Background()
	a := newAdapter()
	doc := loadListing(t)
	gen, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)

	require.NoError(t, doc.SetInnerHTML(".product-list", `<li class="item-inner"><div class="card-detail"><span>n</span><span>m</span></div></li>`))

	_, _, err = a.ProductFields(ctx, gen.Handles[0])
	assert.ErrorIs(t, err, ErrProductFieldsUnreadable)

	fresh, err := a.ScanListing(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Len())
	assert.NotEqual(t, gen.Handles[0].Key, fresh.Handles[0].Key)
}
