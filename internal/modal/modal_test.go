package modal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitialStateClosed(t *testing.T) {
	r := NewRouter()
	st := r.State()
	assert.False(t, st.MainOpen)
	assert.False(t, st.ExpandOpen)
	assert.Equal(t, ExpandNone, st.Expand)
	assert.Empty(t, st.Selected)
}

func TestOpenExpandReplaces(t *testing.T) {
	r := NewRouter()
	r.OpenMain()
	r.OpenExpand(ExpandPopular)
	st := r.OpenExpand(ExpandSearch)

	assert.True(t, st.MainOpen, "main-open-ness must be unchanged")
	assert.True(t, st.ExpandOpen)
	assert.Equal(t, ExpandSearch, st.Expand)
}

func TestOpenExpandWithoutMain(t *testing.T) {
	r := NewRouter()
	st := r.OpenExpand(ExpandInfo)
	assert.False(t, st.MainOpen)
	assert.True(t, st.ExpandOpen)
}

func TestCloseMainKeepsExpand(t *testing.T) {
	r := NewRouter()
	r.OpenMain()
	r.OpenExpand(ExpandCompare)
	st := r.CloseMain()
	assert.False(t, st.MainOpen)
	assert.True(t, st.ExpandOpen)
	assert.Equal(t, ExpandCompare, st.Expand)
}

func TestCloseBackdropClosesBothInOneTransition(t *testing.T) {
	r := NewRouter()
	r.OpenMain()
	r.OpenExpand(ExpandPopular)

	var seen []State
	r.Subscribe(func(s State) { seen = append(seen, s) })
	r.CloseBackdrop()

	require.Len(t, seen, 1)
	assert.False(t, seen[0].MainOpen)
	assert.False(t, seen[0].ExpandOpen)
	assert.Equal(t, ExpandNone, seen[0].Expand)
}

func TestIdempotentCloses(t *testing.T) {
	r := NewRouter()
	calls := 0
	r.Subscribe(func(State) { calls++ })

	r.CloseMain()
	r.CloseExpand()
	r.CloseBackdrop()
	assert.Equal(t, 0, calls, "closing closed panels must not emit transitions")
	assert.Equal(t, Closed(), r.State())
}

func TestOpenExpandNoneClosesExpand(t *testing.T) {
	r := NewRouter()
	r.OpenExpand(ExpandSearch)
	st := r.OpenExpand(ExpandNone)
	assert.False(t, st.ExpandOpen)
	assert.Equal(t, ExpandNone, st.Expand)
}

func TestSelectedModelsReplacedWholesale(t *testing.T) {
	r := NewRouter()
	r.OpenExpandWith(ExpandCompare, []string{"RF1", "RF2"})
	st := r.OpenExpandWith(ExpandInfo, []string{"RF3"})
	assert.Equal(t, []string{"RF3"}, st.Selected)
	assert.Equal(t, ExpandInfo, st.Expand)

	in := []string{"A"}
	r.SelectModels(in)
	in[0] = "mutated"
	assert.Equal(t, []string{"A"}, r.State().Selected)
}

func TestParseExpandKind(t *testing.T) {
	tests := []struct {
		in      string
		want    ExpandKind
		wantErr bool
	}{
		{"popular", ExpandPopular, false},
		{"search", ExpandSearch, false},
		{"", ExpandNone, false},
		{"ranking", ExpandNone, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExpandKind(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
