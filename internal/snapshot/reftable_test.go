package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redf0x1/camofox-browser/internal/enginetest"
)

const sampleTree = `- main
  - button "Sign in"
  - link "Home"
  - combobox "Country"
  - textbox "Search"
  - button "Sign in"
  - generic "decorative"
  - button "Pick a date"
`

func TestBuild_AssignsRefsToEligibleNodesOnly(t *testing.T) {
	res := Build(sampleTree)

	assert.Equal(t, 4, res.RefCount, "button/link/textbox x2 minus combobox and date-named button")

	info, ok := res.Table.lookup("e1")
	require.True(t, ok)
	assert.Equal(t, "button", info.Role)
	assert.Equal(t, "Sign in", info.Name)
	assert.Equal(t, 0, info.Nth)

	info, ok = res.Table.lookup("e4")
	require.True(t, ok)
	assert.Equal(t, "button", info.Role)
	assert.Equal(t, "Sign in", info.Name)
	assert.Equal(t, 1, info.Nth, "second occurrence of the same role+name gets nth=1")
}

func TestBuild_SkipsComboboxAndDateLikeNames(t *testing.T) {
	res := Build(sampleTree)
	for _, info := range res.Table.refs {
		assert.NotEqual(t, "combobox", info.Role)
		assert.NotContains(t, info.Name, "date")
	}
}

func TestBuild_AnnotatesMarkersInline(t *testing.T) {
	res := Build(sampleTree)
	assert.Contains(t, res.Annotated, `button "Sign in" [e1]`)
	assert.Contains(t, res.Annotated, `link "Home" [e2]`)
	assert.NotContains(t, res.Annotated, `combobox "Country" [e`)
}

func TestBuild_CapsAt500Refs(t *testing.T) {
	tree := ""
	for i := 0; i < 600; i++ {
		tree += "  - button \"btn\"\n"
	}
	res := Build(tree)
	assert.Equal(t, MaxRefs, res.RefCount)
}

func TestResolveRef_UnknownRefFails(t *testing.T) {
	res := Build(sampleTree)
	page := enginetest.NewPage("https://example.com", []enginetest.Node{{Role: "button", Name: "Sign in"}})

	_, err := ResolveRef(page, res.Table, "e999")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ref")
}

func TestResolveRef_KnownRefResolves(t *testing.T) {
	res := Build(sampleTree)
	page := enginetest.NewPage("https://example.com", []enginetest.Node{{Role: "button", Name: "Sign in"}})

	loc, err := ResolveRef(page, res.Table, "e1")
	require.NoError(t, err)
	count, err := loc.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestFullPipeline_FakePageAriaSnapshotThroughBuild(t *testing.T) {
	page := enginetest.NewPage("https://example.com", []enginetest.Node{
		{Role: "button", Name: "Submit"},
		{Role: "link", Name: "About"},
	})

	text, err := page.AriaSnapshot("body", 0)
	require.NoError(t, err)

	res := Build(text)
	assert.Equal(t, 2, res.RefCount)
	assert.Contains(t, res.Annotated, `[e1]`)
	assert.Contains(t, res.Annotated, `[e2]`)
}
