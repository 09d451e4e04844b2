package keypath

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Path
	}{
		{name: "single atom", in: "timeout", want: Path{"timeout"}},
		{name: "dotted", in: "database.host", want: Path{"database", "host"}},
		{name: "deep", in: "a.b.c.d", want: Path{"a", "b", "c", "d"}},
		{name: "empty string", in: "", want: nil},
		{name: "separator only", in: ".", want: nil},
		{name: "doubled separator", in: "a..b", want: Path{"a", "b"}},
		{name: "trailing separator", in: "a.b.", want: Path{"a", "b"}},
		{name: "leading separator", in: ".a.b", want: Path{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.in))
		})
	}
}

func TestPath_String(t *testing.T) {
	assert.Equal(t, "database.host", New("database", "host").String())
	assert.Equal(t, "timeout", New("timeout").String())
	assert.Equal(t, "", Path(nil).String())
}

func TestPath_ParentAndLeaf(t *testing.T) {
	p := New("a", "b", "c")
	assert.Equal(t, "c", p.Leaf())
	assert.Equal(t, Path{"a", "b"}, p.Parent())
	assert.Nil(t, New("a").Parent())
	assert.Nil(t, Path(nil).Parent())
}

func TestPath_Ancestors(t *testing.T) {
	p := New("a", "b", "c")
	want := []Path{{"a", "b"}, {"a"}}
	assert.Equal(t, want, p.Ancestors())
	assert.Nil(t, New("a").Ancestors())
}

func TestPath_SelfAndAncestors(t *testing.T) {
	p := New("database", "pool", "size")
	want := []Path{
		{"database", "pool", "size"},
		{"database", "pool"},
		{"database"},
	}
	assert.Equal(t, want, p.SelfAndAncestors())
	assert.Nil(t, Path(nil).SelfAndAncestors())
}

func TestPath_HasPrefix(t *testing.T) {
	p := New("a", "b", "c")
	assert.True(t, p.HasPrefix(New("a")))
	assert.True(t, p.HasPrefix(New("a", "b")))
	assert.True(t, p.HasPrefix(p))
	assert.True(t, p.HasPrefix(nil))
	assert.False(t, p.HasPrefix(New("a", "x")))
	assert.False(t, p.HasPrefix(New("a", "b", "c", "d")))
	assert.False(t, New("ab").HasPrefix(New("a")))
}

func TestPath_Equal(t *testing.T) {
	assert.True(t, New("a", "b").Equal(Parse("a.b")))
	assert.False(t, New("a", "b").Equal(New("a")))
	assert.False(t, New("a", "b").Equal(New("a", "c")))
	assert.True(t, Path(nil).Equal(nil))
}

func TestPath_CloneIndependence(t *testing.T) {
	p := New("a", "b")
	c := p.Clone()
	c[0] = "zzz"
	assert.Equal(t, Path{"a", "b"}, p)
}

func TestPath_ChildDoesNotAliasParent(t *testing.T) {
	p := New("a")
	c1 := p.Child("b")
	c2 := p.Child("x")
	assert.Equal(t, Path{"a", "b"}, c1)
	assert.Equal(t, Path{"a", "x"}, c2)
}
