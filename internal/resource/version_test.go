package resource

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNumericVersions(t *testing.T) {
	tests := []struct {
		name   string
		a, b   string
		want   int
		wantOK bool
	}{
		{name: "smaller", a: "9", b: "10", want: -1, wantOK: true},
		{name: "larger", a: "100", b: "99", want: 1, wantOK: true},
		{name: "equal", a: "42", b: "42", want: 0, wantOK: true},
		{name: "identical non numeric", a: "abc", b: "abc", want: 0, wantOK: true},
		{name: "non numeric", a: "abc", b: "10", wantOK: false},
		{name: "empty", a: "", b: "10", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NumericVersions.Compare(tt.a, tt.b)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestLexicalVersions(t *testing.T) {
	// "9" sorts after "10" lexically, which is exactly why numeric is the default.
	got, ok := LexicalVersions.Compare("9", "10")
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	_, ok = LexicalVersions.Compare("", "1")
	assert.False(t, ok)
}

func TestComparatorByName(t *testing.T) {
	c, ok := ComparatorByName("")
	assert.True(t, ok)
	got, ok := c.Compare("9", "10")
	assert.True(t, ok)
	assert.Equal(t, -1, got)

	_, ok = ComparatorByName("semver")
	assert.False(t, ok)
}

func TestIDString(t *testing.T) {
	assert.Equal(t, "default/web", NewID("default", "web").String())
	assert.Equal(t, "cluster-thing", NewID("", "cluster-thing").String())
	assert.Equal(t, NewID("a", "b"), FromNamespacedName(NewID("a", "b").NamespacedName()))
}
