package handout

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func fp(content string, resources ...string) Fingerprint {
	return Fingerprint{Content: []byte(content), Resources: resources}
}

func TestGroupPages(t *testing.T) {
	broken := Fingerprint{Err: errors.New("bad stream")}
	tests := []struct {
		name string
		fps  []Fingerprint
		want []Group
	}{
		{"empty", nil, nil},
		{"single", []Fingerprint{fp("a")}, []Group{{0, 0}}},
		{"prefix chain", []Fingerprint{fp("a"), fp("ab"), fp("abc")}, []Group{{0, 2}}},
		{"identical pages merge", []Fingerprint{fp("a"), fp("a")}, []Group{{0, 1}}},
		{"shorter page starts a slide", []Fingerprint{fp("abc"), fp("ab")}, []Group{{0, 0}, {1, 1}}},
		{"divergent page starts a slide", []Fingerprint{fp("ab"), fp("ac")}, []Group{{0, 0}, {1, 1}}},
		{"two slides", []Fingerprint{fp("a"), fp("ab"), fp("x"), fp("xy")}, []Group{{0, 1}, {2, 3}}},
		{"resources grow", []Fingerprint{fp("a", "Font/F1=4 0 R"), fp("ab", "Font/F1=4 0 R", "Font/F2=5 0 R")}, []Group{{0, 1}}},
		{"resource replaced", []Fingerprint{fp("a", "Font/F1=4 0 R"), fp("ab", "Font/F1=9 0 R")}, []Group{{0, 0}, {1, 1}}},
		{"resource dropped", []Fingerprint{fp("a", "Font/F1=4 0 R", "Font/F2=5 0 R"), fp("ab", "Font/F1=4 0 R")}, []Group{{0, 0}, {1, 1}}},
		{"unreadable predecessor", []Fingerprint{fp("a"), broken, fp("ab")}, []Group{{0, 0}, {1, 1}, {2, 2}}},
		{"unreadable follower", []Fingerprint{fp(""), broken}, []Group{{0, 0}, {1, 1}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if diff := cmp.Diff(tc.want, GroupPages(tc.fps)); diff != "" {
				t.Fatalf("groups mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func partitionInputs() [][]Fingerprint {
	return [][]Fingerprint{
		{fp("a"), fp("ab"), fp("b"), fp("bc"), fp("bcd"), fp("z")},
		{fp("x"), fp("x"), fp("x")},
		{fp("1"), fp("2"), fp("3"), fp("4")},
		{fp(""), fp("q"), fp(""), fp("r"), {Err: errors.New("e")}, fp("qqq")},
	}
}

func TestGroupPagesPartition(t *testing.T) {
	for _, fps := range partitionInputs() {
		groups := GroupPages(fps)
		var seen []int
		for _, g := range groups {
			require.LessOrEqual(t, g.First, g.Last)
			seen = append(seen, g.Pages()...)
		}
		want := make([]int, len(fps))
		for i := range want {
			want[i] = i
		}
		require.Equal(t, want, seen)
	}
}

func TestGroupPagesMonotonicPrefix(t *testing.T) {
	for _, fps := range partitionInputs() {
		groups := GroupPages(fps)
		for gi, g := range groups {
			for i := g.First + 1; i <= g.Last; i++ {
				require.True(t, continues(fps[i-1], fps[i]), "page %d must extend page %d", i, i-1)
			}
			if gi > 0 {
				require.False(t, continues(fps[g.First-1], fps[g.First]), "group %d must start at a divergence", gi)
			}
		}
	}
}

func TestGroupPagesIdempotent(t *testing.T) {
	for _, fps := range partitionInputs() {
		var terminals []Fingerprint
		for _, g := range GroupPages(fps) {
			terminals = append(terminals, fps[g.Terminal()])
		}
		for _, g := range GroupPages(terminals) {
			require.Equal(t, 1, g.Len())
		}
	}
}

func TestIsSubset(t *testing.T) {
	require.True(t, isSubset(nil, nil))
	require.True(t, isSubset(nil, []string{"a"}))
	require.True(t, isSubset([]string{"a", "c"}, []string{"a", "b", "c"}))
	require.False(t, isSubset([]string{"a", "d"}, []string{"a", "b", "c"}))
	require.False(t, isSubset([]string{"a", "a"}, []string{"a"}))
}
