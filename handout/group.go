package handout

import "bytes"

// Group is a contiguous, inclusive run of page indices that show successive
// reveal steps of one slide.
type Group struct {
	First int
	Last  int
}

// Terminal returns the index of the page that survives reduction.
func (g Group) Terminal() int { return g.Last }

func (g Group) Len() int { return g.Last - g.First + 1 }

// Pages lists the page indices of the group in order.
func (g Group) Pages() []int {
	out := make([]int, 0, g.Len())
	for i := g.First; i <= g.Last; i++ {
		out = append(out, i)
	}
	return out
}

// GroupPages partitions the page sequence. A page joins the open group when
// it extends the page before it; otherwise it opens a new group.
func GroupPages(fps []Fingerprint) []Group {
	if len(fps) == 0 {
		return nil
	}
	groups := []Group{{First: 0, Last: 0}}
	for i := 1; i < len(fps); i++ {
		if continues(fps[i-1], fps[i]) {
			groups[len(groups)-1].Last = i
			continue
		}
		groups = append(groups, Group{First: i, Last: i})
	}
	return groups
}

// continues reports whether cur extends prev: both readable, prev's content
// a byte prefix of cur's, and prev's resources a subset of cur's.
func continues(prev, cur Fingerprint) bool {
	if prev.Err != nil || cur.Err != nil {
		return false
	}
	return bytes.HasPrefix(cur.Content, prev.Content) && isSubset(prev.Resources, cur.Resources)
}

// isSubset reports whether sorted a is contained in sorted b.
func isSubset(a, b []string) bool {
	j := 0
	for _, s := range a {
		for j < len(b) && b[j] < s {
			j++
		}
		if j == len(b) || b[j] != s {
			return false
		}
		j++
	}
	return true
}
