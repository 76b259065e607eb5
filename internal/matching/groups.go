package matching

import (
	"slices"
	"sort"
	"time"

	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/scoring"
)

// FinderConfig controls group enumeration.
type FinderConfig struct {
	Threshold         float64
	IndividualMinutes int
	GroupExtraMinutes int
}

// GroupDuration is the minimum meeting length for a group.
func (c FinderConfig) GroupDuration() time.Duration {
	return time.Duration(c.IndividualMinutes+c.GroupExtraMinutes) * time.Minute
}

// FindGroups enumerates pairs and triples whose shared-context score reaches
// the threshold. Only pairs sharing a group or tag are considered, and a triple
// is considered only when all three of its pairs are. Results are ordered by
// score descending, then by member ids ascending.
func FindGroups(contacts []model.Contact, sc *scoring.Context, cfg FinderConfig) []model.GroupCandidate {
	ids := make([]int64, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	// adj[i] holds the indices j > i that share a group or tag with i.
	adj := make([][]int, len(ids))
	linked := make(map[[2]int]bool)
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if sc.SharesGroupOrTag(ids[i], ids[j]) {
				adj[i] = append(adj[i], j)
				linked[[2]int{i, j}] = true
			}
		}
	}

	dur := cfg.GroupDuration()
	var out []model.GroupCandidate
	keep := func(members ...int64) {
		score, breakdown := sc.Score(members...)
		if score < cfg.Threshold {
			return
		}
		out = append(out, model.GroupCandidate{
			ContactIDs:  members,
			Score:       score,
			Breakdown:   breakdown,
			MinDuration: dur,
		})
	}

	for i, next := range adj {
		for x, j := range next {
			keep(ids[i], ids[j])
			for _, k := range next[x+1:] {
				if linked[[2]int{j, k}] {
					keep(ids[i], ids[j], ids[k])
				}
			}
		}
	}

	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return slices.Compare(out[a].ContactIDs, out[b].ContactIDs) < 0
	})
	return out
}
