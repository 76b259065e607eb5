package scoring

import (
	"math"

	"github.com/lazypower/rekindle/internal/model"
)

// Weights configures the shared-context score. Each category earns Per points
// for every item the members all share, up to Cap. The sum is capped at Total.
type Weights struct {
	GroupPer, GroupCap         float64
	TagPer, TagCap             float64
	CoMentionPer, CoMentionCap float64
	InterestPer, InterestCap   float64
	Total                      float64
}

func DefaultWeights() Weights {
	return Weights{
		GroupPer: 25, GroupCap: 50,
		TagPer: 10, TagCap: 30,
		CoMentionPer: 5, CoMentionCap: 25,
		InterestPer: 8, InterestCap: 24,
		Total: 100,
	}
}

type profile struct {
	groups, tags, interests Bitset
}

type pair struct{ a, b int64 }

func pairOf(a, b int64) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a, b}
}

// Context scores overlap between a user's contacts. It is built once per
// generation run from the snapshot and is read-only afterwards.
type Context struct {
	weights    Weights
	groups     *vocab
	tags       *vocab
	interests  *vocab
	profiles   map[int64]profile
	comentions map[pair]int
}

// NewContext indexes contacts and co-mention counts.
func NewContext(contacts []model.Contact, comentions []model.CoMention, w Weights) *Context {
	c := &Context{
		weights:    w,
		groups:     newVocab(),
		tags:       newVocab(),
		interests:  newVocab(),
		profiles:   make(map[int64]profile, len(contacts)),
		comentions: make(map[pair]int, len(comentions)),
	}
	for _, ct := range contacts {
		for _, g := range ct.Groups {
			c.groups.add(g)
		}
		for _, t := range ct.Tags {
			c.tags.add(t)
		}
		for _, i := range ct.Interests {
			c.interests.add(i)
		}
	}
	for _, ct := range contacts {
		c.profiles[ct.ID] = profile{
			groups:    c.groups.set(ct.Groups),
			tags:      c.tags.set(ct.Tags),
			interests: c.interests.set(ct.Interests),
		}
	}
	for _, m := range comentions {
		if m.A == m.B || m.Count <= 0 {
			continue
		}
		c.comentions[pairOf(m.A, m.B)] += m.Count
	}
	return c
}

// common intersects the members' profiles. ok is false if any id is unknown.
func (c *Context) common(ids []int64) (profile, bool) {
	first, ok := c.profiles[ids[0]]
	if !ok {
		return profile{}, false
	}
	acc := first
	for _, id := range ids[1:] {
		p, ok := c.profiles[id]
		if !ok {
			return profile{}, false
		}
		acc = profile{
			groups:    acc.groups.And(p.groups),
			tags:      acc.tags.And(p.tags),
			interests: acc.interests.And(p.interests),
		}
	}
	return acc, true
}

// CoMentions is the pair count for two ids, or the weakest pair for more.
func (c *Context) CoMentions(ids ...int64) int {
	if len(ids) < 2 {
		return 0
	}
	lowest := math.MaxInt
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			lowest = min(lowest, c.comentions[pairOf(ids[i], ids[j])])
		}
	}
	return lowest
}

// SharesGroupOrTag reports whether a and b have any group or tag in common.
func (c *Context) SharesGroupOrTag(a, b int64) bool {
	p, ok := c.common([]int64{a, b})
	if !ok {
		return false
	}
	return p.groups.Count() > 0 || p.tags.Count() > 0
}

// Score rates how much the given contacts have in common, in [0, Total].
// Order of ids does not matter. Fewer than two ids score zero.
func (c *Context) Score(ids ...int64) (float64, model.ScoreBreakdown) {
	if len(ids) < 2 {
		return 0, model.ScoreBreakdown{}
	}
	p, ok := c.common(ids)
	if !ok {
		return 0, model.ScoreBreakdown{}
	}
	co := c.CoMentions(ids...)
	w := c.weights

	score := math.Min(float64(p.groups.Count())*w.GroupPer, w.GroupCap) +
		math.Min(float64(p.tags.Count())*w.TagPer, w.TagCap) +
		math.Min(float64(co)*w.CoMentionPer, w.CoMentionCap) +
		math.Min(float64(p.interests.Count())*w.InterestPer, w.InterestCap)
	score = math.Min(score, w.Total)

	return score, model.ScoreBreakdown{
		Groups:     c.groups.labels(p.groups),
		Tags:       c.tags.labels(p.tags),
		Interests:  c.interests.labels(p.interests),
		CoMentions: co,
	}
}

// SharedInterests lists interests every member holds that also appear in labels.
func (c *Context) SharedInterests(ids []int64, labels []string) []string {
	if len(ids) == 0 {
		return nil
	}
	p, ok := c.common(ids)
	if !ok {
		return nil
	}
	var out []string
	seen := make(map[int]bool)
	for _, l := range labels {
		if i, ok := c.interests.lookup(l); ok && p.interests.Has(i) && !seen[i] {
			seen[i] = true
			out = append(out, c.interests.names[i])
		}
	}
	return out
}
