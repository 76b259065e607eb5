// Package matching assigns contacts and groups to free time for one user.
//
// Candidates (individuals and groups) are ranked once with a stable sort and
// then claimed in a single pass. A candidate is skipped when any member has
// already been claimed or no slot can fit it, so each contact appears in at
// most one suggestion per batch.
package matching

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lazypower/rekindle/internal/model"
	"github.com/lazypower/rekindle/internal/scoring"
)

var suggestionNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("rekindle:suggestion"))

// SuggestionID derives a stable id from the batch, trigger, and members.
func SuggestionID(batchID string, trigger model.Trigger, ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprint(id)
	}
	key := batchID + "|" + string(trigger) + "|" + strings.Join(parts, ",")
	return uuid.NewSHA1(suggestionNamespace, []byte(key)).String()
}

// Config holds matching tunables.
type Config struct {
	MaxPending        int
	IndividualMinutes int
	GroupExtraMinutes int
	GroupThreshold    float64
	GroupBonus        float64
	PriorityGroups    []string
	RecentlyMetWindow time.Duration
	Weights           scoring.Weights
}

func DefaultConfig() Config {
	return Config{
		MaxPending:        5,
		IndividualMinutes: 30,
		GroupExtraMinutes: 30,
		GroupThreshold:    50,
		GroupBonus:        0.2,
		PriorityGroups:    []string{"Close Friends"},
		RecentlyMetWindow: 14 * 24 * time.Hour,
		Weights:           scoring.DefaultWeights(),
	}
}

// Input is everything matching needs for one user, read once at batch start.
type Input struct {
	UserID      string
	BatchID     string
	Timezone    string
	Now         time.Time
	Contacts    []model.Contact
	CoMentions  []model.CoMention
	Slots       []model.TimeSlot
	Anchors     []model.AnchorEvent
	Outstanding []model.Suggestion // pending or snoozed from earlier batches

	// InPersonMin is the shortest time left in a slot that still counts as
	// in-person. Zero trusts each slot's InPerson flag as given.
	InPersonMin time.Duration
}

// Matcher runs the greedy assignment. It holds no per-run state and is safe
// for concurrent use.
type Matcher struct {
	cfg Config
	log zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Matcher {
	return &Matcher{cfg: cfg, log: log}
}

type candidate struct {
	ids         []int64
	members     []model.Contact
	priority    float64
	shared      *float64
	breakdown   model.ScoreBreakdown
	minDuration time.Duration
	rank        int
	idSum       int64
}

func (c candidate) needsInPerson() bool {
	for _, m := range c.members {
		if m.Style == model.StyleIRL {
			return true
		}
	}
	return false
}

func (c candidate) prefersCall() bool {
	for _, m := range c.members {
		if m.Style == model.StyleURL {
			return true
		}
	}
	return false
}

func (c candidate) medium(inPerson bool) model.Medium {
	switch {
	case c.needsInPerson():
		return model.MediumInPerson
	case c.prefersCall():
		return model.MediumCall
	case inPerson:
		return model.MediumInPerson
	default:
		return model.MediumCall
	}
}

// Match produces the suggestions for one batch. The result is a pure function
// of in and the matcher's config.
func (m *Matcher) Match(in Input) []model.Suggestion {
	limit := m.cfg.MaxPending - len(in.Outstanding)
	if limit <= 0 {
		m.log.Debug().Str("user_id", in.UserID).Int("outstanding", len(in.Outstanding)).Msg("pending cap reached")
		return nil
	}

	excluded := make(map[int64]bool)
	for _, s := range in.Outstanding {
		for _, id := range s.ContactIDs {
			excluded[id] = true
		}
	}

	byID := make(map[int64]model.Contact, len(in.Contacts))
	var eligible []model.Contact
	for _, c := range in.Contacts {
		if _, dup := byID[c.ID]; dup {
			m.log.Warn().Str("user_id", in.UserID).Int64("contact_id", c.ID).Msg("duplicate contact in snapshot")
			continue
		}
		byID[c.ID] = c
		if !excluded[c.ID] {
			eligible = append(eligible, c)
		}
	}
	slices.SortFunc(eligible, func(a, b model.Contact) int { return cmp.Compare(a.ID, b.ID) })

	sc := scoring.NewContext(eligible, in.CoMentions, m.cfg.Weights)
	cands := m.candidates(in, eligible, sc)
	cands = m.checked(in.UserID, cands, byID, excluded)

	slots := reserve(in.Slots, in.Outstanding)
	cursors := make([]time.Time, len(slots))
	for i, s := range slots {
		cursors[i] = s.Start
	}

	claimed := make(map[int64]bool)
	var out []model.Suggestion
	for _, c := range cands {
		if len(out) >= limit {
			break
		}
		if anyClaimed(claimed, c.ids) {
			continue
		}
		idx, ok := fit(c, slots, cursors, in.InPersonMin)
		if !ok {
			continue
		}
		start := cursors[idx]
		end := start.Add(c.minDuration)
		cursors[idx] = end

		inPerson := inPersonLeft(slots[idx], start, in.InPersonMin)
		slot := model.TimeSlot{Start: start, End: end, Timezone: slots[idx].Timezone, InPerson: inPerson}
		s := m.suggestion(in, c, slot, model.TriggerTimeBound, c.medium(slot.InPerson), "")
		s.Reasoning = timeBoundReason(c, in.Now)
		out = append(out, s)
		claim(claimed, c.ids)
	}

	out = append(out, m.sharedActivity(in, cands, claimed, limit-len(out), sc)...)
	return out
}

// candidates builds and ranks every individual and group candidate.
func (m *Matcher) candidates(in Input, eligible []model.Contact, sc *scoring.Context) []candidate {
	recency := make(map[int64]float64, len(eligible))
	byID := make(map[int64]model.Contact, len(eligible))
	for _, c := range eligible {
		recency[c.ID] = scoring.ContactRecency(c, in.Now, m.cfg.RecentlyMetWindow)
		byID[c.ID] = c
	}

	cands := make([]candidate, 0, len(eligible))
	for _, c := range eligible {
		cands = append(cands, candidate{
			ids:         []int64{c.ID},
			members:     []model.Contact{c},
			priority:    recency[c.ID],
			minDuration: time.Duration(m.cfg.IndividualMinutes) * time.Minute,
			rank:        m.rank([]model.Contact{c}),
			idSum:       c.ID,
		})
	}

	groups := FindGroups(eligible, sc, FinderConfig{
		Threshold:         m.cfg.GroupThreshold,
		IndividualMinutes: m.cfg.IndividualMinutes,
		GroupExtraMinutes: m.cfg.GroupExtraMinutes,
	})
	for _, g := range groups {
		members := make([]model.Contact, len(g.ContactIDs))
		var total float64
		var idSum int64
		for i, id := range g.ContactIDs {
			members[i] = byID[id]
			total += recency[id]
			idSum += id
		}
		mean := total / float64(len(g.ContactIDs))
		score := g.Score
		cands = append(cands, candidate{
			ids:         g.ContactIDs,
			members:     members,
			priority:    mean + m.cfg.GroupBonus*score,
			shared:      &score,
			breakdown:   g.Breakdown,
			minDuration: g.MinDuration,
			rank:        m.rank(members),
			idSum:       idSum,
		})
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.priority != b.priority {
			return a.priority > b.priority
		}
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if a.idSum != b.idSum {
			return a.idSum < b.idSum
		}
		return slices.Compare(a.ids, b.ids) < 0
	})
	return cands
}

// rank is the position of the first priority group any member belongs to,
// or len(PriorityGroups) when none match.
func (m *Matcher) rank(members []model.Contact) int {
	for i, pg := range m.cfg.PriorityGroups {
		for _, c := range members {
			for _, g := range c.Groups {
				if strings.EqualFold(strings.TrimSpace(g), strings.TrimSpace(pg)) {
					return i
				}
			}
		}
	}
	return len(m.cfg.PriorityGroups)
}

// checked drops candidates that would break batch invariants. None should
// reach this point; anything that does is logged and skipped.
func (m *Matcher) checked(userID string, cands []candidate, byID map[int64]model.Contact, excluded map[int64]bool) []candidate {
	out := cands[:0]
	for _, c := range cands {
		if reason := invalid(c, byID, excluded); reason != "" {
			m.log.Error().Str("user_id", userID).Ints64("contact_ids", c.ids).Str("reason", reason).Msg("dropping invalid candidate")
			continue
		}
		out = append(out, c)
	}
	return out
}

func invalid(c candidate, byID map[int64]model.Contact, excluded map[int64]bool) string {
	if len(c.ids) < 1 || len(c.ids) > 3 {
		return "bad size"
	}
	seen := make(map[int64]bool, len(c.ids))
	for _, id := range c.ids {
		if seen[id] {
			return "duplicate member"
		}
		seen[id] = true
		if _, ok := byID[id]; !ok {
			return "unknown contact"
		}
		if excluded[id] {
			return "contact has an outstanding suggestion"
		}
	}
	if c.minDuration <= 0 {
		return "no duration"
	}
	return ""
}

// fit returns the earliest slot with enough room left whose mode suits c.
func fit(c candidate, slots []model.TimeSlot, cursors []time.Time, inPersonMin time.Duration) (int, bool) {
	needInPerson := c.needsInPerson()
	for i, s := range slots {
		if s.End.Sub(cursors[i]) < c.minDuration {
			continue
		}
		if needInPerson && !inPersonLeft(s, cursors[i], inPersonMin) {
			continue
		}
		return i, true
	}
	return 0, false
}

// inPersonLeft reports whether what remains of s from cursor on is still long
// enough to meet in person.
func inPersonLeft(s model.TimeSlot, cursor time.Time, least time.Duration) bool {
	return s.InPerson && s.End.Sub(cursor) >= least
}

// reserve cuts the time promised to outstanding suggestions out of the free
// slots and returns the pieces in start order.
func reserve(slots []model.TimeSlot, outstanding []model.Suggestion) []model.TimeSlot {
	var taken []model.TimeSlot
	for _, s := range outstanding {
		if s.Slot.End.After(s.Slot.Start) {
			taken = append(taken, s.Slot)
		}
	}

	out := make([]model.TimeSlot, 0, len(slots))
	for _, s := range slots {
		pieces := []model.TimeSlot{s}
		for _, t := range taken {
			var next []model.TimeSlot
			for _, p := range pieces {
				if !t.Start.Before(p.End) || !t.End.After(p.Start) {
					next = append(next, p)
					continue
				}
				if t.Start.After(p.Start) {
					head := p
					head.End = t.Start
					next = append(next, head)
				}
				if t.End.Before(p.End) {
					tail := p
					tail.Start = t.End
					next = append(next, tail)
				}
			}
			pieces = next
		}
		out = append(out, pieces...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}

func (m *Matcher) suggestion(in Input, c candidate, slot model.TimeSlot, trigger model.Trigger, medium model.Medium, anchorID string) model.Suggestion {
	typ := model.TypeIndividual
	if len(c.ids) > 1 {
		typ = model.TypeGroup
	}
	return model.Suggestion{
		ID:                 SuggestionID(in.BatchID, trigger, c.ids),
		UserID:             in.UserID,
		BatchID:            in.BatchID,
		Type:               typ,
		ContactIDs:         slices.Clone(c.ids),
		Slot:               slot,
		Trigger:            trigger,
		Medium:             medium,
		AnchorEventID:      anchorID,
		Priority:           c.priority,
		SharedContextScore: c.shared,
		Status:             model.StatusPending,
		CreatedAt:          in.Now,
		UpdatedAt:          in.Now,
		Version:            1,
	}
}

func anyClaimed(claimed map[int64]bool, ids []int64) bool {
	for _, id := range ids {
		if claimed[id] {
			return true
		}
	}
	return false
}

func claim(claimed map[int64]bool, ids []int64) {
	for _, id := range ids {
		claimed[id] = true
	}
}
