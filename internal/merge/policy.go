package merge

import "sort"

// Policy configures the tiered merge selection: after every flush, segments
// are grouped into size tiers, and any tier that has grown past
// MaxSegmentsPerTier schedules a merge of its smallest members.
type Policy struct {
	MaxMergeAtOnce     int
	MaxSegmentsPerTier int
	FloorSegmentBlocks int
}

// DefaultPolicy returns the spec's default tuning.
func DefaultPolicy() Policy {
	return Policy{
		MaxMergeAtOnce:     10,
		MaxSegmentsPerTier: 10,
		FloorSegmentBlocks: 4,
	}
}

// Candidate is the minimal segment shape the policy needs to make a
// decision: an opaque id and its block count.
type Candidate struct {
	ID         uint64
	BlockCount uint32
}

// Plan is the outcome of one policy evaluation: either empty (nothing to
// merge) or naming exactly the segment ids to fold together.
type Plan struct {
	SegmentIDs []uint64
}

// Empty reports whether the plan has nothing to do.
func (p Plan) Empty() bool { return len(p.SegmentIDs) == 0 }

// Select evaluates segments against the policy and returns at most one
// merge plan, as required by spec: "either an empty plan or exactly one
// merge per commit cycle".
func (p Policy) Select(segments []Candidate) Plan {
	if len(segments) == 0 {
		return Plan{}
	}

	sorted := make([]Candidate, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].BlockCount > sorted[j].BlockCount })

	tiers := p.groupTiers(sorted)
	for _, tier := range tiers {
		if len(tier) <= p.MaxSegmentsPerTier {
			continue
		}
		// pick the smallest members of the oversized tier
		sort.Slice(tier, func(i, j int) bool { return tier[i].BlockCount < tier[j].BlockCount })
		n := p.MaxMergeAtOnce
		if n > len(tier) {
			n = len(tier)
		}
		ids := make([]uint64, n)
		for i := 0; i < n; i++ {
			ids[i] = tier[i].ID
		}
		return Plan{SegmentIDs: ids}
	}
	return Plan{}
}

// groupTiers buckets segments (already sorted by descending block count)
// into bands where every member's block count is within a factor of two of
// the tier's floor-clamped representative size.
func (p Policy) groupTiers(sorted []Candidate) [][]Candidate {
	var tiers [][]Candidate
	var current []Candidate
	var floor uint32

	for _, c := range sorted {
		size := c.BlockCount
		if size < uint32(p.FloorSegmentBlocks) {
			size = uint32(p.FloorSegmentBlocks)
		}
		if current == nil {
			floor = size
			current = []Candidate{c}
			continue
		}
		if floor <= size*2 {
			current = append(current, c)
			continue
		}
		tiers = append(tiers, current)
		floor = size
		current = []Candidate{c}
	}
	if current != nil {
		tiers = append(tiers, current)
	}
	return tiers
}
