package domain

import "sort"

// RankTier is a named band of the points scale.
type RankTier struct {
	Name      string `json:"name"`
	MinPoints int    `json:"min_points"`
	Color     string `json:"color"`
}

// RankTable is a tier list ordered by ascending MinPoints.
type RankTable []RankTier

// DefaultRankTable is the tier table used by the API.
var DefaultRankTable = NewRankTable([]RankTier{
	{Name: "Bronze", MinPoints: 0, Color: "#CD7F32"},
	{Name: "Silver", MinPoints: 100, Color: "#C0C0C0"},
	{Name: "Gold", MinPoints: 300, Color: "#FFD700"},
	{Name: "Platinum", MinPoints: 600, Color: "#4FC3F7"},
	{Name: "Diamond", MinPoints: 1000, Color: "#B388FF"},
})

// NewRankTable copies tiers and sorts them by MinPoints.
func NewRankTable(tiers []RankTier) RankTable {
	table := make(RankTable, len(tiers))
	copy(table, tiers)
	sort.SliceStable(table, func(i, j int) bool {
		return table[i].MinPoints < table[j].MinPoints
	})
	return table
}

// currentIndex returns the index of the tier with the greatest MinPoints not
// above points, the lowest tier when points is below every threshold, or -1
// for an empty table.
func (t RankTable) currentIndex(points int) int {
	if len(t) == 0 {
		return -1
	}
	idx := 0
	for i, tier := range t {
		if tier.MinPoints > points {
			break
		}
		idx = i
	}
	return idx
}

// Current returns the tier for a point total.
func (t RankTable) Current(points int) RankTier {
	idx := t.currentIndex(points)
	if idx < 0 {
		return RankTier{}
	}
	return t[idx]
}

// Next returns the tier directly above Current, or nil at max rank.
func (t RankTable) Next(points int) *RankTier {
	idx := t.currentIndex(points)
	if idx < 0 || idx+1 >= len(t) {
		return nil
	}
	next := t[idx+1]
	return &next
}

// RankInfo describes a point total against the tier table.
type RankInfo struct {
	Points          int       `json:"points"`
	Tier            RankTier  `json:"tier"`
	NextTier        *RankTier `json:"next_tier"`
	PointsNeeded    int       `json:"points_needed"`
	ProgressPercent int       `json:"progress_percent"`
}

// Info computes rank, next tier and progress through the current band.
func (t RankTable) Info(points int) RankInfo {
	info := RankInfo{
		Points:   points,
		Tier:     t.Current(points),
		NextTier: t.Next(points),
	}
	if info.NextTier == nil {
		info.ProgressPercent = 100
		return info
	}

	info.PointsNeeded = info.NextTier.MinPoints - points

	span := info.NextTier.MinPoints - info.Tier.MinPoints
	done := points - info.Tier.MinPoints
	switch {
	case span <= 0, done <= 0:
		info.ProgressPercent = 0
	default:
		info.ProgressPercent = min(100, done*100/span)
	}
	return info
}

// CurrentTier looks points up in DefaultRankTable.
func CurrentTier(points int) RankTier {
	return DefaultRankTable.Current(points)
}

// NextTier looks points up in DefaultRankTable.
func NextTier(points int) *RankTier {
	return DefaultRankTable.Next(points)
}

// RankInfoFor looks points up in DefaultRankTable.
func RankInfoFor(points int) RankInfo {
	return DefaultRankTable.Info(points)
}
