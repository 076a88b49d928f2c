package catalog

// MinorityRole is dealt to every minority-aligned seat.
const MinorityRole = RoleCTO

// majorityOrder is the order in which unique majority roles are handed out.
// Seats beyond the list become interns.
var majorityOrder = []RoleType{
	RoleCISO,
	RoleEthics,
	RoleCOO,
	RoleCFO,
	RolePlatforms,
	RoleCEO,
}

// Distribution decides how many minority roles a roster of a given size gets.
type Distribution struct {
	// PlayersPerMinority yields max(1, n/PlayersPerMinority) minority seats.
	PlayersPerMinority int
	// Table overrides the ratio for exact roster sizes.
	Table map[int]int
}

// DefaultDistribution gives one rogue AI per four players.
func DefaultDistribution() Distribution {
	return Distribution{PlayersPerMinority: 4}
}

// MinorityCount returns how many minority-aligned roles a roster of n
// players receives. The result always leaves at least one majority seat.
func (d Distribution) MinorityCount(n int) int {
	if n <= 1 {
		return 0
	}
	count, ok := d.Table[n]
	if !ok {
		per := d.PlayersPerMinority
		if per <= 0 {
			per = 4
		}
		count = n / per
	}
	if count < 1 {
		count = 1
	}
	if count > n-1 {
		count = n - 1
	}
	return count
}

// Deal returns n role types whose counts sum to n: minority roles first,
// then the majority roles in catalog order, interns filling the rest.
func (d Distribution) Deal(n int) []RoleType {
	if n <= 0 {
		return nil
	}
	minority := d.MinorityCount(n)
	out := make([]RoleType, 0, n)
	for range minority {
		out = append(out, MinorityRole)
	}
	for i := 0; len(out) < n; i++ {
		if i < len(majorityOrder) {
			out = append(out, majorityOrder[i])
			continue
		}
		out = append(out, RoleIntern)
	}
	return out
}
