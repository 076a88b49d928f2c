// Package catalog is the static lookup of roles, alignments and factions.
// Nothing in here is ever mutated at runtime.
package catalog

type Alignment string

const (
	AlignmentHuman   Alignment = "HUMAN"
	AlignmentAligned Alignment = "ALIGNED"
)

// Faction is the team label used when announcing a winner.
type Faction string

const (
	FactionHumans Faction = "HUMANS"
	FactionAI     Faction = "AI"
)

// FactionOf maps an alignment to the faction it plays for.
func FactionOf(a Alignment) Faction {
	if a == AlignmentAligned {
		return FactionAI
	}
	return FactionHumans
}

// MajorityFaction and MinorityFaction name the two sides of the win rules.
const (
	MajorityFaction = FactionHumans
	MinorityFaction = FactionAI
)

type RoleType string

const (
	RoleCISO      RoleType = "CISO"
	RoleCEO       RoleType = "CEO"
	RoleCTO       RoleType = "CTO"
	RoleCOO       RoleType = "COO"
	RoleCFO       RoleType = "CFO"
	RoleEthics    RoleType = "ETHICS"
	RolePlatforms RoleType = "PLATFORMS"
	RoleIntern    RoleType = "INTERN"
)

// NightAction is the kind of target action a role may submit at night.
type NightAction string

const (
	ActionNone        NightAction = ""
	ActionProtect     NightAction = "PROTECT"
	ActionInvestigate NightAction = "INVESTIGATE"
	ActionEliminate   NightAction = "ELIMINATE"
)

// Priority orders night resolution: protective effects land before harmful
// ones. Lower runs first.
func (a NightAction) Priority() int {
	switch a {
	case ActionProtect:
		return 0
	case ActionInvestigate:
		return 1
	case ActionEliminate:
		return 2
	default:
		return 99
	}
}

// Role describes one entry of the catalog.
type Role struct {
	Type        RoleType    `json:"type"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Alignment   Alignment   `json:"-"`
	NightAction NightAction `json:"night_action,omitempty"`
}

var roles = map[RoleType]Role{
	RoleCISO: {
		Type:        RoleCISO,
		Name:        "Chief Information Security Officer",
		Description: "Shields one colleague from deactivation each night",
		Alignment:   AlignmentHuman,
		NightAction: ActionProtect,
	},
	RoleEthics: {
		Type:        RoleEthics,
		Name:        "VP, Ethics & Alignment",
		Description: "Audits one colleague each night and learns their alignment",
		Alignment:   AlignmentHuman,
		NightAction: ActionInvestigate,
	},
	RoleCTO: {
		Type:        RoleCTO,
		Name:        "Chief Technology Officer",
		Description: "The rogue AI. Deactivates one human each night",
		Alignment:   AlignmentAligned,
		NightAction: ActionEliminate,
	},
	RoleCOO: {
		Type:        RoleCOO,
		Name:        "Chief Operating Officer",
		Description: "Handles operations and crisis management",
		Alignment:   AlignmentHuman,
	},
	RoleCFO: {
		Type:        RoleCFO,
		Name:        "Chief Financial Officer",
		Description: "Controls financial resources",
		Alignment:   AlignmentHuman,
	},
	RolePlatforms: {
		Type:        RolePlatforms,
		Name:        "VP, Platforms",
		Description: "Maintains platform stability",
		Alignment:   AlignmentHuman,
	},
	RoleCEO: {
		Type:        RoleCEO,
		Name:        "Chief Executive Officer",
		Description: "Sets strategic direction",
		Alignment:   AlignmentHuman,
	},
	RoleIntern: {
		Type:        RoleIntern,
		Name:        "Intern",
		Description: "Learning the ropes of corporate survival",
		Alignment:   AlignmentHuman,
	},
}

// Lookup returns the catalog entry for rt.
func Lookup(rt RoleType) (Role, bool) {
	r, ok := roles[rt]
	return r, ok
}

// AlignmentOf returns the alignment derived from a role. Unknown roles are
// treated as human.
func AlignmentOf(rt RoleType) Alignment {
	if r, ok := roles[rt]; ok {
		return r.Alignment
	}
	return AlignmentHuman
}

// HasNightAction reports whether rt may act at night.
func HasNightAction(rt RoleType) bool {
	return NightActionOf(rt) != ActionNone
}

// NightActionOf returns the night action of rt, or ActionNone.
func NightActionOf(rt RoleType) NightAction {
	return roles[rt].NightAction
}
