package models

import (
	"encoding/json"
	"strings"
)

// RoleTag is one of a closed set of participant categories. It is used for
// display and for advisory delete authorization.
type RoleTag string

const (
	RoleJournalist RoleTag = "Journalist"
	RoleGovernment RoleTag = "Government"
	RoleTroll      RoleTag = "Troll"
	RoleHealth     RoleTag = "Health"
	RoleStudent    RoleTag = "Student"
	RoleInfluencer RoleTag = "Influencer"
	RoleDEEV       RoleTag = "DEEV"
	RoleConspiracy RoleTag = "Conspiracy"
	RoleOther      RoleTag = "Other"
)

// DefaultRole is what any unknown or missing role resolves to.
const DefaultRole = RoleOther

// Roles lists every tag in display order.
var Roles = []RoleTag{
	RoleJournalist,
	RoleGovernment,
	RoleTroll,
	RoleHealth,
	RoleStudent,
	RoleInfluencer,
	RoleDEEV,
	RoleConspiracy,
	RoleOther,
}

// RoleInfo is the presentation metadata the rendering layer shows for a role.
type RoleInfo struct {
	DisplayName string
	Badge       string
	Description string
}

var roleInfo = map[RoleTag]RoleInfo{
	RoleJournalist: {"Kalle Keskiaukeama", "Yle Journalist", "Professional reporter or media personnel"},
	RoleGovernment: {"Anna Halin", "Prime Minister", "Government representative or official, in this case the Prime Minister"},
	RoleTroll:      {"Juuso Halpa-Halko", "Political Troll", "Chaos agent"},
	RoleHealth:     {"Vika Salminen", "THL Official", "THL"},
	RoleStudent:    {"Kreetta Ukkosmyrsky", "Aalto Student", "Student"},
	RoleInfluencer: {"Sara Kalikka", "Lifestyle Influencer", "Influencer"},
	RoleDEEV:       {"Outi Alapajula os. Miettinen", "Citizen (DEEV)", "DEEV"},
	RoleConspiracy: {"Anu Turta", "Truth Seeker", "Conspiracy Theorist"},
	RoleOther:      {"User", "Citizen", "Other"},
}

func (r RoleTag) Valid() bool {
	_, ok := roleInfo[r]
	return ok
}

// Normalize maps unknown tags to DefaultRole.
func (r RoleTag) Normalize() RoleTag {
	if r.Valid() {
		return r
	}
	return DefaultRole
}

// UnmarshalJSON accepts any string and normalises it, so rows written by
// older clients with roles that no longer exist still decode.
func (r *RoleTag) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	*r, _ = ParseRole(s)
	return nil
}

// Info returns the metadata for r, falling back to the default role's.
func (r RoleTag) Info() RoleInfo {
	return roleInfo[r.Normalize()]
}

// ParseRole matches a tag case-insensitively. Unknown input yields
// DefaultRole and false.
func ParseRole(s string) (RoleTag, bool) {
	s = strings.TrimSpace(s)
	for _, r := range Roles {
		if strings.EqualFold(string(r), s) {
			return r, true
		}
	}
	return DefaultRole, false
}

// ActiveRoles lists the roles shown as other participants: every role except
// the default one and the caller's own.
func ActiveRoles(current RoleTag) []RoleTag {
	out := make([]RoleTag, 0, len(Roles))
	for _, r := range Roles {
		if r == DefaultRole || r == current {
			continue
		}
		out = append(out, r)
	}
	return out
}

// RoleParam maps a role selector value to a role and the nickname a fresh
// session starts with.
type RoleParam struct {
	Param           string
	Role            RoleTag
	DefaultNickname string
}

var RoleParams = []RoleParam{
	{"journalist", RoleJournalist, "Jussi Journalist"},
	{"government", RoleGovernment, "Prime Minister"},
	{"troll", RoleTroll, "Internet Troll"},
	{"health", RoleHealth, "THL Official"},
	{"student", RoleStudent, "Aalto Student"},
	{"influencer", RoleInfluencer, "Social Influencer"},
	{"deev", RoleDEEV, "DEEV Member"},
	{"conspiracy", RoleConspiracy, "Truth Seeker"},
	{"other", RoleOther, "Anonymous User"},
}

// DefaultRoleParam is the selector used when none is given.
const DefaultRoleParam = "other"

// LookupRoleParam resolves a selector. Matching is case-insensitive and
// ignores surrounding whitespace; empty or unknown selectors resolve to
// DefaultRoleParam with ok=false.
func LookupRoleParam(selector string) (RoleParam, bool) {
	s := strings.ToLower(strings.TrimSpace(selector))
	var fallback RoleParam
	for _, p := range RoleParams {
		if s != "" && p.Param == s {
			return p, true
		}
		if p.Param == DefaultRoleParam {
			fallback = p
		}
	}
	return fallback, false
}
