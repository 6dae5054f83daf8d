package models

import "fmt"

// Tier is a whiteboard-level access level. Tiers are ordered View < Edit < Own.
type Tier int

const (
	TierNone Tier = iota
	TierView
	TierEdit
	TierOwn
)

func (t Tier) String() string {
	switch t {
	case TierView:
		return "view"
	case TierEdit:
		return "edit"
	case TierOwn:
		return "own"
	default:
		return "none"
	}
}

func ParseTier(s string) (Tier, error) {
	switch s {
	case "view":
		return TierView, nil
	case "edit":
		return TierEdit, nil
	case "own":
		return TierOwn, nil
	default:
		return TierNone, fmt.Errorf("unknown permission tier %q", s)
	}
}

// CanEdit reports whether the tier may mutate the document.
// Own currently unlocks nothing beyond Edit.
func (t Tier) CanEdit() bool {
	return t >= TierEdit
}

func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Tier) UnmarshalText(b []byte) error {
	parsed, err := ParseTier(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type PrincipalType string

const (
	PrincipalUser  PrincipalType = "user"
	PrincipalEmail PrincipalType = "email"
)

// Permission grants a tier to a registered user, or to an email address
// whose invite has not been bound to an account yet.
type Permission struct {
	Type   PrincipalType `json:"type"`
	UserId string        `json:"userId,omitempty"`
	Email  string        `json:"email,omitempty"`
	Tier   Tier          `json:"permission"`
}

// permissionIndex derives the user id -> tier lookup from the shared-user
// list. Email invites are skipped. The owner always resolves to Own.
func permissionIndex(ownerId string, shared []Permission) map[string]Tier {
	index := make(map[string]Tier, len(shared)+1)
	for _, p := range shared {
		if p.Type != PrincipalUser || p.UserId == "" {
			continue
		}
		if p.Tier > index[p.UserId] {
			index[p.UserId] = p.Tier
		}
	}
	if ownerId != "" {
		index[ownerId] = TierOwn
	}
	return index
}
