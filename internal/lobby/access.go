package lobby

import "fmt"

// Access is a server-wide account role. Roles are ordered: a command
// gated at AccessUser is open to mods and admins too.
type Access int

const (
	// AccessAgreement marks a fresh account that has not yet confirmed
	// the user agreement. Only CONFIRMAGREEMENT is accepted.
	AccessAgreement Access = iota
	// AccessFresh marks an account awaiting e-mail verification.
	AccessFresh
	AccessUser
	AccessMod
	AccessAdmin
	// AccessBot is stored for autohost accounts. For command gating it
	// counts as a plain user; the bot flag surfaces in the status byte.
	AccessBot
)

var accessNames = map[Access]string{
	AccessAgreement: "agreement",
	AccessFresh:     "fresh",
	AccessUser:      "user",
	AccessMod:       "mod",
	AccessAdmin:     "admin",
	AccessBot:       "bot",
}

func (a Access) String() string {
	if s, ok := accessNames[a]; ok {
		return s
	}
	return fmt.Sprintf("access(%d)", int(a))
}

// ParseAccess maps a stored role name to an Access value.
func ParseAccess(s string) (Access, error) {
	for a, name := range accessNames {
		if name == s {
			return a, nil
		}
	}
	return AccessUser, fmt.Errorf("unknown access level %q", s)
}

// Satisfies reports whether a meets the minimum level required by min.
// AccessBot gates like a plain user.
func (a Access) Satisfies(min Access) bool {
	return a.rankOrder() >= min.rankOrder()
}

// IsMod reports mod-or-above.
func (a Access) IsMod() bool { return a == AccessMod || a == AccessAdmin }

// IsAdmin reports the admin role.
func (a Access) IsAdmin() bool { return a == AccessAdmin }

// StatusBits returns the two role bits of the client status byte
// (user=0, mod=1, admin=2).
func (a Access) StatusBits() uint8 {
	switch a {
	case AccessAdmin:
		return 2
	case AccessMod:
		return 1
	default:
		return 0
	}
}

func (a Access) rankOrder() int {
	if a == AccessBot {
		return int(AccessUser)
	}
	return int(a)
}
