package leaderboard

import "github.com/ethereum/go-ethereum/common"

// Authority answers whether a caller may run privileged gate operations.
type Authority interface {
	IsAdmin(caller common.Address) bool
}

// AuthorityFunc adapts a plain function to Authority.
type AuthorityFunc func(caller common.Address) bool

// IsAdmin implements Authority.
func (f AuthorityFunc) IsAdmin(caller common.Address) bool { return f(caller) }

// StaticAuthority recognises a fixed set of administrators.
type StaticAuthority struct {
	admins map[common.Address]struct{}
}

// NewStaticAuthority returns an authority for the given administrators.
func NewStaticAuthority(admins ...common.Address) *StaticAuthority {
	set := make(map[common.Address]struct{}, len(admins))
	for _, admin := range admins {
		if admin == (common.Address{}) {
			continue
		}
		set[admin] = struct{}{}
	}
	return &StaticAuthority{admins: set}
}

// IsAdmin implements Authority.
func (a *StaticAuthority) IsAdmin(caller common.Address) bool {
	if a == nil || caller == (common.Address{}) {
		return false
	}
	_, ok := a.admins[caller]
	return ok
}
