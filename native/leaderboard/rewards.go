package leaderboard

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Issuer credits rewards out of a finite supply. It is not safe for
// concurrent use; the gate serialises access.
type Issuer struct {
	supply   *uint256.Int
	balances map[common.Address]*uint256.Int
}

// NewIssuer returns an issuer with the given remaining supply and existing
// balances. Inputs are copied.
func NewIssuer(supply *uint256.Int, balances map[common.Address]*uint256.Int) *Issuer {
	issuer := &Issuer{
		supply:   new(uint256.Int),
		balances: make(map[common.Address]*uint256.Int, len(balances)),
	}
	if supply != nil {
		issuer.supply.Set(supply)
	}
	for addr, balance := range balances {
		if balance != nil {
			issuer.balances[addr] = balance.Clone()
		}
	}
	return issuer
}

// Supply returns the remaining issuable amount.
func (i *Issuer) Supply() *uint256.Int {
	return i.supply.Clone()
}

// BalanceOf returns the cumulative reward credited to addr.
func (i *Issuer) BalanceOf(addr common.Address) *uint256.Int {
	if balance, ok := i.balances[addr]; ok {
		return balance.Clone()
	}
	return new(uint256.Int)
}

// preview computes the post-issue balance and supply without mutating.
func (i *Issuer) preview(caller common.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, nil, errors.New("leaderboard: reward amount must be positive")
	}
	if i.supply.Lt(amount) {
		return nil, nil, fmt.Errorf("%w: %s remaining, %s required", ErrInsufficientSupply, i.supply.Dec(), amount.Dec())
	}
	balance, overflow := new(uint256.Int).AddOverflow(i.BalanceOf(caller), amount)
	if overflow {
		return nil, nil, errors.New("leaderboard: reward balance overflow")
	}
	supply := new(uint256.Int).Sub(i.supply, amount)
	return balance, supply, nil
}

func (i *Issuer) apply(caller common.Address, balance, supply *uint256.Int) {
	i.balances[caller] = balance.Clone()
	i.supply.Set(supply)
}

func (i *Issuer) previewFund(amount *uint256.Int) (*uint256.Int, error) {
	if amount == nil || amount.IsZero() {
		return nil, errors.New("leaderboard: funding amount must be positive")
	}
	supply, overflow := new(uint256.Int).AddOverflow(i.supply, amount)
	if overflow {
		return nil, errors.New("leaderboard: reward supply overflow")
	}
	return supply, nil
}
