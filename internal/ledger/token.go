package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// Token is the fungible-token collaborator used by collateralized and
// token-settled protocols. Allowance semantics mirror the usual ERC-20 shape:
// TransferFrom spends the owner's allowance granted to the spender.
type Token interface {
	Address() common.Address
	BalanceOf(owner common.Address) *big.Int
	Allowance(owner, spender common.Address) *big.Int
	Approve(owner, spender common.Address, amount *big.Int)
	Transfer(from, to common.Address, amount *big.Int) error
	TransferFrom(spender, from, to common.Address, amount *big.Int) error
}

// MemToken is an in-memory Token implementation.
type MemToken struct {
	addr       common.Address
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]*big.Int
}

// NewMemToken creates an empty MemToken identified by addr.
func NewMemToken(addr common.Address) *MemToken {
	return &MemToken{
		addr:       addr,
		balances:   make(map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]*big.Int),
	}
}

func (t *MemToken) Address() common.Address {
	return t.addr
}

// Mint credits amount of token units to owner.
func (t *MemToken) Mint(owner common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.credit(owner, amount)
}

func (t *MemToken) BalanceOf(owner common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.balances[owner]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (t *MemToken) Allowance(owner, spender common.Address) *big.Int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.allowances[owner]; ok {
		if a, ok := m[spender]; ok {
			return new(big.Int).Set(a)
		}
	}
	return new(big.Int)
}

// Approve sets (not adds to) the spender's allowance over owner's units.
func (t *MemToken) Approve(owner, spender common.Address, amount *big.Int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.allowances[owner]
	if !ok {
		m = make(map[common.Address]*big.Int)
		t.allowances[owner] = m
	}
	m[spender] = new(big.Int).Set(amount)
}

func (t *MemToken) Transfer(from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.move(from, to, amount)
}

// TransferFrom moves amount from the owner to the destination, spending the
// allowance previously granted to spender.
func (t *MemToken) TransferFrom(spender, from, to common.Address, amount *big.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	m, ok := t.allowances[from]
	if !ok {
		return fmt.Errorf("token %s: transferFrom by %s: allowance exceeded", t.addr.Hex(), spender.Hex())
	}
	allowed, ok := m[spender]
	if !ok || allowed.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: transferFrom by %s: allowance exceeded", t.addr.Hex(), spender.Hex())
	}

	if err := t.move(from, to, amount); err != nil {
		return err
	}
	allowed.Sub(allowed, amount)
	return nil
}

// move transfers units between balances. Caller must hold t.mu.
func (t *MemToken) move(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("token %s: amount must be non-negative", t.addr.Hex())
	}
	src, ok := t.balances[from]
	if !ok || src.Cmp(amount) < 0 {
		return fmt.Errorf("token %s: transfer %s -> %s: %w", t.addr.Hex(), from.Hex(), to.Hex(), domain.ErrInsufficientFunds)
	}
	src.Sub(src, amount)
	t.credit(to, amount)
	return nil
}

func (t *MemToken) credit(owner common.Address, amount *big.Int) {
	if b, ok := t.balances[owner]; ok {
		b.Add(b, amount)
		return
	}
	t.balances[owner] = new(big.Int).Set(amount)
}

var _ Token = (*MemToken)(nil)
