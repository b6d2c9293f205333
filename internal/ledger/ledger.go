// Package ledger tracks native-unit balances for parties and agreement escrow
// addresses. All amounts are non-negative big integers and every transfer is
// all-or-nothing.
package ledger

import (
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// Ledger holds balances keyed by address.
type Ledger struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// New creates an empty Ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[common.Address]*big.Int)}
}

// Mint credits amount to addr. Used to fund parties before they enter
// agreements; escrow movement between funded parties goes through Transfer.
func (l *Ledger) Mint(addr common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: mint %s: amount must be non-negative", addr.Hex())
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(addr, amount)
	return nil
}

// Balance returns a copy of addr's current balance.
func (l *Ledger) Balance(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Transfer moves amount from one address to another. It fails with
// domain.ErrInsufficientFunds when the source balance does not cover the
// amount, leaving both balances untouched.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("ledger: transfer %s -> %s: amount must be non-negative", from.Hex(), to.Hex())
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	src, ok := l.balances[from]
	if !ok || src.Cmp(amount) < 0 {
		return fmt.Errorf("ledger: transfer %s -> %s: %w", from.Hex(), to.Hex(), domain.ErrInsufficientFunds)
	}

	src.Sub(src, amount)
	l.credit(to, amount)
	return nil
}

// credit adds amount to addr. Caller must hold l.mu.
func (l *Ledger) credit(addr common.Address, amount *big.Int) {
	if b, ok := l.balances[addr]; ok {
		b.Add(b, amount)
		return
	}
	l.balances[addr] = new(big.Int).Set(amount)
}
