// Package receiverpays implements a pull-payment pool. The owner funds the
// pool and hands out signed claims off-line; each claim binds a recipient,
// an amount, and a single-use nonce to this instance.
package receiverpays

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Config holds the immutable pool parameters.
type Config struct {
	Address common.Address
	Owner   common.Address
	Deposit *big.Int
	Ledger  *ledger.Ledger
	Emitter protocol.Emitter
}

// Pool is a funded receiver-pays instance.
type Pool struct {
	addr       common.Address
	owner      common.Address
	led        *ledger.Ledger
	emit       protocol.Emitter
	usedNonces map[uint64]bool
	killed     bool
}

// New escrows the owner's deposit and opens the pool.
func New(cfg Config) (*Pool, error) {
	if !protocol.Positive(cfg.Deposit) {
		return nil, domain.InvalidValue("pool deposit must be positive")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}

	if err := cfg.Ledger.Transfer(cfg.Owner, cfg.Address, cfg.Deposit); err != nil {
		return nil, err
	}

	p := &Pool{
		addr:       cfg.Address,
		owner:      cfg.Owner,
		led:        cfg.Ledger,
		emit:       cfg.Emitter,
		usedNonces: make(map[uint64]bool),
	}

	p.emit.Emit("receiver_pays.opened", map[string]any{
		"owner":   p.owner.Hex(),
		"deposit": cfg.Deposit.String(),
	})
	return p, nil
}

// ClaimDigest is the hash the owner signs to authorize a payment of amount to
// recipient under the given nonce on the given pool instance.
func ClaimDigest(recipient common.Address, amount *big.Int, nonce uint64, poolAddr common.Address) []byte {
	return crypto.Keccak(
		crypto.PackAddress(recipient),
		crypto.PackUint256(amount),
		crypto.PackUint256(new(big.Int).SetUint64(nonce)),
		crypto.PackAddress(poolAddr),
	)
}

// ClaimPayment pays amount to the caller against an owner signature over
// ClaimDigest. The nonce is marked used before any value moves, so a replay
// fails even if the transfer below were to fail.
func (p *Pool) ClaimPayment(caller common.Address, amount *big.Int, nonce uint64, sig []byte) error {
	if p.killed {
		return domain.InvalidState("pool is closed")
	}
	if !protocol.Positive(amount) {
		return domain.InvalidValue("claim amount must be positive")
	}
	if p.usedNonces[nonce] {
		return domain.InvalidState("nonce already used")
	}
	if amount.Cmp(p.led.Balance(p.addr)) > 0 {
		return domain.InvalidValue("claim amount exceeds pool balance")
	}
	if !crypto.SignedBy(ClaimDigest(caller, amount, nonce, p.addr), sig, p.owner) {
		return domain.Unauthorized("claim is not signed by the owner")
	}

	p.usedNonces[nonce] = true
	if err := p.led.Transfer(p.addr, caller, amount); err != nil {
		return err
	}

	p.emit.Emit("receiver_pays.claimed", map[string]any{
		"recipient": caller.Hex(),
		"amount":    amount.String(),
		"nonce":     nonce,
	})
	return nil
}

// Kill returns the residual pool balance to the owner and closes the pool.
func (p *Pool) Kill(caller common.Address) error {
	if p.killed {
		return domain.InvalidState("pool is closed")
	}
	if caller != p.owner {
		return domain.Unauthorized("only the owner may close the pool")
	}

	residual := p.led.Balance(p.addr)
	p.killed = true
	if err := p.led.Transfer(p.addr, p.owner, residual); err != nil {
		return err
	}

	p.emit.Emit("receiver_pays.killed", map[string]any{
		"owner":    p.owner.Hex(),
		"residual": residual.String(),
	})
	return nil
}

// Owner returns the funding party.
func (p *Pool) Owner() common.Address { return p.owner }

// Balance returns the remaining pool balance.
func (p *Pool) Balance() *big.Int { return p.led.Balance(p.addr) }

// NonceUsed reports whether a nonce has been consumed.
func (p *Pool) NonceUsed(nonce uint64) bool { return p.usedNonces[nonce] }

// Status reports the lifecycle phase.
func (p *Pool) Status() protocol.Status {
	if p.killed {
		return protocol.StatusSettled
	}
	return protocol.StatusActive
}

// State returns a snapshot of the pool for persistence.
func (p *Pool) State() map[string]any {
	nonces := make([]uint64, 0, len(p.usedNonces))
	for n := range p.usedNonces {
		nonces = append(nonces, n)
	}
	return map[string]any{
		"owner":       p.owner.Hex(),
		"balance":     p.Balance().String(),
		"used_nonces": nonces,
		"killed":      p.killed,
	}
}

// Parties returns the addresses bound to this pool.
func (p *Pool) Parties() []common.Address {
	return []common.Address{p.owner}
}
