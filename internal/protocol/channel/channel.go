// Package channel implements a unidirectional payment channel. The owner
// escrows funds up front; the recipient closes the channel with an
// owner-signed balance claim, or the owner reclaims everything after the
// deadline passes.
package channel

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Config holds the immutable channel parameters.
type Config struct {
	Address   common.Address // escrow address of this channel instance
	Owner     common.Address
	Recipient common.Address
	Duration  time.Duration
	Deposit   *big.Int
	Ledger    *ledger.Ledger
	Clock     clock.Clock
	Emitter   protocol.Emitter
}

// Channel is a funded unidirectional payment channel.
type Channel struct {
	addr      common.Address
	owner     common.Address
	recipient common.Address
	deadline  time.Time
	led       *ledger.Ledger
	clk       clock.Clock
	emit      protocol.Emitter
	closed    bool
}

// New escrows the owner's deposit and opens the channel. The deadline is set
// to now plus the configured duration.
func New(cfg Config) (*Channel, error) {
	if cfg.Duration <= 0 {
		return nil, domain.InvalidValue("channel duration must be positive")
	}
	if !protocol.Positive(cfg.Deposit) {
		return nil, domain.InvalidValue("channel deposit must be positive")
	}
	if cfg.Owner == cfg.Recipient {
		return nil, domain.InvalidValue("owner and recipient must differ")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}

	if err := cfg.Ledger.Transfer(cfg.Owner, cfg.Address, cfg.Deposit); err != nil {
		return nil, err
	}

	c := &Channel{
		addr:      cfg.Address,
		owner:     cfg.Owner,
		recipient: cfg.Recipient,
		deadline:  cfg.Clock.Now().Add(cfg.Duration),
		led:       cfg.Ledger,
		clk:       cfg.Clock,
		emit:      cfg.Emitter,
	}

	c.emit.Emit("channel.opened", map[string]any{
		"owner":     c.owner.Hex(),
		"recipient": c.recipient.Hex(),
		"deposit":   cfg.Deposit.String(),
		"deadline":  c.deadline,
	})
	return c, nil
}

// CloseDigest is the hash the owner signs to authorize a close for the given
// cumulative amount on the given channel instance.
func CloseDigest(amount *big.Int, channelAddr common.Address) []byte {
	return crypto.Keccak(
		crypto.PackUint256(amount),
		crypto.PackAddress(channelAddr),
	)
}

// Extend pushes the deadline further out by delta. Owner only. The deadline
// is additive and never shortens.
func (c *Channel) Extend(caller common.Address, delta time.Duration) error {
	if c.closed {
		return domain.InvalidState("channel is closed")
	}
	if caller != c.owner {
		return domain.Unauthorized("only the owner may extend the channel")
	}
	if delta <= 0 {
		return domain.InvalidValue("extension must be positive")
	}

	c.deadline = c.deadline.Add(delta)
	c.emit.Emit("channel.extended", map[string]any{
		"deadline": c.deadline,
	})
	return nil
}

// ClaimTimeout returns the full escrow to the owner once the deadline has
// passed.
func (c *Channel) ClaimTimeout(caller common.Address) error {
	if c.closed {
		return domain.InvalidState("channel is closed")
	}
	if caller != c.owner {
		return domain.Unauthorized("only the owner may claim the timeout")
	}
	if !protocol.Expired(c.clk.Now(), c.deadline) {
		return domain.Untimely("channel has not expired")
	}

	refund := c.led.Balance(c.addr)
	c.closed = true
	if err := c.led.Transfer(c.addr, c.owner, refund); err != nil {
		return err
	}

	c.emit.Emit("channel.timeout_claimed", map[string]any{
		"owner":  c.owner.Hex(),
		"refund": refund.String(),
	})
	return nil
}

// Close settles the channel at the signed cumulative amount: the recipient
// receives amount, the owner gets the remainder back. Recipient only, during
// the live phase, with an owner signature over CloseDigest.
func (c *Channel) Close(caller common.Address, amount *big.Int, sig []byte) error {
	if c.closed {
		return domain.InvalidState("channel is closed")
	}
	if caller != c.recipient {
		return domain.Unauthorized("only the recipient may close the channel")
	}
	if protocol.Expired(c.clk.Now(), c.deadline) {
		return domain.Untimely("channel has expired")
	}
	if amount == nil || amount.Sign() < 0 {
		return domain.InvalidValue("close amount must be non-negative")
	}
	escrowed := c.led.Balance(c.addr)
	if amount.Cmp(escrowed) > 0 {
		return domain.InvalidValue("close amount exceeds escrowed balance")
	}
	if !crypto.SignedBy(CloseDigest(amount, c.addr), sig, c.owner) {
		return domain.Unauthorized("claim is not signed by the owner")
	}

	remainder := new(big.Int).Sub(escrowed, amount)
	c.closed = true
	if err := c.led.Transfer(c.addr, c.recipient, amount); err != nil {
		return err
	}
	if err := c.led.Transfer(c.addr, c.owner, remainder); err != nil {
		return err
	}

	c.emit.Emit("channel.closed", map[string]any{
		"recipient": c.recipient.Hex(),
		"paid":      amount.String(),
		"refunded":  remainder.String(),
	})
	return nil
}

// Owner returns the funding party.
func (c *Channel) Owner() common.Address { return c.owner }

// Recipient returns the paid party.
func (c *Channel) Recipient() common.Address { return c.recipient }

// Deadline returns the current expiry instant.
func (c *Channel) Deadline() time.Time { return c.deadline }

// Balance returns the escrowed channel balance.
func (c *Channel) Balance() *big.Int { return c.led.Balance(c.addr) }

// Status reports the lifecycle phase.
func (c *Channel) Status() protocol.Status {
	if c.closed {
		return protocol.StatusSettled
	}
	return protocol.StatusActive
}

// State returns a snapshot of the channel for persistence.
func (c *Channel) State() map[string]any {
	return map[string]any{
		"owner":     c.owner.Hex(),
		"recipient": c.recipient.Hex(),
		"deadline":  c.deadline,
		"balance":   c.Balance().String(),
		"closed":    c.closed,
	}
}

// Parties returns the addresses bound to this channel.
func (c *Channel) Parties() []common.Address {
	return []common.Address{c.owner, c.recipient}
}
