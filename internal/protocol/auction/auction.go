// Package auction implements an English auction for a fixed lot of tokens.
// Bids are unescrowed commitments; only the winner pays, at settlement. The
// auction closes at its end time or once no new bid arrives within the
// inactivity window.
package auction

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Config holds the immutable auction parameters.
type Config struct {
	Address      common.Address
	Owner        common.Address
	Token        ledger.Token
	TokenAmount  *big.Int
	Reserve      *big.Int
	MinIncrement *big.Int
	Inactivity   time.Duration // window after the last bid in which the next must arrive
	Duration     time.Duration // hard end relative to creation
	Ledger       *ledger.Ledger
	Clock        clock.Clock
	Emitter      protocol.Emitter
}

// Auction is a running English auction.
type Auction struct {
	addr          common.Address
	owner         common.Address
	token         ledger.Token
	tokenAmount   *big.Int
	reserve       *big.Int
	minIncrement  *big.Int
	inactivity    time.Duration
	endTime       time.Time
	highestBid    *big.Int
	highestBidder common.Address
	lastActivity  time.Time
	led           *ledger.Ledger
	clk           clock.Clock
	emit          protocol.Emitter
	ended         bool
	settled       bool
	withdrawn     bool
}

// New opens the auction. The inactivity timer starts immediately.
func New(cfg Config) (*Auction, error) {
	if !protocol.Positive(cfg.TokenAmount) {
		return nil, domain.InvalidValue("token amount must be positive")
	}
	if cfg.Reserve == nil || cfg.Reserve.Sign() < 0 {
		return nil, domain.InvalidValue("reserve must be non-negative")
	}
	if !protocol.Positive(cfg.MinIncrement) {
		return nil, domain.InvalidValue("minimum increment must be positive")
	}
	if cfg.Inactivity <= 0 || cfg.Duration <= 0 {
		return nil, domain.InvalidValue("auction windows must be positive")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}

	now := cfg.Clock.Now()
	a := &Auction{
		addr:         cfg.Address,
		owner:        cfg.Owner,
		token:        cfg.Token,
		tokenAmount:  protocol.Amount(cfg.TokenAmount),
		reserve:      protocol.Amount(cfg.Reserve),
		minIncrement: protocol.Amount(cfg.MinIncrement),
		inactivity:   cfg.Inactivity,
		endTime:      now.Add(cfg.Duration),
		highestBid:   new(big.Int),
		lastActivity: now,
		led:          cfg.Ledger,
		clk:          cfg.Clock,
		emit:         cfg.Emitter,
	}

	a.emit.Emit("auction.opened", map[string]any{
		"owner":        a.owner.Hex(),
		"token":        a.token.Address().Hex(),
		"token_amount": a.tokenAmount.String(),
		"reserve":      a.reserve.String(),
		"end_time":     a.endTime,
	})
	return a, nil
}

// Bid places an unescrowed bid. It must beat the reserve, beat the current
// highest by the minimum increment, and arrive before the end time and
// within the inactivity window since the last bid.
func (a *Auction) Bid(caller common.Address, amount *big.Int) error {
	now := a.clk.Now()
	if a.ended {
		return domain.InvalidState("auction has ended")
	}
	if caller == a.owner {
		return domain.Unauthorized("owner cannot bid")
	}
	if protocol.Expired(now, a.endTime) {
		return domain.Untimely("auction has ended")
	}
	if protocol.Expired(now, a.lastActivity.Add(a.inactivity)) {
		return domain.Untimely("bidding window has lapsed")
	}
	if amount == nil || amount.Cmp(a.reserve) <= 0 {
		return domain.InvalidValue("bid must exceed the reserve price")
	}
	if a.highestBid.Sign() > 0 {
		floor := new(big.Int).Add(a.highestBid, a.minIncrement)
		if amount.Cmp(floor) < 0 {
			return domain.InvalidValue("bid must beat the highest bid by the minimum increment")
		}
	}

	a.highestBid = protocol.Amount(amount)
	a.highestBidder = caller
	a.lastActivity = now

	a.emit.Emit("auction.bid", map[string]any{
		"bidder": caller.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// End finalizes bidding. Anyone may call it once the end time or the
// inactivity window has passed.
func (a *Auction) End(caller common.Address) error {
	if a.ended {
		return domain.InvalidState("auction has ended")
	}
	now := a.clk.Now()
	if !protocol.Expired(now, a.endTime) && !protocol.Expired(now, a.lastActivity.Add(a.inactivity)) {
		return domain.Untimely("auction is still open")
	}

	a.ended = true
	a.emit.Emit("auction.ended", map[string]any{
		"highest_bidder": a.highestBidder.Hex(),
		"highest_bid":    a.highestBid.String(),
	})
	return nil
}

// Settle collects the winning payment into escrow and delivers the tokens
// from the owner to the winner. Highest bidder only, after End.
func (a *Auction) Settle(caller common.Address, value *big.Int) error {
	if !a.ended {
		return domain.InvalidState("auction has not ended")
	}
	if a.settled {
		return domain.InvalidState("auction is already settled")
	}
	if a.highestBid.Sign() == 0 {
		return domain.InvalidState("auction closed with no bids")
	}
	if caller != a.highestBidder {
		return domain.Unauthorized("only the highest bidder may settle")
	}
	if value == nil || value.Cmp(a.highestBid) != 0 {
		return domain.InvalidValue("payment must equal the highest bid")
	}
	if a.token.Allowance(a.owner, a.addr).Cmp(a.tokenAmount) < 0 {
		return domain.InvalidValue("owner token allowance is insufficient")
	}

	if err := a.led.Transfer(caller, a.addr, value); err != nil {
		return err
	}
	a.settled = true
	if err := a.token.TransferFrom(a.addr, a.owner, caller, a.tokenAmount); err != nil {
		return err
	}

	a.emit.Emit("auction.settled", map[string]any{
		"winner": caller.Hex(),
		"paid":   value.String(),
	})
	return nil
}

// WithdrawProceeds pays the settlement proceeds to the owner.
func (a *Auction) WithdrawProceeds(caller common.Address) error {
	if !a.ended {
		return domain.InvalidState("auction has not ended")
	}
	if !a.settled {
		return domain.InvalidState("auction is not settled")
	}
	if a.withdrawn {
		return domain.InvalidState("proceeds already withdrawn")
	}
	if caller != a.owner {
		return domain.Unauthorized("only the owner may withdraw proceeds")
	}

	proceeds := a.led.Balance(a.addr)
	a.withdrawn = true
	if err := a.led.Transfer(a.addr, a.owner, proceeds); err != nil {
		return err
	}

	a.emit.Emit("auction.proceeds_withdrawn", map[string]any{
		"owner":    a.owner.Hex(),
		"proceeds": proceeds.String(),
	})
	return nil
}

// HighestBid returns the current leading bid amount.
func (a *Auction) HighestBid() *big.Int { return protocol.Amount(a.highestBid) }

// HighestBidder returns the current leader. Zero address until the first bid.
func (a *Auction) HighestBidder() common.Address { return a.highestBidder }

// Status reports the lifecycle phase.
func (a *Auction) Status() protocol.Status {
	switch {
	case a.withdrawn:
		return protocol.StatusSettled
	case a.ended && a.highestBid.Sign() == 0:
		return protocol.StatusCancelled
	default:
		return protocol.StatusActive
	}
}

// State returns a snapshot of the auction for persistence.
func (a *Auction) State() map[string]any {
	return map[string]any{
		"owner":          a.owner.Hex(),
		"token":          a.token.Address().Hex(),
		"token_amount":   a.tokenAmount.String(),
		"reserve":        a.reserve.String(),
		"highest_bid":    a.highestBid.String(),
		"highest_bidder": a.highestBidder.Hex(),
		"end_time":       a.endTime,
		"ended":          a.ended,
		"settled":        a.settled,
	}
}

// Parties returns the owner and the current leader.
func (a *Auction) Parties() []common.Address {
	if a.highestBidder == (common.Address{}) {
		return []common.Address{a.owner}
	}
	return []common.Address{a.owner, a.highestBidder}
}
