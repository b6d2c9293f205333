// Package sealedbid implements a commit-reveal sealed-bid auction. Bidders
// escrow a deposit alongside a hashed commitment during the bidding phase,
// reveal during the reveal phase, and after revealing closes the winner
// claims the lot while revealed losers withdraw their deposits. A bidder who
// never reveals forfeits their deposit.
package sealedbid

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

// Config holds the immutable auction parameters.
type Config struct {
	Address       common.Address
	Owner         common.Address
	Token         ledger.Token
	Reserve       *big.Int
	BiddingPeriod time.Duration
	RevealPeriod  time.Duration
	Ledger        *ledger.Ledger
	Clock         clock.Clock
	Emitter       protocol.Emitter
}

// bid tracks one bidder's commitment and deposit.
type bid struct {
	commitment [32]byte
	deposit    *big.Int
	revealed   bool
	withdrawn  bool
}

// Auction is a running sealed-bid auction.
type Auction struct {
	addr           common.Address
	owner          common.Address
	token          ledger.Token
	reserve        *big.Int
	endOfBidding   time.Time
	endOfRevealing time.Time
	bids           map[common.Address]*bid
	highestBid     *big.Int
	highestBidder  common.Address
	hasHighest     bool
	winner         common.Address // fixed at claim time; winner can never withdraw
	claimed        bool
	led            *ledger.Ledger
	clk            clock.Clock
	emit           protocol.Emitter
}

// New opens the auction with back-to-back bidding and reveal phases.
func New(cfg Config) (*Auction, error) {
	if cfg.Reserve == nil || cfg.Reserve.Sign() < 0 {
		return nil, domain.InvalidValue("reserve must be non-negative")
	}
	if cfg.BiddingPeriod <= 0 || cfg.RevealPeriod <= 0 {
		return nil, domain.InvalidValue("auction phases must be positive")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}

	now := cfg.Clock.Now()
	a := &Auction{
		addr:           cfg.Address,
		owner:          cfg.Owner,
		token:          cfg.Token,
		reserve:        protocol.Amount(cfg.Reserve),
		endOfBidding:   now.Add(cfg.BiddingPeriod),
		endOfRevealing: now.Add(cfg.BiddingPeriod + cfg.RevealPeriod),
		bids:           make(map[common.Address]*bid),
		highestBid:     new(big.Int),
		led:            cfg.Ledger,
		clk:            cfg.Clock,
		emit:           cfg.Emitter,
	}

	a.emit.Emit("sealed_bid.opened", map[string]any{
		"owner":            a.owner.Hex(),
		"token":            a.token.Address().Hex(),
		"reserve":          a.reserve.String(),
		"end_of_bidding":   a.endOfBidding,
		"end_of_revealing": a.endOfRevealing,
	})
	return a, nil
}

// BidDigest is the commitment hash binding a nonce, the bid amount, the
// bidder, and this auction instance.
func BidDigest(nonce, amount *big.Int, bidder, auctionAddr common.Address) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak(
		crypto.PackUint256(nonce),
		crypto.PackUint256(amount),
		crypto.PackAddress(bidder),
		crypto.PackAddress(auctionAddr),
	))
	return out
}

// Bid escrows a deposit under a commitment during the bidding phase. The
// deposit must strictly exceed the reserve. Re-bidding replaces the stored
// commitment and adds to the escrowed deposit, so the final commitment must
// cover the total.
func (a *Auction) Bid(caller common.Address, commitment [32]byte, deposit *big.Int) error {
	if protocol.Expired(a.clk.Now(), a.endOfBidding) {
		return domain.Untimely("bidding period has ended")
	}
	if deposit == nil || deposit.Cmp(a.reserve) <= 0 {
		return domain.InvalidValue("deposit must exceed the reserve price")
	}

	if err := a.led.Transfer(caller, a.addr, deposit); err != nil {
		return err
	}

	b, ok := a.bids[caller]
	if !ok {
		b = &bid{deposit: new(big.Int)}
		a.bids[caller] = b
	}
	b.commitment = commitment
	b.deposit.Add(b.deposit, deposit)

	a.emit.Emit("sealed_bid.bid", map[string]any{
		"bidder":  caller.Hex(),
		"deposit": deposit.String(),
	})
	return nil
}

// Reveal opens a commitment during the reveal phase. The revealed amount
// must equal the escrowed deposit, and its hash must match the stored
// commitment. A strictly greater amount takes the lead; ties keep the
// earlier revealer.
func (a *Auction) Reveal(caller common.Address, nonce, amount *big.Int) error {
	now := a.clk.Now()
	if !protocol.Expired(now, a.endOfBidding) {
		return domain.Untimely("bidding period has not ended")
	}
	if protocol.Expired(now, a.endOfRevealing) {
		return domain.Untimely("reveal period has ended")
	}
	b, ok := a.bids[caller]
	if !ok {
		return domain.InvalidState("no bid to reveal")
	}
	if b.revealed {
		return domain.InvalidState("bid already revealed")
	}
	if amount == nil || amount.Cmp(b.deposit) != 0 {
		return domain.InvalidValue("revealed amount does not match the deposit")
	}
	if BidDigest(nonce, amount, caller, a.addr) != b.commitment {
		return domain.InvalidValue("commitment does not match")
	}

	b.revealed = true
	if !a.hasHighest || amount.Cmp(a.highestBid) > 0 {
		a.hasHighest = true
		a.highestBid = protocol.Amount(amount)
		a.highestBidder = caller
	}

	a.emit.Emit("sealed_bid.revealed", map[string]any{
		"bidder": caller.Hex(),
		"amount": amount.String(),
	})
	return nil
}

// Claim delivers highestBid token units from the owner to the winner after
// the reveal phase. The winner's deposit stays with the auction as payment.
func (a *Auction) Claim(caller common.Address) error {
	if !protocol.Expired(a.clk.Now(), a.endOfRevealing) {
		return domain.Untimely("reveal period has not ended")
	}
	if a.claimed {
		return domain.InvalidState("lot already claimed")
	}
	if !a.hasHighest {
		return domain.InvalidState("no revealed bids")
	}
	if caller != a.highestBidder {
		return domain.Unauthorized("only the highest bidder may claim")
	}
	if a.token.Allowance(a.owner, a.addr).Cmp(a.highestBid) < 0 {
		return domain.InvalidValue("owner token allowance is insufficient")
	}

	a.winner = caller
	a.claimed = true
	if err := a.token.TransferFrom(a.addr, a.owner, caller, a.highestBid); err != nil {
		return err
	}

	a.emit.Emit("sealed_bid.claimed", map[string]any{
		"winner": caller.Hex(),
		"amount": a.highestBid.String(),
	})
	return nil
}

// Withdraw refunds a revealed, non-winning bidder's deposit after the reveal
// phase. Unrevealed deposits are forfeited and stay with the auction.
func (a *Auction) Withdraw(caller common.Address) error {
	if !protocol.Expired(a.clk.Now(), a.endOfRevealing) {
		return domain.Untimely("reveal period has not ended")
	}
	if a.hasHighest && caller == a.highestBidder {
		return domain.Unauthorized("highest bidder cannot withdraw")
	}
	b, ok := a.bids[caller]
	if !ok || !b.revealed || b.withdrawn {
		return domain.InvalidState("bidder is not allowed to withdraw")
	}

	b.withdrawn = true
	if err := a.led.Transfer(a.addr, caller, b.deposit); err != nil {
		return err
	}

	a.emit.Emit("sealed_bid.withdrawn", map[string]any{
		"bidder": caller.Hex(),
		"amount": b.deposit.String(),
	})
	return nil
}

// WithdrawProceeds pays the owner the winning deposit plus any forfeited
// deposits once the lot has been claimed.
func (a *Auction) WithdrawProceeds(caller common.Address) error {
	if caller != a.owner {
		return domain.Unauthorized("only the owner may withdraw proceeds")
	}
	if !a.claimed {
		return domain.InvalidState("lot has not been claimed")
	}

	// Revealed losers keep a claim on their deposits; everything else is
	// the owner's.
	reserved := new(big.Int)
	for addr, b := range a.bids {
		if b.revealed && !b.withdrawn && addr != a.winner {
			reserved.Add(reserved, b.deposit)
		}
	}
	proceeds := new(big.Int).Sub(a.led.Balance(a.addr), reserved)
	if proceeds.Sign() <= 0 {
		return domain.InvalidState("no proceeds available")
	}

	if err := a.led.Transfer(a.addr, a.owner, proceeds); err != nil {
		return err
	}

	a.emit.Emit("sealed_bid.proceeds_withdrawn", map[string]any{
		"owner":    a.owner.Hex(),
		"proceeds": proceeds.String(),
	})
	return nil
}

// HighestBid returns the leading revealed amount.
func (a *Auction) HighestBid() *big.Int { return protocol.Amount(a.highestBid) }

// HighestBidder returns the leading revealed bidder.
func (a *Auction) HighestBidder() common.Address { return a.highestBidder }

// Status reports the lifecycle phase.
func (a *Auction) Status() protocol.Status {
	if a.claimed {
		return protocol.StatusSettled
	}
	return protocol.StatusActive
}

// State returns a snapshot of the auction for persistence.
func (a *Auction) State() map[string]any {
	bidders := make([]string, 0, len(a.bids))
	for addr := range a.bids {
		bidders = append(bidders, addr.Hex())
	}
	return map[string]any{
		"owner":            a.owner.Hex(),
		"token":            a.token.Address().Hex(),
		"reserve":          a.reserve.String(),
		"end_of_bidding":   a.endOfBidding,
		"end_of_revealing": a.endOfRevealing,
		"bidders":          bidders,
		"highest_bid":      a.highestBid.String(),
		"highest_bidder":   a.highestBidder.Hex(),
		"claimed":          a.claimed,
	}
}

// Parties returns the owner and every bidder.
func (a *Auction) Parties() []common.Address {
	out := []common.Address{a.owner}
	for addr := range a.bids {
		out = append(out, addr)
	}
	return out
}
