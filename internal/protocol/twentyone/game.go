// Package twentyone implements a two-player counting game for a staked pot.
// Players alternate adding one, two, or three to a running total; whoever
// pushes the total to twenty-one or beyond takes the pot. Each move carries a
// fixed timeout, and a stalled opponent forfeits.
package twentyone

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

const (
	target      = 21
	maxStep     = 3
	moveTimeout = 60 * time.Second
)

// Config holds the immutable game parameters.
type Config struct {
	Address common.Address
	Player1 common.Address
	Stake   *big.Int
	Ledger  *ledger.Ledger
	Clock   clock.Clock
	Emitter protocol.Emitter
}

// Game is a single twenty-one match.
type Game struct {
	addr         common.Address
	player1      common.Address
	player2      common.Address
	stake        *big.Int
	pot          *big.Int
	total        int
	mover        common.Address
	moveDeadline time.Time
	joined       bool
	over         bool
	cancelled    bool
	winner       common.Address
	led          *ledger.Ledger
	clk          clock.Clock
	emit         protocol.Emitter
}

// New opens the game, escrowing player one's stake.
func New(cfg Config) (*Game, error) {
	if !protocol.Positive(cfg.Stake) {
		return nil, domain.InvalidValue("stake must be positive")
	}
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}
	if err := cfg.Ledger.Transfer(cfg.Player1, cfg.Address, cfg.Stake); err != nil {
		return nil, err
	}

	g := &Game{
		addr:    cfg.Address,
		player1: cfg.Player1,
		stake:   protocol.Amount(cfg.Stake),
		pot:     protocol.Amount(cfg.Stake),
		led:     cfg.Ledger,
		clk:     cfg.Clock,
		emit:    cfg.Emitter,
	}

	g.emit.Emit("twenty_one.opened", map[string]any{
		"player1": g.player1.Hex(),
		"stake":   g.stake.String(),
	})
	return g, nil
}

// Join seats player two, matching the stake into the pot. Player one moves
// first, on the clock.
func (g *Game) Join(caller common.Address, value *big.Int) error {
	if g.cancelled {
		return domain.InvalidState("game is cancelled")
	}
	if g.joined {
		return domain.InvalidState("game already has two players")
	}
	if caller == g.player1 {
		return domain.Unauthorized("player one cannot join their own game")
	}
	if value == nil || value.Cmp(g.stake) != 0 {
		return domain.InvalidValue("join must match the stake exactly")
	}

	if err := g.led.Transfer(caller, g.addr, value); err != nil {
		return err
	}
	g.player2 = caller
	g.pot.Add(g.pot, value)
	g.joined = true
	g.mover = g.player1
	g.moveDeadline = g.clk.Now().Add(moveTimeout)

	g.emit.Emit("twenty_one.joined", map[string]any{
		"player2": caller.Hex(),
		"pot":     g.pot.String(),
	})
	return nil
}

// GuessNumber plays the mover's turn, adding n to the total. Reaching the
// target wins the pot; otherwise the turn passes and the move clock resets.
func (g *Game) GuessNumber(caller common.Address, n int) error {
	if g.cancelled || g.over {
		return domain.InvalidState("game is over")
	}
	if !g.joined {
		return domain.InvalidState("game has not started")
	}
	now := g.clk.Now()
	if protocol.Expired(now, g.moveDeadline) {
		return domain.Untimely("move timeout has passed")
	}
	if n < 1 || n > maxStep {
		return domain.InvalidValue("move must be between one and three")
	}
	if caller != g.mover {
		return domain.Unauthorized("not this player's turn")
	}

	g.total += n
	if g.total >= target {
		g.over = true
		g.winner = caller
		if err := g.led.Transfer(g.addr, caller, g.pot); err != nil {
			return err
		}
		g.emit.Emit("twenty_one.won", map[string]any{
			"winner": caller.Hex(),
			"total":  g.total,
			"pot":    g.pot.String(),
		})
		return nil
	}

	if g.mover == g.player1 {
		g.mover = g.player2
	} else {
		g.mover = g.player1
	}
	g.moveDeadline = now.Add(moveTimeout)

	g.emit.Emit("twenty_one.moved", map[string]any{
		"player": caller.Hex(),
		"n":      n,
		"total":  g.total,
	})
	return nil
}

// ClaimTimeout forfeits a stalled mover, paying the pot to the waiting
// player.
func (g *Game) ClaimTimeout(caller common.Address) error {
	if g.cancelled || g.over {
		return domain.InvalidState("game is over")
	}
	if !g.joined {
		return domain.InvalidState("game has not started")
	}
	if !protocol.Expired(g.clk.Now(), g.moveDeadline) {
		return domain.Untimely("move timeout has not passed")
	}
	if caller == g.mover || (caller != g.player1 && caller != g.player2) {
		return domain.Unauthorized("only the waiting player may claim the timeout")
	}

	g.over = true
	g.winner = caller
	if err := g.led.Transfer(g.addr, caller, g.pot); err != nil {
		return err
	}

	g.emit.Emit("twenty_one.timeout_claimed", map[string]any{
		"winner": caller.Hex(),
		"pot":    g.pot.String(),
	})
	return nil
}

// Cancel refunds player one's stake before anyone joins.
func (g *Game) Cancel(caller common.Address) error {
	if g.cancelled {
		return domain.InvalidState("game is cancelled")
	}
	if g.joined {
		return domain.InvalidState("game has already started")
	}
	if caller != g.player1 {
		return domain.Unauthorized("only player one may cancel")
	}

	g.cancelled = true
	if err := g.led.Transfer(g.addr, g.player1, g.stake); err != nil {
		return err
	}

	g.emit.Emit("twenty_one.cancelled", map[string]any{
		"player1": g.player1.Hex(),
	})
	return nil
}

// Total returns the running count.
func (g *Game) Total() int { return g.total }

// Mover returns whose turn it is. Zero address before the game starts.
func (g *Game) Mover() common.Address { return g.mover }

// Winner returns the winner once the game is over.
func (g *Game) Winner() common.Address { return g.winner }

// Status reports the lifecycle phase.
func (g *Game) Status() protocol.Status {
	switch {
	case g.cancelled:
		return protocol.StatusCancelled
	case g.over:
		return protocol.StatusSettled
	case !g.joined:
		return protocol.StatusOpen
	default:
		return protocol.StatusActive
	}
}

// State returns a snapshot of the game for persistence.
func (g *Game) State() map[string]any {
	return map[string]any{
		"player1":       g.player1.Hex(),
		"player2":       g.player2.Hex(),
		"stake":         g.stake.String(),
		"pot":           g.pot.String(),
		"total":         g.total,
		"mover":         g.mover.Hex(),
		"move_deadline": g.moveDeadline,
		"over":          g.over,
		"winner":        g.winner.Hex(),
	}
}

// Parties returns the joined players.
func (g *Game) Parties() []common.Address {
	out := []common.Address{g.player1}
	if g.player2 != (common.Address{}) {
		out = append(out, g.player2)
	}
	return out
}
