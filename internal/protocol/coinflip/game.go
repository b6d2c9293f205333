// Package coinflip implements a commit-reveal coin flip wager. Player one
// escrows a stake behind a commitment to a hidden outcome, player two guesses,
// and player one's reveal resolves the pot.
package coinflip

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Config holds the game collaborators.
type Config struct {
	Address common.Address
	Ledger  *ledger.Ledger
	Clock   clock.Clock
	Emitter protocol.Emitter
}

// Game is a single coin flip wager.
type Game struct {
	addr       common.Address
	player1    common.Address
	player2    common.Address
	commitment [32]byte
	pot        *big.Int
	guess      bool
	guessed    bool
	resolved   bool
	winner     common.Address
	led        *ledger.Ledger
	clk        clock.Clock
	emit       protocol.Emitter
}

// New creates an idle game. Flip opens it.
func New(cfg Config) *Game {
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}
	return &Game{
		addr: cfg.Address,
		pot:  new(big.Int),
		led:  cfg.Ledger,
		clk:  cfg.Clock,
		emit: cfg.Emitter,
	}
}

// FlipDigest is the commitment hash binding a secret and the hidden outcome.
func FlipDigest(secret *big.Int, outcome bool) [32]byte {
	var out [32]byte
	copy(out[:], crypto.Keccak(crypto.PackUint256(secret), crypto.PackBool(outcome)))
	return out
}

// Flip opens the wager. The caller becomes player one, escrowing stake
// behind the commitment.
func (g *Game) Flip(caller common.Address, commitment [32]byte, stake *big.Int) error {
	if g.player1 != (common.Address{}) {
		return domain.InvalidState("game already has a flip")
	}
	if !protocol.Positive(stake) {
		return domain.InvalidValue("stake must be positive")
	}

	if err := g.led.Transfer(caller, g.addr, stake); err != nil {
		return err
	}
	g.player1 = caller
	g.commitment = commitment
	g.pot.Set(stake)

	g.emit.Emit("coin_flip.flipped", map[string]any{
		"player1": caller.Hex(),
		"stake":   stake.String(),
	})
	return nil
}

// Guess records player two's call on the hidden outcome. Anyone but player
// one may guess, once.
func (g *Game) Guess(caller common.Address, guess bool) error {
	if g.player1 == (common.Address{}) {
		return domain.InvalidState("no flip to guess on")
	}
	if g.guessed {
		return domain.InvalidState("guess already placed")
	}
	if caller == g.player1 {
		return domain.Unauthorized("player one cannot guess")
	}

	g.player2 = caller
	g.guess = guess
	g.guessed = true

	g.emit.Emit("coin_flip.guessed", map[string]any{
		"player2": caller.Hex(),
		"guess":   guess,
	})
	return nil
}

// Reveal opens the commitment and pays the pot. Player one only, after a
// guess. A correct guess pays player two; otherwise the pot returns to
// player one.
func (g *Game) Reveal(caller common.Address, secret *big.Int, outcome bool) error {
	if g.resolved {
		return domain.InvalidState("game already resolved")
	}
	if caller != g.player1 {
		return domain.Unauthorized("only player one may reveal")
	}
	if !g.guessed {
		return domain.InvalidState("no guess to resolve")
	}
	if FlipDigest(secret, outcome) != g.commitment {
		return domain.InvalidValue("commitment does not match")
	}

	winner := g.player1
	if g.guess == outcome {
		winner = g.player2
	}
	if err := g.led.Transfer(g.addr, winner, g.pot); err != nil {
		return err
	}
	g.winner = winner
	g.resolved = true

	g.emit.Emit("coin_flip.revealed", map[string]any{
		"outcome": outcome,
		"winner":  winner.Hex(),
		"pot":     g.pot.String(),
	})
	return nil
}

// Winner returns the resolved winner. Zero address until resolution.
func (g *Game) Winner() common.Address { return g.winner }

// Status reports the lifecycle phase.
func (g *Game) Status() protocol.Status {
	switch {
	case g.resolved:
		return protocol.StatusSettled
	case g.player1 == (common.Address{}):
		return protocol.StatusOpen
	default:
		return protocol.StatusActive
	}
}

// State returns a snapshot of the game for persistence.
func (g *Game) State() map[string]any {
	return map[string]any{
		"player1":  g.player1.Hex(),
		"player2":  g.player2.Hex(),
		"pot":      g.pot.String(),
		"guessed":  g.guessed,
		"resolved": g.resolved,
		"winner":   g.winner.Hex(),
	}
}

// Parties returns the joined players.
func (g *Game) Parties() []common.Address {
	var out []common.Address
	if g.player1 != (common.Address{}) {
		out = append(out, g.player1)
	}
	if g.player2 != (common.Address{}) {
		out = append(out, g.player2)
	}
	return out
}
