package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/clearinghouse/internal/protocol/coinflip"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/twentyone"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// GameHandler serves the coin flip and twenty-one game endpoints.
type GameHandler struct {
	reg    *service.Registry
	logger *slog.Logger
}

// NewGameHandler creates a GameHandler.
func NewGameHandler(reg *service.Registry, logger *slog.Logger) *GameHandler {
	return &GameHandler{reg: reg, logger: logHandler(logger, "games")}
}

// OpenCoinFlip opens an idle coin flip game.
// POST /api/coin-flips
func (h *GameHandler) OpenCoinFlip(w http.ResponseWriter, r *http.Request) {
	id, _, err := h.reg.OpenCoinFlip(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// Flip commits to a hidden outcome and stakes the pot.
// POST /api/coin-flips/{id}/flip
func (h *GameHandler) Flip(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller     string `json:"caller"`
		Commitment string `json:"commitment"`
		Stake      string `json:"stake"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	commitment, err := parseCommitment(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(g *coinflip.Game) error {
		return g.Flip(caller, commitment, stake)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flipped"})
}

// Guess registers the second player's call on the hidden outcome.
// POST /api/coin-flips/{id}/guess
func (h *GameHandler) Guess(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Guess  bool   `json:"guess"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(g *coinflip.Game) error {
		return g.Guess(caller, req.Guess)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "guessed"})
}

// RevealFlip opens the commitment and pays the pot to the winner.
// POST /api/coin-flips/{id}/reveal
func (h *GameHandler) RevealFlip(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller  string `json:"caller"`
		Secret  string `json:"secret"`
		Outcome bool   `json:"outcome"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	secret, err := parseAmount(req.Secret)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var winner string
	err = service.Mutate(r.Context(), h.reg, id, func(g *coinflip.Game) error {
		if err := g.Reveal(caller, secret, req.Outcome); err != nil {
			return err
		}
		winner = g.Winner().Hex()
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "settled",
		"winner": winner,
	})
}

// OpenTwentyOne opens a twenty-one game staked by the first player.
// POST /api/twenty-one
func (h *GameHandler) OpenTwentyOne(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Player string `json:"player"`
		Stake  string `json:"stake"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	player, err := parseAddress(req.Player)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	stake, err := parseAmount(req.Stake)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, _, err := h.reg.OpenTwentyOne(r.Context(), player, stake)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":      id,
		"address": service.AddressForID(id).Hex(),
	})
}

// JoinTwentyOne matches the first player's stake and starts the game.
// POST /api/twenty-one/{id}/join
func (h *GameHandler) JoinTwentyOne(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Value  string `json:"value"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	value, err := parseAmount(req.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(g *twentyone.Game) error {
		return g.Join(caller, value)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

// GuessNumber adds 1 to 3 to the running total on the caller's turn.
// POST /api/twenty-one/{id}/guess
func (h *GameHandler) GuessNumber(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
		Number int    `json:"number"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var total int
	err = service.Mutate(r.Context(), h.reg, id, func(g *twentyone.Game) error {
		if err := g.GuessNumber(caller, req.Number); err != nil {
			return err
		}
		total = g.Total()
		return nil
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "moved",
		"total":  total,
	})
}

// ClaimGameTimeout awards the pot to the waiting player after the mover
// misses the move deadline.
// POST /api/twenty-one/{id}/claim-timeout
func (h *GameHandler) ClaimGameTimeout(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(g *twentyone.Game) error {
		return g.ClaimTimeout(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "settled"})
}

// CancelTwentyOne refunds the first player before anyone joins.
// POST /api/twenty-one/{id}/cancel
func (h *GameHandler) CancelTwentyOne(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	var req struct {
		Caller string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	err = service.Mutate(r.Context(), h.reg, id, func(g *twentyone.Game) error {
		return g.Cancel(caller)
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}
