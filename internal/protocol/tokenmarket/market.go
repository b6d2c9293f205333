// Package tokenmarket implements a ratio-priced token shop. Sellers list a
// token at num/den native units per token unit and pre-approve the market to
// move their tokens; buyers pay the exact cost and receive units directly
// from the seller's balance.
package tokenmarket

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
)

// Listing describes an active sale of one token.
type Listing struct {
	Seller   common.Address
	Token    ledger.Token
	PriceNum *big.Int
	PriceDen *big.Int
	Active   bool
	Units    *big.Int
}

// Market hosts listings keyed by token address.
type Market struct {
	addr     common.Address
	led      *ledger.Ledger
	emit     protocol.Emitter
	listings map[common.Address]*Listing
	order    []common.Address // listing creation order, for stable State output
}

// Config holds the market collaborators.
type Config struct {
	Address common.Address
	Ledger  *ledger.Ledger
	Emitter protocol.Emitter
}

// New creates an empty token market.
func New(cfg Config) *Market {
	if cfg.Emitter == nil {
		cfg.Emitter = protocol.NopEmitter
	}
	return &Market{
		addr:     cfg.Address,
		led:      cfg.Ledger,
		emit:     cfg.Emitter,
		listings: make(map[common.Address]*Listing),
	}
}

// CreateListing lists units of token at num/den native units per token unit.
// One listing per token; relisting a token replaces a cancelled listing.
func (m *Market) CreateListing(seller common.Address, token ledger.Token, num, den, units *big.Int) error {
	if !protocol.Positive(num) || !protocol.Positive(den) {
		return domain.InvalidValue("price ratio must be positive")
	}
	if !protocol.Positive(units) {
		return domain.InvalidValue("units must be positive")
	}
	if existing, ok := m.listings[token.Address()]; ok && existing.Active {
		return domain.InvalidState("token is already listed")
	}

	if _, ok := m.listings[token.Address()]; !ok {
		m.order = append(m.order, token.Address())
	}
	m.listings[token.Address()] = &Listing{
		Seller:   seller,
		Token:    token,
		PriceNum: protocol.Amount(num),
		PriceDen: protocol.Amount(den),
		Active:   true,
		Units:    protocol.Amount(units),
	}

	m.emit.Emit("token_market.listed", map[string]any{
		"seller": seller.Hex(),
		"token":  token.Address().Hex(),
		"num":    num.String(),
		"den":    den.String(),
		"units":  units.String(),
	})
	return nil
}

// CancelListing deactivates a listing. Seller only.
func (m *Market) CancelListing(caller, token common.Address) error {
	l, err := m.listing(token)
	if err != nil {
		return err
	}
	if caller != l.Seller {
		return domain.Unauthorized("only the seller may cancel the listing")
	}

	l.Active = false
	m.emit.Emit("token_market.cancelled", map[string]any{
		"token": token.Hex(),
	})
	return nil
}

// Cost returns the native-unit price for buying units from a listing:
// units * num / den, truncating.
func (m *Market) Cost(token common.Address, units *big.Int) (*big.Int, error) {
	l, err := m.listing(token)
	if err != nil {
		return nil, err
	}
	cost := new(big.Int).Mul(units, l.PriceNum)
	return cost.Div(cost, l.PriceDen), nil
}

// Buy purchases units from a listing. The payment must equal the exact cost;
// tokens move from the seller via the market's allowance and the payment goes
// to the seller.
func (m *Market) Buy(buyer, token common.Address, units, value *big.Int) error {
	l, err := m.listing(token)
	if err != nil {
		return err
	}
	if !l.Active {
		return domain.InvalidState("sale is not active")
	}
	if !protocol.Positive(units) {
		return domain.InvalidValue("units must be positive")
	}
	if units.Cmp(l.Units) > 0 {
		return domain.InvalidValue("units not available")
	}
	cost := new(big.Int).Mul(units, l.PriceNum)
	cost.Div(cost, l.PriceDen)
	if value == nil || value.Cmp(cost) != 0 {
		return domain.InvalidValue("payment must equal the exact cost")
	}
	if l.Token.Allowance(l.Seller, m.addr).Cmp(units) < 0 {
		return domain.InvalidValue("seller allowance is insufficient")
	}

	if err := l.Token.TransferFrom(m.addr, l.Seller, buyer, units); err != nil {
		return err
	}
	l.Units.Sub(l.Units, units)
	if err := m.led.Transfer(buyer, l.Seller, cost); err != nil {
		return err
	}

	m.emit.Emit("token_market.bought", map[string]any{
		"buyer": buyer.Hex(),
		"token": token.Hex(),
		"units": units.String(),
		"cost":  cost.String(),
	})
	return nil
}

// UnitsAvailable returns the remaining units on a listing.
func (m *Market) UnitsAvailable(token common.Address) (*big.Int, error) {
	l, err := m.listing(token)
	if err != nil {
		return nil, err
	}
	return protocol.Amount(l.Units), nil
}

// Details returns the listing for a token.
func (m *Market) Details(token common.Address) (Listing, error) {
	l, err := m.listing(token)
	if err != nil {
		return Listing{}, err
	}
	return Listing{
		Seller:   l.Seller,
		Token:    l.Token,
		PriceNum: protocol.Amount(l.PriceNum),
		PriceDen: protocol.Amount(l.PriceDen),
		Active:   l.Active,
		Units:    protocol.Amount(l.Units),
	}, nil
}

// TotalListings returns the number of tokens ever listed.
func (m *Market) TotalListings() int { return len(m.order) }

func (m *Market) listing(token common.Address) (*Listing, error) {
	l, ok := m.listings[token]
	if !ok {
		return nil, domain.InvalidValue("token is not listed")
	}
	return l, nil
}

// Status reports the market lifecycle phase. A market never terminates.
func (m *Market) Status() protocol.Status { return protocol.StatusActive }

// State returns a snapshot of all listings for persistence.
func (m *Market) State() map[string]any {
	out := make([]map[string]any, 0, len(m.order))
	for _, addr := range m.order {
		l := m.listings[addr]
		out = append(out, map[string]any{
			"token":  addr.Hex(),
			"seller": l.Seller.Hex(),
			"num":    l.PriceNum.String(),
			"den":    l.PriceDen.String(),
			"active": l.Active,
			"units":  l.Units.String(),
		})
	}
	return map[string]any{"listings": out}
}

// Parties returns every seller with a listing.
func (m *Market) Parties() []common.Address {
	seen := make(map[common.Address]bool)
	var out []common.Address
	for _, addr := range m.order {
		s := m.listings[addr].Seller
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
