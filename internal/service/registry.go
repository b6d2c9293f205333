// Package service hosts the agreement registry: it creates protocol
// instances, assigns them escrow addresses, serializes access to each one,
// persists snapshots and events, and finalizes agreements that reach a
// terminal status.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/notify"
	"github.com/alanyoungcy/clearinghouse/internal/protocol"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/auction"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/channel"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/coinflip"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/loanmarket"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/periodicloan"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/receiverpays"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/sealedbid"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/tokenmarket"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/twentyone"
)

// eventChannelPrefix is the Pub/Sub channel prefix for live agreement
// events; the full channel is the prefix plus the protocol name.
const eventChannelPrefix = "clearing:events:"

// eventStream is the durable stream all agreement events are appended to.
const eventStream = "clearing:events"

// Instance is the view of a protocol instance the registry needs for
// snapshots.
type Instance interface {
	Status() protocol.Status
	State() map[string]any
	Parties() []common.Address
}

// entry pairs an instance with its identity and a mutex serializing all
// operations against it.
type entry struct {
	mu        sync.Mutex
	id        string
	protocol  domain.Protocol
	addr      common.Address
	inst      Instance
	createdAt time.Time
	finalized bool
}

// Config holds the registry collaborators. Bus, Notifier, and Archiver are
// optional.
type Config struct {
	Ledger     *ledger.Ledger
	Clock      clock.Clock
	Agreements domain.AgreementStore
	Events     domain.EventStore
	Bus        domain.SignalBus
	Notifier   *notify.Notifier
	Archiver   domain.Archiver
	Logger     *slog.Logger
}

// Registry creates and hosts protocol instances.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]*entry

	led        *ledger.Ledger
	tokens     map[common.Address]ledger.Token
	clk        clock.Clock
	agreements domain.AgreementStore
	events     domain.EventStore
	bus        domain.SignalBus
	notifier   *notify.Notifier
	archiver   domain.Archiver
	logger     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		instances:  make(map[string]*entry),
		led:        cfg.Ledger,
		tokens:     make(map[common.Address]ledger.Token),
		clk:        cfg.Clock,
		agreements: cfg.Agreements,
		events:     cfg.Events,
		bus:        cfg.Bus,
		notifier:   cfg.Notifier,
		archiver:   cfg.Archiver,
		logger:     cfg.Logger.With(slog.String("component", "registry")),
	}
}

// Ledger returns the shared native-unit ledger.
func (r *Registry) Ledger() *ledger.Ledger { return r.led }

// Clock returns the registry clock.
func (r *Registry) Clock() clock.Clock { return r.clk }

// RegisterToken makes a token available to protocols by address.
func (r *Registry) RegisterToken(tok ledger.Token) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[tok.Address()] = tok
}

// Token resolves a registered token by address.
func (r *Registry) Token(addr common.Address) (ledger.Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[addr]
	if !ok {
		return nil, fmt.Errorf("service: token %s: %w", addr.Hex(), domain.ErrNotFound)
	}
	return tok, nil
}

// AddressForID derives an instance's escrow address from its agreement id.
func AddressForID(id string) common.Address {
	return common.BytesToAddress(crypto.Keccak([]byte(id))[12:])
}

// emitter builds the Emitter wired into a new instance. Each emitted event
// is persisted, appended to the durable stream, and published to the live
// channel for the protocol.
func (r *Registry) emitter(id string, p domain.Protocol) protocol.Emitter {
	return protocol.EmitterFunc(func(kind string, payload map[string]any) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		ev := domain.Event{
			ID:          uuid.New().String(),
			AgreementID: id,
			Protocol:    p,
			Kind:        kind,
			Payload:     payload,
			CreatedAt:   r.clk.Now(),
		}
		if err := r.events.Insert(ctx, ev); err != nil {
			r.logger.ErrorContext(ctx, "persist event failed",
				slog.String("agreement_id", id),
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}

		if r.bus == nil {
			return
		}
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := r.bus.Publish(ctx, eventChannelPrefix+string(p), raw); err != nil {
			r.logger.WarnContext(ctx, "publish event failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
		if err := r.bus.StreamAppend(ctx, eventStream, raw); err != nil {
			r.logger.WarnContext(ctx, "stream append failed",
				slog.String("kind", kind),
				slog.String("error", err.Error()),
			)
		}
	})
}

// register stores a freshly created instance and persists its first
// snapshot.
func (r *Registry) register(ctx context.Context, id string, p domain.Protocol, addr common.Address, inst Instance) error {
	e := &entry{
		id:        id,
		protocol:  p,
		addr:      addr,
		inst:      inst,
		createdAt: r.clk.Now(),
	}

	r.mu.Lock()
	r.instances[id] = e
	r.mu.Unlock()

	r.logger.InfoContext(ctx, "agreement opened",
		slog.String("agreement_id", id),
		slog.String("protocol", string(p)),
		slog.String("address", addr.Hex()),
	)
	return r.snapshot(ctx, e)
}

// lookup finds an entry by agreement id.
func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.instances[id]
	if !ok {
		return nil, fmt.Errorf("service: agreement %s: %w", id, domain.ErrNotFound)
	}
	return e, nil
}

// Do runs fn against an instance under its lock, then persists a fresh
// snapshot. Terminal agreements are finalized: archived and reported to the
// notifier.
func (r *Registry) Do(ctx context.Context, id string, fn func(inst Instance) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.inst); err != nil {
		return err
	}
	if err := r.snapshot(ctx, e); err != nil {
		return err
	}
	if domain.AgreementStatus(e.inst.Status()).Terminal() && !e.finalized {
		e.finalized = true
		r.finalize(ctx, e)
	}
	return nil
}

// Mutate is a typed wrapper around Registry.Do for callers that know the
// protocol of the agreement they are operating on.
func Mutate[T Instance](ctx context.Context, r *Registry, id string, fn func(T) error) error {
	return r.Do(ctx, id, func(inst Instance) error {
		t, ok := inst.(T)
		if !ok {
			return domain.InvalidValue("agreement is not of the expected protocol")
		}
		return fn(t)
	})
}

// Get returns an instance for read-only use.
func (r *Registry) Get(id string) (Instance, domain.Protocol, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, "", err
	}
	return e.inst, e.protocol, nil
}

// Snapshot builds the persisted form of an agreement.
func (r *Registry) Snapshot(id string) (domain.Agreement, error) {
	e, err := r.lookup(id)
	if err != nil {
		return domain.Agreement{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return r.build(e)
}

func (r *Registry) build(e *entry) (domain.Agreement, error) {
	state, err := json.Marshal(e.inst.State())
	if err != nil {
		return domain.Agreement{}, fmt.Errorf("service: marshal state for %s: %w", e.id, err)
	}

	parties := e.inst.Parties()
	hexParties := make([]string, len(parties))
	for i, p := range parties {
		hexParties[i] = p.Hex()
	}

	return domain.Agreement{
		ID:        e.id,
		Protocol:  e.protocol,
		Address:   e.addr.Hex(),
		Parties:   hexParties,
		Status:    domain.AgreementStatus(e.inst.Status()),
		State:     state,
		CreatedAt: e.createdAt,
		UpdatedAt: r.clk.Now(),
	}, nil
}

func (r *Registry) snapshot(ctx context.Context, e *entry) error {
	a, err := r.build(e)
	if err != nil {
		return err
	}
	if err := r.agreements.Upsert(ctx, a); err != nil {
		return fmt.Errorf("service: persist agreement %s: %w", e.id, err)
	}
	return nil
}

// finalize archives a terminal agreement and notifies operators. Failures
// are logged, not returned: the state transition itself already succeeded.
func (r *Registry) finalize(ctx context.Context, e *entry) {
	a, err := r.build(e)
	if err != nil {
		r.logger.ErrorContext(ctx, "finalize build failed",
			slog.String("agreement_id", e.id),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.InfoContext(ctx, "agreement finalized",
		slog.String("agreement_id", e.id),
		slog.String("protocol", string(e.protocol)),
		slog.String("status", string(a.Status)),
	)

	if r.archiver != nil {
		events, err := r.events.ListByAgreement(ctx, e.id, domain.ListOpts{})
		if err != nil {
			r.logger.ErrorContext(ctx, "finalize event query failed",
				slog.String("agreement_id", e.id),
				slog.String("error", err.Error()),
			)
		}
		key, err := r.archiver.ArchiveAgreement(ctx, a, events)
		if err != nil {
			r.logger.ErrorContext(ctx, "archive failed",
				slog.String("agreement_id", e.id),
				slog.String("error", err.Error()),
			)
		} else {
			r.logger.InfoContext(ctx, "agreement archived",
				slog.String("agreement_id", e.id),
				slog.String("key", key),
			)
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyTerminal(ctx, a); err != nil {
			r.logger.WarnContext(ctx, "terminal notification failed",
				slog.String("agreement_id", e.id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ---------------------------------------------------------------------------
// Open methods, one per protocol.
// ---------------------------------------------------------------------------

// OpenChannel creates a payment channel, escrowing the owner's deposit.
func (r *Registry) OpenChannel(ctx context.Context, owner, recipient common.Address, duration time.Duration, deposit *big.Int) (string, *channel.Channel, error) {
	id := uuid.New().String()
	addr := AddressForID(id)

	ch, err := channel.New(channel.Config{
		Address:   addr,
		Owner:     owner,
		Recipient: recipient,
		Duration:  duration,
		Deposit:   deposit,
		Ledger:    r.led,
		Clock:     r.clk,
		Emitter:   r.emitter(id, domain.ProtocolPaymentChannel),
	})
	if err != nil {
		return "", nil, err
	}
	if err := r.register(ctx, id, domain.ProtocolPaymentChannel, addr, ch); err != nil {
		return "", nil, err
	}
	return id, ch, nil
}

// OpenPool creates a receiver-pays pool funded by the owner.
func (r *Registry) OpenPool(ctx context.Context, owner common.Address, deposit *big.Int) (string, *receiverpays.Pool, error) {
	id := uuid.New().String()
	addr := AddressForID(id)

	pool, err := receiverpays.New(receiverpays.Config{
		Address: addr,
		Owner:   owner,
		Deposit: deposit,
		Ledger:  r.led,
		Emitter: r.emitter(id, domain.ProtocolReceiverPays),
	})
	if err != nil {
		return "", nil, err
	}
	if err := r.register(ctx, id, domain.ProtocolReceiverPays, addr, pool); err != nil {
		return "", nil, err
	}
	return id, pool, nil
}

// LoanParams configures a periodic loan.
type LoanParams struct {
	Lender         common.Address
	Borrower       common.Address
	Amount         *big.Int
	Period         time.Duration
	CollateralRate int64
	MinimumPayment *big.Int
	InterestNum    int64
	InterestDen    int64
	Token          common.Address
}

// OpenLoan creates a periodic loan, escrowing the lender's principal.
func (r *Registry) OpenLoan(ctx context.Context, p LoanParams) (string, *periodicloan.Loan, error) {
	tok, err := r.Token(p.Token)
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()
	addr := AddressForID(id)

	loan, err := periodicloan.New(periodicloan.Config{
		Address:        addr,
		Lender:         p.Lender,
		Borrower:       p.Borrower,
		Amount:         p.Amount,
		Period:         p.Period,
		CollateralRate: p.CollateralRate,
		MinimumPayment: p.MinimumPayment,
		InterestNum:    p.InterestNum,
		InterestDen:    p.InterestDen,
		Token:          tok,
		Ledger:         r.led,
		Clock:          r.clk,
		Emitter:        r.emitter(id, domain.ProtocolPeriodicLoan),
	})
	if err != nil {
		return "", nil, err
	}
	if err := r.register(ctx, id, domain.ProtocolPeriodicLoan, addr, loan); err != nil {
		return "", nil, err
	}
	return id, loan, nil
}

// OpenLoanMarket creates an empty loan marketplace.
func (r *Registry) OpenLoanMarket(ctx context.Context) (string, *loanmarket.Market, error) {
	id := uuid.New().String()
	addr := AddressForID(id)

	mkt := loanmarket.New(loanmarket.Config{
		Address: addr,
		Ledger:  r.led,
		Clock:   r.clk,
		Emitter: r.emitter(id, domain.ProtocolLoanMarket),
	})
	if err := r.register(ctx, id, domain.ProtocolLoanMarket, addr, mkt); err != nil {
		return "", nil, err
	}
	return id, mkt, nil
}

// OpenTokenMarket creates an empty token market.
func (r *Registry) OpenTokenMarket(ctx context.Context) (string, *tokenmarket.Market, error) {
	id := uuid.New().String()
	addr := AddressForID(id)

	mkt := tokenmarket.New(tokenmarket.Config{
		Address: addr,
		Ledger:  r.led,
		Emitter: r.emitter(id, domain.ProtocolTokenMarket),
	})
	if err := r.register(ctx, id, domain.ProtocolTokenMarket, addr, mkt); err != nil {
		return "", nil, err
	}
	return id, mkt, nil
}

// AuctionParams configures an English auction.
type AuctionParams struct {
	Owner        common.Address
	Token        common.Address
	TokenAmount  *big.Int
	Reserve      *big.Int
	MinIncrement *big.Int
	Inactivity   time.Duration
	Duration     time.Duration
}

// OpenAuction creates an English auction for a lot of tokens.
func (r *Registry) OpenAuction(ctx context.Context, p AuctionParams) (string, *auction.Auction, error) {
	tok, err := r.Token(p.Token)
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()
	addr := AddressForID(id)

	auc, err := auction.New(auction.Config{
		Address:      addr,
		Owner:        p.Owner,
		Token:        tok,
		TokenAmount:  p.TokenAmount,
		Reserve:      p.Reserve,
		MinIncrement: p.MinIncrement,
		Inactivity:   p.Inactivity,
		Duration:     p.Duration,
		Ledger:       r.led,
		Clock:        r.clk,
		Emitter:      r.emitter(id, domain.ProtocolAuction),
	})
	if err != nil {
		return "", nil, err
	}
	if err := r.register(ctx, id, domain.ProtocolAuction, addr, auc); err != nil {
		return "", nil, err
	}
	return id, auc, nil
}

// SealedBidParams configures a sealed-bid auction.
type SealedBidParams struct {
	Owner         common.Address
	Token         common.Address
	Reserve       *big.Int
	BiddingPeriod time.Duration
	RevealPeriod  time.Duration
}

// OpenSealedBid creates a commit-reveal sealed-bid auction.
func (r *Registry) OpenSealedBid(ctx context.Context, p SealedBidParams) (string, *sealedbid.Auction, error) {
	tok, err := r.Token(p.Token)
	if err != nil {
		return "", nil, err
	}

	id := uuid.New().String()
	addr := AddressForID(id)

	auc, err := sealedbid.New(sealedbid.Config{
		Address:       addr,
		Owner:         p.Owner,
		Token:         tok,
		Reserve:       p.Reserve,
		BiddingPeriod: p.BiddingPeriod,
		RevealPeriod:  p.RevealPeriod,
		Ledger:        r.led,
		Clock:         r.clk,
		Emitter:       r.emitter(id, domain.ProtocolSealedBid),
	})
	if err != nil {
		return "", nil, err
	}
	if err := r.register(ctx, id, domain.ProtocolSealedBid, addr, auc); err != nil {
		return "", nil, err
	}
	return id, auc, nil
}

// OpenCoinFlip creates an idle coin flip game; the first Flip opens the
// wager.
func (r *Registry) OpenCoinFlip(ctx context.Context) (string, *coinflip.Game, error) {
	id := uuid.New().String()
	addr := AddressForID(id)

	game := coinflip.New(coinflip.Config{
		Address: addr,
		Ledger:  r.led,
		Clock:   r.clk,
		Emitter: r.emitter(id, domain.ProtocolCoinFlip),
	})
	if err := r.register(ctx, id, domain.ProtocolCoinFlip, addr, game); err != nil {
		return "", nil, err
	}
	return id, game, nil
}

// OpenTwentyOne creates a twenty-one match, escrowing player one's stake.
func (r *Registry) OpenTwentyOne(ctx context.Context, player1 common.Address, stake *big.Int) (string, *twentyone.Game, error) {
	id := uuid.New().String()
	addr := AddressForID(id)

	game, err := twentyone.New(twentyone.Config{
		Address: addr,
		Player1: player1,
		Stake:   stake,
		Ledger:  r.led,
		Clock:   r.clk,
		Emitter: r.emitter(id, domain.ProtocolTwentyOne),
	})
	if err != nil {
		return "", nil, err
	}
	if err := r.register(ctx, id, domain.ProtocolTwentyOne, addr, game); err != nil {
		return "", nil, err
	}
	return id, game, nil
}
