package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/auction"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/channel"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/coinflip"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/loanmarket"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/periodicloan"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/receiverpays"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/sealedbid"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/tokenmarket"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/twentyone"
	"github.com/alanyoungcy/clearinghouse/internal/server"
	"github.com/alanyoungcy/clearinghouse/internal/server/handler"
	"github.com/alanyoungcy/clearinghouse/internal/server/ws"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

// ServerMode runs the HTTP + WebSocket API backed by the configured stores
// and signal bus. It blocks until the context is cancelled.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	if !a.cfg.Server.Enabled {
		return fmt.Errorf("app: server mode requires server.enabled = true")
	}
	a.logger.InfoContext(ctx, "starting server mode")

	led, tokens, err := seedLedger(a.cfg.Ledger)
	if err != nil {
		return err
	}

	reg := service.NewRegistry(service.Config{
		Ledger:     led,
		Clock:      clock.System{},
		Agreements: deps.Agreements,
		Events:     deps.Events,
		Bus:        deps.SignalBus,
		Notifier:   deps.Notifier,
		Archiver:   deps.Archiver,
		Logger:     a.logger,
	})
	for _, tok := range tokens {
		reg.RegisterToken(tok)
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Agreements: handler.NewAgreementHandler(deps.Agreements, deps.Events, a.logger),
		Channels:   handler.NewChannelHandler(reg, a.logger),
		Loans:      handler.NewLoanHandler(reg, a.logger),
		Markets:    handler.NewMarketHandler(reg, a.logger),
		Auctions:   handler.NewAuctionHandler(reg, a.logger),
		Games:      handler.NewGameHandler(reg, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	return g.Wait()
}

// defaultDemoKey signs for the demo operator when no wallet is configured.
// It is a well-known throwaway key; never fund it.
const defaultDemoKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

// DemoMode runs a scripted walkthrough of the settlement protocols against an
// in-memory ledger and stores, logging each transition. It is intended for
// demos and smoke checks; nothing is persisted.
func (a *App) DemoMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting demo mode")

	keyHex := defaultDemoKey
	if a.cfg.Wallet.PrivateKey != "" || a.cfg.Wallet.EncryptedKeyPath != "" {
		loaded, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    a.cfg.Wallet.PrivateKey,
			EncryptedKeyPath: a.cfg.Wallet.EncryptedKeyPath,
			KeyPassword:      a.cfg.Wallet.KeyPassword,
		})
		if err != nil {
			return fmt.Errorf("demo: load wallet key: %w", err)
		}
		keyHex = loaded
	}
	signer, err := crypto.NewSigner(keyHex)
	if err != nil {
		return fmt.Errorf("demo: create signer: %w", err)
	}

	operator := signer.Address()
	counterparty := common.HexToAddress("0x00000000000000000000000000000000000000c2")

	led, tokens, err := seedLedger(a.cfg.Ledger)
	if err != nil {
		return err
	}
	if err := led.Mint(operator, big.NewInt(10_000)); err != nil {
		return fmt.Errorf("demo: fund operator: %w", err)
	}
	if err := led.Mint(counterparty, big.NewInt(10_000)); err != nil {
		return fmt.Errorf("demo: fund counterparty: %w", err)
	}

	clk := clock.NewFake(time.Now().UTC())
	reg := service.NewRegistry(service.Config{
		Ledger:     led,
		Clock:      clk,
		Agreements: deps.Agreements,
		Events:     deps.Events,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
	})
	for _, tok := range tokens {
		reg.RegisterToken(tok)
	}

	demoToken := ledger.NewMemToken(common.HexToAddress("0x00000000000000000000000000000000000000d1"))
	demoToken.Mint(operator, big.NewInt(1_000))
	demoToken.Mint(counterparty, big.NewInt(1_000))
	reg.RegisterToken(demoToken)

	steps := []struct {
		name string
		run  func() error
	}{
		{"payment channel", func() error { return a.demoChannel(ctx, reg, signer, counterparty) }},
		{"receiver-pays pool", func() error { return a.demoPool(ctx, reg, signer, counterparty) }},
		{"periodic loan", func() error { return a.demoLoan(ctx, reg, demoToken, operator, counterparty) }},
		{"loan marketplace", func() error { return a.demoLoanMarket(ctx, reg, demoToken, operator, counterparty) }},
		{"token market", func() error { return a.demoTokenMarket(ctx, reg, demoToken, operator, counterparty) }},
		{"open-outcry auction", func() error { return a.demoAuction(ctx, reg, clk, demoToken, operator, counterparty) }},
		{"sealed-bid auction", func() error { return a.demoSealedBid(ctx, reg, clk, demoToken, operator, counterparty) }},
		{"coin flip", func() error { return a.demoCoinFlip(ctx, reg, operator, counterparty) }},
		{"twenty-one", func() error { return a.demoTwentyOne(ctx, reg, operator, counterparty) }},
	}

	for _, step := range steps {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.InfoContext(ctx, "demo step", slog.String("protocol", step.name))
		if err := step.run(); err != nil {
			return fmt.Errorf("demo: %s: %w", step.name, err)
		}
	}

	a.logger.InfoContext(ctx, "demo complete",
		slog.String("operator_balance", led.Balance(operator).String()),
		slog.String("counterparty_balance", led.Balance(counterparty).String()),
	)
	return nil
}

func (a *App) demoChannel(ctx context.Context, reg *service.Registry, signer *crypto.Signer, recipient common.Address) error {
	id, _, err := reg.OpenChannel(ctx, signer.Address(), recipient, 24*time.Hour, big.NewInt(100))
	if err != nil {
		return err
	}

	sig, err := signer.SignPersonal(channel.CloseDigest(big.NewInt(60), service.AddressForID(id)))
	if err != nil {
		return err
	}
	return service.Mutate(ctx, reg, id, func(ch *channel.Channel) error {
		return ch.Close(recipient, big.NewInt(60), sig)
	})
}

func (a *App) demoPool(ctx context.Context, reg *service.Registry, signer *crypto.Signer, recipient common.Address) error {
	id, _, err := reg.OpenPool(ctx, signer.Address(), big.NewInt(200))
	if err != nil {
		return err
	}
	addr := service.AddressForID(id)

	sig, err := signer.SignPersonal(receiverpays.ClaimDigest(recipient, big.NewInt(25), 1, addr))
	if err != nil {
		return err
	}
	err = service.Mutate(ctx, reg, id, func(p *receiverpays.Pool) error {
		return p.ClaimPayment(recipient, big.NewInt(25), 1, sig)
	})
	if err != nil {
		return err
	}

	return service.Mutate(ctx, reg, id, func(p *receiverpays.Pool) error {
		return p.Kill(signer.Address())
	})
}

func (a *App) demoLoan(ctx context.Context, reg *service.Registry, tok ledger.Token, lender, borrower common.Address) error {
	id, _, err := reg.OpenLoan(ctx, service.LoanParams{
		Lender:         lender,
		Borrower:       borrower,
		Amount:         big.NewInt(100),
		Period:         30 * 24 * time.Hour,
		CollateralRate: 2,
		MinimumPayment: big.NewInt(10),
		InterestNum:    1,
		InterestDen:    10,
		Token:          tok.Address(),
	})
	if err != nil {
		return err
	}
	tok.Approve(borrower, service.AddressForID(id), big.NewInt(200))

	err = service.Mutate(ctx, reg, id, func(l *periodicloan.Loan) error {
		return l.Lend(lender)
	})
	if err != nil {
		return err
	}

	// Interest is remaining/10, so 110 settles the debt in one payment.
	err = service.Mutate(ctx, reg, id, func(l *periodicloan.Loan) error {
		return l.MakePayment(borrower, big.NewInt(110))
	})
	if err != nil {
		return err
	}

	return service.Mutate(ctx, reg, id, func(l *periodicloan.Loan) error {
		return l.Close(borrower)
	})
}

func (a *App) demoLoanMarket(ctx context.Context, reg *service.Registry, tok ledger.Token, lender, borrower common.Address) error {
	id, _, err := reg.OpenLoanMarket(ctx)
	if err != nil {
		return err
	}
	addr := service.AddressForID(id)
	tok.Approve(borrower, addr, big.NewInt(40))

	var rid uint64
	err = service.Mutate(ctx, reg, id, func(m *loanmarket.Market) error {
		var err error
		rid, err = m.CreateRequest(borrower, tok, big.NewInt(80), big.NewInt(40), big.NewInt(90), time.Hour)
		return err
	})
	if err != nil {
		return err
	}

	err = service.Mutate(ctx, reg, id, func(m *loanmarket.Market) error {
		return m.Lend(lender, rid, big.NewInt(80))
	})
	if err != nil {
		return err
	}

	return service.Mutate(ctx, reg, id, func(m *loanmarket.Market) error {
		return m.Pay(borrower, rid, big.NewInt(90))
	})
}

func (a *App) demoTokenMarket(ctx context.Context, reg *service.Registry, tok ledger.Token, seller, buyer common.Address) error {
	id, _, err := reg.OpenTokenMarket(ctx)
	if err != nil {
		return err
	}
	tok.Approve(seller, service.AddressForID(id), big.NewInt(20))

	steps := []func(*tokenmarket.Market) error{
		func(m *tokenmarket.Market) error {
			return m.CreateListing(seller, tok, big.NewInt(2), big.NewInt(1), big.NewInt(20))
		},
		func(m *tokenmarket.Market) error {
			return m.Buy(buyer, tok.Address(), big.NewInt(5), big.NewInt(10))
		},
		func(m *tokenmarket.Market) error { return m.CancelListing(seller, tok.Address()) },
	}
	for _, step := range steps {
		if err := service.Mutate(ctx, reg, id, step); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) demoSealedBid(ctx context.Context, reg *service.Registry, clk *clock.Fake, tok ledger.Token, owner, bidder common.Address) error {
	id, _, err := reg.OpenSealedBid(ctx, service.SealedBidParams{
		Owner:         owner,
		Token:         tok.Address(),
		Reserve:       big.NewInt(40),
		BiddingPeriod: 10 * time.Minute,
		RevealPeriod:  10 * time.Minute,
	})
	if err != nil {
		return err
	}
	addr := service.AddressForID(id)

	nonce, amount := big.NewInt(777), big.NewInt(60)
	err = service.Mutate(ctx, reg, id, func(au *sealedbid.Auction) error {
		return au.Bid(bidder, sealedbid.BidDigest(nonce, amount, bidder, addr), amount)
	})
	if err != nil {
		return err
	}

	clk.Advance(10 * time.Minute)
	err = service.Mutate(ctx, reg, id, func(au *sealedbid.Auction) error {
		return au.Reveal(bidder, nonce, amount)
	})
	if err != nil {
		return err
	}

	clk.Advance(10 * time.Minute)
	tok.Approve(owner, addr, amount)
	err = service.Mutate(ctx, reg, id, func(au *sealedbid.Auction) error {
		return au.Claim(bidder)
	})
	if err != nil {
		return err
	}

	return service.Mutate(ctx, reg, id, func(au *sealedbid.Auction) error {
		return au.WithdrawProceeds(owner)
	})
}

func (a *App) demoAuction(ctx context.Context, reg *service.Registry, clk *clock.Fake, tok ledger.Token, owner, bidder common.Address) error {
	id, _, err := reg.OpenAuction(ctx, service.AuctionParams{
		Owner:        owner,
		Token:        tok.Address(),
		TokenAmount:  big.NewInt(10),
		Reserve:      big.NewInt(50),
		MinIncrement: big.NewInt(5),
		Inactivity:   15 * time.Minute,
		Duration:     time.Hour,
	})
	if err != nil {
		return err
	}
	tok.Approve(owner, service.AddressForID(id), big.NewInt(10))

	err = service.Mutate(ctx, reg, id, func(au *auction.Auction) error {
		return au.Bid(bidder, big.NewInt(75))
	})
	if err != nil {
		return err
	}

	clk.Advance(time.Hour)
	steps := []func(*auction.Auction) error{
		func(au *auction.Auction) error { return au.End(bidder) },
		func(au *auction.Auction) error { return au.Settle(bidder, big.NewInt(75)) },
		func(au *auction.Auction) error { return au.WithdrawProceeds(owner) },
	}
	for _, step := range steps {
		if err := service.Mutate(ctx, reg, id, step); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) demoCoinFlip(ctx context.Context, reg *service.Registry, player1, player2 common.Address) error {
	id, _, err := reg.OpenCoinFlip(ctx)
	if err != nil {
		return err
	}

	secret := big.NewInt(4242)
	steps := []func(*coinflip.Game) error{
		func(g *coinflip.Game) error {
			return g.Flip(player1, coinflip.FlipDigest(secret, true), big.NewInt(10))
		},
		func(g *coinflip.Game) error { return g.Guess(player2, true) },
		func(g *coinflip.Game) error { return g.Reveal(player1, secret, true) },
	}
	for _, step := range steps {
		if err := service.Mutate(ctx, reg, id, step); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) demoTwentyOne(ctx context.Context, reg *service.Registry, player1, player2 common.Address) error {
	id, _, err := reg.OpenTwentyOne(ctx, player1, big.NewInt(50))
	if err != nil {
		return err
	}

	err = service.Mutate(ctx, reg, id, func(g *twentyone.Game) error {
		return g.Join(player2, big.NewInt(50))
	})
	if err != nil {
		return err
	}

	// Seven moves of three reach exactly twenty-one, with player1 landing
	// the final move.
	movers := []common.Address{player1, player2, player1, player2, player1, player2, player1}
	for _, mover := range movers {
		caller := mover
		err := service.Mutate(ctx, reg, id, func(g *twentyone.Game) error {
			return g.GuessNumber(caller, 3)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
