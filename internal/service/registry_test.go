package service

import (
	"context"
	"io"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/domain"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/channel"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/twentyone"
)

const ownerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var recipient = common.HexToAddress("0x00000000000000000000000000000000000000a2")

type fixture struct {
	led        *ledger.Ledger
	clk        *clock.Fake
	agreements *MemAgreementStore
	events     *MemEventStore
	reg        *Registry
	signer     *crypto.Signer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	signer, err := crypto.NewSigner(ownerKey)
	require.NoError(t, err)

	led := ledger.New()
	require.NoError(t, led.Mint(signer.Address(), big.NewInt(1000)))
	require.NoError(t, led.Mint(recipient, big.NewInt(1000)))

	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	agreements := NewMemAgreementStore()
	events := NewMemEventStore()

	reg := NewRegistry(Config{
		Ledger:     led,
		Clock:      clk,
		Agreements: agreements,
		Events:     events,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	return &fixture{
		led:        led,
		clk:        clk,
		agreements: agreements,
		events:     events,
		reg:        reg,
		signer:     signer,
	}
}

func TestAddressForID(t *testing.T) {
	a := AddressForID("agreement-1")
	b := AddressForID("agreement-2")
	assert.NotEqual(t, common.Address{}, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, AddressForID("agreement-1"))
}

func TestOpenChannel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, ch, err := f.reg.OpenChannel(ctx, f.signer.Address(), recipient, 24*time.Hour, big.NewInt(100))
	require.NoError(t, err)
	require.NotNil(t, ch)

	t.Run("escrows at the derived address", func(t *testing.T) {
		assert.Equal(t, big.NewInt(100), f.led.Balance(AddressForID(id)))
	})

	t.Run("persists the opening snapshot", func(t *testing.T) {
		a, err := f.agreements.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.ProtocolPaymentChannel, a.Protocol)
		assert.Equal(t, domain.AgreementActive, a.Status)
		assert.Contains(t, a.Parties, f.signer.Address().Hex())
	})

	t.Run("records the opening event", func(t *testing.T) {
		evs, err := f.events.ListByAgreement(ctx, id, domain.ListOpts{})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.Equal(t, "channel.opened", evs[0].Kind)
	})
}

func TestMutate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _, err := f.reg.OpenChannel(ctx, f.signer.Address(), recipient, 24*time.Hour, big.NewInt(100))
	require.NoError(t, err)

	t.Run("runs the operation and snapshots the result", func(t *testing.T) {
		addr := AddressForID(id)
		sig, err := f.signer.SignPersonal(channel.CloseDigest(big.NewInt(40), addr))
		require.NoError(t, err)

		err = Mutate(ctx, f.reg, id, func(ch *channel.Channel) error {
			return ch.Close(recipient, big.NewInt(40), sig)
		})
		require.NoError(t, err)

		a, err := f.agreements.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.AgreementSettled, a.Status)

		evs, err := f.events.ListByAgreement(ctx, id, domain.ListOpts{})
		require.NoError(t, err)
		assert.Equal(t, "channel.closed", evs[len(evs)-1].Kind)
	})

	t.Run("rejects a mismatched protocol", func(t *testing.T) {
		err := Mutate(ctx, f.reg, id, func(g *twentyone.Game) error { return nil })
		assert.True(t, domain.IsRule(err, domain.RuleValue))
	})

	t.Run("unknown agreement", func(t *testing.T) {
		err := f.reg.Do(ctx, "nope", func(Instance) error { return nil })
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestTokenRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tokenAddr := common.HexToAddress("0x00000000000000000000000000000000000000b1")

	t.Run("unregistered token fails", func(t *testing.T) {
		_, err := f.reg.Token(tokenAddr)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, _, err = f.reg.OpenLoan(ctx, LoanParams{
			Lender:   f.signer.Address(),
			Borrower: recipient,
			Amount:   big.NewInt(100),
			Period:   time.Hour,
			Token:    tokenAddr,
		})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("registered token resolves", func(t *testing.T) {
		f.reg.RegisterToken(ledger.NewMemToken(tokenAddr))
		tok, err := f.reg.Token(tokenAddr)
		require.NoError(t, err)
		assert.Equal(t, tokenAddr, tok.Address())
	})
}

func TestSnapshotAndGet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id, _, err := f.reg.OpenTwentyOne(ctx, f.signer.Address(), big.NewInt(50))
	require.NoError(t, err)

	inst, proto, err := f.reg.Get(id)
	require.NoError(t, err)
	assert.Equal(t, domain.ProtocolTwentyOne, proto)
	assert.IsType(t, (*twentyone.Game)(nil), inst)

	a, err := f.reg.Snapshot(id)
	require.NoError(t, err)
	assert.Equal(t, domain.AgreementOpen, a.Status)
	assert.Equal(t, AddressForID(id).Hex(), a.Address)
}
