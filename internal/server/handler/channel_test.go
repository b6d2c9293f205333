package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/clearinghouse/internal/clock"
	"github.com/alanyoungcy/clearinghouse/internal/crypto"
	"github.com/alanyoungcy/clearinghouse/internal/ledger"
	"github.com/alanyoungcy/clearinghouse/internal/protocol/channel"
	"github.com/alanyoungcy/clearinghouse/internal/service"
)

const testOwnerKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func newChannelTestEnv(t *testing.T) (*http.ServeMux, *service.Registry, *ledger.Ledger, *clock.Fake) {
	t.Helper()

	led := ledger.New()
	fk := clock.NewFake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	reg := service.NewRegistry(service.Config{
		Ledger:     led,
		Clock:      fk,
		Agreements: service.NewMemAgreementStore(),
		Events:     service.NewMemEventStore(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	h := NewChannelHandler(reg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/channels", h.OpenChannel)
	mux.HandleFunc("POST /api/channels/{id}/close", h.CloseChannel)
	mux.HandleFunc("POST /api/channels/{id}/claim-timeout", h.ClaimChannelTimeout)
	mux.HandleFunc("POST /api/pools", h.OpenPool)
	mux.HandleFunc("POST /api/pools/{id}/claim", h.ClaimPayment)

	return mux, reg, led, fk
}

func postJSON(t *testing.T, mux *http.ServeMux, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestOpenChannelEndpoint(t *testing.T) {
	mux, _, led, _ := newChannelTestEnv(t)

	owner := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1")
	require.NoError(t, led.Mint(owner, big.NewInt(500)))

	rec := postJSON(t, mux, "/api/channels", map[string]string{
		"owner":     owner.Hex(),
		"recipient": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2",
		"duration":  "24h",
		"deposit":   "100",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID      string `json:"id"`
		Address string `json:"address"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.ID)

	// Deposit moved into the channel escrow.
	assert.Equal(t, "100", led.Balance(service.AddressForID(resp.ID)).String())
	assert.Equal(t, "400", led.Balance(owner).String())
}

func TestOpenChannelRejectsBadAddress(t *testing.T) {
	mux, _, _, _ := newChannelTestEnv(t)

	rec := postJSON(t, mux, "/api/channels", map[string]string{
		"owner":     "not-an-address",
		"recipient": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2",
		"duration":  "24h",
		"deposit":   "100",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOpenChannelRejectsOutOfRangeAmounts(t *testing.T) {
	mux, _, led, _ := newChannelTestEnv(t)

	owner := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1")
	require.NoError(t, led.Mint(owner, big.NewInt(500)))

	// 2^257: wider than a uint256 digest field can carry.
	huge := new(big.Int).Lsh(big.NewInt(1), 257)

	for _, deposit := range []string{huge.String(), "-5"} {
		rec := postJSON(t, mux, "/api/channels", map[string]string{
			"owner":     owner.Hex(),
			"recipient": "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2",
			"duration":  "24h",
			"deposit":   deposit,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	}
}

func TestCloseChannelEndpoint(t *testing.T) {
	mux, reg, led, _ := newChannelTestEnv(t)

	signer, err := crypto.NewSigner(testOwnerKey)
	require.NoError(t, err)
	owner := signer.Address()
	recipient := common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2")
	require.NoError(t, led.Mint(owner, big.NewInt(500)))

	id, _, err := reg.OpenChannel(t.Context(), owner, recipient, 24*time.Hour, big.NewInt(100))
	require.NoError(t, err)

	sig, err := signer.SignPersonal(channel.CloseDigest(big.NewInt(60), service.AddressForID(id)))
	require.NoError(t, err)

	rec := postJSON(t, mux, "/api/channels/"+id+"/close", map[string]string{
		"caller":    recipient.Hex(),
		"amount":    "60",
		"signature": hexutil.Encode(sig),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "60", led.Balance(recipient).String())
	assert.Equal(t, "440", led.Balance(owner).String())
}

func TestClaimTimeoutBeforeDeadlineIsUnprocessable(t *testing.T) {
	mux, reg, led, _ := newChannelTestEnv(t)

	owner := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1")
	require.NoError(t, led.Mint(owner, big.NewInt(500)))
	id, _, err := reg.OpenChannel(t.Context(), owner,
		common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2"),
		24*time.Hour, big.NewInt(100))
	require.NoError(t, err)

	rec := postJSON(t, mux, "/api/channels/"+id+"/claim-timeout", map[string]string{
		"caller": owner.Hex(),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestClaimPaymentWrongSignerIsForbidden(t *testing.T) {
	mux, reg, led, _ := newChannelTestEnv(t)

	owner := common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1")
	require.NoError(t, led.Mint(owner, big.NewInt(500)))
	id, _, err := reg.OpenPool(t.Context(), owner, big.NewInt(200))
	require.NoError(t, err)

	// Signed by a key that is not the pool owner.
	stranger, err := crypto.NewSigner(testOwnerKey)
	require.NoError(t, err)
	claimant := common.HexToAddress("0xccccccccccccccccccccccccccccccccccccccc3")
	sig, err := stranger.SignPersonal(make([]byte, 32))
	require.NoError(t, err)

	rec := postJSON(t, mux, "/api/pools/"+id+"/claim", map[string]any{
		"caller":    claimant.Hex(),
		"amount":    "25",
		"nonce":     1,
		"signature": hexutil.Encode(sig),
	})
	assert.Equal(t, http.StatusForbidden, rec.Code, rec.Body.String())

	// Escrow untouched.
	assert.Equal(t, "200", led.Balance(service.AddressForID(id)).String())
}

func TestUnknownAgreementIsNotFound(t *testing.T) {
	mux, _, _, _ := newChannelTestEnv(t)

	rec := postJSON(t, mux, "/api/channels/nope/claim-timeout", map[string]string{
		"caller": "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
