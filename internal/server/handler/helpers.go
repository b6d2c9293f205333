// Package handler implements the HTTP API handlers for the clearinghouse.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/clearinghouse/internal/domain"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps domain errors to HTTP status codes. Rule violations
// are client errors: the request was well-formed but the protocol rejected
// the transition.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case domain.IsRule(err, domain.RuleAuthorization):
		writeError(w, http.StatusForbidden, err.Error())
	case domain.IsRule(err, domain.RuleTemporal),
		domain.IsRule(err, domain.RuleValue),
		domain.IsRule(err, domain.RuleState),
		errors.Is(err, domain.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody parses the request body as JSON into v.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// parseAddress validates and parses a hex address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, errors.New("invalid address: " + s)
	}
	return common.HexToAddress(s), nil
}

// parseAmount parses a base-10 amount string. Amounts are unsigned 256-bit
// values; anything negative or wider is rejected before it reaches a digest.
func parseAmount(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, errors.New("invalid amount: " + s)
	}
	if n.Sign() < 0 {
		return nil, errors.New("amount must not be negative")
	}
	if n.BitLen() > 256 {
		return nil, errors.New("amount exceeds 256 bits")
	}
	return n, nil
}

// parseHexBytes parses a 0x-prefixed hex blob (signatures, commitments).
func parseHexBytes(s string) ([]byte, error) {
	return hexutil.Decode(s)
}

// parseCommitment parses a 0x-prefixed 32-byte commitment hash.
func parseCommitment(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hexutil.Decode(s)
	if err != nil {
		return out, errors.New("invalid commitment encoding")
	}
	if len(raw) != 32 {
		return out, errors.New("commitment must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
