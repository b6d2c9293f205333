package domain

import (
	"encoding/json"
	"time"
)

// Protocol identifies one of the settlement protocols hosted by the
// clearinghouse.
type Protocol string

const (
	ProtocolPaymentChannel Protocol = "payment_channel"
	ProtocolReceiverPays   Protocol = "receiver_pays"
	ProtocolPeriodicLoan   Protocol = "periodic_loan"
	ProtocolLoanMarket     Protocol = "loan_market"
	ProtocolTokenMarket    Protocol = "token_market"
	ProtocolAuction        Protocol = "auction"
	ProtocolSealedBid      Protocol = "sealed_bid_auction"
	ProtocolCoinFlip       Protocol = "coin_flip"
	ProtocolTwentyOne      Protocol = "twenty_one"
)

// AgreementStatus is the lifecycle phase of an agreement as seen by the
// service layer.
type AgreementStatus string

const (
	AgreementOpen       AgreementStatus = "open"
	AgreementActive     AgreementStatus = "active"
	AgreementSettled    AgreementStatus = "settled"
	AgreementCancelled  AgreementStatus = "cancelled"
	AgreementLiquidated AgreementStatus = "liquidated"
)

// Terminal reports whether no further transitions are possible.
func (s AgreementStatus) Terminal() bool {
	return s == AgreementSettled || s == AgreementCancelled || s == AgreementLiquidated
}

// Agreement is a persisted snapshot of a protocol instance.
type Agreement struct {
	ID        string
	Protocol  Protocol
	Address   string // instance escrow address, hex
	Parties   []string
	Status    AgreementStatus
	State     json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Event records a single successful transition of an agreement.
type Event struct {
	ID          string
	AgreementID string
	Protocol    Protocol
	Kind        string
	Payload     map[string]any
	CreatedAt   time.Time
}
