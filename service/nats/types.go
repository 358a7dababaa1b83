package nats

import (
	"time"

	"github.com/brojonat/swapper/service/db"
)

// EventKind names a step in a trade's lifecycle.
type EventKind string

const (
	KindSubmitted      EventKind = "submitted"
	KindStatus         EventKind = "status"
	KindFinalized      EventKind = "finalized"
	KindFailed         EventKind = "failed"
	KindPendingTimeout EventKind = "pending_timeout"
)

// KindForStatus picks the event kind for an observed trade status.
func KindForStatus(status string, finalized bool) EventKind {
	switch {
	case status == "failed":
		return KindFailed
	case finalized || status == "finalized":
		return KindFinalized
	default:
		return KindStatus
	}
}

// TradeEvent represents a trade lifecycle event published to NATS.
// This is published to the subject "trades.{wallet_address}" in JetStream.
type TradeEvent struct {
	Kind EventKind `json:"kind"`

	// Trade identifiers
	TradeID         string `json:"trade_id,omitempty"`
	TransactionHash string `json:"transaction_hash"`
	WalletAddress   string `json:"wallet_address"`

	// Swap details
	FromAsset string `json:"from_asset"`
	ToAsset   string `json:"to_asset"`
	AmountRaw uint64 `json:"amount_raw,string"`
	Format    string `json:"format,omitempty"`

	// Observed state
	Status        string `json:"status"`
	Confirmations uint64 `json:"confirmations"`
	Finalized     bool   `json:"finalized"`
	Error         string `json:"error,omitempty"`

	Timestamp   time.Time `json:"timestamp"`
	PublishedAt time.Time `json:"published_at"`
}

// FromTrade converts a ledger row to a TradeEvent for publishing.
func FromTrade(trade *db.Trade, kind EventKind) *TradeEvent {
	event := &TradeEvent{
		Kind:            kind,
		TradeID:         trade.TradeID,
		TransactionHash: trade.TransactionHash,
		WalletAddress:   trade.WalletAddress,
		FromAsset:       trade.FromAsset,
		ToAsset:         trade.ToAsset,
		AmountRaw:       trade.AmountRaw,
		Format:          trade.Format,
		Status:          trade.Status,
		Finalized:       trade.Finalized,
		Timestamp:       trade.UpdatedAt,
		PublishedAt:     time.Now().UTC(),
	}
	if trade.Confirmations > 0 {
		event.Confirmations = uint64(trade.Confirmations)
	}
	if trade.Error != nil {
		event.Error = *trade.Error
	}
	return event
}
