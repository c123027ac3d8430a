// Package events defines the closed set of broker event types exchanged
// between the Coordinator and Ledger services, and their JSON payload shapes.
//
// Every Type value is also its broker topic name, bit-exact per the wire
// contract: the outbox's eventType maps 1:1 onto a topic.
package events

import "time"

// Type is a closed enumeration over the eight broker topics.
type Type string

const (
	TransferInitiated  Type = "transfer.initiated"
	TransferCompleted  Type = "transfer.completed"
	TransferFailed     Type = "transfer.failed"
	WalletDebited      Type = "wallet.debited"
	WalletDebitFailed  Type = "wallet.debit-failed"
	WalletCredited     Type = "wallet.credited"
	WalletCreditFailed Type = "wallet.credit-failed"
	WalletRefunded     Type = "wallet.refunded"
)

// Topic returns the broker topic name for the event type. Names are
// bit-exact and equal to the string value of Type itself.
func (t Type) Topic() string { return string(t) }

// Envelope carries the fields common to every event payload.
type Envelope struct {
	TransferID string    `json:"transferId"`
	Timestamp  time.Time `json:"timestamp"`
}

// TransferInitiatedPayload is emitted by the Coordinator on successful initiation.
type TransferInitiatedPayload struct {
	Envelope
	SenderWalletID   string `json:"senderWalletId"`
	ReceiverWalletID string `json:"receiverWalletId"`
	Amount           int64  `json:"amount"`
}

// TransferCompletedPayload is emitted by the Coordinator when a saga reaches COMPLETED.
type TransferCompletedPayload struct {
	Envelope
}

// TransferFailedPayload is emitted by the Coordinator when a saga reaches FAILED.
type TransferFailedPayload struct {
	Envelope
	Reason string `json:"reason"`
}

// WalletDebitedPayload is emitted by the Ledger after a successful sender debit.
type WalletDebitedPayload struct {
	Envelope
	SenderWalletID   string `json:"senderWalletId"`
	ReceiverWalletID string `json:"receiverWalletId"`
	Amount           int64  `json:"amount"`
}

// WalletDebitFailedPayload is emitted by the Ledger when the sender debit fails.
type WalletDebitFailedPayload struct {
	Envelope
	SenderWalletID string `json:"senderWalletId"`
	Reason         string `json:"reason"`
}

// WalletCreditedPayload is emitted by the Ledger after a successful receiver credit.
type WalletCreditedPayload struct {
	Envelope
	ReceiverWalletID string `json:"receiverWalletId"`
	Amount           int64  `json:"amount"`
}

// WalletCreditFailedPayload carries the data required to drive sender-side
// compensation: it is produced either by the Ledger (a real credit failure)
// or synthetically by the Coordinator's timeout recoverer.
type WalletCreditFailedPayload struct {
	Envelope
	SenderWalletID string `json:"senderWalletId"`
	Amount         int64  `json:"amount"`
	Reason         string `json:"reason"`
}

// WalletRefundedPayload is emitted by the Ledger after compensating the sender.
type WalletRefundedPayload struct {
	Envelope
	SenderWalletID string `json:"senderWalletId"`
	Amount         int64  `json:"amount"`
}
