/*

This file contains the audit record emitted by every state-mutating engine
operation. The persisted event stream is the only externally observable
trail of vault activity and is what off-chain indexers consume.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// EventKind identifies the operation that produced a VaultEvent.
type EventKind string

const (
	EventDeposit             EventKind = "DEPOSIT"
	EventWithdraw            EventKind = "WITHDRAW"
	EventWithdrawalRequested EventKind = "WITHDRAWAL_REQUESTED"
	EventWithdrawalCompleted EventKind = "WITHDRAWAL_COMPLETED"
	EventInstantWithdrawal   EventKind = "INSTANT_WITHDRAWAL"
	EventManagementFee       EventKind = "MANAGEMENT_FEE"
	EventFeesCollected       EventKind = "FEES_COLLECTED"
	EventCompound            EventKind = "COMPOUND"
	EventPaused              EventKind = "PAUSED"
	EventUnpaused            EventKind = "UNPAUSED"
	EventParametersUpdated   EventKind = "PARAMETERS_UPDATED"
)

// VaultEvent is the structured audit record. Gross, Fee and Net carry the
// before-fee amount, the fee taken and the amount paid out; Shares carries
// the share delta of the operation.
type VaultEvent struct {
	ID        string      `json:"id"`
	Kind      EventKind   `json:"kind"`
	User      string      `json:"user,omitempty"`
	Gross     sdkmath.Int `json:"gross"`
	Fee       sdkmath.Int `json:"fee"`
	Net       sdkmath.Int `json:"net"`
	Shares    sdkmath.Int `json:"shares"`
	RequestID uint64      `json:"request_id,omitempty"`
	Memo      string      `json:"memo,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}
