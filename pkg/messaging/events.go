package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types double as NATS subjects.
const (
	EventTypeStakeDeposited = "stake.deposited"
	EventTypeStakeWithdrawn = "stake.withdrawn"

	EventTypeRewardClaimed     = "reward.claimed"
	EventTypeRewardAccrued     = "reward.accrued"
	EventTypeRewardRateUpdated = "reward.rate_updated"

	EventTypeTreasuryDeposited = "treasury.deposited"
	EventTypeTreasuryWithdrawn = "treasury.withdrawn"

	EventTypeLedgerPaused   = "ledger.paused"
	EventTypeLedgerUnpaused = "ledger.unpaused"
)

// Event is the base event envelope.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Source    string          `json:"source"`
}

// StakeEvent describes a deposit or withdrawal. Amounts are integer base
// units rendered as decimal strings.
type StakeEvent struct {
	Address     string `json:"address"`
	Amount      string `json:"amount"`
	Staked      string `json:"staked"`
	TotalStaked string `json:"total_staked"`
	RewardPaid  string `json:"reward_paid,omitempty"`
}

// ClaimEvent describes a reward payout.
type ClaimEvent struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

// AccrualEvent describes a global accrual pass.
type AccrualEvent struct {
	ElapsedSeconds int64  `json:"elapsed_seconds"`
	RewardPool     string `json:"reward_pool"`
	TotalStaked    string `json:"total_staked"`
	Undistributed  string `json:"undistributed"`
}

// RateEvent describes an emission rate change.
type RateEvent struct {
	OldRate string `json:"old_rate"`
	NewRate string `json:"new_rate"`
}

// TreasuryEvent describes reward supply custody movement.
type TreasuryEvent struct {
	Amount  string `json:"amount"`
	Custody string `json:"custody"`
}

// NewEvent wraps a payload in the base envelope.
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      dataBytes,
		Source:    source,
	}, nil
}

// ParseEventData parses event data into the specified type.
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
