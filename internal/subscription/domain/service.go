package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreatePlanRequest struct {
	OwnerID         snowflake.ID `json:"owner_id,string" binding:"required"`
	Name            string       `json:"name" binding:"required"`
	Price           int64        `json:"price" binding:"required,gt=0"`
	UnitSize        int64        `json:"unit_size" binding:"required,gt=0"`
	Cadence         Cadence      `json:"cadence" binding:"required"`
	RewardCadence   Cadence      `json:"reward_cadence"`
	RewardThreshold int64        `json:"reward_threshold"`
	RewardTokens    int64        `json:"reward_tokens"`
}

type SubscribeRequest struct {
	CustomerID snowflake.ID `json:"customer_id,string" binding:"required"`
	PlanID     snowflake.ID `json:"plan_id,string" binding:"required"`
}

// SettlementResult reports what IncrementUsage did. Settled false means
// the usage was recorded but no settlement boundary had been reached.
type SettlementResult struct {
	Subscription  *Subscription `json:"subscription"`
	Settled       bool          `json:"settled"`
	Partial       bool          `json:"partial"`
	AmountCharged int64         `json:"amount_charged"`
	UnitsBilled   int64         `json:"units_billed"`
	UnitsCarried  int64         `json:"units_carried"`
	RewardTokens  int64         `json:"reward_tokens"`
}

// PipeCheckResult reports the outcome of a zero-balance pipe check.
type PipeCheckResult struct {
	Closed        bool `json:"closed"`
	AlreadyClosed bool `json:"already_closed"`
}

type Service interface {
	CreatePlan(ctx context.Context, req CreatePlanRequest) (*WaterCreditPlan, error)
	GetPlan(ctx context.Context, id snowflake.ID) (*WaterCreditPlan, error)

	Subscribe(ctx context.Context, req SubscribeRequest) (*Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)

	// IncrementUsage records delta units against the subscription and,
	// when the plan's cadence boundary has passed, settles the
	// accumulated window: full settlement when the customer wallet
	// covers the cost, partial settlement (drain the wallet, carry the
	// unaffordable remainder) otherwise.
	IncrementUsage(ctx context.Context, id snowflake.ID, delta int64) (*SettlementResult, error)

	// IsBalanceZero closes the customer's pipe when their wallet balance
	// is exactly zero. Idempotent; reports what it decided.
	IsBalanceZero(ctx context.Context, id snowflake.ID) (*PipeCheckResult, error)
}
