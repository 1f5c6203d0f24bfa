package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrPlanNotFound         = errors.New("plan_not_found")
	ErrSubscriptionInactive = errors.New("subscription_inactive")
	ErrSubscriptionExists   = errors.New("subscription_exists")
	ErrInvalidDelta         = errors.New("invalid_delta")
	ErrInvalidPlan          = errors.New("invalid_plan")
)

// WaterCreditPlan is a prepaid water-credit product sold by a plan owner.
// Price buys UnitSize units, so the effective per-unit cost is
// Price/UnitSize. Income is the owner's withdrawable balance on the
// plan; TotalIncome never decreases.
type WaterCreditPlan struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	OwnerID  snowflake.ID `gorm:"index;not null" json:"owner_id"`
	Name     string       `gorm:"size:128;not null" json:"name"`
	Price    int64        `gorm:"not null" json:"price"`
	UnitSize int64        `gorm:"not null" json:"unit_size"`
	Cadence  Cadence      `gorm:"size:16;not null" json:"cadence"`

	// Conservation reward: customers whose in-window usage stays below
	// RewardThreshold at reward-cadence boundaries earn RewardTokens.
	RewardCadence   Cadence `gorm:"size:16" json:"reward_cadence,omitempty"`
	RewardThreshold int64   `json:"reward_threshold,omitempty"`
	RewardTokens    int64   `json:"reward_tokens,omitempty"`

	Income      int64     `gorm:"not null;default:0" json:"income"`
	TotalIncome int64     `gorm:"not null;default:0" json:"total_income"`
	Active      bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (WaterCreditPlan) TableName() string {
	return "water_credit_plans"
}

// CostPerUnit returns the integer per-unit price. Plans are validated at
// creation so UnitSize is positive and divides Price evenly.
func (p *WaterCreditPlan) CostPerUnit() int64 {
	if p.UnitSize <= 0 {
		return 0
	}
	return p.Price / p.UnitSize
}

// Subscription binds one customer to one plan. WindowUnits accumulates
// usage between settlements; LifetimeUnits only ever grows.
type Subscription struct {
	ID            snowflake.ID `gorm:"primaryKey" json:"id"`
	CustomerID    snowflake.ID `gorm:"not null;uniqueIndex:ux_subscriptions_customer_plan" json:"customer_id"`
	PlanID        snowflake.ID `gorm:"not null;uniqueIndex:ux_subscriptions_customer_plan" json:"plan_id"`
	LifetimeUnits int64        `gorm:"not null;default:0" json:"lifetime_units"`
	WindowUnits   int64        `gorm:"not null;default:0" json:"window_units"`
	Active        bool         `gorm:"not null;default:true" json:"active"`
	PipeClosed    bool         `gorm:"not null;default:false" json:"pipe_closed"`
	LastSettledAt time.Time    `json:"last_settled_at"`
	LastRewardAt  time.Time    `json:"last_reward_at"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
