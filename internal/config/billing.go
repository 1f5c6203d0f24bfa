package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// BillingPolicy carries the operator-tunable billing knobs. The late-fee
// rate and month length are fixed by tariff regulation and live in the
// rating package, not here.
type BillingPolicy struct {
	// DueDayOfMonth is the day in the month after the billing period on
	// which an invoice falls due.
	DueDayOfMonth int `mapstructure:"dueDayOfMonth"`
	// TokenCashRate is the wallet cash value, in minor units, of one
	// conservation token when converted.
	TokenCashRate int64 `mapstructure:"tokenCashRate"`
	// RewardEnabled toggles conservation-token issuance globally.
	RewardEnabled bool `mapstructure:"rewardEnabled"`
}

func DefaultBillingPolicy() BillingPolicy {
	return BillingPolicy{
		DueDayOfMonth: 25,
		TokenCashRate: 100,
		RewardEnabled: true,
	}
}

type BillingPolicyHolder struct {
	current atomic.Value // holds BillingPolicy
}

func NewBillingPolicyHolder() (*BillingPolicyHolder, error) {
	v := viper.New()

	v.SetConfigName("billing")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/tirta/config") // Volume-mounted config
	v.AddConfigPath("/etc/tirta")            // System config
	v.AddConfigPath(".")                     // Current directory (dev mode)

	v.SetEnvPrefix("TIRTA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultBillingPolicy()
	v.SetDefault("billing.dueDayOfMonth", defaults.DueDayOfMonth)
	v.SetDefault("billing.tokenCashRate", defaults.TokenCashRate)
	v.SetDefault("billing.rewardEnabled", defaults.RewardEnabled)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var policy BillingPolicy
	if err := v.UnmarshalKey("billing", &policy); err != nil {
		return nil, err
	}
	if err := validateBillingPolicy(policy); err != nil {
		return nil, err
	}

	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated BillingPolicy
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[billing-policy] reload failed: %v", err)
			return
		}
		if err := validateBillingPolicy(updated); err != nil {
			log.Printf("[billing-policy] invalid policy ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[billing-policy] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticBillingPolicyHolder wraps a fixed policy with no file
// watching. Intended for tests and tools.
func NewStaticBillingPolicyHolder(policy BillingPolicy) *BillingPolicyHolder {
	holder := &BillingPolicyHolder{}
	holder.current.Store(policy)
	return holder
}

func (h *BillingPolicyHolder) Get() BillingPolicy {
	return h.current.Load().(BillingPolicy)
}

func validateBillingPolicy(policy BillingPolicy) error {
	if policy.DueDayOfMonth < 1 || policy.DueDayOfMonth > 28 {
		return errors.New("billing.dueDayOfMonth must be between 1 and 28")
	}
	if policy.TokenCashRate <= 0 {
		return errors.New("billing.tokenCashRate must be positive")
	}
	return nil
}
