package seed

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	customerdomain "github.com/tirtabiz/tirta/internal/customer/domain"
	meterdomain "github.com/tirtabiz/tirta/internal/meter/domain"
	subscriptiondomain "github.com/tirtabiz/tirta/internal/subscription/domain"
	walletdomain "github.com/tirtabiz/tirta/internal/wallet/domain"
	"gorm.io/gorm"
)

// Regulated tariff catalogue installed on first boot. Prices are in
// minor currency units per consumption unit.
var defaultTariffs = []meterdomain.TariffTier{
	{Name: "social", PriceBelowThreshold: 1500, PriceAboveThreshold: 2000, BaseFee: 3000},
	{Name: "residential", PriceBelowThreshold: 2500, PriceAboveThreshold: 3000, BaseFee: 5000},
	{Name: "commercial", PriceBelowThreshold: 4000, PriceAboveThreshold: 5000, BaseFee: 12000},
}

const (
	demoCustomerEmail = "demo@tirta.local"
	demoOperatorEmail = "operator@tirta.local"
	demoAccountNumber = "DEMO-0001"
	demoPlanName      = "daily-credit-10"
)

// EnsureDefaultTariffs installs the tariff catalogue. Existing tiers are
// left untouched; operators may have re-priced them.
func EnsureDefaultTariffs(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, tier := range defaultTariffs {
			if _, err := ensureTariffTx(tx, node, tier); err != nil {
				return err
			}
		}
		return nil
	})
}

// EnsureDemoData seeds a household with a meter, a funded wallet and a
// pay-as-you-go subscription, for local development.
func EnsureDemoData(db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		residential, err := ensureTariffTx(tx, node, defaultTariffs[1])
		if err != nil {
			return err
		}

		household, err := ensureCustomerTx(tx, node, "Demo Household", demoCustomerEmail)
		if err != nil {
			return err
		}
		operator, err := ensureCustomerTx(tx, node, "Tirta Waterworks", demoOperatorEmail)
		if err != nil {
			return err
		}

		if err := ensureMeterTx(tx, node, household.ID, residential.ID); err != nil {
			return err
		}
		if err := ensureWalletTx(tx, node, household.ID, 100000); err != nil {
			return err
		}
		if err := ensureWalletTx(tx, node, operator.ID, 0); err != nil {
			return err
		}

		plan, err := ensurePlanTx(tx, node, operator.ID)
		if err != nil {
			return err
		}
		return ensureSubscriptionTx(tx, node, household.ID, plan.ID)
	})
}

func ensureTariffTx(tx *gorm.DB, node *snowflake.Node, tier meterdomain.TariffTier) (*meterdomain.TariffTier, error) {
	var existing meterdomain.TariffTier
	err := tx.Where(&meterdomain.TariffTier{Name: tier.Name}).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	tier.ID = node.Generate()
	if err := tx.Create(&tier).Error; err != nil {
		return nil, err
	}
	return &tier, nil
}

func ensureCustomerTx(tx *gorm.DB, node *snowflake.Node, name, email string) (*customerdomain.Customer, error) {
	var existing customerdomain.Customer
	err := tx.Where(&customerdomain.Customer{Email: email}).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := customerdomain.Customer{
		ID:    node.Generate(),
		Name:  name,
		Email: email,
	}
	if err := tx.Create(&created).Error; err != nil {
		return nil, err
	}
	return &created, nil
}

func ensureMeterTx(tx *gorm.DB, node *snowflake.Node, customerID, tariffID snowflake.ID) error {
	var existing meterdomain.MeterAccount
	err := tx.Where(&meterdomain.MeterAccount{AccountNumber: demoAccountNumber}).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.Create(&meterdomain.MeterAccount{
		ID:            node.Generate(),
		CustomerID:    customerID,
		AccountNumber: demoAccountNumber,
		TariffTierID:  tariffID,
		Active:        true,
	}).Error
}

func ensureWalletTx(tx *gorm.DB, node *snowflake.Node, ownerID snowflake.ID, balance int64) error {
	var existing walletdomain.Wallet
	err := tx.Where(&walletdomain.Wallet{OwnerID: ownerID}).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	return tx.Create(&walletdomain.Wallet{
		ID:      node.Generate(),
		OwnerID: ownerID,
		Balance: balance,
	}).Error
}

func ensurePlanTx(tx *gorm.DB, node *snowflake.Node, ownerID snowflake.ID) (*subscriptiondomain.WaterCreditPlan, error) {
	var existing subscriptiondomain.WaterCreditPlan
	err := tx.Where(&subscriptiondomain.WaterCreditPlan{OwnerID: ownerID, Name: demoPlanName}).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	created := subscriptiondomain.WaterCreditPlan{
		ID:              node.Generate(),
		OwnerID:         ownerID,
		Name:            demoPlanName,
		Price:           3000,
		UnitSize:        10,
		Cadence:         subscriptiondomain.CadenceDaily,
		RewardCadence:   subscriptiondomain.CadenceWeekly,
		RewardThreshold: 50,
		RewardTokens:    5,
		Active:          true,
	}
	if err := tx.Create(&created).Error; err != nil {
		return nil, err
	}
	return &created, nil
}

func ensureSubscriptionTx(tx *gorm.DB, node *snowflake.Node, customerID, planID snowflake.ID) error {
	var existing subscriptiondomain.Subscription
	err := tx.Where(&subscriptiondomain.Subscription{CustomerID: customerID, PlanID: planID}).First(&existing).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	return tx.Create(&subscriptiondomain.Subscription{
		ID:            node.Generate(),
		CustomerID:    customerID,
		PlanID:        planID,
		Active:        true,
		LastSettledAt: now,
		LastRewardAt:  now,
	}).Error
}
