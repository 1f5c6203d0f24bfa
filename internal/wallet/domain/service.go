package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	// Ensure returns the owner's wallet, creating an empty one when
	// missing. Safe under concurrent callers.
	Ensure(ctx context.Context, ownerID snowflake.ID) (*Wallet, error)
	GetByOwner(ctx context.Context, ownerID snowflake.ID) (*Wallet, error)

	// TopUp credits cash onto a wallet and records a topup transaction.
	TopUp(ctx context.Context, ownerID snowflake.ID, amount int64) (*Wallet, error)

	// ConvertTokens exchanges conservation tokens for wallet cash at the
	// configured fixed rate.
	ConvertTokens(ctx context.Context, ownerID snowflake.ID, tokens int64) (*Wallet, error)

	ListTransactions(ctx context.Context, ownerID snowflake.ID, limit int) ([]*Transaction, error)
}
