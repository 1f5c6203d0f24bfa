package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type CreateCustomerRequest struct {
	Name    string `json:"name" binding:"required"`
	Email   string `json:"email" binding:"required,email"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

type Service interface {
	Create(ctx context.Context, req CreateCustomerRequest) (*Customer, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Customer, error)
	List(ctx context.Context, limit int) ([]*Customer, error)
}
