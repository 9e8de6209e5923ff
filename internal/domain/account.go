package domain

import "time"

// Tier is the subscription tier attached to an account. It is derived from
// the account's active subscription and only affects presentation and plan
// defaults — credit arithmetic never consults it.
type Tier string

const (
	TierNone       Tier = "none"
	TierStarter    Tier = "starter"
	TierPro        Tier = "pro"
	TierBusiness   Tier = "business"
	TierEnterprise Tier = "enterprise"
	TierAdmin      Tier = "admin"
)

// Account represents an end user of the platform. Balance is materialized
// from the ledger and is only ever written by the ledger store — nothing
// else may assign it.
type Account struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Password      string    `json:"-"`
	Role          string    `json:"role"` // user, admin
	Tier          Tier      `json:"tier"`
	Balance       int64     `json:"balance"`
	AdminOverride bool      `json:"adminOverride"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// LoginRequest is the input for the login endpoint.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse returns the JWT and the account profile.
type LoginResponse struct {
	Token   string   `json:"token"`
	Account *Account `json:"account"`
}

// CreateAccountRequest is the admin input for creating an account.
type CreateAccountRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=user admin"`
}
