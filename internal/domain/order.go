package domain

import "time"

// OrderStatus tracks a checkout order through the processor handshake.
type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

// OrderKind says what a checkout order buys.
type OrderKind string

const (
	OrderKindPack         OrderKind = "credit_pack"
	OrderKindSubscription OrderKind = "subscription"
)

// Order is created server-side at checkout, before the processor is involved.
// Its ID becomes the order id the processor signs in its notifications, so a
// signed order id maps back to the account and goods agreed here. For
// processors that sign only part of their payload this record is the only
// trusted source of who gets credited and how much.
type Order struct {
	ID          string      `json:"id"`
	AccountID   string      `json:"accountId"`
	Kind        OrderKind   `json:"kind"`
	PackID      string      `json:"packId,omitempty"`
	PlanID      string      `json:"planId,omitempty"`
	Credits     int64       `json:"credits"`
	AmountCents int64       `json:"amountCents"`
	Status      OrderStatus `json:"status"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// CreditPack is a one-off credit purchase. The server-side table is
// authoritative: notifications never carry the credit amount, they carry the
// signed price, and the price maps back to a pack.
type CreditPack struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Credits     int64  `json:"credits"`
	AmountCents int64  `json:"amountCents"`
}

// AvailablePacks returns all purchasable credit packs.
func AvailablePacks() []CreditPack {
	return []CreditPack{
		{ID: "pack_small", Name: "Small Pack", Credits: 100, AmountCents: 500},
		{ID: "pack_medium", Name: "Medium Pack", Credits: 300, AmountCents: 1200},
		{ID: "pack_large", Name: "Large Pack", Credits: 1000, AmountCents: 3500},
	}
}

// GetPack returns the credit pack for a given ID.
func GetPack(id string) (CreditPack, bool) {
	for _, p := range AvailablePacks() {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPack{}, false
}
