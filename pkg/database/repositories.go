// Copyright 2025 Certen Protocol
//
// Repositories bundles every domain repository behind a single handle so
// callers construct one object from a *Client instead of wiring each
// repository separately.

package database

// Repositories groups every repository backed by the bundler's schema.
type Repositories struct {
	Items    *ItemRepository
	Plans    *PlanRepository
	Payments *PaymentRepository
	Offsets  *OffsetRepository
	Cursors  *CursorRepository
}

// NewRepositories constructs every repository over a shared client.
func NewRepositories(client *Client) *Repositories {
	return &Repositories{
		Items:    NewItemRepository(client),
		Plans:    NewPlanRepository(client),
		Payments: NewPaymentRepository(client),
		Offsets:  NewOffsetRepository(client),
		Cursors:  NewCursorRepository(client),
	}
}
