// Copyright 2025 Certen Protocol
//
// Package database provides sentinel errors for repository operations.
// F.4 remediation: Explicit errors instead of nil, nil returns

package database

import "errors"

// Sentinel errors for database operations
var (
	// ErrNotFound is returned when a requested entity is not found in the database
	ErrNotFound = errors.New("entity not found")

	// ErrItemNotFound is returned when a data item row is not found
	ErrItemNotFound = errors.New("item not found")

	// ErrDuplicateItem is returned when an item id is already admitted
	ErrDuplicateItem = errors.New("item already admitted")

	// ErrPlanNotFound is returned when a bundle plan is not found
	ErrPlanNotFound = errors.New("bundle plan not found")

	// ErrAlreadyPlanned is returned when an item already belongs to a plan
	ErrAlreadyPlanned = errors.New("item already planned")

	// ErrBundleNotFound is returned when a posted bundle is not found
	ErrBundleNotFound = errors.New("posted bundle not found")

	// ErrOffsetNotFound is returned when an item's offset row is not found
	ErrOffsetNotFound = errors.New("offset not found")

	// ErrPaymentNotFound is returned when an x402 payment record is not found
	ErrPaymentNotFound = errors.New("payment not found")

	// ErrPaymentAlreadyLinked is returned when a payment is already linked to an item
	ErrPaymentAlreadyLinked = errors.New("payment already linked")

	// ErrCursorNotFound is returned when a named cleanup cursor has no row yet
	ErrCursorNotFound = errors.New("cursor not found")
)
