package minutes

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Minutes is a fractional quantity of conversational time.
type Minutes float64

// Float64 returns the raw minutes value.
func (value Minutes) Float64() float64 {
	return float64(value)
}

// NewPositiveMinutes validates an amount used for credit and debit operations.
func NewPositiveMinutes(raw float64) (Minutes, error) {
	if math.IsNaN(raw) || math.IsInf(raw, 0) || raw <= 0 {
		return 0, fmt.Errorf("%w: must be a finite value greater than zero", ErrInvalidMinutes)
	}
	return Minutes(raw), nil
}

// ClampBalance returns max(0, balance + delta). Stores apply it on every adjustment.
func ClampBalance(balance Minutes, delta Minutes) Minutes {
	next := balance + delta
	if next < 0 {
		return 0
	}
	return next
}

// UserID identifies a balance owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// PackageID identifies a catalog entry.
type PackageID int64

// NewPackageID validates a package id.
func NewPackageID(raw int64) (PackageID, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPackageID)
	}
	return PackageID(raw), nil
}

// Int64 returns the raw identifier.
func (id PackageID) Int64() int64 {
	return int64(id)
}

// OrderID identifies a gateway order and its payment intent.
type OrderID struct {
	value string
}

// NewOrderID validates and normalizes an order id.
func NewOrderID(raw string) (OrderID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OrderID{}, fmt.Errorf("%w: empty value", ErrInvalidOrderID)
	}
	if len(trimmed) > maxOrderIDLength {
		return OrderID{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidOrderID, maxOrderIDLength)
	}
	return OrderID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OrderID) String() string {
	return id.value
}

// ConversationID identifies a chat session.
type ConversationID struct {
	value string
}

// NewConversationID validates and normalizes a conversation id.
func NewConversationID(raw string) (ConversationID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ConversationID{}, fmt.Errorf("%w: empty value", ErrInvalidConversationID)
	}
	return ConversationID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id ConversationID) String() string {
	return id.value
}

// User is a balance holder.
type User struct {
	UserID           UserID
	RemainingMinutes Minutes
	CreatedAt        time.Time
}

// Package is an immutable catalog entry.
type Package struct {
	ID          PackageID
	Name        string
	Description string
	Price       decimal.Decimal
	Currency    string
	Minutes     Minutes
	Popular     bool
}

// PaymentStatus defines the settlement lifecycle of an order.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusSuccess PaymentStatus = "SUCCESS"
	PaymentStatusFailed  PaymentStatus = "FAILED"
)

// String returns the stored status value.
func (status PaymentStatus) String() string {
	return string(status)
}

// ParsePaymentStatus validates a stored status value.
func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToUpper(strings.TrimSpace(raw))) {
	case PaymentStatusPending:
		return PaymentStatusPending, nil
	case PaymentStatusSuccess:
		return PaymentStatusSuccess, nil
	case PaymentStatusFailed:
		return PaymentStatusFailed, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentStatus, raw)
	}
}

// Payment records one order's settlement state.
type Payment struct {
	PaymentID         string
	OrderID           OrderID
	UserID            UserID
	PackageID         PackageID
	Amount            decimal.Decimal
	Currency          string
	Minutes           Minutes
	ExternalPaymentID string
	Status            PaymentStatus
	Simulated         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// ConversationStatus defines the session lifecycle.
type ConversationStatus string

const (
	ConversationStatusActive    ConversationStatus = "active"
	ConversationStatusCompleted ConversationStatus = "completed"
)

// String returns the stored status value.
func (status ConversationStatus) String() string {
	return string(status)
}

// ParseConversationStatus validates a stored status value.
func ParseConversationStatus(raw string) (ConversationStatus, error) {
	switch ConversationStatus(strings.TrimSpace(raw)) {
	case ConversationStatusActive:
		return ConversationStatusActive, nil
	case ConversationStatusCompleted:
		return ConversationStatusCompleted, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidConversationStatus, raw)
	}
}

// Conversation is one chat session.
type Conversation struct {
	ConversationID  ConversationID
	UserID          UserID
	StartedAt       time.Time
	EndedAt         *time.Time
	DurationMinutes *Minutes
	Status          ConversationStatus
}

// Message is a single append-only turn.
type Message struct {
	MessageID      string
	ConversationID ConversationID
	Content        string
	FromUser       bool
	CreatedAt      time.Time
}

// WebhookEvent is the audit record of a verified gateway delivery.
type WebhookEvent struct {
	EventID    string
	OrderID    OrderID
	Type       string
	Payload    []byte
	ReceivedAt time.Time
}
