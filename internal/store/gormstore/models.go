package gormstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// User represents the users table.
type User struct {
	UserID           string    `gorm:"primaryKey"`
	RemainingMinutes float64   `gorm:"not null;default:0"`
	CreatedAt        time.Time `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Package mirrors the packages table.
type Package struct {
	PackageID   int64           `gorm:"primaryKey;autoIncrement:false"`
	Name        string          `gorm:"not null"`
	Description string          `gorm:"not null;default:''"`
	Price       decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency    string          `gorm:"not null"`
	Minutes     float64         `gorm:"not null"`
	Popular     bool            `gorm:"not null;default:false"`
}

func (Package) TableName() string { return "packages" }

// Payment mirrors the payments table.
type Payment struct {
	PaymentID         string          `gorm:"type:uuid;primaryKey"`
	OrderID           string          `gorm:"not null;uniqueIndex:payments_order_id_key"`
	UserID            string          `gorm:"not null;index:idx_payments_user_created,priority:1"`
	PackageID         int64           `gorm:"not null"`
	Amount            decimal.Decimal `gorm:"type:numeric(12,2);not null"`
	Currency          string          `gorm:"not null"`
	Minutes           float64         `gorm:"not null"`
	ExternalPaymentID *string         `gorm:""`
	Status            string          `gorm:"not null;index:idx_payments_status_created,priority:1"`
	Simulated         bool            `gorm:"not null;default:false"`
	CreatedAt         time.Time       `gorm:"not null;index:idx_payments_user_created,priority:2;index:idx_payments_status_created,priority:2"`
	UpdatedAt         time.Time       `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

func (payment *Payment) BeforeCreate(tx *gorm.DB) error {
	if payment.PaymentID == "" {
		payment.PaymentID = uuid.NewString()
	}
	return nil
}

// Conversation mirrors the conversations table.
type Conversation struct {
	ConversationID  string     `gorm:"primaryKey"`
	UserID          string     `gorm:"not null;index:idx_conversations_user_started,priority:1"`
	StartedAt       time.Time  `gorm:"not null;index:idx_conversations_user_started,priority:2"`
	EndedAt         *time.Time `gorm:""`
	DurationMinutes *float64   `gorm:""`
	Status          string     `gorm:"not null"`
}

func (Conversation) TableName() string { return "conversations" }

// Message mirrors the messages table.
type Message struct {
	MessageID      string    `gorm:"type:uuid;primaryKey"`
	ConversationID string    `gorm:"not null;index:idx_messages_conversation_created,priority:1"`
	Content        string    `gorm:"type:text;not null"`
	FromUser       bool      `gorm:"not null"`
	CreatedAt      time.Time `gorm:"not null;index:idx_messages_conversation_created,priority:2"`
	Sequence       int64     `gorm:"not null;default:0;index:idx_messages_conversation_created,priority:3"`
}

func (Message) TableName() string { return "messages" }

func (message *Message) BeforeCreate(tx *gorm.DB) error {
	if message.MessageID == "" {
		message.MessageID = uuid.NewString()
	}
	return nil
}

// WebhookEvent mirrors the webhook_events table.
type WebhookEvent struct {
	EventID    string         `gorm:"primaryKey"`
	OrderID    string         `gorm:"not null;index"`
	Type       string         `gorm:"not null"`
	Payload    datatypes.JSON `gorm:"not null"`
	ReceivedAt time.Time      `gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&User{}, &Package{}, &Payment{}, &Conversation{}, &Message{}, &WebhookEvent{}}
}
