package minutes

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Responder produces the assistant reply for a conversation. history ends
// with the user message being answered.
type Responder interface {
	Reply(ctx context.Context, history []Message) (string, error)
}

// SessionsConfig holds the metering policy applied to exchanges.
type SessionsConfig struct {
	MinutesPerExchange Minutes
}

// ExchangeResult is the outcome of one user turn.
type ExchangeResult struct {
	UserMessage  Message
	ReplyMessage Message
	Balance      Minutes
}

// Sessions opens, meters, and closes conversations.
type Sessions struct {
	store     Store
	responder Responder
	nowFn     func() time.Time
	quantum   Minutes
	options   serviceOptions
}

// NewSessions wires a Sessions manager.
func NewSessions(store Store, responder Responder, now func() time.Time, config SessionsConfig, options ...ServiceOption) (*Sessions, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if responder == nil {
		return nil, fmt.Errorf("%w: responder dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	quantum := config.MinutesPerExchange
	if quantum == 0 {
		quantum = DefaultMinutesPerExchange
	}
	if _, err := NewPositiveMinutes(quantum.Float64()); err != nil {
		return nil, fmt.Errorf("%w: minutes per exchange: %v", ErrInvalidServiceConfig, err)
	}
	return &Sessions{
		store:     store,
		responder: responder,
		nowFn:     now,
		quantum:   quantum,
		options:   collectOptions(options),
	}, nil
}

// Start opens an active conversation for a user with a positive balance.
func (sessions *Sessions) Start(ctx context.Context, userID UserID) (Conversation, error) {
	var (
		conversation Conversation
		balance      Minutes
	)
	operationError := sessions.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		current, err := requireBalance(ctx, transactionStore, userID)
		balance = current
		if err != nil {
			return err
		}
		conversationID, err := NewConversationID(uuid.NewString())
		if err != nil {
			return err
		}
		conversation = Conversation{
			ConversationID: conversationID,
			UserID:         userID,
			StartedAt:      sessions.nowFn().UTC(),
			Status:         ConversationStatusActive,
		}
		return transactionStore.CreateConversation(ctx, conversation)
	})
	if operationError != nil {
		conversation = Conversation{}
	}
	sessions.options.logOperation(ctx, OperationLog{
		Operation:      operationStart,
		UserID:         userID,
		ConversationID: conversation.ConversationID,
		Balance:        balance,
		Error:          operationError,
	})
	return conversation, operationError
}

// End finalizes a conversation. A nil duration is measured from StartedAt.
// Ending a completed conversation returns it unchanged.
func (sessions *Sessions) End(ctx context.Context, conversationID ConversationID, userID UserID, duration *Minutes) (Conversation, error) {
	conversation, finalized, operationError := sessions.end(ctx, conversationID, userID, duration)
	entry := OperationLog{
		Operation:      operationEnd,
		UserID:         userID,
		ConversationID: conversationID,
		Error:          operationError,
	}
	if conversation.DurationMinutes != nil {
		entry.Minutes = *conversation.DurationMinutes
	}
	if operationError == nil && !finalized {
		entry.Status = operationStatusNoop
	}
	sessions.options.logOperation(ctx, entry)
	return conversation, operationError
}

func (sessions *Sessions) end(ctx context.Context, conversationID ConversationID, userID UserID, duration *Minutes) (Conversation, bool, error) {
	if duration != nil {
		value := duration.Float64()
		if math.IsNaN(value) || math.IsInf(value, 0) || value < 0 {
			return Conversation{}, false, fmt.Errorf("%w: must be a finite non-negative value", ErrInvalidDuration)
		}
	}
	var (
		result    Conversation
		finalized bool
	)
	err := sessions.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		conversation, err := ownedConversation(ctx, transactionStore, conversationID, userID)
		if err != nil {
			return err
		}
		if conversation.Status == ConversationStatusCompleted {
			result = conversation
			return nil
		}
		endedAt := sessions.nowFn().UTC()
		finalDuration := elapsedMinutes(conversation.StartedAt, endedAt)
		if duration != nil {
			finalDuration = *duration
		}
		finalizeErr := transactionStore.FinalizeConversation(ctx, conversationID, endedAt, finalDuration)
		if errors.Is(finalizeErr, ErrConversationClosed) {
			current, readErr := transactionStore.GetConversation(ctx, conversationID)
			result = current
			return readErr
		}
		if finalizeErr != nil {
			return finalizeErr
		}
		conversation.EndedAt = &endedAt
		conversation.DurationMinutes = &finalDuration
		conversation.Status = ConversationStatusCompleted
		result = conversation
		finalized = true
		return nil
	})
	if err != nil {
		return Conversation{}, false, err
	}
	return result, finalized, nil
}

// Exchange asks the responder for a reply to content, then stores the user
// message and the reply and debits one quantum in a single transaction. The
// balance gate runs before the responder is called. A conversation ended while
// the responder was working stores nothing but is still debited, and the call
// returns ErrConversationClosed.
func (sessions *Sessions) Exchange(ctx context.Context, conversationID ConversationID, userID UserID, content string) (ExchangeResult, error) {
	result, operationError := sessions.exchange(ctx, conversationID, userID, content)
	sessions.options.logOperation(ctx, OperationLog{
		Operation:      operationExchange,
		UserID:         userID,
		ConversationID: conversationID,
		Minutes:        sessions.quantum,
		Balance:        result.Balance,
		Error:          operationError,
	})
	return result, operationError
}

func (sessions *Sessions) exchange(ctx context.Context, conversationID ConversationID, userID UserID, content string) (ExchangeResult, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return ExchangeResult{}, fmt.Errorf("%w: empty value", ErrInvalidMessageContent)
	}
	if utf8.RuneCountInString(trimmed) > maxMessageContentSize {
		return ExchangeResult{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidMessageContent, maxMessageContentSize)
	}

	var (
		result  ExchangeResult
		history []Message
	)
	err := sessions.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := requireActiveConversation(ctx, transactionStore, conversationID, userID); err != nil {
			return err
		}
		if _, err := requireBalance(ctx, transactionStore, userID); err != nil {
			return err
		}
		stored, err := transactionStore.ListMessages(ctx, conversationID)
		history = stored
		return err
	})
	if err != nil {
		return ExchangeResult{}, err
	}

	result.UserMessage = Message{
		MessageID:      uuid.NewString(),
		ConversationID: conversationID,
		Content:        trimmed,
		FromUser:       true,
		CreatedAt:      sessions.nowFn().UTC(),
	}
	reply, err := sessions.responder.Reply(ctx, append(history, result.UserMessage))
	if err != nil {
		return ExchangeResult{}, err
	}

	closed := false
	err = sessions.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		activeErr := requireActiveConversation(ctx, transactionStore, conversationID, userID)
		switch {
		case errors.Is(activeErr, ErrConversationClosed):
			closed = true
		case activeErr != nil:
			return activeErr
		default:
			result.ReplyMessage = Message{
				MessageID:      uuid.NewString(),
				ConversationID: conversationID,
				Content:        reply,
				FromUser:       false,
				CreatedAt:      sessions.nowFn().UTC(),
			}
			if err := transactionStore.InsertMessage(ctx, result.UserMessage); err != nil {
				return err
			}
			if err := transactionStore.InsertMessage(ctx, result.ReplyMessage); err != nil {
				return err
			}
		}
		balance, err := debitMinutes(ctx, transactionStore, userID, sessions.quantum)
		result.Balance = balance
		return err
	})
	if err != nil {
		return ExchangeResult{}, err
	}
	if closed {
		return ExchangeResult{Balance: result.Balance}, ErrConversationClosed
	}
	return result, nil
}

// ListConversations returns the user's most recent conversations.
func (sessions *Sessions) ListConversations(ctx context.Context, userID UserID, limit int) ([]Conversation, error) {
	return sessions.store.ListConversations(ctx, userID, limit)
}

// ListMessages returns a conversation's messages in order, for its owner only.
func (sessions *Sessions) ListMessages(ctx context.Context, conversationID ConversationID, userID UserID) ([]Message, error) {
	if _, err := ownedConversation(ctx, sessions.store, conversationID, userID); err != nil {
		return nil, err
	}
	return sessions.store.ListMessages(ctx, conversationID)
}

// ownedConversation hides conversations of other users behind ErrUnknownConversation.
func ownedConversation(ctx context.Context, store Store, conversationID ConversationID, userID UserID) (Conversation, error) {
	conversation, err := store.GetConversation(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	if conversation.UserID != userID {
		return Conversation{}, ErrUnknownConversation
	}
	return conversation, nil
}

func requireActiveConversation(ctx context.Context, store Store, conversationID ConversationID, userID UserID) error {
	conversation, err := ownedConversation(ctx, store, conversationID, userID)
	if err != nil {
		return err
	}
	if conversation.Status != ConversationStatusActive {
		return ErrConversationClosed
	}
	return nil
}

func elapsedMinutes(startedAt time.Time, endedAt time.Time) Minutes {
	elapsed := endedAt.Sub(startedAt).Seconds() / secondsPerMinute
	if elapsed < 0 {
		return 0
	}
	return Minutes(math.Round(elapsed*100) / 100)
}
