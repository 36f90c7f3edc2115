package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	constraintPaymentOrderID = "payments_order_id_key"
	constraintWebhookEventPK = "webhook_events_pkey"
	constraintPackagePK      = "packages_pkey"
	constraintConversationPK = "conversations_pkey"
	pgUniqueViolationCode    = "23505"
	errorOperationStore      = "store"
	errorSubjectUser         = "user"
	errorSubjectPackage      = "package"
	errorSubjectPayment      = "payment"
	errorSubjectConversation = "conversation"
	errorSubjectMessage      = "message"
	errorSubjectWebhookEvent = "webhook_event"
	errorSubjectTransaction  = "transaction"
	errorSubjectSchema       = "schema"
	errorCodeAdjust          = "adjust"
	errorCodeBegin           = "begin"
	errorCodeCommit          = "commit"
	errorCodeCount           = "count"
	errorCodeCreate          = "create"
	errorCodeDuplicate       = "duplicate"
	errorCodeFinalize        = "finalize"
	errorCodeGet             = "get"
	errorCodeInsert          = "insert"
	errorCodeInvalid         = "invalid"
	errorCodeList            = "list"
	errorCodeLookup          = "lookup"
	errorCodeMigrate         = "migrate"
	errorCodeUpdateStatus    = "update_status"

	// Schema matches the tables gormstore migrates, so either backend can
	// serve the same database.
	Schema = `
		create table if not exists users (
			user_id text primary key,
			remaining_minutes double precision not null default 0,
			created_at timestamptz not null
		);
		create table if not exists packages (
			package_id bigint primary key,
			name text not null,
			description text not null default '',
			price numeric(12,2) not null,
			currency text not null,
			minutes double precision not null,
			popular boolean not null default false
		);
		create table if not exists payments (
			payment_id uuid primary key,
			order_id text not null,
			user_id text not null,
			package_id bigint not null,
			amount numeric(12,2) not null,
			currency text not null,
			minutes double precision not null,
			external_payment_id text,
			status text not null,
			simulated boolean not null default false,
			created_at timestamptz not null,
			updated_at timestamptz not null,
			constraint payments_order_id_key unique (order_id)
		);
		create index if not exists idx_payments_user_created on payments (user_id, created_at);
		create index if not exists idx_payments_status_created on payments (status, created_at);
		create table if not exists conversations (
			conversation_id text primary key,
			user_id text not null,
			started_at timestamptz not null,
			ended_at timestamptz,
			duration_minutes double precision,
			status text not null
		);
		create index if not exists idx_conversations_user_started on conversations (user_id, started_at);
		create table if not exists messages (
			message_id uuid primary key,
			conversation_id text not null,
			content text not null,
			from_user boolean not null,
			created_at timestamptz not null,
			sequence bigint not null default 0
		);
		create index if not exists idx_messages_conversation_created on messages (conversation_id, created_at, sequence);
		create table if not exists webhook_events (
			event_id text primary key,
			order_id text not null,
			type text not null,
			payload jsonb not null,
			received_at timestamptz not null
		);
	`

	sqlInsertUser = `
		insert into users(user_id, remaining_minutes, created_at) values($1, 0, $2)
		on conflict (user_id) do nothing
	`

	sqlSelectUser = `
		select user_id, remaining_minutes, created_at from users where user_id = $1
	`

	sqlAdjustMinutes = `
		update users
		set remaining_minutes = greatest(0, remaining_minutes + $2)
		where user_id = $1
		returning remaining_minutes
	`

	sqlCountPackages = `select count(*) from packages`

	sqlInsertPackage = `
		insert into packages(package_id, name, description, price, currency, minutes, popular)
		values ($1, $2, $3, $4::numeric, $5, $6, $7)
	`

	sqlSelectPackages = `
		select package_id, name, description, price::text, currency, minutes, popular
		from packages
	`

	sqlInsertPayment = `
		insert into payments(
			payment_id, order_id, user_id, package_id, amount, currency, minutes,
			external_payment_id, status, simulated, created_at, updated_at
		)
		values ($1, $2, $3, $4, $5::numeric, $6, $7, nullif($8, ''), $9, $10, $11, $12)
	`

	sqlSelectPayments = `
		select
			payment_id::text, order_id, user_id, package_id, amount::text, currency, minutes,
			coalesce(external_payment_id, ''), status, simulated, created_at, updated_at
		from payments
	`

	sqlTransitionPayment = `
		update payments
		set status = $3, external_payment_id = coalesce(nullif($4, ''), external_payment_id), updated_at = $5
		where order_id = $1 and status = any($2)
	`

	sqlPaymentExists = `select exists(select 1 from payments where order_id = $1)`

	sqlInsertConversation = `
		insert into conversations(conversation_id, user_id, started_at, status)
		values ($1, $2, $3, $4)
	`

	sqlSelectConversations = `
		select conversation_id, user_id, started_at, ended_at, duration_minutes, status
		from conversations
	`

	sqlFinalizeConversation = `
		update conversations
		set ended_at = $2, duration_minutes = $3, status = $4
		where conversation_id = $1 and status = $5
	`

	sqlInsertMessage = `
		insert into messages(message_id, conversation_id, content, from_user, created_at, sequence)
		values (
			$1, $2, $3, $4, $5,
			(select count(*) + 1 from messages where conversation_id = $2)
		)
	`

	sqlSelectMessages = `
		select message_id::text, conversation_id, content, from_user, created_at
		from messages
		where conversation_id = $1
		order by created_at asc, sequence asc
	`

	sqlInsertWebhookEvent = `
		insert into webhook_events(event_id, order_id, type, payload, received_at)
		values ($1, $2, $3, coalesce(nullif($4, ''), '{}')::jsonb, $5)
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
}

// queries implements every minutes.Store method except WithTx.
type queries struct {
	db querier
}

// Store implements minutes.Store using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements minutes.Store for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Migrate creates the schema when it does not exist.
func (store *Store) Migrate(ctx context.Context) error {
	if _, err := store.pool.Exec(ctx, Schema); err != nil {
		return wrapStoreError(errorSubjectSchema, errorCodeMigrate, err)
	}
	return nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore minutes.Store) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore minutes.Store) error) error {
	return fn(ctx, store)
}

func (store queries) GetOrCreateUser(ctx context.Context, userID minutes.UserID, createdAt time.Time) (minutes.User, error) {
	if _, err := store.db.Exec(ctx, sqlInsertUser, userID.String(), createdAt.UTC()); err != nil {
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeLookup, err)
	}
	return store.GetUser(ctx, userID)
}

func (store queries) GetUser(ctx context.Context, userID minutes.UserID) (minutes.User, error) {
	var (
		userValue string
		remaining float64
		createdAt time.Time
	)
	err := store.db.QueryRow(ctx, sqlSelectUser, userID.String()).Scan(&userValue, &remaining, &createdAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, minutes.ErrUnknownUser)
		}
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeGet, err)
	}
	parsedUserID, err := minutes.NewUserID(userValue)
	if err != nil {
		return minutes.User{}, wrapStoreError(errorSubjectUser, errorCodeInvalid, err)
	}
	return minutes.User{UserID: parsedUserID, RemainingMinutes: minutes.Minutes(remaining), CreatedAt: createdAt.UTC()}, nil
}

func (store queries) AdjustMinutes(ctx context.Context, userID minutes.UserID, delta minutes.Minutes) (minutes.Minutes, error) {
	var remaining float64
	err := store.db.QueryRow(ctx, sqlAdjustMinutes, userID.String(), delta.Float64()).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, wrapStoreError(errorSubjectUser, errorCodeAdjust, minutes.ErrUnknownUser)
		}
		return 0, wrapStoreError(errorSubjectUser, errorCodeAdjust, err)
	}
	return minutes.Minutes(remaining), nil
}

func (store queries) CountPackages(ctx context.Context) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountPackages).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectPackage, errorCodeCount, err)
	}
	return count, nil
}

func (store queries) InsertPackage(ctx context.Context, item minutes.Package) error {
	_, err := store.db.Exec(ctx, sqlInsertPackage,
		item.ID.Int64(),
		item.Name,
		item.Description,
		item.Price.String(),
		item.Currency,
		item.Minutes.Float64(),
		item.Popular,
	)
	if isUniqueConflict(err, constraintPackagePK) {
		return wrapStoreError(errorSubjectPackage, errorCodeDuplicate, minutes.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPackage, errorCodeInsert, err)
	}
	return nil
}

func (store queries) ListPackages(ctx context.Context) ([]minutes.Package, error) {
	rows, err := store.db.Query(ctx, sqlSelectPackages+` order by package_id asc`)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeList, err)
	}
	defer rows.Close()
	packages, err := scanPackages(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
	}
	return packages, nil
}

func (store queries) GetPackage(ctx context.Context, packageID minutes.PackageID) (minutes.Package, error) {
	rows, err := store.db.Query(ctx, sqlSelectPackages+` where package_id = $1`, packageID.Int64())
	if err != nil {
		return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, err)
	}
	defer rows.Close()
	packages, err := scanPackages(rows)
	if err != nil {
		return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeInvalid, err)
	}
	if len(packages) == 0 {
		return minutes.Package{}, wrapStoreError(errorSubjectPackage, errorCodeGet, minutes.ErrUnknownPackage)
	}
	return packages[0], nil
}

func (store queries) CreatePayment(ctx context.Context, payment minutes.Payment) error {
	paymentID := payment.PaymentID
	if paymentID == "" {
		paymentID = uuid.NewString()
	}
	_, err := store.db.Exec(ctx, sqlInsertPayment,
		paymentID,
		payment.OrderID.String(),
		payment.UserID.String(),
		payment.PackageID.Int64(),
		payment.Amount.String(),
		payment.Currency,
		payment.Minutes.Float64(),
		payment.ExternalPaymentID,
		payment.Status.String(),
		payment.Simulated,
		payment.CreatedAt.UTC(),
		payment.UpdatedAt.UTC(),
	)
	if isUniqueConflict(err, constraintPaymentOrderID) {
		return wrapStoreError(errorSubjectPayment, errorCodeDuplicate, minutes.ErrDuplicateOrder)
	}
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetPaymentByOrderID(ctx context.Context, orderID minutes.OrderID) (minutes.Payment, error) {
	rows, err := store.db.Query(ctx, sqlSelectPayments+` where order_id = $1 for update`, orderID.String())
	if err != nil {
		return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, err)
	}
	defer rows.Close()
	payments, err := scanPayments(rows)
	if err != nil {
		return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	if len(payments) == 0 {
		return minutes.Payment{}, wrapStoreError(errorSubjectPayment, errorCodeGet, minutes.ErrUnknownOrder)
	}
	return payments[0], nil
}

func (store queries) TransitionPayment(ctx context.Context, transition minutes.PaymentTransition) error {
	fromStatuses := make([]string, 0, len(transition.From))
	for _, status := range transition.From {
		fromStatuses = append(fromStatuses, status.String())
	}
	tag, err := store.db.Exec(ctx, sqlTransitionPayment,
		transition.OrderID.String(),
		fromStatuses,
		transition.To.String(),
		transition.ExternalPaymentID,
		transition.UpdatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var exists bool
	if err := store.db.QueryRow(ctx, sqlPaymentExists, transition.OrderID.String()).Scan(&exists); err != nil {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, err)
	}
	if !exists {
		return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, minutes.ErrUnknownOrder)
	}
	return wrapStoreError(errorSubjectPayment, errorCodeUpdateStatus, minutes.ErrPaymentSettled)
}

func (store queries) ListPayments(ctx context.Context, userID minutes.UserID, limit int) ([]minutes.Payment, error) {
	rows, err := store.db.Query(ctx, sqlSelectPayments+` where user_id = $1 order by created_at desc limit $2`, userID.String(), limitOrNull(limit))
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	defer rows.Close()
	payments, err := scanPayments(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return payments, nil
}

func (store queries) ListPendingPayments(ctx context.Context, createdBefore time.Time, limit int) ([]minutes.Payment, error) {
	rows, err := store.db.Query(ctx,
		sqlSelectPayments+` where status = $1 and created_at < $2 order by created_at asc limit $3`,
		minutes.PaymentStatusPending.String(), createdBefore.UTC(), limitOrNull(limit),
	)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeList, err)
	}
	defer rows.Close()
	payments, err := scanPayments(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectPayment, errorCodeInvalid, err)
	}
	return payments, nil
}

func (store queries) CreateConversation(ctx context.Context, conversation minutes.Conversation) error {
	_, err := store.db.Exec(ctx, sqlInsertConversation,
		conversation.ConversationID.String(),
		conversation.UserID.String(),
		conversation.StartedAt.UTC(),
		conversation.Status.String(),
	)
	if isUniqueConflict(err, constraintConversationPK) {
		return wrapStoreError(errorSubjectConversation, errorCodeDuplicate, minutes.ErrConflict)
	}
	if err != nil {
		return wrapStoreError(errorSubjectConversation, errorCodeCreate, err)
	}
	return nil
}

func (store queries) GetConversation(ctx context.Context, conversationID minutes.ConversationID) (minutes.Conversation, error) {
	rows, err := store.db.Query(ctx, sqlSelectConversations+` where conversation_id = $1 for update`, conversationID.String())
	if err != nil {
		return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeGet, err)
	}
	defer rows.Close()
	conversations, err := scanConversations(rows)
	if err != nil {
		return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeInvalid, err)
	}
	if len(conversations) == 0 {
		return minutes.Conversation{}, wrapStoreError(errorSubjectConversation, errorCodeGet, minutes.ErrUnknownConversation)
	}
	return conversations[0], nil
}

func (store queries) FinalizeConversation(ctx context.Context, conversationID minutes.ConversationID, endedAt time.Time, duration minutes.Minutes) error {
	tag, err := store.db.Exec(ctx, sqlFinalizeConversation,
		conversationID.String(),
		endedAt.UTC(),
		duration.Float64(),
		minutes.ConversationStatusCompleted.String(),
		minutes.ConversationStatusActive.String(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectConversation, errorCodeFinalize, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := store.GetConversation(ctx, conversationID); err != nil {
		return err
	}
	return wrapStoreError(errorSubjectConversation, errorCodeFinalize, minutes.ErrConversationClosed)
}

func (store queries) ListConversations(ctx context.Context, userID minutes.UserID, limit int) ([]minutes.Conversation, error) {
	rows, err := store.db.Query(ctx, sqlSelectConversations+` where user_id = $1 order by started_at desc limit $2`, userID.String(), limitOrNull(limit))
	if err != nil {
		return nil, wrapStoreError(errorSubjectConversation, errorCodeList, err)
	}
	defer rows.Close()
	conversations, err := scanConversations(rows)
	if err != nil {
		return nil, wrapStoreError(errorSubjectConversation, errorCodeInvalid, err)
	}
	return conversations, nil
}

func (store queries) InsertMessage(ctx context.Context, message minutes.Message) error {
	messageID := message.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	_, err := store.db.Exec(ctx, sqlInsertMessage,
		messageID,
		message.ConversationID.String(),
		message.Content,
		message.FromUser,
		message.CreatedAt.UTC(),
	)
	if err != nil {
		return wrapStoreError(errorSubjectMessage, errorCodeInsert, err)
	}
	return nil
}

func (store queries) ListMessages(ctx context.Context, conversationID minutes.ConversationID) ([]minutes.Message, error) {
	rows, err := store.db.Query(ctx, sqlSelectMessages, conversationID.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	defer rows.Close()
	messages := make([]minutes.Message, 0, 16)
	for rows.Next() {
		var (
			messageID           string
			conversationIDValue string
			content             string
			fromUser            bool
			createdAt           time.Time
		)
		if err := rows.Scan(&messageID, &conversationIDValue, &content, &fromUser, &createdAt); err != nil {
			return nil, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
		}
		parsedConversationID, err := minutes.NewConversationID(conversationIDValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectMessage, errorCodeInvalid, err)
		}
		messages = append(messages, minutes.Message{
			MessageID:      messageID,
			ConversationID: parsedConversationID,
			Content:        content,
			FromUser:       fromUser,
			CreatedAt:      createdAt.UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectMessage, errorCodeList, err)
	}
	return messages, nil
}

func (store queries) RecordWebhookEvent(ctx context.Context, event minutes.WebhookEvent) error {
	_, err := store.db.Exec(ctx, sqlInsertWebhookEvent,
		event.EventID,
		event.OrderID.String(),
		event.Type,
		string(event.Payload),
		event.ReceivedAt.UTC(),
	)
	if isUniqueConflict(err, constraintWebhookEventPK) {
		return wrapStoreError(errorSubjectWebhookEvent, errorCodeDuplicate, minutes.ErrDuplicateWebhookEvent)
	}
	if err != nil {
		return wrapStoreError(errorSubjectWebhookEvent, errorCodeInsert, err)
	}
	return nil
}

func scanPackages(rows pgx.Rows) ([]minutes.Package, error) {
	packages := make([]minutes.Package, 0, 4)
	for rows.Next() {
		var (
			packageIDValue int64
			name           string
			description    string
			priceValue     string
			currency       string
			minutesValue   float64
			popular        bool
		)
		if err := rows.Scan(&packageIDValue, &name, &description, &priceValue, &currency, &minutesValue, &popular); err != nil {
			return nil, err
		}
		packageID, err := minutes.NewPackageID(packageIDValue)
		if err != nil {
			return nil, err
		}
		price, err := decimal.NewFromString(priceValue)
		if err != nil {
			return nil, err
		}
		packages = append(packages, minutes.Package{
			ID:          packageID,
			Name:        name,
			Description: description,
			Price:       price,
			Currency:    currency,
			Minutes:     minutes.Minutes(minutesValue),
			Popular:     popular,
		})
	}
	return packages, rows.Err()
}

func scanPayments(rows pgx.Rows) ([]minutes.Payment, error) {
	payments := make([]minutes.Payment, 0, 8)
	for rows.Next() {
		var (
			paymentID         string
			orderIDValue      string
			userIDValue       string
			packageIDValue    int64
			amountValue       string
			currency          string
			minutesValue      float64
			externalPaymentID string
			statusValue       string
			simulated         bool
			createdAt         time.Time
			updatedAt         time.Time
		)
		if err := rows.Scan(
			&paymentID,
			&orderIDValue,
			&userIDValue,
			&packageIDValue,
			&amountValue,
			&currency,
			&minutesValue,
			&externalPaymentID,
			&statusValue,
			&simulated,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		orderID, err := minutes.NewOrderID(orderIDValue)
		if err != nil {
			return nil, err
		}
		userID, err := minutes.NewUserID(userIDValue)
		if err != nil {
			return nil, err
		}
		packageID, err := minutes.NewPackageID(packageIDValue)
		if err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(amountValue)
		if err != nil {
			return nil, err
		}
		status, err := minutes.ParsePaymentStatus(statusValue)
		if err != nil {
			return nil, err
		}
		payments = append(payments, minutes.Payment{
			PaymentID:         paymentID,
			OrderID:           orderID,
			UserID:            userID,
			PackageID:         packageID,
			Amount:            amount,
			Currency:          currency,
			Minutes:           minutes.Minutes(minutesValue),
			ExternalPaymentID: externalPaymentID,
			Status:            status,
			Simulated:         simulated,
			CreatedAt:         createdAt.UTC(),
			UpdatedAt:         updatedAt.UTC(),
		})
	}
	return payments, rows.Err()
}

func scanConversations(rows pgx.Rows) ([]minutes.Conversation, error) {
	conversations := make([]minutes.Conversation, 0, 8)
	for rows.Next() {
		var (
			conversationIDValue string
			userIDValue         string
			startedAt           time.Time
			endedAt             *time.Time
			durationValue       *float64
			statusValue         string
		)
		if err := rows.Scan(&conversationIDValue, &userIDValue, &startedAt, &endedAt, &durationValue, &statusValue); err != nil {
			return nil, err
		}
		conversationID, err := minutes.NewConversationID(conversationIDValue)
		if err != nil {
			return nil, err
		}
		userID, err := minutes.NewUserID(userIDValue)
		if err != nil {
			return nil, err
		}
		status, err := minutes.ParseConversationStatus(statusValue)
		if err != nil {
			return nil, err
		}
		conversation := minutes.Conversation{
			ConversationID: conversationID,
			UserID:         userID,
			StartedAt:      startedAt.UTC(),
			Status:         status,
		}
		if endedAt != nil {
			value := endedAt.UTC()
			conversation.EndedAt = &value
		}
		if durationValue != nil {
			value := minutes.Minutes(*durationValue)
			conversation.DurationMinutes = &value
		}
		conversations = append(conversations, conversation)
	}
	return conversations, rows.Err()
}

func limitOrNull(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}

func wrapStoreError(subject string, code string, err error) error {
	return minutes.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueConflict(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	return false
}
