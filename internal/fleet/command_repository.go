package fleet

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basharjaffan/radio-revive-stream/internal/infrastructure/database"
)

// CommandRepository persists command records.
type CommandRepository interface {
	// Create inserts cmd as pending. Returns ErrCommandExists if the ID is
	// already used within the organization.
	Create(ctx context.Context, cmd *Command) error

	// Get returns ErrCommandNotFound if the command does not exist.
	Get(ctx context.Context, orgID, commandID string) (*Command, error)

	// List returns the commands of an organization, newest first.
	List(ctx context.Context, orgID string) ([]Command, error)

	// ListPending returns pending commands across all organizations,
	// oldest first.
	ListPending(ctx context.Context) ([]Command, error)

	// MarkSent moves a pending command to sent.
	MarkSent(ctx context.Context, orgID, commandID string, at time.Time) error

	// MarkFailed moves a pending command to failed with an error message.
	MarkFailed(ctx context.Context, orgID, commandID, message string) error
}

// SQLiteCommandRepository implements CommandRepository using SQLite.
type SQLiteCommandRepository struct {
	db  *database.DB
	now func() time.Time
}

// NewSQLiteCommandRepository creates a new SQLite-backed command repository.
func NewSQLiteCommandRepository(db *database.DB) *SQLiteCommandRepository {
	return &SQLiteCommandRepository{db: db, now: time.Now}
}

const commandColumns = `organization_id, id, device_id, name, params, status,
	error, sent_at, created_at, updated_at`

// Create inserts a new pending command. Status, Error and SentAt on cmd are
// reset and the timestamps are filled in.
func (r *SQLiteCommandRepository) Create(ctx context.Context, cmd *Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	paramsJSON, err := nullableJSON(cmd.Params)
	if err != nil {
		return fmt.Errorf("marshalling params: %w", err)
	}

	now := r.now().UTC()
	cmd.Status = CommandPending
	cmd.Error = nil
	cmd.SentAt = nil
	if cmd.CreatedAt.IsZero() {
		cmd.CreatedAt = now
	}
	cmd.UpdatedAt = now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO commands (`+commandColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, NULL, NULL, ?, ?)`,
		cmd.OrganizationID,
		cmd.ID,
		cmd.DeviceID,
		cmd.Name,
		paramsJSON,
		string(cmd.Status),
		formatTime(cmd.CreatedAt),
		formatTime(cmd.UpdatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return ErrCommandExists
		}
		return fmt.Errorf("inserting command: %w", err)
	}

	return nil
}

// Get retrieves a command by organization and ID.
func (r *SQLiteCommandRepository) Get(ctx context.Context, orgID, commandID string) (*Command, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands
		WHERE organization_id = ? AND id = ?`,
		orgID, commandID,
	)
	cmd, err := scanCommandRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("querying command: %w", err)
	}
	return cmd, nil
}

// List retrieves the commands of one organization.
func (r *SQLiteCommandRepository) List(ctx context.Context, orgID string) ([]Command, error) {
	return r.queryCommands(ctx,
		`SELECT `+commandColumns+` FROM commands
		WHERE organization_id = ?
		ORDER BY created_at DESC, id`,
		orgID,
	)
}

// ListPending is the collection-group query behind the pending feed.
func (r *SQLiteCommandRepository) ListPending(ctx context.Context) ([]Command, error) {
	return r.queryCommands(ctx,
		`SELECT `+commandColumns+` FROM commands
		WHERE status = ?
		ORDER BY created_at, organization_id, id`,
		string(CommandPending),
	)
}

// MarkSent records a successful publish.
func (r *SQLiteCommandRepository) MarkSent(ctx context.Context, orgID, commandID string, at time.Time) error {
	return r.transition(ctx, orgID, commandID,
		`UPDATE commands SET status = ?, sent_at = ?, updated_at = ?
		WHERE organization_id = ? AND id = ? AND status = ?`,
		string(CommandSent),
		formatTime(at),
		formatTime(r.now()),
		orgID, commandID, string(CommandPending),
	)
}

// MarkFailed records a failed delivery.
func (r *SQLiteCommandRepository) MarkFailed(ctx context.Context, orgID, commandID, message string) error {
	return r.transition(ctx, orgID, commandID,
		`UPDATE commands SET status = ?, error = ?, updated_at = ?
		WHERE organization_id = ? AND id = ? AND status = ?`,
		string(CommandFailed),
		message,
		formatTime(r.now()),
		orgID, commandID, string(CommandPending),
	)
}

// transition runs a guarded UPDATE and tells a missing command apart from
// one that already left pending.
func (r *SQLiteCommandRepository) transition(ctx context.Context, orgID, commandID, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating command status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}

	if _, err := r.Get(ctx, orgID, commandID); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (r *SQLiteCommandRepository) queryCommands(ctx context.Context, query string, args ...any) ([]Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying commands: %w", err)
	}
	defer rows.Close()

	commands := make([]Command, 0)
	for rows.Next() {
		cmd, err := scanCommandRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning command: %w", err)
		}
		commands = append(commands, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating commands: %w", err)
	}
	return commands, nil
}

func scanCommandRow(scanner rowScanner) (*Command, error) {
	var c Command
	var params, errMsg, sentAt sql.NullString
	var status, createdAt, updatedAt string

	err := scanner.Scan(
		&c.OrganizationID,
		&c.ID,
		&c.DeviceID,
		&c.Name,
		&params,
		&status,
		&errMsg,
		&sentAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	c.Status = CommandStatus(status)
	if errMsg.Valid {
		c.Error = &errMsg.String
	}
	if sentAt.Valid {
		t, err := parseTime("sent_at", sentAt.String)
		if err != nil {
			return nil, err
		}
		c.SentAt = &t
	}
	if params.Valid {
		if err := json.Unmarshal([]byte(params.String), &c.Params); err != nil {
			return nil, fmt.Errorf("unmarshalling params: %w", err)
		}
	}

	if c.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return nil, err
	}

	return &c, nil
}
