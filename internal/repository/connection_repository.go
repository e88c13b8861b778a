package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/crasbi/crasbi-api/internal/models"
	"github.com/crasbi/crasbi-api/internal/utils"
)

// ConnectionFilter narrows List results.
type ConnectionFilter struct {
	ListOptions
	DBType   *models.DBType
	IsActive *bool
}

type ConnectionRepository interface {
	List(ctx context.Context, filter ConnectionFilter) ([]*models.Connection, int, error)
	Get(ctx context.Context, id int64) (*models.Connection, error)
	Create(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	Update(ctx context.Context, conn *models.Connection) (*models.Connection, error)
	ToggleActive(ctx context.Context, id int64) (*models.Connection, error)
	Delete(ctx context.Context, id int64) error
}

type connectionRepository struct {
	db     *sql.DB
	cipher *utils.PasswordCipher
}

// NewConnectionRepository stores passwords encrypted with cipher.
func NewConnectionRepository(db *sql.DB, cipher *utils.PasswordCipher) ConnectionRepository {
	return &connectionRepository{db: db, cipher: cipher}
}

const connectionColumns = `id, source_name, db_type, host, port, database_name, username,
	password_encrypted, is_active, inserted_by, created_at, updated_at`

var connectionOrdering = map[string]string{
	"source_name": "source_name",
	"db_type":     "db_type",
	"host":        "host",
	"created_at":  "created_at",
	"is_active":   "is_active",
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row rowScanner) (*models.Connection, error) {
	conn := &models.Connection{}
	var dbType string
	err := row.Scan(
		&conn.ID, &conn.SourceName, &dbType, &conn.Host, &conn.Port, &conn.DatabaseName, &conn.Username,
		&conn.PasswordEncrypted, &conn.IsActive, &conn.InsertedBy, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	conn.DBType = models.DBType(dbType)
	return conn, nil
}

func (r *connectionRepository) List(ctx context.Context, filter ConnectionFilter) ([]*models.Connection, int, error) {
	w := &whereBuilder{}
	w.search(filter.Search, "source_name", "host", "username", "db_type")
	if filter.DBType != nil {
		w.add("db_type = ?", string(*filter.DBType))
	}
	if filter.IsActive != nil {
		w.add("is_active = ?", *filter.IsActive)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM etl.source_connections"+w.sql(), w.args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting connections: %w", err)
	}

	limit, offset := filter.page()
	query := fmt.Sprintf("SELECT %s FROM etl.source_connections%s ORDER BY %s LIMIT %d OFFSET %d",
		connectionColumns, w.sql(), orderBy(filter.Ordering, connectionOrdering, "id", "created_at DESC, id DESC"), limit, offset)

	rows, err := r.db.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing connections: %w", err)
	}
	defer rows.Close()

	connections := []*models.Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, 0, err
		}
		connections = append(connections, conn)
	}
	return connections, total, rows.Err()
}

func (r *connectionRepository) Get(ctx context.Context, id int64) (*models.Connection, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+connectionColumns+" FROM etl.source_connections WHERE id = $1", id)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

func (r *connectionRepository) Create(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	encrypted, err := r.cipher.EncryptPassword(conn.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypting password: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO etl.source_connections
			(source_name, db_type, host, port, database_name, username, password_encrypted, is_active, inserted_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+connectionColumns,
		conn.SourceName, string(conn.DBType), conn.Host, conn.Port, conn.DatabaseName, conn.Username,
		encrypted, conn.IsActive, conn.InsertedBy,
	)
	created, err := scanConnection(row)
	if err != nil {
		return nil, translate(err)
	}
	return created, nil
}

// Update writes every field of conn. The stored password is replaced only when
// conn.Password is non-empty.
func (r *connectionRepository) Update(ctx context.Context, conn *models.Connection) (*models.Connection, error) {
	var password interface{}
	if conn.Password != "" {
		encrypted, err := r.cipher.EncryptPassword(conn.Password)
		if err != nil {
			return nil, fmt.Errorf("encrypting password: %w", err)
		}
		password = encrypted
	}

	row := r.db.QueryRowContext(ctx, `
		UPDATE etl.source_connections
		SET source_name = $1, db_type = $2, host = $3, port = $4, database_name = $5, username = $6,
			password_encrypted = COALESCE($7::bytea, password_encrypted), is_active = $8, updated_at = NOW()
		WHERE id = $9
		RETURNING `+connectionColumns,
		conn.SourceName, string(conn.DBType), conn.Host, conn.Port, conn.DatabaseName, conn.Username,
		password, conn.IsActive, conn.ID,
	)
	updated, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, translate(err)
	}
	return updated, nil
}

func (r *connectionRepository) ToggleActive(ctx context.Context, id int64) (*models.Connection, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE etl.source_connections
		SET is_active = NOT is_active, updated_at = NOW()
		WHERE id = $1
		RETURNING `+connectionColumns, id)
	conn, err := scanConnection(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

// Delete refuses to remove a connection that jobs still reference. The row is
// locked first so no job can be attached between the check and the delete.
func (r *connectionRepository) Delete(ctx context.Context, id int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var locked int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM etl.source_connections WHERE id = $1 FOR UPDATE", id).Scan(&locked)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	var dependents int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM etl.jobs WHERE source_id = $1", id).Scan(&dependents); err != nil {
		return fmt.Errorf("counting dependent jobs: %w", err)
	}
	if dependents > 0 {
		return &DependentJobsError{ConnectionID: id, Count: dependents}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM etl.source_connections WHERE id = $1", id); err != nil {
		return translate(err)
	}
	return tx.Commit()
}
