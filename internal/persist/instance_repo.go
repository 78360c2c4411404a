package persist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateInstance is returned by Insert when (type, group, name) is
// already registered.
var ErrDuplicateInstance = errors.New("instance already registered")

const uniqueViolation = "23505"

// InstanceRow represents a row from the instances table.
type InstanceRow struct {
	Type         string
	Group        string
	Name         string
	Address      string
	RegisteredAt time.Time
	HeartbeatAt  time.Time
}

// InstanceRepo stores service registrations for discovery.
type InstanceRepo struct {
	db *DB
}

func NewInstanceRepo(db *DB) *InstanceRepo {
	return &InstanceRepo{db: db}
}

func (r *InstanceRepo) Insert(ctx context.Context, row InstanceRow) error {
	_, err := r.db.Pool.Exec(ctx,
		`INSERT INTO instances (service_type, service_group, name, address)
		 VALUES ($1, $2, $3, $4)`,
		row.Type, row.Group, row.Name, row.Address,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%s/%s/%s: %w", row.Type, row.Group, row.Name, ErrDuplicateInstance)
	}
	return err
}

// Delete removes a registration. Reports whether a row existed.
func (r *InstanceRepo) Delete(ctx context.Context, typ, group, name string) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx,
		`DELETE FROM instances WHERE service_type = $1 AND service_group = $2 AND name = $3`,
		typ, group, name,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Get returns one registration, or nil if there is none.
func (r *InstanceRepo) Get(ctx context.Context, typ, group, name string) (*InstanceRow, error) {
	row := &InstanceRow{}
	err := r.db.Pool.QueryRow(ctx,
		`SELECT service_type, service_group, name, address, registered_at, heartbeat_at
		 FROM instances WHERE service_type = $1 AND service_group = $2 AND name = $3`,
		typ, group, name,
	).Scan(&row.Type, &row.Group, &row.Name, &row.Address, &row.RegisteredAt, &row.HeartbeatAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// List returns every registration of a type, optionally limited to a group
// (empty group matches all), ordered by registration time.
func (r *InstanceRepo) List(ctx context.Context, typ, group string) ([]InstanceRow, error) {
	rows, err := r.db.Pool.Query(ctx,
		`SELECT service_type, service_group, name, address, registered_at, heartbeat_at
		 FROM instances
		 WHERE service_type = $1 AND ($2 = '' OR service_group = $2)
		 ORDER BY registered_at, name`,
		typ, group,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstanceRow
	for rows.Next() {
		var row InstanceRow
		if err := rows.Scan(&row.Type, &row.Group, &row.Name, &row.Address, &row.RegisteredAt, &row.HeartbeatAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Heartbeat refreshes heartbeat_at of a registration.
func (r *InstanceRepo) Heartbeat(ctx context.Context, typ, group, name string) error {
	_, err := r.db.Pool.Exec(ctx,
		`UPDATE instances SET heartbeat_at = now()
		 WHERE service_type = $1 AND service_group = $2 AND name = $3`,
		typ, group, name,
	)
	return err
}

// DeleteExpired removes registrations whose heartbeat is older than cutoff
// and returns how many were removed.
func (r *InstanceRepo) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM instances WHERE heartbeat_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
