package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	apperrors "github.com/portfolio-valuator/internal/errors"
	"github.com/portfolio-valuator/internal/logging"
	"github.com/portfolio-valuator/internal/registry"
	"github.com/portfolio-valuator/internal/types"
)

// ProtocolRecord is a stored registry protocol
type ProtocolRecord struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	registry.Protocol
}

// ProtocolRepository stores protocols that extend the built-in registry
type ProtocolRepository struct {
	db *PostgresDB
}

// NewProtocolRepository creates a new protocol repository
func NewProtocolRepository(db *PostgresDB) *ProtocolRepository {
	return &ProtocolRepository{db: db}
}

const selectProtocols = `
	SELECT p.id, p.key, p.name, p.label, p.type, p.description, p.hide_constituents,
	       p.created_at, p.updated_at,
	       COALESCE(array_agg(a.address ORDER BY a.address) FILTER (WHERE a.address IS NOT NULL), '{}')
	FROM protocols p
	LEFT JOIN protocol_addresses a ON a.protocol_id = p.id
`

func scanProtocol(row pgx.Row) (*ProtocolRecord, error) {
	var (
		rec      ProtocolRecord
		kind     string
		addrList []string
	)
	err := row.Scan(
		&rec.ID, &rec.Key, &rec.Name, &rec.Label, &kind, &rec.Description, &rec.HideConstituents,
		&rec.CreatedAt, &rec.UpdatedAt, &addrList,
	)
	if err != nil {
		return nil, err
	}
	rec.Type = types.ProtocolType(kind)
	rec.Addresses = addrList
	return &rec, nil
}

// GetProtocol retrieves a protocol by key; nil when absent
func (r *ProtocolRepository) GetProtocol(ctx context.Context, key string) (*ProtocolRecord, error) {
	rec, err := scanProtocol(r.db.Pool().QueryRow(ctx, selectProtocols+`
		WHERE p.key = $1
		GROUP BY p.id
	`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get protocol", err)
	}
	return rec, nil
}

// ListProtocols retrieves every stored protocol ordered by name
func (r *ProtocolRepository) ListProtocols(ctx context.Context) ([]ProtocolRecord, error) {
	rows, err := r.db.Pool().Query(ctx, selectProtocols+`
		GROUP BY p.id
		ORDER BY p.name
	`)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list protocols", err)
	}
	defer rows.Close()

	var out []ProtocolRecord
	for rows.Next() {
		rec, err := scanProtocol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan protocol: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list protocols", err)
	}
	return out, nil
}

// UpsertProtocol inserts or replaces a protocol and its addresses by key
func (r *ProtocolRepository) UpsertProtocol(ctx context.Context, p registry.Protocol) (uuid.UUID, error) {
	if p.Key == "" || p.Name == "" {
		return uuid.Nil, apperrors.NewInvalidParameterError("protocol", "key and name are required")
	}
	addresses := make([]string, 0, len(p.Addresses))
	for _, addr := range p.Addresses {
		long, err := types.NormalizeAddress(addr)
		if err != nil {
			return uuid.Nil, apperrors.NewInvalidAddressError(addr)
		}
		addresses = append(addresses, long)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return uuid.Nil, apperrors.NewDatabaseError("begin", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO protocols (id, key, name, label, type, description, hide_constituents)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (key) DO UPDATE SET
			name = EXCLUDED.name,
			label = EXCLUDED.label,
			type = EXCLUDED.type,
			description = EXCLUDED.description,
			hide_constituents = EXCLUDED.hide_constituents,
			updated_at = NOW()
		RETURNING id
	`, uuid.New(), p.Key, p.Name, p.Label, string(p.Type), p.Description, p.HideConstituents).Scan(&id)
	if err != nil {
		return uuid.Nil, apperrors.NewDatabaseError("upsert protocol", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM protocol_addresses WHERE protocol_id = $1`, id); err != nil {
		return uuid.Nil, apperrors.NewDatabaseError("replace addresses", err)
	}
	for _, addr := range addresses {
		if _, err := tx.Exec(ctx, `
			INSERT INTO protocol_addresses (protocol_id, address) VALUES ($1, $2)
		`, id, addr); err != nil {
			return uuid.Nil, apperrors.NewDatabaseError("insert address", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, apperrors.NewDatabaseError("commit", err)
	}
	return id, nil
}

// DeleteProtocol removes a protocol by key and reports whether it existed
func (r *ProtocolRepository) DeleteProtocol(ctx context.Context, key string) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx, `DELETE FROM protocols WHERE key = $1`, key)
	if err != nil {
		return false, apperrors.NewDatabaseError("delete protocol", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ExtendRegistry returns base plus every stored protocol it does not
// already know
func (r *ProtocolRepository) ExtendRegistry(ctx context.Context, base *registry.Registry) (*registry.Registry, error) {
	records, err := r.ListProtocols(ctx)
	if err != nil {
		return nil, err
	}
	stored := make([]registry.Protocol, len(records))
	for i, rec := range records {
		stored[i] = rec.Protocol
	}

	extra, skipped := newProtocols(base, stored)
	for _, key := range skipped {
		logging.FromContext(ctx).WithField("protocol", key).
			Warn("stored protocol overlaps the built-in registry, ignoring")
	}
	if len(extra) == 0 {
		return base, nil
	}
	return base.WithProtocols(extra)
}

// newProtocols keeps the stored protocols whose key and addresses are all
// unknown to base, and lists the keys of the rest
func newProtocols(base *registry.Registry, stored []registry.Protocol) (extra []registry.Protocol, skipped []string) {
	known := make(map[string]bool)
	for _, p := range base.Protocols() {
		known[p.Key] = true
	}
	for _, p := range stored {
		overlap := known[p.Key]
		for _, addr := range p.Addresses {
			if _, ok := base.LookupAddress(addr); ok {
				overlap = true
				break
			}
		}
		if overlap {
			skipped = append(skipped, p.Key)
			continue
		}
		extra = append(extra, p)
	}
	return extra, skipped
}
