// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"

	"github.com/MadsRC/tenantmeter"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const organizationColumns = `id, name, display_name, is_system, tier, created_at`

func scanOrganization(row pgx.Row) (*tenantmeter.Organization, error) {
	var (
		org  tenantmeter.Organization
		tier string
	)
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.DisplayName,
		&org.IsSystem,
		&tier,
		&org.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	org.Tier = tenantmeter.SubscriptionTier(tier)
	return &org, nil
}

// Create adds a new organization to the database
func (r *OrganizationRepository) Create(ctx context.Context, org *tenantmeter.Organization) error {
	query := `
		INSERT INTO organizations (
			id, name, display_name, is_system, tier, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.options.Db.Exec(ctx, query,
		org.ID,
		org.Name,
		org.DisplayName,
		org.IsSystem,
		string(org.Tier),
		org.CreatedAt,
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenantmeter.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to create organization", "error", err)
		return err
	}
	return nil
}

// Get retrieves an organization by ID
func (r *OrganizationRepository) Get(ctx context.Context, id string) (*tenantmeter.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE id = $1`

	org, err := scanOrganization(r.options.Db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenantmeter.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get organization", "error", err, "id", id)
		return nil, err
	}
	return org, nil
}

// GetByName retrieves an organization by its unique name
func (r *OrganizationRepository) GetByName(ctx context.Context, name string) (*tenantmeter.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations WHERE name = $1`

	org, err := scanOrganization(r.options.Db.QueryRow(ctx, query, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tenantmeter.ErrNotFound
	}
	if err != nil {
		r.options.Logger.Error("Failed to get organization by name", "error", err, "name", name)
		return nil, err
	}
	return org, nil
}

// List retrieves all organizations
func (r *OrganizationRepository) List(ctx context.Context) ([]*tenantmeter.Organization, error) {
	query := `SELECT ` + organizationColumns + ` FROM organizations ORDER BY name`

	rows, err := r.options.Db.Query(ctx, query)
	if err != nil {
		r.options.Logger.Error("Failed to list organizations", "error", err)
		return nil, err
	}
	defer rows.Close()

	var orgs []*tenantmeter.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			r.options.Logger.Error("Failed to scan organization row", "error", err)
			return nil, err
		}
		orgs = append(orgs, org)
	}

	if err := rows.Err(); err != nil {
		r.options.Logger.Error("Error iterating organization rows", "error", err)
		return nil, err
	}

	return orgs, nil
}

// Update modifies an existing organization
func (r *OrganizationRepository) Update(ctx context.Context, org *tenantmeter.Organization) error {
	query := `
		UPDATE organizations SET
			name = $2,
			display_name = $3,
			is_system = $4,
			tier = $5
		WHERE id = $1`

	result, err := r.options.Db.Exec(ctx, query,
		org.ID,
		org.Name,
		org.DisplayName,
		org.IsSystem,
		string(org.Tier),
	)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return tenantmeter.ErrDuplicateEntry
		}
		r.options.Logger.Error("Failed to update organization", "error", err, "id", org.ID)
		return err
	}

	if result.RowsAffected() == 0 {
		return tenantmeter.ErrNotFound
	}

	return nil
}

// Delete removes an organization by ID. Its usage buckets are kept.
func (r *OrganizationRepository) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM organizations WHERE id = $1`

	result, err := r.options.Db.Exec(ctx, query, id)
	if err != nil {
		r.options.Logger.Error("Failed to delete organization", "error", err, "id", id)
		return err
	}

	if result.RowsAffected() == 0 {
		return tenantmeter.ErrNotFound
	}

	return nil
}
