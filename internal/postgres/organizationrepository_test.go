// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/MadsRC/tenantmeter"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var organizationRowColumns = []string{
	"id", "name", "display_name", "is_system", "tier", "created_at",
}

func newTestOrganizationRepository(mock pgxmock.PgxPoolIface) *OrganizationRepository {
	return &OrganizationRepository{
		options: &organizationRepositoryOptions{
			Db:     mock,
			Logger: slog.Default(),
		},
	}
}

func TestOrganizationRepository_Create(t *testing.T) {
	org := &tenantmeter.Organization{
		ID:          "org-123",
		Name:        "acme",
		DisplayName: "Acme Corp",
		Tier:        tenantmeter.TierBasic,
		CreatedAt:   time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`
		INSERT INTO organizations \(
			id, name, display_name, is_system, tier, created_at
		\)
		VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\)`).WithArgs(
			org.ID,
			org.Name,
			org.DisplayName,
			org.IsSystem,
			"basic",
			org.CreatedAt,
		).WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err = newTestOrganizationRepository(mock).Create(context.Background(), org)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate entry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO organizations`).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = newTestOrganizationRepository(mock).Create(context.Background(), org)
		assert.ErrorIs(t, err, tenantmeter.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`INSERT INTO organizations`).
			WillReturnError(errors.New("database error"))

		err = newTestOrganizationRepository(mock).Create(context.Background(), org)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, tenantmeter.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrganizationRepository_Get(t *testing.T) {
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(organizationRowColumns).
			AddRow("org-123", "acme", "Acme Corp", false, "professional", created)
		mock.ExpectQuery(`SELECT id, name, display_name, is_system, tier, created_at FROM organizations WHERE id = \$1`).
			WithArgs("org-123").
			WillReturnRows(rows)

		org, err := newTestOrganizationRepository(mock).Get(context.Background(), "org-123")
		require.NoError(t, err)
		assert.Equal(t, "acme", org.Name)
		assert.Equal(t, "Acme Corp", org.DisplayName)
		assert.Equal(t, tenantmeter.TierProfessional, org.Tier)
		assert.Equal(t, created, org.CreatedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM organizations`).
			WithArgs("missing-id").
			WillReturnError(pgx.ErrNoRows)

		_, err = newTestOrganizationRepository(mock).Get(context.Background(), "missing-id")
		assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM organizations`).
			WithArgs("org-123").
			WillReturnError(errors.New("database error"))

		_, err = newTestOrganizationRepository(mock).Get(context.Background(), "org-123")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "database error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrganizationRepository_GetByName(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(organizationRowColumns).
			AddRow("org-123", "acme", "Acme Corp", false, "free", time.Now())
		mock.ExpectQuery(`SELECT .* FROM organizations WHERE name = \$1`).
			WithArgs("acme").
			WillReturnRows(rows)

		org, err := newTestOrganizationRepository(mock).GetByName(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, "org-123", org.ID)
		assert.Equal(t, tenantmeter.TierFree, org.Tier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM organizations`).
			WithArgs("missing").
			WillReturnError(pgx.ErrNoRows)

		_, err = newTestOrganizationRepository(mock).GetByName(context.Background(), "missing")
		assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrganizationRepository_List(t *testing.T) {
	t.Run("success with multiple organizations", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		now := time.Now()
		rows := pgxmock.NewRows(organizationRowColumns).
			AddRow("org-1", "acme", "Acme", false, "basic", now).
			AddRow("org-2", "system", "System", true, "enterprise", now)
		mock.ExpectQuery(`SELECT .* FROM organizations ORDER BY name`).
			WillReturnRows(rows)

		orgs, err := newTestOrganizationRepository(mock).List(context.Background())
		require.NoError(t, err)
		require.Len(t, orgs, 2)
		assert.Equal(t, tenantmeter.TierBasic, orgs[0].Tier)
		assert.True(t, orgs[1].IsSystemTenant())
		assert.Equal(t, tenantmeter.TierEnterprise, orgs[1].Tier)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("success with empty list", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM organizations`).
			WillReturnRows(pgxmock.NewRows(organizationRowColumns))

		orgs, err := newTestOrganizationRepository(mock).List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, orgs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectQuery(`SELECT .* FROM organizations`).
			WillReturnError(errors.New("database error"))

		_, err = newTestOrganizationRepository(mock).List(context.Background())
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("row scan error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		rows := pgxmock.NewRows(organizationRowColumns).
			AddRow("org-1", "acme", "Acme", false, "basic", time.Now()).
			RowError(0, errors.New("scan error"))
		mock.ExpectQuery(`SELECT .* FROM organizations`).
			WillReturnRows(rows)

		_, err = newTestOrganizationRepository(mock).List(context.Background())
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrganizationRepository_Update(t *testing.T) {
	org := &tenantmeter.Organization{
		ID:          "org-123",
		Name:        "acme",
		DisplayName: "Acme Corp",
		Tier:        tenantmeter.TierProfessional,
	}

	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE organizations SET`).
			WithArgs(org.ID, org.Name, org.DisplayName, org.IsSystem, "professional").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		err = newTestOrganizationRepository(mock).Update(context.Background(), org)
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE organizations SET`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err = newTestOrganizationRepository(mock).Update(context.Background(), org)
		assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate entry", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`UPDATE organizations SET`).
			WillReturnError(&pgconn.PgError{Code: "23505"})

		err = newTestOrganizationRepository(mock).Update(context.Background(), org)
		assert.ErrorIs(t, err, tenantmeter.ErrDuplicateEntry)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrganizationRepository_Delete(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM organizations WHERE id = \$1`).
			WithArgs("org-123").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		err = newTestOrganizationRepository(mock).Delete(context.Background(), "org-123")
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM organizations`).
			WithArgs("missing").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		err = newTestOrganizationRepository(mock).Delete(context.Background(), "missing")
		assert.ErrorIs(t, err, tenantmeter.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		mock.ExpectExec(`DELETE FROM organizations`).
			WithArgs("org-123").
			WillReturnError(errors.New("database error"))

		err = newTestOrganizationRepository(mock).Delete(context.Background(), "org-123")
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
