// SPDX-FileCopyrightText: 2025 Mads R. Havmand <mads@v42.dk>
//
// SPDX-License-Identifier: AGPL-3.0-only

package postgres

import (
	"io"
	"log/slog"
	"testing"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

func TestNewOrganizationRepository(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	discardLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := []struct {
		name       string
		options    []OrganizationRepositoryOption
		wantLogger *slog.Logger
		wantErr    bool
	}{
		{
			name:       "Create with default logger",
			options:    []OrganizationRepositoryOption{WithOrganizationRepositoryDb(mock)},
			wantLogger: slog.Default(),
		},
		{
			name: "Create with custom logger",
			options: []OrganizationRepositoryOption{
				WithOrganizationRepositoryDb(mock),
				WithOrganizationRepositoryLogger(discardLogger),
			},
			wantLogger: discardLogger,
		},
		{
			name:    "Missing database connection",
			options: []OrganizationRepositoryOption{WithOrganizationRepositoryLogger(discardLogger)},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewOrganizationRepository(tt.options...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewOrganizationRepository() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if tt.wantErr {
				return
			}
			if got.options.Logger != tt.wantLogger {
				t.Errorf("NewOrganizationRepository() logger = %v, want %v", got.options.Logger, tt.wantLogger)
			}
		})
	}
}

func TestNewOrganizationRepository_GlobalOptions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	inputLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	GlobalOrganizationRepositoryOptions = []OrganizationRepositoryOption{
		WithOrganizationRepositoryLogger(inputLogger),
		WithOrganizationRepositoryDb(mock),
	}
	t.Cleanup(func() { GlobalOrganizationRepositoryOptions = nil })

	got1, err := NewOrganizationRepository()
	require.NoError(t, err)
	got2, err := NewOrganizationRepository()
	require.NoError(t, err)

	if got1.options.Logger != inputLogger {
		t.Errorf("NewOrganizationRepository() = %v, want %v", got1.options.Logger, inputLogger)
	}
	if got1.options.Logger != got2.options.Logger {
		t.Errorf("NewOrganizationRepository() = %v, want %v", got1.options.Logger, got2.options.Logger)
	}
}
