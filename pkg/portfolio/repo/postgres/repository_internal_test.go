package postgres

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"github.com/tendant/simple-portfolio/pkg/portfolio"
)

func TestHandlePostgresError(t *testing.T) {
	r := &Repository{}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"slug taken", &pgconn.PgError{Code: "23505", ConstraintName: "content_items_type_slug_key"}, portfolio.ErrSlugTaken},
		{"version race", &pgconn.PgError{Code: "23505", ConstraintName: "content_versions_item_number_key"}, portfolio.ErrVersionConflict},
		{"other unique", &pgconn.PgError{Code: "23505", ConstraintName: "assets_object_key_key"}, portfolio.ErrConflict},
		{"foreign key", &pgconn.PgError{Code: "23503"}, portfolio.ErrNotFound},
		{"not null", &pgconn.PgError{Code: "23502", ColumnName: "title"}, portfolio.ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, r.handlePostgresError("op", tt.err), tt.want)
		})
	}

	t.Run("missing table", func(t *testing.T) {
		err := r.handlePostgresError("op", &pgconn.PgError{Code: "42P01"})
		assert.Contains(t, err.Error(), "migration required")
	})

	t.Run("plain error is wrapped", func(t *testing.T) {
		base := errors.New("connection reset")
		assert.ErrorIs(t, r.handlePostgresError("op", base), base)
	})
}

func TestPrefixColumns(t *testing.T) {
	assert.Equal(t, "q.id, q.asset_id, q.created_at", prefixColumns("q", "id, asset_id,\n\tcreated_at"))
}

func TestSchemaDeclaresConstraints(t *testing.T) {
	for _, name := range []string{"content_items_type_slug_key", "content_versions_item_number_key", "asset_deletion_queue_asset_key"} {
		assert.Contains(t, Schema(), name)
	}
}
