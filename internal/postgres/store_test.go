package postgres

import (
	"errors"
	"strings"
	"testing"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeOrderJSON(t *testing.T) {
	t.Parallel()

	delivery, exts, err := encodeOrderJSON(&orders.Order{ID: "o1"})
	require.NoError(t, err)
	assert.Nil(t, delivery)
	assert.JSONEq(t, `[]`, string(exts))

	delivery, exts, err = encodeOrderJSON(&orders.Order{
		ID:         "o2",
		Delivery:   &orders.Delivery{Description: "done", Files: []string{"a.zip"}},
		Extensions: []orders.ExtensionRequest{{ID: "x1", Days: 3, Status: orders.ExtensionPending}},
	})
	require.NoError(t, err)
	assert.Contains(t, string(delivery.([]byte)), `"description":"done"`)
	assert.Contains(t, string(exts), `"extension_days":3`)
}

func TestMapWriteErr(t *testing.T) {
	t.Parallel()

	assert.NoError(t, mapWriteErr(nil, "order %s", "o1"))

	err := mapWriteErr(&pgconn.PgError{Code: uniqueViolation}, "order %s", "o1")
	require.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Contains(t, err.Error(), "order o1")

	other := errors.New("connection reset")
	assert.Equal(t, other, mapWriteErr(other, "order %s", "o1"))
}

func TestSchemaCoversTables(t *testing.T) {
	t.Parallel()

	for _, table := range []string{"users", "gigs", "gig_tiers", "jobs", "proposals", "conversations", "orders", "intents"} {
		assert.True(t, strings.Contains(schema, "CREATE TABLE IF NOT EXISTS "+table+" ("), table)
	}
	assert.Contains(t, schema, "CHECK (balance >= 0)")
}
