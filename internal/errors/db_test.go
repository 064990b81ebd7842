package errors

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapDBErrorNil(t *testing.T) {
	require.NoError(t, MapDBError(nil))
}

func TestMapDBErrorNoRows(t *testing.T) {
	err := MapDBError(sql.ErrNoRows)
	assert.True(t, IsNotFound(err))
}

func TestMapDBErrorUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: pgerrcode.UniqueViolation, Detail: `Key (job_id)=(j1) already exists.`}
	err := MapDBError(pgErr)
	assert.True(t, IsConflict(err))
	assert.ErrorIs(t, err, pgErr)
}

func TestMapDBErrorCheckViolation(t *testing.T) {
	err := MapDBError(&pgconn.PgError{Code: pgerrcode.CheckViolation})
	assert.True(t, IsValidation(err))
}

func TestMapDBErrorContext(t *testing.T) {
	assert.Equal(t, ErrCodeTimeout, GetCode(MapDBError(context.DeadlineExceeded)))
	assert.Equal(t, ErrCodeCanceled, GetCode(MapDBError(context.Canceled)))
}

func TestMapDBErrorPassthrough(t *testing.T) {
	plain := errors.New("connection refused")
	assert.Equal(t, plain, MapDBError(plain))
}
