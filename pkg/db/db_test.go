package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/smallbiznis/contentmarket/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestDialect(t *testing.T) {
	for _, dbType := range []string{"postgres", "mysql", "sqlite"} {
		t.Run(dbType, func(t *testing.T) {
			dialector, err := Dialect(config.Config{DBType: dbType, DBName: "contentmarket"})
			require.NoError(t, err)
			assert.Equal(t, dbType, dialector.Name())
		})
	}

	_, err := Dialect(config.Config{DBType: "oracle"})
	assert.Error(t, err)
}

func TestIsDuplicateKeyErr(t *testing.T) {
	assert.False(t, IsDuplicateKeyErr(nil))
	assert.True(t, IsDuplicateKeyErr(fmt.Errorf("insert: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, IsDuplicateKeyErr(errors.New(`ERROR: duplicate key value violates unique constraint "ux_payments_order_id"`)))
	assert.True(t, IsDuplicateKeyErr(errors.New("UNIQUE constraint failed: payments.order_id")))
	assert.False(t, IsDuplicateKeyErr(errors.New("connection refused")))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("load: %w", gorm.ErrRecordNotFound)))
	assert.False(t, IsNotFound(errors.New("boom")))
}
