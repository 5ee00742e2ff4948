package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
)

func TestIsContentionMySQLCodes(t *testing.T) {
	lockWait := &mysql.MySQLError{Number: 1205, Message: "Lock wait timeout exceeded"}
	deadlock := &mysql.MySQLError{Number: 1213, Message: "Deadlock found when trying to get lock"}

	assert.True(t, IsContention(lockWait))
	assert.True(t, IsContention(deadlock))
	assert.True(t, IsContention(fmt.Errorf("mutate tuple: %w", lockWait)))
}

func TestIsContentionIgnoresOtherErrors(t *testing.T) {
	assert.False(t, IsContention(nil))
	assert.False(t, IsContention(errors.New("connection refused")))
	assert.False(t, IsContention(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
}

func TestIsUniqueViolationMySQLDuplicateKey(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'req-1' for key 'payments_order_idempotency_key'"}

	assert.True(t, IsUniqueViolation(dup))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert payment: %w", dup)))
	assert.False(t, IsUniqueViolation(&mysql.MySQLError{Number: 1205}))
	assert.False(t, IsUniqueViolation(errors.New("duplicate entry")))
}

func TestSelectDialectRejectsUnknownDrivers(t *testing.T) {
	for _, driver := range []string{"sqlite", "oracle", ""} {
		_, err := selectDialect(driver)
		assert.Error(t, err, driver)
	}
}
