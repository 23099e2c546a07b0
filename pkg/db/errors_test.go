package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestClassifyMySQLNumbers(t *testing.T) {
	cases := []struct {
		number uint16
		want   ErrorKind
	}{
		{1061, KindIndexExists},
		{1091, KindIndexMissing},
		{1146, KindTableMissing},
		{1062, KindDuplicateKey},
		{1045, KindAccessDenied},
		{1205, KindTimeout},
		{1064, KindGeneric}, // syntax error stays generic
	}
	for _, tc := range cases {
		err := &mysql.MySQLError{Number: tc.number, Message: "x"}
		assert.Equal(t, tc.want, Classify(err), "number %d", tc.number)
	}
}

func TestClassifyPostgresCodes(t *testing.T) {
	cases := []struct {
		code string
		want ErrorKind
	}{
		{"42P07", KindIndexExists},
		{"42704", KindIndexMissing},
		{"42P01", KindTableMissing},
		{"23505", KindDuplicateKey},
		{"28P01", KindAccessDenied},
		{"28000", KindAccessDenied},
		{"57014", KindTimeout},
		{"55P03", KindTimeout},
		{"42601", KindGeneric},
	}
	for _, tc := range cases {
		err := &pgconn.PgError{Code: tc.code, Message: "x"}
		assert.Equal(t, tc.want, Classify(err), "code %s", tc.code)
	}
}

func TestClassifyWrappedDriverError(t *testing.T) {
	inner := &mysql.MySQLError{Number: 1061, Message: "Duplicate key name 'idx_a'"}
	wrapped := fmt.Errorf("create index: %w", inner)
	assert.Equal(t, KindIndexExists, Classify(wrapped))
	assert.True(t, IsIndexExists(wrapped))
}

func TestClassifyMessageFallback(t *testing.T) {
	cases := []struct {
		msg  string
		want ErrorKind
	}{
		{`relation "idx_a" already exists`, KindIndexExists},
		{`index "idx_a" does not exist`, KindIndexMissing},
		{"Table 'app.orders' doesn't exist", KindIndexMissing},
		{"dial tcp: i/o timeout", KindTimeout},
		{"read tcp: connection reset by peer", KindConnectionLost},
		{"connection refused", KindConnectionLost},
		{"Access denied for user 'root'", KindAccessDenied},
		{"something else entirely", KindGeneric},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(errors.New(tc.msg)), "msg %q", tc.msg)
	}
}

func TestClassifyNil(t *testing.T) {
	assert.Equal(t, KindGeneric, Classify(nil))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&mysql.MySQLError{Number: 1205}))
	assert.True(t, IsRetryable(errors.New("broken pipe")))
	assert.False(t, IsRetryable(&mysql.MySQLError{Number: 1061}))
	assert.False(t, IsRetryable(errors.New("syntax error")))
}

func TestIsTableMissing(t *testing.T) {
	assert.True(t, IsTableMissing(&pgconn.PgError{Code: "42P01"}))
	assert.False(t, IsTableMissing(&pgconn.PgError{Code: "42P07"}))
}
