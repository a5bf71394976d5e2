package main

import (
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithParseTime(t *testing.T) {
	assert.Equal(
		t,
		"user:pass@tcp(localhost:3306)/pile?parseTime=true",
		withParseTime("user:pass@tcp(localhost:3306)/pile"),
	)

	// A DSN that already carries parameters gets parseTime joined with
	// an ampersand, not a second question mark.
	assert.Equal(
		t,
		"user:pass@tcp(localhost:3306)/pile?tls=skip-verify&parseTime=true",
		withParseTime("user:pass@tcp(localhost:3306)/pile?tls=skip-verify"),
	)

	// A DSN that already sets parseTime is left alone.
	assert.Equal(
		t,
		"user:pass@tcp(localhost:3306)/pile?parseTime=false",
		withParseTime("user:pass@tcp(localhost:3306)/pile?parseTime=false"),
	)
}

func TestWithParseTimeProducesValidDSN(t *testing.T) {
	for _, dsn := range []string{
		"user:pass@tcp(localhost:3306)/pile",
		"user:pass@tcp(localhost:3306)/pile?tls=skip-verify",
		"user:pass@tcp(localhost:3306)/pile?tls=skip-verify&timeout=5s",
	} {
		cfg, err := mysql.ParseDSN(withParseTime(dsn))
		require.NoError(t, err, dsn)
		assert.True(t, cfg.ParseTime, dsn)
	}
}
