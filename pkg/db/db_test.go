package db

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"fieldservice/pkg/config"
)

func TestConnStrings(t *testing.T) {
	cfg := config.Config{DB: config.DBConfig{
		Host: "db", Port: "5432", Name: "fs", User: "u", Password: "p",
	}}
	assert.Equal(t, "postgres://u:p@db:5432/fs?sslmode=disable", runtimeConnString(cfg))
	assert.Equal(t, runtimeConnString(cfg), migrationConnString(cfg))

	cfg.DatabaseURL = "postgres://pooler/fs?pgbouncer=true"
	cfg.DirectURL = "postgres://direct/fs"
	assert.Equal(t, cfg.DatabaseURL, runtimeConnString(cfg))
	assert.Equal(t, cfg.DirectURL, migrationConnString(cfg))
}

func TestDec(t *testing.T) {
	var d decimal.Decimal
	s := Dec(&d).(interface{ Scan(any) error })

	assert.NoError(t, s.Scan("12.3400"))
	assert.Equal(t, "12.34", d.String())

	assert.NoError(t, s.Scan([]byte("5")))
	assert.Equal(t, "5", d.String())

	assert.NoError(t, s.Scan(nil))
	assert.True(t, d.IsZero())

	assert.Error(t, s.Scan("abc"))
	assert.Error(t, s.Scan(3.5))
}
