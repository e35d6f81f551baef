package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDSN(t *testing.T) {
	assert.Equal(t,
		"postgres://localhost:5432?sslmode=disable",
		Option{}.dsn())

	assert.Equal(t,
		"postgres://engine:hunter2@db:5433/strategies?sslmode=require",
		Option{
			Host:     "db",
			Port:     5433,
			User:     "engine",
			Password: "hunter2",
			Database: "strategies",
			SSLMode:  "require",
		}.dsn())

	assert.Equal(t,
		"postgres://engine@localhost:5432/strategies?sslmode=disable",
		Option{User: "engine", Database: "strategies"}.dsn())
}
