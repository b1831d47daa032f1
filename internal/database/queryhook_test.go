package database

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestQueryLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	hook := newQueryLogger(zap.New(core), "writer")

	hook.AfterQuery(context.Background(), &bun.QueryEvent{
		Query:     "SELECT 1",
		StartTime: time.Now(),
	})
	assert.Zero(t, logs.Len())

	hook.AfterQuery(context.Background(), &bun.QueryEvent{
		Query:     "SELECT * FROM orders WHERE id = '1'",
		StartTime: time.Now(),
		Err:       sql.ErrNoRows,
	})
	assert.Zero(t, logs.Len())

	hook.AfterQuery(context.Background(), &bun.QueryEvent{
		Query:     "INSERT INTO orders",
		StartTime: time.Now(),
		Err:       errors.New("connection reset"),
	})
	assert.Equal(t, 1, logs.FilterMessage("database query failed").Len())

	hook.AfterQuery(context.Background(), &bun.QueryEvent{
		Query:     "SELECT count(*) FROM orders",
		StartTime: time.Now().Add(-time.Second),
	})
	slow := logs.FilterMessage("slow database query").All()
	if assert.Len(t, slow, 1) {
		assert.Equal(t, "SELECT count(*) FROM orders", slow[0].ContextMap()["query"])
	}
}
