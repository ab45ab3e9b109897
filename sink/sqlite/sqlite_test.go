package sqlite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterSink_SendAndQuery(t *testing.T) {
	s, err := New(Options{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	item := map[string]any{"id": "abc", "amount": 7}
	require.NoError(t, s.Send(ctx, item, "validation failed"))
	require.NoError(t, s.Send(ctx, 42, "timeout"))

	rows, err := s.db.QueryContext(ctx, "SELECT reason, item FROM dead_letters ORDER BY id")
	require.NoError(t, err)
	defer rows.Close()

	var reasons []string
	var items []string
	for rows.Next() {
		var reason, item string
		require.NoError(t, rows.Scan(&reason, &item))
		reasons = append(reasons, reason)
		items = append(items, item)
	}
	require.NoError(t, rows.Err())

	require.Len(t, reasons, 2)
	assert.Equal(t, "validation failed", reasons[0])
	assert.Equal(t, "timeout", reasons[1])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(items[0]), &decoded))
	assert.Equal(t, "abc", decoded["id"])
}

func TestDeadLetterSink_DefaultTableName(t *testing.T) {
	s, err := New(Options{Path: ":memory:"})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, "dead_letters", s.tableName)
}

func TestDeadLetterSink_CustomTableName(t *testing.T) {
	s, err := New(Options{Path: ":memory:", TableName: "failed_events"})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Send(context.Background(), 1, "boom"))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM failed_events").Scan(&count))
	assert.Equal(t, 1, count)
}
