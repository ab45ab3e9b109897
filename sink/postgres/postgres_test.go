package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterSink_Send(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, "dead_letters")

	item := map[string]any{"id": "abc", "reason": "boom"}
	itemJSON, _ := json.Marshal(item)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO dead_letters")).
		WithArgs("processing failed", itemJSON, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.Send(context.Background(), item, "processing failed"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeadLetterSink_InitSchema(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s := NewWithPool(mock, "dead_letters")

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS dead_letters")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.InitSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
