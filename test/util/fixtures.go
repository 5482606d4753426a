package util

import (
	stdsql "database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// CreateTestUser inserts a user with the given credit balance and returns
// its id.
func CreateTestUser(t *testing.T, db *stdsql.DB, credits int64) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO users (id, credits_balance)
		VALUES ($1, $2)`,
		id, credits,
	)
	require.NoError(t, err)
	return id
}

// CreateTestRequest inserts a minimal pending generation request owned by
// userID and returns its id.
func CreateTestRequest(t *testing.T, db *stdsql.DB, userID string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := db.Exec(`
		INSERT INTO generation_requests (
			id, user_id, visual_prompt, script_type, duration_seconds,
			visibility, credits_charged, status, progress
		)
		VALUES ($1, $2, 'calm forest stream', 'ai_generated', 60,
		        'public', 5, 'pending', 0)`,
		id, userID,
	)
	require.NoError(t, err)
	return id
}
