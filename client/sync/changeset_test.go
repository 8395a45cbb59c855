package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/hctx"
	"github.com/daybook-app/daybook/client/store"
	"github.com/daybook-app/daybook/shared/testutils"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) store.Store {
	testutils.SetupTestHome(t)
	db, err := hctx.OpenLocalSqliteDb()
	require.NoError(t, err)
	return store.NewDbStore(db)
}

func mustSet(t *testing.T, st store.Store, key string, value any) {
	encoded, err := json.Marshal(value)
	require.NoError(t, err)
	require.NoError(t, st.Set(context.Background(), key, string(encoded)))
}

func decodeRecords(t *testing.T, raw json.RawMessage) []data.Record {
	var records []data.Record
	require.NoError(t, json.Unmarshal(raw, &records))
	return records
}

func TestBuildChangeSetFiltersByTimestamp(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.TASKS_KEY, []data.Record{
		{"id": float64(1), "title": "old", "updatedAt": float64(100)},
		{"id": float64(2), "title": "new", "updatedAt": float64(2000)},
		{"id": float64(3), "title": "never synced"},
	})

	changes, err := BuildChangeSet(ctx, st, 1000, false)
	require.NoError(t, err)

	tasks := decodeRecords(t, changes[data.TASKS_KEY])
	require.Len(t, tasks, 2)
	require.Equal(t, "new", tasks[0]["title"])
	// A record with no updatedAt at all always needs syncing
	require.Equal(t, "never synced", tasks[1]["title"])
}

func TestBuildChangeSetGateClosed(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.ATTENDANCE_KEY, []data.Record{
		{"id": float64(1), "subject": "math", "updatedAt": float64(9999)},
	})
	mustSet(t, st, data.BUDGET_KEY, data.Record{
		"id": float64(1), "currency": "EUR", "updatedAt": float64(9999),
		"transactions": []any{map[string]any{"id": float64(1), "updatedAt": float64(9999)}},
	})
	mustSet(t, st, data.TASKS_KEY, []data.Record{
		{"id": float64(1), "title": "t", "updatedAt": float64(9999)},
	})

	changes, err := BuildChangeSet(ctx, st, 0, false)
	require.NoError(t, err)

	// Gated keys are present but empty, regardless of local timestamps
	require.JSONEq(t, `[]`, string(changes[data.ATTENDANCE_KEY]))
	require.JSONEq(t, `[]`, string(changes[data.BUCKET_LIST_KEY]))
	require.JSONEq(t, `{}`, string(changes[data.BUDGET_KEY]))
	require.JSONEq(t, `{}`, string(changes[data.TIMETABLE_KEY]))
	require.JSONEq(t, `[]`, string(changes[data.TRANSACTIONS_KEY]))

	// Always-synced collections still contribute
	require.Len(t, decodeRecords(t, changes[data.TASKS_KEY]), 1)
}

func TestBuildChangeSetSingletons(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.BUDGET_KEY, data.Record{
		"id": float64(1), "currency": "USD", "updatedAt": float64(5000),
		"transactions": []any{
			map[string]any{"id": float64(10), "amount": float64(3), "updatedAt": float64(4000)},
			map[string]any{"id": float64(11), "amount": float64(4), "updatedAt": float64(6000)},
		},
	})
	mustSet(t, st, data.TIMETABLE_KEY, data.Record{
		"id": float64(1), "updatedAt": float64(100),
	})
	mustSet(t, st, data.GAMIFICATION_KEY, data.Record{
		"id": float64(1), "xp": float64(12), "updatedAt": float64(8000),
	})

	changes, err := BuildChangeSet(ctx, st, 1000, true)
	require.NoError(t, err)

	// The budget is newer than the marker, but its embedded transaction list
	// must be stripped: transactions sync as their own collection
	var budget data.Record
	require.NoError(t, json.Unmarshal(changes[data.BUDGET_KEY], &budget))
	require.Equal(t, "USD", budget["currency"])
	require.NotContains(t, budget, "transactions")

	// The transactions pseudo-collection carries only the ones past the marker
	txns := decodeRecords(t, changes[data.TRANSACTIONS_KEY])
	require.Len(t, txns, 1)
	require.Equal(t, float64(11), txns[0]["id"])

	// A singleton not modified since the marker is omitted entirely
	require.NotContains(t, changes, data.TIMETABLE_KEY)

	var gamification data.Record
	require.NoError(t, json.Unmarshal(changes[data.GAMIFICATION_KEY], &gamification))
	require.Equal(t, float64(12), gamification["xp"])
}

func TestBuildChangeSetEmptyStore(t *testing.T) {
	st := openTestStore(t)
	changes, err := BuildChangeSet(context.Background(), st, 0, true)
	require.NoError(t, err)

	// Array collections are always present (possibly empty); absent
	// singletons are omitted
	require.JSONEq(t, `[]`, string(changes[data.TASKS_KEY]))
	require.JSONEq(t, `[]`, string(changes[data.TRANSACTIONS_KEY]))
	require.NotContains(t, changes, data.BUDGET_KEY)
	require.NotContains(t, changes, data.GAMIFICATION_KEY)
}

func TestBuildChangeSetIsPureRead(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.TASKS_KEY, []data.Record{{"id": float64(1), "title": "a"}})
	before, err := st.GetAll(ctx, data.CollectionKeys())
	require.NoError(t, err)

	_, err = BuildChangeSet(ctx, st, 0, true)
	require.NoError(t, err)

	after, err := st.GetAll(ctx, data.CollectionKeys())
	require.NoError(t, err)
	require.Equal(t, before, after)
}
