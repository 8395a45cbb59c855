package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/store"
	"github.com/stretchr/testify/require"
)

func rawChanges(t *testing.T, changes map[string]any) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(changes))
	for key, value := range changes {
		encoded, err := json.Marshal(value)
		require.NoError(t, err)
		out[key] = encoded
	}
	return out
}

func getRecords(t *testing.T, st store.Store, key string) []data.Record {
	raw, found, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	var records []data.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &records))
	return records
}

func getSingleton(t *testing.T, st store.Store, key string) data.Record {
	raw, found, err := st.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found)
	var rec data.Record
	require.NoError(t, json.Unmarshal([]byte(raw), &rec))
	return rec
}

func TestApplyChangeSetIdScheme(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.TASKS_KEY, []data.Record{
		{"id": float64(1), "title": "A", "updatedAt": float64(100)},
	})

	changes := rawChanges(t, map[string]any{
		data.TASKS_KEY: []data.Record{
			{"_id": "t_1", "title": "B", "updatedAt": float64(200)},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.True(t, applied)

	tasks := getRecords(t, st, data.TASKS_KEY)
	require.Len(t, tasks, 1)
	require.Equal(t, float64(1), tasks[0]["id"])
	require.Equal(t, "B", tasks[0]["title"])

	// A second identical apply is a no-op
	applied, err = ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, tasks, getRecords(t, st, data.TASKS_KEY))
}

func TestApplyChangeSetIdempotence(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.HABITS_KEY, []data.Record{
		{"id": float64(5), "name": "run", "history": map[string]any{"2024-01-01": true}},
	})

	changes := rawChanges(t, map[string]any{
		data.HABITS_KEY: []data.Record{
			{"_id": "h_5", "name": "run daily", "history": map[string]any{"2024-01-02": false}},
			{"_id": "h_900", "name": "read"},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.True(t, applied)
	once := getRecords(t, st, data.HABITS_KEY)

	applied, err = ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, once, getRecords(t, st, data.HABITS_KEY))
	// Repeated applies never duplicate the appended record either
	require.Len(t, once, 2)
}

func TestHistorySubMapUnion(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.HABITS_KEY, []data.Record{
		{"id": float64(1), "history": map[string]any{
			"2024-01-01": "A",
			"2024-01-03": "local",
		}},
	})

	changes := rawChanges(t, map[string]any{
		data.HABITS_KEY: []data.Record{
			{"id": float64(1), "history": map[string]any{
				"2024-01-02": "B",
				"2024-01-03": "server",
			}},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.True(t, applied)

	habits := getRecords(t, st, data.HABITS_KEY)
	history := habits[0]["history"].(map[string]any)
	require.Equal(t, "A", history["2024-01-01"])
	require.Equal(t, "B", history["2024-01-02"])
	// Overlapping keys: the incoming value wins
	require.Equal(t, "server", history["2024-01-03"])
}

func TestBudgetTransactionIsolation(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.BUDGET_KEY, data.Record{
		"id": float64(1), "currency": "USD", "totalBudget": float64(100),
		"transactions": []any{
			map[string]any{"id": float64(1), "amount": float64(9), "category": "food"},
		},
	})

	// A stale server budget with no transactions field at all
	changes := rawChanges(t, map[string]any{
		data.BUDGET_KEY: data.Record{
			"currency": "EUR", "totalBudget": float64(250), "updatedAt": float64(50),
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, true)
	require.NoError(t, err)
	require.True(t, applied)

	budget := getSingleton(t, st, data.BUDGET_KEY)
	require.Equal(t, "EUR", budget["currency"])
	require.Equal(t, float64(250), budget["totalBudget"])
	// Offline-created transactions must survive the singleton update
	txns := budget["transactions"].([]any)
	require.Len(t, txns, 1)
	require.Equal(t, float64(9), txns[0].(map[string]any)["amount"])
}

func TestFeatureGateClosureOnApply(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	changes := rawChanges(t, map[string]any{
		data.ATTENDANCE_KEY:   []data.Record{{"_id": "a_1", "subject": "math"}},
		data.BUDGET_KEY:       data.Record{"currency": "JPY", "updatedAt": float64(10)},
		data.TRANSACTIONS_KEY: []data.Record{{"_id": "tx_1", "amount": float64(5)}},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.False(t, applied)

	keys, err := st.ListAllKeys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestJournalAttachmentTagging(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	changes := rawChanges(t, map[string]any{
		data.JOURNAL_KEY: []data.Record{
			{"_id": "j_1", "attachment": "https://cdn.example.com/img.jpg"},
			{"_id": "j_2", "attachment": "https://cdn.example.com/img2.jpg", "attachmentStatus": "ready"},
			{"_id": "j_3", "attachment": "img3.jpg"},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.True(t, applied)

	journal := getRecords(t, st, data.JOURNAL_KEY)
	require.Equal(t, "needsDownload", journal[0]["attachmentStatus"])
	require.Equal(t, "ready", journal[1]["attachmentStatus"])
	require.NotContains(t, journal[2], "attachmentStatus")
}

func TestTransactionsMergeAndSpentRecompute(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.BUDGET_KEY, data.Record{
		"id": float64(1),
		"categories": []any{
			map[string]any{"name": "food", "spent": float64(999)},
			map[string]any{"name": "travel", "spent": float64(0)},
		},
		"transactions": []any{
			map[string]any{"id": float64(1), "amount": float64(10), "category": "food"},
		},
	})

	changes := rawChanges(t, map[string]any{
		data.TRANSACTIONS_KEY: []data.Record{
			{"_id": "tx_2", "amount": float64(7), "category": "food"},
			{"_id": "tx_3", "amount": float64(20), "category": "travel"},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, true)
	require.NoError(t, err)
	require.True(t, applied)

	budget := getSingleton(t, st, data.BUDGET_KEY)
	require.Len(t, budget["transactions"].([]any), 3)
	categories := budget["categories"].([]any)
	// spent is recomputed from the ledger, not accumulated
	require.Equal(t, float64(17), categories[0].(map[string]any)["spent"])
	require.Equal(t, float64(20), categories[1].(map[string]any)["spent"])

	// Idempotent: a second apply changes nothing
	applied, err = ApplyChangeSet(ctx, st, changes, true)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, budget, getSingleton(t, st, data.BUDGET_KEY))
}

func TestSingletonFreshestCandidateWins(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	// The server should send one object per singleton but the engine
	// tolerates a list, picking the freshest
	changes := rawChanges(t, map[string]any{
		data.GAMIFICATION_KEY: []data.Record{
			{"xp": float64(10), "updatedAt": float64(100)},
			{"xp": float64(50), "updatedAt": float64(300)},
			{"xp": float64(20), "updatedAt": float64(200)},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, false)
	require.NoError(t, err)
	require.True(t, applied)

	gamification := getSingleton(t, st, data.GAMIFICATION_KEY)
	require.Equal(t, float64(50), gamification["xp"])
	// A stable identifier is filled in before persisting
	require.Equal(t, float64(1), gamification["id"])
}

func TestTimetablePerDayMerge(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	mustSet(t, st, data.TIMETABLE_KEY, data.Record{
		"id": float64(1),
		"schedule": map[string]any{
			"monday":  []any{"math"},
			"tuesday": []any{"art"},
		},
	})

	changes := rawChanges(t, map[string]any{
		data.TIMETABLE_KEY: data.Record{
			"updatedAt": float64(500),
			"schedule": map[string]any{
				"monday": []any{"physics", "gym"},
			},
		},
	})

	applied, err := ApplyChangeSet(ctx, st, changes, true)
	require.NoError(t, err)
	require.True(t, applied)

	timetable := getSingleton(t, st, data.TIMETABLE_KEY)
	schedule := timetable["schedule"].(map[string]any)
	// The mentioned day is replaced wholesale, the unmentioned day survives
	require.Equal(t, []any{"physics", "gym"}, schedule["monday"])
	require.Equal(t, []any{"art"}, schedule["tuesday"])
}

func TestApplyChangeSetEmptyDelta(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	applied, err := ApplyChangeSet(ctx, st, nil, true)
	require.NoError(t, err)
	require.False(t, applied)

	applied, err = ApplyChangeSet(ctx, st, map[string]json.RawMessage{
		data.TASKS_KEY:  json.RawMessage(`[]`),
		data.BUDGET_KEY: json.RawMessage(`{}`),
	}, true)
	require.NoError(t, err)
	require.False(t, applied)
}
