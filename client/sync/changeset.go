package sync

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/store"
	"github.com/samber/lo"
)

var (
	emptyArray  = json.RawMessage("[]")
	emptyObject = json.RawMessage("{}")
)

// BuildChangeSet scans the local store and produces the outbound delta: every
// record modified since lastSyncedAt, keyed by collection name. Records with
// no updatedAt at all are always included. Gated collections are sent as
// empty when premium is off, so the server can tell "nothing changed" apart
// from "this client cannot contribute this data". Pure read; the store is
// never mutated.
func BuildChangeSet(ctx context.Context, st store.Store, lastSyncedAt int64, premium bool) (map[string]json.RawMessage, error) {
	values, err := st.GetAll(ctx, data.CollectionKeys())
	if err != nil {
		return nil, fmt.Errorf("failed to read collections for changeset: %w", err)
	}

	changes := make(map[string]json.RawMessage)
	for _, spec := range data.Registry {
		if spec.Gated && !premium {
			changes[spec.Key] = emptyForKind(spec.Kind)
			continue
		}
		raw := values[spec.Key]
		switch spec.Kind {
		case data.KindArray:
			records, err := decodeArray(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode collection %q: %w", spec.Key, err)
			}
			modified := lo.Filter(records, func(rec data.Record, _ int) bool {
				return needsSync(rec, lastSyncedAt)
			})
			encoded, err := json.Marshal(modified)
			if err != nil {
				return nil, fmt.Errorf("failed to encode collection %q: %w", spec.Key, err)
			}
			changes[spec.Key] = encoded
		case data.KindSingleton:
			rec, err := decodeSingleton(raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode singleton %q: %w", spec.Key, err)
			}
			if rec == nil {
				continue
			}
			// Unlike array records, a singleton with no updatedAt was never
			// edited and has nothing to contribute.
			ts, ok := data.UpdatedAt(rec)
			if !ok || ts <= lastSyncedAt {
				continue
			}
			if spec.Key == data.BUDGET_KEY {
				// Transactions travel as their own collection so a stale
				// budget payload can never clobber them server-side.
				rec = withoutField(rec, "transactions")
			}
			encoded, err := json.Marshal(rec)
			if err != nil {
				return nil, fmt.Errorf("failed to encode singleton %q: %w", spec.Key, err)
			}
			changes[spec.Key] = encoded
		}
	}

	transactions, err := buildTransactionChanges(values[data.BUDGET_KEY], lastSyncedAt, premium)
	if err != nil {
		return nil, err
	}
	changes[data.TRANSACTIONS_KEY] = transactions

	return changes, nil
}

// buildTransactionChanges filters the ledger embedded in the budget singleton
// by the same timestamp rule as ordinary array collections.
func buildTransactionChanges(budgetRaw string, lastSyncedAt int64, premium bool) (json.RawMessage, error) {
	if !premium {
		return emptyArray, nil
	}
	budget, err := decodeSingleton(budgetRaw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode budget for transaction changeset: %w", err)
	}
	modified := lo.Filter(transactionsOf(budget), func(rec data.Record, _ int) bool {
		return needsSync(rec, lastSyncedAt)
	})
	encoded, err := json.Marshal(modified)
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction changeset: %w", err)
	}
	return encoded, nil
}

func needsSync(rec data.Record, lastSyncedAt int64) bool {
	ts, ok := data.UpdatedAt(rec)
	return !ok || ts > lastSyncedAt
}

func emptyForKind(kind data.CollectionKind) json.RawMessage {
	if kind == data.KindSingleton {
		return emptyObject
	}
	return emptyArray
}

func decodeArray(raw string) ([]data.Record, error) {
	if raw == "" {
		return []data.Record{}, nil
	}
	var records []data.Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []data.Record{}
	}
	return records, nil
}

func decodeSingleton(raw string) (data.Record, error) {
	if raw == "" {
		return nil, nil
	}
	var rec data.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	if len(rec) == 0 {
		return nil, nil
	}
	return rec, nil
}

func transactionsOf(budget data.Record) []data.Record {
	if budget == nil {
		return nil
	}
	rawList, ok := budget["transactions"].([]any)
	if !ok {
		return nil
	}
	records := make([]data.Record, 0, len(rawList))
	for _, item := range rawList {
		if rec, ok := item.(map[string]any); ok {
			records = append(records, rec)
		}
	}
	return records
}

func withoutField(rec data.Record, field string) data.Record {
	out := make(data.Record, len(rec))
	for k, v := range rec {
		if k != field {
			out[k] = v
		}
	}
	return out
}
