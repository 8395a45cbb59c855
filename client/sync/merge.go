package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/daybook-app/daybook/client/data"
	"github.com/daybook-app/daybook/client/store"
)

// Fields of the budget singleton on which the server wins outright. The
// transactions array is deliberately absent: it is reconciled separately so a
// stale server budget can never erase offline-created transactions.
var budgetServerWinsFields = []string{
	"currency",
	"totalBudget",
	"currentMonth",
	"categories",
	"recurringPayments",
	"history",
	"updatedAt",
}

// ApplyChangeSet reconciles a server delta into the local store and reports
// whether anything was actually written. Gated collections are discarded
// without touching local state when premium is off, no matter what the server
// sent. Applying the same delta twice is a no-op the second time.
func ApplyChangeSet(ctx context.Context, st store.Store, changes map[string]json.RawMessage, premium bool) (bool, error) {
	if len(changes) == 0 {
		return false, nil
	}

	anyChanges := false
	for _, spec := range data.Registry {
		raw, present := changes[spec.Key]
		if !present || isEmptyRaw(raw) {
			continue
		}
		if spec.Gated && !premium {
			continue
		}
		var changed bool
		var err error
		switch spec.Kind {
		case data.KindArray:
			changed, err = applyArray(ctx, st, spec.Key, raw)
		case data.KindSingleton:
			changed, err = applySingleton(ctx, st, spec.Key, raw)
		}
		if err != nil {
			return anyChanges, err
		}
		anyChanges = anyChanges || changed
	}

	if raw, present := changes[data.TRANSACTIONS_KEY]; present && !isEmptyRaw(raw) && premium {
		changed, err := applyTransactions(ctx, st, raw)
		if err != nil {
			return anyChanges, err
		}
		anyChanges = anyChanges || changed
	}

	return anyChanges, nil
}

func applyArray(ctx context.Context, st store.Store, key string, raw json.RawMessage) (bool, error) {
	var incoming []data.Record
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return false, fmt.Errorf("failed to decode server delta for %q: %w", key, err)
	}
	if len(incoming) == 0 {
		return false, nil
	}

	localRaw, _, err := st.Get(ctx, key)
	if err != nil {
		return false, err
	}
	local, err := decodeArray(localRaw)
	if err != nil {
		return false, fmt.Errorf("failed to decode local collection %q: %w", key, err)
	}

	merged, changed := mergeArrayByIdentity(local, incoming, key == data.JOURNAL_KEY)
	if !changed {
		return false, nil
	}
	return true, saveJSON(ctx, st, key, merged)
}

// mergeArrayByIdentity reconciles two record lists by identity rather than
// position. Incoming records are matched against local ones on either the
// server id or the (normalized) local id; matches are merged with incoming
// values winning, except history sub-maps which are merged key-by-key.
// Unmatched incoming records are appended.
func mergeArrayByIdentity(local, incoming []data.Record, isJournal bool) ([]data.Record, bool) {
	merged := make([]data.Record, len(local))
	copy(merged, local)
	changed := false

	for _, inc := range incoming {
		inc = cloneRecord(inc)
		data.NormalizeID(inc)
		if isJournal {
			tagPendingAttachment(inc)
		}

		idx := -1
		for i, existing := range merged {
			if data.SameRecord(existing, inc) {
				idx = i
				break
			}
		}
		if idx == -1 {
			merged = append(merged, inc)
			changed = true
			continue
		}
		out := mergeRecords(merged[idx], inc)
		if !reflect.DeepEqual(out, merged[idx]) {
			merged[idx] = out
			changed = true
		}
	}
	return merged, changed
}

// mergeRecords merges one incoming record into an existing one. The existing
// record's local id is canonical and never overwritten, so an id-scheme
// mismatch can't fork a logical record into duplicates.
func mergeRecords(existing, incoming data.Record) data.Record {
	out := cloneRecord(existing)
	for k, v := range incoming {
		if k == "history" {
			continue
		}
		if k == "id" {
			if _, ok := out["id"]; ok {
				continue
			}
		}
		out[k] = v
	}

	incHistory, incOk := incoming["history"].(map[string]any)
	if incOk {
		if existingHistory, ok := out["history"].(map[string]any); ok {
			mergedHistory := make(map[string]any, len(existingHistory)+len(incHistory))
			for k, v := range existingHistory {
				mergedHistory[k] = v
			}
			for k, v := range incHistory {
				mergedHistory[k] = v
			}
			out["history"] = mergedHistory
		} else {
			out["history"] = incHistory
		}
	}
	return out
}

// tagPendingAttachment marks a journal record whose attachment still lives at
// a remote URL and which arrived without a transfer-status marker. A display
// layer is expected to fetch the attachment and flip the marker to "ready".
func tagPendingAttachment(rec data.Record) {
	att, _ := rec["attachment"].(string)
	if !strings.HasPrefix(att, "http://") && !strings.HasPrefix(att, "https://") {
		return
	}
	if _, ok := rec["attachmentStatus"]; !ok {
		rec["attachmentStatus"] = "needsDownload"
	}
}

func applySingleton(ctx context.Context, st store.Store, key string, raw json.RawMessage) (bool, error) {
	candidate := selectFreshestCandidate(raw)
	if candidate == nil {
		return false, nil
	}

	localRaw, _, err := st.Get(ctx, key)
	if err != nil {
		return false, err
	}
	local, err := decodeSingleton(localRaw)
	if err != nil {
		return false, fmt.Errorf("failed to decode local singleton %q: %w", key, err)
	}

	var merged data.Record
	switch key {
	case data.BUDGET_KEY:
		merged = mergeBudget(local, candidate)
	case data.TIMETABLE_KEY:
		merged = mergeTimetable(local, candidate)
	default:
		merged = cloneRecord(candidate)
	}
	if _, ok := merged["id"]; !ok {
		merged["id"] = float64(1)
	}

	if reflect.DeepEqual(local, merged) {
		return false, nil
	}
	return true, saveJSON(ctx, st, key, merged)
}

// selectFreshestCandidate decodes a singleton delta. The server is expected
// to send at most one object per singleton, but a list is tolerated: the
// candidate with the greatest updatedAt wins.
func selectFreshestCandidate(raw json.RawMessage) data.Record {
	var candidates []data.Record
	if err := json.Unmarshal(raw, &candidates); err != nil {
		var single data.Record
		if err := json.Unmarshal(raw, &single); err != nil || len(single) == 0 {
			return nil
		}
		return single
	}
	candidates = filterNonEmpty(candidates)
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ti, _ := data.UpdatedAt(candidates[i])
		tj, _ := data.UpdatedAt(candidates[j])
		return ti > tj
	})
	return candidates[0]
}

// mergeBudget merges a server budget into the local one field-by-field. The
// local transactions array is never touched from this path, even when the
// server's payload is stale relative to local transactions.
func mergeBudget(local, candidate data.Record) data.Record {
	out := cloneRecord(local)
	for _, field := range budgetServerWinsFields {
		if v, ok := candidate[field]; ok && v != nil {
			out[field] = v
		}
	}
	return out
}

// mergeTimetable merges schedule maps per weekday: a day the server mentions
// fully replaces the local entry for that day, days it doesn't mention are
// left untouched.
func mergeTimetable(local, candidate data.Record) data.Record {
	out := cloneRecord(local)
	incSchedule, ok := candidate["schedule"].(map[string]any)
	if ok {
		mergedSchedule := make(map[string]any)
		if localSchedule, ok := out["schedule"].(map[string]any); ok {
			for day, entry := range localSchedule {
				mergedSchedule[day] = entry
			}
		}
		for day, entry := range incSchedule {
			mergedSchedule[day] = entry
		}
		out["schedule"] = mergedSchedule
	}
	for k, v := range candidate {
		if k != "schedule" {
			out[k] = v
		}
	}
	return out
}

// applyTransactions read-modify-writes the ledger embedded in the budget
// singleton, then recomputes every category's spent total from scratch so
// displayed totals never drift from the transaction ledger.
func applyTransactions(ctx context.Context, st store.Store, raw json.RawMessage) (bool, error) {
	var incoming []data.Record
	if err := json.Unmarshal(raw, &incoming); err != nil {
		return false, fmt.Errorf("failed to decode server transaction delta: %w", err)
	}
	if len(incoming) == 0 {
		return false, nil
	}

	budgetRaw, _, err := st.Get(ctx, data.BUDGET_KEY)
	if err != nil {
		return false, err
	}
	budget, err := decodeSingleton(budgetRaw)
	if err != nil {
		return false, fmt.Errorf("failed to decode local budget: %w", err)
	}
	if budget == nil {
		budget = data.Record{"id": float64(1)}
	}

	local := transactionsOf(budget)
	merged, changed := mergeArrayByIdentity(local, incoming, false)
	if !changed {
		return false, nil
	}

	budget = cloneRecord(budget)
	budget["transactions"] = toAnySlice(merged)
	recomputeCategorySpent(budget, merged)
	return true, saveJSON(ctx, st, data.BUDGET_KEY, budget)
}

// recomputeCategorySpent sets each category's spent field to the sum of
// matching-category transaction amounts. A recomputation rather than an
// accumulation, so re-applying a delta can't inflate totals.
func recomputeCategorySpent(budget data.Record, transactions []data.Record) {
	categories, ok := budget["categories"].([]any)
	if !ok {
		return
	}
	for _, item := range categories {
		category, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := category["name"].(string)
		var spent float64
		for _, txn := range transactions {
			if txnCategory, _ := txn["category"].(string); txnCategory == name {
				if amount, ok := txn["amount"].(float64); ok {
					spent += amount
				}
			}
		}
		category["spent"] = spent
	}
}

func isEmptyRaw(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null" || s == "[]" || s == "{}"
}

func filterNonEmpty(records []data.Record) []data.Record {
	out := records[:0]
	for _, rec := range records {
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out
}

func cloneRecord(rec data.Record) data.Record {
	out := make(data.Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}

func toAnySlice(records []data.Record) []any {
	out := make([]any, len(records))
	for i, rec := range records {
		out[i] = rec
	}
	return out
}

func saveJSON(ctx context.Context, st store.Store, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %q for the local store: %w", key, err)
	}
	return st.Set(ctx, key, string(encoded))
}
