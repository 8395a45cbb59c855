package data

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"os"
	"regexp"
	"time"

	"github.com/araddon/dateparse"
)

const (
	KdfUserID   = "user_id"
	CONFIG_PATH = ".daybook.config"
	DB_PATH     = ".daybook.db"

	// Local store key holding the last server-acknowledged sync timestamp
	// (epoch milliseconds). This is the only state that makes sync
	// idempotent across restarts.
	LAST_SYNCED_AT_KEY = "lastSyncedAt"

	// Directory under the daybook dir holding locally cached attachments.
	IMAGES_DIR = "images"
)

const defaultDaybookPath = ".daybook"

// CollectionKind distinguishes the two shapes a synced collection can have:
// an ordered list of records sharing a schema, or exactly one structured
// object per user.
type CollectionKind int

const (
	KindArray CollectionKind = iota
	KindSingleton
)

// CollectionSpec describes one synced collection. Gated collections only
// participate in sync when the user's premium entitlement is active.
type CollectionSpec struct {
	Key   string
	Kind  CollectionKind
	Gated bool
}

// TRANSACTIONS_KEY is a pseudo-collection: transactions are physically stored
// inside the budget singleton's "transactions" field, but they sync as their
// own array collection so that offline-created transactions survive stale
// budget updates.
const (
	TASKS_KEY        = "tasks"
	HABITS_KEY       = "habits"
	JOURNAL_KEY      = "journal"
	ATTENDANCE_KEY   = "attendance"
	BUCKET_LIST_KEY  = "bucketList"
	GAMIFICATION_KEY = "gamification"
	BUDGET_KEY       = "budget"
	TIMETABLE_KEY    = "timetable"
	TRANSACTIONS_KEY = "transactions"
)

// Registry is the static list of synced collections. The sync engine
// dispatches off this rather than inferring a collection's shape from field
// presence.
var Registry = []CollectionSpec{
	{Key: TASKS_KEY, Kind: KindArray},
	{Key: HABITS_KEY, Kind: KindArray},
	{Key: JOURNAL_KEY, Kind: KindArray},
	{Key: ATTENDANCE_KEY, Kind: KindArray, Gated: true},
	{Key: BUCKET_LIST_KEY, Kind: KindArray, Gated: true},
	{Key: GAMIFICATION_KEY, Kind: KindSingleton},
	{Key: BUDGET_KEY, Kind: KindSingleton, Gated: true},
	{Key: TIMETABLE_KEY, Kind: KindSingleton, Gated: true},
}

// TransactionsSpec is the pseudo-collection for the budget's embedded ledger.
var TransactionsSpec = CollectionSpec{Key: TRANSACTIONS_KEY, Kind: KindArray, Gated: true}

func LookupCollection(key string) (CollectionSpec, bool) {
	if key == TRANSACTIONS_KEY {
		return TransactionsSpec, true
	}
	for _, spec := range Registry {
		if spec.Key == key {
			return spec, true
		}
	}
	return CollectionSpec{}, false
}

// CollectionKeys returns the local store keys for every registered
// collection. Transactions are excluded since they live inside the budget.
func CollectionKeys() []string {
	keys := make([]string, 0, len(Registry))
	for _, spec := range Registry {
		keys = append(keys, spec.Key)
	}
	return keys
}

// StoreEntry is one key/value row in the on-device key/value store. Values
// are JSON: an array of records for array collections, a single object for
// singletons, and a bare scalar for bookkeeping keys like lastSyncedAt.
type StoreEntry struct {
	Key   string `json:"key" gorm:"primaryKey"`
	Value string `json:"value"`
}

// Record is a structured value belonging to a named collection, as decoded
// from JSON. It carries a local numeric "id", possibly a server-issued string
// "_id", and usually an "updatedAt" timestamp.
type Record = map[string]any

var numericRun = regexp.MustCompile(`[0-9]+`)

// LocalID returns the record's local numeric identifier, if present.
func LocalID(rec Record) (int64, bool) {
	return asInt64(rec["id"])
}

// ServerID returns the server-issued string identifier, if present.
func ServerID(rec Record) (string, bool) {
	s, ok := rec["_id"].(string)
	return s, ok && s != ""
}

// NormalizeID ensures rec carries a local numeric id and returns it. A record
// that only has a server-issued string id gets a deterministic local id
// derived from the first embedded numeric run in that string, so the same
// server record always maps to the same local id across repeated merges. A
// record with neither id falls back to the current epoch millis.
func NormalizeID(rec Record) int64 {
	if id, ok := LocalID(rec); ok {
		return id
	}
	if sid, ok := ServerID(rec); ok {
		if run := numericRun.FindString(sid); run != "" {
			if id, ok := asInt64(run); ok {
				rec["id"] = float64(id)
				return id
			}
		}
	}
	id := time.Now().UnixMilli()
	rec["id"] = float64(id)
	return id
}

// SameRecord reports whether two records are the same logical record, i.e.
// they match on either the server id or the local id.
func SameRecord(a, b Record) bool {
	if sa, ok := ServerID(a); ok {
		if sb, ok := ServerID(b); ok && sa == sb {
			return true
		}
	}
	ia, okA := LocalID(a)
	ib, okB := LocalID(b)
	return okA && okB && ia == ib
}

// UpdatedAt returns the record's last-modified timestamp as epoch millis.
// Timestamps arrive as JSON numbers from the local store but may come back
// from the server as formatted strings; both are accepted. A missing or
// unparseable value returns (0, false), which callers treat as "always needs
// syncing".
func UpdatedAt(rec Record) (int64, bool) {
	v, present := rec["updatedAt"]
	if !present || v == nil {
		return 0, false
	}
	if ms, ok := asInt64(v); ok {
		return ms, true
	}
	if s, ok := v.(string); ok {
		if t, err := dateparse.ParseAny(s); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case string:
		var out int64
		for _, c := range n {
			if c < '0' || c > '9' {
				return 0, false
			}
			out = out*10 + int64(c-'0')
		}
		return out, n != ""
	default:
		return 0, false
	}
}

func sha256hmac(key, additionalData string) []byte {
	h := hmac.New(sha256.New, []byte(key))
	h.Write([]byte(additionalData))
	return h.Sum(nil)
}

// UserId derives the opaque user identifier sent to the backup provider and
// sync server from the user's session secret.
func UserId(key string) string {
	return base64.URLEncoding.EncodeToString(sha256hmac(key, KdfUserID))
}

func GetDaybookPath() string {
	daybookPath := os.Getenv("DAYBOOK_PATH")
	if daybookPath != "" {
		return daybookPath
	}
	return defaultDaybookPath
}
