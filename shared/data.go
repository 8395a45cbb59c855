package shared

import "encoding/json"

// SyncRequest is the outbound half of one delta-sync round trip: the last
// server-acknowledged sync point plus everything that changed locally since
// then, keyed by collection name. Gated collections are present but empty
// when the premium entitlement is inactive, so the server can tell "nothing
// changed" apart from "this client cannot contribute this data".
type SyncRequest struct {
	LastSyncedAt int64                      `json:"lastSyncedAt"`
	DeviceId     string                     `json:"deviceId"`
	Changes      map[string]json.RawMessage `json:"changes"`
}

// SyncResponse carries the server-side delta plus the new authoritative sync
// marker. The client never invents its own marker; it always adopts SyncedAt.
type SyncResponse struct {
	Success  bool                       `json:"success"`
	Message  string                     `json:"message,omitempty"`
	SyncedAt int64                      `json:"syncedAt"`
	Changes  map[string]json.RawMessage `json:"changes"`
}
