package archive

import (
	"encoding/json"
	"time"
)

// CommitFailureRecord is a booking the committer could not persist. The draft
// is kept verbatim so operators can replay it; the manifest only carries the
// hashed phone.
type CommitFailureRecord struct {
	Version    string          `json:"version"`
	EventID    string          `json:"event_id"`
	JourneyID  string          `json:"journey_id"`
	BranchID   string          `json:"branch_id"`
	Date       string          `json:"date"`
	SlotID     string          `json:"slot_id,omitempty"`
	PhoneHash  string          `json:"phone_hash"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error"`
	Draft      json.RawMessage `json:"draft"`
	ArchivedAt time.Time       `json:"archived_at"`
}

// ManifestEntry is one JSONL line in the monthly manifest.
type ManifestEntry struct {
	EventID    string `json:"event_id"`
	JourneyID  string `json:"journey_id"`
	S3Key      string `json:"s3_key"`
	BranchID   string `json:"branch_id"`
	Date       string `json:"date"`
	PhoneHash  string `json:"phone_hash"`
	Error      string `json:"error"`
	ArchivedAt string `json:"archived_at"`
}
