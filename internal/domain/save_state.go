package domain

import "time"

// SaveState reports the outcome of the most recent attempt to persist
// progress remotely.
type SaveState struct {
	IsSaving       bool       `json:"is_saving"`
	LastSavedAt    *time.Time `json:"last_saved_at,omitempty"`
	LastError      string     `json:"last_error,omitempty"`
	RemoteRecordID string     `json:"remote_record_id,omitempty"`
}

// SaveStatus is the user-facing persistence indicator.
type SaveStatus string

const (
	SaveStatusNotSaved SaveStatus = "not_saved"
	SaveStatusSaving   SaveStatus = "saving"
	SaveStatusSaved    SaveStatus = "saved"
	SaveStatusError    SaveStatus = "error"
)

// Status derives the indicator from the state. An in-flight save wins over
// a previous error so the user sees the retry happening.
func (s SaveState) Status() SaveStatus {
	switch {
	case s.IsSaving:
		return SaveStatusSaving
	case s.LastError != "":
		return SaveStatusError
	case s.LastSavedAt != nil:
		return SaveStatusSaved
	default:
		return SaveStatusNotSaved
	}
}

// Label renders the indicator text.
func (s SaveState) Label() string {
	switch s.Status() {
	case SaveStatusSaving:
		return "Saving..."
	case SaveStatusError:
		return "Not saved: " + s.LastError
	case SaveStatusSaved:
		return "Saved at " + s.LastSavedAt.Local().Format("15:04:05")
	default:
		return "Not saved"
	}
}
