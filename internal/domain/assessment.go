package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AssessmentKind identifies one of the quiz categories.
type AssessmentKind string

const (
	KindDISC       AssessmentKind = "disc"
	KindSoftSkills AssessmentKind = "soft_skills"
	KindSJT        AssessmentKind = "sjt"
	KindComplete   AssessmentKind = "complete"
)

// Kinds lists every assessment kind.
var Kinds = []AssessmentKind{KindDISC, KindSoftSkills, KindSJT, KindComplete}

// Valid reports whether k is a known assessment kind.
func (k AssessmentKind) Valid() bool {
	switch k {
	case KindDISC, KindSoftSkills, KindSJT, KindComplete:
		return true
	}
	return false
}

// ParseKind converts s to an AssessmentKind.
func ParseKind(s string) (AssessmentKind, error) {
	k := AssessmentKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown assessment kind %q", s)
	}
	return k, nil
}

// RecordStatus is the lifecycle state of a stored assessment.
type RecordStatus string

const (
	StatusInProgress RecordStatus = "in_progress"
	StatusCompleted  RecordStatus = "completed"
	StatusAbandoned  RecordStatus = "abandoned"
)

// DISCResult holds partial DISC profile scores.
type DISCResult struct {
	Dominance         float64 `json:"d" validate:"gte=0"`
	Influence         float64 `json:"i" validate:"gte=0"`
	Steadiness        float64 `json:"s" validate:"gte=0"`
	Conscientiousness float64 `json:"c" validate:"gte=0"`
	PrimaryStyle      string  `json:"primary_style,omitempty" validate:"omitempty,oneof=D I S C"`
}

// SoftSkillsResult holds self-ratings keyed by skill name.
type SoftSkillsResult struct {
	Ratings map[string]int `json:"ratings" validate:"dive,keys,required,endkeys,min=1,max=5"`
}

// SJTResult holds situational-judgment responses keyed by scenario.
type SJTResult struct {
	Responses map[string]string `json:"responses" validate:"dive,keys,required,endkeys,required"`
	Score     *float64          `json:"score,omitempty"`
}

// Scratch is step and answer data the UI needs to resume mid-flow.
type Scratch struct {
	Step    int               `json:"step" validate:"gte=0"`
	Answers map[string]string `json:"answers,omitempty"`
}

// AssessmentProgress is the unit of work persisted while a user takes an
// assessment. Result fields are nil until the matching section has data.
type AssessmentProgress struct {
	RecordID   string            `json:"id,omitempty"`
	Kind       AssessmentKind    `json:"assessment_type" validate:"required,oneof=disc soft_skills sjt complete"`
	DISC       *DISCResult       `json:"disc_results,omitempty" validate:"omitempty"`
	SoftSkills *SoftSkillsResult `json:"soft_skills_results,omitempty" validate:"omitempty"`
	SJT        *SJTResult        `json:"sjt_results,omitempty" validate:"omitempty"`
	Scratch    Scratch           `json:"scratch"`
}

// Clone returns a deep copy of p.
func (p AssessmentProgress) Clone() AssessmentProgress {
	out := p
	if p.DISC != nil {
		d := *p.DISC
		out.DISC = &d
	}
	if p.SoftSkills != nil {
		out.SoftSkills = &SoftSkillsResult{Ratings: cloneMap(p.SoftSkills.Ratings)}
	}
	if p.SJT != nil {
		s := SJTResult{Responses: cloneMap(p.SJT.Responses)}
		if p.SJT.Score != nil {
			score := *p.SJT.Score
			s.Score = &score
		}
		out.SJT = &s
	}
	out.Scratch.Answers = cloneMap(p.Scratch.Answers)
	return out
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// AssessmentRecord is an assessment as held by the remote record store.
type AssessmentRecord struct {
	ID          string             `json:"id"`
	UserID      string             `json:"user_id"`
	Kind        AssessmentKind     `json:"assessment_type"`
	Status      RecordStatus       `json:"status"`
	Progress    AssessmentProgress `json:"progress"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// IsEditable reports whether the record still accepts progress updates.
func (r *AssessmentRecord) IsEditable() bool {
	return r.Status == StatusInProgress
}

// MarshalProgress encodes the progress payload for storage.
func (r *AssessmentRecord) MarshalProgress() (string, error) {
	data, err := json.Marshal(r.Progress)
	if err != nil {
		return "", fmt.Errorf("marshal progress: %w", err)
	}
	return string(data), nil
}

// BackupRecord is the locally stored shadow of the last attempted write.
type BackupRecord struct {
	Payload    AssessmentProgress `json:"payload"`
	CapturedAt time.Time          `json:"captured_at"`
}

// Expired reports whether the backup is older than ttl as of now.
func (b *BackupRecord) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(b.CapturedAt) > ttl
}
