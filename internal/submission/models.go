package submission

import (
	"time"

	"github.com/mind-engage/learncore/internal/grading"
)

// SchemaVersion of the persisted submission record.
const SchemaVersion = 1

// Submission is one scored attempt at a task. The latest attempt per
// (task, learner) is authoritative; earlier ones are kept for audit.
type Submission struct {
	ID            string                   `json:"id"`
	TaskID        string                   `json:"taskId"`
	SessionID     string                   `json:"sessionId"`
	CourseID      string                   `json:"courseId"`
	LearnerID     string                   `json:"learnerId"`
	RequestToken  string                   `json:"requestToken,omitempty"`
	Attempt       int                      `json:"attempt"`
	Answers       grading.Answers          `json:"answers"`
	Results       []grading.QuestionResult `json:"results"`
	Score         int                      `json:"score"`
	Passed        bool                     `json:"passed"`
	TimeSpentSec  int64                    `json:"timeSpentSeconds"`
	KeySnapshot   []grading.Question       `json:"-"`
	SchemaVersion int                      `json:"schemaVersion"`
	SubmittedAt   time.Time                `json:"submittedAt"`
}

type Input struct {
	TaskID       string
	SessionID    string
	LearnerID    string
	Answers      grading.Answers
	TimeSpentSec int64
	RequestToken string
}

// RescoreReport compares a stored score with a fresh run of the engine
// over the stored key snapshot.
type RescoreReport struct {
	SubmissionID string         `json:"submissionId"`
	StoredScore  int            `json:"storedScore"`
	StoredPassed bool           `json:"storedPassed"`
	Result       grading.Result `json:"result"`
	Match        bool           `json:"match"`
}
