package progress

import "time"

type Status string

const (
	NotStarted Status = "not_started"
	InProgress Status = "in_progress"
	Completed  Status = "completed"
)

// StatusFor derives the enrollment status from a progress percentage.
func StatusFor(progress int) Status {
	switch {
	case progress >= 100:
		return Completed
	case progress > 0:
		return InProgress
	}
	return NotStarted
}

type Enrollment struct {
	LearnerID         string    `json:"learnerId"`
	CourseID          string    `json:"courseId"`
	Progress          int       `json:"progress"`
	Status            Status    `json:"status"`
	CompletedTasks    []string  `json:"completedTasks"`
	CompletedLessons  []string  `json:"completedLessons"`
	CertificateIssued bool      `json:"certificateIssued"`
	CertificateID     string    `json:"certificateId,omitempty"`
	IssuedAt          time.Time `json:"issuedAt"`
	EnrolledAt        time.Time `json:"enrolledAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type Certificate struct {
	ID        string    `json:"certificateId"`
	LearnerID string    `json:"learnerId"`
	CourseID  string    `json:"courseId"`
	IssuedAt  time.Time `json:"issuedAt"`
}

// Report is the per-sprint and per-session breakdown of an enrollment.
type Report struct {
	Enrollment Enrollment       `json:"enrollment"`
	Completed  int              `json:"completed"`
	Total      int              `json:"total"`
	Sprints    []SprintProgress `json:"sprints"`
}

type SprintProgress struct {
	SprintID  string            `json:"sprintId"`
	Name      string            `json:"name"`
	Completed int               `json:"completed"`
	Total     int               `json:"total"`
	Percent   int               `json:"percent"`
	Sessions  []SessionProgress `json:"sessions"`
}

type SessionProgress struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Lesson    bool   `json:"lesson"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`
	Percent   int    `json:"percent"`
}
