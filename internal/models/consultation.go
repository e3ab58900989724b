package models

import "time"

// ConsultationStatus enumerates the lifecycle states of a request.
type ConsultationStatus string

const (
	StatusPending            ConsultationStatus = "PENDING"
	StatusAccepted           ConsultationStatus = "ACCEPTED"
	StatusRejected           ConsultationStatus = "REJECTED"
	StatusStarted            ConsultationStatus = "STARTED"
	StatusCompleted          ConsultationStatus = "COMPLETED"
	StatusCancelledByStudent ConsultationStatus = "CANCELLED_BY_STUDENT"
	StatusCancelledByFaculty ConsultationStatus = "CANCELLED_BY_FACULTY"
	StatusNoShowStudent      ConsultationStatus = "NO_SHOW_STUDENT"
	StatusNoShowFaculty      ConsultationStatus = "NO_SHOW_FACULTY"
	StatusError              ConsultationStatus = "ERROR"
)

// Terminal reports whether no further transitions are permitted.
func (s ConsultationStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelledByStudent,
		StatusCancelledByFaculty, StatusNoShowStudent, StatusNoShowFaculty, StatusError:
		return true
	}
	return false
}

// Consultation represents a consultation request between a student and a
// faculty member. Status transitions are monotonic: each state permits a
// fixed set of successors and terminal states permit none.
type Consultation struct {
	ID          string             `db:"id" json:"id"`
	StudentID   string             `db:"student_id" json:"student_id"`
	FacultyID   string             `db:"faculty_id" json:"faculty_id"`
	Message     string             `db:"message" json:"message"`
	CourseCode  *string            `db:"course_code" json:"course_code,omitempty"`
	Status      ConsultationStatus `db:"status" json:"status"`
	RequestedAt time.Time          `db:"requested_at" json:"requested_at"`
	AcceptedAt  *time.Time         `db:"accepted_at" json:"accepted_at,omitempty"`
	CompletedAt *time.Time         `db:"completed_at" json:"completed_at,omitempty"`
}

// ConsultationDetail joins the subject and counterparty display data used by
// notification payloads and GUI listings.
type ConsultationDetail struct {
	Consultation
	StudentName       string `db:"student_name" json:"student_name"`
	StudentDepartment string `db:"student_department" json:"student_department"`
	FacultyName       string `db:"faculty_name" json:"faculty_name"`
}

// ConsultationFilter restricts lifecycle listings.
type ConsultationFilter struct {
	StudentID string
	FacultyID string
	Status    ConsultationStatus
	Page      int
	PageSize  int
}
