package domain

import "time"

// Тип события журнала модерации.
type AuditKind string

const (
	AuditMemberJoined    AuditKind = "MemberJoined"
	AuditMemberApproved  AuditKind = "MemberApproved"
	AuditMemberDenied    AuditKind = "MemberDenied"
	AuditRequestOrphaned AuditKind = "RequestOrphaned"
)

// Severity определяет цвет embed в канале логов.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityDanger  Severity = "danger"
)

// AuditEvent — структурированная запись для канала аудита.
type AuditEvent struct {
	ID          string    `json:"id"`
	Kind        AuditKind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ActorID     string    `json:"actor_id"`
	ActorName   string    `json:"actor_name"`
	SubjectID   uint64    `json:"subject_id"`
	RequestID   string    `json:"request_id"`
	TraceID     string    `json:"trace_id"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}
