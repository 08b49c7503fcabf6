package domain

// Event lifecycle stages.
const (
	StatusDraft      = "DRAFT"
	StatusConfirming = "CONFIRMING"
	StatusFrozen     = "FROZEN"
	StatusComplete   = "COMPLETE"
)

// Item assignment display statuses.
const (
	ItemUnassigned = "UNASSIGNED"
	ItemAssigned   = "ASSIGNED"
)

// Assignment responses.
const (
	ResponsePending  = "PENDING"
	ResponseAccepted = "ACCEPTED"
	ResponseDeclined = "DECLINED"
)

// Membership roles within an event.
const (
	RoleHost        = "HOST"
	RoleCoordinator = "COORDINATOR"
	RoleParticipant = "PARTICIPANT"
)

// Conflict severities.
const (
	SeverityCritical    = "CRITICAL"
	SeveritySignificant = "SIGNIFICANT"
	SeverityAdvisory    = "ADVISORY"
)

// Conflict statuses.
const (
	ConflictOpen         = "OPEN"
	ConflictAcknowledged = "ACKNOWLEDGED"
	ConflictResolved     = "RESOLVED"
	ConflictDismissed    = "DISMISSED"
	ConflictDelegated    = "DELEGATED"
)

// Acknowledgement statuses.
const (
	AckActive     = "ACTIVE"
	AckSuperseded = "SUPERSEDED"
)

// Acknowledgement visibility scopes.
const (
	VisibilityHosts        = "HOSTS"
	VisibilityCoordinators = "COORDINATORS"
	VisibilityParticipants = "PARTICIPANTS"
)

type Event struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Status     string         `json:"status" enum:"DRAFT,CONFIRMING,FROZEN,COMPLETE"`
	Locked     bool           `json:"locked"`
	GuestCount int            `json:"guest_count"`
	Venue      string         `json:"venue,omitempty"`
	Dietary    map[string]int `json:"dietary,omitempty"`
	Equipment  []string       `json:"equipment,omitempty"`
	Version    int64          `json:"version"`
	CreatedAt  string         `json:"created_at" format:"date-time"`
	UpdatedAt  string         `json:"updated_at" format:"date-time"`
}

type Team struct {
	ID            string  `json:"id"`
	EventID       string  `json:"event_id"`
	Name          string  `json:"name"`
	CoordinatorID *string `json:"coordinator_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type Item struct {
	ID        string  `json:"id"`
	TeamID    string  `json:"team_id"`
	Name      string  `json:"name"`
	Category  string  `json:"category,omitempty"`
	Quantity  int     `json:"quantity"`
	Critical  bool    `json:"critical"`
	Status    string  `json:"status" enum:"UNASSIGNED,ASSIGNED"`
	DueAt     *string `json:"due_at,omitempty" format:"date-time"`
	CreatedAt string  `json:"created_at" format:"date-time"`
	UpdatedAt string  `json:"updated_at" format:"date-time"`

	// Populated on reads; nil when no assignment row exists.
	Assignment *Assignment `json:"assignment,omitempty"`
}

type Assignment struct {
	ItemID    string `json:"item_id"`
	PersonID  string `json:"person_id"`
	Response  string `json:"response" enum:"PENDING,ACCEPTED,DECLINED"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type Person struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Membership struct {
	PersonID string  `json:"person_id"`
	EventID  string  `json:"event_id"`
	Role     string  `json:"role" enum:"HOST,COORDINATOR,PARTICIPANT"`
	TeamID   *string `json:"team_id,omitempty"`
}

type AuditEntry struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	EventID    string `json:"event_id"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

// ConflictInput is one dependency a finding was computed from: the entity,
// a dotted field path into it, and the field's value at detection time.
type ConflictInput struct {
	EntityKind string  `json:"entity_kind" enum:"event,item,team"`
	EntityID   *string `json:"entity_id"`
	FieldPath  string  `json:"field_path"`
	Value      any     `json:"value"`
}

type Conflict struct {
	ID          string          `json:"id"`
	EventID     string          `json:"event_id"`
	Type        string          `json:"type"`
	Severity    string          `json:"severity" enum:"CRITICAL,SIGNIFICANT,ADVISORY"`
	Status      string          `json:"status" enum:"OPEN,ACKNOWLEDGED,RESOLVED,DISMISSED,DELEGATED"`
	Summary     string          `json:"summary,omitempty"`
	Inputs      []ConflictInput `json:"inputs,omitempty"`
	DetectedAt  string          `json:"detected_at" format:"date-time"`
	DismissedAt *string         `json:"dismissed_at,omitempty" format:"date-time"`
	UpdatedAt   string          `json:"updated_at" format:"date-time"`
}

type Acknowledgement struct {
	ID              string  `json:"id"`
	ConflictID      string  `json:"conflict_id"`
	Status          string  `json:"status" enum:"ACTIVE,SUPERSEDED"`
	SupersedesID    *string `json:"supersedes_id,omitempty"`
	ImpactStatement string  `json:"impact_statement"`
	Understood      bool    `json:"understood"`
	MitigationType  string  `json:"mitigation_type"`
	Visibility      string  `json:"visibility" enum:"HOSTS,COORDINATORS,PARTICIPANTS"`
	CreatedBy       string  `json:"created_by"`
	CreatedAt       string  `json:"created_at" format:"date-time"`
}

type LinkToken struct {
	ID        string `json:"id"`
	PersonID  string `json:"person_id"`
	EventID   string `json:"event_id"`
	TokenHash string `json:"token_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// FreezeReadiness is the freeze gate verdict, derived by direct query over
// assignments rather than the denormalized item status.
type FreezeReadiness struct {
	Ready      bool `json:"ready"`
	Unassigned int  `json:"unassigned"`
	Declined   int  `json:"declined"`
}
