package server

import (
	"gatherline/internal/config"
	"gatherline/internal/domain"
)

// Request payloads

type CreateEventRequest struct {
	ID         *string        `json:"id,omitempty"`
	Title      string         `json:"title"`
	GuestCount int            `json:"guest_count,omitempty"`
	Venue      string         `json:"venue,omitempty"`
	Dietary    map[string]int `json:"dietary,omitempty"`
	Equipment  []string       `json:"equipment,omitempty"`
	HostID     *string        `json:"host_id,omitempty"`
	HostName   *string        `json:"host_name,omitempty"`
}

type UpdateEventRequest struct {
	Title      *string        `json:"title,omitempty"`
	GuestCount *int           `json:"guest_count,omitempty"`
	Venue      *string        `json:"venue,omitempty"`
	Dietary    map[string]int `json:"dietary,omitempty"`
	Equipment  []string       `json:"equipment,omitempty"`
}

type TransitionRequest struct {
	Status string `json:"status" enum:"DRAFT,CONFIRMING,FROZEN,COMPLETE"`
	Reason string `json:"reason,omitempty"`
}

type CreateTeamRequest struct {
	ID            *string `json:"id,omitempty"`
	Name          string  `json:"name"`
	CoordinatorID *string `json:"coordinator_id,omitempty"`
}

type UpdateTeamRequest struct {
	Name          *string `json:"name,omitempty"`
	CoordinatorID *string `json:"coordinator_id,omitempty"`
}

type CreateItemRequest struct {
	ID       *string `json:"id,omitempty"`
	Name     string  `json:"name"`
	Category string  `json:"category,omitempty"`
	Quantity int     `json:"quantity,omitempty"`
	Critical bool    `json:"critical,omitempty"`
	DueAt    *string `json:"due_at,omitempty" format:"date-time"`
}

type UpdateItemRequest struct {
	Name     *string `json:"name,omitempty"`
	Category *string `json:"category,omitempty"`
	Quantity *int    `json:"quantity,omitempty"`
	Critical *bool   `json:"critical,omitempty"`
	DueAt    *string `json:"due_at,omitempty" format:"date-time"`
}

type AssignItemRequest struct {
	PersonID string `json:"person_id"`
}

type RespondRequest struct {
	Response string `json:"response" enum:"PENDING,ACCEPTED,DECLINED"`
}

type AddPersonRequest struct {
	PersonID string  `json:"person_id"`
	Name     string  `json:"name,omitempty"`
	Phone    string  `json:"phone,omitempty"`
	Role     string  `json:"role" enum:"HOST,COORDINATOR,PARTICIPANT"`
	TeamID   *string `json:"team_id,omitempty"`
}

type RecordConflictRequest struct {
	ID       *string                `json:"id,omitempty"`
	Type     string                 `json:"type"`
	Severity string                 `json:"severity" enum:"CRITICAL,SIGNIFICANT,ADVISORY"`
	Summary  string                 `json:"summary,omitempty"`
	Inputs   []ConflictInputPayload `json:"inputs,omitempty"`
}

type ConflictInputPayload struct {
	EntityKind string  `json:"entity_kind" enum:"event,item,team"`
	EntityID   *string `json:"entity_id,omitempty"`
	FieldPath  string  `json:"field_path"`
	Value      any     `json:"value,omitempty"`
}

type AcknowledgeRequest struct {
	ImpactStatement string `json:"impact_statement"`
	Understood      bool   `json:"understood"`
	MitigationType  string `json:"mitigation_type"`
	Visibility      string `json:"visibility" enum:"HOSTS,COORDINATORS,PARTICIPANTS"`
}

// Response payloads

type EventResponse struct {
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

type ReadinessResponse struct {
	Ready      bool `json:"ready"`
	Unassigned int  `json:"unassigned"`
	Declined   int  `json:"declined"`
}

type TeamResponse struct {
	ID            string  `json:"id"`
	EventID       string  `json:"event_id"`
	Name          string  `json:"name"`
	CoordinatorID *string `json:"coordinator_id,omitempty"`
	CreatedAt     string  `json:"created_at" format:"date-time"`
}

type AssignmentResponse struct {
	ItemID    string `json:"item_id"`
	PersonID  string `json:"person_id"`
	Response  string `json:"response" enum:"PENDING,ACCEPTED,DECLINED"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type ItemResponse struct {
	ID         string              `json:"id"`
	TeamID     string              `json:"team_id"`
	Name       string              `json:"name"`
	Category   string              `json:"category,omitempty"`
	Quantity   int                 `json:"quantity"`
	Critical   bool                `json:"critical"`
	Status     string              `json:"status" enum:"UNASSIGNED,ASSIGNED"`
	DueAt      *string             `json:"due_at,omitempty" format:"date-time"`
	Assignment *AssignmentResponse `json:"assignment,omitempty"`
	CreatedAt  string              `json:"created_at" format:"date-time"`
	UpdatedAt  string              `json:"updated_at" format:"date-time"`
}

type MembershipResponse struct {
	PersonID string  `json:"person_id"`
	EventID  string  `json:"event_id"`
	Role     string  `json:"role" enum:"HOST,COORDINATOR,PARTICIPANT"`
	TeamID   *string `json:"team_id,omitempty"`
}

type ConflictResponse struct {
	ID          string                 `json:"id"`
	EventID     string                 `json:"event_id"`
	Type        string                 `json:"type"`
	Severity    string                 `json:"severity" enum:"CRITICAL,SIGNIFICANT,ADVISORY"`
	Status      string                 `json:"status" enum:"OPEN,ACKNOWLEDGED,RESOLVED,DISMISSED,DELEGATED"`
	Summary     string                 `json:"summary,omitempty"`
	Inputs      []ConflictInputPayload `json:"inputs,omitempty"`
	DetectedAt  string                 `json:"detected_at" format:"date-time"`
	DismissedAt *string                `json:"dismissed_at,omitempty" format:"date-time"`
	UpdatedAt   string                 `json:"updated_at" format:"date-time"`
}

type AcknowledgementResponse struct {
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

type AuditEntryResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	EventID    string `json:"event_id"`
	ActorID    string `json:"actor_id"`
	Action     string `json:"action"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

type EventConfigResponse struct {
	Event struct {
		ID string `json:"id"`
	} `json:"event"`
	Acknowledgement struct {
		MinImpactLength int `json:"min_impact_length"`
		MitigationTypes map[string]struct {
			Description string `json:"description"`
		} `json:"mitigation_types"`
	} `json:"acknowledgement"`
	Conflicts struct {
		Types map[string]struct {
			Description string `json:"description"`
		} `json:"types"`
	} `json:"conflicts"`
}

type paginatedAuditEntries struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

// Conversion helpers

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		Title:      e.Title,
		Status:     e.Status,
		Locked:     e.Locked,
		GuestCount: e.GuestCount,
		Venue:      e.Venue,
		Dietary:    e.Dietary,
		Equipment:  e.Equipment,
		Version:    e.Version,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func teamResponse(t domain.Team) TeamResponse {
	return TeamResponse(t)
}

func assignmentResponse(a domain.Assignment) AssignmentResponse {
	return AssignmentResponse(a)
}

func itemResponse(it domain.Item) ItemResponse {
	res := ItemResponse{
		ID:        it.ID,
		TeamID:    it.TeamID,
		Name:      it.Name,
		Category:  it.Category,
		Quantity:  it.Quantity,
		Critical:  it.Critical,
		Status:    it.Status,
		DueAt:     it.DueAt,
		CreatedAt: it.CreatedAt,
		UpdatedAt: it.UpdatedAt,
	}
	if it.Assignment != nil {
		a := assignmentResponse(*it.Assignment)
		res.Assignment = &a
	}
	return res
}

func membershipResponse(m domain.Membership) MembershipResponse {
	return MembershipResponse(m)
}

func conflictResponse(c domain.Conflict) ConflictResponse {
	inputs := make([]ConflictInputPayload, 0, len(c.Inputs))
	for _, in := range c.Inputs {
		inputs = append(inputs, ConflictInputPayload(in))
	}
	return ConflictResponse{
		ID:          c.ID,
		EventID:     c.EventID,
		Type:        c.Type,
		Severity:    c.Severity,
		Status:      c.Status,
		Summary:     c.Summary,
		Inputs:      inputs,
		DetectedAt:  c.DetectedAt,
		DismissedAt: c.DismissedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func ackResponse(a domain.Acknowledgement) AcknowledgementResponse {
	return AcknowledgementResponse(a)
}

func auditEntryResponse(e domain.AuditEntry) AuditEntryResponse {
	return AuditEntryResponse(e)
}

func configResponse(cfg *config.Config) EventConfigResponse {
	var res EventConfigResponse
	res.Event.ID = cfg.Event.ID
	res.Acknowledgement.MinImpactLength = cfg.Acknowledgement.MinImpactLength
	res.Acknowledgement.MitigationTypes = map[string]struct {
		Description string `json:"description"`
	}{}
	for id, mt := range cfg.Acknowledgement.MitigationTypes {
		res.Acknowledgement.MitigationTypes[id] = struct {
			Description string `json:"description"`
		}{Description: mt.Description}
	}
	res.Conflicts.Types = map[string]struct {
		Description string `json:"description"`
	}{}
	for id, ct := range cfg.Conflicts.Types {
		res.Conflicts.Types[id] = struct {
			Description string `json:"description"`
		}{Description: ct.Description}
	}
	return res
}

func conflictInputs(in []ConflictInputPayload) []domain.ConflictInput {
	out := make([]domain.ConflictInput, 0, len(in))
	for _, p := range in {
		out = append(out, domain.ConflictInput(p))
	}
	return out
}
