// gateway/model/requests.go
package model

// Prototypes for the named payload schemas registered at startup. The
// gateway validates proxied payloads against these before anything reaches
// an upstream; query prototypes use string fields because query parameters
// arrive as strings.

// Schema names bound to routes.
const (
	SchemaCreateMember   = "create-member"
	SchemaUpdateMember   = "update-member"
	SchemaAnalyticsQuery = "analytics-query"
	SchemaGraphMutation  = "graph-mutation"
)

// CreateMemberRequest guards POST /api/v1/members.
type CreateMemberRequest struct {
	Name        string   `json:"name" validate:"required,min=1,max=128"`
	Email       string   `json:"email" validate:"required,email"`
	DisplayName string   `json:"display_name" validate:"omitempty,max=128"`
	Roles       []string `json:"roles" validate:"omitempty,dive,oneof=guest member moderator admin service"`
}

// UpdateMemberRequest guards PUT /api/v1/members/:id.
type UpdateMemberRequest struct {
	Name        string   `json:"name" validate:"omitempty,min=1,max=128"`
	Email       string   `json:"email" validate:"omitempty,email"`
	DisplayName string   `json:"display_name" validate:"omitempty,max=128"`
	Roles       []string `json:"roles" validate:"omitempty,dive,oneof=guest member moderator admin service"`
}

// AnalyticsQuery guards GET /api/v1/analytics.
type AnalyticsQuery struct {
	Window string `json:"window" validate:"required,oneof=1h 24h 7d 30d"`
	Page   string `json:"page" validate:"omitempty,numeric"`
	Size   string `json:"size" validate:"omitempty,numeric"`
}

// GraphMutationRequest guards POST /api/v1/graph.
type GraphMutationRequest struct {
	Operation string `json:"operation" validate:"required,oneof=link unlink"`
	SourceID  string `json:"source_id" validate:"required"`
	TargetID  string `json:"target_id" validate:"required"`
}
