// gateway/audit/model.go
package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/lattice-hq/gateway/model"
)

// Record is the document indexed for one authorization decision. The
// embedded decision keeps the request identifiers so operators can join
// the trail against gateway logs.
type Record struct {
	ID string `json:"id"`
	model.AuthDecision
}

// NewRecord wraps a decision with a fresh document ID.
func NewRecord(decision model.AuthDecision) Record {
	return Record{
		ID:           uuid.NewString(),
		AuthDecision: decision,
	}
}

// Query narrows a decision trail search. From and To bound the decision
// timestamp; SubjectID and Decision are optional exact filters.
type Query struct {
	From      time.Time
	To        time.Time
	SubjectID string
	Decision  string
	Size      int
}

// DefaultQuerySize caps searches that do not ask for a size themselves.
const DefaultQuerySize = 100
