// internal/types/models.go
package types

// MetaContext groups sessions under a named context. SessionIDs only grow.
type MetaContext struct {
	ID         MetaContextID `json:"id"`
	Name       string        `json:"name"`
	SessionIDs []SessionID   `json:"sessionIds"`
}
