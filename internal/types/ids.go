// internal/types/ids.go
package types

import (
	"strings"

	"github.com/google/uuid"
)

type SessionID string
type MetaContextID string
type ConnID string
type Epoch string

// GlobalSessionID is the pseudo-session that carries failures raised before
// any real session exists, such as the agent bridge failing to start.
const GlobalSessionID SessionID = "__global__"

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMetaContextID() MetaContextID {
	return MetaContextID(uuid.New().String())
}

func NewConnID() ConnID {
	return ConnID(uuid.New().String())
}

// NewEpoch identifies one run of the server process.
func NewEpoch() Epoch {
	return Epoch(uuid.New().String())
}

// ChatKey builds the lookup key used by chat front-ends, e.g. "telegram:42:100".
func ChatKey(parts ...string) string {
	return strings.Join(parts, ":")
}
