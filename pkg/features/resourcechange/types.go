// Package resourcechange carries bracketed, sequence numbered batches of
// file system changes between a producer and a consumer.
//
// A session opens with an UpdateBegin marker and closes with an UpdateEnd
// marker. The end marker either lists the discrete changes of the session
// or, when there were more than the producer's threshold, only says that
// everything under the root changed.
package resourcechange

import (
	"fmt"

	lsp "go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
)

// Method is the notification carrying resource changes
const Method = "workspace/didChangeResources"

// ExperimentalKey is the client capability announcing resource change support
const ExperimentalKey = "resourceChanges"

// ChangeKind marks the boundaries of a session
type ChangeKind int

const (
	UpdateBegin ChangeKind = 1
	UpdateEnd   ChangeKind = 2
)

func (k ChangeKind) String() string {
	switch k {
	case UpdateBegin:
		return "begin"
	case UpdateEnd:
		return "end"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// FileChange is one discrete change inside a session
type FileChange struct {
	Sequence int64         `json:"sequence"`
	Event    lsp.FileEvent `json:"event"`
}

// Change is a session marker
type Change struct {
	Sequence int64      `json:"sequence"`
	RootURI  uri.URI    `json:"rootUri"`
	Kind     ChangeKind `json:"kind"`

	// AllChanged and FileChanges are only meaningful on UpdateEnd
	AllChanged  bool         `json:"allChanged,omitempty"`
	FileChanges []FileChange `json:"fileChanges,omitempty"`
}

// Params are the params of the resource change notification
type Params struct {
	Changes []Change `json:"changes"`
}

// OrderingViolation reports a sequence number that does not fit the stream
type OrderingViolation struct {
	Root     uri.URI
	Previous int64
	Got      int64
	Reason   string
}

func (v *OrderingViolation) Error() string {
	return fmt.Sprintf("ordering violation on %s: %s (previous %d, got %d)", v.Root, v.Reason, v.Previous, v.Got)
}

// Unwrap exposes the violation as a coded error
func (v *OrderingViolation) Unwrap() error {
	return lserrors.NewError(lserrors.OrderingViolation, v.Reason).WithDetails(string(v.Root))
}
