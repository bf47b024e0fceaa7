// Package semantictokens reconciles semantic token results between a
// language service and the client that renders them.
package semantictokens

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	lsp "go.lsp.dev/protocol"

	lserrors "github.com/lucacox/go-lspsync/internal/errors"
)

// Method is the registration method of the feature
const Method = "textDocument/semanticTokens"

// Request kinds, used by the dispatcher when logging
const (
	KindFull  = "full"
	KindDelta = "delta"
	KindRange = "range"
)

// Full is a complete token array for a document or range
type Full struct {
	// ResultID identifies this result for a later delta request. Empty for
	// range results and for services that do not track results.
	ResultID string
	Data     []uint32
}

// Delta is a set of edits against the result named by the request's prior id
type Delta struct {
	ResultID string
	Edits    []lsp.SemanticTokensEdit
}

// Result is the outcome of a delta request. Exactly one of Full and Delta
// is set, because a service may answer a delta request with a full result.
type Result struct {
	Full  *Full
	Delta *Delta
}

// IsDelta reports whether the service answered with edits
func (r Result) IsDelta() bool {
	return r.Delta != nil
}

// ResultID returns the id of whichever variant is set
func (r Result) ResultID() string {
	if r.Delta != nil {
		return r.Delta.ResultID
	}
	if r.Full != nil {
		return r.Full.ResultID
	}
	return ""
}

// DecodeResult decides by shape which variant raw holds. An "edits" member
// makes it a Delta, a "data" member a Full; either must be an array. A null
// answer, or one carrying neither, is an empty Full.
func DecodeResult(raw json.RawMessage) (Result, error) {
	if len(raw) == 0 {
		return Result{Full: &Full{}}, nil
	}
	if !gjson.ValidBytes(raw) {
		return Result{}, lserrors.NewError(lserrors.ProtocolShapeError, "semantic tokens result is not valid JSON")
	}

	doc := gjson.ParseBytes(raw)
	switch {
	case doc.Type == gjson.Null:
		return Result{Full: &Full{}}, nil
	case !doc.IsObject():
		return Result{}, lserrors.NewError(lserrors.ProtocolShapeError, "semantic tokens result is not an object").WithDetails(doc.Raw)
	case doc.Get("edits").Exists():
		if !doc.Get("edits").IsArray() {
			return Result{}, lserrors.NewError(lserrors.ProtocolShapeError, "semantic tokens edits is not an array").WithDetails(doc.Get("edits").Raw)
		}
		var delta lsp.SemanticTokensDelta
		if err := json.Unmarshal(raw, &delta); err != nil {
			return Result{}, lserrors.NewError(lserrors.ProtocolShapeError, "malformed semantic tokens delta").WithCause(err)
		}
		return Result{Delta: &Delta{ResultID: delta.ResultID, Edits: delta.Edits}}, nil
	case doc.Get("data").Exists():
		if !doc.Get("data").IsArray() {
			return Result{}, lserrors.NewError(lserrors.ProtocolShapeError, "semantic tokens data is not an array").WithDetails(doc.Get("data").Raw)
		}
		var full lsp.SemanticTokens
		if err := json.Unmarshal(raw, &full); err != nil {
			return Result{}, lserrors.NewError(lserrors.ProtocolShapeError, "malformed semantic tokens").WithCause(err)
		}
		return Result{Full: &Full{ResultID: full.ResultID, Data: full.Data}}, nil
	default:
		return Result{Full: &Full{ResultID: doc.Get("resultId").String()}}, nil
	}
}

// ApplyEdits applies edits to data in the order given. Each edit removes
// DeleteCount entries at Start and inserts its own data there. data is not
// modified.
func ApplyEdits(data []uint32, edits []lsp.SemanticTokensEdit) ([]uint32, error) {
	out := make([]uint32, len(data))
	copy(out, data)

	for i, edit := range edits {
		start := int(edit.Start)
		end := start + int(edit.DeleteCount)
		if start > len(out) || end > len(out) {
			return nil, lserrors.NewErrorf(lserrors.ProtocolShapeError, "edit %d out of bounds", i).
				WithDetails(fmt.Sprintf("start=%d deleteCount=%d length=%d", edit.Start, edit.DeleteCount, len(out)))
		}

		next := make([]uint32, 0, len(out)-int(edit.DeleteCount)+len(edit.Data))
		next = append(next, out[:start]...)
		next = append(next, edit.Data...)
		next = append(next, out[end:]...)
		out = next
	}
	return out, nil
}
