package capability

import (
	lsp "go.lsp.dev/protocol"
)

// TextDocument returns the textDocument section of caps, creating it if needed
func TextDocument(caps *lsp.ClientCapabilities) *lsp.TextDocumentClientCapabilities {
	if caps.TextDocument == nil {
		caps.TextDocument = &lsp.TextDocumentClientCapabilities{}
	}
	return caps.TextDocument
}

// Workspace returns the workspace section of caps, creating it if needed
func Workspace(caps *lsp.ClientCapabilities) *lsp.WorkspaceClientCapabilities {
	if caps.Workspace == nil {
		caps.Workspace = &lsp.WorkspaceClientCapabilities{}
	}
	return caps.Workspace
}

// SetExperimental sets one key of the experimental section, keeping the
// keys other features declared
func SetExperimental(caps *lsp.ClientCapabilities, key string, value interface{}) {
	section, ok := caps.Experimental.(map[string]interface{})
	if !ok || section == nil {
		section = make(map[string]interface{})
		caps.Experimental = section
	}
	section[key] = value
}
