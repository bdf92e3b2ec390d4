package ir

// Version constants for emitted documents and the tool itself.
const (
	// RegistryVersion is written into component-definitions and
	// linking-rules documents.
	RegistryVersion = "1.0"

	// ToolVersion is the triangulate release version.
	ToolVersion = "0.1.0"
)
