package ir

// Version constants for compiled design documents.
const (
	// FormatVersion is the design-document metadata format version.
	FormatVersion = "1"

	// ToolVersion is the viewkit version recorded in compiled documents.
	ToolVersion = "0.1.0"
)
