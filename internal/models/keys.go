package models

// Persisted state keys. Values are opaque text, JSON where structured.
const (
	KeyPrompt            = "prompt"             // string
	KeySpecID            = "spec_id"            // string
	KeySpecContent       = "spec_content"       // string - generated OpenAPI document
	KeyAnalysisResult    = "analysis_result"    // JSON AnalysisResult
	KeyCurrentStage      = "current_stage"      // Stage
	KeyDomainDescription = "domain_description" // string - last submitted description
	KeySecuritySpecs     = "security_specs"     // JSON object
	KeyBusinessContexts  = "business_contexts"  // string
	KeyASCIIDiagram      = "ascii_diagram"      // string
	KeyASCIIDiagramHash  = "ascii_diagram_hash" // decimal fingerprint

	KeyProject       = "project"        // JSON ProjectInfo
	KeyUploadedImage = "uploaded_image" // JSON UploadedImage
)

// PersistedKeys lists every key owned by the orchestrator.
var PersistedKeys = []string{
	KeyPrompt,
	KeySpecID,
	KeySpecContent,
	KeyAnalysisResult,
	KeyCurrentStage,
	KeyDomainDescription,
	KeySecuritySpecs,
	KeyBusinessContexts,
	KeyASCIIDiagram,
	KeyASCIIDiagramHash,
	KeyProject,
	KeyUploadedImage,
}
