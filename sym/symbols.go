// Package sym defines the glyphs pact uses to mark pipeline stages in logs,
// CLI help and the certificate feed. They are stable across releases.
package sym

// Stage glyphs, in the order a trace moves through certification.
const (
	Ingest  = "⨳" // raw span batches arriving from a source
	Tree    = "⋔" // span tree reconstruction
	Path    = "⟶" // execution path extraction
	Gate    = "⊢" // precondition gating
	Judge   = "⊨" // language-model judge calls
	Verdict = "✓" // contract status derivation
	Store   = "⊔" // certificate storage
)

// System glyphs.
const (
	AM    = "≡" // configuration
	Open  = "✿" // graceful startup
	Close = "❀" // graceful shutdown
)

// SymbolToCommand maps glyphs to the CLI command that exposes the stage.
var SymbolToCommand = map[string]string{
	AM:     "am",
	Ingest: "certify",
	Path:   "path",
	Judge:  "verify",
	Store:  "serve",
}

// CommandToSymbol maps CLI commands back to their glyph.
var CommandToSymbol = map[string]string{
	"am":      AM,
	"certify": Ingest,
	"path":    Path,
	"verify":  Judge,
	"serve":   Store,
}

// CommandDescriptions provides one-line help for each glyph-bearing command.
var CommandDescriptions = map[string]string{
	"am":      "Configuration: settings and where they come from",
	"certify": "Certify: consume spans and write certificates",
	"path":    "Path: show the execution path of a trace",
	"verify":  "Verify: check a trace against a specification",
	"serve":   "Serve: certificate API and live feed",
}

// Stages lists stage glyphs in pipeline order.
var Stages = []string{Ingest, Tree, Path, Gate, Judge, Verdict, Store}
