package catalog

import "time"

// State is the lifecycle state of a catalog record. States progress
// forward only; "failed" is reachable from anywhere and recoverable back
// to the state it was entered from.
type State string

const (
	StateCollected   State = "collected"
	StatePDFFetched  State = "pdf_fetched"
	StateOrganized   State = "organized"
	StateNoteWritten State = "note_written"
	StateFailed      State = "failed"
)

// forwardEdges are the allowed forward transitions. collected may move
// straight to organized for papers with no retrievable PDF.
var forwardEdges = map[State][]State{
	StateCollected:  {StatePDFFetched, StateOrganized},
	StatePDFFetched: {StateOrganized},
	StateOrganized:  {StateNoteWritten},
}

// stateRank orders states for demotion decisions.
var stateRank = map[State]int{
	StateCollected:   0,
	StatePDFFetched:  1,
	StateOrganized:   2,
	StateNoteWritten: 3,
}

// ValidState reports whether s is a known lifecycle state.
func ValidState(s State) bool {
	_, ok := stateRank[s]
	return ok || s == StateFailed
}

// Paper is one catalog entry. Path fields are empty until the
// corresponding artifact is materialized on disk; empty is a valid
// state, not an error.
type Paper struct {
	IdentityKey string
	Source      string
	Provenance  []string // every source that has sighted this paper
	Title       string
	Authors     []string
	Year        int
	Categories  []string
	Abstract    string
	DOI         string
	PDFURL      string
	URL         string

	PDFPath      string
	MetadataPath string
	NotePath     string

	State     State
	PrevState State // state before entering failed; empty otherwise

	Annotation *Annotation
	References []string // resolved identity keys

	LastSyncedAt *time.Time
	CollectedAt  *time.Time
}

// Annotation is the structured analysis output merged into a record.
// ReferenceList carries raw citation strings for the graph builder.
type Annotation struct {
	Summary       string   `json:"summary"`
	KeyMethods    []string `json:"key_methods,omitempty"`
	Contributions []string `json:"contributions,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	ReferenceList []string `json:"reference_list,omitempty"`
}

// Filter selects papers from the catalog.
type Filter struct {
	States []State
	Source string // matches any provenance entry
	Limit  int
}

// Stats contains aggregate catalog statistics.
type Stats struct {
	TotalPapers   int
	ByState       map[State]int
	WithPDF       int
	WithNote      int
	CitationEdges int
	PendingCites  int
}

// Run records one batch operation (collect, organize, sync) and its
// outcome report.
type Run struct {
	ID         string
	Kind       string
	Report     string // JSON-encoded report struct
	StartedAt  *time.Time
	FinishedAt *time.Time
}
