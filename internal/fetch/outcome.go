package fetch

// Status tags how a fetch ended.
type Status int

const (
	StatusSuccess Status = iota
	// StatusRestricted means the source wants a login or age confirmation.
	StatusRestricted
	// StatusNotFound means yt-dlp exited cleanly but left no usable file.
	StatusNotFound
	// StatusFailed covers extraction, network, unsupported sites and timeouts.
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRestricted:
		return "restricted"
	case StatusNotFound:
		return "not_found"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result describes the artifact a successful fetch produced.
type Result struct {
	Path  string
	Title string
	Size  int64
	Ext   string
}

// Outcome is what Fetch returns instead of an error. Reason is a short
// human-readable cause for non-success outcomes; Err keeps the full error
// for logs.
type Outcome struct {
	Status Status
	Result *Result
	Reason string
	Err    error
}

func (o Outcome) OK() bool {
	return o.Status == StatusSuccess && o.Result != nil
}
