package models

// NodeOutcome records what happened to a single sitemap node during traversal
type NodeOutcome string

const (
	NodeOutcomeUnset       NodeOutcome = ""            // Zero value = not processed
	NodeOutcomeTerminal    NodeOutcome = "terminal"    // urlset document, entries filtered
	NodeOutcomeIndex       NodeOutcome = "index"       // Index document, children considered
	NodeOutcomeUnparseable NodeOutcome = "unparseable" // Treated as an index with no entries
	NodeOutcomeFailed      NodeOutcome = "failed"      // Fetch or decompress failure, zero links
	NodeOutcomeDuplicate   NodeOutcome = "duplicate"   // Already visited in this traversal
)

// String implements fmt.Stringer for logging
func (o NodeOutcome) String() string {
	if o == "" {
		return "unset"
	}
	return string(o)
}

// IsFetched returns true if the node's content was retrieved
func (o NodeOutcome) IsFetched() bool {
	switch o {
	case NodeOutcomeTerminal, NodeOutcomeIndex, NodeOutcomeUnparseable:
		return true
	}
	return false
}

// FetchPath names the tier used to retrieve a URL
type FetchPath string

const (
	FetchPathDirect   FetchPath = "direct"   // Plain HTTP GET
	FetchPathRendered FetchPath = "rendered" // Headless browser
)

// String implements fmt.Stringer for logging
func (p FetchPath) String() string {
	if p == "" {
		return "unknown"
	}
	return string(p)
}
