package types

// Event represents a structured state change notification. Events are
// fire-and-forget: the engines emit them for external observers and never
// consume them.
type Event struct {
	Type       string
	Attributes map[string]string
}
