package messaging

// Subject constants for the skybridge message bus.
// Follow the pattern: {domain}.{resource}.{action}
const (
	// Engine input subjects - attribute vectors handed to the complex-event engine
	SubjectEngineEvents = "skybridge.engine.events" // Append .{Stream}.{Event} per kind
	SubjectEngineDDL    = "skybridge.engine.ddl"    // Stream declarations, published on startup

	// Engine output subjects - textual complex-event exports
	SubjectEngineResults = "skybridge.engine.results" // Append .{alias}

	// Dead letter subjects - primitives that failed to decode cleanly
	SubjectDLQ = "skybridge.dlq" // Append .{reason}
)

// Queue group names for load-balanced consumers.
const (
	QueueResultsWorkers = "results-workers" // Pool of complex-event decoders
)

// EngineEventSubject returns the subject for one event kind.
// Example: skybridge.engine.events.BlueskyEvents.CreatePost
func EngineEventSubject(kind string) string {
	return SubjectEngineEvents + "." + kind
}

// EngineResultsSubject returns the subject a query alias exports to.
// Example: skybridge.engine.results.viral_posts
func EngineResultsSubject(alias string) string {
	return SubjectEngineResults + "." + alias
}

// AliasFromResultsSubject extracts the query alias from a results subject.
// Returns "" for subjects outside the results namespace.
func AliasFromResultsSubject(subject string) string {
	prefix := SubjectEngineResults + "."
	if len(subject) <= len(prefix) || subject[:len(prefix)] != prefix {
		return ""
	}
	return subject[len(prefix):]
}

// DLQSubject returns the dead letter subject for a failure reason.
// Example: skybridge.dlq.parse_error
func DLQSubject(reason string) string {
	return SubjectDLQ + "." + reason
}
