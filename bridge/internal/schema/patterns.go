package schema

// Token shapes shared by the Bluesky event kinds. Patterns are unanchored;
// the parser anchors them at the cursor or searches for them after a
// whitespace boundary.
const (
	PatternATURI     = `at://(?:did:[a-z0-9]+:[a-zA-Z0-9._:%-]+|[a-zA-Z0-9.-]+)/[a-zA-Z0-9.-]+/[a-zA-Z0-9._~-]+`
	PatternCID       = `(?:z[a-zA-Z0-9]{48}|b[a-z2-7]{50,})`
	PatternDID       = `did:[a-z0-9]+:[a-zA-Z0-9._:%-]+`
	PatternLangTag   = `[A-Za-z]{2,8}(?:-[A-Za-z0-9]{1,8})*`
	PatternLangs     = PatternLangTag + `(?:,` + PatternLangTag + `)*`
	PatternEmbedType = `app\.bsky\.embed\.[a-zA-Z0-9]+`
	PatternInt       = `-?\d+`
	PatternFloat     = `-?\d+\.\d{6}`
	PatternNanos     = `\d{18,19}`

	// PatternExternalURI accepts any whitespace-free token that does not
	// begin with "at://", so an absent external link followed by a record
	// URI is not swallowed.
	PatternExternalURI = `(?:[^\sa]\S*|a(?:[^\st]\S*)?|at(?:[^\s:]\S*)?|at:(?:[^\s/]\S*)?|at:/(?:[^\s/]\S*)?)`
)

// ProfileSeparator joins display name and description in the combined
// profile text field. Either half containing it makes the split ambiguous.
const ProfileSeparator = "|||"
