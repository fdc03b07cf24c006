// Package records turns decoded DAG-CBOR maps into a closed set of typed
// Bluesky record variants, keyed by the "$type" discriminator.
package records

// Record type discriminators.
const (
	TypePost    = "app.bsky.feed.post"
	TypeLike    = "app.bsky.feed.like"
	TypeRepost  = "app.bsky.feed.repost"
	TypeProfile = "app.bsky.actor.profile"
	TypeFollow  = "app.bsky.graph.follow"
	TypeBlock   = "app.bsky.graph.block"
)

// Record is one of Post, Like, Repost, Profile, Follow, Block or Unknown.
type Record interface {
	// Type returns the "$type" discriminator.
	Type() string
	isRecord()
}

// StrongRef points at another record by URI and CID.
type StrongRef struct {
	URI string
	CID string
}

type Post struct {
	Text           string
	CreatedAt      string
	Langs          []string
	ReplyRootURI   string
	ReplyParentURI string
	Embed          Embed
}

type Like struct {
	CreatedAt string
	Subject   StrongRef
}

type Repost struct {
	CreatedAt string
	Subject   StrongRef
}

type Profile struct {
	DisplayName string
	Description string
}

// Follow and Block share a shape; Subject is the target DID.
type Follow struct {
	CreatedAt string
	Subject   string
}

type Block struct {
	CreatedAt string
	Subject   string
}

// Unknown carries any record whose discriminator is not handled,
// including records with no discriminator at all.
type Unknown struct {
	TypeName string
	Raw      map[string]any
}

func (Post) Type() string    { return TypePost }
func (Like) Type() string    { return TypeLike }
func (Repost) Type() string  { return TypeRepost }
func (Profile) Type() string { return TypeProfile }
func (Follow) Type() string  { return TypeFollow }
func (Block) Type() string   { return TypeBlock }
func (u Unknown) Type() string {
	return u.TypeName
}

func (Post) isRecord()    {}
func (Like) isRecord()    {}
func (Repost) isRecord()  {}
func (Profile) isRecord() {}
func (Follow) isRecord()  {}
func (Block) isRecord()   {}
func (Unknown) isRecord() {}

// Decode maps a generic record into its variant. Missing or mistyped
// fields degrade to zero values; Decode never fails.
func Decode(m map[string]any) Record {
	typ := str(m, "$type")
	switch typ {
	case TypePost:
		return decodePost(m)
	case TypeLike:
		return Like{CreatedAt: str(m, "createdAt"), Subject: strongRef(m, "subject")}
	case TypeRepost:
		return Repost{CreatedAt: str(m, "createdAt"), Subject: strongRef(m, "subject")}
	case TypeProfile:
		return Profile{DisplayName: str(m, "displayName"), Description: str(m, "description")}
	case TypeFollow:
		return Follow{CreatedAt: str(m, "createdAt"), Subject: str(m, "subject")}
	case TypeBlock:
		return Block{CreatedAt: str(m, "createdAt"), Subject: str(m, "subject")}
	default:
		return Unknown{TypeName: typ, Raw: m}
	}
}

func decodePost(m map[string]any) Post {
	p := Post{
		Text:      str(m, "text"),
		CreatedAt: str(m, "createdAt"),
		Embed:     ClassifyEmbed(obj(m, "embed")),
	}

	if langs, ok := m["langs"].([]any); ok {
		for _, l := range langs {
			if s, ok := l.(string); ok {
				p.Langs = append(p.Langs, s)
			}
		}
	}

	reply := obj(m, "reply")
	p.ReplyRootURI = str(obj(reply, "root"), "uri")
	p.ReplyParentURI = str(obj(reply, "parent"), "uri")
	return p
}

func strongRef(m map[string]any, key string) StrongRef {
	ref := obj(m, key)
	return StrongRef{URI: str(ref, "uri"), CID: str(ref, "cid")}
}

// str returns m[key] when it is a string. A nil map reads as empty.
func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func obj(m map[string]any, key string) map[string]any {
	o, _ := m[key].(map[string]any)
	return o
}
