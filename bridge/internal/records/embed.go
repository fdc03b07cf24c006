package records

// Embed discriminators.
const (
	EmbedImages          = "app.bsky.embed.images"
	EmbedExternal        = "app.bsky.embed.external"
	EmbedRecord          = "app.bsky.embed.record"
	EmbedRecordWithMedia = "app.bsky.embed.recordWithMedia"
)

// Embed is the flattened classification of a post embed.
type Embed struct {
	Type        string
	ImageCount  int64
	ExternalURI string
	RecordURI   string
}

// ClassifyEmbed dispatches on the embed discriminator. Unknown types keep
// their name with empty details; shape mismatches degrade to zero values.
func ClassifyEmbed(embed map[string]any) Embed {
	e := Embed{Type: str(embed, "$type")}

	switch e.Type {
	case EmbedImages:
		e.ImageCount = count(embed, "images")
	case EmbedExternal:
		e.ExternalURI = str(obj(embed, "external"), "uri")
	case EmbedRecord:
		e.RecordURI = str(obj(embed, "record"), "uri")
	case EmbedRecordWithMedia:
		e.RecordURI = str(obj(obj(embed, "record"), "record"), "uri")
		if media := obj(embed, "media"); str(media, "$type") == EmbedImages {
			e.ImageCount = count(media, "images")
		}
	}
	return e
}

func count(m map[string]any, key string) int64 {
	list, _ := m[key].([]any)
	return int64(len(list))
}
