package schema

// Stream and event names of the Bluesky kinds.
const (
	StreamBluesky = "BlueskyEvents"

	EventCreatePost    = "CreatePost"
	EventCreateLike    = "CreateLike"
	EventCreateRepost  = "CreateRepost"
	EventUpdateProfile = "UpdateProfile"
	EventCreateFollow  = "CreateFollow"
	EventCreateBlock   = "CreateBlock"
)

// Qualified kind names.
const (
	KindCreatePost    = StreamBluesky + "." + EventCreatePost
	KindCreateLike    = StreamBluesky + "." + EventCreateLike
	KindCreateRepost  = StreamBluesky + "." + EventCreateRepost
	KindUpdateProfile = StreamBluesky + "." + EventUpdateProfile
	KindCreateFollow  = StreamBluesky + "." + EventCreateFollow
	KindCreateBlock   = StreamBluesky + "." + EventCreateBlock
)

func required(name string, t LogicalType, pattern string) FieldSpec {
	return FieldSpec{Name: name, Type: t, Pattern: pattern}
}

func optional(name string, pattern string) FieldSpec {
	return FieldSpec{Name: name, Type: TypeString, Pattern: pattern, Optional: true, Default: ""}
}

func blueskyEntries() []Entry {
	subjectRef := func(event string) Entry {
		return Entry{
			Stream: StreamBluesky,
			Event:  event,
			Fields: []FieldSpec{
				required("uri", TypeString, PatternATURI),
				required("commit_cid", TypeString, PatternCID),
				required("repo", TypeString, PatternDID),
				required("seq", TypeInt, PatternInt),
				required("commit_time", TypeDouble, PatternFloat),
				required("record_created_at", TypePrimaryTime, PatternNanos),
				required("subject_uri", TypeString, PatternATURI),
				optional("subject_cid", PatternCID),
			},
		}
	}
	graph := func(event string) Entry {
		return Entry{
			Stream: StreamBluesky,
			Event:  event,
			Fields: []FieldSpec{
				required("repo", TypeString, PatternDID),
				required("commit_cid", TypeString, PatternCID),
				required("seq", TypeInt, PatternInt),
				required("commit_time", TypeDouble, PatternFloat),
				required("record_created_at", TypePrimaryTime, PatternNanos),
				required("subject_did", TypeString, PatternDID),
			},
		}
	}

	return []Entry{
		{
			Stream: StreamBluesky,
			Event:  EventCreatePost,
			Fields: []FieldSpec{
				required("uri", TypeString, PatternATURI),
				required("commit_cid", TypeString, PatternCID),
				required("repo", TypeString, PatternDID),
				required("seq", TypeInt, PatternInt),
				required("commit_time", TypeDouble, PatternFloat),
				{Name: "record_text", Type: TypeMultitoken},
				required("record_created_at", TypePrimaryTime, PatternNanos),
				{Name: "langs", Type: TypeString, Pattern: PatternLangs, Delimited: true, Optional: true, Default: ""},
				optional("reply_root_uri", PatternATURI),
				optional("reply_parent_uri", PatternATURI),
				{Name: "embed_type", Type: TypeString, Pattern: PatternEmbedType, Delimited: true, Optional: true, Default: ""},
				{Name: "embed_image_count", Type: TypeInt, Pattern: PatternInt, Optional: true, Default: int64(0)},
				{Name: "embed_external_uri", Type: TypeString, Pattern: PatternExternalURI, Delimited: true, Optional: true, Default: ""},
				optional("embed_record_uri", PatternATURI),
			},
		},
		subjectRef(EventCreateLike),
		subjectRef(EventCreateRepost),
		{
			Stream: StreamBluesky,
			Event:  EventUpdateProfile,
			Fields: []FieldSpec{
				required("repo", TypeString, PatternDID),
				required("commit_cid", TypeString, PatternCID),
				required("seq", TypeInt, PatternInt),
				required("commit_time", TypeDouble, PatternFloat),
				{Name: "profile_text", Type: TypeMultitoken, Optional: true, Default: ProfileSeparator},
			},
		},
		graph(EventCreateFollow),
		graph(EventCreateBlock),
	}
}
