package attributes

import (
	"regexp"
	"strings"
	"time"

	"github.com/telhawk-systems/skybridge/bridge/internal/firehose"
	"github.com/telhawk-systems/skybridge/bridge/internal/records"
	"github.com/telhawk-systems/skybridge/bridge/internal/schema"
	"github.com/telhawk-systems/skybridge/bridge/internal/timestamp"
)

// Meta is the operation and commit context shared by every encoder.
type Meta struct {
	Path string
	// CID is the resolved identifier of the operation's record.
	CID  string
	Repo string
	Seq  int64
	// CommitTime is nil when the commit carried no time field.
	CommitTime *string
	// Now stands in for an absent commit time. Defaults to time.Now.
	Now func() time.Time
}

// NewMeta collects encoder context for one operation. Absent sequence
// numbers become -1.
func NewMeta(op firehose.Op, cid string, c *firehose.Commit) Meta {
	m := Meta{Path: op.Path, CID: cid, Seq: -1}
	if c != nil {
		m.Repo = c.Repo
		m.Seq = c.SeqOr(-1)
		m.CommitTime = c.Time
	}
	return m
}

// URI returns the canonical at:// URI of the record.
func (m Meta) URI() string {
	return "at://" + m.Repo + "/" + m.Path
}

func (m Meta) commitNanos() float64 {
	return timestamp.CommitNanos(m.CommitTime, m.Now)
}

// createdAt prefers the record's own time and falls back to the commit's.
func (m Meta) createdAt(recordTime string) int64 {
	fallback := ""
	if m.CommitTime != nil {
		fallback = *m.CommitTime
	}
	return timestamp.NanosInt(recordTime, fallback)
}

// EncodePost builds the CreatePost vector.
func EncodePost(m Meta, p records.Post) Vector {
	return Vector{
		str("uri", m.URI()),
		str("commit_cid", m.CID),
		str("repo", m.Repo),
		integer("seq", m.Seq),
		double("commit_time", m.commitNanos()),
		text("record_text", p.Text),
		primaryTime("record_created_at", m.createdAt(p.CreatedAt)),
		str("langs", joinLangs(p.Langs)),
		str("reply_root_uri", p.ReplyRootURI),
		str("reply_parent_uri", p.ReplyParentURI),
		str("embed_type", p.Embed.Type),
		integer("embed_image_count", p.Embed.ImageCount),
		str("embed_external_uri", p.Embed.ExternalURI),
		str("embed_record_uri", p.Embed.RecordURI),
	}
}

var langTag = regexp.MustCompile(`^` + schema.PatternLangTag + `$`)

// joinLangs keeps the language tags shaped like BCP-47. Clients send
// free-form strings here, and one the parser cannot recognise would
// shift every later field of the line.
func joinLangs(langs []string) string {
	kept := make([]string, 0, len(langs))
	for _, l := range langs {
		if langTag.MatchString(l) {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, ",")
}

// EncodeSubjectRef builds the CreateLike and CreateRepost vectors, which
// share one layout.
func EncodeSubjectRef(m Meta, createdAt string, subject records.StrongRef) Vector {
	return Vector{
		str("uri", m.URI()),
		str("commit_cid", m.CID),
		str("repo", m.Repo),
		integer("seq", m.Seq),
		double("commit_time", m.commitNanos()),
		primaryTime("record_created_at", m.createdAt(createdAt)),
		str("subject_uri", subject.URI),
		str("subject_cid", subject.CID),
	}
}

// EncodeProfile builds the UpdateProfile vector. Display name and
// description travel as one field joined by schema.ProfileSeparator.
func EncodeProfile(m Meta, p records.Profile) Vector {
	return Vector{
		str("repo", m.Repo),
		str("commit_cid", m.CID),
		integer("seq", m.Seq),
		double("commit_time", m.commitNanos()),
		text("profile_text", p.DisplayName+schema.ProfileSeparator+p.Description),
	}
}

// EncodeGraph builds the CreateFollow and CreateBlock vectors.
func EncodeGraph(m Meta, createdAt, subjectDID string) Vector {
	return Vector{
		str("repo", m.Repo),
		str("commit_cid", m.CID),
		integer("seq", m.Seq),
		double("commit_time", m.commitNanos()),
		primaryTime("record_created_at", m.createdAt(createdAt)),
		str("subject_did", subjectDID),
	}
}
