// Package synth generates plausible Bluesky commit frames for replay and
// load testing without a live relay.
package synth

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/ipfs/go-cid"

	"github.com/telhawk-systems/skybridge/bridge/internal/firehose"
	"github.com/telhawk-systems/skybridge/bridge/internal/records"
)

// Mix weights record types by relative frequency.
type Mix map[string]int

// DefaultMix roughly follows the live network's proportions.
var DefaultMix = Mix{
	records.TypePost:    40,
	records.TypeLike:    35,
	records.TypeRepost:  8,
	records.TypeFollow:  10,
	records.TypeBlock:   2,
	records.TypeProfile: 5,
}

var languages = []string{"en", "ja", "pt", "es", "de", "fr", "ko", "pt-BR"}

// Config controls generation.
type Config struct {
	// Seed makes output reproducible. Zero picks a random seed.
	Seed int64
	// Repos is the number of distinct authors.
	Repos int
	// OpsPerCommit is the maximum number of operations per commit.
	OpsPerCommit int
	// TimeSpread places commits backwards from Now with jitter.
	TimeSpread time.Duration
	// NonCreateRatio is the fraction of operations emitted as updates or
	// deletes, in [0,1].
	NonCreateRatio float64
	Mix            Mix
	Now            func() time.Time
}

// Generator produces frames. Not safe for concurrent use.
type Generator struct {
	cfg   Config
	faker *gofakeit.Faker
	repos []string
	types []string
	total int
	seq   int64
	// recent remembers created records so likes and reposts can point at them.
	recent []records.StrongRef
}

// New returns a generator with defaults applied.
func New(cfg Config) *Generator {
	if cfg.Repos <= 0 {
		cfg.Repos = 50
	}
	if cfg.OpsPerCommit <= 0 {
		cfg.OpsPerCommit = 1
	}
	if len(cfg.Mix) == 0 {
		cfg.Mix = DefaultMix
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	g := &Generator{cfg: cfg, faker: gofakeit.New(cfg.Seed)}
	for i := 0; i < cfg.Repos; i++ {
		g.repos = append(g.repos, "did:plc:"+strings.ToLower(g.faker.LetterN(24)))
	}
	for t := range cfg.Mix {
		g.types = append(g.types, t)
	}
	sort.Strings(g.types)
	for _, t := range g.types {
		g.total += cfg.Mix[t]
	}
	return g
}

// Frames builds n commit frames spread across the configured window.
func (g *Generator) Frames(n int) ([][]byte, error) {
	frames := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		c, err := g.Commit(g.commitTime(i, n))
		if err != nil {
			return nil, err
		}
		b, err := firehose.EncodeCommit(c)
		if err != nil {
			return nil, fmt.Errorf("encode commit %d: %w", i, err)
		}
		frames = append(frames, b)
	}
	return frames, nil
}

// commitTime evenly spaces commit i of n with up to 40% jitter, ending at now.
func (g *Generator) commitTime(i, n int) time.Time {
	now := g.cfg.Now()
	spread := g.cfg.TimeSpread
	if spread <= 0 || n <= 0 {
		return now
	}
	base := float64(spread) / float64(n)
	jitter := (g.faker.Float64Range(-1, 1)) * base * 0.4
	offset := time.Duration(float64(i)*base + jitter)
	offset = min(max(offset, 0), spread)
	return now.Add(-(spread - offset))
}

// Commit builds one commit by a random repo with between one and
// OpsPerCommit operations.
func (g *Generator) Commit(at time.Time) (firehose.CommitSpec, error) {
	g.seq++
	seq := g.seq
	repo := g.faker.RandomString(g.repos)
	commitTime := at.UTC().Format(time.RFC3339Nano)
	c := firehose.CommitSpec{
		Repo: repo,
		Seq:  &seq,
		Time: &commitTime,
	}

	n := g.faker.IntRange(1, g.cfg.OpsPerCommit)
	for i := 0; i < n; i++ {
		recordType := g.pickType()
		rkey := g.rkey(recordType)
		path := recordType + "/" + rkey

		if g.cfg.NonCreateRatio > 0 && g.faker.Float64() < g.cfg.NonCreateRatio {
			c.Ops = append(c.Ops, firehose.OpSpec{Action: g.faker.RandomString([]string{"update", "delete"}), Path: path})
			continue
		}

		block, err := firehose.NewBlock(g.Record(recordType, at))
		if err != nil {
			return firehose.CommitSpec{}, err
		}
		c.Blocks = append(c.Blocks, block)
		c.Ops = append(c.Ops, firehose.OpSpec{Action: "create", Path: path, CID: block.CID})
		g.remember("at://"+repo+"/"+path, block.CID)
	}
	return c, nil
}

// Record builds a record map of the given type created at the given time.
func (g *Generator) Record(recordType string, createdAt time.Time) map[string]any {
	created := createdAt.UTC().Format("2006-01-02T15:04:05.000Z")
	switch recordType {
	case records.TypePost:
		return g.post(created)
	case records.TypeLike, records.TypeRepost:
		ref := g.subject()
		return map[string]any{
			"$type":     recordType,
			"createdAt": created,
			"subject":   map[string]any{"uri": ref.URI, "cid": ref.CID},
		}
	case records.TypeFollow, records.TypeBlock:
		return map[string]any{
			"$type":     recordType,
			"createdAt": created,
			"subject":   g.faker.RandomString(g.repos),
		}
	case records.TypeProfile:
		return map[string]any{
			"$type":       recordType,
			"displayName": g.faker.Name(),
			"description": g.faker.Sentence(g.faker.IntRange(3, 15)),
		}
	default:
		return map[string]any{"$type": recordType, "createdAt": created}
	}
}

func (g *Generator) post(created string) map[string]any {
	m := map[string]any{
		"$type":     records.TypePost,
		"text":      g.faker.Sentence(g.faker.IntRange(1, 30)),
		"createdAt": created,
	}
	if g.faker.Float64() < 0.8 {
		langs := []any{g.faker.RandomString(languages)}
		if g.faker.Float64() < 0.1 {
			langs = append(langs, g.faker.RandomString(languages))
		}
		m["langs"] = langs
	}
	if len(g.recent) > 0 && g.faker.Float64() < 0.3 {
		root := g.subject()
		parent := g.subject()
		m["reply"] = map[string]any{
			"root":   map[string]any{"uri": root.URI, "cid": root.CID},
			"parent": map[string]any{"uri": parent.URI, "cid": parent.CID},
		}
	}
	if embed := g.embed(); embed != nil {
		m["embed"] = embed
	}
	return m
}

func (g *Generator) embed() map[string]any {
	images := func() []any {
		out := make([]any, g.faker.IntRange(1, 4))
		for i := range out {
			out[i] = map[string]any{"alt": g.faker.Sentence(4)}
		}
		return out
	}

	switch p := g.faker.Float64(); {
	case p < 0.15:
		return map[string]any{"$type": records.EmbedImages, "images": images()}
	case p < 0.25:
		return map[string]any{
			"$type":    records.EmbedExternal,
			"external": map[string]any{"uri": g.faker.URL(), "title": g.faker.Sentence(5)},
		}
	case p < 0.30 && len(g.recent) > 0:
		ref := g.subject()
		return map[string]any{
			"$type":  records.EmbedRecord,
			"record": map[string]any{"uri": ref.URI, "cid": ref.CID},
		}
	case p < 0.33 && len(g.recent) > 0:
		ref := g.subject()
		return map[string]any{
			"$type":  records.EmbedRecordWithMedia,
			"record": map[string]any{"record": map[string]any{"uri": ref.URI, "cid": ref.CID}},
			"media":  map[string]any{"$type": records.EmbedImages, "images": images()},
		}
	}
	return nil
}

func (g *Generator) pickType() string {
	n := g.faker.IntRange(0, g.total-1)
	for _, t := range g.types {
		n -= g.cfg.Mix[t]
		if n < 0 {
			return t
		}
	}
	return g.types[len(g.types)-1]
}

func (g *Generator) rkey(recordType string) string {
	if recordType == records.TypeProfile {
		return "self"
	}
	return "3" + strings.ToLower(g.faker.LetterN(12))
}

// subject returns a recently created record, or a fabricated one when
// nothing has been created yet.
func (g *Generator) subject() records.StrongRef {
	if len(g.recent) == 0 {
		repo := g.faker.RandomString(g.repos)
		c, _ := firehose.Sum([]byte(g.faker.UUID()))
		return records.StrongRef{
			URI: "at://" + repo + "/" + records.TypePost + "/" + g.rkey(records.TypePost),
			CID: c.String(),
		}
	}
	return g.recent[g.faker.IntRange(0, len(g.recent)-1)]
}

const recentLimit = 256

func (g *Generator) remember(uri string, c cid.Cid) {
	if len(g.recent) >= recentLimit {
		g.recent = g.recent[1:]
	}
	g.recent = append(g.recent, records.StrongRef{URI: uri, CID: c.String()})
}
