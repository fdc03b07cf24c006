package firehose

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

var encMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Block is one content-addressed record ready for archiving.
type Block struct {
	CID  cid.Cid
	Data []byte
}

// OpSpec describes an operation to encode. An undefined CID encodes as null.
type OpSpec struct {
	Action string
	Path   string
	CID    cid.Cid
}

// CommitSpec describes a commit frame to encode. Nil Seq or Time omit
// the field.
type CommitSpec struct {
	Repo   string
	Seq    *int64
	Time   *string
	Ops    []OpSpec
	Blocks []Block
}

// Marshal encodes v as canonical CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Sum returns the CIDv1 of data as a dag-cbor sha2-256 block.
func Sum(data []byte) (cid.Cid, error) {
	return cid.Prefix{
		Version:  1,
		Codec:    cid.DagCBOR,
		MhType:   multihash.SHA2_256,
		MhLength: -1,
	}.Sum(data)
}

// NewBlock encodes a record and derives its identifier.
func NewBlock(record map[string]any) (Block, error) {
	data, err := Marshal(record)
	if err != nil {
		return Block{}, fmt.Errorf("encode record: %w", err)
	}
	c, err := Sum(data)
	if err != nil {
		return Block{}, err
	}
	return Block{CID: c, Data: data}, nil
}

// Link wraps c the way DAG-CBOR does: tag 42 over 0x00 + binary CID.
func Link(c cid.Cid) cbor.Tag {
	return cbor.Tag{Number: TagCID, Content: append([]byte{0x00}, c.Bytes()...)}
}

// EncodeCAR builds a CARv1 archive rooted at the first block.
func EncodeCAR(blocks ...Block) ([]byte, error) {
	var root cid.Cid
	if len(blocks) > 0 {
		root = blocks[0].CID
	} else {
		c, err := Sum([]byte("root"))
		if err != nil {
			return nil, err
		}
		root = c
	}
	header, err := Marshal(map[string]any{
		"roots":   []any{Link(root)},
		"version": 1,
	})
	if err != nil {
		return nil, fmt.Errorf("encode car header: %w", err)
	}

	var buf bytes.Buffer
	buf.Write(binary.AppendUvarint(nil, uint64(len(header))))
	buf.Write(header)
	for _, b := range blocks {
		cb := b.CID.Bytes()
		buf.Write(binary.AppendUvarint(nil, uint64(len(cb)+len(b.Data))))
		buf.Write(cb)
		buf.Write(b.Data)
	}
	return buf.Bytes(), nil
}

// EncodeFrame concatenates a header and an optional payload.
func EncodeFrame(header map[string]any, payload any) ([]byte, error) {
	out, err := Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("encode header: %w", err)
	}
	if payload == nil {
		return out, nil
	}
	p, err := Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return append(out, p...), nil
}

// EncodeCommit builds a complete #commit frame.
func EncodeCommit(c CommitSpec) ([]byte, error) {
	ops := make([]any, 0, len(c.Ops))
	for _, op := range c.Ops {
		m := map[string]any{"action": op.Action, "path": op.Path, "cid": nil}
		if op.CID.Defined() {
			m["cid"] = Link(op.CID)
		}
		ops = append(ops, m)
	}
	blocks, err := EncodeCAR(c.Blocks...)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"repo":   c.Repo,
		"ops":    ops,
		"blocks": blocks,
	}
	if c.Seq != nil {
		payload["seq"] = *c.Seq
	}
	if c.Time != nil {
		payload["time"] = *c.Time
	}
	return EncodeFrame(map[string]any{"op": OpMessage, "t": TypeCommit}, payload)
}
