// Package firehosetest wraps the firehose encoders for tests: DAG-CBOR
// records, CARv1 archives, and complete commit frames.
package firehosetest

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/skybridge/bridge/internal/firehose"
)

type (
	Block  = firehose.Block
	Op     = firehose.OpSpec
	Commit = firehose.CommitSpec
)

// Encode marshals v in canonical CBOR.
func Encode(t testing.TB, v any) []byte {
	t.Helper()
	b, err := firehose.Marshal(v)
	require.NoError(t, err)
	return b
}

// Record encodes a record map and derives its CID.
func Record(t testing.TB, record map[string]any) Block {
	t.Helper()
	b, err := firehose.NewBlock(record)
	require.NoError(t, err)
	return b
}

// Sum returns the CIDv1 of data as a dag-cbor block.
func Sum(t testing.TB, data []byte) cid.Cid {
	t.Helper()
	c, err := firehose.Sum(data)
	require.NoError(t, err)
	return c
}

// Link wraps c as a DAG-CBOR link.
func Link(c cid.Cid) cbor.Tag {
	return firehose.Link(c)
}

// CAR builds a CARv1 archive rooted at the first block.
func CAR(t testing.TB, blocks ...Block) []byte {
	t.Helper()
	b, err := firehose.EncodeCAR(blocks...)
	require.NoError(t, err)
	return b
}

// Frame concatenates a header and an optional payload.
func Frame(t testing.TB, header map[string]any, payload any) []byte {
	t.Helper()
	b, err := firehose.EncodeFrame(header, payload)
	require.NoError(t, err)
	return b
}

// CommitFrame builds a complete #commit frame.
func CommitFrame(t testing.TB, c Commit) []byte {
	t.Helper()
	b, err := firehose.EncodeCommit(c)
	require.NoError(t, err)
	return b
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
