package firehose

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-cid"
)

// TagCID is the CBOR tag number for IPLD links.
const TagCID = 42

// ResolveCID canonicalizes a tag-42 link to its multibase string. Any
// other shape, or an undecodable identifier, yields false.
func ResolveCID(v any) (string, bool) {
	var content any
	switch t := v.(type) {
	case cbor.Tag:
		if t.Number != TagCID {
			return "", false
		}
		content = t.Content
	case *cbor.Tag:
		if t == nil || t.Number != TagCID {
			return "", false
		}
		content = t.Content
	case cbor.RawTag:
		if t.Number != TagCID {
			return "", false
		}
		var b []byte
		if err := cbor.Unmarshal(t.Content, &b); err != nil {
			return "", false
		}
		content = b
	default:
		return "", false
	}

	b, ok := content.([]byte)
	if !ok {
		return "", false
	}
	return IdentifierFromBytes(b)
}

// IdentifierFromBytes decodes a binary CID, stripping the single leading
// multibase-identity zero byte used inside tag 42.
func IdentifierFromBytes(b []byte) (string, bool) {
	if len(b) > 0 && b[0] == 0x00 {
		b = b[1:]
	}
	if len(b) == 0 {
		return "", false
	}
	c, err := cid.Cast(b)
	if err != nil {
		return "", false
	}
	return c.String(), true
}
