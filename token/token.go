// Package token implements list-continuation tokens (§3, C4): opaque,
// serializable resume points for enumerators. It generalizes the
// teacher's ad-hoc continuationToken loop in provider/s3.go's List
// (a raw *string passed to ListObjectsV2) into a typed, encodable
// value every enumerator kind can produce and consume, since the
// journal (§4.7) must be able to persist and reload it without
// knowing which enumerator produced it.
package token

import (
	"encoding/binary"
	"errors"
)

// ErrMalformed is returned by Decode when the byte slice is not a
// well-formed token.
var ErrMalformed = errors.New("token: malformed continuation token")

// Source distinguishes which enumerator kind produced a token, so a
// resumed enumerator can validate it isn't being handed a token from
// a different source (§4.7's "same byte sequence recovers the same
// tree" round-trip requirement depends on this).
type Source uint8

const (
	SourceLocal Source = iota + 1
	SourceRemote
)

// Token is an opaque, serializable enumerator resume point. Local
// enumerators encode a directory-stack snapshot; remote enumerators
// encode the store's page continuation string plus an index into that
// page. Either way,
// resuming with a Token yields exactly the entries that would have
// followed had enumeration not been interrupted (§4.3).
type Token struct {
	Source Source
	// Opaque is the source-specific payload: for SourceRemote, the
	// listBlobsSegmented continuation string of the current page plus
	// the index of the next entry in it (see enumerate.encodeRemotePage);
	// for SourceLocal, an
	// encoded directory-stack snapshot (see enumerate.encodeLocalStack).
	Opaque []byte
}

// Empty reports whether this token carries no resume state, i.e.
// enumeration should start from the beginning.
func (t Token) Empty() bool { return t.Source == 0 && len(t.Opaque) == 0 }

// Encode serializes a Token to bytes: a 1-byte source tag, a 4-byte
// little-endian length, then the opaque payload. This exact framing
// is what the journal's per-sub-directory continuation-token slot
// persists (§4.7).
func Encode(t Token) []byte {
	buf := make([]byte, 1+4+len(t.Opaque))
	buf[0] = byte(t.Source)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(t.Opaque)))
	copy(buf[5:], t.Opaque)
	return buf
}

// Decode parses bytes produced by Encode. It accepts a slice with
// trailing zero padding (as found in a fixed-size journal slot) as
// long as the declared length fits within what remains.
func Decode(b []byte) (Token, error) {
	if len(b) < 5 {
		return Token{}, ErrMalformed
	}
	src := Source(b[0])
	n := binary.LittleEndian.Uint32(b[1:5])
	if int(n) > len(b)-5 {
		return Token{}, ErrMalformed
	}
	if src == 0 && n == 0 {
		return Token{}, nil
	}
	payload := make([]byte, n)
	copy(payload, b[5:5+n])
	return Token{Source: src, Opaque: payload}, nil
}
