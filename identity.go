package cadet

import (
	"crypto/sha512"
	"encoding/base32"
	"strings"

	"github.com/cadetchan/cadet/code"
)

// A PeerID identifies a mesh peer by its Ed25519 public key.
type PeerID [32]byte

// peerEncoding is the text form used for peer identities: the Crockford
// base32 alphabet, without padding. A PeerID encodes to 52 characters.
var peerEncoding = base32.NewEncoding("0123456789ABCDEFGHJKMNPQRSTVWXYZ").WithPadding(base32.NoPadding)

// peerIDLen is the length of the text form of a PeerID.
var peerIDLen = peerEncoding.EncodedLen(len(PeerID{}))

// String renders p in its canonical text form.
func (p PeerID) String() string { return peerEncoding.EncodeToString(p[:]) }

// Short returns an abbreviated form of p suitable for log messages.
func (p PeerID) Short() string { return p.String()[:4] }

// IsZero reports whether p is the zero identity.
func (p PeerID) IsZero() bool { return p == PeerID{} }

// ParsePeerID parses the text form of a peer identity. Letters are accepted
// in either case, and the commonly confused letters O, I and L are read as
// the digits they resemble. Any other malformation is reported as an error
// with code InvalidTarget.
func ParsePeerID(s string) (PeerID, error) {
	var id PeerID
	if len(s) != peerIDLen {
		return id, Errorf(code.InvalidTarget, "invalid target identifier: length %d, want %d", len(s), peerIDLen)
	}
	norm := strings.Map(func(r rune) rune {
		switch r {
		case 'o', 'O':
			return '0'
		case 'i', 'I', 'l', 'L':
			return '1'
		}
		if 'a' <= r && r <= 'z' {
			return r - 'a' + 'A'
		}
		return r
	}, s)
	n, err := peerEncoding.Decode(id[:], []byte(norm))
	if err != nil || n != len(id) {
		return PeerID{}, Errorf(code.InvalidTarget, "invalid target identifier %q", s)
	}
	return id, nil
}

// A PortHash is the hashed form of a rendezvous name, as used by the runtime.
type PortHash [sha512.Size]byte

// HashPort returns the PortHash for the specified rendezvous name.
func HashPort(name string) PortHash { return sha512.Sum512([]byte(name)) }
