package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"
)

const hashPrefix = "sha256:"

// GenesisHash seeds every tenant's chain. It is the all-zero digest, which no
// real SHA-256 output collides with in practice and which makes an empty
// chain's tip recognizable in storage dumps.
const GenesisHash = hashPrefix + "0000000000000000000000000000000000000000000000000000000000000000"

// Digest returns the prefixed SHA-256 digest of payload bytes, or the empty
// string for an empty payload.
func Digest(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := sha256.Sum256(payload)
	return hashPrefix + hex.EncodeToString(sum[:])
}

// canonicalize writes the event's hashed fields in a fixed order using
// length-prefixed framing, so no choice of field values can produce the same
// byte stream as a different event.
//
// PrevHash is deliberately not part of the canonical bytes; it is mixed into
// the hash separately by computeHash. Payload is excluded: the digests cover
// content, and sealed payload bytes change under key rotation without the
// event itself changing.
func canonicalize(w io.Writer, e *Event) {
	fields := []string{
		e.ID.String(),
		e.TenantID.String(),
		fmt.Sprintf("%d", e.Seq),
		e.Actor.TenantID.String(),
		e.Actor.UserID.String(),
		string(e.Actor.Role),
		e.Actor.SessionID.String(),
		e.Actor.RequestID,
		e.Actor.IP,
		e.Actor.UserAgent,
		e.Action,
		e.Resource.Type,
		e.Resource.ID.String(),
		e.Resource.OwnerTenant.String(),
		e.Resource.SubjectID.String(),
		fmt.Sprintf("%t", e.Allowed),
		string(e.Reason),
		e.Rule,
		fmt.Sprintf("%t", e.Elevated),
		e.BeforeDigest,
		e.AfterDigest,
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	for _, f := range fields {
		fmt.Fprintf(w, "%d:%s;", len(f), f)
	}
}

// computeHash derives an event's hash from its predecessor's hash and its own
// canonical bytes. Modifying any committed entry invalidates every hash from
// that point forward.
func computeHash(prevHash string, e *Event) string {
	h := sha256.New()
	io.WriteString(h, prevHash)
	canonicalize(h, e)
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// verifyEvent recomputes an entry's hash against its stored PrevHash.
func verifyEvent(e *Event) bool {
	if !strings.HasPrefix(e.ThisHash, hashPrefix) {
		return false
	}
	return e.ThisHash == computeHash(e.PrevHash, e)
}
