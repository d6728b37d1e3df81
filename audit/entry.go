package audit

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Kind names the event an audit entry records.
type Kind string

// Operational event kinds. One entry is written per consequential state
// transition of the engine.
const (
	KindSyncStarted       Kind = "sync-started"
	KindSnapshotCommitted Kind = "snapshot-committed"
	KindSyncFailed        Kind = "sync-failed"
	KindSyncCancelled     Kind = "sync-cancelled"
	KindRestoreCompleted  Kind = "restore-completed"
	KindKeyRotated        Kind = "key-rotated"
	KindGCRun             Kind = "gc-run"
)

// File boundary kinds. KindFileClosed terminates a log file at rollover;
// KindFileOpened is the first entry of every file after the first, carrying
// the chain across the boundary.
const (
	KindFileClosed Kind = "file-closed"
	KindFileOpened Kind = "file-opened"
)

var knownKinds = map[Kind]bool{
	KindSyncStarted:       true,
	KindSnapshotCommitted: true,
	KindSyncFailed:        true,
	KindSyncCancelled:     true,
	KindRestoreCompleted:  true,
	KindKeyRotated:        true,
	KindGCRun:             true,
	KindFileClosed:        true,
	KindFileOpened:        true,
}

// Entry is one signed, hash-chained audit record. PayloadDigest commits to
// the event payload without embedding it; PrevDigest is the digest of the
// preceding entry (zero for the first entry of the log). Signature is Ed25519
// over the deterministic CBOR encoding of the first five fields.
type Entry struct {
	Seq           uint64    `cbor:"1,keyasint"`
	Timestamp     time.Time `cbor:"2,keyasint"`
	Kind          Kind      `cbor:"3,keyasint"`
	PayloadDigest [32]byte  `cbor:"4,keyasint"`
	PrevDigest    [32]byte  `cbor:"5,keyasint"`
	Signature     []byte    `cbor:"6,keyasint"`
}

// entryBody is the signed portion of an entry.
type entryBody struct {
	Seq           uint64    `cbor:"1,keyasint"`
	Timestamp     time.Time `cbor:"2,keyasint"`
	Kind          Kind      `cbor:"3,keyasint"`
	PayloadDigest [32]byte  `cbor:"4,keyasint"`
	PrevDigest    [32]byte  `cbor:"5,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("audit: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("audit: CBOR decoder initialization failed: " + err.Error())
	}
}

// signingBytes returns the deterministic encoding the signature covers.
func (e *Entry) signingBytes() ([]byte, error) {
	data, err := encMode.Marshal(entryBody{
		Seq:           e.Seq,
		Timestamp:     e.Timestamp,
		Kind:          e.Kind,
		PayloadDigest: e.PayloadDigest,
		PrevDigest:    e.PrevDigest,
	})
	if err != nil {
		return nil, fmt.Errorf("audit: encode entry %d: %w", e.Seq, err)
	}
	return data, nil
}

// sign computes and stores the entry signature.
func (e *Entry) sign(key ed25519.PrivateKey) error {
	data, err := e.signingBytes()
	if err != nil {
		return err
	}
	e.Signature = ed25519.Sign(key, data)
	return nil
}

// verifySignature checks the entry signature against pub.
func (e *Entry) verifySignature(pub ed25519.PublicKey) (bool, error) {
	data, err := e.signingBytes()
	if err != nil {
		return false, err
	}
	return ed25519.Verify(pub, data, e.Signature), nil
}

// digest returns SHA-256 over the full encoded entry, signature included.
// Successor entries chain to this value.
func (e *Entry) digest() ([32]byte, error) {
	data, err := encMode.Marshal(e)
	if err != nil {
		return [32]byte{}, fmt.Errorf("audit: encode entry %d: %w", e.Seq, err)
	}
	return sha256.Sum256(data), nil
}

// digestPayload commits to an arbitrary event payload. A nil payload yields
// the zero digest.
func digestPayload(payload any) ([32]byte, error) {
	if payload == nil {
		return [32]byte{}, nil
	}
	data, err := encMode.Marshal(payload)
	if err != nil {
		return [32]byte{}, fmt.Errorf("audit: encode payload: %w", err)
	}
	return sha256.Sum256(data), nil
}
