package audit

import (
	"crypto/ed25519"
	"crypto/subtle"
	"fmt"
	"path/filepath"
)

// IntegrityReport is the outcome of verifying a destination's audit log.
// When Valid is false, FirstBadSeq identifies the earliest entry where the
// chain diverges and Reason describes the failure; entries after the first
// divergence are not examined further.
type IntegrityReport struct {
	Valid       bool
	Entries     int
	Files       int
	FirstBadSeq uint64
	Reason      string
}

// Verify re-reads every audit file under dir and checks sequence contiguity,
// hash chaining, file boundary entries, and every signature against pub.
func Verify(dir string, pub ed25519.PublicKey) (*IntegrityReport, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: public key must be %d bytes", ErrInvalidKey, ed25519.PublicKeySize)
	}

	auditDir := filepath.Join(dir, "audit")
	indices, err := listFiles(auditDir)
	if err != nil {
		return nil, err
	}

	report := &IntegrityReport{Valid: true, Files: len(indices)}
	var nextSeq uint64
	var prevDigest [32]byte

	fail := func(seq uint64, format string, args ...any) {
		report.Valid = false
		report.FirstBadSeq = seq
		report.Reason = fmt.Sprintf(format, args...)
	}

	for pos, idx := range indices {
		if idx != pos {
			fail(nextSeq, "audit file gap: expected index %06d, found %06d", pos, idx)
			return report, nil
		}
		entries, err := readFile(filepath.Join(auditDir, fmt.Sprintf("%s%06d%s", filePrefix, idx, fileSuffix)))
		if err != nil {
			return nil, err
		}

		for i, e := range entries {
			if e.Seq != nextSeq {
				fail(nextSeq, "sequence gap: expected %d, found %d", nextSeq, e.Seq)
				return report, nil
			}
			if subtle.ConstantTimeCompare(e.PrevDigest[:], prevDigest[:]) != 1 {
				fail(e.Seq, "chain break at entry %d", e.Seq)
				return report, nil
			}
			ok, err := e.verifySignature(pub)
			if err != nil {
				return nil, err
			}
			if !ok {
				fail(e.Seq, "bad signature on entry %d", e.Seq)
				return report, nil
			}
			if idx > 0 && i == 0 && e.Kind != KindFileOpened {
				fail(e.Seq, "file %06d does not begin with a %s entry", idx, KindFileOpened)
				return report, nil
			}

			d, err := e.digest()
			if err != nil {
				return nil, err
			}
			prevDigest = d
			nextSeq++
			report.Entries++
		}

		// Every file except the newest must have been terminated by rollover.
		if pos < len(indices)-1 {
			if len(entries) == 0 || entries[len(entries)-1].Kind != KindFileClosed {
				fail(nextSeq, "file %06d is not terminated by a %s entry", idx, KindFileClosed)
				return report, nil
			}
		}
	}
	return report, nil
}
