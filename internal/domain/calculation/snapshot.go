package calculation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/gowebpki/jcs"
	"github.com/shopspring/decimal"

	"github.com/xenking/sfa-scheme-engine/internal/domain/cart"
	"github.com/xenking/sfa-scheme-engine/internal/domain/scheme"
)

// Snapshot is the immutable record of a session at submission. It is what an
// order stores for audit; later scheme or override changes never reach it.
type Snapshot struct {
	SessionID string          `json:"session_id"`
	Customer  scheme.Customer `json:"customer"`
	Cart      cart.Cart       `json:"cart"`
	Result    *Result         `json:"result"`
	Total     decimal.Decimal `json:"total"`
	TakenAt   time.Time       `json:"taken_at"`
	// Digest is the hex SHA-256 of the canonical (RFC 8785) JSON of the
	// snapshot with Digest left empty.
	Digest string `json:"digest,omitempty"`
}

func newSnapshot(sessionID string, customer scheme.Customer, c cart.Cart, r *Result, at time.Time) (Snapshot, error) {
	s := Snapshot{
		SessionID: sessionID,
		Customer:  customer,
		Cart:      c.Clone(),
		Result:    r.Clone(),
		Total:     r.Total(),
		TakenAt:   at.UTC(),
	}
	digest, err := s.digest()
	if err != nil {
		return Snapshot{}, err
	}
	s.Digest = digest
	return s, nil
}

func (s Snapshot) digest() (string, error) {
	s.Digest = ""
	raw, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "marshal snapshot")
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", errors.Wrap(err, "canonicalize snapshot")
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the digest and reports a mismatch.
func (s Snapshot) Verify() error {
	want, err := s.digest()
	if err != nil {
		return err
	}
	if want != s.Digest {
		return errors.Errorf("snapshot digest mismatch: stored %s, computed %s", s.Digest, want)
	}
	return nil
}
