package govern

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

// EvidenceTimeFormat is the timestamp layout sealed into the hash.
const EvidenceTimeFormat = time.RFC3339Nano

// EvidenceGenerator builds sealed evidence packs.
type EvidenceGenerator struct {
	now   func() time.Time
	newID func() string
}

// NewEvidenceGenerator returns a generator using the wall clock and UUIDv4 ids.
func NewEvidenceGenerator() *EvidenceGenerator {
	return &EvidenceGenerator{
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Create seals one transition. The timestamp is truncated to microseconds in UTC
// so it survives a round trip through every supported store.
func (g *EvidenceGenerator) Create(decisionID string, actor Actor, action EvidenceAction, justification string, snapshot PolicySnapshot) (*EvidencePack, error) {
	created := g.now().UTC().Truncate(time.Microsecond)
	hash, err := ComputeMerkleHash(decisionID, actor.ID, action, justification, snapshot, created)
	if err != nil {
		return nil, err
	}
	return &EvidencePack{
		ID:             g.newID(),
		DecisionID:     decisionID,
		ActorID:        actor.ID,
		ActorName:      actor.Name,
		ActorRole:      actor.Role,
		Action:         action,
		Justification:  justification,
		PolicySnapshot: snapshot,
		MerkleHash:     hash,
		CreatedAt:      created,
	}, nil
}

// ComputeMerkleHash is hex SHA-256 over the canonical form of the sealed fields.
func ComputeMerkleHash(decisionID, actorID string, action EvidenceAction, justification string, snapshot PolicySnapshot, at time.Time) (string, error) {
	payload, err := CanonicalEvidence(decisionID, actorID, action, justification, snapshot, at)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// CanonicalEvidence returns the exact bytes that are hashed.
func CanonicalEvidence(decisionID, actorID string, action EvidenceAction, justification string, snapshot PolicySnapshot, at time.Time) ([]byte, error) {
	return canonicalize(map[string]any{
		"decisionId":    decisionID,
		"actorId":       actorID,
		"action":        string(action),
		"justification": justification,
		"policySnapshot": map[string]any{
			"code":              snapshot.Code,
			"version":           int64(snapshot.Version),
			"name":              snapshot.Name,
			"requiredAuthority": string(snapshot.RequiredAuthority),
			"riskLevel":         snapshot.RiskLevel,
			"dualControl":       snapshot.DualControl,
			"matrixVersion":     int64(snapshot.MatrixVersion),
		},
		"timestamp": at.UTC().Format(EvidenceTimeFormat),
	})
}

// VerifyEvidence recomputes the seal of a stored pack.
func VerifyEvidence(p *EvidencePack) error {
	if p == nil {
		return &IntegrityError{Err: fmt.Errorf("nil evidence pack")}
	}
	want, err := ComputeMerkleHash(p.DecisionID, p.ActorID, p.Action, p.Justification, p.PolicySnapshot, p.CreatedAt)
	if err != nil {
		return &IntegrityError{DecisionID: p.DecisionID, Err: err}
	}
	if want != p.MerkleHash {
		return &IntegrityError{DecisionID: p.DecisionID, Err: fmt.Errorf("evidence %s seal mismatch: stored %s, computed %s", p.ID, p.MerkleHash, want)}
	}
	return nil
}

// canonicalize writes sorted-key JSON with NFC-normalized strings. Only the
// value kinds used by evidence are supported; floats are rejected.
func canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch value := v.(type) {
	case nil:
		buf.WriteString("null")
	case string:
		encoded, err := json.Marshal(norm.NFC.String(value))
		if err != nil {
			return err
		}
		buf.Write(encoded)
	case bool:
		buf.WriteString(strconv.FormatBool(value))
	case int64:
		buf.WriteString(strconv.FormatInt(value, 10))
	case int:
		buf.WriteString(strconv.Itoa(value))
	case []any:
		buf.WriteByte('[')
		for i, item := range value {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(value))
		for k := range value {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, value[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical evidence: unsupported value type %T", v)
	}
	return nil
}
