package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/ekaya-inc/ontolink/pkg/models"
)

// DeriveRelationID hashes a candidate's identity: the two entity types and
// the property-pair mapping, with pairs sorted so logically identical
// mappings hash identically regardless of discovery order. Match types are
// deliberately excluded; the same pair observed as EXACT and later as PREFIX
// is still one candidate accumulating evidence.
func DeriveRelationID(entityAType, entityBType string, mappings []models.PropertyMapping) string {
	pairs := make([]string, 0, len(mappings))
	for _, m := range mappings {
		pairs = append(pairs, m.EntityAProperty+"->"+m.EntityBProperty)
	}
	sort.Strings(pairs)

	h := sha256.New()
	h.Write([]byte(entityAType))
	h.Write([]byte{0})
	h.Write([]byte(entityBType))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(pairs, "\x00")))
	return hex.EncodeToString(h.Sum(nil))
}
