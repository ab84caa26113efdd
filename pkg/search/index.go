// Package search provides the per-cycle in-memory fuzzy index: a BM25 ranked
// inverted index over entity property values plus a bloom filter used to skip
// queries for values provably absent from the corpus.
package search

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ontolink/pkg/apperrors"
	"github.com/ekaya-inc/ontolink/pkg/config"
	"github.com/ekaya-inc/ontolink/pkg/models"
)

// BM25 constants. Standard values, not worth configuring.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Document is the indexed summary of one entity: enough to attribute a search
// hit and run mapping enumeration against its identity keys, without holding
// the full property bag in memory.
type Document struct {
	EntityType string
	PrimaryKey string

	// IdentityKeys holds every complete identity-key field-value set,
	// primary key first. Sets with missing values are dropped at index time
	// since no mapping can ever cover them.
	IdentityKeys []map[string]models.Value
}

// Result is one ranked hit for a query.
type Result struct {
	Doc   *Document
	Score float64
}

// Query is one ranked lookup. Term boosting is expressed by repetition: a
// term appearing three times contributes three times its BM25 weight.
type Query struct {
	Terms []string

	// ExcludeType suppresses hits of the querying entity's own type.
	// Self-matches are never meaningful relation evidence.
	ExcludeType string
}

type posting struct {
	doc int
	tf  int
}

// Index is built once per discovery cycle, sealed by Build, queried
// read-only, and released at cycle end. Add and Build are not safe for
// concurrent use; SearchBatch and Contains are, once Build returns.
type Index struct {
	logger *zap.Logger

	finalK           int
	maxPerType       int
	diversityPenalty float64

	postings map[string][]posting
	docs     []*Document
	docLen   []int
	totalLen int
	avgDL    float64
	filter   *bloom.BloomFilter
	built    bool
}

// NewIndex creates an empty index sized from the discovery config.
func NewIndex(cfg *config.DiscoveryConfig, logger *zap.Logger) *Index {
	return &Index{
		logger:           logger.Named("search"),
		finalK:           cfg.FinalK,
		maxPerType:       cfg.MaxPerType,
		diversityPenalty: cfg.DiversityPenalty,
		postings:         make(map[string][]posting),
		filter:           bloom.NewWithEstimates(uint(cfg.BloomExpectedItems), cfg.BloomFalsePositiveRate),
	}
}

// Add indexes one entity: every non-internal property value is tokenized
// into the inverted index, and identity-key values are inserted verbatim into
// the bloom filter. Only key values go into the filter; a search can only
// ever land on an identity key, so a value absent from every key is a query
// not worth issuing.
func (idx *Index) Add(e *models.Entity) error {
	if idx.built {
		return fmt.Errorf("index is sealed, Add is only valid before Build")
	}
	pk, err := e.PrimaryKey()
	if err != nil {
		return fmt.Errorf("index entity of type %s: %w", e.Type, err)
	}

	keyProps := make(map[string]bool)
	doc := &Document{EntityType: e.Type, PrimaryKey: pk}
	for _, fields := range e.IdentityKeys() {
		for _, f := range fields {
			keyProps[f] = true
		}
	}
	for _, fields := range e.IdentityKeys() {
		values := make(map[string]models.Value, len(fields))
		complete := true
		for _, f := range fields {
			v, ok := e.Properties[f]
			if !ok || v.IsEmpty() {
				complete = false
				break
			}
			values[f] = v
		}
		if complete {
			doc.IdentityKeys = append(doc.IdentityKeys, values)
		}
	}

	docID := len(idx.docs)
	termFreq := make(map[string]int)
	length := 0
	for prop, v := range e.Properties {
		for _, raw := range v.Strings() {
			if raw == "" {
				continue
			}
			if keyProps[prop] {
				idx.filter.AddString(raw)
			}
			for _, tok := range Tokenize(raw) {
				termFreq[tok]++
				length++
			}
		}
	}

	idx.docs = append(idx.docs, doc)
	idx.docLen = append(idx.docLen, length)
	idx.totalLen += length
	for term, tf := range termFreq {
		idx.postings[term] = append(idx.postings[term], posting{doc: docID, tf: tf})
	}
	return nil
}

// Build seals the index. It must complete before any SearchBatch call; there
// is no partial or incremental indexing within a cycle.
func (idx *Index) Build() {
	if len(idx.docs) > 0 {
		idx.avgDL = float64(idx.totalLen) / float64(len(idx.docs))
	}
	idx.built = true
	idx.logger.Info("search index built",
		zap.Int("documents", len(idx.docs)),
		zap.Int("terms", len(idx.postings)))
}

// Contains reports bloom-filter membership for a raw value against the
// corpus's identity-key values. No false negatives; false positives only
// cost a wasted query.
func (idx *Index) Contains(value string) bool {
	return idx.filter.TestString(value)
}

// SearchBatch ranks each query against the index and returns one result list
// per query, in query order.
func (idx *Index) SearchBatch(queries []Query) ([][]Result, error) {
	if !idx.built {
		return nil, apperrors.ErrIndexNotBuilt
	}
	out := make([][]Result, len(queries))
	for i, q := range queries {
		out[i] = idx.search(q)
	}
	return out, nil
}

func (idx *Index) search(q Query) []Result {
	scores := make(map[int]float64)
	termCounts := make(map[string]int, len(q.Terms))
	for _, t := range q.Terms {
		termCounts[strings.ToLower(t)]++
	}

	n := float64(len(idx.docs))
	for term, qtf := range termCounts {
		plist, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range plist {
			if idx.docs[p.doc].EntityType == q.ExcludeType {
				continue
			}
			tf := float64(p.tf)
			norm := tf * (bm25K1 + 1) / (tf + bm25K1*(1-bm25B+bm25B*float64(idx.docLen[p.doc])/idx.avgDL))
			scores[p.doc] += float64(qtf) * idf * norm
		}
	}
	if len(scores) == 0 {
		return nil
	}

	candidates := make([]Result, 0, len(scores))
	for docID, score := range scores {
		candidates = append(candidates, Result{Doc: idx.docs[docID], Score: score})
	}
	sort.Slice(candidates, func(a, b int) bool {
		if candidates[a].Score != candidates[b].Score {
			return candidates[a].Score > candidates[b].Score
		}
		// Deterministic tie order.
		return candidates[a].Doc.PrimaryKey < candidates[b].Doc.PrimaryKey
	})
	return idx.rerank(candidates)
}

// rerank applies the diversity policy: every hit already taken for a type
// multiplies later hits of that type by the penalty, and a hard per-type cap
// plus the final-k truncation bound the output. Without this, a property
// value shared by thousands of entities of one type would starve rarer,
// more diagnostic matches.
func (idx *Index) rerank(candidates []Result) []Result {
	selected := make([]Result, 0, idx.finalK)
	taken := make([]bool, len(candidates))
	perType := make(map[string]int)

	for len(selected) < idx.finalK {
		best := -1
		bestScore := 0.0
		for i, c := range candidates {
			if taken[i] || perType[c.Doc.EntityType] >= idx.maxPerType {
				continue
			}
			adjusted := c.Score * math.Pow(idx.diversityPenalty, float64(perType[c.Doc.EntityType]))
			if best == -1 || adjusted > bestScore {
				best = i
				bestScore = adjusted
			}
		}
		if best == -1 {
			break
		}
		taken[best] = true
		perType[candidates[best].Doc.EntityType]++
		selected = append(selected, Result{Doc: candidates[best].Doc, Score: bestScore})
	}
	return selected
}

// Release drops the index structures so repeated cycles do not accumulate
// memory. The index is unusable afterwards.
func (idx *Index) Release() {
	idx.postings = nil
	idx.docs = nil
	idx.docLen = nil
	idx.filter = nil
	idx.built = false
}

// Tokenize lowercases a raw value and splits it on non-alphanumeric runes.
// The full lowercased value is always kept as a token of its own so exact
// value hits outrank word-fragment hits.
func Tokenize(raw string) []string {
	lower := strings.ToLower(raw)
	tokens := []string{lower}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		if w != lower && len(w) > 1 {
			tokens = append(tokens, w)
		}
	}
	return tokens
}
