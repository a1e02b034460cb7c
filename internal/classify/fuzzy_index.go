package classify

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"
)

// keywordIndex is an in-memory Bleve index over the configured intent
// keywords. It gives the fuzzy tier typo tolerance: "wifii pasword"
// still lands on the wifi keywords within edit distance 1.
type keywordIndex struct {
	index  bleve.Index
	mu     sync.RWMutex
	logger *zap.Logger
}

// keywordDoc is one indexed keyword.
type keywordDoc struct {
	Keyword string `json:"keyword"`
	Intent  string `json:"intent"`
}

// newKeywordIndex builds the in-memory index from the intent catalog.
func newKeywordIndex(keywords map[string][]string, logger *zap.Logger) (*keywordIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	idx, err := bleve.NewMemOnly(keywordIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create keyword index: %w", err)
	}

	ki := &keywordIndex{index: idx, logger: logger.Named("keywordindex")}

	batch := idx.NewBatch()
	n := 0
	for intent, words := range keywords {
		for _, w := range words {
			doc := keywordDoc{Keyword: w, Intent: intent}
			if err := batch.Index(intent+":"+strconv.Itoa(n), doc); err != nil {
				logger.Warn("failed to index keyword",
					zap.String("intent", intent),
					zap.String("keyword", w),
					zap.Error(err))
			}
			n++
		}
	}
	if err := idx.Batch(batch); err != nil {
		return nil, fmt.Errorf("failed to index keywords: %w", err)
	}

	return ki, nil
}

func keywordIndexMapping() mapping.IndexMapping {
	docMapping := bleve.NewDocumentMapping()

	keywordField := bleve.NewTextFieldMapping()
	keywordField.Index = true
	keywordField.Store = true
	keywordField.IncludeInAll = true
	docMapping.AddFieldMappingsAt("keyword", keywordField)

	intentField := bleve.NewTextFieldMapping()
	intentField.Index = true
	intentField.Store = true
	intentField.IncludeInAll = false
	docMapping.AddFieldMappingsAt("intent", intentField)

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("keyword", docMapping)
	indexMapping.DefaultAnalyzer = "standard"
	return indexMapping
}

// fuzzyLookup returns the intents whose keywords sit within edit
// distance 1 of the token. Failures degrade to no matches.
func (ki *keywordIndex) fuzzyLookup(token string) map[string]bool {
	ki.mu.RLock()
	defer ki.mu.RUnlock()

	fq := query.NewFuzzyQuery(token)
	fq.SetField("keyword")
	fq.SetFuzziness(1)

	req := bleve.NewSearchRequest(fq)
	req.Size = 10
	req.Fields = []string{"intent", "keyword"}

	res, err := ki.index.Search(req)
	if err != nil {
		ki.logger.Debug("fuzzy keyword lookup failed",
			zap.String("token", token),
			zap.Error(err))
		return nil
	}

	intents := make(map[string]bool, len(res.Hits))
	for _, hit := range res.Hits {
		if hit.Fields == nil {
			continue
		}
		if intent, ok := hit.Fields["intent"].(string); ok && intent != "" {
			intents[intent] = true
		}
	}
	return intents
}

// Close releases the index.
func (ki *keywordIndex) Close() error {
	return ki.index.Close()
}
