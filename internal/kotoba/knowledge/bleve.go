package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/lang/cjk"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

const (
	fieldCorpus  = "corpus"
	fieldTitle   = "title"
	fieldContent = "content"
	fieldSource  = "source"
)

// indexedDoc is the shape written into bleve.
type indexedDoc struct {
	Corpus  string `json:"corpus"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Source  string `json:"source"`
}

// BleveStore implements Store on a bleve index. Text fields use the CJK
// analyzer so Chinese queries match on bigrams; the corpus field is a
// keyword used for filtering.
type BleveStore struct {
	index  bleve.Index
	logger *slog.Logger
}

var _ Store = (*BleveStore)(nil)

// Open returns a store backed by an on-disk index at path, creating it when
// missing. An empty path gives an in-memory index.
func Open(path string, logger *slog.Logger) (*BleveStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		idx bleve.Index
		err error
	)
	switch {
	case path == "":
		idx, err = bleve.NewMemOnly(buildMapping())
	case exists(path):
		idx, err = bleve.Open(path)
	default:
		idx, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("knowledge: open index %q: %w", path, err)
	}
	return &BleveStore{index: idx, logger: logger}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func buildMapping() *mapping.IndexMappingImpl {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = cjk.AnalyzerName
	text.Store = true

	stored := bleve.NewTextFieldMapping()
	stored.Index = false
	stored.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt(fieldCorpus, bleve.NewKeywordFieldMapping())
	doc.AddFieldMappingsAt(fieldTitle, text)
	doc.AddFieldMappingsAt(fieldContent, text)
	doc.AddFieldMappingsAt(fieldSource, stored)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = cjk.AnalyzerName
	return m
}

func docKey(corpus, id string) string { return corpus + "/" + id }

func (s *BleveStore) Index(ctx context.Context, corpusID string, doc Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if corpusID == "" {
		corpusID = DefaultCorpus
	}
	if doc.ID == "" || strings.TrimSpace(doc.Content) == "" {
		return errors.New("knowledge: document needs an id and content")
	}
	err := s.index.Index(docKey(corpusID, doc.ID), indexedDoc{
		Corpus:  corpusID,
		Title:   doc.Title,
		Content: doc.Content,
		Source:  doc.Source,
	})
	if err != nil {
		return fmt.Errorf("knowledge: index %s/%s: %w", corpusID, doc.ID, err)
	}
	return nil
}

func (s *BleveStore) Search(ctx context.Context, q string, corpusIDs []string, topK int, threshold float64) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" || topK <= 0 {
		return nil, nil
	}
	if len(corpusIDs) == 0 {
		corpusIDs = []string{DefaultCorpus}
	}

	text := bleve.NewDisjunctionQuery()
	for _, field := range []string{fieldContent, fieldTitle} {
		m := bleve.NewMatchQuery(q)
		m.SetField(field)
		text.AddQuery(m)
	}

	corpora := make([]query.Query, 0, len(corpusIDs))
	for _, c := range corpusIDs {
		t := bleve.NewTermQuery(c)
		t.SetField(fieldCorpus)
		corpora = append(corpora, t)
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(text, bleve.NewDisjunctionQuery(corpora...)))
	req.Size = topK
	req.Fields = []string{fieldCorpus, fieldTitle, fieldContent, fieldSource}

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("knowledge: search: %w", err)
	}
	if len(res.Hits) == 0 || res.Hits[0].Score <= 0 {
		return nil, nil
	}

	top := res.Hits[0].Score
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		score := hit.Score / top
		if score < threshold {
			continue
		}
		corpus := field(hit.Fields, fieldCorpus)
		out = append(out, Result{
			ID:      strings.TrimPrefix(hit.ID, corpus+"/"),
			Corpus:  corpus,
			Title:   field(hit.Fields, fieldTitle),
			Content: field(hit.Fields, fieldContent),
			Source:  field(hit.Fields, fieldSource),
			Score:   score,
		})
	}
	s.logger.Debug("knowledge: search", "hits", len(res.Hits), "kept", len(out), "corpora", corpusIDs)
	return out, nil
}

// Count returns the number of indexed documents.
func (s *BleveStore) Count() (uint64, error) { return s.index.DocCount() }

// Close closes the index.
func (s *BleveStore) Close() error { return s.index.Close() }

func field(fields map[string]any, name string) string {
	v, _ := fields[name].(string)
	return v
}
