package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/rs/zerolog"

	"github.com/robbenti/nsdb/internal/model"
)

// metricKeyField is the key field of the persisted schema documents.
const metricKeyField = "_metric"

// Store is the authoritative copy of a namespace's schemas: a tiny index with
// one document per metric whose stored fields encode field name to class and
// type tag.
type Store struct {
	idx    bleve.Index
	logger zerolog.Logger
}

// OpenStore opens (or creates) the schema index directory.
func OpenStore(path string, logger zerolog.Logger) (*Store, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		im := bleve.NewIndexMapping()
		im.DefaultAnalyzer = keyword.Name
		idx, err = bleve.New(path, im)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open schema store at %s: %w", path, err)
	}
	return &Store{
		idx:    idx,
		logger: logger.With().Str("component", "schema-store").Logger(),
	}, nil
}

// encode flattens a schema into one document. Every field is persisted as
// "<class>:<type>" under its own name.
func encode(s model.Schema) map[string]interface{} {
	doc := make(map[string]interface{}, len(s.Fields)+1)
	doc[metricKeyField] = s.Metric
	for name, f := range s.Fields {
		doc[name] = string(f.Class) + ":" + string(f.Type)
	}
	return doc
}

// decode rebuilds a schema from the stored fields of one document.
func decode(stored map[string]interface{}) (model.Schema, error) {
	metric, ok := stored[metricKeyField].(string)
	if !ok || metric == "" {
		return model.Schema{}, fmt.Errorf("schema document missing %s field", metricKeyField)
	}
	s := model.Schema{Metric: metric, Fields: map[string]model.SchemaField{}}
	for name, raw := range stored {
		if name == metricKeyField {
			continue
		}
		tag, ok := raw.(string)
		if !ok {
			return model.Schema{}, fmt.Errorf("schema %s: field %q has non-string tag", metric, name)
		}
		class, typeTag, found := strings.Cut(tag, ":")
		if !found {
			return model.Schema{}, fmt.Errorf("schema %s: malformed tag %q for field %q", metric, tag, name)
		}
		t, err := model.ParseIndexType(typeTag)
		if err != nil {
			return model.Schema{}, fmt.Errorf("schema %s: %w", metric, err)
		}
		s.Fields[name] = model.SchemaField{Name: name, Class: model.FieldClass(class), Type: t}
	}
	return s, nil
}

// Put upserts the schema document for a metric in a single batch, so the
// metric is never transiently schemaless.
func (st *Store) Put(s model.Schema) error {
	b := st.idx.NewBatch()
	if err := b.Index(s.Metric, encode(s)); err != nil {
		return fmt.Errorf("failed to stage schema for %s: %w", s.Metric, err)
	}
	if err := st.idx.Batch(b); err != nil {
		return fmt.Errorf("failed to persist schema for %s: %w", s.Metric, err)
	}
	return nil
}

// Delete removes the schema document of a metric. Deleting an absent metric
// is a no-op.
func (st *Store) Delete(metric string) error {
	if err := st.idx.Delete(metric); err != nil {
		return fmt.Errorf("failed to delete schema for %s: %w", metric, err)
	}
	return nil
}

// LoadAll scans the whole store, for rebuilding the in-memory map on start.
func (st *Store) LoadAll(ctx context.Context) (map[string]model.Schema, error) {
	n, err := st.idx.DocCount()
	if err != nil {
		return nil, fmt.Errorf("schema store count failed: %w", err)
	}
	out := make(map[string]model.Schema, n)
	if n == 0 {
		return out, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(n), 0, false)
	req.Fields = []string{"*"}
	res, err := st.idx.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("schema store scan failed: %w", err)
	}
	for _, hit := range res.Hits {
		s, err := decode(hit.Fields)
		if err != nil {
			st.logger.Warn().Err(err).Str("doc", hit.ID).Msg("Skipping undecodable schema document")
			continue
		}
		out[s.Metric] = s
	}
	return out, nil
}

// Close closes the underlying index.
func (st *Store) Close() error { return st.idx.Close() }
