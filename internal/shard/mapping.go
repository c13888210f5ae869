package shard

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/dreamware/shardsearch/internal/coordinator"
)

// buildMapping declares every configured field on the default document
// mapping. Undeclared fields are still indexed dynamically.
func buildMapping(settings coordinator.IndexSettings) *mapping.IndexMappingImpl {
	im := bleve.NewIndexMapping()
	im.DefaultAnalyzer = standard.Name
	if settings.DefaultSearchField != "" {
		im.DefaultField = settings.DefaultSearchField
	}

	dm := bleve.NewDocumentMapping()
	for _, f := range settings.Fields {
		dm.AddFieldMappingsAt(f.Name, fieldMapping(f))
	}
	im.DefaultMapping = dm
	return im
}

func fieldMapping(f coordinator.FieldConfig) *mapping.FieldMapping {
	var fm *mapping.FieldMapping
	switch f.Type {
	case coordinator.FieldKeyword:
		fm = bleve.NewKeywordFieldMapping()
	case coordinator.FieldInt, coordinator.FieldLong, coordinator.FieldFloat, coordinator.FieldDouble:
		fm = bleve.NewNumericFieldMapping()
	case coordinator.FieldDate:
		fm = bleve.NewDateTimeFieldMapping()
	case coordinator.FieldBool:
		fm = bleve.NewBooleanFieldMapping()
	default:
		fm = bleve.NewTextFieldMapping()
		fm.Analyzer = analyzerName(f)
	}
	fm.Store = true
	fm.IncludeTermVectors = f.Type == coordinator.FieldText || f.Type == ""
	fm.DocValues = f.Sortable || f.Facetable
	return fm
}

func analyzerName(f coordinator.FieldConfig) string {
	if f.Analyzer != "" {
		return f.Analyzer
	}
	return standard.Name
}
