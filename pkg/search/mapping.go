package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// mappingVersion is bumped whenever buildIndexMapping changes so existing
// on-disk indexes get rebuilt on startup.
const mappingVersion = "1"

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	doc := bleve.NewDocumentMapping()

	title := bleve.NewTextFieldMapping()
	title.Analyzer = en.AnalyzerName
	title.Store = true
	title.IncludeTermVectors = true
	doc.AddFieldMappingsAt("title", title)

	// Author names aren't stemmed.
	authors := bleve.NewTextFieldMapping()
	authors.Analyzer = simple.Name
	authors.Store = true
	doc.AddFieldMappingsAt("authors", authors)

	series := bleve.NewTextFieldMapping()
	series.Analyzer = en.AnalyzerName
	series.Store = true
	doc.AddFieldMappingsAt("series", series)

	description := bleve.NewTextFieldMapping()
	description.Analyzer = en.AnalyzerName
	description.Store = false
	doc.AddFieldMappingsAt("description", description)

	genres := bleve.NewTextFieldMapping()
	genres.Analyzer = keyword.Name
	genres.Store = true
	doc.AddFieldMappingsAt("genres", genres)

	rating := bleve.NewNumericFieldMapping()
	rating.Store = true
	doc.AddFieldMappingsAt("rating_count", rating)

	indexMapping.AddDocumentMapping("_default", doc)
	return indexMapping
}
