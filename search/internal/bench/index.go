package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/larose/harvest/search/config"
	"github.com/larose/harvest/search/geo"
	"github.com/larose/harvest/search/index"
	"golang.org/x/exp/rand"
)

const (
	batchSize = 10_000
	seed      = 42
)

var vocabulary = strings.Fields(`
	coffee tea bakery roaster espresso market grocery bistro diner brewery
	downtown harbour station plaza avenue river park north south old new
	fresh organic local family open late early weekend breakfast lunch dinner
`)

var categories = []string{"cafe", "bakery", "restaurant", "grocery", "bar"}

type city struct {
	name   string
	center geo.Point
}

var cities = []city{
	{"montreal", geo.Point{Lat: 45.5019, Lon: -73.5674}},
	{"quebec city", geo.Point{Lat: 46.8139, Lon: -71.2080}},
	{"toronto", geo.Point{Lat: 43.6532, Lon: -79.3832}},
	{"ottawa", geo.Point{Lat: 45.4215, Lon: -75.6972}},
	{"halifax", geo.Point{Lat: 44.6488, Lon: -63.5752}},
}

type corpus struct {
	random *rand.Rand
}

func newCorpus() *corpus {
	return &corpus{random: rand.New(rand.NewSource(seed))}
}

func (c *corpus) words(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = vocabulary[c.random.Intn(len(vocabulary))]
	}
	return strings.Join(words, " ")
}

// near returns a point within about 20km of the city center.
func (c *corpus) near(center geo.Point) geo.Point {
	return geo.Point{
		Lat: center.Lat + (c.random.Float64()-0.5)*0.36,
		Lon: center.Lon + (c.random.Float64()-0.5)*0.36,
	}
}

func (c *corpus) office() index.Document {
	home := cities[c.random.Intn(len(cities))]
	point := c.near(home.center)

	return index.Document{
		{FieldType: index.ByteFieldType, Name: "city", Value: []byte(home.name)},
		{FieldType: index.GeoPointFieldType, Name: "location", Value: index.GeoPointValue(point.Lat, point.Lon)},
	}
}

func (c *corpus) document(id int) index.Document {
	home := cities[c.random.Intn(len(cities))]
	point := c.near(home.center)

	doc := index.Document{
		{FieldType: index.ByteFieldType, Name: "id", Value: []byte(fmt.Sprintf("business-%d", id))},
		{FieldType: index.TextFieldType, Name: "title", Value: []byte(c.words(2 + c.random.Intn(3)))},
		{FieldType: index.TextFieldType, Name: "body", Value: []byte(c.words(10 + c.random.Intn(40)))},
		{FieldType: index.ByteFieldType, Name: "category", Value: []byte(categories[c.random.Intn(len(categories))])},
		{FieldType: index.NumericFieldType, Name: "rating", Value: index.NumericValue(float64(c.random.Intn(50)) / 10)},
	}

	// Some businesses only have offices elsewhere.
	if c.random.Intn(10) > 0 {
		doc = append(doc, index.Field{FieldType: index.GeoPointFieldType, Name: "location", Value: index.GeoPointValue(point.Lat, point.Lon)})
	}

	if offices := c.random.Intn(4); offices > 0 {
		nested := make([]index.Document, offices)
		for i := range nested {
			nested[i] = c.office()
		}
		doc = append(doc, index.Field{FieldType: index.NestedFieldType, Name: "offices", Nested: nested})
	}

	return doc
}

func _index(logger *slog.Logger, cfg config.Config, numberOfDocuments int) error {
	stopProfiler, err := startCpuProfiler(logger, "index.cpu.pprof")
	if err != nil {
		return err
	}
	defer stopProfiler()

	directory := cfg.Index.Directory
	if err := os.RemoveAll(directory); err != nil {
		return err
	}
	if err := os.MkdirAll(directory, 0700); err != nil {
		return err
	}

	options, err := cfg.Index.WriterOptions()
	if err != nil {
		return err
	}

	indexWriter := index.NewIndexWriter(directory, options...)
	corpus := newCorpus()

	totalProcessed := 0
	docs := make([]index.Document, 0, batchSize)

	for totalProcessed < numberOfDocuments {
		remaining := numberOfDocuments - totalProcessed
		for i := 0; i < min(batchSize, remaining); i++ {
			docs = append(docs, corpus.document(totalProcessed+i))
		}

		if err := indexWriter.AddDocuments(docs); err != nil {
			return fmt.Errorf("add documents: %w", err)
		}

		totalProcessed += len(docs)
		docs = docs[:0]

		logger.Info("indexed batch", "totalProcessed", totalProcessed, "directory", directory)
	}

	return nil
}
