// Package adapter moves product data between the file system and the
// in-memory document store.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/grovetools/appshell/errors"
	"github.com/grovetools/appshell/internal/data/docstore"
	"github.com/grovetools/appshell/logging"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DatabaseName is the name of every loaded database.
const DatabaseName = "project"

// IdentifierField is unique in every product collection.
const IdentifierField = "name"

// ProductPrefix prefixes collections holding product data.
const ProductPrefix = "product"

// ExampleCollection is seeded when a product holds no data files.
const ExampleCollection = "product.example"

// Status texts reported while loading and saving.
const (
	StatusLoadFileSystem = "Loading: Reading file system."
	StatusLoadDatabase   = "Loading: Populating database."
	StatusSaveDatabase   = "Saving: Dumping database, processing."
	StatusSaveFileSystem = "Saving: Writing to file system."
)

var groupingRegexp = regexp.MustCompile(`^[a-z0-9-]+$`)

var exampleDocuments = []string{"Jane", "Steve", "Alex", "Susie", "Charles", "Brit"}

// Target identifies the product being loaded or saved.
type Target struct {
	ProjectDirectory string
	Product          string
}

// Dir returns the product directory.
func (t Target) Dir() string {
	return filepath.Join(t.ProjectDirectory, t.Product)
}

// Adapter loads and saves a product database.
type Adapter interface {
	Load(ctx context.Context, target Target) (*docstore.Database, error)
	Save(ctx context.Context, target Target, db *docstore.Database) error
}

// StatusFunc receives progress texts.
type StatusFunc func(text string)

// CollectionName joins name parts with the collection separator.
func CollectionName(parts ...string) string {
	return strings.Join(parts, ".")
}

// FileAdapter stores each product collection as a JSON or YAML file
// holding an array of documents.
type FileAdapter struct {
	status StatusFunc
	logger *logrus.Entry
}

// NewFileAdapter creates a file adapter. status may be nil.
func NewFileAdapter(status StatusFunc) *FileAdapter {
	if status == nil {
		status = func(string) {}
	}
	return &FileAdapter{status: status, logger: logging.NewLogger("adapter")}
}

type dataFile struct {
	path   string
	stem   string
	format string
}

func listDataFiles(dir string) ([]dataFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []dataFile
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		var format string
		switch ext {
		case ".json":
			format = "json"
		case ".yml", ".yaml":
			format = "yaml"
		default:
			continue
		}
		files = append(files, dataFile{
			path:   filepath.Join(dir, entry.Name()),
			stem:   strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name())),
			format: format,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].path < files[j].path })
	return files, nil
}

// Load reads every data file of the product into a fresh database.
func (a *FileAdapter) Load(ctx context.Context, target Target) (*docstore.Database, error) {
	a.status(StatusLoadFileSystem)

	files, err := listDataFiles(target.Dir())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeLoadDatabase,
			fmt.Sprintf("The requested product `%s` could not be read.", target.Product))
	}

	type parsed struct {
		name string
		docs []map[string]interface{}
	}
	var collections []parsed
	seen := make(map[string]string)

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !groupingRegexp.MatchString(f.stem) {
			a.logger.WithField("file", f.path).Warn("Skipping data file with an invalid collection name")
			continue
		}
		name := CollectionName(ProductPrefix, f.stem)
		if prev, dup := seen[name]; dup {
			return nil, errors.LoadDatabase(fmt.Sprintf("Collection %s is defined by both %s and %s.", name, prev, f.path))
		}
		seen[name] = f.path

		docs, err := readDocuments(f)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeLoadDatabase,
				fmt.Sprintf("Failed to read data file %s.", filepath.Base(f.path)))
		}
		collections = append(collections, parsed{name: name, docs: docs})
	}

	a.status(StatusLoadDatabase)
	db := docstore.New(DatabaseName)

	if len(collections) == 0 {
		var docs []map[string]interface{}
		for _, n := range exampleDocuments {
			docs = append(docs, map[string]interface{}{IdentifierField: n})
		}
		collections = append(collections, parsed{name: ExampleCollection, docs: docs})
	}

	for _, p := range collections {
		c, err := db.AddCollection(p.name, docstore.CollectionOptions{Unique: []string{IdentifierField}})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeLoadDatabase, "Failed to create collection "+p.name+".")
		}
		if _, err := c.Insert(p.docs...); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeLoadDatabase, "Failed to populate collection "+p.name+".")
		}
		a.logger.WithFields(logrus.Fields{"collection": p.name, "documents": c.Count()}).Info("Loaded collection")
	}

	return db, nil
}

func readDocuments(f dataFile) ([]map[string]interface{}, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return nil, err
	}

	var raw []interface{}
	switch f.format {
	case "json":
		err = json.Unmarshal(data, &raw)
	default:
		err = yaml.Unmarshal(data, &raw)
	}
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]interface{}, 0, len(raw))
	for i, item := range raw {
		doc, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("entry %d is not an object", i)
		}
		delete(doc, docstore.FieldID)
		delete(doc, docstore.FieldMeta)
		docs = append(docs, doc)
	}
	return docs, nil
}

// Save writes every product collection back to its file. Collections
// without a file are written as JSON.
func (a *FileAdapter) Save(ctx context.Context, target Target, db *docstore.Database) error {
	a.status(StatusSaveDatabase)

	snap := db.Snapshot()
	files, err := listDataFiles(target.Dir())
	if err != nil {
		return err
	}
	existing := make(map[string]dataFile)
	for _, f := range files {
		existing[CollectionName(ProductPrefix, f.stem)] = f
	}

	a.status(StatusSaveFileSystem)

	for _, c := range snap.Collections() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !strings.HasPrefix(c.Name(), ProductPrefix+".") {
			continue
		}

		f, ok := existing[c.Name()]
		if !ok {
			stem := strings.TrimPrefix(c.Name(), ProductPrefix+".")
			f = dataFile{path: filepath.Join(target.Dir(), stem+".json"), stem: stem, format: "json"}
		}

		docs, err := c.Chain().Data()
		if err != nil {
			return err
		}
		out := make([]map[string]interface{}, 0, len(docs))
		for _, d := range docs {
			delete(d, docstore.FieldID)
			delete(d, docstore.FieldMeta)
			out = append(out, d)
		}

		if err := writeDocuments(f, out); err != nil {
			return fmt.Errorf("write %s: %w", filepath.Base(f.path), err)
		}
		a.logger.WithFields(logrus.Fields{"collection": c.Name(), "file": f.path}).Debug("Saved collection")
	}
	return nil
}

func writeDocuments(f dataFile, docs []map[string]interface{}) error {
	var data []byte
	var err error
	switch f.format {
	case "json":
		data, err = json.MarshalIndent(docs, "", "  ")
		data = append(data, '\n')
	default:
		data, err = yaml.Marshal(docs)
	}
	if err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}
