// Package quiz serves the read-only catalog of quizzes a host can start a session from.
package quiz

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mcdev12/livequiz/go/internal/models"
	"gopkg.in/yaml.v3"
)

var ErrQuizNotFound = errors.New("quiz not found")

type catalogFile struct {
	Quizzes []models.Quiz `yaml:"quizzes"`
}

// Catalog is an immutable set of validated quizzes keyed by id.
type Catalog struct {
	quizzes map[string]models.Quiz
}

// NewCatalog normalizes and validates quizzes. Ids must be unique and non-empty.
func NewCatalog(quizzes []models.Quiz) (*Catalog, error) {
	c := &Catalog{quizzes: make(map[string]models.Quiz, len(quizzes))}
	for i, q := range quizzes {
		q = q.Clone()
		q.Normalize()
		if q.ID == "" {
			return nil, fmt.Errorf("quiz %d: id is required", i)
		}
		if _, dup := c.quizzes[q.ID]; dup {
			return nil, fmt.Errorf("duplicate quiz id %q", q.ID)
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("quiz %q: %w", q.ID, err)
		}
		c.quizzes[q.ID] = q
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog file. Unknown keys are rejected.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open quiz catalog: %w", err)
	}
	defer f.Close()
	return ReadCatalog(f)
}

// ReadCatalog parses a YAML catalog from r.
func ReadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse quiz catalog: %w", err)
	}
	return NewCatalog(file.Quizzes)
}

// Get returns a deep copy of the quiz with id.
func (c *Catalog) Get(id string) (models.Quiz, error) {
	q, ok := c.quizzes[id]
	if !ok {
		return models.Quiz{}, fmt.Errorf("%w: %s", ErrQuizNotFound, id)
	}
	return q.Clone(), nil
}

// List returns every quiz ordered by id.
func (c *Catalog) List() []models.Quiz {
	out := make([]models.Quiz, 0, len(c.quizzes))
	for _, q := range c.quizzes {
		out = append(out, q.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
