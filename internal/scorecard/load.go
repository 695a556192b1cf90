package scorecard

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/AnthusAI/Plexus-sub006/internal/domain"
)

// Load reads and validates a YAML scorecard file.
func Load(path string) (domain.Scorecard, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.Scorecard{}, fmt.Errorf("open scorecard: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes and validates a YAML scorecard. Unknown fields are rejected.
func Parse(r io.Reader) (domain.Scorecard, error) {
	var card domain.Scorecard
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&card); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.Scorecard{}, fmt.Errorf("%w: empty document", domain.ErrInvalidScorecard)
		}
		return domain.Scorecard{}, fmt.Errorf("%w: %w", domain.ErrInvalidScorecard, err)
	}
	if err := card.Validate(); err != nil {
		return domain.Scorecard{}, err
	}
	return card, nil
}

// LoadGraph loads a scorecard file and builds its graph.
func LoadGraph(path string) (domain.Scorecard, *Graph, error) {
	card, err := Load(path)
	if err != nil {
		return domain.Scorecard{}, nil, err
	}
	g, err := Build(card.Scores)
	if err != nil {
		return domain.Scorecard{}, nil, err
	}
	return card, g, nil
}
