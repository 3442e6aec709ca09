// Package prompts loads the prompt catalog the game draws from. Each entry
// carries a canned machine response used when no AI provider is reachable.
package prompts

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Prompt struct {
	ID       string `yaml:"id"`
	Text     string `yaml:"prompt"`
	Model    string `yaml:"model"`
	Response string `yaml:"response"`
}

type Catalog struct {
	prompts []Prompt
}

// Load reads the YAML catalog once at boot. Entries missing a prompt text or
// a canned response are skipped with a warning rather than failing the boot.
func Load(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	var entries []Prompt
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse prompts file: %w", err)
	}

	c := &Catalog{}
	for i, p := range entries {
		if p.Text == "" || p.Response == "" {
			log.Warn().Int("index", i).Msg("skipping incomplete prompt entry")
			continue
		}
		if p.ID == "" {
			p.ID = uuid.NewString()
		}
		c.prompts = append(c.prompts, p)
	}
	if len(c.prompts) == 0 {
		return nil, fmt.Errorf("prompts file %s has no usable entries", path)
	}
	log.Info().Int("count", len(c.prompts)).Str("file", path).Msg("prompt catalog loaded")
	return c, nil
}

func (c *Catalog) Len() int {
	return len(c.prompts)
}

func (c *Catalog) Random() Prompt {
	return c.prompts[rand.Intn(len(c.prompts))]
}

// ByID returns the prompt with the given id, if present.
func (c *Catalog) ByID(id string) (Prompt, bool) {
	for _, p := range c.prompts {
		if p.ID == id {
			return p, true
		}
	}
	return Prompt{}, false
}
