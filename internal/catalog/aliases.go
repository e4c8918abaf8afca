package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var defaultAliases []byte

// AliasGroup lists the synonyms of one canonical audit name, in priority order.
type AliasGroup struct {
	Audit   string   `json:"audit" yaml:"audit"`
	Aliases []string `json:"aliases" yaml:"aliases"`
}

type AliasTable []AliasGroup

type aliasFile struct {
	Aliases AliasTable `yaml:"aliases"`
}

// LoadAliases reads an alias table from a YAML file. An empty path selects the
// built-in table.
func LoadAliases(path string) (AliasTable, error) {
	raw := defaultAliases
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read alias file: %w", err)
		}
		raw = b
	}
	return ParseAliases(raw)
}

func ParseAliases(raw []byte) (AliasTable, error) {
	var f aliasFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse alias table: %w", err)
	}
	for i, g := range f.Aliases {
		if g.Audit == "" {
			return nil, fmt.Errorf("alias group %d has no audit name", i)
		}
	}
	return f.Aliases, nil
}

// DefaultAliases returns the built-in alias table.
func DefaultAliases() AliasTable {
	t, err := ParseAliases(defaultAliases)
	if err != nil {
		panic(err)
	}
	return t
}
