package config

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// indexesFile is the layout of an index registry file:
//
//	[[index]]
//	id = "pileval"
//	corpusPath = "/data/pileval.jsonl"
//	encoding = "cl100k_base"
type indexesFile struct {
	Index []IndexConfig `toml:"index"`
}

// LoadIndexesFile reads an index registry from a TOML file.
func LoadIndexesFile(path string) ([]IndexConfig, error) {
	var f indexesFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return nil, fmt.Errorf("failed to read index registry %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, &ConfigError{
			Field:   "indexesFile",
			Message: fmt.Sprintf("unknown key %q in %s", undecoded[0].String(), path),
		}
	}
	return f.Index, nil
}
