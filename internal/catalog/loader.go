package catalog

import (
	"fmt"
	"io"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// maxCatalogFileSize caps catalog files to guard against accidental
	// loading of huge files.
	maxCatalogFileSize = 1024 * 1024 // 1MB
)

// catalogFile is the on-disk YAML structure.
type catalogFile struct {
	Factors []FactorDefinition `koanf:"factors"`
}

// LoadFile loads a factor catalog from a YAML file.
//
// Expected structure:
//
//	factors:
//	  - factor_id: data_quality
//	    name: Data Quality
//	    scope_dimensions: [domain, system, team]
//	    scale:
//	      - "Ad hoc, unmeasured"
//	      - ...
//
// The file is read once at startup; the resulting catalog is immutable.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat catalog file: %w", err)
	}
	if info.Size() > maxCatalogFileSize {
		return nil, fmt.Errorf("catalog file %s exceeds size limit (%d bytes)", path, maxCatalogFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}

	return LoadBytes(content)
}

// LoadBytes parses a YAML catalog from raw bytes.
func LoadBytes(content []byte) (*Catalog, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	var file catalogFile
	if err := k.Unmarshal("", &file); err != nil {
		return nil, fmt.Errorf("failed to decode catalog: %w", err)
	}
	if len(file.Factors) == 0 {
		return nil, fmt.Errorf("catalog declares no factors")
	}

	return New(file.Factors)
}
