package catalog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FocuswithJustin/sigid/core/errors"
	"github.com/FocuswithJustin/sigid/core/sequence"
)

// yamlFile is the compact YAML catalog format.
type yamlFile struct {
	Version    string          `yaml:"version"`
	Formats    []yamlFormat    `yaml:"formats"`
	Signatures []yamlSignature `yaml:"signatures"`
}

type yamlFormat struct {
	ID           string   `yaml:"id"`
	PUID         string   `yaml:"puid"`
	Name         string   `yaml:"name"`
	Version      string   `yaml:"version"`
	MIMEType     string   `yaml:"mime"`
	Extensions   []string `yaml:"extensions"`
	PriorityOver []string `yaml:"priority_over"`
	Signatures   []string `yaml:"signatures"`
}

type yamlSignature struct {
	ID        string         `yaml:"id"`
	Specific  bool           `yaml:"specific"`
	Sequences []yamlSequence `yaml:"sequences"`
}

type yamlSequence struct {
	Anchor     string `yaml:"anchor"`
	Expression string `yaml:"expression"`
}

// LoadYAML reads a YAML catalog and builds it.
func LoadYAML(r io.Reader, source string, opts ...Option) (*Catalog, error) {
	def, err := DecodeYAML(r, source)
	if err != nil {
		return nil, err
	}
	return Build(def, opts...)
}

// DecodeYAML reads a YAML catalog into a Definition. Unknown keys are errors.
func DecodeYAML(r io.Reader, source string) (Definition, error) {
	var file yamlFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return Definition{}, errors.NewParse("signature YAML", source, "empty document")
		}
		return Definition{}, &errors.ParseError{Format: "signature YAML", Path: source, Message: err.Error(), Err: err}
	}

	def := Definition{Source: source, Version: file.Version}
	for _, ys := range file.Signatures {
		sig := SignatureDef{ID: ys.ID, Specific: ys.Specific}
		for i, yq := range ys.Sequences {
			anchor, err := sequence.ParseAnchor(yq.Anchor)
			if err != nil {
				return Definition{}, errors.NewParse("signature YAML", source, fmt.Sprintf("signature %s sequence %d: %v", ys.ID, i+1, err))
			}
			seq, err := sequence.Parse(anchor, yq.Expression)
			if err != nil {
				return Definition{}, errors.NewParse("signature YAML", source, fmt.Sprintf("signature %s sequence %d: %v", ys.ID, i+1, err))
			}
			sig.Sequences = append(sig.Sequences, seq)
		}
		def.Signatures = append(def.Signatures, sig)
	}
	for _, yf := range file.Formats {
		def.Formats = append(def.Formats, FormatDef{
			ID:           yf.ID,
			PUID:         yf.PUID,
			Name:         yf.Name,
			Version:      yf.Version,
			MIMEType:     yf.MIMEType,
			Extensions:   yf.Extensions,
			PriorityOver: yf.PriorityOver,
			Signatures:   yf.Signatures,
		})
	}
	return def, nil
}

// LoadFile loads a catalog from path. Files ending in .yaml or .yml are
// read as YAML catalogs and everything else as DROID signature XML.
func LoadFile(path string, opts ...Option) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.NewIO("open", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return LoadYAML(f, path, opts...)
	}
	return LoadDROID(f, path, opts...)
}
