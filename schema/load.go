package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/syssam/velomigrate/schema/edge"
	"github.com/syssam/velomigrate/schema/field"
)

type (
	fileModel struct {
		Entities []fileEntity `yaml:"entities"`
	}
	fileEntity struct {
		Name          string             `yaml:"name"`
		Attributes    []fileAttribute    `yaml:"attributes"`
		Relationships []fileRelationship `yaml:"relationships"`
	}
	fileAttribute struct {
		Name     string `yaml:"name"`
		Type     string `yaml:"type"`
		Optional bool   `yaml:"optional"`
		Comment  string `yaml:"comment"`
	}
	fileRelationship struct {
		Name     string `yaml:"name"`
		Target   string `yaml:"target"`
		Many     bool   `yaml:"many"`
		Inverse  string `yaml:"inverse"`
		Required bool   `yaml:"required"`
		Ordered  bool   `yaml:"ordered"`
		Comment  string `yaml:"comment"`
	}
)

// Parse builds a Model from its YAML description:
//
//	entities:
//	  - name: Author
//	    attributes:
//	      - {name: name, type: string}
//	    relationships:
//	      - {name: books, target: Book, many: true, inverse: author, ordered: true}
//	  - name: Book
//	    attributes:
//	      - {name: title, type: string}
//	    relationships:
//	      - {name: author, target: Author, inverse: books, required: true}
func Parse(data []byte) (*Model, error) {
	var fm fileModel
	if err := yaml.Unmarshal(data, &fm); err != nil {
		return nil, fmt.Errorf("schema: parse model: %w", err)
	}
	defs := make([]*EntityBuilder, 0, len(fm.Entities))
	for _, fe := range fm.Entities {
		d := Define(fe.Name)
		for _, fa := range fe.Attributes {
			t, err := field.ParseType(fa.Type)
			if err != nil {
				return nil, fmt.Errorf("schema: entity %q attribute %q: %w", fe.Name, fa.Name, err)
			}
			b := field.New(fa.Name, t).Comment(fa.Comment)
			if fa.Optional {
				b.Optional()
			}
			d.Fields(b)
		}
		for _, fr := range fe.Relationships {
			b := edge.To(fr.Name, fr.Target).Ref(fr.Inverse).Comment(fr.Comment)
			if !fr.Many {
				b.Unique()
			}
			if fr.Required {
				b.Required()
			}
			if fr.Ordered {
				b.Ordered()
			}
			d.Edges(b)
		}
		defs = append(defs, d)
	}
	return New(defs...)
}

// LoadFile reads and parses a YAML model file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("schema: read model: %w", err)
	}
	return Parse(data)
}
