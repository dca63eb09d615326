package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed categories.yaml
var defaultTaxonomy []byte

// Node is one category of a taxonomy file.
type Node struct {
	Name     string
	Children []Node
}

// DefaultTaxonomy returns the bundled category taxonomy.
func DefaultTaxonomy() ([]Node, error) {
	return ParseTaxonomy(defaultTaxonomy)
}

// LoadTaxonomy reads a taxonomy file.
func LoadTaxonomy(path string) ([]Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read taxonomy: %w", err)
	}
	return ParseTaxonomy(data)
}

// ParseTaxonomy parses a YAML mapping of category names to subcategories,
// keeping document order. A subcategory value may be a mapping, a list of
// leaf names, or empty.
func ParseTaxonomy(data []byte) ([]Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	nodes, err := parseNodes(doc.Content[0])
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	if err := checkUnique(nodes, seen); err != nil {
		return nil, err
	}
	return nodes, nil
}

func parseNodes(n *yaml.Node) ([]Node, error) {
	switch n.Kind {
	case yaml.MappingNode:
		nodes := make([]Node, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if key.Kind != yaml.ScalarNode || key.Value == "" {
				return nil, fmt.Errorf("line %d: category name must be a non-empty string", key.Line)
			}
			children, err := parseNodes(value)
			if err != nil {
				return nil, err
			}
			nodes = append(nodes, Node{Name: key.Value, Children: children})
		}
		return nodes, nil
	case yaml.SequenceNode:
		nodes := make([]Node, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode || item.Value == "" {
				return nil, fmt.Errorf("line %d: category name must be a non-empty string", item.Line)
			}
			nodes = append(nodes, Node{Name: item.Value})
		}
		return nodes, nil
	case yaml.ScalarNode:
		if n.Tag == "!!null" || n.Value == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("line %d: unexpected value %q", n.Line, n.Value)
	default:
		return nil, fmt.Errorf("line %d: unsupported taxonomy node", n.Line)
	}
}

func checkUnique(nodes []Node, seen map[string]bool) error {
	for _, n := range nodes {
		if seen[n.Name] {
			return fmt.Errorf("duplicate category %q", n.Name)
		}
		seen[n.Name] = true
		if err := checkUnique(n.Children, seen); err != nil {
			return err
		}
	}
	return nil
}
