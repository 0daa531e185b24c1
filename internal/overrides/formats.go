package overrides

import (
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// parseJSON accepts either an array of records or an object with
// "overrides" and optional "dataset" members.
func parseJSON(data []byte) ([]Override, *sidecar.Document, error) {
	if trimmed := firstNonSpace(data); trimmed == '[' {
		wrapped := append(append([]byte(`{"overrides":`), data...), '}')
		data = wrapped
	}
	root, err := sidecar.DecodeDocument(data)
	if err != nil {
		return nil, nil, err
	}
	return fromRoot(root)
}

func fromRoot(root *sidecar.Document) ([]Override, *sidecar.Document, error) {
	var entries []Override
	if v, ok := root.Get("overrides"); ok {
		items, ok := v.Items()
		if !ok {
			return nil, nil, errors.New("overrides must be a list")
		}
		for i, item := range items {
			doc, ok := item.Document()
			if !ok {
				return nil, nil, fmt.Errorf("override %d is not an object", i)
			}
			o, err := fromDocument(doc)
			if err != nil {
				return nil, nil, fmt.Errorf("override %d: %w", i, err)
			}
			entries = append(entries, o)
		}
	}
	var dataset *sidecar.Document
	if v, ok := root.Get("dataset"); ok {
		doc, ok := v.Document()
		if !ok {
			return nil, nil, errors.New("dataset must be an object")
		}
		dataset = doc
	}
	return entries, dataset, nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b
	}
	return 0
}

// parseYAML mirrors parseJSON; mapping order is preserved through yaml.Node.
func parseYAML(data []byte) ([]Override, *sidecar.Document, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, nil, err
	}
	if node.Kind != yaml.DocumentNode || len(node.Content) == 0 {
		return nil, nil, nil
	}
	top := node.Content[0]
	if top.Kind == yaml.SequenceNode {
		top = &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Tag: "!!str", Value: "overrides"}, top,
		}}
	}
	v, err := yamlValue(top)
	if err != nil {
		return nil, nil, err
	}
	root, ok := v.Document()
	if !ok {
		return nil, nil, errors.New("overrides root must be a mapping or a list")
	}
	return fromRoot(root)
}

func yamlValue(n *yaml.Node) (sidecar.Value, error) {
	switch n.Kind {
	case yaml.AliasNode:
		return yamlValue(n.Alias)
	case yaml.MappingNode:
		doc := sidecar.NewDocument()
		for i := 0; i+1 < len(n.Content); i += 2 {
			v, err := yamlValue(n.Content[i+1])
			if err != nil {
				return sidecar.Value{}, err
			}
			doc.Set(n.Content[i].Value, v)
		}
		return sidecar.Doc(doc), nil
	case yaml.SequenceNode:
		items := make([]sidecar.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := yamlValue(c)
			if err != nil {
				return sidecar.Value{}, err
			}
			items = append(items, v)
		}
		return sidecar.List(items...), nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return sidecar.Null(), nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return sidecar.Value{}, err
			}
			return sidecar.Bool(b), nil
		case "!!int", "!!float":
			var f float64
			if err := n.Decode(&f); err != nil {
				return sidecar.Value{}, err
			}
			return sidecar.Float(f), nil
		}
		return sidecar.String(n.Value), nil
	}
	return sidecar.Value{}, fmt.Errorf("unsupported yaml node kind %d", n.Kind)
}

// parseTSV reads one override per row with a Name column. n/a cells are
// left unset.
func parseTSV(data []byte) ([]Override, error) {
	t, err := sidecar.DecodeTable(data)
	if err != nil {
		return nil, err
	}
	if t.Column(FieldName) < 0 {
		return nil, errors.New("overrides table has no Name column")
	}
	var entries []Override
	for _, row := range t.Rows {
		doc := sidecar.NewDocument()
		for i, h := range t.Header {
			if row[i] == sidecar.NotAvailable || row[i] == "" {
				continue
			}
			doc.SetString(h, row[i])
		}
		o, err := fromDocument(doc)
		if err != nil {
			return nil, err
		}
		entries = append(entries, o)
	}
	return entries, nil
}
