package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/veea/vbus"
	"github.com/veea/vbus/node"
)

// loadTree reads a tree file: nested mappings become nodes, other values
// become attributes.
func loadTree(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	var tree map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &tree)
	default:
		err = yaml.Unmarshal(data, &tree)
	}
	if err != nil {
		return nil, fmt.Errorf("parse tree %s: %w", path, err)
	}
	return tree, nil
}

func toDef(m map[string]any) node.Def {
	def := make(node.Def, len(m))
	for k, v := range m {
		if child, ok := v.(map[string]any); ok {
			def[k] = toDef(child)
			continue
		}
		def[k] = v
	}
	return def
}

func addTree(client *vbus.Client, tree map[string]any) error {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if child, ok := tree[name].(map[string]any); ok {
			if _, err := client.AddNode(name, toDef(child)); err != nil {
				return fmt.Errorf("add node %s: %w", name, err)
			}
			continue
		}
		if _, err := client.Nodes().Root().SetAttribute(name, tree[name]); err != nil {
			return fmt.Errorf("add attribute %s: %w", name, err)
		}
	}
	return nil
}
