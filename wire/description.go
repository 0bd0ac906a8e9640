package wire

import "sort"

// Kind tags an element of a tree.
type Kind string

// Element kinds
const (
	KindUnknown   Kind = "unknown"
	KindNode      Kind = "node"
	KindAttribute Kind = "attribute"
	KindMethod    Kind = "method"
)

// String returns the kind name.
func (k Kind) String() string {
	if k == "" {
		return string(KindUnknown)
	}
	return string(k)
}

// Description is the snapshot of an element and, for nodes, of its subtree.
// Truncated marks a node whose children were cut by a depth limit.
type Description struct {
	Kind      Kind                    `json:"kind" cbor:"kind"`
	Value     any                     `json:"value,omitempty" cbor:"value,omitempty"`
	Revision  uint64                  `json:"revision,omitempty" cbor:"revision,omitempty"`
	Schema    map[string]any          `json:"schema,omitempty" cbor:"schema,omitempty"`
	Params    map[string]any          `json:"params,omitempty" cbor:"params,omitempty"`
	Returns   map[string]any          `json:"returns,omitempty" cbor:"returns,omitempty"`
	Children  map[string]*Description `json:"children,omitempty" cbor:"children,omitempty"`
	Truncated bool                    `json:"truncated,omitempty" cbor:"truncated,omitempty"`
}

// NodeDescription creates a node description holding the given children.
func NodeDescription(children map[string]*Description) *Description {
	if children == nil {
		children = map[string]*Description{}
	}
	return &Description{Kind: KindNode, Children: children}
}

// Lookup walks the children along segments. It returns nil when a segment is
// missing or the walk crosses a non-node element.
func (d *Description) Lookup(segments ...string) *Description {
	cur := d
	for _, s := range segments {
		if cur == nil || cur.Kind != KindNode {
			return nil
		}
		cur = cur.Children[s]
	}
	return cur
}

// ChildNames returns the child segments sorted.
func (d *Description) ChildNames() []string {
	names := make([]string, 0, len(d.Children))
	for name := range d.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Prune returns a copy limited to depth levels below d; depth <= 0 copies everything.
// Nodes whose children were dropped are marked Truncated.
func (d *Description) Prune(depth int) *Description {
	if d == nil {
		return nil
	}
	out := *d
	if d.Kind != KindNode || d.Children == nil {
		return &out
	}
	if depth == 1 {
		out.Children = nil
		out.Truncated = len(d.Children) > 0
		return &out
	}
	next := depth - 1
	if depth <= 0 {
		next = 0
	}
	out.Children = make(map[string]*Description, len(d.Children))
	for name, child := range d.Children {
		out.Children[name] = child.Prune(next)
	}
	return &out
}
