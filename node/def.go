package node

import (
	"context"
	"fmt"
	"sort"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
)

// MethodFunc handles a remote or local call. args is the decoded argument value.
type MethodFunc func(ctx context.Context, args any) (any, error)

// Def describes a subtree to create. Each value is one of:
//   - Def: a child node
//   - *AttrDef: an attribute with schema or hooks
//   - *MethodDef or MethodFunc: a method
//   - anything else: an attribute holding that initial value
type Def map[string]any

// AttrDef defines an attribute with an explicit schema or hooks.
type AttrDef struct {
	Value  any
	Schema map[string]any

	// OnSet runs before a remote SET is applied; an error rejects the write.
	OnSet func(ctx context.Context, value any) error
	// OnGet produces the value returned to a remote GET instead of the cached one.
	OnGet func(ctx context.Context) (any, error)
}

// MethodDef defines a method with optional parameter and return schemas.
type MethodDef struct {
	Handler MethodFunc
	Params  map[string]any
	Returns map[string]any
}

// Attr is shorthand for an attribute with a schema.
func Attr(value any, schema map[string]any) *AttrDef {
	return &AttrDef{Value: value, Schema: schema}
}

// Func is shorthand for a method definition.
func Func(handler MethodFunc) *MethodDef {
	return &MethodDef{Handler: handler}
}

func checkSegment(segment string) error {
	if err := address.ValidateSegment(segment); err != nil {
		return err
	}
	if address.IsReserved(segment) {
		return fmt.Errorf("%w: segment %q is reserved", errors.ErrInvalidPath, segment)
	}
	return nil
}

// build populates n from def. n is not attached yet so a failure leaves the tree untouched.
func (m *Manager) build(n *Node, def Def) error {
	keys := make([]string, 0, len(def))
	for k := range def {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, segment := range keys {
		if err := checkSegment(segment); err != nil {
			return err
		}
		el, err := m.newElement(n.path.Join(address.MustParse(segment)), def[segment])
		if err != nil {
			return err
		}
		n.children[segment] = el
	}
	return nil
}

func (m *Manager) newElement(path address.Path, v any) (Element, error) {
	switch d := v.(type) {
	case Def:
		child := m.newNode(path)
		if err := m.build(child, d); err != nil {
			return nil, err
		}
		return child, nil
	case *AttrDef:
		if d == nil {
			return m.newAttribute(path, &AttrDef{})
		}
		return m.newAttribute(path, d)
	case *MethodDef:
		if d == nil || d.Handler == nil {
			return nil, fmt.Errorf("%w: method %s has no handler", errors.ErrInvalidValue, path)
		}
		return m.newMethod(path, d), nil
	case MethodFunc:
		return m.newMethod(path, &MethodDef{Handler: d}), nil
	case func(context.Context, any) (any, error):
		return m.newMethod(path, &MethodDef{Handler: d}), nil
	default:
		return m.newAttribute(path, &AttrDef{Value: v})
	}
}
