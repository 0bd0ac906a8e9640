package node

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veea/vbus/address"
	"github.com/veea/vbus/errors"
	"github.com/veea/vbus/wire"
)

func TestNode_AddChild(t *testing.T) {
	m, rec := newStarted(t)
	root := m.Root()

	child, err := root.AddChild("pump", Def{"speed": 3})
	require.NoError(t, err)
	assert.Equal(t, "pump", child.Path().String())
	assert.Same(t, child, root.Node("pump"))

	_, err = root.AddChild("pump", Def{})
	assert.ErrorIs(t, err, errors.ErrDuplicateSegment)

	_, err = root.AddChild("bad.name", Def{})
	assert.ErrorIs(t, err, errors.ErrInvalidPath)

	notices := rec.wait(t, 1)
	assert.Equal(t, "system.test.host.pump", notices[0].packet.Path)
	assert.Equal(t, 3, notices[0].packet.Element.Children["speed"].Value)
}

func TestNode_SetAttribute(t *testing.T) {
	m, rec := newStarted(t)
	n, err := m.AddNode("sensors", Def{"limit": Attr(10.0, map[string]any{"type": "number", "maximum": 100})})
	require.NoError(t, err)
	rec.wait(t, 1)
	rec.reset()

	attr, err := n.SetAttribute("temp1", 21.5)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), attr.Revision())

	again, err := n.SetAttribute("temp1", 22.0)
	require.NoError(t, err)
	assert.Same(t, attr, again)
	assert.Equal(t, uint64(2), attr.Revision())
	assert.Equal(t, 22.0, attr.Value())

	notices := rec.wait(t, 2)
	assert.Equal(t, "system.test.host.sensors.add", notices[0].subject)
	assert.Equal(t, "system.test.host.sensors.temp1.notify", notices[1].subject)
	assert.Equal(t, 22.0, notices[1].packet.Value)
	assert.Equal(t, uint64(2), notices[1].packet.Revision)

	_, err = n.SetAttribute("limit", 500)
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
	assert.Equal(t, 10.0, n.Attribute("limit").Value(), "rejected value is not stored")
	assert.Equal(t, uint64(1), n.Attribute("limit").Revision())

	_, err = m.AddNode("sensors.sub", Def{})
	require.NoError(t, err)
	_, err = n.SetAttribute("sub", 1)
	assert.ErrorIs(t, err, errors.ErrWrongKind)
}

func TestNode_AddMethod(t *testing.T) {
	m := NewManager()
	n, err := m.AddNode("pump", Def{"speed": 1})
	require.NoError(t, err)

	first := func(context.Context, any) (any, error) { return "first", nil }
	second := func(context.Context, any) (any, error) { return "second", nil }

	_, err = n.AddMethod("start", first)
	require.NoError(t, err)

	_, err = n.AddMethod("start", second)
	assert.ErrorIs(t, err, errors.ErrDuplicateSegment)

	method, err := n.AddMethod("start", second, Replace())
	require.NoError(t, err)
	result, err := method.Call(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "second", result)

	_, err = n.AddMethod("speed", second, Replace())
	assert.ErrorIs(t, err, errors.ErrDuplicateSegment, "replace only swaps methods")

	_, err = n.AddMethod("stop", nil)
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
}

func TestNode_RemoveElement(t *testing.T) {
	m := NewManager()
	n, err := m.AddNode("a", Def{"b": 1})
	require.NoError(t, err)

	require.NoError(t, n.RemoveElement("b"))
	assert.Nil(t, n.Element("b"))
	assert.ErrorIs(t, n.RemoveElement("b"), errors.ErrNotFound)
}

func TestNode_ResolveMissingIsNil(t *testing.T) {
	m := NewManager()
	_, err := m.AddNode("a.b", Def{"c": 1})
	require.NoError(t, err)

	assert.Nil(t, m.Resolve(address.MustParse("a.x")))
	assert.Nil(t, m.Resolve(address.MustParse("a.b.c.d")), "walking through an attribute")
	assert.Same(t, m.Root(), m.Resolve(address.Root))

	el := m.Root().Node("a").Resolve(address.MustParse("b.c"))
	require.NotNil(t, el)
	assert.Equal(t, wire.KindAttribute, el.Kind())
}

func TestNode_ChildrenSorted(t *testing.T) {
	m := NewManager()
	n, err := m.AddNode("n", Def{"c": 1, "a": 2, "b": Def{}})
	require.NoError(t, err)

	var names []string
	for _, child := range n.Children() {
		names = append(names, child.Path().Last())
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
}

func TestNode_DescribeDepth(t *testing.T) {
	m := NewManager()
	_, err := m.AddNode("a", Def{"b": Def{"c": Def{"d": 1}}})
	require.NoError(t, err)

	full := m.Describe(0)
	assert.NotNil(t, full.Lookup("a", "b", "c", "d"))

	two := m.Describe(2)
	a := two.Lookup("a")
	require.NotNil(t, a)
	assert.True(t, a.Truncated)
	assert.Nil(t, a.Children)

	one := m.Root().Node("a").Describe(1)
	assert.True(t, one.Truncated)
}

func TestAttribute_DescribeInfersSchema(t *testing.T) {
	m := NewManager()
	n, err := m.AddNode("n", Def{"v": 21.5, "s": Attr("x", map[string]any{"type": "string", "enum": []any{"x", "y"}})})
	require.NoError(t, err)

	assert.Equal(t, "number", n.Attribute("v").Describe(0).Schema["type"])
	assert.Equal(t, []any{"x", "y"}, n.Attribute("s").Describe(0).Schema["enum"])
	assert.Nil(t, n.Attribute("v").Schema(), "inferred schemas are never enforced")
}

func TestMethod_Call(t *testing.T) {
	m := NewManager()
	boom := stderrors.New("boom")
	n, err := m.AddNode("m", Def{
		"ok":    func(_ context.Context, args any) (any, error) { return args, nil },
		"fail":  func(context.Context, any) (any, error) { return nil, boom },
		"panic": func(context.Context, any) (any, error) { panic("bad") },
		"typed": &MethodDef{
			Handler: func(_ context.Context, args any) (any, error) { return args, nil },
			Params:  map[string]any{"type": "object", "required": []any{"amount"}},
		},
	})
	require.NoError(t, err)
	ctx := context.Background()

	result, err := n.Method("ok").Call(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", result)

	_, err = n.Method("fail").Call(ctx, nil)
	assert.ErrorIs(t, err, errors.ErrHandlerFailed)
	assert.ErrorIs(t, err, boom)

	_, err = n.Method("panic").Call(ctx, nil)
	assert.ErrorIs(t, err, errors.ErrHandlerFailed)

	_, err = n.Method("typed").Call(ctx, map[string]any{})
	assert.ErrorIs(t, err, errors.ErrInvalidValue)
	_, err = n.Method("typed").Call(ctx, map[string]any{"amount": 5})
	assert.NoError(t, err)
}
