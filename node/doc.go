// Package node holds the local tree a client publishes on the bus.
//
// A Manager owns a root Node. Nodes own a single namespace of children, each a
// Node, an Attribute or a Method, so a path resolves to at most one element.
// Trees are usually declared with a Def:
//
//	m := node.NewManager(node.WithPrefix(address.MustParse("system.demo.host")))
//	_, err := m.AddNode("sensors", node.Def{
//	    "temp1": 21.5,
//	    "unit":  node.Attr("celsius", map[string]any{"type": "string"}),
//	})
//
// Every mutation that changes the shape of the tree or an attribute value emits
// exactly one notice: ADD on "<parent>.add", REMOVE on "<parent>.del" and NOTIFY
// on "<attribute>.notify". Notices go through a single worker, so a subscriber
// sees them in mutation order. A Manager without a publisher still applies
// mutations locally; Republish announces the tree once one is attached.
//
// HandleRequest serves GET, SET, CALL and DESCRIBE requests from other clients
// and reports failures as structured errors.
package node
