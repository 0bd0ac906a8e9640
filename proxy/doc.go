// Package proxy provides client-side handles on elements owned by other
// clients.
//
// A Registry is the identity map for one client: every remote path has exactly
// one record, and Lookup always returns the same *UnknownProxy for it. Typed
// views (NodeProxy, AttributeProxy, MethodProxy) are derived from that record
// and cached on it, so resolving a path through one handle is visible through
// every other handle of the same path.
//
// Records are kept current by the owner's notices, fed to HandleNotice:
//
//	add   the element (and subtree) was created or replaced
//	del   the element was removed; records below it become unknown again
//	notify an attribute changed; newer revisions replace the cached value
//
// Callbacks registered with AttributeProxy.OnChange, NodeProxy.OnAdd and
// NodeProxy.OnRemove run on a single dispatcher goroutine in arrival order,
// never on the caller's goroutine. Queuing never blocks the notice path: when
// the dispatch queue is full the callback is dropped and logged, while the
// records themselves stay current.
package proxy
