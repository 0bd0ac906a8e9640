package wire

// ModuleStatus reports the runtime state of a running client.
type ModuleStatus struct {
	HeapSize uint64 `json:"heapSize" cbor:"heapSize"`
}

// ModuleInfo is the answer to a module discovery request on the "info" subject.
type ModuleInfo struct {
	ID             string       `json:"id" cbor:"id"`
	Hostname       string       `json:"hostname" cbor:"hostname"`
	Client         string       `json:"client" cbor:"client"`
	HasStaticFiles bool         `json:"hasStaticFiles" cbor:"hasStaticFiles"`
	Status         ModuleStatus `json:"status" cbor:"status"`
}
