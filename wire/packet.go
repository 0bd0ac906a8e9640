// Package wire defines the payloads exchanged on the bus and the codecs that encode them.
package wire

import (
	"fmt"

	"github.com/veea/vbus/errors"
)

// Verb is the operation carried by a packet. Its string form is the last
// segment of the subject the packet is published on.
type Verb string

// Request verbs
const (
	VerbDescribe Verb = "describe"
	VerbGet      Verb = "get"
	VerbSet      Verb = "set"
	VerbCall     Verb = "call"
)

// Notice verbs
const (
	VerbNotify Verb = "notify"
	VerbAdd    Verb = "add"
	VerbRemove Verb = "del"
)

// IsRequest reports whether v expects a reply.
func (v Verb) IsRequest() bool {
	switch v {
	case VerbDescribe, VerbGet, VerbSet, VerbCall:
		return true
	}
	return false
}

// IsNotice reports whether v is an unsolicited delta publication.
func (v Verb) IsNotice() bool {
	switch v {
	case VerbNotify, VerbAdd, VerbRemove:
		return true
	}
	return false
}

// ParseVerb maps a subject segment to a verb.
func ParseVerb(s string) (Verb, bool) {
	v := Verb(s)
	if v.IsRequest() || v.IsNotice() {
		return v, true
	}
	return "", false
}

// ErrorInfo is the structured error carried by a failed reply.
type ErrorInfo struct {
	Code    errors.Code `json:"code" cbor:"code"`
	Message string      `json:"message" cbor:"message"`
	Path    string      `json:"path,omitempty" cbor:"path,omitempty"`
}

// Packet is the envelope of every request, reply and notice.
type Packet struct {
	Verb     Verb         `json:"verb" cbor:"verb"`
	Path     string       `json:"path" cbor:"path"`
	ID       string       `json:"id,omitempty" cbor:"id,omitempty"`
	Value    any          `json:"value,omitempty" cbor:"value,omitempty"`
	Revision uint64       `json:"revision,omitempty" cbor:"revision,omitempty"`
	Depth    int          `json:"depth,omitempty" cbor:"depth,omitempty"`
	Element  *Description `json:"element,omitempty" cbor:"element,omitempty"`
	Info     *ModuleInfo  `json:"info,omitempty" cbor:"info,omitempty"`
	Error    *ErrorInfo   `json:"error,omitempty" cbor:"error,omitempty"`
	Sender   string       `json:"sender,omitempty" cbor:"sender,omitempty"`
}

// Validate checks the fields every packet must carry.
func (p *Packet) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil packet", errors.ErrInvalidValue)
	}
	if _, ok := ParseVerb(string(p.Verb)); !ok {
		return fmt.Errorf("%w: unknown verb %q", errors.ErrInvalidValue, p.Verb)
	}
	return nil
}

// Reply creates the reply skeleton for a request.
func (p *Packet) Reply() *Packet {
	return &Packet{Verb: p.Verb, Path: p.Path, ID: p.ID}
}

// Failed reports whether the packet carries an error.
func (p *Packet) Failed() bool {
	return p.Error != nil
}

// Err converts the carried error into a *errors.RemoteError, or nil.
func (p *Packet) Err() error {
	if p.Error == nil {
		return nil
	}
	path := p.Error.Path
	if path == "" {
		path = p.Path
	}
	return errors.NewRemoteError(p.Error.Code, p.Error.Message, path)
}

// ErrorReply creates a failed reply for a request.
func ErrorReply(req *Packet, err error) *Packet {
	reply := req.Reply()
	reply.Error = &ErrorInfo{
		Code:    errors.CodeOf(err),
		Message: err.Error(),
		Path:    req.Path,
	}
	return reply
}
