package gossip

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// Wire protocol: one JSON object per datagram.
//
//	{"name": "...", "action": "...", "payload": ..., "timestamp": 1700000000}

// Action is the message kind carried in the "action" field.
type Action string

const (
	ActionNewNode        Action = "newNode"
	ActionLogin          Action = "login"
	ActionLogout         Action = "logout"
	ActionLogined        Action = "logined"
	ActionRequestConnect Action = "requestConnect"
	ActionConnect        Action = "connect"
	ActionConnected      Action = "connected"
	ActionMessage        Action = "message"
)

// KnownActions lists every action this build understands.
var KnownActions = []Action{
	ActionNewNode,
	ActionLogin,
	ActionLogout,
	ActionLogined,
	ActionRequestConnect,
	ActionConnect,
	ActionConnected,
	ActionMessage,
}

// Known reports whether a is one of KnownActions.
func (a Action) Known() bool {
	for _, k := range KnownActions {
		if a == k {
			return true
		}
	}
	return false
}

// Payload is the action-specific body of a Message. The concrete type is
// fixed by the action: Endpoint, Roster, ConnectRequest, Text, or Raw for
// actions this build does not know. Actions without a body use nil.
type Payload interface {
	isPayload()
}

// Endpoint is a reachable peer. Name is the membership key.
type Endpoint struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	Port    uint16 `json:"port"`
}

// Roster is the membership snapshot carried by logined.
type Roster []Endpoint

// ConnectRequest names the peer a connect wants to reach.
type ConnectRequest struct {
	Name string `json:"name"`
}

// Text is a chat payload.
type Text string

// Raw keeps the undecoded payload of an unknown action.
type Raw json.RawMessage

func (Endpoint) isPayload()       {}
func (Roster) isPayload()         {}
func (ConnectRequest) isPayload() {}
func (Text) isPayload()           {}
func (Raw) isPayload()            {}

// EndpointFrom builds an Endpoint for name reachable at ap.
func EndpointFrom(name string, ap netip.AddrPort) Endpoint {
	return Endpoint{Name: name, Address: ap.Addr().Unmap().String(), Port: ap.Port()}
}

// AddrPort parses the endpoint's address. Host names are not resolved.
func (e Endpoint) AddrPort() (netip.AddrPort, error) {
	addr, err := netip.ParseAddr(e.Address)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("endpoint %q: %w", e.Name, err)
	}
	return netip.AddrPortFrom(addr.Unmap(), e.Port), nil
}

// HostPort returns "address:port".
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(int(e.Port)))
}

func (e Endpoint) validate() error {
	switch {
	case e.Name == "":
		return errors.New("endpoint without name")
	case e.Address == "":
		return errors.New("endpoint without address")
	case e.Port == 0:
		return errors.New("endpoint without port")
	}
	return nil
}

// Message is the envelope of every datagram.
type Message struct {
	Name      string
	Action    Action
	Payload   Payload
	Timestamp int64 // unix seconds, set by the sender
}

// DecodeError reports a datagram that is not a structurally valid Message.
type DecodeError struct {
	Action Action
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "gossip: malformed message"
	if e.Action != "" {
		msg += " (" + string(e.Action) + ")"
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error { return e.Err }

type wireMessage struct {
	Name      string          `json:"name"`
	Action    Action          `json:"action"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Encode serializes m for a single datagram.
func Encode(m *Message) ([]byte, error) {
	if m.Action == "" {
		return nil, errors.New("gossip: encode message without action")
	}
	w := wireMessage{Name: m.Name, Action: m.Action, Timestamp: m.Timestamp}

	var body any
	switch p := m.Payload.(type) {
	case nil:
	case Raw:
		w.Payload = json.RawMessage(p)
	case Roster:
		if p == nil {
			p = Roster{}
		}
		body = []Endpoint(p)
	case Text:
		body = string(p)
	default:
		body = p
	}
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gossip: encode %s payload: %w", m.Action, err)
		}
		w.Payload = b
	}
	return json.Marshal(w)
}

// Decode parses one datagram. Any failure is a *DecodeError.
func Decode(b []byte) (*Message, error) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || b[0] != '{' {
		return nil, &DecodeError{Reason: "not a JSON object"}
	}
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return nil, &DecodeError{Reason: "invalid JSON", Err: err}
	}
	if w.Action == "" {
		return nil, &DecodeError{Reason: "missing action"}
	}

	m := &Message{Name: w.Name, Action: w.Action, Timestamp: w.Timestamp}
	p, err := decodePayload(w.Action, w.Payload)
	if err != nil {
		return nil, &DecodeError{Action: w.Action, Reason: "bad payload", Err: err}
	}
	m.Payload = p
	return m, nil
}

func decodePayload(a Action, raw json.RawMessage) (Payload, error) {
	present := len(raw) > 0 && !bytes.Equal(raw, []byte("null"))

	switch a {
	case ActionLogin, ActionLogout, ActionRequestConnect:
		// Body is ignored if a sender attaches one.
		return nil, nil

	case ActionNewNode, ActionConnected:
		if !present {
			return nil, errors.New("missing endpoint")
		}
		var e Endpoint
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, err
		}
		if err := e.validate(); err != nil {
			return nil, err
		}
		return e, nil

	case ActionLogined:
		r := Roster{}
		if !present {
			return r, nil
		}
		if err := json.Unmarshal(raw, (*[]Endpoint)(&r)); err != nil {
			return nil, err
		}
		for i, e := range r {
			if err := e.validate(); err != nil {
				return nil, fmt.Errorf("entry %d: %w", i, err)
			}
		}
		return r, nil

	case ActionConnect:
		if !present {
			return nil, errors.New("missing target")
		}
		var c ConnectRequest
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, err
		}
		if c.Name == "" {
			return nil, errors.New("connect without target name")
		}
		return c, nil

	case ActionMessage:
		if !present {
			return nil, errors.New("missing text")
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return Text(s), nil

	default:
		if !present {
			return nil, nil
		}
		return Raw(append([]byte(nil), raw...)), nil
	}
}

// MaxRosterBytes bounds the encoded roster of one logined datagram, leaving
// room for the envelope under the 64 KiB UDP payload limit.
const MaxRosterBytes = 60 * 1024

// SplitRoster cuts r into parts whose JSON encoding stays within limit bytes.
// It always returns at least one part, so an empty roster still produces a
// logined reply. A single entry larger than limit gets a part of its own.
func SplitRoster(r Roster, limit int) []Roster {
	parts := []Roster{{}}
	size := 2 // []
	for _, e := range r {
		b, err := json.Marshal(e)
		if err != nil {
			continue
		}
		n := len(b) + 1 // separator
		cur := parts[len(parts)-1]
		if len(cur) > 0 && size+n > limit {
			parts = append(parts, Roster{})
			size = 2
		}
		parts[len(parts)-1] = append(parts[len(parts)-1], e)
		size += n
	}
	return parts
}
