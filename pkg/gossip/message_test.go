package gossip

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	alice := Endpoint{Name: "alice", Address: "10.0.0.1", Port: 1099}
	bob := Endpoint{Name: "bob", Address: "10.0.0.2", Port: 2000}

	cases := []*Message{
		{Name: "alice", Action: ActionLogin, Timestamp: 1700000000},
		{Name: "alice", Action: ActionLogout, Timestamp: 1700000001},
		{Name: "alice", Action: ActionRequestConnect, Timestamp: 1700000002},
		{Name: "r", Action: ActionNewNode, Payload: bob, Timestamp: 1700000003},
		{Name: "r", Action: ActionConnected, Payload: alice, Timestamp: 1700000004},
		{Name: "r", Action: ActionLogined, Payload: Roster{alice, bob}, Timestamp: 1700000005},
		{Name: "r", Action: ActionLogined, Payload: Roster{}, Timestamp: 1700000006},
		{Name: "alice", Action: ActionConnect, Payload: ConnectRequest{Name: "bob"}, Timestamp: 1700000007},
		{Name: "alice", Action: ActionMessage, Payload: Text("hi there"), Timestamp: 1700000008},
		{Name: "alice", Action: ActionMessage, Payload: Text(""), Timestamp: 1700000009},
	}
	for _, m := range cases {
		t.Run(string(m.Action), func(t *testing.T) {
			b, err := Encode(m)
			require.NoError(t, err)
			got, err := Decode(b)
			require.NoError(t, err)
			assert.Equal(t, m, got)
		})
	}
}

func TestEncodeNilRosterIsEmptyArray(t *testing.T) {
	b, err := Encode(&Message{Name: "r", Action: ActionLogined, Payload: Roster(nil)})
	require.NoError(t, err)
	assert.Contains(t, string(b), `"payload":[]`)

	m, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, Roster{}, m.Payload)
}

func TestEncodeOmitsNilPayload(t *testing.T) {
	b, err := Encode(&Message{Name: "a", Action: ActionLogin, Timestamp: 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","action":"login","timestamp":1}`, string(b))
}

func TestEncodeWithoutAction(t *testing.T) {
	_, err := Encode(&Message{Name: "a"})
	require.Error(t, err)
}

func TestDecodeIgnoresExtraFields(t *testing.T) {
	// Some peers also send the socket family and datagram size.
	in := `{"name":"r","action":"newNode","payload":{"name":"bob","address":"10.0.0.2","family":"IPv4","port":2000,"size":42},"timestamp":5,"extra":true}`
	m, err := Decode([]byte(in))
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Name: "bob", Address: "10.0.0.2", Port: 2000}, m.Payload)
	assert.EqualValues(t, 5, m.Timestamp)
}

func TestDecodeLoginIgnoresBody(t *testing.T) {
	m, err := Decode([]byte(`{"name":"a","action":"login","payload":{"x":1}}`))
	require.NoError(t, err)
	assert.Nil(t, m.Payload)
}

func TestDecodeMissingRosterIsEmpty(t *testing.T) {
	m, err := Decode([]byte(`{"name":"r","action":"logined"}`))
	require.NoError(t, err)
	assert.Equal(t, Roster{}, m.Payload)
}

func TestDecodeUnknownActionKeepsRaw(t *testing.T) {
	m, err := Decode([]byte(`{"name":"a","action":"ping","payload":{"n":1}}`))
	require.NoError(t, err)
	assert.Equal(t, Action("ping"), m.Action)
	assert.False(t, m.Action.Known())
	assert.Equal(t, Raw(`{"n":1}`), m.Payload)

	// Raw passes through Encode unchanged.
	b, err := Encode(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","action":"ping","payload":{"n":1},"timestamp":0}`, string(b))
}

func TestDecodeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":               ``,
		"not json":            `hello`,
		"array":               `[1,2,3]`,
		"truncated":           `{"name":"a","action":`,
		"missing action":      `{"name":"a"}`,
		"empty action":        `{"name":"a","action":""}`,
		"newNode no payload":  `{"name":"r","action":"newNode"}`,
		"newNode no name":     `{"name":"r","action":"newNode","payload":{"address":"1.2.3.4","port":1}}`,
		"newNode no address":  `{"name":"r","action":"newNode","payload":{"name":"b","port":1}}`,
		"newNode zero port":   `{"name":"r","action":"newNode","payload":{"name":"b","address":"1.2.3.4","port":0}}`,
		"newNode port range":  `{"name":"r","action":"newNode","payload":{"name":"b","address":"1.2.3.4","port":70000}}`,
		"connected string":    `{"name":"r","action":"connected","payload":"bob"}`,
		"logined object":      `{"name":"r","action":"logined","payload":{"name":"b"}}`,
		"logined bad entry":   `{"name":"r","action":"logined","payload":[{"name":"b","address":"","port":1}]}`,
		"connect no payload":  `{"name":"a","action":"connect"}`,
		"connect wrong shape": `{"name":"a","action":"connect","payload":[1]}`,
		"connect empty name":  `{"name":"a","action":"connect","payload":{"name":""}}`,
		"message no payload":  `{"name":"a","action":"message"}`,
		"message number":      `{"name":"a","action":"message","payload":42}`,
		"name not string":     `{"name":1,"action":"login"}`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			m, err := Decode([]byte(in))
			require.Error(t, err)
			assert.Nil(t, m)
			var de *DecodeError
			assert.True(t, errors.As(err, &de), "want *DecodeError, got %T", err)
		})
	}
}

func TestDecodeErrorMessage(t *testing.T) {
	_, err := Decode([]byte(`{"name":"a","action":"message","payload":1}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "(message)")
	assert.Contains(t, err.Error(), "bad payload")
}

func TestEndpointAddrPort(t *testing.T) {
	e := Endpoint{Name: "a", Address: "::ffff:10.0.0.1", Port: 7}
	ap, err := e.AddrPort()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.1:7", ap.String())

	_, err = Endpoint{Name: "a", Address: "example.com", Port: 7}.AddrPort()
	assert.Error(t, err)

	assert.Equal(t, "[::1]:9", Endpoint{Address: "::1", Port: 9}.HostPort())
}

func TestActionKnown(t *testing.T) {
	for _, a := range KnownActions {
		assert.True(t, a.Known(), a)
	}
	assert.False(t, Action("Login").Known())
}

func TestSplitRoster(t *testing.T) {
	assert.Equal(t, []Roster{{}}, SplitRoster(nil, MaxRosterBytes))

	var r Roster
	for i := 0; i < 2000; i++ {
		r = append(r, Endpoint{Name: fmt.Sprintf("peer-%04d", i), Address: "192.168.100.200", Port: uint16(10000 + i)})
	}
	parts := SplitRoster(r, MaxRosterBytes)
	require.Greater(t, len(parts), 1)

	var joined Roster
	for _, p := range parts {
		b, err := Encode(&Message{Name: "r", Action: ActionLogined, Payload: p, Timestamp: 1700000000})
		require.NoError(t, err)
		assert.LessOrEqual(t, len(b), maxDatagram)
		joined = append(joined, p...)
	}
	assert.Equal(t, r, joined)
}

func FuzzDecode(f *testing.F) {
	for _, seed := range []string{
		``,
		`{}`,
		`[]`,
		`{"name":"a","action":"login"}`,
		`{"name":"r","action":"logined","payload":[{"name":"b","address":"1.2.3.4","port":1}]}`,
		`{"name":"r","action":"newNode","payload":{"name":"b","address":"1.2.3.4","port":70000}}`,
		`{"name":"a","action":"connect","payload":{"name":""}}`,
		`{"name":"a","action":"message","payload":"hi","timestamp":1}`,
		`{"name":"a","action":"ping","payload":{"n":1}}`,
		"\x00\xff{",
	} {
		f.Add([]byte(seed))
	}
	f.Fuzz(func(t *testing.T, b []byte) {
		m, err := Decode(b)
		if err != nil {
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("Decode error %T is not *DecodeError: %v", err, err)
			}
			if m != nil {
				t.Fatalf("Decode returned a message with error %v", err)
			}
			return
		}
		if m.Action == "" {
			t.Fatalf("decoded message without action from %q", b)
		}
		if _, err := Encode(m); err != nil {
			t.Fatalf("re-encode %q: %v", b, err)
		}
	})
}
