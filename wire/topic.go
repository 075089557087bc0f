// Package wire defines the topic catalog and on-the-wire message
// shapes shared by the emitter, sequencer and dispatcher.
package wire

// Form is the wire encoding of a topic's payload.
type Form uint8

const (
	FormJSON Form = iota
	FormBinary
)

// Direction is which way a topic flows.
type Direction uint8

const (
	Outbound Direction = iota
	Inbound
)

// Topic enumerates every leaf topic in the device's private namespace.
type Topic uint8

const (
	ConnectionFromClient Topic = iota
	ConnectionFromService
	CapabilitiesPublish
	CapabilitiesAcknowledge
	Directive
	Event
	Microphone
	Speaker
)

// Descriptor captures everything the emitter and dispatcher need to
// know about a topic without special-casing it by name.
type Descriptor struct {
	Leaf      string
	Form      Form
	Direction Direction
	Encrypted bool
	// ArrayName is non-empty for JSON topics whose wire envelope wraps
	// messages in a named array, e.g. {"directives":[...]}.
	ArrayName string
}

var descriptors = map[Topic]Descriptor{
	ConnectionFromClient:    {Leaf: "connectionFromClient", Form: FormJSON, Direction: Outbound, Encrypted: false},
	ConnectionFromService:   {Leaf: "connectionFromService", Form: FormJSON, Direction: Inbound, Encrypted: false},
	CapabilitiesPublish:     {Leaf: "capabilitiesPublish", Form: FormJSON, Direction: Outbound, Encrypted: true},
	CapabilitiesAcknowledge: {Leaf: "capabilitiesAcknowledge", Form: FormJSON, Direction: Inbound, Encrypted: true, ArrayName: "directives"},
	Directive:               {Leaf: "directive", Form: FormJSON, Direction: Inbound, Encrypted: true, ArrayName: "directives"},
	Event:                   {Leaf: "event", Form: FormJSON, Direction: Outbound, Encrypted: true, ArrayName: "events"},
	Microphone:              {Leaf: "microphone", Form: FormBinary, Direction: Outbound, Encrypted: true},
	Speaker:                 {Leaf: "speaker", Form: FormBinary, Direction: Inbound, Encrypted: true},
}

// Describe returns the Descriptor for t and whether t is known.
func Describe(t Topic) (Descriptor, bool) {
	d, ok := descriptors[t]
	return d, ok
}

// FullTopic joins a topicRoot loaded from persistent storage with the
// topic's leaf string.
func FullTopic(topicRoot string, t Topic) (string, bool) {
	d, ok := descriptors[t]
	if !ok {
		return "", false
	}
	return topicRoot + "/" + d.Leaf, true
}

// Leaf extracts the Topic whose descriptor leaf matches leaf, after
// stripping topicRoot from a full incoming subject.
func Leaf(topicRoot, fullTopic string) (Topic, bool) {
	prefix := topicRoot + "/"
	if len(fullTopic) <= len(prefix) || fullTopic[:len(prefix)] != prefix {
		return 0, false
	}
	leaf := fullTopic[len(prefix):]
	for t, d := range descriptors {
		if d.Leaf == leaf {
			return t, true
		}
	}
	return 0, false
}
