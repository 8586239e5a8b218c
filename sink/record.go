package sink

import "fmt"

// Record is one item delivered by the queue host.
type Record struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     any
}

// Message is the well-formed record value: a chat channel and the text to send there.
type Message struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}

// chatMessage is satisfied by values that expose the two fields through methods.
type chatMessage interface {
	Channel() string
	Message() string
}

// Extract returns the channel/message pair carried by v, or ErrMalformedRecord
// when v does not have that shape. Extra fields are ignored.
func Extract(v any) (Message, error) {
	switch m := v.(type) {
	case Message:
		return m, nil
	case *Message:
		if m != nil {
			return *m, nil
		}
	case map[string]string:
		ch, okc := m["channel"]
		msg, okm := m["message"]
		if okc && okm {
			return Message{Channel: ch, Message: msg}, nil
		}
	case map[string]any:
		ch, okc := m["channel"].(string)
		msg, okm := m["message"].(string)
		if okc && okm {
			return Message{Channel: ch, Message: msg}, nil
		}
	case chatMessage:
		return Message{Channel: m.Channel(), Message: m.Message()}, nil
	}
	return Message{}, fmt.Errorf("%w: unexpected value %s", ErrMalformedRecord, describe(v))
}

func describe(v any) string {
	switch b := v.(type) {
	case nil:
		return "<nil>"
	case []byte:
		return fmt.Sprintf("%q", b)
	}
	return fmt.Sprintf("%T(%v)", v, v)
}
