package coordinator

import jsoniter "github.com/json-iterator/go"

// EventType is the type of the events from watching keys.
type EventType int

const (
	PutEvent EventType = iota
	DeleteEvent
)

type WatchEvent struct {
	Type EventType
	Item RawItem
}

// RawItem is a data of item which isn't unmarshalled yet.
type RawItem struct {
	Key   string
	Value []byte
}

func (r RawItem) Unmarshal(value interface{}) error {
	return jsoniter.Unmarshal(r.Value, value)
}
