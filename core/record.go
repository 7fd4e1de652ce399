package core

import "time"

// Version is the zero-based position of an event within its stream.
// NoVersion marks an unset event version and the version of an empty
// stream alike.
type Version int64

const NoVersion Version = -1

// Record is the persisted form of an event. Events cross the storage
// boundary only in this shape; Data holds the JSON encoding of the
// event's field values.
type Record struct {
	ID        string
	Type      string
	Version   Version
	Timestamp time.Time
	Data      []byte
}

// Stream couples a stream id with its full ordered history, as yielded
// by Session.All.
type Stream struct {
	ID      string
	Records []Record
}
