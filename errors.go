package eventorm

import "errors"

var (
	ErrStreamExists       = errors.New("stream already exists")
	ErrUnhandledEventType = errors.New("unhandled event type")
	ErrUncommittedEvents  = errors.New("aggregate has uncommitted events")
	ErrNoPrimaryKey       = errors.New("aggregate has no primary key")
)
