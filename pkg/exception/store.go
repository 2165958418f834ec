package exception

import "errors"

var (
	ErrStoreClosed = errors.New("store: closed")
	ErrStoreNoSink = errors.New("store: no sink configured")
)
