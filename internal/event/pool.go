package event

import (
	"bytes"
	"encoding/json"
	"sync"
)

// bufferPool provides sync.Pool for event encoding buffers.
// Every committed event is encoded at least twice (log + sinks).
//
// Usage:
//
//	buf := acquireBuffer()
//	defer releaseBuffer(buf)
var bufferPool = sync.Pool{
	New: func() interface{} {
		return new(bytes.Buffer)
	},
}

func acquireBuffer() *bytes.Buffer {
	return bufferPool.Get().(*bytes.Buffer)
}

// releaseBuffer returns a buffer to the pool. Oversized buffers are dropped.
func releaseBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > 64<<10 {
		return
	}
	buf.Reset()
	bufferPool.Put(buf)
}

// marshal encodes v as compact JSON without the trailing newline.
func marshal(v any) ([]byte, error) {
	buf := acquireBuffer()
	defer releaseBuffer(buf)

	if err := json.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	return append([]byte(nil), out...), nil
}
