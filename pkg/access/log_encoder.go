package access

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
)

// chunkEncoder gzips access log events into JSON arrays that stay below the
// configured chunk size.
type chunkEncoder struct {
	flushLimit   int64
	bytesWritten int
	buf          *bytes.Buffer
	w            *gzip.Writer
}

func newChunkEncoder(limit int64) *chunkEncoder {
	enc := &chunkEncoder{
		flushLimit: limit,
	}
	enc.initialize()

	return enc
}

func (enc *chunkEncoder) Write(event AccessLogEvent) (result [][]byte, err error) {
	bs, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	if enc.bytesWritten > 0 && int64(len(bs)+enc.bytesWritten+1) > enc.flushLimit {
		if err := enc.writeClose(); err != nil {
			return nil, err
		}

		result = enc.update()
	}

	sep := []byte(`,`)
	if enc.bytesWritten == 0 {
		sep = []byte(`[`)
	}

	n, err := enc.w.Write(sep)
	if err != nil {
		return nil, err
	}
	enc.bytesWritten += n

	n, err = enc.w.Write(bs)
	if err != nil {
		return nil, err
	}

	enc.bytesWritten += n
	return result, nil
}

func (enc *chunkEncoder) writeClose() error {
	if _, err := enc.w.Write([]byte(`]`)); err != nil {
		return err
	}
	return enc.w.Close()
}

// Flush closes the pending chunk, if any, and returns it.
func (enc *chunkEncoder) Flush() ([][]byte, error) {
	if enc.bytesWritten == 0 {
		return nil, nil
	}
	if err := enc.writeClose(); err != nil {
		return nil, err
	}
	return enc.update(), nil
}

func (enc *chunkEncoder) update() [][]byte {
	buf := enc.buf
	enc.initialize()
	if buf != nil {
		return [][]byte{buf.Bytes()}
	}
	return nil
}

func (enc *chunkEncoder) initialize() {
	enc.buf = new(bytes.Buffer)
	enc.bytesWritten = 0
	enc.w = gzip.NewWriter(enc.buf)
}
