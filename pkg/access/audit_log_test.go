package access

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mtx    sync.Mutex
	events []AccessLogEvent
	auth   string
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	zr, err := gzip.NewReader(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	data, err := io.ReadAll(zr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var events []AccessLogEvent
	if err := json.Unmarshal(data, &events); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mtx.Lock()
	c.events = append(c.events, events...)
	c.auth = r.Header.Get("Authorization")
	c.mtx.Unlock()
}

func TestAuditLogUploadsOnClose(t *testing.T) {
	sink := &collector{}
	collectorSrv := httptest.NewServer(sink)
	t.Cleanup(collectorSrv.Close)

	srv := upstream(t, http.StatusOK, `{"join_url":"u1"}`)
	client, err := New(&Config{
		Timeout:   time.Second,
		Resources: resources(srv.URL, srv.URL, srv.URL),
		AuditLog: AuditLogConfig{
			HTTPLog:     true,
			Endpoint:    collectorSrv.URL,
			BearerToken: "secret",
		},
	})
	require.NoError(t, err)

	result, err := client.Validate(context.Background(), ValidateOptions{Email: "a@b.com", RemoteAddr: "10.0.0.1"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Close(ctx))

	sink.mtx.Lock()
	defer sink.mtx.Unlock()

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, result.ID, event.ID)
	assert.Equal(t, "a@b.com", event.Email)
	assert.Equal(t, "10.0.0.1", event.RequestedBy)
	assert.True(t, event.HasAccess)
	assert.Equal(t, [Slots]bool{true, true, true}, event.Granted)
	assert.Equal(t, "accept:join_url", event.Reasons[0])
	assert.Equal(t, "Bearer secret", sink.auth)
}

func TestAuditLogConfigValidation(t *testing.T) {
	_, err := newAuditLogger(&AuditLogConfig{HTTPLog: true})
	assert.Error(t, err)

	minDelay, maxDelay := int64(5), int64(1)
	_, err = newAuditLogger(&AuditLogConfig{MinDelaySeconds: &minDelay, MaxDelaySeconds: &maxDelay})
	assert.Error(t, err)

	_, err = newAuditLogger(&AuditLogConfig{MinDelaySeconds: &minDelay})
	assert.Error(t, err)

	logger, err := newAuditLogger(&AuditLogConfig{})
	require.NoError(t, err)
	assert.Equal(t, int64(time.Second), *logger.config.MinDelaySeconds)
	assert.Equal(t, defaultUploadTimeout, logger.config.EndpointTimeout)
}

func TestChunkEncoderSplitsChunks(t *testing.T) {
	enc := newChunkEncoder(200)

	var chunks [][]byte
	for i := 0; i < 5; i++ {
		out, err := enc.Write(AccessLogEvent{ID: "id", Email: "someone@example.com"})
		require.NoError(t, err)
		chunks = append(chunks, out...)
	}
	rest, err := enc.Flush()
	require.NoError(t, err)
	chunks = append(chunks, rest...)

	assert.Greater(t, len(chunks), 1)

	total := 0
	for _, ch := range chunks {
		zr, err := gzip.NewReader(bytes.NewReader(ch))
		require.NoError(t, err)
		data, err := io.ReadAll(zr)
		require.NoError(t, err)

		var events []AccessLogEvent
		require.NoError(t, json.Unmarshal(data, &events))
		total += len(events)
	}
	assert.Equal(t, 5, total)
}

func TestLogBufferDropsOldest(t *testing.T) {
	buf := newLogBuffer(6)

	assert.Equal(t, 0, buf.Push([]byte("aaa")))
	assert.Equal(t, 0, buf.Push([]byte("bbb")))
	assert.Equal(t, 1, buf.Push([]byte("ccc")))
	assert.Equal(t, 1, buf.Push([]byte("too long")))

	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, []byte("bbb"), buf.Pop())
	assert.Equal(t, []byte("ccc"), buf.Pop())
	assert.Nil(t, buf.Pop())
}
