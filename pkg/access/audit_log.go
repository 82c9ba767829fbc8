package access

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"log/slog"

	"github.com/patrickfnielsen/access-portal/internal/util"
)

const (
	minRetryDelay               = time.Millisecond * 100
	defaultMinDelaySeconds      = int64(1)
	defaultMaxDelaySeconds      = int64(10)
	defaultBufferChunkSizeBytes = int64(32768) // 32KB limit
	defaultBufferSizeLimitBytes = int64(0)     // unlimited
	defaultUploadTimeout        = 5 * time.Second
)

// AuditLogConfig controls where access log events go: the console logger,
// an HTTP collector, or both.
type AuditLogConfig struct {
	ConsoleLog           bool
	HTTPLog              bool
	BufferChunkSizeBytes *int64
	BufferSizeLimitBytes *int64
	MinDelaySeconds      *int64
	MaxDelaySeconds      *int64
	Endpoint             string
	EndpointTimeout      time.Duration
	BearerToken          string
}

func (c *AuditLogConfig) validateAndInjectDefaults() error {
	min := defaultMinDelaySeconds
	max := defaultMaxDelaySeconds

	// reject bad min/max values
	if c.MaxDelaySeconds != nil && c.MinDelaySeconds != nil {
		if *c.MaxDelaySeconds < *c.MinDelaySeconds {
			return fmt.Errorf("max upload delay must be >= min upload delay in audit log")
		}
		min = *c.MinDelaySeconds
		max = *c.MaxDelaySeconds
	} else if c.MaxDelaySeconds == nil && c.MinDelaySeconds != nil {
		return fmt.Errorf("audit log configuration missing max delay")
	} else if c.MinDelaySeconds == nil && c.MaxDelaySeconds != nil {
		return fmt.Errorf("audit log configuration missing min delay")
	}

	if c.HTTPLog && c.Endpoint == "" {
		return fmt.Errorf("audit log http upload enabled without endpoint")
	}

	// scale to nanoseconds
	minDelay := int64(time.Duration(min) * time.Second)
	c.MinDelaySeconds = &minDelay

	maxDelay := int64(time.Duration(max) * time.Second)
	c.MaxDelaySeconds = &maxDelay

	uploadLimit := defaultBufferChunkSizeBytes
	if c.BufferChunkSizeBytes != nil {
		uploadLimit = *c.BufferChunkSizeBytes
	}
	c.BufferChunkSizeBytes = &uploadLimit

	bufferLimit := defaultBufferSizeLimitBytes
	if c.BufferSizeLimitBytes != nil {
		bufferLimit = *c.BufferSizeLimitBytes
	}
	c.BufferSizeLimitBytes = &bufferLimit

	if c.EndpointTimeout <= 0 {
		c.EndpointTimeout = defaultUploadTimeout
	}

	return nil
}

type auditLogger struct {
	config     *AuditLogConfig
	buffer     *logBuffer
	enc        *chunkEncoder
	httpClient *http.Client
	mtx        sync.Mutex
	stop       chan chan struct{}
}

func newAuditLogger(config *AuditLogConfig) (*auditLogger, error) {
	err := config.validateAndInjectDefaults()
	if err != nil {
		return nil, err
	}

	return &auditLogger{
		config:     config,
		stop:       make(chan chan struct{}),
		buffer:     newLogBuffer(*config.BufferSizeLimitBytes),
		enc:        newChunkEncoder(*config.BufferChunkSizeBytes),
		httpClient: defaultRoundTripperClient(config.EndpointTimeout),
	}, nil
}

// Start runs the upload loop. Nothing is spawned when HTTP upload is off.
func (l *auditLogger) Start() {
	if !l.config.HTTPLog {
		return
	}
	go l.loop()
}

func (l *auditLogger) Stop(ctx context.Context) error {
	if !l.config.HTTPLog {
		return nil
	}

	err := l.flush(ctx)

	done := make(chan struct{})
	l.stop <- done
	<-done
	return err
}

func (l *auditLogger) Log(event AccessLogEvent) error {
	if l.config.ConsoleLog {
		slog.Info("access log", slog.Any("access", event))
	}

	if l.config.HTTPLog {
		l.mtx.Lock()
		defer l.mtx.Unlock()
		return l.encodeAndBufferEvent(event)
	}

	return nil
}

func (l *auditLogger) flush(ctx context.Context) error {
	slog.Info("flushing access logs")
	done := make(chan struct{}, 1)

	go func() {
		for ctx.Err() == nil {
			if _, err := l.oneShot(ctx); err != nil {
				// wait before retrying, no backoff since we are shutting down
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
				continue
			}
			done <- struct{}{}
			return
		}
	}()

	select {
	case <-done:
		slog.Info("all access logs in buffer uploaded")
	case <-ctx.Done():
		return fmt.Errorf("audit logger stopped with events possibly still in buffer")
	}
	return nil
}

func (l *auditLogger) doOneShot(ctx context.Context) error {
	uploaded, err := l.oneShot(ctx)

	if err != nil {
		slog.Error("failed to upload access logs", slog.String("error", err.Error()))
	} else if uploaded {
		slog.Debug("access logs uploaded successfully")
	}
	return err
}

func (l *auditLogger) oneShot(ctx context.Context) (ok bool, err error) {
	// Swap in a fresh encoder and buffer so validations are not blocked on
	// the upload.
	l.mtx.Lock()
	oldChunkEnc := l.enc
	oldBuffer := l.buffer
	l.buffer = newLogBuffer(*l.config.BufferSizeLimitBytes)
	l.enc = newChunkEncoder(*l.config.BufferChunkSizeBytes)
	l.mtx.Unlock()

	chunks, err := oldChunkEnc.Flush()
	if err != nil {
		return false, err
	}

	for _, ch := range chunks {
		l.bufferChunk(oldBuffer, ch)
	}

	if oldBuffer.Len() == 0 {
		return false, nil
	}

	for bs := oldBuffer.Pop(); bs != nil; bs = oldBuffer.Pop() {
		if err == nil {
			err = l.uploadChunk(ctx, bs)
		}
		if err != nil {
			l.mtx.Lock()
			l.bufferChunk(l.buffer, bs)
			l.mtx.Unlock()
		}
	}

	return err == nil, err
}

func (l *auditLogger) loop() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var retry int
	for {
		var delay time.Duration
		err := l.doOneShot(ctx)

		if err == nil {
			min := float64(*l.config.MinDelaySeconds)
			max := float64(*l.config.MaxDelaySeconds)
			delay = time.Duration(((max - min) * rand.Float64()) + min)
			retry = 0
		} else {
			delay = util.RetryDelay(minRetryDelay, time.Duration(*l.config.MaxDelaySeconds), retry)
			retry++
		}

		slog.Debug("waiting before next upload/retry", slog.Duration("delay", delay))

		select {
		case <-time.After(delay):
		case done := <-l.stop:
			done <- struct{}{}
			return
		}
	}
}

func (l *auditLogger) encodeAndBufferEvent(event AccessLogEvent) error {
	result, err := l.enc.Write(event)
	if err != nil {
		slog.Error("access log encoding failed", slog.String("error", err.Error()))
		return err
	}
	for _, chunk := range result {
		l.bufferChunk(l.buffer, chunk)
	}
	return nil
}

func (l *auditLogger) bufferChunk(buffer *logBuffer, bs []byte) {
	dropped := buffer.Push(bs)
	if dropped > 0 {
		slog.Warn("dropped access log chunks from buffer, reduce upload interval or increase buffer size", slog.Int("chunks", dropped))
	}
}

func (l *auditLogger) uploadChunk(ctx context.Context, data []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, l.config.Endpoint, bytes.NewReader(data))
	if err != nil {
		return err
	}

	request.Header.Add("Content-Type", "application/json")
	request.Header.Add("Content-Encoding", "gzip")
	if l.config.BearerToken != "" {
		request.Header.Add("Authorization", fmt.Sprintf("Bearer %v", l.config.BearerToken))
	}

	resp, err := l.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("access log upload failed: %w", err)
	}

	defer closeHttp(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("access log upload invalid status code: %d", resp.StatusCode)
	}

	return nil
}
