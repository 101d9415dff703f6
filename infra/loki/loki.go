package loki

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	pushPath      = "/loki/api/v1/push"
	flushInterval = time.Second
	flushSize     = 20
)

// Writer buffers log lines and ships them to Loki's push API.
// It satisfies zapcore.WriteSyncer so it can sit behind a zap core.
type Writer struct {
	url    string
	labels map[string]string
	client *http.Client

	mu  sync.Mutex
	buf [][2]string

	ticker    *time.Ticker
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type pushRequest struct {
	Streams []stream `json:"streams"`
}

type stream struct {
	Stream map[string]string `json:"stream"`
	Values [][2]string       `json:"values"`
}

// NewWriter returns a Writer for the Loki base URL (e.g. http://loki:3100) or nil when url is empty.
func NewWriter(url string, labels map[string]string) *Writer {
	return newWriter(url, labels, flushInterval)
}

func newWriter(url string, labels map[string]string, interval time.Duration) *Writer {
	if url == "" || len(labels) == 0 {
		return nil
	}
	w := &Writer{
		url:    strings.TrimSuffix(url, "/") + pushPath,
		labels: labels,
		client: &http.Client{Timeout: 5 * time.Second},
		buf:    make([][2]string, 0, 64),
		ticker: time.NewTicker(interval),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.flushLoop()
	return w
}

func (w *Writer) Write(p []byte) (int, error) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	needFlush := false

	w.mu.Lock()
	for _, line := range bytes.Split(p, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		w.buf = append(w.buf, [2]string{now, string(line)})
	}
	needFlush = len(w.buf) >= flushSize
	w.mu.Unlock()

	if needFlush {
		_ = w.flush()
	}
	return len(p), nil
}

// Sync pushes whatever is buffered.
func (w *Writer) Sync() error {
	return w.flush()
}

func (w *Writer) flushLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case <-w.ticker.C:
			_ = w.flush()
		}
	}
}

func (w *Writer) flush() error {
	w.mu.Lock()
	if len(w.buf) == 0 {
		w.mu.Unlock()
		return nil
	}
	values := w.buf
	w.buf = make([][2]string, 0, 64)
	w.mu.Unlock()

	raw, err := json.Marshal(pushRequest{Streams: []stream{{Stream: w.labels, Values: values}}})
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("loki push: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close stops the background flusher and pushes the remaining buffer.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		w.ticker.Stop()
		close(w.done)
		w.wg.Wait()
		err = w.flush()
	})
	return err
}
