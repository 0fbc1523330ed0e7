// Package transport implements JSON-RPC 2.0 over Content-Length-framed
// stdio, the wire layer every LSP peer talks over. It correlates request
// ids to replies, hands server-initiated traffic (requests and
// notifications without a matching pending entry) to an injected handler,
// and fails every pending request the moment the connection is declared
// closed.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// Handler receives server-initiated traffic: requests (ID != nil) expect a
// reply via Transport.SendMessage; notifications (ID == nil) do not.
type Handler func(id *int64, method string, params json.RawMessage)

// Request is an outbound JSON-RPC request or notification (ID omitted).
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      *int64 `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Response is an inbound (or, for server replies via SendMessage, outbound)
// JSON-RPC response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type pendingEntry struct {
	ch   chan *Response
	done bool
}

// Transport multiplexes one child process's stdio as framed JSON-RPC.
type Transport struct {
	reader *bufio.Reader
	writer io.Writer
	closer io.Closer
	debug  bool

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  atomic.Int64
	pending map[int64]*pendingEntry
	handler Handler

	closed atomic.Bool
	done   chan struct{}
}

// Option configures a Transport at construction.
type Option func(*Transport)

// WithDebug turns on verbose logging of every framed message.
func WithDebug(debug bool) Option {
	return func(t *Transport) { t.debug = debug }
}

// New wraps a child process's stdio (or any reader/writer/closer triple)
// as a framing transport. Call Start to begin reading.
func New(r io.Reader, w io.Writer, c io.Closer, opts ...Option) *Transport {
	// A misbehaving peer can write malformed UTF-8 inside an otherwise
	// well-framed message body (headers stay plain ASCII); normalizing it
	// here keeps encoding/json from failing the whole read on one bad
	// byte sequence.
	normalized := transform.NewReader(r, runes.ReplaceIllFormed())
	t := &Transport{
		reader:  bufio.NewReaderSize(normalized, 64*1024),
		writer:  w,
		closer:  c,
		pending: make(map[int64]*pendingEntry),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// SetHandler installs the callback invoked for server-initiated requests
// and notifications. Must be called before Start to avoid a race with the
// first inbound message.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

// Start begins the read loop in a new goroutine.
func (t *Transport) Start(ctx context.Context) {
	go t.readLoop(ctx)
}

// Close marks the transport closed, rejects every pending request, and
// closes the underlying connection.
func (t *Transport) Close() error {
	if t.closed.Swap(true) {
		return nil
	}
	close(t.done)
	t.mu.Lock()
	t.rejectAllLocked(ErrShutdown)
	t.mu.Unlock()
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// IsClosed reports whether Close has run.
func (t *Transport) IsClosed() bool {
	return t.closed.Load()
}

// SendRequest writes a framed request and waits for its matching reply or
// for timeout to elapse, whichever comes first. A late reply arriving
// after timeout is dropped by handleResponse finding no pending entry.
func (t *Transport) SendRequest(ctx context.Context, method string, params any, timeout time.Duration, result any) error {
	if t.closed.Load() {
		return ErrShutdown
	}

	id := t.nextID.Add(1)
	entry := &pendingEntry{ch: make(chan *Response, 1)}

	t.mu.Lock()
	t.pending[id] = entry
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
	}()

	if err := t.send(&Request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("transport: send request %s: %w", method, err)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.done:
		return ErrShutdown
	case <-timeoutCh:
		return fmt.Errorf("%w: %s after %s", ErrTimeout, method, timeout)
	case resp, ok := <-entry.ch:
		if !ok {
			return ErrShutdown
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("transport: unmarshal result for %s: %w", method, err)
			}
		}
		return nil
	}
}

// SendNotification writes a framed notification; no reply is expected or
// awaited.
func (t *Transport) SendNotification(method string, params any) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	return t.send(&Request{JSONRPC: "2.0", Method: method, Params: params})
}

// SendMessage writes a raw reply to a server-initiated request, used by
// the server manager's adapter-backed handler.
func (t *Transport) SendMessage(resp *Response) error {
	if t.closed.Load() {
		return ErrShutdown
	}
	return t.send(resp)
}

// RejectAllPending fails every outstanding SendRequest call with reason.
// Called by the server manager on peer exit or fatal error.
func (t *Transport) RejectAllPending(reason error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rejectAllLocked(reason)
}

func (t *Transport) rejectAllLocked(reason error) {
	for id, entry := range t.pending {
		if entry.done {
			continue
		}
		entry.done = true
		select {
		case entry.ch <- &Response{Error: &RPCError{Code: CodeInternalError, Message: reason.Error()}}:
		default:
		}
		delete(t.pending, id)
	}
}

func (t *Transport) send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if t.debug {
		log.Printf("[transport] -> %s", data)
	}

	header := fmt.Sprintf("Content-Length: %d\r\n\r\n", len(data))

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := io.WriteString(t.writer, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := t.writer.Write(data); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.done:
			return
		default:
		}

		msg, err := t.readMessage()
		if err != nil {
			if t.closed.Load() || err == io.EOF || err == io.ErrClosedPipe {
				return
			}
			log.Printf("[transport] read error (continuing): %v", err)
			continue
		}
		if t.debug {
			log.Printf("[transport] <- %s", msg)
		}
		t.dispatch(msg)
	}
}

// readMessage reads one LSP message: a block of "Key: Value\r\n" header
// lines terminated by a blank line, followed by exactly Content-Length
// bytes of body. Partial reads across calls are handled by the buffered
// reader retaining unread bytes.
func (t *Transport) readMessage() (json.RawMessage, error) {
	contentLength := -1
	for {
		line, err := t.reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				if n, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
					contentLength = n
				}
			}
		}
	}

	if contentLength < 0 {
		return nil, fmt.Errorf("%w: missing Content-Length header", ErrInvalidMessage)
	}

	body := make([]byte, contentLength)
	if _, err := io.ReadFull(t.reader, body); err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// dispatch routes a decoded message: replies with a matching pending id go
// to handleResponse; everything else (server requests and notifications)
// goes to the injected handler.
func (t *Transport) dispatch(data json.RawMessage) {
	var probe struct {
		ID     *int64          `json:"id"`
		Method string          `json:"method"`
		Error  *RPCError       `json:"error"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		log.Printf("[transport] discarding unparsable message: %v", err)
		return
	}

	if probe.Method == "" && probe.ID != nil {
		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("[transport] discarding malformed response: %v", err)
			return
		}
		if t.handleResponse(&resp) {
			return
		}
		// No pending entry: a late reply after timeout, or a reply to an
		// id we never sent. Drop silently per §4.2.
		return
	}

	t.mu.Lock()
	h := t.handler
	t.mu.Unlock()
	if h != nil {
		h(probe.ID, probe.Method, json.RawMessage(data))
	}
}

func (t *Transport) handleResponse(resp *Response) bool {
	if resp.ID == nil {
		return false
	}
	t.mu.Lock()
	entry, ok := t.pending[*resp.ID]
	if ok {
		delete(t.pending, *resp.ID)
	}
	t.mu.Unlock()

	if !ok || entry.done {
		return false
	}
	select {
	case entry.ch <- resp:
	default:
	}
	return true
}
