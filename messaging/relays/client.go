package relays

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"
	"github.com/sasha-s/go-deadlock"

	"poap/engine/library"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// State of the physical relay connection.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Stopping
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

var (
	// ErrStopped is returned by NextEvent after Stop.
	ErrStopped = errors.New("relay client stopped")
	// ErrConnectionReset wakes a blocked NextEvent caller when the transport
	// closed; the reader should rebuild its subscription and carry on.
	ErrConnectionReset = errors.New("relay connection reset")
)

// Default timings. The settle delay gives the relay a moment before we trust
// the connection; the backoff delay paces reconnect attempts.
const (
	DefaultSettleDelay  = 5 * time.Second
	DefaultBackoffDelay = 60 * time.Second
	DefaultGraceDelay   = 10 * time.Second
	writeTimeout        = 10 * time.Second
	queueCapacity       = 256
)

type inboundItem struct {
	event nostr.Event
	err   error
}

// Client owns the single websocket connection to the upstream relay and the
// two queues that decouple it from the rest of the engine. Outbound requests
// are sent in the order enqueued; inbound events are delivered in the order
// the relay sent them, which is not necessarily created_at order.
type Client struct {
	url string

	// Adjust before Start if the defaults do not suit (tests use tiny values).
	SettleDelay  time.Duration
	BackoffDelay time.Duration
	GraceDelay   time.Duration

	mu           deadlock.Mutex
	state        State
	started      bool
	conn         *websocket.Conn
	issuersSubID string

	outbound chan []byte
	pending  [][]byte // taken off the queue but not confirmed sent; only the write loop touches it
	inbound  chan inboundItem

	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient builds a client for one relay endpoint. Nothing touches the
// network until Start.
func NewClient(url string) *Client {
	return &Client{
		url:          url,
		SettleDelay:  DefaultSettleDelay,
		BackoffDelay: DefaultBackoffDelay,
		GraceDelay:   DefaultGraceDelay,
		outbound:     make(chan []byte, queueCapacity),
		inbound:      make(chan inboundItem, queueCapacity),
		stop:         make(chan struct{}),
	}
}

// Start spawns the connection maintenance loop. Idempotent.
func (c *Client) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true
	c.state = Connecting
	go c.maintainConnection()
}

// State reports the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Publish enqueues an ["EVENT", e] request. Fire and forget: success is only
// observed via the relay echoing the event back on a matching subscription.
func (c *Client) Publish(event nostr.Event) {
	payload, err := json.Marshal([]interface{}{"EVENT", event})
	if err != nil {
		library.LogCLI(fmt.Sprintf("could not encode event %s: %s", event.ID, err), 1)
		return
	}
	c.enqueue(payload)
}

// Subscribe enqueues a ["REQ", id, filters...] request and returns the fresh
// subscription id synchronously. The send itself is asynchronous.
func (c *Client) Subscribe(label string, filters nostr.Filters) string {
	id := label + "-" + randomID()
	parts := []interface{}{"REQ", id}
	for _, f := range filters {
		parts = append(parts, f)
	}
	payload, err := json.Marshal(parts)
	if err != nil {
		library.LogCLI(fmt.Sprintf("could not encode subscription %s: %s", id, err), 1)
		return id
	}
	c.enqueue(payload)
	return id
}

// Unsubscribe enqueues a ["CLOSE", id] request.
func (c *Client) Unsubscribe(subscriptionID string) {
	payload, err := json.Marshal([]interface{}{"CLOSE", subscriptionID})
	if err != nil {
		library.LogCLI(err.Error(), 1)
		return
	}
	c.enqueue(payload)
	library.LogCLI("Unsubscribed from subscription id: "+subscriptionID, 3)
}

// RegisterIssuersSubscription records the long lived issuers subscription so
// Stop can close it, and returns the id that was replaced (empty on first use).
func (c *Client) RegisterIssuersSubscription(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	previous := c.issuersSubID
	c.issuersSubID = id
	return previous
}

// IssuersSubscription returns the currently registered issuers subscription id.
func (c *Client) IssuersSubscription() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.issuersSubID
}

// NextEvent blocks until a decoded relay event arrives or the connection
// reports an unrecoverable condition, which surfaces as an error value so the
// read loop can resubscribe instead of hanging forever.
func (c *Client) NextEvent() (nostr.Event, error) {
	select {
	case item := <-c.inbound:
		return item.event, item.err
	case <-c.stop:
		return nostr.Event{}, ErrStopped
	}
}

// Stop closes the issuers subscription, waits a bounded grace period for the
// CLOSE to propagate, then tears the connection down. Idempotent, and never
// hangs on a dead connection.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.state = Stopping
		id := c.issuersSubID
		c.mu.Unlock()

		if id != "" {
			c.Unsubscribe(id)
		}
		// bounded: give the CLOSE a chance to drain, nothing more
		time.Sleep(c.GraceDelay)

		close(c.stop)
		c.closeConn()
	})
}

func (c *Client) enqueue(payload []byte) {
	select {
	case c.outbound <- payload:
	case <-c.stop:
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) closeConn() {
	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()
}

// sleep waits for d unless the client is stopped first.
func (c *Client) sleep(d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-c.stop:
		return false
	}
}

// maintainConnection runs on its own goroutine for the life of the client:
// connect, settle, drain the outbound queue; on any failure log, back off and
// start over. Outbound requests that failed to send stay in the pending list
// so publish/subscribe calls are not lost across a reconnect.
func (c *Client) maintainConnection() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.setState(Connecting)
		library.LogCLI("Connecting to "+c.url, 3)
		conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
		if err != nil {
			library.LogCLI(fmt.Sprintf("could not connect to relay %s: %s", c.url, err), 2)
			if !c.sleep(c.BackoffDelay) {
				return
			}
			continue
		}
		c.setConn(conn)

		// be sure the connection is open before trusting it
		if !c.sleep(c.SettleDelay) {
			conn.Close()
			return
		}
		c.setState(Connected)
		library.LogCLI("Connected to "+c.url, 4)

		readerDone := make(chan struct{})
		go c.readLoop(conn, readerDone)

		err = c.writeLoop(conn, readerDone)
		conn.Close()
		c.setState(Disconnected)

		select {
		case <-c.stop:
			return
		default:
		}
		library.LogCLI(fmt.Sprintf("relay connection lost (%s), retrying", err), 2)
		if !c.sleep(c.BackoffDelay) {
			return
		}
	}
}

// writeLoop is the strict single writer for the connection. A payload is only
// removed from pending after the transport accepted it.
func (c *Client) writeLoop(conn *websocket.Conn, readerDone chan struct{}) error {
	for {
		var payload []byte
		if len(c.pending) > 0 {
			payload = c.pending[0]
		} else {
			select {
			case <-c.stop:
				return ErrStopped
			case <-readerDone:
				return errors.New("reader closed")
			case payload = <-c.outbound:
				c.pending = append(c.pending, payload)
			}
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		c.pending = c.pending[1:]
	}
}

// readLoop is the strict single reader. On a transport close or error it
// pushes the sentinel so anyone blocked in NextEvent wakes up and can decide
// to rebuild its subscription.
func (c *Client) readLoop(conn *websocket.Conn, readerDone chan struct{}) {
	defer close(readerDone)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.stop:
			default:
				library.LogCLI(fmt.Sprintf("websocket closed: %s", err), 2)
				c.pushInbound(inboundItem{err: ErrConnectionReset})
			}
			return
		}
		c.dispatchMessage(data)
	}
}

func (c *Client) dispatchMessage(data []byte) {
	switch env := nostr.ParseMessage(data).(type) {
	case *nostr.EventEnvelope:
		c.pushInbound(inboundItem{event: env.Event})
	case *nostr.NoticeEnvelope:
		library.LogCLI("relay notice: "+string(*env), 2)
	case *nostr.EOSEEnvelope:
		library.LogCLI("end of stored events for subscription "+string(*env), 3)
	case *nostr.OKEnvelope:
		library.LogCLI("relay ack for event "+env.EventID, 3)
	case nil:
		library.LogCLI(fmt.Sprintf("dropping undecodable relay message: %.120s", string(data)), 3)
	default:
		// anything else (AUTH, COUNT, CLOSED...) is outside our protocol subset
		library.LogCLI(fmt.Sprintf("ignoring relay message: %.120s", string(data)), 3)
	}
}

func (c *Client) pushInbound(item inboundItem) {
	select {
	case c.inbound <- item:
	case <-c.stop:
	}
}

func randomID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		library.LogCLI(err.Error(), 1)
	}
	return hex.EncodeToString(b)
}
