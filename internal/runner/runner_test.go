package runner

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/opentalk/controller/internal/exchange"
	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/modules/chat"
	"github.com/opentalk/controller/internal/modules/echo"
	"github.com/opentalk/controller/internal/store/memory"
)

// TestMain verifies Run leaves no goroutine behind once a connection
// closes, the way the teacher's internal/v1/room package guards
// Room.broadcast/Subscribe against leaking its listener goroutine.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeConn is a minimal Conn that hands back one scripted inbound message
// before returning io.EOF-equivalent closure, and records every outbound
// frame.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	readPos  int
	closed   chan struct{}
	outbound [][]byte
}

func newFakeConn(inbound ...[]byte) *fakeConn {
	return &fakeConn{inbound: inbound, closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	if c.readPos < len(c.inbound) {
		msg := c.inbound[c.readPos]
		c.readPos++
		c.mu.Unlock()
		return websocket.TextMessage, msg, nil
	}
	c.mu.Unlock()
	<-c.closed
	return 0, nil, websocket.ErrCloseSent
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outbound = append(c.outbound, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.outbound))
	copy(out, c.outbound)
	return out
}

func newTestRunner(t *testing.T, conn Conn) *Runner {
	t.Helper()
	echoModule, err := echo.Builder{}.Build(nil)
	require.NoError(t, err)

	room := ids.Base(ids.New[ids.RoomID]())
	participant := ids.New[ids.ParticipantID]()
	r := New(conn, exchange.NewLocal(), memory.New(), room, participant, "user", 0)
	r.AddModule(echoModule)
	return r
}

func TestRunnerEchoRoundTrip(t *testing.T) {
	conn := newFakeConn([]byte(`{"namespace":"echo","event":"ping","payload":{"hello":"world"}}`))
	r := newTestRunner(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return len(conn.frames()) >= 2
	}, time.Second, 5*time.Millisecond, "expected join_success and echoed frame")

	conn.Close()
	cancel()
	<-done

	frames := conn.frames()
	var sawEcho bool
	for _, f := range frames {
		var msg wireMessage
		if err := json.Unmarshal(f, &msg); err != nil {
			continue
		}
		if msg.Namespace == "echo" {
			sawEcho = true
			assert.JSONEq(t, `{"hello":"world"}`, string(msg.Payload))
		}
	}
	assert.True(t, sawEcho, "echo module should have reflected the inbound command")
}

// TestRunnerChat_GlobalMessageReachesSenderAndPeer exercises the full
// exchange round-trip two runners share a room over: it guards against
// regressing the dropped-envelope-namespace and blanket-self-filter bugs
// that used to make a module-published exchange message unroutable and
// invisible to its own sender (spec.md §4.2, §4.6; S1's "both P1 and P2
// receive MessageSent").
func TestRunnerChat_GlobalMessageReachesSenderAndPeer(t *testing.T) {
	room := ids.Base(ids.New[ids.RoomID]())
	exch := exchange.NewLocal()
	st := memory.New()

	chatA, err := chat.Builder{}.Build(nil)
	require.NoError(t, err)
	chatB, err := chat.Builder{}.Build(nil)
	require.NoError(t, err)

	connA := newFakeConn([]byte(`{"namespace":"chat","payload":{"type":"send_message","scope":{"kind":"global"},"content":"hi"}}`))
	connB := newFakeConn()

	rA := New(connA, exch, st, room, ids.New[ids.ParticipantID](), "user", 0)
	rA.AddModule(chatA)
	rB := New(connB, exch, st, room, ids.New[ids.ParticipantID](), "user", 0)
	rB.AddModule(chatB)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { rA.Run(ctx); close(doneA) }()
	go func() { rB.Run(ctx); close(doneB) }()

	sawMessageSent := func(conn *fakeConn) bool {
		for _, f := range conn.frames() {
			var msg wireMessage
			if err := json.Unmarshal(f, &msg); err != nil || msg.Namespace != "chat" {
				continue
			}
			var ev struct {
				Type string `json:"type"`
			}
			if json.Unmarshal(msg.Payload, &ev) == nil && ev.Type == "message_sent" {
				return true
			}
		}
		return false
	}

	require.Eventually(t, func() bool {
		return sawMessageSent(connA) && sawMessageSent(connB)
	}, time.Second, 5*time.Millisecond, "sender and peer should both receive message_sent")

	connA.Close()
	connB.Close()
	cancel()
	<-doneA
	<-doneB
}

func TestRunnerShutdownClosesSendChannel(t *testing.T) {
	conn := newFakeConn()
	r := newTestRunner(t, conn)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(conn.frames()) >= 1 }, time.Second, 5*time.Millisecond)

	r.RequestShutdown()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after RequestShutdown")
	}
}
