package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/hourglass-app/hourglass/internal/store"
	"github.com/hourglass-app/hourglass/internal/timer"
	"github.com/hourglass-app/hourglass/internal/wire"
)

// userStore adds per-user listing on top of the in-memory store, the way the
// postgres repository does it.
type userStore struct {
	*store.Memory
}

func (s *userStore) ListForUser(ctx context.Context, userID string) (store.Snapshot, error) {
	snap, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	var out store.Snapshot
	for _, t := range snap {
		if t.OwnerID == userID {
			out = append(out, t)
			continue
		}
		for _, u := range t.SharedWith {
			if u == userID {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	frames [][]byte
}

func (p *recordingPublisher) Publish(ctx context.Context, users []string, frame []byte) error {
	p.mu.Lock()
	p.frames = append(p.frames, frame)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.frames)
}

type hubFixture struct {
	hub    *Hub
	store  *userStore
	pub    *recordingPublisher
	server *httptest.Server
	cancel context.CancelFunc
}

func newHubFixture(t *testing.T, userID string) *hubFixture {
	t.Helper()
	st := &userStore{Memory: store.NewMemory()}
	pub := &recordingPublisher{}
	hub := NewHub(DefaultHubConfig(), st, pub)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Start(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Upgrade(w, r, userID, "device-1"); err != nil {
			t.Logf("upgrade: %v", err)
		}
	}))

	f := &hubFixture{hub: hub, store: st, pub: pub, server: srv, cancel: cancel}
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return f
}

func (f *hubFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) wire.Message {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	msg, err := wire.Decode(data)
	require.NoError(t, err)
	return msg
}

func writeFrame(t *testing.T, ws *websocket.Conn, msg wire.Message) {
	t.Helper()
	frame, err := wire.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func TestHandshakeSendsActiveTimerList(t *testing.T) {
	f := newHubFixture(t, "alice")
	now := time.Now()
	t1 := timer.New("t1", "alice", "laundry", 5*time.Minute, now)
	require.NoError(t, f.store.Insert(context.Background(), t1))

	ws := f.dial(t)
	msg := readFrame(t, ws)
	list, ok := msg.(wire.ActiveTimerList)
	require.True(t, ok)
	require.Len(t, list.Timers, 1)
	require.Equal(t, "t1", list.Timers[0].ID)
}

func TestUpdateTimerIsStoredAndFannedOut(t *testing.T) {
	f := newHubFixture(t, "alice")
	ws := f.dial(t)
	readFrame(t, ws) // initial activeTimerList

	now := time.Now()
	t1 := timer.New("t1", "alice", "laundry", 5*time.Minute, now)
	writeFrame(t, ws, wire.UpdateTimer{Reason: "created", Timer: t1})

	// The update comes back to every session of the owner, this one included.
	msg := readFrame(t, ws)
	upd, ok := msg.(wire.UpdateTimer)
	require.True(t, ok)
	require.True(t, t1.Equal(upd.Timer))

	stored, err := f.store.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, t1.Equal(stored))

	// And it reached the cross-instance publisher.
	require.Eventually(t, func() bool { return f.pub.count() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStaleUpdateReassertsStoredState(t *testing.T) {
	f := newHubFixture(t, "alice")
	now := time.Now()
	current := timer.New("t1", "alice", "laundry", 5*time.Minute, now).AddTime(time.Minute) // version 2
	require.NoError(t, f.store.Insert(context.Background(), current))

	ws := f.dial(t)
	readFrame(t, ws)

	stale := timer.New("t1", "alice", "laundry", 5*time.Minute, now) // version 1
	writeFrame(t, ws, wire.UpdateTimer{Reason: "updated", Timer: stale})

	msg := readFrame(t, ws)
	upd, ok := msg.(wire.UpdateTimer)
	require.True(t, ok)
	require.True(t, current.Equal(upd.Timer))

	stored, err := f.store.Get(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, current.Equal(stored))
	require.Equal(t, 0, f.pub.count())
}

func TestStopTimerDeletesAndFansOut(t *testing.T) {
	f := newHubFixture(t, "alice")
	now := time.Now()
	t1 := timer.New("t1", "alice", "laundry", 5*time.Minute, now).ShareWith("bob")
	require.NoError(t, f.store.Insert(context.Background(), t1))

	ws := f.dial(t)
	readFrame(t, ws)

	writeFrame(t, ws, wire.StopTimer{TimerID: "t1"})

	msg := readFrame(t, ws)
	stop, ok := msg.(wire.StopTimer)
	require.True(t, ok)
	require.Equal(t, "t1", stop.TimerID)
	require.Equal(t, []string{"alice", "bob"}, stop.ShareWith)

	_, err := f.store.Get(context.Background(), "t1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDuplicateStopIsIdempotent(t *testing.T) {
	f := newHubFixture(t, "alice")
	ws := f.dial(t)
	readFrame(t, ws)

	writeFrame(t, ws, wire.StopTimer{TimerID: "missing"})
	writeFrame(t, ws, wire.StopTimer{TimerID: "missing"})

	// Neither stop produces a fan-out; confirm the session is still healthy
	// by pushing an update through it.
	now := time.Now()
	t1 := timer.New("t1", "alice", "laundry", 5*time.Minute, now)
	writeFrame(t, ws, wire.UpdateTimer{Reason: "created", Timer: t1})
	msg := readFrame(t, ws)
	_, ok := msg.(wire.UpdateTimer)
	require.True(t, ok)
	require.Equal(t, 1, f.pub.count())
}
