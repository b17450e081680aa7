package main

import (
	"context"
	"encoding/json"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type testServer struct {
	srv   *httptest.Server
	hub   *Hub
	rooms *RoomRegistry
	wsURL string
}

func newTestServer(t *testing.T, grace time.Duration) *testServer {
	t.Helper()
	cfg := &Config{Port: 3001, MaxRoomSize: 4, GracePeriod: grace, CoinLayout: "grid"}
	ids := NewIdentitySource()
	hub := NewHub()
	rooms := NewRoomRegistry(ids, GridLayout{}, nil)
	presence := NewPresence(rooms, hub, ids, nil, PresenceConfig{MaxRoomSize: cfg.MaxRoomSize, GracePeriod: grace})
	hub.SetHandler(NewRouter(presence, hub))

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(SetupRoutes(hub, rooms, nil, ids, cfg))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &testServer{
		srv:   srv,
		hub:   hub,
		rooms: rooms,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// wsFrame is one decoded server frame. Rosters arrive as msgpack, the rest as JSON.
type wsFrame struct {
	T      string
	D      json.RawMessage
	Roster []PlayerState
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   string
}

func (ts *testServer) dial(t *testing.T) *wsClient {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	c := &wsClient{t: t, conn: conn}
	var id IDMsg
	c.expect(MsgID, &id)
	require.NotEmpty(t, id.ID)
	c.id = id.ID
	return c
}

func (c *wsClient) send(typ string, d interface{}) {
	c.t.Helper()
	env := map[string]interface{}{"t": typ}
	if d != nil {
		env["d"] = d
	}
	require.NoError(c.t, c.conn.WriteJSON(env))
}

func (c *wsClient) read() wsFrame {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.conn.ReadMessage()
	require.NoError(c.t, err)

	if mt == websocket.BinaryMessage {
		var m struct {
			T string        `msgpack:"t"`
			D []PlayerState `msgpack:"d"`
		}
		require.NoError(c.t, msgpack.Unmarshal(data, &m))
		return wsFrame{T: m.T, Roster: m.D}
	}
	var m struct {
		T string          `json:"t"`
		D json.RawMessage `json:"d"`
	}
	require.NoError(c.t, json.Unmarshal(data, &m))
	return wsFrame{T: m.T, D: m.D}
}

// expect skips frames until one of type typ arrives and decodes its payload into v
func (c *wsClient) expect(typ string, v interface{}) wsFrame {
	c.t.Helper()
	for i := 0; i < 50; i++ {
		f := c.read()
		if f.T != typ {
			continue
		}
		if v != nil && len(f.D) > 0 {
			require.NoError(c.t, json.Unmarshal(f.D, v))
		}
		return f
	}
	c.t.Fatalf("no %q frame", typ)
	return wsFrame{}
}

func TestWebSocketRoomFlow(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	a := ts.dial(t)
	b := ts.dial(t)

	a.send(MsgCreateRoom, CreateMsg{Name: "Alice"})
	var created AdmittedMsg
	a.expect(MsgCreated, &created)
	assert.True(t, created.IsHost)
	assert.Equal(t, a.id, created.ID)
	assert.Len(t, created.RoomID, 8)

	b.send(MsgJoinRoom, JoinMsg{RoomID: created.RoomID, Name: "Bob"})
	var joined AdmittedMsg
	b.expect(MsgJoined, &joined)
	assert.False(t, joined.IsHost)

	roster := b.expect(MsgPlayers, nil).Roster
	require.Len(t, roster, 2)
	assert.Equal(t, "Alice", roster[0].Name)
	assert.True(t, roster[0].IsHost)
	assert.Equal(t, "Bob", roster[1].Name)

	var count PlayersCountMsg
	b.expect(MsgPlayersCount, &count)
	assert.Equal(t, PlayersCountMsg{Count: 2, Max: 4}, count)

	a.send(MsgStart, nil)
	b.expect(MsgStarted, nil)
	var coins []Vec3
	b.expect(MsgCoins, &coins)
	require.Len(t, coins, 48)
	a.expect(MsgStarted, nil)
	a.expect(MsgCoins, nil)

	b.send(MsgCoinPicked, CoinPickedMsg{Position: coins[0]})
	var after []Vec3
	a.expect(MsgCoins, &after)
	assert.Len(t, after, 47)
	roster = a.expect(MsgPlayers, nil).Roster
	require.Len(t, roster, 2)
	assert.Equal(t, 1, roster[1].CoinsCollected)

	b.send(MsgStart, nil)
	var failure ErrorMsg
	b.expect(MsgError, &failure)
	assert.Equal(t, "not-host", failure.Msg)
}

func TestWebSocketReconnectAfterDrop(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	a := ts.dial(t)
	b := ts.dial(t)

	a.send(MsgCreateRoom, nil)
	var created AdmittedMsg
	a.expect(MsgCreated, &created)
	b.send(MsgJoinRoom, JoinMsg{RoomID: created.RoomID})
	b.expect(MsgJoined, nil)

	room := ts.rooms.GetRoom(created.RoomID)
	require.NotNil(t, room)
	a.conn.Close()
	require.Eventually(t, func() bool {
		p, ok := room.Player(a.id)
		return ok && p.Status == StatusPendingRemoval
	}, 2*time.Second, 10*time.Millisecond)

	a2 := ts.dial(t)
	a2.send(MsgReconnect, ReconnectMsg{PriorSessionID: created.SessionID, RoomID: created.RoomID})
	var back AdmittedMsg
	a2.expect(MsgReconnected, &back)
	assert.True(t, back.IsHost)
	assert.Equal(t, a2.id, back.ID)
	assert.Equal(t, created.SessionID, back.SessionID)
	assert.Equal(t, a2.id, room.HostID())

	// b sees the same seat, now live, under the new connection id
	for {
		roster := b.expect(MsgPlayers, nil).Roster
		if len(roster) == 2 && roster[0].ID == a2.id {
			assert.False(t, roster[0].Disconnected)
			break
		}
	}
}

func TestWebSocketCancelRoom(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	a := ts.dial(t)
	b := ts.dial(t)

	a.send(MsgCreateRoom, nil)
	var created AdmittedMsg
	a.expect(MsgCreated, &created)
	b.send(MsgJoinRoom, JoinMsg{RoomID: created.RoomID})
	b.expect(MsgJoined, nil)

	a.send(MsgCancelRoom, nil)
	b.expect(MsgRoomDisconnected, nil)

	b.send(MsgMove, MoveMsg{Position: Vec3{1, 0, 1}})
	var failure ErrorMsg
	b.expect(MsgError, &failure)
	assert.Equal(t, "room-not-found", failure.Msg)
}

func TestWebSocketMalformedFrame(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	a := ts.dial(t)
	require.NoError(t, a.conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var failure ErrorMsg
	a.expect(MsgError, &failure)
	assert.Equal(t, "bad-request", failure.Msg)
}

func TestWebSocketOriginCheck(t *testing.T) {
	ts := newTestServer(t, time.Minute)

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(ts.wsURL, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{ts.srv.URL}}
	conn, _, err := websocket.DefaultDialer.Dial(ts.wsURL, header)
	require.NoError(t, err)
	conn.Close()
}

func TestNewUpgraderAllowList(t *testing.T) {
	up := newUpgrader([]string{"https://play.example/"})
	req := httptest.NewRequest(http.MethodGet, "http://rooms.internal/ws", nil)

	req.Header.Set("Origin", "https://play.example")
	assert.True(t, up.CheckOrigin(req))
	req.Header.Set("Origin", "http://rooms.internal")
	assert.False(t, up.CheckOrigin(req), "an explicit list replaces the same-host rule")

	open := newUpgrader([]string{"*"})
	req.Header.Set("Origin", "https://anywhere.example")
	assert.True(t, open.CheckOrigin(req))
}

func TestRoomEndpoints(t *testing.T) {
	ts := newTestServer(t, time.Minute)
	a := ts.dial(t)
	a.send(MsgCreateRoom, nil)
	var created AdmittedMsg
	a.expect(MsgCreated, &created)

	resp, err := http.Get(ts.srv.URL + "/rooms/" + created.RoomID)
	require.NoError(t, err)
	var info RoomInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, RoomInfo{ID: created.RoomID, Exists: true, Players: 1, Max: 4}, info)

	resp, err = http.Get(ts.srv.URL + "/rooms/nope")
	require.NoError(t, err)
	info = RoomInfo{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.False(t, info.Exists)

	resp, err = http.Get(ts.srv.URL + "/rooms/" + created.RoomID + "/qr")
	require.NoError(t, err)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, 256, img.Bounds().Dx())

	resp, err = http.Get(ts.srv.URL + "/rooms/nope/qr")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(ts.srv.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]int
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.Equal(t, 1, health["rooms"])
	assert.Equal(t, 1, health["connections"])

	resp, err = http.Get(ts.srv.URL + "/stats")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestJoinLink(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://rooms.local:3001/rooms/ab12/qr", nil)
	assert.Equal(t, "http://rooms.local:3001/?room=ab12", joinLink("", req, "ab12"))
	assert.Equal(t, "https://play.example/?room=ab12", joinLink("https://play.example/", req, "ab12"))
}

func TestEncodeFrame(t *testing.T) {
	frame, ok := encodeFrame(Envelope{T: MsgPlayers, Data: []PlayerState{{ID: "a", IsHost: true}}})
	require.True(t, ok)
	require.Equal(t, byte(binaryMarker), frame[0])
	var m struct {
		T string        `msgpack:"t"`
		D []PlayerState `msgpack:"d"`
	}
	require.NoError(t, msgpack.Unmarshal(frame[1:], &m))
	assert.Equal(t, MsgPlayers, m.T)
	assert.Equal(t, "a", m.D[0].ID)

	frame, ok = encodeFrame(Envelope{T: MsgError, Data: ErrorMsg{Msg: "room-full"}})
	require.True(t, ok)
	assert.JSONEq(t, `{"t":"error","d":{"msg":"room-full"}}`, string(frame))
}
