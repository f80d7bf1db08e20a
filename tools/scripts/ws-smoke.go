// Package main provides a CI-friendly WebSocket smoke test for the Tuma
// realtime server.
//
// It validates:
//   - handshake + subprotocol selection + bearer auth
//   - initial_state push after connect
//   - ping -> pong
//   - update_presence -> presence_success (background forces "away")
//   - request_counts -> count_update
//   - get_user_presence round-trip for the caller's own id
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "tuma/shared/contracts/realtime/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "tuma.realtime.v1"
	maxReadBytes       = 1 << 20 // 1MiB
)

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string
	userID    string

	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		token   = flag.String("token", "", "Bearer token for the connection (required)")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}
	if strings.TrimSpace(*token) == "" {
		fatalf("-token is required")
	}

	root := context.Background()

	c := mustConnect(root, *wsURL, *origin, *token, *timeout)
	defer closeWS(c.conn)

	if *verbose {
		fmt.Printf("connected: session=%s user=%s origin=%q\n", c.sessionID, c.userID, *origin)
	}

	mustPingPong(root, c, *timeout)

	mustPresence(root, c, "online", "active", "online", *timeout)
	mustPresence(root, c, "online", "background", "away", *timeout)

	counts := mustRequestCounts(root, c, *timeout)
	if *verbose {
		fmt.Printf("counts: messages=%d notifications=%d cart=%d\n",
			counts.UnreadMessages, counts.UnreadNotifications, counts.CartItems)
	}

	mustOwnPresence(root, c, *timeout)

	fmt.Printf("OK: session=%s user=%s\n", c.sessionID, c.userID)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, origin, token string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}
	h.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect: %v", err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	// The server pushes initial_state unprompted once the session is live.
	st := c.mustReadUntilType(parent, v1.TypeInitialState, stepTimeout, anyEventSkip())

	var p v1.InitialStatePayload
	if err := json.Unmarshal(st.Payload, &p); err != nil {
		fatalf("unmarshal initial_state payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("initial_state missing session_id")
	}
	c.sessionID = p.SessionID
	c.userID = p.Presence.UserID

	return c
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageText && mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unsupported message type: %v", mt):
				default:
				}
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad json: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- env:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

// anyEventSkip returns the server-push event types that may interleave with a
// command round-trip and are safe to skip past.
func anyEventSkip() map[string]struct{} {
	return map[string]struct{}{
		v1.TypeNewMessage:      {},
		v1.TypePresenceChanged: {},
		v1.TypeCountUpdate:     {},
		v1.TypeTyping:          {},
		v1.TypeNotification:    {},
	}
}

func mustPingPong(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	c.mustSend(parent, v1.TypePing, nil, stepTimeout)

	pong := c.mustReadUntilType(parent, v1.TypePong, stepTimeout, anyEventSkip())

	var p v1.PongPayload
	if err := json.Unmarshal(pong.Payload, &p); err != nil {
		fatalf("unmarshal pong payload: %v", err)
	}
	if p.TS.IsZero() {
		fatalf("pong missing ts")
	}
}

func mustPresence(parent context.Context, c *smokeClient, status, appState, wantEffective string, stepTimeout time.Duration) {
	c.mustSend(parent, v1.TypeUpdatePresence, v1.UpdatePresencePayload{
		Status:   status,
		AppState: appState,
	}, stepTimeout)

	resp := c.mustReadUntilType(parent, v1.TypePresenceSuccess, stepTimeout, anyEventSkip())

	var p v1.PresenceSuccessPayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		fatalf("unmarshal presence_success payload: %v", err)
	}
	if p.Status != wantEffective {
		fatalf("presence effective status: got=%q want=%q (requested=%q app_state=%q)",
			p.Status, wantEffective, status, appState)
	}
}

func mustRequestCounts(parent context.Context, c *smokeClient, stepTimeout time.Duration) v1.CountUpdatePayload {
	c.mustSend(parent, v1.TypeRequestCounts, nil, stepTimeout)

	// Skip everything except count_update; the recompute may also publish
	// count_update on the personal channels, any one of them satisfies this.
	skip := anyEventSkip()
	delete(skip, v1.TypeCountUpdate)

	resp := c.mustReadUntilType(parent, v1.TypeCountUpdate, stepTimeout, skip)

	var p v1.CountUpdatePayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		fatalf("unmarshal count_update payload: %v", err)
	}
	if p.UnreadMessages < 0 || p.UnreadNotifications < 0 || p.CartItems < 0 {
		fatalf("negative counters: %+v", p)
	}
	return p
}

func mustOwnPresence(parent context.Context, c *smokeClient, stepTimeout time.Duration) {
	c.mustSend(parent, v1.TypeGetUserPresence, v1.GetUserPresencePayload{
		UserIDs: []string{c.userID},
	}, stepTimeout)

	resp := c.mustReadUntilType(parent, v1.TypeUserPresence, stepTimeout, anyEventSkip())

	var p v1.UserPresencePayload
	if err := json.Unmarshal(resp.Payload, &p); err != nil {
		fatalf("unmarshal user_presence payload: %v", err)
	}
	own, ok := p.Presences[c.userID]
	if !ok {
		fatalf("user_presence missing own entry (%s)", c.userID)
	}
	// The previous step backgrounded the session.
	if own.Status != "away" {
		fatalf("own presence: got=%q want=%q", own.Status, "away")
	}
}

func (c *smokeClient) mustSend(parent context.Context, typ string, payload any, stepTimeout time.Duration) {
	env := v1.Envelope{
		V:    v1.Version,
		Type: typ,
		ID:   fmt.Sprintf("smoke-%s-%d", typ, time.Now().UnixNano()),
		TS:   time.Now().UTC(),
	}
	if payload != nil {
		env.Payload = mustJSON(payload)
	}
	mustWriteWithTimeout(parent, c.conn, env, stepTimeout)
}

func (c *smokeClient) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration, skipTypes map[string]struct{}) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q", wantType)
			}
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.ErrorCode, ep.Message)
			}
			if skipTypes != nil {
				if _, ok := skipTypes[env.Type]; ok {
					continue
				}
			}
			fatalf("unexpected envelope type: got=%q want=%q", env.Type, wantType)
		}
	}
}

func mustWriteWithTimeout(parent context.Context, conn *websocket.Conn, env v1.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write failed: %v", err)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
