package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"testing"

	"go.uber.org/zap"

	"github.com/DefikitTeam/claude-code-container/agent"
	"github.com/DefikitTeam/claude-code-container/config"
	"github.com/DefikitTeam/claude-code-container/engine"
	"github.com/DefikitTeam/claude-code-container/session"
)

// wireMsg is the client-side view of one frame: a response when Error or
// Result is set, a notification when Method is set.
type wireMsg struct {
	JSONRPC string                 `json:"jsonrpc"`
	ID      interface{}            `json:"id"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
	Result  map[string]interface{} `json:"result"`
	Error   *struct {
		Code    int                    `json:"code"`
		Message string                 `json:"message"`
		Data    map[string]interface{} `json:"data"`
	} `json:"error"`
}

type testClient struct {
	t             *testing.T
	enc           *json.Encoder
	dec           *json.Decoder
	in            *io.PipeWriter
	done          chan error
	notifications []map[string]interface{}
}

func startServer(t *testing.T, gw engine.Gateway) *testClient {
	t.Helper()
	cfg := &config.Config{
		Engine:           "mock",
		WorkspaceBaseDir: t.TempDir(),
		Git: config.GitOptions{
			DefaultBranch:  "main",
			TimeoutSeconds: 30,
		},
		Prompt: config.PromptOptions{MaxTokens: 32000, OverheadRatio: 1.0},
	}
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %+v", err)
	}
	rt := agent.NewRuntime(cfg, store, gw, zap.NewNop())

	serverIn, clientOut := io.Pipe()
	clientIn, serverOut := io.Pipe()

	c := &testClient{
		t:    t,
		enc:  json.NewEncoder(clientOut),
		dec:  json.NewDecoder(clientIn),
		in:   clientOut,
		done: make(chan error, 1),
	}
	go func() {
		c.done <- Run(context.Background(), rt, bufio.NewReader(serverIn), bufio.NewWriter(serverOut), zap.NewNop())
	}()
	t.Cleanup(func() { c.shutdown() })
	return c
}

func (c *testClient) shutdown() {
	c.in.Close()
	if err := <-c.done; err != nil {
		c.t.Errorf("server exited with error: %+v", err)
	}
}

func (c *testClient) send(id interface{}, method string, params interface{}) {
	c.t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "method": method}
	if id != nil {
		req["id"] = id
	}
	if params != nil {
		req["params"] = params
	}
	if err := c.enc.Encode(req); err != nil {
		c.t.Fatalf("send %s: %v", method, err)
	}
}

// response reads frames until a non-notification arrives, collecting any
// session/update notifications seen on the way.
func (c *testClient) response() wireMsg {
	c.t.Helper()
	for {
		var msg wireMsg
		if err := c.dec.Decode(&msg); err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		if msg.Method != "" {
			c.notifications = append(c.notifications, msg.Params)
			continue
		}
		return msg
	}
}

func (c *testClient) call(id interface{}, method string, params interface{}) wireMsg {
	c.t.Helper()
	c.send(id, method, params)
	return c.response()
}

func (c *testClient) initialize() {
	c.t.Helper()
	resp := c.call("init", "initialize", map[string]interface{}{
		"protocolVersion": "1.0.0",
		"clientInfo":      map[string]string{"name": "test-client", "version": "0.1"},
	})
	if resp.Error != nil {
		c.t.Fatalf("initialize failed: %+v", resp.Error)
	}
}

// waitStatus consumes notifications until one carries the wanted status. A
// response arriving first is a test failure.
func (c *testClient) waitStatus(status string) {
	c.t.Helper()
	for {
		var msg wireMsg
		if err := c.dec.Decode(&msg); err != nil {
			c.t.Fatalf("decode: %v", err)
		}
		if msg.Method == "" {
			c.t.Fatalf("unexpected response while waiting for %q: %+v", status, msg)
		}
		c.notifications = append(c.notifications, msg.Params)
		if msg.Params["status"] == status {
			return
		}
	}
}

func (c *testClient) updateStatuses(sessionID string) []string {
	var out []string
	for _, n := range c.notifications {
		if n["sessionId"] == sessionID {
			out = append(out, n["status"].(string))
		}
	}
	return out
}

func TestRequiresInitialize(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	resp := c.call(1, "session/new", map[string]interface{}{})
	if resp.Error == nil || resp.Error.Code != -32002 {
		t.Fatalf("response = %+v, want NOT_INITIALIZED", resp.Error)
	}
	if resp.Error.Data["errorCode"] != "NOT_INITIALIZED" {
		t.Fatalf("data = %v, want errorCode NOT_INITIALIZED", resp.Error.Data)
	}
}

func TestInitializeVersionNegotiation(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})

	resp := c.call(1, "initialize", map[string]interface{}{"protocolVersion": "2.0"})
	if resp.Error == nil || resp.Error.Code != -32003 {
		t.Fatalf("response = %+v, want UNSUPPORTED_VERSION", resp.Error)
	}
	if resp.Error.Data["supportedVersion"] != ProtocolVersion {
		t.Fatalf("data = %v, want supportedVersion %s", resp.Error.Data, ProtocolVersion)
	}

	// Same major, different minor: accepted.
	resp = c.call(2, "initialize", map[string]interface{}{"protocolVersion": "1.2"})
	if resp.Error != nil {
		t.Fatalf("1.2 rejected: %+v", resp.Error)
	}
	if resp.Result["protocolVersion"] != ProtocolVersion {
		t.Fatalf("result = %v, want our version echoed", resp.Result)
	}
	caps, ok := resp.Result["agentCapabilities"].(map[string]interface{})
	if !ok || caps["loadSession"] != true {
		t.Fatalf("capabilities = %v, want loadSession true", resp.Result)
	}
}

func TestUnknownMethod(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	c.initialize()
	resp := c.call(1, "session/destroy", nil)
	if resp.Error == nil || resp.Error.Code != -32601 {
		t.Fatalf("response = %+v, want method-not-found", resp.Error)
	}
}

func TestParseError(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	if _, err := io.WriteString(c.in, "this is not json\n"); err != nil {
		t.Fatal(err)
	}
	resp := c.response()
	if resp.Error == nil || resp.Error.Code != -32700 {
		t.Fatalf("response = %+v, want parse error", resp.Error)
	}
}

func TestSessionNewInvalidMode(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	c.initialize()
	resp := c.call(1, "session/new", map[string]interface{}{"mode": "turbo"})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("response = %+v, want INVALID_PARAMS", resp.Error)
	}
}

func TestPromptValidation(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	c.initialize()
	resp := c.call(1, "session/prompt", map[string]interface{}{"sessionId": "x"})
	if resp.Error == nil || resp.Error.Code != -32602 {
		t.Fatalf("empty content must be INVALID_PARAMS, got %+v", resp.Error)
	}
}

func TestPromptUnknownSession(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	c.initialize()
	resp := c.call(1, "session/prompt", map[string]interface{}{
		"sessionId": "ghost",
		"content":   []map[string]string{{"type": "text", "text": "hi"}},
	})
	if resp.Error == nil || resp.Error.Code != -32001 {
		t.Fatalf("response = %+v, want SESSION_NOT_FOUND", resp.Error)
	}
}

func TestSessionLifecycle(t *testing.T) {
	c := startServer(t, &engine.MockGateway{Chunks: []string{"done."}, InputTokens: 5, OutputTokens: 2})
	c.initialize()

	resp := c.call(1, "session/new", map[string]interface{}{"mode": "development"})
	if resp.Error != nil {
		t.Fatalf("session/new: %+v", resp.Error)
	}
	sessionID, _ := resp.Result["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("no sessionId in %v", resp.Result)
	}

	resp = c.call(2, "session/prompt", map[string]interface{}{
		"sessionId":   sessionID,
		"operationId": "op-1",
		"content":     []map[string]string{{"type": "text", "text": "hello"}},
	})
	if resp.Error != nil {
		t.Fatalf("session/prompt: %+v", resp.Error)
	}
	if resp.Result["stopReason"] != "completed" {
		t.Fatalf("stopReason = %v", resp.Result["stopReason"])
	}
	if resp.Result["operationId"] != "op-1" {
		t.Fatalf("operationId = %v", resp.Result["operationId"])
	}
	usage, ok := resp.Result["usage"].(map[string]interface{})
	if !ok || usage["inputTokens"] != float64(5) || usage["outputTokens"] != float64(2) {
		t.Fatalf("usage = %v", resp.Result["usage"])
	}

	got := c.updateStatuses(sessionID)
	want := []string{"preparing", "executing", "chunk", "completed"}
	if len(got) != len(want) {
		t.Fatalf("updates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("updates = %v, want %v", got, want)
		}
	}

	// Nothing in flight anymore: cancel must report false, not an error.
	resp = c.call(3, "cancel", map[string]interface{}{"sessionId": sessionID})
	if resp.Error != nil {
		t.Fatalf("cancel: %+v", resp.Error)
	}
	if resp.Result["cancelled"] != false {
		t.Fatalf("cancelled = %v, want false", resp.Result["cancelled"])
	}

	// Loading the session replays its single history entry as a chunk
	// notification before the response.
	c.notifications = nil
	resp = c.call(4, "session/load", map[string]interface{}{"sessionId": sessionID})
	if resp.Error != nil {
		t.Fatalf("session/load: %+v", resp.Error)
	}
	if resp.Result["messageCount"] != float64(1) {
		t.Fatalf("messageCount = %v, want 1", resp.Result["messageCount"])
	}
	replayed := c.updateStatuses(sessionID)
	if len(replayed) != 1 || replayed[0] != "chunk" {
		t.Fatalf("replay notifications = %v, want one chunk", replayed)
	}
}

// gateGateway blocks inside Execute until released, so a test can hold a
// prompt in the executing state while issuing other requests.
type gateGateway struct {
	release chan struct{}
}

func (g *gateGateway) Execute(ctx context.Context, req engine.Request, emit engine.StreamFunc) (*engine.Result, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := emit(engine.Chunk{Text: "done"}); err != nil {
		return nil, err
	}
	return &engine.Result{Text: "done"}, nil
}

func TestLoadDuringPrompt(t *testing.T) {
	gw := &gateGateway{release: make(chan struct{})}
	c := startServer(t, gw)
	c.initialize()

	resp := c.call(1, "session/new", map[string]interface{}{"mode": "development"})
	sessionID, _ := resp.Result["sessionId"].(string)
	if sessionID == "" {
		t.Fatalf("no sessionId in %v", resp.Result)
	}

	c.send(2, "session/prompt", map[string]interface{}{
		"sessionId":   sessionID,
		"operationId": "op-1",
		"content":     []map[string]string{{"type": "text", "text": "held"}},
	})
	c.waitStatus("executing")

	// The prompt is parked inside the engine; loading the same session now
	// must observe the already-appended submission without disturbing it.
	resp = c.call(3, "session/load", map[string]interface{}{"sessionId": sessionID})
	if resp.Error != nil {
		t.Fatalf("session/load during prompt: %+v", resp.Error)
	}
	if resp.Result["messageCount"] != float64(1) {
		t.Fatalf("messageCount = %v, want 1", resp.Result["messageCount"])
	}

	close(gw.release)
	resp = c.response()
	if resp.Result["stopReason"] != "completed" {
		t.Fatalf("stopReason = %v after release", resp.Result["stopReason"])
	}
}

func TestCancelUnknownSession(t *testing.T) {
	c := startServer(t, &engine.MockGateway{})
	c.initialize()
	resp := c.call(1, "cancel", map[string]interface{}{"sessionId": "ghost"})
	if resp.Error == nil || resp.Error.Code != -32001 {
		t.Fatalf("response = %+v, want SESSION_NOT_FOUND", resp.Error)
	}
}
