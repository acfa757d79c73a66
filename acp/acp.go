package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DefikitTeam/claude-code-container/agent"
	"github.com/DefikitTeam/claude-code-container/errors"
	"github.com/DefikitTeam/claude-code-container/prompt"
	"github.com/DefikitTeam/claude-code-container/session"
)

// ProtocolVersion is the version this agent speaks. A client version is
// accepted when it shares the same major prefix.
const ProtocolVersion = "1.0.0"

// Run serves the Agent Client Protocol over the given reader/writer pair
// using newline-delimited JSON-RPC.
// Notes:
// - Nothing but JSON-RPC messages is ever written to out; all logging goes
//   through the zap logger.
// - Prompts run on their own goroutine so cancel requests can be dispatched
//   while a prompt is in flight. Run waits for in-flight prompts on EOF.
func Run(ctx context.Context, rt *agent.Runtime, in *bufio.Reader, out *bufio.Writer, logger *zap.Logger) error {
	server := &acpServer{
		ctx:    ctx,
		rt:     rt,
		in:     in,
		out:    out,
		logger: logger,
	}

	for {
		payload, err := server.readFramedMessage()
		if err != nil {
			if err == io.EOF {
				server.wg.Wait()
				return nil
			}
			// If framing is broken, there isn't a safe way to continue.
			server.wg.Wait()
			return errors.Wrapf(err, "ACP: read error")
		}
		if len(payload) == 0 {
			continue
		}

		var req jsonrpcRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			_ = server.writeResponseError(nil, -32700, "Parse error", nil)
			continue
		}

		logger.Debug("dispatching method", zap.String("method", req.Method))
		server.dispatch(&req)
	}
}

// ---- JSON-RPC framing types ----

type jsonrpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      interface{}   `json:"id,omitempty"`
	Result  interface{}   `json:"result,omitempty"`
	Error   *jsonrpcError `json:"error,omitempty"`
}

type jsonrpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// ---- acpServer ----

type acpServer struct {
	ctx    context.Context
	rt     *agent.Runtime
	in     *bufio.Reader
	out    *bufio.Writer
	logger *zap.Logger

	writeMu sync.Mutex
	wg      sync.WaitGroup

	initMu      sync.Mutex
	initialized bool
	client      clientInfo
}

func (s *acpServer) dispatch(req *jsonrpcRequest) {
	if req.Method != "initialize" && !s.isInitialized() {
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeNotInitialized, "initialize must be called first"))
		return
	}

	switch req.Method {
	case "initialize":
		s.handleInitialize(req)
	case "session/new":
		s.handleSessionNew(req)
	case "session/load":
		s.handleSessionLoad(req)
	case "session/prompt":
		s.handleSessionPrompt(req)
	case "cancel":
		s.handleCancel(req)
	default:
		_ = s.writeResponseError(req.ID, -32601, "Method not found", nil)
	}
}

func (s *acpServer) isInitialized() bool {
	s.initMu.Lock()
	defer s.initMu.Unlock()
	return s.initialized
}

// readFramedMessage reads a single newline-delimited JSON-RPC payload.
func (s *acpServer) readFramedMessage() ([]byte, error) {
	line, err := s.in.ReadBytes('\n')
	if len(line) > 0 {
		return []byte(strings.TrimSpace(string(line))), nil
	}
	return nil, err
}

func (s *acpServer) writeFramedJSON(obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return errors.Wrapf(err, "failed to serialize JSON-RPC message")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		return err
	}
	// Newline terminates the frame and tells the client the message is
	// complete.
	if _, err := s.out.WriteString("\n"); err != nil {
		return err
	}
	return s.out.Flush()
}

func (s *acpServer) writeResponseOK(id, result interface{}) error {
	return s.writeFramedJSON(jsonrpcResponse{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *acpServer) writeResponseError(id interface{}, code int, msg string, data interface{}) error {
	return s.writeFramedJSON(jsonrpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpcError{Code: code, Message: msg, Data: data},
	})
}

// writeCodedError maps a coded error onto the wire: numeric JSON-RPC code
// plus the stable string code in the data object.
func (s *acpServer) writeCodedError(id interface{}, err error) {
	var coded *errors.Coded
	if !errors.As(err, &coded) {
		_ = s.writeResponseError(id, -32603, err.Error(), map[string]interface{}{
			"errorCode": string(errors.CodeUnknown),
		})
		return
	}
	data := map[string]interface{}{"errorCode": string(coded.Code)}
	for k, v := range coded.Data {
		data[k] = v
	}
	_ = s.writeResponseError(id, errors.RPCCode(coded.Code), coded.Message, data)
}

func (s *acpServer) writeNotification(method string, params interface{}) error {
	return s.writeFramedJSON(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
}

// sendUpdate emits a session/update notification. Fire and forget: a failed
// write is logged and dropped.
func (s *acpServer) sendUpdate(sessionID, status, message string, progress float64) {
	params := map[string]interface{}{
		"sessionId": sessionID,
		"status":    status,
	}
	if message != "" {
		params["message"] = message
	}
	if progress > 0 {
		params["progress"] = progress
	}
	if err := s.writeNotification("session/update", params); err != nil {
		s.logger.Warn("failed to write notification", zap.Error(err))
	}
}

// ---- Handlers ----

func (s *acpServer) handleInitialize(req *jsonrpcRequest) {
	var p struct {
		ProtocolVersion string          `json:"protocolVersion"`
		ClientInfo      clientInfo      `json:"clientInfo"`
		ClientCaps      json.RawMessage `json:"clientCapabilities,omitempty"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		s.writeCodedError(req.ID, err)
		return
	}

	if !versionSupported(p.ProtocolVersion) {
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeUnsupportedVersion,
			"unsupported protocol version %q", p.ProtocolVersion).
			WithData("supportedVersion", ProtocolVersion))
		return
	}

	// Re-initialization just overwrites the recorded client info.
	s.initMu.Lock()
	s.initialized = true
	s.client = p.ClientInfo
	s.initMu.Unlock()

	_ = s.writeResponseOK(req.ID, map[string]interface{}{
		"protocolVersion": ProtocolVersion,
		"agentCapabilities": map[string]interface{}{
			"loadSession": true,
			"promptCapabilities": map[string]bool{
				"audio":           false,
				"embeddedContext": true,
				"image":           true,
			},
		},
		"serverInfo": map[string]string{
			"name": "claude-code-container",
		},
	})
}

// versionSupported accepts any client version sharing our major prefix.
func versionSupported(v string) bool {
	if v == "" {
		return false
	}
	major, _, _ := strings.Cut(ProtocolVersion, ".")
	return v == major || strings.HasPrefix(v, major+".")
}

func (s *acpServer) handleSessionNew(req *jsonrpcRequest) {
	var p struct {
		WorkspaceURI string          `json:"workspaceUri"`
		Mode         string          `json:"mode"`
		Options      session.Options `json:"options"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		s.writeCodedError(req.ID, err)
		return
	}

	mode := session.Mode(p.Mode)
	switch mode {
	case "", session.ModeDevelopment, session.ModeConversation:
	default:
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeInvalidParams, "unknown mode %q", p.Mode))
		return
	}

	sess, err := s.rt.Sessions.Create(p.WorkspaceURI, mode, p.Options)
	if err != nil {
		s.writeCodedError(req.ID, err)
		return
	}
	s.logger.Info("session created",
		zap.String("sessionId", sess.ID),
		zap.String("mode", string(sess.Mode)))

	_ = s.writeResponseOK(req.ID, map[string]string{"sessionId": sess.ID})
}

func (s *acpServer) handleSessionLoad(req *jsonrpcRequest) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		s.writeCodedError(req.ID, err)
		return
	}
	if p.SessionID == "" {
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeInvalidParams, "sessionId is required"))
		return
	}

	// A prompt may be mutating the session concurrently; replay from a
	// snapshot rather than the live pointer.
	sess, err := s.rt.Sessions.Snapshot(p.SessionID)
	if err != nil {
		s.writeCodedError(req.ID, err)
		return
	}

	// Replay the stored history to the client before acknowledging.
	for _, record := range sess.History {
		for _, block := range record.Blocks {
			s.sendUpdate(sess.ID, agent.StatusChunk, prompt.RenderBlock(block), 0)
		}
	}

	if err := s.rt.Sessions.Touch(sess.ID); err != nil {
		s.writeCodedError(req.ID, err)
		return
	}

	_ = s.writeResponseOK(req.ID, map[string]interface{}{
		"sessionId":    sess.ID,
		"mode":         sess.Mode,
		"state":        sess.State,
		"messageCount": len(sess.History),
	})
}

func (s *acpServer) handleSessionPrompt(req *jsonrpcRequest) {
	var p struct {
		SessionID    string                 `json:"sessionId"`
		OperationID  string                 `json:"operationId"`
		Content      []session.ContentBlock `json:"content"`
		ContextFiles []string               `json:"contextFiles"`
		AgentContext *prompt.AgentContext   `json:"agentContext"`
		Branch       string                 `json:"branch"`
		Model        string                 `json:"model"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		s.writeCodedError(req.ID, err)
		return
	}
	if p.SessionID == "" {
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeInvalidParams, "sessionId is required"))
		return
	}
	if len(p.Content) == 0 {
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeInvalidParams, "content must not be empty"))
		return
	}

	sess, err := s.rt.Sessions.Get(p.SessionID)
	if err != nil {
		s.writeCodedError(req.ID, err)
		return
	}

	operationID := p.OperationID
	if operationID == "" {
		operationID = uuid.NewString()
	}

	promptReq := agent.PromptRequest{
		OperationID:  operationID,
		Blocks:       p.Content,
		ContextFiles: p.ContextFiles,
		Agent:        p.AgentContext,
		Branch:       p.Branch,
		Model:        p.Model,
	}
	id := req.ID

	// The read loop must stay free to dispatch cancel while this prompt
	// runs.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		outcome := s.rt.RunPrompt(s.ctx, sess, promptReq, func(u agent.Update) {
			s.sendUpdate(sess.ID, u.Status, u.Message, u.Progress)
		})

		result := map[string]interface{}{
			"stopReason":  outcome.StopReason,
			"operationId": operationID,
		}
		if outcome.ErrorCode != "" {
			result["errorCode"] = string(outcome.ErrorCode)
		}
		if outcome.Summary != "" {
			result["summary"] = outcome.Summary
		}
		if outcome.StopReason == agent.StopCompleted {
			result["usage"] = map[string]int{
				"inputTokens":  outcome.InputTokens,
				"outputTokens": outcome.OutputTokens,
			}
		}
		_ = s.writeResponseOK(id, result)
	}()
}

func (s *acpServer) handleCancel(req *jsonrpcRequest) {
	var p struct {
		SessionID   string `json:"sessionId"`
		OperationID string `json:"operationId"`
	}
	if err := unmarshalParams(req.Params, &p); err != nil {
		s.writeCodedError(req.ID, err)
		return
	}
	if p.SessionID == "" {
		s.writeCodedError(req.ID, errors.NewCoded(errors.CodeInvalidParams, "sessionId is required"))
		return
	}

	cancelled, err := s.rt.Cancel(p.SessionID, p.OperationID)
	if err != nil {
		s.writeCodedError(req.ID, err)
		return
	}
	s.logger.Info("cancel requested",
		zap.String("sessionId", p.SessionID),
		zap.String("operationId", p.OperationID),
		zap.Bool("cancelled", cancelled))

	_ = s.writeResponseOK(req.ID, map[string]bool{"cancelled": cancelled})
}

func unmarshalParams(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return errors.WrapCoded(err, errors.CodeInvalidParams, "malformed params: %v", err)
	}
	return nil
}
