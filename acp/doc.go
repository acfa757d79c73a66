// Package acp implements the Agent Client Protocol (ACP) surface of the
// container agent: newline-delimited JSON-RPC over stdio.
//
// The implementation supports the following ACP methods:
//   - initialize: records client info and negotiates the protocol version
//   - session/new: creates a new session
//   - session/prompt: runs a prompt through the orchestrator
//   - session/load: rehydrates a persisted session and replays its history
//   - cancel: cancels one or all in-flight operations of a session
//
// Progress is streamed through session/update notifications carrying
// {sessionId, status, message?, progress?}. Every method except initialize
// fails with NOT_INITIALIZED until a successful initialize has occurred in
// the process lifetime.
package acp
