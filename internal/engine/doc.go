// Package engine defines the completion-engine abstraction and the tool
// loop that drives it: a Provider turns a message history and tool manifest
// into either text or tool-call requests, and the Loop executes requested
// tools against the session's tool client until the model produces a final
// answer.
package engine
