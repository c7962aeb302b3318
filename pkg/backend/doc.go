// Package backend talks to the language-model services that drive the
// worker, manager and QA agents.
//
// # Overview
//
// Client sends the shared conversation history plus a tool schema and
// returns the response content blocks. AnthropicClient is the production
// implementation. History roles are mapped onto the two wire roles (worker
// and qa become assistant turns, user and manager become user turns) and
// adjacent turns with the same wire role are merged before sending.
//
// TextCompleter is the narrower contract used for structured decisions: one
// system prompt and one user prompt in, one text reply out. OpenAICompleter
// requests JSON mode; AnthropicCompleter reuses a Client.
//
// Every failure is reported as *BackendError. Nothing in this package retries
// beyond the SDK's own transport retries.
package backend
