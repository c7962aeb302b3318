// Package knowledge consults an external conversational knowledge source on
// the manager's behalf.
//
// # Overview
//
// A Broker sends a query to a Source, then asks a lightweight decision
// backend whether the answer warrants a follow-up, whether the source
// simply does not know, and what to ask next. The loop stops when no
// follow-up is needed, the source is flagged as not knowing, no next query
// is suggested, or the attempt budget is spent.
//
// Every turn lands in an append-only Exchange, which the manager summarizes
// into its planning prompt. Turns are never pruned. When a Store is
// configured each turn is also persisted, keyed by run id.
//
// # Sources
//
// WebSocketSource bridges to a chatbot over a websocket. Any type with an
// Ask method can be used instead.
package knowledge
