// Package protocol defines the wire types shared between an agent session
// and its clients: the operations a client submits, the events a session
// emits, the conversation history items sent to the model, and the records
// persisted to the rollout log.
//
// Every type in this package is a plain value that round-trips through
// encoding/json. Variant types follow one shape throughout: a string
// discriminator field plus one optional pointer per variant, where exactly
// one pointer is non-nil.
package protocol
