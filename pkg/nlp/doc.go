// Package nlp gates every chat-completion call the service makes. It
// hides provider quirks (reasoning-model parameter rules, schema
// strictening for structured output, corporate proxy bootstrap) behind a
// small Client interface so callers only deal in messages and schemas.
package nlp
