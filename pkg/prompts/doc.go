// Package prompts builds the chat messages and response schemas for
// every LLM task the service performs: entity and fact extraction from
// episodes, duplicate-fact adjudication, and recurrence assessment
// between incidents. Response models live here next to their schemas so
// the two cannot drift apart.
package prompts
