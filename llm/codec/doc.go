// Package codec implements the LLMSwitch: bidirectional protocol
// translators between {openai-chat, openai-responses, anthropic-messages}
// entry protocols and {openai-chat, openai-responses, anthropic-messages,
// gemini-chat} provider protocols.
//
// Codecs are pure functions over map[string]any JSON values (plus a
// context used only for request-id/logging correlation) — the same
// runtime-flexible JSON representation used by llm/compat, for the same
// reason: closed structs for every provider wire shape cost more than they
// return for a translator that only ever touches a bounded set of fields.
package codec
