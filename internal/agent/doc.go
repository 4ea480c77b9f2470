// Package agent is the conversational assistant of pihome.
//
// # Graph
//
// A [Graph] is a small state machine over a conversation [State]. Nodes return an [Update] whose
// messages are appended to the state; static and conditional edges pick the next node until [End].
// A compiled [Runnable] loads and stores thread state through a [Checkpointer]: [MemorySaver] for a
// single process, [RedisSaver] when several servers share conversations.
//
// # Agent
//
// [Agent.ProcessMessage] builds the two node graph (agent and tools) for one request, binds the
// Spotify, note and calculator tools to the requesting family and user, and runs it on the chat's
// thread. Model failures and the step limit become apologetic replies; tool failures are handed back
// to the model as tool messages.
//
// Models are reached through OpenAI compatible endpoints with go-openai: Gemini keys use Google's
// endpoint and every other key goes through OpenRouter. See [Models].
//
// [ChatAgent] stores both sides of an exchange in a chat.
package agent
