// Package openaicompat implements provider.Provider on top of a local
// OpenAI-compatible Chat Completions server (llama.cpp, vLLM, Ollama).
//
// Each session keeps its own message history and transcript; the server
// itself stays stateless. Streaming chunks are accumulated into cumulative
// snapshots, and backend failures are classified into provider.GenerationError
// kinds so that no raw backend payload escapes the package.
package openaicompat
