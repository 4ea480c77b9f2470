// Package server is pihome's HTTP API.
//
// # Routes
//
//	GET  /health                     liveness
//	POST /api/devices/heartbeat      device keep-alive, HTTP basic auth with the device client id and secret
//	POST /api/agent/process          one agent turn: {message, familyId, userId, chatId?, model?} -> {response}
//	GET  /api/chats/{id}/messages    newest first, ?limit= and ?skip=
//	POST /api/chats/{id}/messages    {userId, message}; stores both sides of the exchange
//	GET  /callback                   Spotify OAuth redirect target
//
// Errors are JSON objects of the form {"error": "..."} with the status code of the error class
// (see [shared.StatusCode]).
//
// # Router
//
// [BasicRouter] registers method patterns on [http.ServeMux] and wraps every route in the middleware
// chain: [RequestID], [Logging] and [Recover].
//
// # Spotify authorization
//
// [OAuthHandler.Begin] returns a consent URL whose state is bound to a family. The callback exchanges the
// code, stores the family's connection and reports the outcome on [OAuthHandler.Result], which the CLI
// login command waits on.
package server
