// Package githubapi talks to the GitHub GraphQL and REST endpoints.
//
// A single Client owns the shared HTTP connection pool, attaches the bearer
// credential, classifies failures into transient and permanent conditions,
// and retries transient ones according to an explicit backoff state machine.
// Callers receive one final response or one final error; intermediate
// attempts are reported to an AttemptObserver. Paginator walks cursor-based
// GraphQL connections lazily on top of the same Client.
package githubapi
