/*
Package handlers implements the HTTP API surface: job submission, the
synchronous transcribe path, queue introspection, and health probes.

All handlers write the shared Response envelope and map structured error
codes onto HTTP status codes in one place.
*/
package handlers
