/*
Package server provides HTTP server lifecycle management: non-blocking
startup, graceful shutdown, and system signal handling.

Manager wraps net/http.Server and owns the listen, serve, shutdown, and
error propagation flow. WaitForShutdown listens for SIGINT/SIGTERM and
drains in-flight requests within the configured timeout.
*/
package server
