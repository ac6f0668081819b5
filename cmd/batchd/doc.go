/*
Command batchd runs the micro-batching transcription scheduler: it drains a
Redis job queue into batches, preprocesses them in parallel, executes them
strictly sequentially against the inference backend, and serves the HTTP API
for submission, synchronous transcription, and queue introspection.

Usage:

	batchd serve                      start the service
	batchd serve --config batchd.yaml start with a config file
	batchd version                    show version information
	batchd health                     probe a running instance
*/
package main
