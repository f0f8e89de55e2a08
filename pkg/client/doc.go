/*
Package client is the Go client for the magpie control API.

It wraps the HTTP/JSON surface of pkg/api with typed methods, one per
operation, and is what the magpie CLI uses under the hood. Errors from
the server come back as *APIError carrying the HTTP status and the
server's reason string, so callers can branch on the status when the
message alone is not enough.

	cli := client.New("http://127.0.0.1:8420", "admin")
	task, err := cli.CreateTask(ctx, &manager.CreateTaskRequest{...})

The client sends the subject in the X-Magpie-User header on every
request. It performs no retries; the control API is an interactive
surface and the caller owns its own patience.
*/
package client
