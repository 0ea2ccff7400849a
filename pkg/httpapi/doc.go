/*
Package httpapi is vesseld's Docker Engine API surface: the unix-socket
HTTP/1.1 server, the chi-based route table, the middleware pipeline, and
every Docker-shaped handler.

The pipeline is fixed: request logger, then version-prefix normalizer, then
routing. A request for /v1.51/containers/json and one for /containers/json
reach the same handler with the same parameters; the original URI survives
only in the request log. Handlers decode the wire shapes (docker/docker's
own request structs where they exist, hand-authored response DTOs
elsewhere), call exactly one manager operation, and translate any error
through the single kind-to-status table in errors.go.

Exec start and container attach abandon this pipeline mid-request: the
handler hands the connection to pkg/upgrade, after which the socket speaks
Docker's raw-stream framing until the process exits and output drains.
*/
package httpapi
