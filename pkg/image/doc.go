/*
Package image implements vesseld's ImageManager facade over containerd's
image and content stores: pull (with Docker-shaped NDJSON progress), load
from an OCI layout, list, inspect, delete, and prune.

Pull progress is produced by polling the content store's in-flight ingest
statuses while containerd's own Pull does the actual fetch - the same
approach containerd's ctr CLI uses for its own progress bar - and
translating each status into the {status, id, progressDetail} record shape
httpapi streams to clients verbatim.
*/
package image
