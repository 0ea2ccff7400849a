/*
Package events is an in-memory pub/sub bus for container, image, network,
and volume lifecycle notifications.

A slow subscriber never stalls a publisher: a full subscriber buffer drops
the event. Publish itself waits only while the broker's own 256-event queue
is full (or until the broker is stopped). The HTTP API exposes no events
endpoint; ContainerManager, the image puller, NetworkManager, and
VolumeManager are the publishers.
*/
package events
