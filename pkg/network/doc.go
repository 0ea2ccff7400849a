/*
Package network implements vesseld's NetworkManager and IPAM: the bridge,
host, and none builtin networks, user-created bridge networks with
auto-allocated or user-supplied subnets, and per-container IP allocation
within those subnets.

Network and IP bookkeeping lives in pkg/storage; the actual bridge device
setup happens in the hypervisor's networking layer, reached over vsock
through BridgeController. Manager calls BridgeController.CreateBridge when a
network is created and DeleteBridge when it's removed; attach/detach of an
individual container's endpoint is the hypervisor's job once the container's
VM boots with the right guest-side interface, not something this package
does itself.
*/
package network
