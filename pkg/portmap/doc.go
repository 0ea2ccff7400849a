/*
Package portmap implements vesseld's PortMapManager: a global (bind-ip,
host-port, proto) reservation set and the userspace proxy that forwards
published traffic to a container.

Docker itself forwards host ports with iptables DNAT into a Linux network
namespace. vesseld can't do that because there is no local namespace to
DNAT into - each container is a micro VM reached over the hypervisor's own
networking, so every published port instead runs a plain Go TCP accept
loop or UDP packet proxy that forwards into the container's bridge-network
IP, which the hypervisor routes to from the host.
*/
package portmap
