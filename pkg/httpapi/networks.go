package httpapi

import (
	"net/http"

	"github.com/vesseld/vesseld/pkg/apierror"
	"github.com/vesseld/vesseld/pkg/container"
	"github.com/vesseld/vesseld/pkg/types"
)

// networkCreateRequest is the wire shape of POST /networks/create, trimmed
// to the fields this daemon honors.
type networkCreateRequest struct {
	Name       string            `json:"Name"`
	Driver     string            `json:"Driver"`
	Internal   bool              `json:"Internal"`
	Attachable bool              `json:"Attachable"`
	Labels     map[string]string `json:"Labels"`
	IPAM       *struct {
		Config []struct {
			Subnet  string `json:"Subnet"`
			Gateway string `json:"Gateway"`
		} `json:"Config"`
	} `json:"IPAM"`
}

type networkConnectRequest struct {
	Container      string `json:"Container"`
	EndpointConfig *struct {
		IPAMConfig *struct {
			IPv4Address string `json:"IPv4Address"`
		} `json:"IPAMConfig"`
	} `json:"EndpointConfig"`
}

// attachedContainers builds the Containers section of a network inspect
// response and doubles as the attachment count list/prune filtering needs.
func (a *API) attachedContainers(n *types.Network) map[string]networkContainerEntry {
	out := map[string]networkContainerEntry{}
	all, err := a.containers.List(container.ListFilters{All: true})
	if err != nil {
		return out
	}
	for _, c := range all {
		if c.NetworkConfig == nil {
			continue
		}
		for netID, ep := range c.NetworkConfig.EndpointsConfig {
			if netID != n.ID || ep == nil {
				continue
			}
			out[c.ID] = networkContainerEntry{
				Name:        c.Name,
				EndpointID:  ep.EndpointID,
				MacAddress:  ep.MacAddress,
				IPv4Address: ep.IPAddress,
			}
		}
	}
	return out
}

func (a *API) handleNetworkList(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if vals := filters["dangling"]; len(vals) > 0 && vals[0] != "true" && vals[0] != "1" {
		writeError(w, apierror.Invalid("invalid filter: dangling=%s is not supported", vals[0]))
		return
	}
	labels := labelFilters(filters)

	nets, err := a.networks.List()
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]networkResource, 0, len(nets))
	for _, n := range nets {
		if !matchesLabels(n.Labels, labels) {
			continue
		}
		if ids := filters["id"]; len(ids) > 0 && !containsPrefixMatch(ids, n.ID) {
			continue
		}
		if names := filters["name"]; len(names) > 0 && !containsString(names, n.Name) {
			continue
		}
		if kinds := filters["type"]; len(kinds) > 0 {
			kind := "custom"
			if n.Builtin {
				kind = "builtin"
			}
			if !containsString(kinds, kind) {
				continue
			}
		}
		attached := a.attachedContainers(n)
		if len(filters["dangling"]) > 0 && len(attached) > 0 {
			continue
		}
		out = append(out, toNetworkResource(n, attached))
	}
	writeJSON(w, http.StatusOK, out)
}

func containsString(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

func containsPrefixMatch(prefixes []string, id string) bool {
	for _, p := range prefixes {
		if len(id) >= len(p) && id[:len(p)] == p {
			return true
		}
	}
	return false
}

func (a *API) handleNetworkInspect(w http.ResponseWriter, r *http.Request) {
	n, err := a.networks.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, apierror.NotFound("network %s not found", pathParam(r, "id")))
		return
	}
	writeJSON(w, http.StatusOK, toNetworkResource(n, a.attachedContainers(n)))
}

func (a *API) handleNetworkCreate(w http.ResponseWriter, r *http.Request) {
	var req networkCreateRequest
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Name == "" {
		writeError(w, apierror.Invalid("network name is required"))
		return
	}

	subnet := ""
	if req.IPAM != nil && len(req.IPAM.Config) > 0 {
		subnet = req.IPAM.Config[0].Subnet
	}

	n, err := a.networks.Create(r.Context(), req.Name, req.Driver, subnet, req.Internal, req.Attachable, req.Labels)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"Id": n.ID, "Warning": ""})
}

func (a *API) handleNetworkRemove(w http.ResponseWriter, r *http.Request) {
	n, err := a.networks.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, apierror.NotFound("network %s not found", pathParam(r, "id")))
		return
	}
	if attached := a.attachedContainers(n); len(attached) > 0 {
		writeError(w, apierror.Conflict("network %s has active endpoints", n.Name))
		return
	}
	if err := a.networks.Remove(r.Context(), n.ID); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleNetworkConnect(w http.ResponseWriter, r *http.Request) {
	n, err := a.networks.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, apierror.NotFound("network %s not found", pathParam(r, "id")))
		return
	}
	var req networkConnectRequest
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := a.containers.Get(req.Container)
	if err != nil {
		writeError(w, err)
		return
	}

	requestedIP := ""
	if req.EndpointConfig != nil && req.EndpointConfig.IPAMConfig != nil {
		requestedIP = req.EndpointConfig.IPAMConfig.IPv4Address
	}
	if _, err := a.networks.Attach(c.ID, n, requestedIP); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (a *API) handleNetworkDisconnect(w http.ResponseWriter, r *http.Request) {
	n, err := a.networks.Get(pathParam(r, "id"))
	if err != nil {
		writeError(w, apierror.NotFound("network %s not found", pathParam(r, "id")))
		return
	}
	var req networkConnectRequest
	if err := decodeJSONBody(r, a.cfg.MaxRequestBodyBytes, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := a.containers.Get(req.Container)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.networks.Detach(c.ID, n); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// handleNetworkPrune removes user networks with zero attachments matching
// the label filter. Builtins never qualify; attachment always wins over a
// matching label.
func (a *API) handleNetworkPrune(w http.ResponseWriter, r *http.Request) {
	filters, err := queryFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	labels := labelFilters(filters)

	nets, err := a.networks.List()
	if err != nil {
		writeError(w, err)
		return
	}
	deleted := []string{}
	for _, n := range nets {
		if n.Builtin {
			continue
		}
		if !matchesLabels(n.Labels, labels) {
			continue
		}
		if len(a.attachedContainers(n)) > 0 {
			continue
		}
		if err := a.networks.Remove(r.Context(), n.ID); err != nil {
			continue
		}
		deleted = append(deleted, n.Name)
	}
	writeJSON(w, http.StatusOK, map[string]any{"NetworksDeleted": deleted})
}
