package activitypub

// NodeInfoSchema is the NodeInfo version served.
const NodeInfoSchema = "http://nodeinfo.diaspora.software/ns/schema/2.1"

// NodeInfoLinks is the /.well-known/nodeinfo discovery document.
type NodeInfoLinks struct {
	Links []WebFingerLink `json:"links"`
}

// NodeInfo describes the server software and usage.
type NodeInfo struct {
	Version           string                 `json:"version"`
	Software          NodeInfoSoftware       `json:"software"`
	Protocols         []string               `json:"protocols"`
	Services          NodeInfoServices       `json:"services"`
	OpenRegistrations bool                   `json:"openRegistrations"`
	Usage             NodeInfoUsage          `json:"usage"`
	Metadata          map[string]interface{} `json:"metadata"`
}

// NodeInfoSoftware names the implementation.
type NodeInfoSoftware struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	Repository string `json:"repository,omitempty"`
}

// NodeInfoServices lists third-party integrations.
type NodeInfoServices struct {
	Inbound  []string `json:"inbound"`
	Outbound []string `json:"outbound"`
}

// NodeInfoUsage carries the usage counters.
type NodeInfoUsage struct {
	Users      NodeInfoUsers `json:"users"`
	LocalPosts int64         `json:"localPosts"`
}

// NodeInfoUsers counts local users.
type NodeInfoUsers struct {
	Total int64 `json:"total"`
}

// NewNodeInfoLinks points at the 2.1 document on baseURL.
func NewNodeInfoLinks(baseURL string) *NodeInfoLinks {
	return &NodeInfoLinks{Links: []WebFingerLink{{Rel: NodeInfoSchema, Href: baseURL + "/nodeinfo/2.1"}}}
}

// NewNodeInfo builds the 2.1 document.
func NewNodeInfo(version string, users, posts int64) *NodeInfo {
	return &NodeInfo{
		Version:   "2.1",
		Software:  NodeInfoSoftware{Name: "outpost", Version: version},
		Protocols: []string{"activitypub"},
		Services:  NodeInfoServices{Inbound: []string{}, Outbound: []string{}},
		Usage: NodeInfoUsage{
			Users:      NodeInfoUsers{Total: users},
			LocalPosts: posts,
		},
		Metadata: map[string]interface{}{},
	}
}
