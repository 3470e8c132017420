package synth

// The types below mirror the JSON document the external engine consumes.
// This is the one wire contract the core must get exactly right: the
// engine is a black box driven purely by this file.

type Document struct {
	Log       *LogSettings `json:"log,omitempty"`
	DNS       *DNSSettings `json:"dns,omitempty"`
	Inbounds  []Inbound    `json:"inbounds"`
	Outbounds []Outbound   `json:"outbounds"`
	Routing   *Routing     `json:"routing,omitempty"`
}

type LogSettings struct {
	Loglevel string `json:"loglevel,omitempty"`
	Access   string `json:"access,omitempty"`
	Error    string `json:"error,omitempty"`
}

type DNSSettings struct {
	Servers []string `json:"servers"`
}

type Inbound struct {
	Tag            string          `json:"tag"`
	Listen         string          `json:"listen,omitempty"`
	Port           int             `json:"port"`
	Protocol       string          `json:"protocol"`
	Settings       interface{}     `json:"settings,omitempty"`
	Sniffing       *Sniffing       `json:"sniffing,omitempty"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
}

type Sniffing struct {
	Enabled      bool     `json:"enabled"`
	DestOverride []string `json:"destOverride,omitempty"`
}

type Outbound struct {
	Tag            string          `json:"tag"`
	Protocol       string          `json:"protocol"`
	Settings       interface{}     `json:"settings,omitempty"`
	StreamSettings *StreamSettings `json:"streamSettings,omitempty"`
}

type StreamSettings struct {
	Network      string        `json:"network,omitempty"`
	Security     string        `json:"security,omitempty"`
	TLSSettings  *TLSSettings  `json:"tlsSettings,omitempty"`
	WSSettings   *WSSettings   `json:"wsSettings,omitempty"`
	HTTPSettings *HTTPSettings `json:"httpSettings,omitempty"`
	GRPCSettings *GRPCSettings `json:"grpcSettings,omitempty"`
	Sockopt      *Sockopt      `json:"sockopt,omitempty"`
}

type TLSSettings struct {
	ServerName    string   `json:"serverName,omitempty"`
	ALPN          []string `json:"alpn,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	AllowInsecure bool     `json:"allowInsecure,omitempty"`
}

type WSSettings struct {
	Path    string            `json:"path,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type HTTPSettings struct {
	Path string   `json:"path,omitempty"`
	Host []string `json:"host,omitempty"`
}

type GRPCSettings struct {
	ServiceName string `json:"serviceName,omitempty"`
}

type Sockopt struct {
	Tproxy string `json:"tproxy,omitempty"`
}

type Routing struct {
	DomainStrategy string `json:"domainStrategy,omitempty"`
	Rules          []Rule `json:"rules"`
}

type Rule struct {
	Type        string   `json:"type"`
	Domain      []string `json:"domain,omitempty"`
	IP          []string `json:"ip,omitempty"`
	InboundTag  []string `json:"inboundTag,omitempty"`
	Network     string   `json:"network,omitempty"`
	OutboundTag string   `json:"outboundTag"`
}

// Inbound listener protocol settings.

type socksInSettings struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
}

type httpInSettings struct {
	Auth string `json:"auth,omitempty"`
}

type tunInSettings struct {
	Network        string `json:"network"`
	FollowRedirect bool   `json:"followRedirect"`
}

// Outbound protocol settings.

type ssServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Method   string `json:"method"`
	Password string `json:"password"`
}

type ssSettings struct {
	Servers []ssServer `json:"servers"`
}

type vnextUser struct {
	ID         string `json:"id"`
	AlterID    *int   `json:"alterId,omitempty"`
	Security   string `json:"security,omitempty"`
	Encryption string `json:"encryption,omitempty"`
	Flow       string `json:"flow,omitempty"`
}

type vnextServer struct {
	Address string      `json:"address"`
	Port    int         `json:"port"`
	Users   []vnextUser `json:"users"`
}

type vnextSettings struct {
	Vnext []vnextServer `json:"vnext"`
}
