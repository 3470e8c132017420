package synth

import (
	"encoding/json"
	"fmt"
	"net"
	"os"

	"xrayctl/internal/config"
	"xrayctl/internal/profile"
)

// privateRanges is the address space excluded from the tunnel in
// bypass-lan and rules modes.
var privateRanges = []string{
	"geoip:private",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"fc00::/7",
	"fe80::/10",
	"::1/128",
}

// reservedPorts are well-known local services a listener must never shadow.
var reservedPorts = map[int]string{
	53:   "dns",
	67:   "dhcp",
	68:   "dhcp",
	123:  "ntp",
	137:  "netbios",
	138:  "netbios",
	139:  "netbios",
	445:  "smb",
	631:  "ipp",
	5353: "mdns",
}

// Result is the ephemeral artifact of one synthesis call. Path points at a
// freshly written file; it is never an update of a previous one.
type Result struct {
	Document  *Document
	Path      string
	SOCKSAddr string
	HTTPAddr  string
	TUNAddr   string // empty unless the TUN inbound was generated
}

// Synthesize builds a complete engine configuration for one profile and
// writes it to a transient file. Port conflicts are detected here, before
// any process launch, so the supervisor is never started against a config
// that cannot bind.
func Synthesize(p *profile.Profile, cfg *config.Config) (*Result, error) {
	if err := checkPorts(cfg); err != nil {
		return nil, err
	}

	outbound, err := buildOutbound(p)
	if err != nil {
		return nil, err
	}
	if err := validateOutbound(outbound); err != nil {
		return nil, &SynthesisError{Kind: EngineRejected, Err: err}
	}

	doc := &Document{
		Log:      &LogSettings{Loglevel: "warning"},
		Inbounds: buildInbounds(cfg),
		Outbounds: []Outbound{
			*outbound,
			{Tag: "direct", Protocol: "freedom", Settings: struct{}{}},
			{Tag: "block", Protocol: "blackhole", Settings: struct{}{}},
		},
		Routing: buildRouting(cfg),
	}
	if len(cfg.DNS.Servers) > 0 {
		doc.DNS = &DNSSettings{Servers: cfg.DNS.Servers}
	}

	path, err := writeDocument(doc, cfg.Engine.ConfigDir)
	if err != nil {
		return nil, &SynthesisError{Kind: WriteFailed, Err: err}
	}

	res := &Result{
		Document:  doc,
		Path:      path,
		SOCKSAddr: net.JoinHostPort(cfg.Inbound.Listen, fmt.Sprint(cfg.Inbound.SOCKSPort)),
		HTTPAddr:  net.JoinHostPort(cfg.Inbound.Listen, fmt.Sprint(cfg.Inbound.HTTPPort)),
	}
	if cfg.TUN.Enabled {
		res.TUNAddr = net.JoinHostPort(cfg.Inbound.Listen, fmt.Sprint(cfg.TUN.Port))
	}
	return res, nil
}

// buildOutbound maps one profile onto the engine's outbound shape. The
// switch is exhaustive over the protocols the parser can produce.
func buildOutbound(p *profile.Profile) (*Outbound, error) {
	ob := &Outbound{Tag: "proxy", StreamSettings: buildStream(p)}

	switch p.Protocol {
	case profile.Shadowsocks:
		ob.Protocol = "shadowsocks"
		ob.Settings = &ssSettings{Servers: []ssServer{{
			Address:  p.Host,
			Port:     p.Port,
			Method:   p.SS.Method,
			Password: p.SS.Password,
		}}}
	case profile.VMess:
		ob.Protocol = "vmess"
		aid := p.VMess.AlterID
		ob.Settings = &vnextSettings{Vnext: []vnextServer{{
			Address: p.Host,
			Port:    p.Port,
			Users: []vnextUser{{
				ID:       p.VMess.ID,
				AlterID:  &aid,
				Security: p.VMess.Security,
			}},
		}}}
	case profile.VLESS:
		ob.Protocol = "vless"
		ob.Settings = &vnextSettings{Vnext: []vnextServer{{
			Address: p.Host,
			Port:    p.Port,
			Users: []vnextUser{{
				ID:         p.VLESS.ID,
				Encryption: p.VLESS.Encryption,
				Flow:       p.VLESS.Flow,
			}},
		}}}
	default:
		return nil, synthErr(UnsupportedProfile, "protocol %q", p.Protocol)
	}
	return ob, nil
}

func buildStream(p *profile.Profile) *StreamSettings {
	network := p.Transport.Network
	if network == "" {
		network = "tcp"
	}
	ss := &StreamSettings{Network: network}

	if p.TLS.Enabled {
		ss.Security = "tls"
		sni := p.TLS.SNI
		if sni == "" {
			sni = p.Host
		}
		ss.TLSSettings = &TLSSettings{
			ServerName:  sni,
			ALPN:        p.TLS.ALPN,
			Fingerprint: p.TLS.Fingerprint,
		}
	}

	switch network {
	case "ws":
		host := p.Transport.Host
		if host == "" {
			host = p.Host
		}
		path := p.Transport.Path
		if path == "" {
			path = "/"
		}
		ss.WSSettings = &WSSettings{
			Path:    path,
			Headers: map[string]string{"Host": host},
		}
	case "h2", "http":
		host := p.Transport.Host
		if host == "" {
			host = p.Host
		}
		ss.HTTPSettings = &HTTPSettings{
			Path: p.Transport.Path,
			Host: []string{host},
		}
	case "grpc":
		ss.GRPCSettings = &GRPCSettings{ServiceName: p.Transport.ServiceName}
	}
	return ss
}

func buildInbounds(cfg *config.Config) []Inbound {
	sniff := &Sniffing{Enabled: true, DestOverride: []string{"http", "tls"}}

	inbounds := []Inbound{
		{
			Tag:      "http-in",
			Listen:   cfg.Inbound.Listen,
			Port:     cfg.Inbound.HTTPPort,
			Protocol: "http",
			Settings: &httpInSettings{},
			Sniffing: sniff,
		},
		{
			Tag:      "socks-in",
			Listen:   cfg.Inbound.Listen,
			Port:     cfg.Inbound.SOCKSPort,
			Protocol: "socks",
			Settings: &socksInSettings{Auth: "noauth", UDP: true},
			Sniffing: sniff,
		},
	}

	if cfg.TUN.Enabled {
		inbounds = append(inbounds, Inbound{
			Tag:      "tun-in",
			Listen:   cfg.Inbound.Listen,
			Port:     cfg.TUN.Port,
			Protocol: "dokodemo-door",
			Settings: &tunInSettings{Network: "tcp,udp", FollowRedirect: true},
			Sniffing: sniff,
			StreamSettings: &StreamSettings{
				Sockopt: &Sockopt{Tproxy: "tproxy"},
			},
		})
	}
	return inbounds
}

// buildRouting assembles the ordered rule list. First match wins; the
// precedence is user rules, then the built-in private-range bypass, then
// the catch-all to the proxy outbound.
func buildRouting(cfg *config.Config) *Routing {
	r := &Routing{DomainStrategy: "AsIs"}

	if cfg.Routing.Mode == config.RouteRules {
		for _, rule := range cfg.Routing.Rules {
			if len(rule.Domains) > 0 {
				r.Rules = append(r.Rules, Rule{
					Type:        "field",
					Domain:      rule.Domains,
					OutboundTag: rule.Outbound,
				})
			}
			if len(rule.IPs) > 0 {
				r.Rules = append(r.Rules, Rule{
					Type:        "field",
					IP:          rule.IPs,
					OutboundTag: rule.Outbound,
				})
			}
		}
	}

	if cfg.Routing.Mode != config.RouteGlobal {
		r.Rules = append(r.Rules, Rule{
			Type:        "field",
			IP:          privateRanges,
			OutboundTag: "direct",
		})
	}

	r.Rules = append(r.Rules, Rule{
		Type:        "field",
		Network:     "tcp,udp",
		OutboundTag: "proxy",
	})
	return r
}

// checkPorts rejects listener ports that collide with reserved services,
// with each other, or with something already bound on the host.
func checkPorts(cfg *config.Config) error {
	ports := map[int]string{
		cfg.Inbound.HTTPPort:  "http inbound",
		cfg.Inbound.SOCKSPort: "socks inbound",
	}
	if len(ports) < 2 {
		return synthErr(PortConflict, "http and socks inbounds share port %d", cfg.Inbound.HTTPPort)
	}
	if cfg.TUN.Enabled {
		if _, dup := ports[cfg.TUN.Port]; dup {
			return synthErr(PortConflict, "tun inbound shares port %d", cfg.TUN.Port)
		}
		ports[cfg.TUN.Port] = "tun inbound"
	}

	for port, name := range ports {
		if svc, ok := reservedPorts[port]; ok {
			return synthErr(PortConflict, "%s port %d is reserved for %s", name, port, svc)
		}
		l, err := net.Listen("tcp", net.JoinHostPort(cfg.Inbound.Listen, fmt.Sprint(port)))
		if err != nil {
			return synthErr(PortConflict, "%s port %d is already in use", name, port)
		}
		l.Close()
	}
	return nil
}

// writeDocument materializes the config as a fresh temp file. The file is
// never mutated afterwards; every synthesis produces a new artifact so the
// supervisor can swap atomically between attempts.
func writeDocument(doc *Document, dir string) (string, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}

	f, err := os.CreateTemp(dir, "xrayctl-*.json")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
