// Package config loads a cluster's sizing and membership profile from
// a TOML file at startup, the same config-loading idiom used across
// the retrieval pack's TOML-consuming modules.
package config

import (
	"net"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/corosync/corosync-sub008/corerr"
	"github.com/corosync/corosync-sub008/icmap"
	"github.com/corosync/corosync-sub008/internal/totemsrp"
	"github.com/corosync/corosync-sub008/internal/transport"
)

// NodeSpec names one cluster member in the static profile.
type NodeSpec struct {
	ID   uint32 `toml:"id"`
	Addr string `toml:"addr"`
}

// Profile is the on-disk cluster profile: transport binding, the
// static member list, and the totem sizing/timing constants from
// spec.md §6 (including a small-footprint profile, selected by using
// its smaller values directly in the file).
type Profile struct {
	Nodes []NodeSpec `toml:"node"`

	Transport struct {
		BindAddr  string `toml:"bind_addr"`
		McastAddr string `toml:"mcast_addr"`
		Port      int    `toml:"port"`
		MTU       int    `toml:"mtu"`
		TTL       int    `toml:"ttl"`
		Cipher    string `toml:"cipher"`
		Hash      string `toml:"hash"`
	} `toml:"transport"`

	Totem struct {
		WindowSize                 uint32 `toml:"window_size"`
		MaxMessages                int    `toml:"max_messages"`
		ReceiveWindowSize          uint32 `toml:"receive_window_size"`
		TokenTimeoutMs             int    `toml:"token_timeout_ms"`
		ConsensusTimeoutMs         int    `toml:"consensus_timeout_ms"`
		JoinTimeoutMs              int    `toml:"join_timeout_ms"`
		TokenRetransmitTimeoutMs   int    `toml:"token_retransmit_timeout_ms"`
		TokenRetransmitsBeforeLoss int    `toml:"token_retransmits_before_loss"`
		FailToRecvConst            int    `toml:"fail_to_recv_const"`
		SeqnoUnchangedConst        int    `toml:"seqno_unchanged_const"`
		MaxNoContSendmsgFailures   int    `toml:"max_no_cont_sendmsg_failures"`
		MaxNoContGather            int    `toml:"max_no_cont_gather"`
	} `toml:"totem"`
}

// Load parses a TOML cluster profile from path.
func Load(path string) (*Profile, error) {
	var p Profile
	if _, err := toml.DecodeFile(path, &p); err != nil {
		return nil, corerr.New(corerr.CodeLibrary, "config: decode profile").WithCause(err).WithContext("path", path)
	}
	return &p, nil
}

// TotemConfig converts the profile's [totem] section into a
// totemsrp.Config, falling back to DefaultConfig's value for any
// field left at its TOML zero value.
func (p *Profile) TotemConfig() totemsrp.Config {
	d := totemsrp.DefaultConfig()
	cfg := d
	if p.Totem.WindowSize != 0 {
		cfg.WindowSize = p.Totem.WindowSize
	}
	if p.Totem.MaxMessages != 0 {
		cfg.MaxMessages = p.Totem.MaxMessages
	}
	if p.Totem.ReceiveWindowSize != 0 {
		cfg.ReceiveWindowSize = p.Totem.ReceiveWindowSize
	}
	if p.Totem.TokenTimeoutMs != 0 {
		cfg.TokenTimeout = time.Duration(p.Totem.TokenTimeoutMs) * time.Millisecond
	}
	if p.Totem.ConsensusTimeoutMs != 0 {
		cfg.ConsensusTimeout = time.Duration(p.Totem.ConsensusTimeoutMs) * time.Millisecond
	}
	if p.Totem.JoinTimeoutMs != 0 {
		cfg.JoinTimeout = time.Duration(p.Totem.JoinTimeoutMs) * time.Millisecond
	}
	if p.Totem.TokenRetransmitTimeoutMs != 0 {
		cfg.TokenRetransmitTimeout = time.Duration(p.Totem.TokenRetransmitTimeoutMs) * time.Millisecond
	}
	if p.Totem.TokenRetransmitsBeforeLoss != 0 {
		cfg.TokenRetransmitsBeforeLoss = p.Totem.TokenRetransmitsBeforeLoss
	}
	if p.Totem.FailToRecvConst != 0 {
		cfg.FailToRecvConst = p.Totem.FailToRecvConst
	}
	if p.Totem.SeqnoUnchangedConst != 0 {
		cfg.SeqnoUnchangedConst = p.Totem.SeqnoUnchangedConst
	}
	if p.Totem.MaxNoContSendmsgFailures != 0 {
		cfg.MaxNoContSendmsgFailures = p.Totem.MaxNoContSendmsgFailures
	}
	if p.Totem.MaxNoContGather != 0 {
		cfg.MaxNoContGather = p.Totem.MaxNoContGather
	}
	return cfg
}

// TransportConfig converts the profile's [transport] section into a
// transport.Config.
func (p *Profile) TransportConfig() (transport.Config, error) {
	cfg := transport.Config{
		Port:   p.Transport.Port,
		MTU:    p.Transport.MTU,
		TTL:    p.Transport.TTL,
		Cipher: p.Transport.Cipher,
		Hash:   p.Transport.Hash,
	}
	if p.Transport.BindAddr != "" {
		cfg.BindAddr = net.ParseIP(p.Transport.BindAddr)
		if cfg.BindAddr == nil {
			return transport.Config{}, corerr.New(corerr.CodeInvalidParam, "config: bad bind_addr").WithContext("value", p.Transport.BindAddr)
		}
	}
	if p.Transport.McastAddr != "" {
		cfg.McastAddr = net.ParseIP(p.Transport.McastAddr)
		if cfg.McastAddr == nil {
			return transport.Config{}, corerr.New(corerr.CodeInvalidParam, "config: bad mcast_addr").WithContext("value", p.Transport.McastAddr)
		}
	}
	return cfg, nil
}

// MemberIDs returns the static node list's ids, in file order.
func (p *Profile) MemberIDs() []uint32 {
	ids := make([]uint32, len(p.Nodes))
	for idx, n := range p.Nodes {
		ids[idx] = n.ID
	}
	return ids
}

// PushToICMap installs the profile's totem sizing constants into m
// under totem.*, so later runtime tuning via a live icmap set uses the
// exact same key set the config file populated at startup.
func (p *Profile) PushToICMap(m *icmap.Map) error {
	cfg := p.TotemConfig()
	kv := map[string]icmap.Value{
		"totem.window_size":                    icmap.NewU32(cfg.WindowSize),
		"totem.max_messages":                   icmap.NewU32(uint32(cfg.MaxMessages)),
		"totem.receive_window_size":            icmap.NewU32(cfg.ReceiveWindowSize),
		"totem.token_timeout_ms":               icmap.NewU32(uint32(cfg.TokenTimeout.Milliseconds())),
		"totem.consensus_timeout_ms":           icmap.NewU32(uint32(cfg.ConsensusTimeout.Milliseconds())),
		"totem.join_timeout_ms":                icmap.NewU32(uint32(cfg.JoinTimeout.Milliseconds())),
		"totem.token_retransmit_timeout_ms":    icmap.NewU32(uint32(cfg.TokenRetransmitTimeout.Milliseconds())),
		"totem.token_retransmits_before_loss":  icmap.NewU32(uint32(cfg.TokenRetransmitsBeforeLoss)),
		"totem.fail_to_recv_const":             icmap.NewU32(uint32(cfg.FailToRecvConst)),
		"totem.seqno_unchanged_const":          icmap.NewU32(uint32(cfg.SeqnoUnchangedConst)),
		"totem.max_no_cont_sendmsg_failures":   icmap.NewU32(uint32(cfg.MaxNoContSendmsgFailures)),
		"totem.max_no_cont_gather":             icmap.NewU32(uint32(cfg.MaxNoContGather)),
	}
	for key, v := range kv {
		if err := m.Set(key, v); err != nil {
			return err
		}
	}
	return nil
}
