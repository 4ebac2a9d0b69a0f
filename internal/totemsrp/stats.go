package totemsrp

import (
	"sync/atomic"

	"github.com/corosync/corosync-sub008/icmap"
)

// counters holds every §4.5 counter this build tracks, each published
// as a stats-map key of type U64 so external readers observe them via
// icmap.StatsMap.Get or a tracker.
type counters struct {
	mcastTx                    uint64
	mcastRetx                  uint64
	mcastRx                    uint64
	orfTokenTx                 uint64
	orfTokenRx                 uint64
	operationalEntered         uint64
	operationalTokenLost       uint64
	gatherEntered              uint64
	gatherTokenLost            uint64
	commitEntered              uint64
	recoveryEntered            uint64
	rxMsgDropped               uint64
	continuousGather           uint64
	firewallEnabledOrNicFailure uint64
}

// registerStats installs every counter under stats.srp.<name>, matching
// the key-name list in the external-interfaces section.
func registerStats(s *icmap.StatsMap, c *counters) {
	reg := func(name string, p *uint64) {
		s.Register("stats.srp."+name, func() icmap.Value {
			return icmap.NewU64(atomic.LoadUint64(p))
		})
	}
	reg("mcast_tx", &c.mcastTx)
	reg("mcast_retx", &c.mcastRetx)
	reg("mcast_rx", &c.mcastRx)
	reg("orf_token_tx", &c.orfTokenTx)
	reg("orf_token_rx", &c.orfTokenRx)
	reg("operational_entered", &c.operationalEntered)
	reg("operational_token_lost", &c.operationalTokenLost)
	reg("gather_entered", &c.gatherEntered)
	reg("gather_token_lost", &c.gatherTokenLost)
	reg("commit_entered", &c.commitEntered)
	reg("recovery_entered", &c.recoveryEntered)
	reg("rx_msg_dropped", &c.rxMsgDropped)
	reg("continuous_gather", &c.continuousGather)
	reg("firewall_enabled_or_nic_failure", &c.firewallEnabledOrNicFailure)
}
