package session

import "sync/atomic"

type counters struct {
	sent           atomic.Uint64
	sendFailures   atomic.Uint64
	received       atomic.Uint64
	recvFailures   atomic.Uint64
	echoes         atomic.Uint64
	decodeFailures atomic.Uint64
	published      atomic.Uint64
	dropped        atomic.Uint64
}

// Stats is a point-in-time copy of the session counters.
type Stats struct {
	Sent            uint64 `json:"sent"`
	SendFailures    uint64 `json:"send_failures"`
	Received        uint64 `json:"received"`
	ReceiveFailures uint64 `json:"receive_failures"`
	Echoes          uint64 `json:"echoes"`
	DecodeFailures  uint64 `json:"decode_failures"`
	Published       uint64 `json:"published"`
	Dropped         uint64 `json:"dropped"`
}

func (c *counters) snapshot() Stats {
	return Stats{
		Sent:            c.sent.Load(),
		SendFailures:    c.sendFailures.Load(),
		Received:        c.received.Load(),
		ReceiveFailures: c.recvFailures.Load(),
		Echoes:          c.echoes.Load(),
		DecodeFailures:  c.decodeFailures.Load(),
		Published:       c.published.Load(),
		Dropped:         c.dropped.Load(),
	}
}
