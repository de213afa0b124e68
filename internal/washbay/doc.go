// Package washbay is the gateway core: it keeps one state machine per
// wash bay in step with the PLC and the MQTT bus.
//
// A single goroutine (Gateway.Run) owns all mutable state. It polls each
// bay's register block, reconciles the reading with the bay's software
// state, opens and closes wash logs through a Store, publishes status
// messages and executes commands queued from the bus. While the PLC link
// is down every bay is reported OFFLINE.
//
// Architecture:
//
//	MQTT wash/+/cmd ──► HandleMessage ──► command queue ─┐
//	                                                     ▼
//	PLC ◄── supervisor ◄── poller / dispatcher ◄── Gateway.Run
//	                                                     │
//	                     wash/{bay}/status ◄── publisher ┴──► Store
//
// Thread Safety:
//
// Only Enqueue, HandleMessage, Bays and Connected may be called from other
// goroutines. Everything else runs inside Run.
package washbay
