package monitor

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/ucmwatch/internal/metrics"
	"github.com/snarg/ucmwatch/internal/ucm"
)

// HistoryRecorder is the call-history sink driven by the correlator. All
// calls happen on the monitor goroutine; implementations own the persistent
// call log and its per-call bridge-time metadata.
type HistoryRecorder interface {
	InsertInboundRing(linkedid, externalNumber string)
	MarkInboundAnswered(linkedid, internalExt, internalName, bridgeTime string)
	InsertOutbound(linkedid, timestamp, externalNumber, internalExt, internalName string)

	// Finalize writes the call duration if the call was answered, then drops
	// the per-call metadata. No-op for unknown correlation ids.
	Finalize(linkedid string)

	// HasPending reports whether metadata for the correlation id exists
	// (i.e. a row was inserted and the call has not been finalized).
	HasPending(linkedid string) bool

	// Reset drops all pending metadata without writing durations.
	Reset()
}

const bridgeTimeLayout = "2006-01-02 15:04:05"

// Correlator groups raw per-channel exchange events into logical calls keyed
// by linkedid, classifies call direction, and emits ring/connect/hangup
// events. It implements ucm.EventHandler; every mutation happens on the
// client's run goroutine, so the correlation maps need no locking. The Store
// and EventBus are the only surfaces shared with HTTP handlers.
type Correlator struct {
	store   *Store
	bus     *EventBus
	history HistoryRecorder
	log     zerolog.Logger

	// channelMap resolves channel → linkedid; needed because delete events
	// carry only a channel name. callChannels is the inverse: the set of
	// live channels per call, which drives call termination.
	channelMap   map[string]string
	callChannels map[string]map[string]struct{}

	// Linkedids whose call arrived on an inbound trunk. Only these produce
	// ring/connect notifications; internal and outbound calls are suppressed.
	inbound map[string]struct{}

	now func() time.Time
}

func NewCorrelator(store *Store, bus *EventBus, history HistoryRecorder, log zerolog.Logger) *Correlator {
	return &Correlator{
		store:        store,
		bus:          bus,
		history:      history,
		log:          log.With().Str("component", "correlator").Logger(),
		channelMap:   make(map[string]string),
		callChannels: make(map[string]map[string]struct{}),
		inbound:      make(map[string]struct{}),
		now:          time.Now,
	}
}

// Reset wipes all in-flight correlation state. Called when the exchange
// session drops: active calls can no longer be verified, and any answered
// call left pending will keep duration 0 in the log.
func (c *Correlator) Reset() {
	c.store.Clear()
	c.channelMap = make(map[string]string)
	c.callChannels = make(map[string]map[string]struct{})
	c.inbound = make(map[string]struct{})
	if c.history != nil {
		c.history.Reset()
	}
}

// HandleExtensionStatus updates presence and fans out one event per entry.
func (c *Correlator) HandleExtensionStatus(entries []ucm.ExtensionStatusEntry) {
	for _, e := range entries {
		if e.Extension == "" {
			continue
		}
		c.store.SetPresence(e.Extension, e.Status)
		c.log.Debug().Str("extension", e.Extension).Str("status", e.Status).Msg("extension status")
		c.publish(EventPresence, PresencePayload{Extension: e.Extension, Status: e.Status})
	}
}

// HandleActiveCallStatus processes one batch of channel entries. Trunk
// entries are processed first so an inbound linkedid is registered before the
// extension-side channels of the same call are examined.
func (c *Correlator) HandleActiveCallStatus(entries []ucm.CallEntry) {
	sorted := make([]ucm.CallEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InboundTrunk != "" && sorted[j].InboundTrunk == ""
	})

	for i := range sorted {
		e := &sorted[i]
		switch e.ChanType {
		case "unbridge":
			c.handleUnbridge(e)
		case "bridge":
			c.handleBridge(e)
		default:
			c.log.Debug().Str("chantype", e.ChanType).Msg("unknown chantype")
		}
	}
}

// ── unbridge family: ringing and hangup ──────────────────────────────

func (c *Correlator) handleUnbridge(e *ucm.CallEntry) {
	channel := e.Channel
	linkedid := e.LinkedID
	if linkedid == "" {
		if e.UniqueID != "" {
			linkedid = e.UniqueID
		} else {
			linkedid = channel
		}
	}

	switch e.Action {
	case "add", "update":
		if channel != "" && linkedid != "" {
			c.indexChannel(linkedid, channel)
		}

		if e.State != "Ring" && e.State != "Ringing" {
			return
		}

		// A trunk channel ringing marks the whole call as inbound external.
		// Notifications come from the extension-side channels, not this one.
		if e.InboundTrunk != "" {
			if linkedid != "" {
				c.inbound[linkedid] = struct{}{}
				c.log.Debug().Str("linkedid", linkedid).Str("trunk", e.InboundTrunk).Msg("inbound trunk ringing")
			}
			return
		}

		// Internal and outbound ringing is not surfaced. Empty linkedids show
		// up on post-hangup stragglers and are dropped too.
		if linkedid == "" {
			return
		}
		if _, ok := c.inbound[linkedid]; !ok {
			c.log.Debug().Str("linkedid", linkedid).Msg("ring for non-inbound call, ignored")
			return
		}

		// Extension-side entries arrive with the perspective swapped:
		// callernum is the internal extension being rung and connectednum the
		// external caller.
		internal := e.CallerNum
		external := e.ConnectedNum
		externalName := e.ConnectedName

		if existing, ok := c.store.Get(linkedid); ok {
			if existing.State == StateRinging {
				if c.store.AppendExtension(linkedid, internal) {
					c.log.Debug().Str("linkedid", linkedid).Str("extension", internal).Msg("ring group grew")
				}
			}
			// Already tracked (ringing or connected): no second ring event.
			return
		}

		rec := CallRecord{
			LinkedID:     linkedid,
			State:        StateRinging,
			CallerNum:    external,
			CallerName:   externalName,
			ConnectedNum: internal,
		}
		if internal != "" {
			rec.Extensions = []string{internal}
		}
		c.store.Put(rec)

		c.log.Info().Str("from", external).Str("to", internal).Str("linkedid", linkedid).Msg("inbound call ringing")
		c.publish(EventCallRing, RingPayload{
			LinkedID:     linkedid,
			CallerNum:    external,
			CallerName:   externalName,
			ConnectedNum: internal,
		})
		if c.history != nil {
			c.history.InsertInboundRing(linkedid, external)
		}

	case "delete":
		// Delete entries carry only the channel; resolve via the index.
		if channel == "" {
			return
		}
		linked, ok := c.channelMap[channel]
		if !ok {
			return
		}
		delete(c.channelMap, channel)
		c.dropChannel(linked, channel)
	}
}

// ── bridge family: answered calls ────────────────────────────────────

func (c *Correlator) handleBridge(e *ucm.CallEntry) {
	channels := make([]string, 0, 3)
	for _, ch := range []string{e.Channel, e.Channel1, e.Channel2} {
		if ch != "" {
			channels = append(channels, ch)
		}
	}

	switch e.Action {
	case "add", "update":
		linkedid := c.resolveBridgeLinkedID(e)

		// Outbound calls have no prior unbridge phase, so nothing is indexed
		// yet; fall back to whatever identifies the call.
		if linkedid == "" && e.OutboundTrunk != "" {
			for _, id := range []string{e.UniqueID, e.Channel1, e.Channel2, e.Channel} {
				if id != "" {
					linkedid = id
					break
				}
			}
		}
		if linkedid == "" {
			c.log.Debug().
				Str("channel1", e.Channel1).
				Str("channel2", e.Channel2).
				Msg("bridge with unresolvable linkedid dropped")
			return
		}

		for _, ch := range channels {
			c.indexChannel(linkedid, ch)
		}

		// Outbound answered: persisted to history, never surfaced on the
		// active-calls panel.
		if e.OutboundTrunk != "" && e.InboundTrunk == "" && c.history != nil && !c.history.HasPending(linkedid) {
			external, internalExt, internalName, ok := extractBridgeParties(e)
			if !ok || external == "" {
				// Neither channel name contains "trunk"; keep these visible
				// for protocol analysis instead of guessing the parties.
				c.log.Info().
					Str("linkedid", linkedid).
					Str("channel1", e.Channel1).
					Str("channel2", e.Channel2).
					Msg("outbound bridge without identifiable trunk leg, not logged")
			} else {
				ts := e.BridgeTime
				if ts == "" {
					ts = c.now().Format(bridgeTimeLayout)
				}
				c.history.InsertOutbound(linkedid, ts, external, internalExt, internalName)
			}
		}

		if _, ok := c.inbound[linkedid]; !ok {
			return
		}
		existing, tracked := c.store.Get(linkedid)
		if tracked && existing.State == StateConnected {
			// Duplicate bridge update for an already-connected call; the
			// history row was written on the first bridge.
			return
		}

		// Inbound answered: fill in the history row.
		if c.history != nil && c.history.HasPending(linkedid) {
			_, internalExt, internalName, _ := extractBridgeParties(e)
			c.history.MarkInboundAnswered(linkedid, internalExt, internalName, e.BridgeTime)
		}

		if !tracked {
			// Never seen ringing (e.g. state wiped mid-call); nothing to update.
			c.log.Debug().Str("linkedid", linkedid).Msg("bridge for untracked call, ignored")
			return
		}

		rec := CallRecord{
			LinkedID:   linkedid,
			State:      StateConnected,
			CallerID1:  e.CallerID1,
			CallerID2:  e.CallerID2,
			Name1:      e.Name1,
			Name2:      e.Name2,
			BridgeTime: e.BridgeTime,
		}
		c.store.Put(rec)

		c.log.Info().
			Str("callerid1", e.CallerID1).
			Str("callerid2", e.CallerID2).
			Str("linkedid", linkedid).
			Msg("call connected")
		c.publish(EventCallConnect, ConnectPayload{
			LinkedID:   linkedid,
			CallerID1:  e.CallerID1,
			CallerID2:  e.CallerID2,
			Name1:      e.Name1,
			Name2:      e.Name2,
			BridgeTime: e.BridgeTime,
		})

	case "delete":
		var linked string
		for _, ch := range channels {
			if id, ok := c.channelMap[ch]; ok {
				linked = id
				break
			}
		}
		for _, ch := range channels {
			delete(c.channelMap, ch)
		}
		if linked == "" {
			return
		}
		c.dropChannels(linked, channels)
	}
}

// resolveBridgeLinkedID finds the correlation id for a bridge entry: the
// explicit linkedid when present, otherwise a lookup of any of its channels
// in the index populated during the unbridge phase.
func (c *Correlator) resolveBridgeLinkedID(e *ucm.CallEntry) string {
	if e.LinkedID != "" {
		return e.LinkedID
	}
	for _, ch := range []string{e.Channel1, e.Channel2, e.Channel} {
		if ch == "" {
			continue
		}
		if id, ok := c.channelMap[ch]; ok {
			return id
		}
	}
	return ""
}

// extractBridgeParties identifies the external and internal legs of a bridge.
// The channel whose name contains "trunk" carries the external party.
func extractBridgeParties(e *ucm.CallEntry) (external, internalExt, internalName string, ok bool) {
	switch {
	case strings.Contains(strings.ToLower(e.Channel1), "trunk"):
		return e.CallerID1, e.CallerID2, e.Name2, true
	case strings.Contains(strings.ToLower(e.Channel2), "trunk"):
		return e.CallerID2, e.CallerID1, e.Name1, true
	}
	return "", "", "", false
}

// ── shared channel bookkeeping ───────────────────────────────────────

func (c *Correlator) indexChannel(linkedid, channel string) {
	c.channelMap[channel] = linkedid
	set, ok := c.callChannels[linkedid]
	if !ok {
		set = make(map[string]struct{})
		c.callChannels[linkedid] = set
	}
	set[channel] = struct{}{}
}

func (c *Correlator) dropChannel(linkedid, channel string) {
	c.dropChannels(linkedid, []string{channel})
}

// dropChannels removes channels from a call's set and finalizes the call when
// the last one goes away.
func (c *Correlator) dropChannels(linkedid string, channels []string) {
	set := c.callChannels[linkedid]
	for _, ch := range channels {
		delete(set, ch)
	}
	if len(set) > 0 {
		return
	}
	delete(c.callChannels, linkedid)
	delete(c.inbound, linkedid)
	if c.history != nil {
		c.history.Finalize(linkedid)
	}
	if c.store.Delete(linkedid) {
		c.log.Info().Str("linkedid", linkedid).Msg("call ended")
		c.publish(EventCallHangup, HangupPayload{LinkedID: linkedid})
	}
}

func (c *Correlator) publish(eventType string, payload any) {
	metrics.CallEventsTotal.WithLabelValues(eventType).Inc()
	if c.bus != nil {
		c.bus.Publish(eventType, payload)
	}
}
