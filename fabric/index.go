package fabric

import (
	"github.com/socketfabric/broker/msg"
	"github.com/socketfabric/broker/wire"
)

// attach adds w to chanName's subscriber set, and to each label's subset of
// it, idempotently (spec.md P4: "ATTACH is idempotent — attaching the same
// wire to the same channel/label pair twice has no additional effect").
// Runs on the reactor goroutine only.
func (s *Socket) attach(w *wire.Wire, chanName string, labels []string) {
	defer s.publishChannels()

	subs, ok := s.chans[chanName]
	if !ok {
		subs = make(map[msg.ID]struct{})
		s.chans[chanName] = subs
	}
	subs[w.ID()] = struct{}{}

	wireAttach, ok := s.attachments[w.ID()]
	if !ok {
		wireAttach = make(map[string]map[string]struct{})
		s.attachments[w.ID()] = wireAttach
	}
	if _, ok := wireAttach[chanName]; !ok {
		wireAttach[chanName] = make(map[string]struct{})
	}

	if len(labels) == 0 {
		return
	}
	byLabel, ok := s.labels[chanName]
	if !ok {
		byLabel = make(map[string]map[msg.ID]struct{})
		s.labels[chanName] = byLabel
	}
	for _, label := range labels {
		set, ok := byLabel[label]
		if !ok {
			set = make(map[msg.ID]struct{})
			byLabel[label] = set
		}
		set[w.ID()] = struct{}{}
		wireAttach[chanName][label] = struct{}{}
	}
}

// attachmentsFor returns the {channel: labels} snapshot the MINE handler
// reports for w, the chan/label pairs w is currently attached to.
func (s *Socket) attachmentsFor(id msg.ID) map[string][]string {
	out := make(map[string][]string)
	for chanName, labels := range s.attachments[id] {
		ls := make([]string, 0, len(labels))
		for label := range labels {
			ls = append(ls, label)
		}
		out[chanName] = ls
	}
	return out
}

// detach removes w from chanName (and, if labels is non-empty, only from
// those labels' subsets — leaving its plain channel membership and other
// labels intact).
func (s *Socket) detach(w *wire.Wire, chanName string, labels []string) {
	defer s.publishChannels()

	wireAttach := s.attachments[w.ID()]

	if len(labels) == 0 {
		delete(s.chans[chanName], w.ID())
		if len(s.chans[chanName]) == 0 {
			delete(s.chans, chanName)
		}
		if byLabel, ok := s.labels[chanName]; ok {
			for label, set := range byLabel {
				delete(set, w.ID())
				if len(set) == 0 {
					delete(byLabel, label)
				}
			}
			if len(byLabel) == 0 {
				delete(s.labels, chanName)
			}
		}
		if wireAttach != nil {
			delete(wireAttach, chanName)
		}
		return
	}
	byLabel, ok := s.labels[chanName]
	if !ok {
		return
	}
	for _, label := range labels {
		set := byLabel[label]
		delete(set, w.ID())
		if len(set) == 0 {
			delete(byLabel, label)
		}
		if wireAttach != nil && wireAttach[chanName] != nil {
			delete(wireAttach[chanName], label)
		}
	}
	if len(byLabel) == 0 {
		delete(s.labels, chanName)
	}
}

// sweepWire removes every trace of id from the registry and every index —
// channel membership, label membership, bind registry — and finally invokes
// hook.Remove. Runs on the reactor goroutine only (spec.md P1: "a wire that
// disconnects is removed from every channel/label it was attached to").
func (s *Socket) sweepWire(id msg.ID) {
	w, ok := s.wires[id]
	if !ok {
		return
	}
	defer s.publishChannels()
	delete(s.wires, id)

	for chanName := range s.attachments[id] {
		delete(s.chans[chanName], id)
		if len(s.chans[chanName]) == 0 {
			delete(s.chans, chanName)
		}
		if byLabel, ok := s.labels[chanName]; ok {
			for label, set := range byLabel {
				delete(set, id)
				if len(set) == 0 {
					delete(byLabel, label)
				}
			}
			if len(byLabel) == 0 {
				delete(s.labels, chanName)
			}
		}
	}
	delete(s.attachments, id)

	for chanName, subs := range s.binds {
		delete(subs, id)
		if len(subs) == 0 {
			delete(s.binds, chanName)
		}
	}

	w.Close()
	s.hook.Remove(w)
}

// subscribersFor returns the id set for chanName filtered by labels: when
// labels is empty, every plain subscriber of chanName; otherwise the union
// of chanName's per-label subscriber sets for the requested labels
// (spec.md §4.C: "LABEL narrows the recipient set to wires attached with at
// least one of the given labels").
func (s *Socket) subscribersFor(chanName string, labels []string) map[msg.ID]struct{} {
	if len(labels) == 0 {
		return s.chans[chanName]
	}
	byLabel := s.labels[chanName]
	if byLabel == nil {
		return nil
	}
	out := make(map[msg.ID]struct{})
	for _, label := range labels {
		for id := range byLabel[label] {
			out[id] = struct{}{}
		}
	}
	return out
}

// sortedSubscriberIDs returns subscribersFor's keys in a stable order, the
// basis for SHARE's deterministic round-robin cursor.
func sortedSubscriberIDs(subs map[msg.ID]struct{}) []msg.ID {
	ids := make([]msg.ID, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1].String() > ids[j].String(); j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}
