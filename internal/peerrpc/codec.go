package peerrpc

import (
	"time"

	"dhtnode/internal/domain"
)

func toWireNode(n domain.NodeRef) NodeRefWire {
	return NodeRefWire{ID: n.ID.String(), Addr: n.Addr}
}

func fromWireNode(sp domain.Space, w NodeRefWire) (domain.NodeRef, error) {
	id, err := sp.FromHexString(w.ID)
	if err != nil {
		return domain.NodeRef{}, err
	}
	return domain.NodeRef{ID: id, Addr: w.Addr}, nil
}

func toWireNodes(ns []domain.NodeRef) []NodeRefWire {
	out := make([]NodeRefWire, len(ns))
	for i, n := range ns {
		out[i] = toWireNode(n)
	}
	return out
}

func toWireRecord(r domain.StoredRecord) RecordWire {
	return RecordWire{
		Key:      r.Key.String(),
		RawKey:   r.RawKey,
		Value:    r.Value,
		TTLMs:    r.TTL.Milliseconds(),
		StoredAt: r.StoredAt.UnixMilli(),
	}
}

func fromWireRecord(sp domain.Space, w RecordWire) (domain.StoredRecord, error) {
	key, err := sp.FromHexString(w.Key)
	if err != nil {
		return domain.StoredRecord{}, err
	}
	return domain.StoredRecord{
		Key:      key,
		RawKey:   w.RawKey,
		Value:    w.Value,
		TTL:      time.Duration(w.TTLMs) * time.Millisecond,
		StoredAt: time.UnixMilli(w.StoredAt),
	}, nil
}

func toWireRecords(rs []domain.StoredRecord) []RecordWire {
	out := make([]RecordWire, len(rs))
	for i, r := range rs {
		out[i] = toWireRecord(r)
	}
	return out
}
