package rewards

import "licensestake/core/types"

// History retains the most recent epoch settlements.
type History struct {
	limit   uint64
	records []types.EpochSettlement
}

// NewHistory returns a history keeping at most limit records. A zero limit
// keeps every record.
func NewHistory(limit uint64) *History {
	return &History{limit: limit}
}

// Append adds a settlement, evicting the oldest record once the limit is
// reached. Records already appended are never modified in place.
func (h *History) Append(record types.EpochSettlement) {
	h.records = append(h.records, record.Clone())
	if h.limit > 0 && uint64(len(h.records)) > h.limit {
		h.records = h.records[uint64(len(h.records))-h.limit:]
	}
}

// Records returns copies of the retained settlements, oldest first.
func (h *History) Records() []types.EpochSettlement {
	out := make([]types.EpochSettlement, len(h.records))
	for i := range h.records {
		out[i] = h.records[i].Clone()
	}
	return out
}

// Latest returns the most recent settlement.
func (h *History) Latest() (types.EpochSettlement, bool) {
	if len(h.records) == 0 {
		return types.EpochSettlement{}, false
	}
	return h.records[len(h.records)-1].Clone(), true
}

// Get returns the settlement for epoch when it is still retained.
func (h *History) Get(epoch uint64) (types.EpochSettlement, bool) {
	for i := len(h.records) - 1; i >= 0; i-- {
		if h.records[i].Epoch == epoch {
			return h.records[i].Clone(), true
		}
		if h.records[i].Epoch < epoch {
			break
		}
	}
	return types.EpochSettlement{}, false
}

// Mark captures the current contents for a later Reset.
func (h *History) Mark() HistoryMark {
	return HistoryMark{records: h.records}
}

// Reset restores the contents captured by mark.
func (h *History) Reset(mark HistoryMark) {
	h.records = mark.records
}

// HistoryMark is an opaque snapshot of a History.
type HistoryMark struct {
	records []types.EpochSettlement
}

// LoadHistory rebuilds a history from persisted records.
func LoadHistory(limit uint64, records []types.EpochSettlement) *History {
	h := NewHistory(limit)
	for _, record := range records {
		h.Append(record)
	}
	return h
}
