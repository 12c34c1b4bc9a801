package model

// EventIndex holds the reverse indices built during finalization for
// downstream analysis.
type EventIndex struct {
	// FlowEventsByID groups flow events sharing an id, in model order.
	FlowEventsByID map[string][]*FlowEvent
	// SamplesByFrameID groups samples by their leaf frame's id.
	SamplesByFrameID map[string][]*Sample
}

// BuildEventIndices rebuilds the model's event indices from scratch.
func (m *Model) BuildEventIndices() {
	idx := &EventIndex{
		FlowEventsByID:   make(map[string][]*FlowEvent),
		SamplesByFrameID: make(map[string][]*Sample),
	}
	for _, f := range m.FlowEvents {
		idx.FlowEventsByID[f.ID] = append(idx.FlowEventsByID[f.ID], f)
	}
	for _, s := range m.Samples {
		if s.LeafFrame != nil {
			idx.SamplesByFrameID[s.LeafFrame.ID] = append(idx.SamplesByFrameID[s.LeafFrame.ID], s)
		}
	}
	m.Index = idx
}
