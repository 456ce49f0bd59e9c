package persistence

import (
	"github.com/bytedance/sonic"

	"github.com/petrijr/chatflow/pkg/api"
)

// Snapshots are stored as JSON so that every backend holds the same bytes
// and variables survive a round trip as plain JSON values.
var snapshotAPI = sonic.ConfigStd

// EncodeExecution serializes an execution snapshot.
func EncodeExecution(exec *api.FlowExecution) ([]byte, error) {
	return snapshotAPI.Marshal(exec)
}

// DecodeExecution restores a snapshot written by EncodeExecution.
func DecodeExecution(data []byte) (*api.FlowExecution, error) {
	var exec api.FlowExecution
	if err := snapshotAPI.Unmarshal(data, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// EncodeGraph serializes a graph definition.
func EncodeGraph(graph api.GraphDefinition) ([]byte, error) {
	return snapshotAPI.Marshal(graph)
}

// DecodeGraph restores a graph written by EncodeGraph.
func DecodeGraph(data []byte) (api.GraphDefinition, error) {
	var graph api.GraphDefinition
	err := snapshotAPI.Unmarshal(data, &graph)
	return graph, err
}

// EncodeEvent serializes a progress event.
func EncodeEvent(ev api.Event) ([]byte, error) {
	return snapshotAPI.Marshal(ev)
}

// DecodeEvent restores an event written by EncodeEvent.
func DecodeEvent(data []byte) (api.Event, error) {
	var ev api.Event
	err := snapshotAPI.Unmarshal(data, &ev)
	return ev, err
}
