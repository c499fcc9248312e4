package graph

import (
	"sort"
)

// AnalysisResult contains the results of connectivity analysis
type AnalysisResult struct {
	// ConnectedComponents groups element ids linked by connections in either
	// direction, each group in insertion order
	ConnectedComponents [][]string `json:"connected_components"`
	// DisconnectedElements have no connections at all
	DisconnectedElements []string `json:"disconnected_elements"`
	// UnconnectedInputs are input pins reading their default every tick
	UnconnectedInputs []PinRef `json:"unconnected_inputs"`
	// UnusedOutputs are output pins nothing reads directly
	UnusedOutputs    []PinRef `json:"unused_outputs"`
	ValidationStatus string   `json:"validation_status"`
}

// Analyze performs connectivity analysis. Unconnected pins are normal in a
// dataflow graph, so only fully disconnected elements produce "warnings".
func (g *Graph) Analyze() *AnalysisResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	result := &AnalysisResult{
		ConnectedComponents:  [][]string{},
		DisconnectedElements: []string{},
		UnconnectedInputs:    []PinRef{},
		UnusedOutputs:        []PinRef{},
		ValidationStatus:     "healthy",
	}

	adj := make(map[string][]string)
	connectedPins := make(map[PinRef]bool)
	for _, c := range g.connections {
		adj[c.From.Element] = append(adj[c.From.Element], c.To.Element)
		adj[c.To.Element] = append(adj[c.To.Element], c.From.Element)
		connectedPins[c.From] = true
		connectedPins[c.To] = true
	}

	rank := make(map[string]int, len(g.ids))
	for i, id := range g.ids {
		rank[id] = i
	}

	visited := make(map[string]bool)
	for _, id := range g.ids {
		if visited[id] {
			continue
		}
		var cluster []string
		dfs(id, adj, visited, &cluster)
		sort.Slice(cluster, func(i, j int) bool { return rank[cluster[i]] < rank[cluster[j]] })
		result.ConnectedComponents = append(result.ConnectedComponents, cluster)

		if len(adj[id]) == 0 {
			result.DisconnectedElements = append(result.DisconnectedElements, id)
		}
	}

	for _, id := range g.ids {
		e := g.nodes[id]
		for _, p := range e.Inputs() {
			ref := PinRef{Element: id, Pin: p.Name()}
			if !connectedPins[ref] && p.Source() == nil {
				result.UnconnectedInputs = append(result.UnconnectedInputs, ref)
			}
		}
		for _, p := range e.Outputs() {
			ref := PinRef{Element: id, Pin: p.Name()}
			if !connectedPins[ref] {
				result.UnusedOutputs = append(result.UnusedOutputs, ref)
			}
		}
	}

	if len(g.ids) > 1 && len(result.DisconnectedElements) > 0 {
		result.ValidationStatus = "warnings"
	}
	return result
}

func dfs(node string, adj map[string][]string, visited map[string]bool, cluster *[]string) {
	visited[node] = true
	*cluster = append(*cluster, node)
	for _, neighbor := range adj[node] {
		if !visited[neighbor] {
			dfs(neighbor, adj, visited, cluster)
		}
	}
}
