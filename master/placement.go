package master

import (
	"sort"

	"gfscore/apis"
)

// selectReplicas implements spec §4.1's placement algorithm: choose n
// distinct alive chunkservers such that (a) no two share a rack if at least
// n racks are available, and (b) among equally-eligible candidates, prefer
// those with the fewest chunks currently assigned, tie-broken deterministically
// by chunkserver id. exclude lists servers that must not be chosen (e.g. a
// chunk's existing replicas, during re-replication).
//
// Must be called with m.mu held.
func (m *Master) selectReplicas(n int, exclude map[apis.ServerID]bool) ([]apis.ServerID, error) {
	type candidate struct {
		id       apis.ServerID
		rack     string
		numChunks int
	}
	var candidates []candidate
	for id, rec := range m.servers {
		if !rec.Alive || exclude[id] {
			continue
		}
		candidates = append(candidates, candidate{id: id, rack: rec.RackID, numChunks: len(rec.Chunks)})
	}
	if len(candidates) == 0 {
		return nil, apis.ErrNoReplicas
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].numChunks != candidates[j].numChunks {
			return candidates[i].numChunks < candidates[j].numChunks
		}
		return candidates[i].id < candidates[j].id
	})

	racks := map[string]bool{}
	for _, c := range candidates {
		racks[c.rack] = true
	}
	enforceRackDiversity := len(racks) >= n

	var chosen []apis.ServerID
	usedRacks := map[string]bool{}
	for _, c := range candidates {
		if len(chosen) >= n {
			break
		}
		if enforceRackDiversity && usedRacks[c.rack] {
			continue
		}
		chosen = append(chosen, c.id)
		usedRacks[c.rack] = true
	}
	// If rack diversity left us short (shouldn't happen given the
	// len(racks) >= n guard, but guards against a mid-scan liveness change),
	// fill remaining slots ignoring rack constraints.
	if len(chosen) < n {
		already := map[apis.ServerID]bool{}
		for _, id := range chosen {
			already[id] = true
		}
		for _, c := range candidates {
			if len(chosen) >= n {
				break
			}
			if already[c.id] {
				continue
			}
			chosen = append(chosen, c.id)
		}
	}
	if len(chosen) == 0 {
		return nil, apis.ErrNoReplicas
	}
	return chosen, nil
}
