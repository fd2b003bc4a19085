package memmgr

import "sync/atomic"

// ReferenceDataSrcClientsManager is a minimal DataSrcClientsManager: it
// assigns each accepted configuration the next generation id and reads
// the caching-enabled map straight out of params, with no actual client
// construction. A real manager builds and pools data source clients;
// that work is out of scope for memmgrd.
type ReferenceDataSrcClientsManager struct {
	next atomic.Int64
}

// NewReferenceDataSrcClientsManager returns a manager whose first
// generation id is 1.
func NewReferenceDataSrcClientsManager() *ReferenceDataSrcClientsManager {
	m := &ReferenceDataSrcClientsManager{}
	m.next.Store(1)
	return m
}

func (m *ReferenceDataSrcClientsManager) Reconfigure(params map[string]any) (Generation, DatasrcClassConfig, error) {
	classes := make(DatasrcClassConfig)

	raw, _ := params["classes"].(map[string]any)
	for class, v := range raw {
		datasrcs, _ := v.(map[string]any)
		names := make(map[string]bool, len(datasrcs))
		for name, cachingRaw := range datasrcs {
			caching, _ := cachingRaw.(bool)
			names[name] = caching
		}
		classes[class] = names
	}

	generation := Generation(m.next.Add(1) - 1)
	return generation, classes, nil
}
