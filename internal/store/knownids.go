package store

import "context"

// LoadKnownAnchorIDs returns every anchor id currently registered.
func (s *Store) LoadKnownAnchorIDs(ctx context.Context) (map[string]struct{}, error) {
	var ids []string
	if err := s.DB.SelectContext(ctx, &ids, "SELECT id FROM anchors"); err != nil {
		return nil, err
	}
	return toSet(ids), nil
}

// LoadKnownWearableUIDs returns every wearable uid currently registered.
func (s *Store) LoadKnownWearableUIDs(ctx context.Context) (map[string]struct{}, error) {
	var uids []string
	if err := s.DB.SelectContext(ctx, &uids, "SELECT uid FROM wearables"); err != nil {
		return nil, err
	}
	return toSet(uids), nil
}

func toSet(vals []string) map[string]struct{} {
	set := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		set[v] = struct{}{}
	}
	return set
}
