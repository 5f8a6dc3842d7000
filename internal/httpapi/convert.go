package httpapi

import (
	"github.com/wbh-rtls/rtls-core/internal/model"
	"github.com/wbh-rtls/rtls-core/internal/store"
)

// The read routes answer in the shared model.* vocabulary (spec §3) rather
// than in internal/store's row shapes directly, so storage and wire
// representations can drift independently.

func anchorsToModel(rows []store.AnchorFull) []model.Anchor {
	out := make([]model.Anchor, len(rows))
	for i, a := range rows {
		out[i] = model.Anchor{
			ID:        a.ID,
			Name:      a.Name,
			X:         a.X,
			Y:         a.Y,
			Z:         a.Z,
			CreatedAt: a.CreatedAt,
		}
	}
	return out
}

func wearablesToModel(rows []store.WearableFull) []model.Wearable {
	out := make([]model.Wearable, len(rows))
	for i, w := range rows {
		out[i] = model.Wearable{
			UID:       w.UID,
			PersonRef: w.PersonRef,
			Role:      w.Role,
			CreatedAt: w.CreatedAt,
		}
	}
	return out
}

func positionsToModel(rows []store.PositionRow) []model.Position {
	out := make([]model.Position, len(rows))
	for i, p := range rows {
		out[i] = model.Position{
			ID:              p.ID,
			TS:              p.TS,
			UID:             p.UID,
			X:               p.X,
			Y:               p.Y,
			Z:               p.Z,
			Method:          model.Method(p.Method),
			QScore:          p.QScore,
			Zone:            p.Zone,
			NearestAnchorID: p.NearestAnchorID,
			DistM:           p.DistM,
			NumAnchors:      p.NumAnchors,
			Dists:           p.Dists(),
		}
	}
	return out
}

func anchorStatusesToModel(rows []store.AnchorStatusRow) []model.AnchorStatus {
	out := make([]model.AnchorStatus, len(rows))
	for i, a := range rows {
		out[i] = model.AnchorStatus{
			TS:            a.TS,
			AnchorID:      a.AnchorID,
			IP:            a.IP,
			FW:            a.FW,
			UptimeS:       a.UptimeS,
			WifiRSSI:      a.WifiRSSI,
			HeapFree:      a.HeapFree,
			HeapMin:       a.HeapMin,
			ChipTempC:     a.ChipTempC,
			TxPowerDBM:    a.TxPowerDBM,
			BLEScanActive: a.BLEScanActive,
		}
	}
	return out
}
