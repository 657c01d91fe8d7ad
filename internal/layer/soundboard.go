package layer

import "github.com/MomoPewpew/Orpheus/internal/model"

// NewSoundboardLayer synthesizes the single-sound, non-looping Layer spec
// §4.4 describes for a soundboard play request: weight 0 (never competes
// for an environment's weight budget), chance 1 (always eligible), SINGLE
// mode (no shuffling), one sound at full volume.
func NewSoundboardLayer(id, fileID string) model.Layer {
	return model.Layer{
		ID:                 id,
		Name:               id,
		Chance:             1,
		Weight:             0,
		Volume:             1,
		Mode:               model.ModeSingle,
		SelectedSoundIndex: 0,
		Sounds: []model.LayerSound{
			{ID: id + "_sound", FileID: fileID, Frequency: 1, Volume: 1},
		},
	}
}
