package helper

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"MachineMap-App/internal/domain/model"
)

func poiAt(id string, lat, lng float64) model.POI {
	return model.POI{ID: id, Name: id, Location: model.NewPointGeometry(lat, lng)}
}

func TestDedupeByID(t *testing.T) {
	first := poiAt("a", 35.0, 139.0)
	updated := poiAt("a", 35.0, 139.0)
	updated.Status = "updated"

	result := DedupeByID([]model.POI{first, poiAt("b", 35.1, 139.1), updated})

	assert.Len(t, result, 2)
	assert.Equal(t, "a", result[0].ID)
	assert.Equal(t, "updated", result[0].Status)
	assert.Equal(t, "b", result[1].ID)
	assert.False(t, HasDuplicateIDs(result))
}

func TestFilterInBounds(t *testing.T) {
	bounds := model.BoundingBox{MinLat: 35.0, MaxLat: 35.01, MinLng: 139.0, MaxLng: 139.01}
	noLocation := model.POI{ID: "none"}

	result := FilterInBounds([]model.POI{
		poiAt("in", 35.005, 139.005),
		poiAt("out", 35.02, 139.005),
		noLocation,
	}, bounds)

	assert.Len(t, result, 1)
	assert.Equal(t, "in", result[0].ID)
}

func TestSelectVisible(t *testing.T) {
	bounds := model.BoundingBox{MinLat: 35.0, MaxLat: 35.01, MinLng: 139.0, MaxLng: 139.01}
	tiles := []*model.CachedTile{
		{Points: []model.POI{poiAt("a", 35.001, 139.001), poiAt("edge", 35.011, 139.001)}},
		nil,
		{Points: []model.POI{poiAt("a", 35.001, 139.001), poiAt("b", 35.009, 139.009)}},
	}

	result := SelectVisible(tiles, bounds)

	assert.Len(t, result, 2)
	assert.False(t, HasDuplicateIDs(result))
	assert.Empty(t, SelectVisible(nil, bounds))
}
