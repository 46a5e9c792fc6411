package placement

import (
	"encoding/json"

	"github.com/annel0/shard-engine/internal/vec"
)

// Kind - тип объекта на карте
type Kind string

const (
	KindCity    Kind = "city"
	KindTown    Kind = "town"
	KindVillage Kind = "village"
	KindPort    Kind = "port"
	KindPOI     Kind = "poi"
)

// Теги портов
const (
	TagOceanCoast = "ocean_coast"
	TagRiverMouth = "river_mouth"
)

// Site - выбранный тайл объекта с его оценкой
type Site struct {
	Kind  Kind
	Pos   vec.Vec2
	Score float64
	Tags  []string
}

// HasTag проверяет наличие тега
func (s Site) HasTag(tag string) bool {
	for _, t := range s.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

type siteJSON struct {
	Type  Kind     `json:"type"`
	X     int      `json:"x"`
	Y     int      `json:"y"`
	Score float64  `json:"score"`
	Tags  []string `json:"tags,omitempty"`
}

func (s Site) MarshalJSON() ([]byte, error) {
	return json.Marshal(siteJSON{Type: s.Kind, X: s.Pos.X, Y: s.Pos.Y, Score: roundScore(s.Score), Tags: s.Tags})
}

func (s *Site) UnmarshalJSON(data []byte) error {
	var sj siteJSON
	if err := json.Unmarshal(data, &sj); err != nil {
		return err
	}
	*s = Site{Kind: sj.Type, Pos: vec.Vec2{X: sj.X, Y: sj.Y}, Score: sj.Score, Tags: sj.Tags}
	return nil
}

// roundScore обрезает оценку до 4 знаков, чтобы документ был компактным
func roundScore(v float64) float64 {
	const k = 10000
	if v < 0 {
		return -float64(int64(-v*k+0.5)) / k
	}
	return float64(int64(v*k+0.5)) / k
}
