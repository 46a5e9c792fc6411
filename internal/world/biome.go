package world

import (
	"encoding/json"
	"fmt"
)

// Biome - закрытый словарь меток тайлов шарда
type Biome uint8

const (
	BiomeOcean Biome = iota
	BiomeCoast
	BiomeBeach
	BiomeCliffs
	BiomePlains
	BiomeForest
	BiomeHills
	BiomeMountains
	BiomeMarshLite

	biomeCount // всегда последний
)

var biomeNames = [biomeCount]string{
	BiomeOcean:     "ocean",
	BiomeCoast:     "coast",
	BiomeBeach:     "beach",
	BiomeCliffs:    "cliffs",
	BiomePlains:    "plains",
	BiomeForest:    "forest",
	BiomeHills:     "hills",
	BiomeMountains: "mountains",
	BiomeMarshLite: "marsh-lite",
}

// String возвращает строковую метку биома
func (b Biome) String() string {
	if b < biomeCount {
		return biomeNames[b]
	}
	return "unknown"
}

// IsCoast сообщает, относится ли биом к прибрежному набору
func (b Biome) IsCoast() bool {
	return b == BiomeCoast || b == BiomeBeach || b == BiomeCliffs
}

// IsLand - любой не-океанский тайл
func (b Biome) IsLand() bool {
	return b != BiomeOcean
}

// IsInterior - суша вне прибрежного пояса
func (b Biome) IsInterior() bool {
	return b.IsLand() && !b.IsCoast()
}

// ParseBiome разбирает метку биома
func ParseBiome(s string) (Biome, error) {
	for i, name := range biomeNames {
		if name == s {
			return Biome(i), nil
		}
	}
	return 0, fmt.Errorf("unknown biome %q", s)
}

// AllBiomes возвращает весь словарь по порядку
func AllBiomes() []Biome {
	out := make([]Biome, 0, biomeCount)
	for b := Biome(0); b < biomeCount; b++ {
		out = append(out, b)
	}
	return out
}

func (b Biome) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *Biome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseBiome(s)
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}
