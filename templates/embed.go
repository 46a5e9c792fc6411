// Package templates содержит встроенный каталог шаблонов тиров,
// биом-паков и таблиц POI.
package templates

import "embed"

// FS - корень каталога: catalog.json, tiers/, biomes/, poi/
//
//go:embed catalog.json tiers biomes poi
var FS embed.FS
