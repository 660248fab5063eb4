package store

import (
	"encoding/json"

	"gorm.io/datatypes"
)

// The per-device maps are stored as JSONB. These helpers keep the
// encode/decode boilerplate in one place; a corrupted or empty column decodes
// to an empty map rather than failing the read.

func EncodeStringMap(m map[string]string) datatypes.JSON {
	if m == nil {
		m = map[string]string{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(b)
}

func DecodeStringMap(raw datatypes.JSON) map[string]string {
	out := map[string]string{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]string{}
	}
	return out
}

func EncodeFloatMap(m map[string]float64) datatypes.JSON {
	if m == nil {
		m = map[string]float64{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return datatypes.JSON(`{}`)
	}
	return datatypes.JSON(b)
}

func DecodeFloatMap(raw datatypes.JSON) map[string]float64 {
	out := map[string]float64{}
	if len(raw) == 0 {
		return out
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]float64{}
	}
	return out
}
