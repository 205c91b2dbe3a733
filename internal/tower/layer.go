// Package tower models an insurance tower as an ordered list of layers and
// derives attachment points and canonical quote option names from it.
package tower

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Position is where the quoted layer sits in the tower.
type Position string

const (
	PositionPrimary Position = "primary"
	PositionExcess  Position = "excess"
)

// ParsePosition accepts "primary" or "excess" in any case. Empty means primary.
func ParsePosition(s string) (Position, error) {
	switch Position(strings.ToLower(strings.TrimSpace(s))) {
	case "", PositionPrimary:
		return PositionPrimary, nil
	case PositionExcess:
		return PositionExcess, nil
	default:
		return "", eris.Errorf("tower: unknown position %q", s)
	}
}

// Layer is one band of coverage. QuotaShare is the full notional size of the
// layer when several carriers share it; consecutive layers with the same
// QuotaShare form one group. Retention is only set on the primary layer.
// Zero means unset for both.
type Layer struct {
	Limit      int64  `json:"limit"`
	Retention  int64  `json:"retention,omitempty"`
	Carrier    string `json:"carrier,omitempty"`
	QuotaShare int64  `json:"quota_share,omitempty"`
}

// InQuotaShare reports whether the layer is a quota-share member.
func (l Layer) InQuotaShare() bool { return l.QuotaShare > 0 }

// UnmarshalJSON accepts amounts as JSON numbers (including integral floats
// like 1000000.0), numeric strings, or null.
func (l *Layer) UnmarshalJSON(data []byte) error {
	var raw struct {
		Limit      json.RawMessage `json:"limit"`
		Retention  json.RawMessage `json:"retention"`
		Carrier    *string         `json:"carrier"`
		QuotaShare json.RawMessage `json:"quota_share"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var out Layer
	var err error
	if out.Limit, err = parseAmount("limit", raw.Limit); err != nil {
		return err
	}
	if out.Retention, err = parseAmount("retention", raw.Retention); err != nil {
		return err
	}
	if out.QuotaShare, err = parseAmount("quota_share", raw.QuotaShare); err != nil {
		return err
	}
	if raw.Carrier != nil {
		out.Carrier = strings.TrimSpace(*raw.Carrier)
	}
	*l = out
	return nil
}

func parseAmount(field string, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}

	text := string(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%s: %w", field, err)
		}
		text = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if text == "" {
			return 0, nil
		}
	}

	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64/2 {
		return 0, fmt.Errorf("%s: %q is not a whole dollar amount", field, text)
	}
	return int64(f), nil
}

// ParseTower decodes the tower JSON shape: an ordered array of
// {limit, retention?, carrier?, quota_share?} objects.
func ParseTower(data []byte) ([]Layer, error) {
	var layers []Layer
	if err := json.Unmarshal(data, &layers); err != nil {
		return nil, eris.Wrap(err, "tower: decode tower json")
	}
	if len(layers) == 0 {
		return nil, &InvalidTowerStructureError{Index: -1, Reason: "tower has no layers"}
	}
	return layers, nil
}

// MarshalTower encodes layers in the tower JSON shape.
func MarshalTower(layers []Layer) ([]byte, error) {
	if layers == nil {
		layers = []Layer{}
	}
	data, err := json.Marshal(layers)
	if err != nil {
		return nil, eris.Wrap(err, "tower: encode tower json")
	}
	return data, nil
}

// InvalidTowerStructureError reports a malformed layer sequence. Index is
// the offending layer, or -1 for whole-tower problems.
type InvalidTowerStructureError struct {
	Index  int
	Reason string
}

func (e *InvalidTowerStructureError) Error() string {
	if e.Index < 0 {
		return "tower: invalid structure: " + e.Reason
	}
	return fmt.Sprintf("tower: invalid structure at layer %d: %s", e.Index, e.Reason)
}

// group is a run of layers responding at one attachment point: a single
// layer, or a contiguous quota-share group.
type group struct {
	start, end int // inclusive
	size       int64
}

// Validate checks that layers form a well-shaped tower: at least one layer,
// positive limits, non-negative retentions and contiguous quota-share groups.
// A group counts at its notional size whatever its members' limits add up
// to, so historical towers with over-subscribed groups still name.
func Validate(layers []Layer) error {
	_, err := groups(layers)
	return err
}

func groups(layers []Layer) ([]group, error) {
	if len(layers) == 0 {
		return nil, &InvalidTowerStructureError{Index: -1, Reason: "tower has no layers"}
	}

	var out []group
	seen := make(map[int64]int) // quota share -> first layer of its group
	for i, l := range layers {
		switch {
		case l.Limit <= 0:
			return nil, &InvalidTowerStructureError{Index: i, Reason: fmt.Sprintf("limit must be positive, got %d", l.Limit)}
		case l.Retention < 0:
			return nil, &InvalidTowerStructureError{Index: i, Reason: fmt.Sprintf("retention must not be negative, got %d", l.Retention)}
		case l.QuotaShare < 0:
			return nil, &InvalidTowerStructureError{Index: i, Reason: fmt.Sprintf("quota_share must not be negative, got %d", l.QuotaShare)}
		}

		if !l.InQuotaShare() {
			out = append(out, group{start: i, end: i, size: l.Limit})
			continue
		}

		if n := len(out); n > 0 && out[n-1].end == i-1 && layers[i-1].QuotaShare == l.QuotaShare {
			out[n-1].end = i
			continue
		}
		if start, ok := seen[l.QuotaShare]; ok {
			return nil, &InvalidTowerStructureError{
				Index:  i,
				Reason: fmt.Sprintf("quota share %d is not contiguous with its group at layer %d", l.QuotaShare, start),
			}
		}
		seen[l.QuotaShare] = i
		out = append(out, group{start: i, end: i, size: l.QuotaShare})
	}

	return out, nil
}
