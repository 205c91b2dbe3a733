package tower

import (
	"fmt"
	"strings"
)

// Defaults used when neither the tower nor the caller supplies a value.
// Historical quote names were generated with these; changing them changes
// every backfilled name.
const (
	DefaultAnchorCarrier       = "CMAI"
	DefaultRetention     int64 = 25_000
)

// Namer derives attachments and option names. The zero value is not usable;
// use NewNamer.
type Namer struct {
	anchor           string
	defaultRetention int64
}

// NamerOption configures a Namer.
type NamerOption func(*Namer)

// WithAnchorCarrier overrides the carrier whose layer a name describes.
func WithAnchorCarrier(carrier string) NamerOption {
	return func(n *Namer) {
		if c := strings.TrimSpace(carrier); c != "" {
			n.anchor = c
		}
	}
}

// WithDefaultRetention overrides the final retention fallback.
func WithDefaultRetention(retention int64) NamerOption {
	return func(n *Namer) {
		if retention > 0 {
			n.defaultRetention = retention
		}
	}
}

// NewNamer returns a Namer with the package defaults, adjusted by opts.
func NewNamer(opts ...NamerOption) *Namer {
	n := &Namer{anchor: DefaultAnchorCarrier, defaultRetention: DefaultRetention}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

var defaultNamer = NewNamer()

// AnchorCarrier returns the configured anchor carrier.
func (n *Namer) AnchorCarrier() string { return n.anchor }

// GenerateOptionName names a tower with the package defaults.
func GenerateOptionName(layers []Layer, position Position, primaryRetention int64) (string, error) {
	return defaultNamer.Name(layers, position, primaryRetention)
}

// ResolveRetention applies the retention precedence with the package defaults.
func ResolveRetention(layers []Layer, primaryRetention int64) int64 {
	return defaultNamer.Retention(layers, primaryRetention)
}

// Retention returns the retention a name is rendered with: the first layer
// carrying its own retention, else primaryRetention, else the default.
func (n *Namer) Retention(layers []Layer, primaryRetention int64) int64 {
	for _, l := range layers {
		if l.Retention > 0 {
			return l.Retention
		}
	}
	if primaryRetention > 0 {
		return primaryRetention
	}
	return n.defaultRetention
}

// Name renders the canonical option name:
//
//	primary: "$1M x $25K", "$5M po $10M x $25K"
//	excess:  "$6M xs $1M x $25K", "$5M po $10M xs $5M x $25K"
//
// The result depends only on its inputs, so stored names can be compared
// against a fresh Name to detect drift.
func (n *Namer) Name(layers []Layer, position Position, primaryRetention int64) (string, error) {
	gs, err := groups(layers)
	if err != nil {
		return "", err
	}

	idx := n.QuotedLayer(layers, position)
	l := layers[idx]

	var b strings.Builder
	b.WriteString(FormatAmount(l.Limit))
	if l.InQuotaShare() {
		b.WriteString(" po ")
		b.WriteString(FormatAmount(groupOf(gs, idx).size))
	}
	if position == PositionExcess {
		attach, err := n.Attachment(layers, idx)
		if err != nil {
			return "", err
		}
		b.WriteString(" xs ")
		b.WriteString(FormatAmount(attach))
	}
	b.WriteString(" x ")
	b.WriteString(FormatAmount(n.Retention(layers, primaryRetention)))
	return b.String(), nil
}

// QuotedLayer returns the index of the layer a name describes.
//
// Primary quotes describe the anchor layer, or the first layer when no
// anchor is present. Excess quotes describe the anchor layer when it sits
// excess (no retention of its own); when the anchor is the primary layer, or
// absent, they describe the first layer above the primary.
func (n *Namer) QuotedLayer(layers []Layer, position Position) int {
	anchor := -1
	for i, l := range layers {
		if n.isAnchor(l) {
			anchor = i
			break
		}
	}

	if position != PositionExcess {
		if anchor < 0 {
			return 0
		}
		return anchor
	}

	if anchor >= 0 && layers[anchor].Retention == 0 {
		return anchor
	}
	for i, l := range layers {
		if l.Retention == 0 {
			return i
		}
	}
	if anchor >= 0 {
		return anchor
	}
	return 0
}

func (n *Namer) isAnchor(l Layer) bool {
	return strings.EqualFold(strings.TrimSpace(l.Carrier), n.anchor)
}

// FormatAmount renders a dollar amount compactly: whole or tenth millions as
// "$NM" / "$N.NM", whole thousands as "$NK", anything else in full.
func FormatAmount(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	switch {
	case v == 0:
		return "$0"
	case v >= 1_000_000 && v%100_000 == 0:
		whole, tenths := v/1_000_000, (v%1_000_000)/100_000
		if tenths == 0 {
			return fmt.Sprintf("%s$%dM", sign, whole)
		}
		return fmt.Sprintf("%s$%d.%dM", sign, whole, tenths)
	case v%1_000 == 0:
		return fmt.Sprintf("%s$%dK", sign, v/1_000)
	default:
		return fmt.Sprintf("%s$%d", sign, v)
	}
}
