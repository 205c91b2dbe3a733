package tower

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateOptionName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		layers    []Layer
		position  Position
		retention int64
		want      string
	}{
		{
			name:     "single primary",
			layers:   []Layer{{Limit: 1_000_000, Retention: 25_000, Carrier: "CMAI"}},
			position: PositionPrimary, retention: 25_000,
			want: "$1M x $25K",
		},
		{
			name: "excess over primary",
			layers: []Layer{
				{Limit: 1_000_000, Retention: 25_000, Carrier: "CMAI"},
				{Limit: 6_000_000, Carrier: "X"},
			},
			position: PositionExcess, retention: 25_000,
			want: "$6M xs $1M x $25K",
		},
		{
			name: "anchor in excess quota share",
			layers: []Layer{
				{Limit: 5_000_000, Retention: 25_000, Carrier: "X"},
				{Limit: 5_000_000, QuotaShare: 10_000_000, Carrier: "CMAI"},
				{Limit: 5_000_000, QuotaShare: 10_000_000, Carrier: "Y"},
			},
			position: PositionExcess,
			want:     "$5M po $10M xs $5M x $25K",
		},
		{
			name: "primary quota share",
			layers: []Layer{
				{Limit: 2_500_000, QuotaShare: 5_000_000, Retention: 50_000, Carrier: "CMAI"},
				{Limit: 2_500_000, QuotaShare: 5_000_000, Carrier: "Y"},
			},
			position: PositionPrimary,
			want:     "$2.5M po $5M x $50K",
		},
		{
			name: "anchor listed first but excess of others",
			layers: []Layer{
				{Limit: 2_000_000, Carrier: "CMAI"},
				{Limit: 1_000_000, Retention: 10_000, Carrier: "A"},
				{Limit: 5_000_000, Carrier: "B"},
			},
			position: PositionExcess,
			want:     "$2M xs $6M x $10K",
		},
		{
			name:     "no anchor primary uses first layer",
			layers:   []Layer{{Limit: 3_000_000, Carrier: "A"}, {Limit: 2_000_000, Carrier: "B"}},
			position: PositionPrimary, retention: 100_000,
			want: "$3M x $100K",
		},
		{
			name: "no anchor excess uses first layer above primary",
			layers: []Layer{
				{Limit: 1_000_000, Retention: 10_000, Carrier: "A"},
				{Limit: 4_000_000, Carrier: "B"},
			},
			position: PositionExcess,
			want:     "$4M xs $1M x $10K",
		},
		{
			name:     "layer retention wins over quote retention",
			layers:   []Layer{{Limit: 1_000_000, Retention: 10_000, Carrier: "CMAI"}},
			position: PositionPrimary, retention: 50_000,
			want: "$1M x $10K",
		},
		{
			name:     "quote retention when layer has none",
			layers:   []Layer{{Limit: 1_000_000, Carrier: "CMAI"}},
			position: PositionPrimary, retention: 50_000,
			want: "$1M x $50K",
		},
		{
			name:     "default retention",
			layers:   []Layer{{Limit: 1_000_000, Carrier: "cmai"}},
			position: PositionPrimary,
			want:     "$1M x $25K",
		},
		{
			name:     "odd amounts",
			layers:   []Layer{{Limit: 750_000, Retention: 2_500, Carrier: "CMAI"}},
			position: PositionPrimary,
			want:     "$750K x $2500",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateOptionName(tt.layers, tt.position, tt.retention)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := GenerateOptionName(tt.layers, tt.position, tt.retention)
			require.NoError(t, err)
			assert.Equal(t, got, again)
		})
	}
}

func TestGenerateOptionName_InvalidTower(t *testing.T) {
	t.Parallel()
	_, err := GenerateOptionName([]Layer{
		{Limit: 1_000_000, QuotaShare: 2_000_000},
		{Limit: 1_000_000},
		{Limit: 1_000_000, QuotaShare: 2_000_000},
	}, PositionExcess, 0)

	var structErr *InvalidTowerStructureError
	assert.True(t, errors.As(err, &structErr))
}

func TestNamer_Options(t *testing.T) {
	t.Parallel()
	n := NewNamer(WithAnchorCarrier("Beazley"), WithDefaultRetention(10_000))
	assert.Equal(t, "Beazley", n.AnchorCarrier())

	got, err := n.Name([]Layer{
		{Limit: 1_000_000, Carrier: "A"},
		{Limit: 3_000_000, Carrier: "Beazley"},
	}, PositionExcess, 0)
	require.NoError(t, err)
	assert.Equal(t, "$3M xs $1M x $10K", got)

	// Blank or non-positive options keep the defaults.
	d := NewNamer(WithAnchorCarrier("  "), WithDefaultRetention(0))
	assert.Equal(t, DefaultAnchorCarrier, d.AnchorCarrier())
	assert.Equal(t, DefaultRetention, d.Retention(nil, 0))
}

func TestResolveRetention(t *testing.T) {
	t.Parallel()
	assert.Equal(t, int64(10_000), ResolveRetention([]Layer{{Limit: 1}, {Limit: 1, Retention: 10_000}}, 50_000))
	assert.Equal(t, int64(50_000), ResolveRetention([]Layer{{Limit: 1}}, 50_000))
	assert.Equal(t, int64(25_000), ResolveRetention([]Layer{{Limit: 1}}, 0))
	assert.Equal(t, int64(25_000), ResolveRetention(nil, -5))
}

func TestFormatAmount(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   int64
		want string
	}{
		{0, "$0"},
		{500, "$500"},
		{2_500, "$2500"},
		{25_000, "$25K"},
		{250_000, "$250K"},
		{999_000, "$999K"},
		{1_000_000, "$1M"},
		{1_500_000, "$1.5M"},
		{1_250_000, "$1250K"},
		{10_000_000, "$10M"},
		{12_300_000, "$12.3M"},
		{1_000_001, "$1000001"},
		{-25_000, "-$25K"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatAmount(tt.in), "%d", tt.in)
	}
}
