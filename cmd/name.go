package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/cyber-rating/internal/tower"
)

var (
	nameFile      string
	namePosition  string
	nameRetention int64
	nameJSON      bool
)

var nameCmd = &cobra.Command{
	Use:   "name",
	Short: "Derive the quote option name and attachment points of a tower",
	Long: `Reads a tower as a JSON array of layers, e.g.

  [{"limit": 1000000, "retention": 25000, "carrier": "CMAI"},
   {"limit": 5000000, "quota_share": 10000000, "carrier": "Beazley"}]

from --file or stdin, and prints its quote name and per-layer attachments.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		data, err := readInput(cmd.InOrStdin(), nameFile)
		if err != nil {
			return err
		}
		position, err := tower.ParsePosition(namePosition)
		if err != nil {
			return err
		}
		summary, err := nameTower(newNamer(cfg), data, position, nameRetention)
		if err != nil {
			return err
		}

		if nameJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}
		formatTower(os.Stdout, summary)
		return nil
	},
}

type towerSummary struct {
	QuoteName   string        `json:"quote_name"`
	Position    string        `json:"position"`
	Retention   int64         `json:"retention"`
	TowerLimit  int64         `json:"tower_limit"`
	Layers      []tower.Layer `json:"layers"`
	Attachments []int64       `json:"attachments"`
}

func nameTower(n *tower.Namer, data []byte, position tower.Position, primaryRetention int64) (*towerSummary, error) {
	layers, err := tower.ParseTower(data)
	if err != nil {
		return nil, err
	}
	name, err := n.Name(layers, position, primaryRetention)
	if err != nil {
		return nil, err
	}
	attachments, err := n.Attachments(layers)
	if err != nil {
		return nil, err
	}
	total, err := tower.TowerLimit(layers)
	if err != nil {
		return nil, err
	}
	return &towerSummary{
		QuoteName:   name,
		Position:    string(position),
		Retention:   n.Retention(layers, primaryRetention),
		TowerLimit:  total,
		Layers:      layers,
		Attachments: attachments,
	}, nil
}

func formatTower(out io.Writer, s *towerSummary) {
	fmt.Fprintf(out, "%s\n\n", s.QuoteName)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tCARRIER\tLIMIT\tPART OF\tATTACHES AT")
	for i, l := range s.Layers {
		partOf := "-"
		if l.InQuotaShare() {
			partOf = tower.FormatAmount(l.QuotaShare)
		}
		carrier := l.Carrier
		if carrier == "" {
			carrier = "-"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, carrier, tower.FormatAmount(l.Limit), partOf, tower.FormatAmount(s.Attachments[i]))
	}
	w.Flush()
	fmt.Fprintf(out, "\nTower limit %s, retention %s\n", money(s.TowerLimit), money(s.Retention))
}

// readInput reads path, or r when path is empty or "-".
func readInput(r io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(r)
		if err != nil {
			return nil, eris.Wrap(err, "read stdin")
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func init() {
	f := nameCmd.Flags()
	f.StringVarP(&nameFile, "file", "f", "", "tower JSON file (default stdin)")
	f.StringVar(&namePosition, "position", "primary", "quote position: primary or excess")
	f.Int64Var(&nameRetention, "primary-retention", 0, "primary retention when no layer carries one")
	f.BoolVar(&nameJSON, "json", false, "print the result as JSON")
	rootCmd.AddCommand(nameCmd)
}
