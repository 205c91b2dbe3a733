package ratetable

import (
	_ "embed"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed default_tables.yaml
var defaultTables []byte

// Parse decodes a YAML rate table and builds a validated Table.
func Parse(data []byte) (*Table, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, eris.Wrap(err, "ratetable: decode yaml")
	}
	return Build(def)
}

// LoadFile reads and builds the rate table at path.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ratetable: read %s", path)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "ratetable: load %s", path)
	}
	logLoaded("file", t, zap.String("path", path))
	return t, nil
}

// LoadDefault builds the rate table embedded in the binary.
func LoadDefault() (*Table, error) {
	t, err := Parse(defaultTables)
	if err != nil {
		return nil, eris.Wrap(err, "ratetable: load embedded tables")
	}
	logLoaded("embedded", t)
	return t, nil
}

// Marshal encodes the table definition as YAML in the file format Parse reads.
func (t *Table) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(t.Definition())
	if err != nil {
		return nil, eris.Wrap(err, "ratetable: encode yaml")
	}
	return data, nil
}

func logLoaded(source string, t *Table, fields ...zap.Field) {
	fields = append(fields,
		zap.String("source", source),
		zap.String("version", t.Version()),
		zap.String("hash", t.Hash()),
		zap.Int("industries", len(t.def.Industries)),
		zap.Int("controls", len(t.def.Controls)),
	)
	zap.L().Info("ratetable: loaded", fields...)
}
