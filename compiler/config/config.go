// Package config holds pipeline settings loaded from TOML files.
package config

import (
	"bytes"
	"os"

	"github.com/pelletier/go-toml/v2"
	"tlog.app/go/errors"

	"github.com/slowlang/arc/compiler/rcelim"
)

type (
	Config struct {
		Passes Passes `toml:"passes"`

		// Workers is the number of functions optimized in parallel.
		// Zero means one per CPU.
		Workers int `toml:"workers"`

		MaxElimRounds int `toml:"max_elim_rounds"`
	}

	Passes struct {
		Insert   bool `toml:"insert"`
		Captures bool `toml:"captures"`
		Reuse    bool `toml:"reuse"`
		Elim     bool `toml:"elim"`
		Drop     bool `toml:"drop"`
		FBIP     bool `toml:"fbip"`
		Verify   bool `toml:"verify"`
	}
)

func Default() Config {
	return Config{
		Passes: Passes{
			Insert:   true,
			Captures: true,
			Reuse:    true,
			Elim:     true,
			Drop:     true,
			FBIP:     true,
			Verify:   true,
		},
		MaxElimRounds: rcelim.DefaultRounds,
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	c, err := Decode(data)
	if err != nil {
		return Config{}, errors.Wrap(err, "config %v", path)
	}

	return c, nil
}

// Decode parses data over the defaults. Unknown keys are rejected.
func Decode(data []byte) (Config, error) {
	c := Default()

	d := toml.NewDecoder(bytes.NewReader(data))
	d.DisallowUnknownFields()

	err := d.Decode(&c)
	if err != nil {
		return Config{}, errors.Wrap(err, "decode")
	}

	err = c.Validate()
	if err != nil {
		return Config{}, err
	}

	return c, nil
}

func (c Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, errors.Wrap(err, "encode config")
	}

	return data, nil
}

func (c Config) Validate() error {
	if c.Workers < 0 {
		return errors.New("workers: negative value %d", c.Workers)
	}

	if c.MaxElimRounds <= 0 {
		return errors.New("max_elim_rounds: must be positive, got %d", c.MaxElimRounds)
	}

	if c.Passes.Reuse && !c.Passes.Insert {
		return errors.New("passes: reuse needs insert")
	}

	return nil
}
