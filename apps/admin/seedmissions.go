package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trezcool/rehabquest/core/mission"
)

func (cli *commandLine) seedMissionsCommand() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seedmissions",
		Short: "Create or replace the mission catalog from a .toml or .yaml file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := loadCatalog(file)
			if err != nil {
				return err
			}
			saved, err := cli.missionSvc.SeedCatalog(cmd.Context(), cli.validate, catalog.Missions)
			if err != nil {
				return err
			}
			for _, m := range saved {
				cmd.Printf("%3d. %s (%d gems)\n", m.Position, m.Title, m.GemReward)
			}
			cmd.Printf("%d missions seeded\n", len(saved))
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "catalog file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func loadCatalog(path string) (mission.Catalog, error) {
	var catalog mission.Catalog

	data, err := os.ReadFile(path)
	if err != nil {
		return catalog, errors.Wrap(err, "reading catalog")
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = toml.Unmarshal(data, &catalog)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &catalog)
	default:
		return catalog, fmt.Errorf("unsupported catalog format %q", ext)
	}
	if err != nil {
		return catalog, errors.Wrap(err, "decoding catalog")
	}
	if len(catalog.Missions) == 0 {
		return catalog, errors.New("catalog has no missions")
	}
	return catalog, nil
}
