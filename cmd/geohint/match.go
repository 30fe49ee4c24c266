package main

import (
	"fmt"

	"github.com/apex/log"
	"github.com/spf13/cobra"

	"geohint/internal/index"
	"geohint/internal/ingest"
	"geohint/internal/match"
	"geohint/internal/model"
	"geohint/internal/rules"
)

// newMatchCmd builds the offline matcher: hint extraction without any
// measurement, useful for inspecting what the rules see in a name.
func newMatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "match <domain>...",
		Short: "Extract candidate locations from domain names without measuring",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ruleSet, err := rules.LoadFile(cfg.Rules.Path, log.Log)
			if err != nil {
				return err
			}
			locations, err := ingest.LoadLocations(cfg.Corpus.LocationsPath)
			if err != nil {
				return err
			}
			idx := index.Build(locations)

			byID := make(map[int]*model.Location, len(locations))
			for _, loc := range locations {
				byID[loc.ID] = loc
			}

			m := match.New(ruleSet, idx, log.Log)
			m.SkipHexEncoded = cfg.Rules.SkipHexEncoded

			for _, name := range args {
				d := model.NewDomain(name, "", "")
				n := m.Match(d)
				if n == 0 {
					fmt.Printf("%s: no location hint\n", name)
					continue
				}
				fmt.Printf("%s:\n", name)
				for _, c := range d.AllMatches() {
					line := fmt.Sprintf("  %s %q -> location %d", c.Type, c.Code, c.LocationID)
					if loc := byID[c.LocationID]; loc != nil {
						line += fmt.Sprintf(" (%s, %.3f,%.3f)", loc.City, loc.Coord.Lat, loc.Coord.Lon)
					}
					fmt.Println(line)
				}
			}
			return nil
		},
	}
}
