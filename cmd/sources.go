package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/returnfeed/internal/config"
	"github.com/smazurov/returnfeed/internal/discovery"
	"github.com/smazurov/returnfeed/internal/frame"
	"github.com/spf13/cobra"
)

type sourcesOptions struct {
	Config      string
	SourcesFile string `toml:"sources.file" env:"SOURCES_FILE"`
	JSON        bool
}

// CreateSourcesCmd creates the sources command, which prints the source
// directory the server would load.
func CreateSourcesCmd() *cobra.Command {
	opts := sourcesOptions{Config: "config.toml", SourcesFile: discovery.DefaultSourcesFile}

	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List configured sources",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			if err := config.LoadConfig(&opts, c); err != nil {
				return err
			}
			list, err := discovery.LoadSources(opts.SourcesFile)
			if err != nil {
				return err
			}
			return printSources(c.OutOrStdout(), list, opts.JSON)
		},
	}

	cmd.Flags().StringVarP(&opts.Config, "config", "c", opts.Config, "Path to configuration file")
	cmd.Flags().StringVar(&opts.SourcesFile, "sources-file", opts.SourcesFile, "Source directory file")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print JSON instead of a table")

	return cmd
}

func printSources(w io.Writer, list []frame.SourceHandle, asJSON bool) error {
	if asJSON {
		if list == nil {
			list = []frame.SourceHandle{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}

	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "no sources configured")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS")
	for _, s := range list {
		fmt.Fprintf(tw, "%s\t%s\n", s.Name, s.Address)
	}
	return tw.Flush()
}
