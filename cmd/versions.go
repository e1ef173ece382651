package cmd

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

var (
	versionsLimit  int
	versionsOutput string
)

type versionEntry struct {
	Tag        string `json:"tag" yaml:"tag"`
	Prerelease bool   `json:"prerelease" yaml:"prerelease"`
	Assets     int    `json:"assets" yaml:"assets"`
}

var VersionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "List published runner releases, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		releases, err := newReleaseClient(Cfg).ListReleases(cmd.Context(), versionsLimit)
		if err != nil {
			return err
		}

		entries := make([]versionEntry, 0, len(releases))
		for _, r := range releases {
			entries = append(entries, versionEntry{Tag: r.TagName, Prerelease: r.Pre, Assets: len(r.Assets)})
		}

		out := cmd.OutOrStdout()
		done, err := printStructured(out, versionsOutput, entries)
		if done || err != nil {
			return err
		}

		table := uitable.New()
		table.AddRow("TAG", "PRERELEASE", "ASSETS")
		for _, e := range entries {
			table.AddRow(e.Tag, e.Prerelease, e.Assets)
		}
		_, err = fmt.Fprintln(out, table)
		return err
	},
}

func init() {
	VersionsCmd.Flags().IntVarP(&versionsLimit, "limit", "n", 10, "maximum number of releases to list")
	VersionsCmd.Flags().StringVarP(&versionsOutput, "output", "o", outputText, "output format: text, json or yaml")
	RootCmd.AddCommand(VersionsCmd)
}
