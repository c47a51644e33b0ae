package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"episoded/internal/dataset"
	"episoded/internal/persist"
)

// archiveSummary is what inspect prints for one archive.
type archiveSummary struct {
	Path        string         `json:"path"`
	Samples     int            `json:"samples"`
	DepthH      int            `json:"depth_h"`
	DepthW      int            `json:"depth_w"`
	FirstFrame  int32          `json:"first_frame"`
	LastFrame   int32          `json:"last_frame"`
	MinDistance float32        `json:"min_distance"`
	MaxDistance float32        `json:"max_distance"`
	Actions     map[string]int `json:"actions"`
}

func summarize(path string, a *persist.Archive) archiveSummary {
	s := archiveSummary{Path: path, Samples: a.N, DepthH: a.H, DepthW: a.W, Actions: map[string]int{}}
	for i := 0; i < a.N; i++ {
		if i == 0 || a.Frames[i] < s.FirstFrame {
			s.FirstFrame = a.Frames[i]
		}
		if i == 0 || a.Frames[i] > s.LastFrame {
			s.LastFrame = a.Frames[i]
		}
		if i == 0 || a.Distances[i] < s.MinDistance {
			s.MinDistance = a.Distances[i]
		}
		if i == 0 || a.Distances[i] > s.MaxDistance {
			s.MaxDistance = a.Distances[i]
		}
		s.Actions[dataset.ActionLabel(a.Actions[i]).String()]++
	}
	return s
}

func (s archiveSummary) write(w io.Writer) {
	fmt.Fprintf(w, "archive:  %s\n", s.Path)
	fmt.Fprintf(w, "samples:  %d\n", s.Samples)
	fmt.Fprintf(w, "depth:    %dx%d\n", s.DepthW, s.DepthH)
	fmt.Fprintf(w, "frames:   %d..%d\n", s.FirstFrame, s.LastFrame)
	fmt.Fprintf(w, "distance: %.3f..%.3f\n", s.MinDistance, s.MaxDistance)
	names := make([]string, 0, len(s.Actions))
	for n := range s.Actions {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "  %-10s %d\n", n, s.Actions[n])
	}
}

func newInspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "inspect <archive.npz>",
		Short:   "Summarize a saved episode archive",
		Example: "  episoded inspect data/episodes/20250101T120000Z_1a2b3c4d/train/episode_00001.npz",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := persist.ReadArchive(args[0])
			if err != nil {
				return err
			}
			s := summarize(args[0], a)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			}
			s.write(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}
