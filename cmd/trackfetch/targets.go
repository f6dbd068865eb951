package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"trackfetch/internal/track"
)

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("artist", "a", "", "track artist")
	cmd.Flags().StringP("title", "t", "", "track title (required)")
	cmd.Flags().String("album", "", "album name")
	cmd.Flags().Duration("duration", 0, "track length, e.g. 3m14s")
	cmd.MarkFlagRequired("title")
}

func targetFromFlags(cmd *cobra.Command) track.Descriptor {
	artist, _ := cmd.Flags().GetString("artist")
	title, _ := cmd.Flags().GetString("title")
	album, _ := cmd.Flags().GetString("album")
	duration, _ := cmd.Flags().GetDuration("duration")
	return track.Descriptor{Artist: artist, Title: title, Album: album, Duration: duration}
}

// targetsFile is the batch input format:
//
//	dest_dir: ~/Music/inbox
//	tracks:
//	  - artist: Lauren Spencer Smith
//	    title: Fingers Crossed
//	    duration: 2m54s
type targetsFile struct {
	DestDir string             `yaml:"dest_dir"`
	Tracks  []track.Descriptor `yaml:"tracks"`
}

func loadTargets(path string) (targetsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return targetsFile{}, fmt.Errorf("failed to read targets file: %w", err)
	}

	var tf targetsFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return targetsFile{}, fmt.Errorf("failed to parse targets file %s: %w", path, err)
	}
	if len(tf.Tracks) == 0 {
		return targetsFile{}, fmt.Errorf("targets file %s lists no tracks", path)
	}
	for i, t := range tf.Tracks {
		if t.Title == "" {
			return targetsFile{}, fmt.Errorf("track %d in %s has no title", i+1, path)
		}
		if t.Duration < 0 {
			return targetsFile{}, fmt.Errorf("track %d in %s has a negative duration", i+1, path)
		}
	}
	return tf, nil
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return "?"
	}
	return d.Round(time.Second).String()
}
