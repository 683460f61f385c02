package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/phobologic/prune/internal/config"
	"github.com/phobologic/prune/internal/lang"
	"github.com/phobologic/prune/internal/rules"
)

const (
	sentinelStart = "# prune:start"
	sentinelEnd   = "# prune:end"
)

// newInitCommand implements `prune init`, which writes (or updates) a
// managed settings block in a .prune.yaml file.
func newInitCommand(stdout, stderr io.Writer) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "init [path-to-.prune.yaml]",
		Short: "Write a prune settings block to a config file",
		Long: `Write a prune settings block to a config file. The block is wrapped in
sentinel comments so it can be updated in place on subsequent runs without
touching surrounding content. Creates the file if it does not exist.

path-to-.prune.yaml defaults to ./` + config.FileName + `.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("language")
			if name == "" {
				name = defaultLanguage
			}
			section, err := generateSection(name)
			if err != nil {
				return err
			}

			// --dry-run with no path: just print the section itself.
			if dryRun && len(args) == 0 {
				_, _ = fmt.Fprintln(stdout, section)
				return nil
			}

			path := config.FileName
			if len(args) > 0 {
				path = args[0]
			}

			existing, _ := os.ReadFile(path)
			updated := applySection(string(existing), section)

			if err := checkYAML(updated); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			if dryRun {
				_, _ = fmt.Fprint(stdout, updated)
				return nil
			}

			if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", path, err)
			}

			_, _ = fmt.Fprintf(stderr, "wrote prune settings to %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print what would be written without modifying the file")
	return cmd
}

// generateSection returns the sentinel-wrapped settings block for a language.
// The substitutions list every hole the built-in seed rules need.
func generateSection(name string) (string, error) {
	l, err := lang.Lookup(name)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Managed by `prune init`. Edits inside this block are replaced on the next run.\n")
	fmt.Fprintf(&b, "language: %s\n", l.Name)
	fmt.Fprintf(&b, "max_iterations: %d\n", config.DefaultMaxIterations)
	fmt.Fprintf(&b, "max_file_size: %s\n", config.DefaultMaxFileSize)
	fmt.Fprintf(&b, "format: %s\n", config.DefaultFormat)

	holes, err := seedHoles(l)
	if err != nil {
		return "", err
	}
	if len(holes) > 0 {
		b.WriteString("substitutions:\n")
		for _, h := range holes {
			fmt.Fprintf(&b, "  %s: \"\"\n", h)
		}
	}

	return sentinelStart + "\n" + b.String() + sentinelEnd, nil
}

// seedHoles lists the holes of the built-in seed rules that the rule set
// does not bind itself.
func seedHoles(l *lang.Language) ([]string, error) {
	data, err := l.DefaultRules()
	if errors.Is(err, lang.ErrNoDefaultRules) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	set, err := rules.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("built-in %s rules: %w", l.Name, err)
	}

	var holes []string
	seen := make(map[string]struct{})
	for _, r := range set.Rules {
		if !r.Seed {
			continue
		}
		for _, h := range r.InputHoles() {
			if _, bound := set.Substitutions[h]; bound {
				continue
			}
			if _, dup := seen[h]; !dup {
				seen[h] = struct{}{}
				holes = append(holes, h)
			}
		}
	}
	return holes, nil
}

// applySection inserts section into content, replacing an existing sentinel
// block if present or appending if not. It is a pure function for easy testing.
func applySection(content, section string) string {
	start := strings.Index(content, sentinelStart)
	end := strings.Index(content, sentinelEnd)

	if start >= 0 && end > start {
		return content[:start] + section + content[end+len(sentinelEnd):]
	}

	// Append, ensuring a blank line separator.
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return content + "\n" + section + "\n"
}

// checkYAML rejects results that are no longer a valid YAML mapping, such
// as a block appended after keys it duplicates.
func checkYAML(content string) error {
	var doc map[string]any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		return fmt.Errorf("settings would not be valid YAML: %w", err)
	}
	return nil
}
