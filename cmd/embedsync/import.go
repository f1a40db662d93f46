package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MereWhiplash/embedsync/internal/types"
)

func importCMD(g *globals) *cobra.Command {
	var kindFlag string
	var syncAfter bool

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Load posts or messages from a JSON array or JSON lines (stdin when no file)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var kind types.Kind
			if kindFlag != "" {
				k, err := types.ParseKind(kindFlag)
				if err != nil {
					return err
				}
				kind = k
			}

			in := cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			sources, err := readSources(in, kind, time.Now().UTC())
			if err != nil {
				return err
			}

			a, err := g.open(cmd, nil)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			for _, src := range sources {
				if err := a.Service.PutSource(ctx, src); err != nil {
					return fmt.Errorf("failed to import %s %s: %w", src.Kind, src.ID, err)
				}
				if syncAfter {
					if _, err := a.Service.Sync(ctx, src.Kind, src.ID); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", src.Kind, src.ID)
			}
			a.Logger.Info("import complete", "sources", len(sources), "synced", syncAfter)
			return nil
		},
	}
	cmd.Flags().StringVarP(&kindFlag, "kind", "k", "", "kind for records that omit it: post or message")
	cmd.Flags().BoolVar(&syncAfter, "sync", false, "sync each record after storing it")
	return cmd
}

// readSources decodes a JSON array or JSON lines. Records without an id get a
// random UUID, records without a kind get defaultKind, and a zero updated_at
// becomes now.
func readSources(r io.Reader, defaultKind types.Kind, now time.Time) ([]types.Source, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var sources []types.Source
	if data[0] == '[' {
		if err := json.Unmarshal(data, &sources); err != nil {
			return nil, fmt.Errorf("invalid JSON array: %w", err)
		}
	} else {
		sc := bufio.NewScanner(bytes.NewReader(data))
		sc.Buffer(make([]byte, 0, 64*1024), 16<<20)
		line := 0
		for sc.Scan() {
			line++
			b := bytes.TrimSpace(sc.Bytes())
			if len(b) == 0 {
				continue
			}
			var src types.Source
			if err := json.Unmarshal(b, &src); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			sources = append(sources, src)
		}
		if err := sc.Err(); err != nil {
			return nil, err
		}
	}

	for i := range sources {
		src := &sources[i]
		if src.ID == "" {
			src.ID = uuid.NewString()
		}
		if src.Kind == "" {
			src.Kind = defaultKind
		}
		k, err := types.ParseKind(string(src.Kind))
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i+1, err)
		}
		src.Kind = k
		if src.UpdatedAt.IsZero() {
			src.UpdatedAt = now
		}
	}
	return sources, nil
}
