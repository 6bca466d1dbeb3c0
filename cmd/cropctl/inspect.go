package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/cropsight/platform/pkg/attributes"
	"github.com/cropsight/platform/pkg/common/config"
	"github.com/cropsight/platform/pkg/common/models"
	"github.com/cropsight/platform/pkg/geodata"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type identifierCount struct {
	Identifier string
	Crop       string
	Features   int
}

type inspection struct {
	Total       int
	Skipped     int
	Identifiers []identifierCount
}

func newInspectCmd() *cobra.Command {
	var keysPath string
	var maxMB int
	cmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Normalize a dataset offline and preview the crop identifiers it resolves to.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if keysPath == "" {
				keysPath = cfg.AttributeKeysPath
			}
			if maxMB <= 0 {
				maxMB = cfg.IngestionMaxUploadMB
			}

			keys := attributes.DefaultKeyTable()
			if keysPath != "" {
				var err error
				if keys, err = attributes.LoadKeyTable(keysPath); err != nil {
					return err
				}
			}

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read dataset: %w", err)
			}
			fc, err := geodata.NewNormalizer(int64(maxMB)*1024*1024).Normalize(data, filepath.Base(args[0]))
			if err != nil {
				return err
			}

			result := inspect(fc, attributes.NewResolver(keys))
			renderInspection(cmd.OutOrStdout(), result)
			if result.Total > cfg.IngestionMaxFeatures {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %d features exceed the upload limit of %d\n", result.Total, cfg.IngestionMaxFeatures)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&keysPath, "keys", "", "YAML attribute key table (defaults to ATTRIBUTE_KEYS_PATH)")
	cmd.Flags().IntVar(&maxMB, "max-mb", 0, "upload size ceiling in MB (defaults to INGESTION_MAX_UPLOAD_MB)")
	return cmd
}

func inspect(fc *geodata.FeatureCollection, resolver *attributes.Resolver) inspection {
	out := inspection{Total: fc.Len()}
	counts := map[string]int{}
	for _, f := range fc.Features {
		id, ok := resolver.ResolveIdentifier(f.Properties)
		if !ok {
			out.Skipped++
			continue
		}
		counts[id]++
	}
	for id, n := range counts {
		crop := ""
		if c, ok := models.LookupCrop(id); ok {
			crop = c.Label
		}
		out.Identifiers = append(out.Identifiers, identifierCount{Identifier: id, Crop: crop, Features: n})
	}
	sort.Slice(out.Identifiers, func(i, j int) bool {
		if out.Identifiers[i].Features != out.Identifiers[j].Features {
			return out.Identifiers[i].Features > out.Identifiers[j].Features
		}
		return out.Identifiers[i].Identifier < out.Identifiers[j].Identifier
	})
	return out
}

func renderInspection(w io.Writer, result inspection) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Identifier", "Crop", "Features"})
	for _, row := range result.Identifiers {
		table.Append([]string{row.Identifier, row.Crop, strconv.Itoa(row.Features)})
	}
	table.SetFooter([]string{"", "Skipped", strconv.Itoa(result.Skipped)})
	table.Render()
	fmt.Fprintf(w, "%d polygon features, %d insertable, %d skipped\n", result.Total, result.Total-result.Skipped, result.Skipped)
}
