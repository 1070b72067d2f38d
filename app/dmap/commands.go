package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tsawler/go-domainmaps/vision/dataset"
)

func classesCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "Print the class index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			classes, _, err := dataset.FindClasses(ctx.imagesDir(cfg))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, name := range classes {
				fmt.Fprintf(out, "%d\t%s\n", i, name)
			}
			return nil
		},
	}
}

func catalogCommand(ctx *cliContext) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "List every sample with its label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			dir := ctx.imagesDir(cfg)
			_, classToIdx, err := dataset.FindClasses(dir)
			if err != nil {
				return err
			}
			samples, err := dataset.MakeCatalog(dir, classToIdx, dataset.CatalogOptions{Exclude: cfg.Exclude})
			if err != nil {
				return err
			}
			return writeCatalog(cmd.OutOrStdout(), output, samples)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or yaml")
	return cmd
}

func writeCatalog(w io.Writer, format string, samples []dataset.Sample) error {
	switch format {
	case "text", "":
		for _, s := range samples {
			if _, err := fmt.Fprintf(w, "%d\t%s\n", s.Label, s.Path); err != nil {
				return err
			}
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(samples); err != nil {
			return errors.Wrap(err, "failed to encode catalog")
		}
		return enc.Close()
	default:
		return errors.Errorf("unknown output format %q", format)
	}
}

func resolveCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <index>",
		Short: "Load one sample and print where its files live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Wrapf(err, "invalid index %q", args[0])
			}
			ds, err := ctx.openDataset()
			if err != nil {
				return err
			}
			item, err := ds.GetItem(index)
			if err != nil {
				return err
			}

			classes := ds.Classes()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "image:  %s\n", item.ImagePath)
			fmt.Fprintf(out, "map:    %s\n", item.MapPath)
			fmt.Fprintf(out, "shape:  %v\n", item.Map.Shape)
			fmt.Fprintf(out, "label:  %d (%s)\n", item.Label, classes[ds.Samples()[index].Label])
			fmt.Fprintf(out, "size:   %dx%d\n", item.Image.Bounds().Dx(), item.Image.Bounds().Dy())
			return nil
		},
	}
}

func verifyCommand(ctx *cliContext) *cobra.Command {
	var showMetrics bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Resolve every sample and report the ones that fail",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := ctx.openDataset()
			if err != nil {
				return err
			}

			bar := progressbar.NewOptions(ds.Len(),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionSetDescription("Verifying"),
				progressbar.OptionShowCount(),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("samples"),
				progressbar.OptionOnCompletion(func() { fmt.Fprintln(cmd.ErrOrStderr()) }),
			)

			var failures []error
			for i := 0; i < ds.Len(); i++ {
				if _, err := ds.GetItem(i); err != nil {
					failures = append(failures, errors.WithMessagef(err, "sample %d", i))
				}
				_ = bar.Add(1)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%d/%d samples resolved\n", ds.Len()-len(failures), ds.Len())
			for _, f := range failures {
				fmt.Fprintf(out, "  %v\n", f)
			}

			if showMetrics {
				if err := writeMetrics(out, ctx); err != nil {
					return err
				}
			}
			if len(failures) > 0 {
				return errors.Errorf("%d samples failed to resolve", len(failures))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showMetrics, "metrics", false, "print load metrics in Prometheus text format")
	return cmd
}

func writeMetrics(w io.Writer, ctx *cliContext) error {
	families, err := ctx.registry.Gather()
	if err != nil {
		return errors.Wrap(err, "failed to gather metrics")
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func statsCommand(ctx *cliContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the number of samples per class",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := ctx.openDataset()
			if err != nil {
				return err
			}

			dist := ds.ClassDistribution()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, ds.String())
			for _, name := range ds.Classes() {
				count := dist[name]
				fmt.Fprintf(out, "%-20s %6d  %5.1f%%\n", name, count, 100*float64(count)/float64(ds.Len()))
			}
			return nil
		},
	}
}
