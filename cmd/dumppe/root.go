// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dblohm7/pestruct/internal/config"
	"github.com/dblohm7/pestruct/internal/logging"
	"github.com/dblohm7/pestruct/internal/render"
	"github.com/dblohm7/pestruct/pe"
)

// globals holds the persistent flags and the configuration they resolve to.
type globals struct {
	debug      bool
	configPath string
	format     string
	color      string
	lazy       bool
	strict     bool

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:   "dumppe",
		Short: "Decode and dump the structure of PE files",
		Long: `dumppe decodes a PE32 or PE32+ image with a declarative structure schema
and prints the decoded tree, or typed views of its headers, sections,
imports, exports, debug information, relocations and certificates.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.resolve(cmd)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVar(&g.debug, "debug", false, "enable debug logging")
	flags.StringVar(&g.configPath, "config", "", "path to config file")
	flags.StringVarP(&g.format, "format", "f", config.FormatText, "output format: text, yaml, json")
	flags.StringVar(&g.color, "color", config.ColorAuto, "colorize output: auto, always, never")
	flags.BoolVar(&g.lazy, "lazy", false, "decode pointer targets on demand")
	flags.BoolVar(&g.strict, "strict-addresses", false, "report unmapped addresses instead of reading offset 0")

	rootCmd.AddCommand(
		newTreeCommand(g),
		newHeadersCommand(g),
		newSectionsCommand(g),
		newImportsCommand(g),
		newExportsCommand(g),
		newDebugInfoCommand(g),
		newRelocsCommand(g),
		newTLSCommand(g),
		newCertsCommand(g),
		newDiagnosticsCommand(g),
		newResourcesCommand(g),
		newVersionCommand(g),
	)
	return rootCmd
}

// resolve loads the config file and applies the flags the user set.
func (g *globals) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.Format = g.format
	}
	if flags.Changed("color") {
		cfg.Color = g.color
	}
	if flags.Changed("lazy") {
		cfg.Lazy = g.lazy
	}
	if flags.Changed("strict-addresses") {
		cfg.StrictAddresses = g.strict
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	g.cfg = cfg
	logger := logging.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	logging.SetDefault(logger)
	if g.debug {
		logging.SetLevel("debug")
	}
	cmd.SetContext(logging.WithLogger(cmd.Context(), logger))
	logger.Debug("dumppe",
		logging.FieldVersion, version,
		logging.FieldFile, g.configPath,
		logging.FieldFormat, cfg.Format)
	return nil
}

func (g *globals) renderer(cmd *cobra.Command) (*render.Renderer, error) {
	out := cmd.OutOrStdout()
	return render.New(out, g.cfg.Format, render.ShouldColorize(g.cfg.Color, out))
}

func (g *globals) open(logger *log.Logger, path string) (*pe.Image, error) {
	img, err := pe.NewImageFromFileName(path, g.cfg.ImageConfig(logger))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	logger.Debug("decoded image",
		logging.FieldFile, path,
		logging.FieldFormat, img.Format())
	return img, nil
}

// withImage returns a RunE that opens args[0] and hands it to fn.
func (g *globals) withImage(fn func(cmd *cobra.Command, img *pe.Image, r *render.Renderer) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		r, err := g.renderer(cmd)
		if err != nil {
			return err
		}
		img, err := g.open(logging.FromContext(cmd.Context()), args[0])
		if err != nil {
			return err
		}
		defer img.Close()
		return fn(cmd, img, r)
	}
}
