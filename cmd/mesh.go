/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/notargets/goamr/InputParameters"
	"github.com/notargets/goamr/forest"
	"github.com/notargets/goamr/parallel"
	"github.com/notargets/goamr/scenario"
	"github.com/notargets/goamr/utils"
)

// MeshCmd represents the mesh command
var MeshCmd = &cobra.Command{
	Use:   "mesh",
	Short: "Refine the origin cell, build the mesh and print every cell's face neighbors",
	Long: `
Runs the mesh scenarios on a group of in-process ranks. Each scenario builds a
connectivity and a uniform forest, refines the cell at the origin of tree 0
once, partitions, balances, builds the ghost layer and the face mesh, then
prints one line per local cell and face in rank order:

  [rank R] cell C face F: index N[,N...], encoding E [(g)|(b)]

(g) marks neighbors owned by another rank, (b) faces on the domain boundary.

goamr mesh --dim 2 --ranks 3 --scenario one-tree --periodic off`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mp, err := meshParameters(cmd)
		if err != nil {
			return err
		}
		if viper.GetBool("verbose") {
			mp.Print(cmd.ErrOrStderr())
		}
		withPerf, _ := cmd.Flags().GetBool("perf")
		sums, err := RunMesh(cmd.Context(), mp, cmd.OutOrStdout(), withPerf)
		if err != nil {
			return err
		}
		if show, _ := cmd.Flags().GetBool("summary"); show {
			for _, s := range sums {
				fmt.Fprintln(cmd.OutOrStdout(), s)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(MeshCmd)
	MeshCmd.Flags().IntP("dim", "d", 2, "dimension: 2 = quadtrees, 3 = octrees")
	MeshCmd.Flags().IntP("ranks", "n", 1, "number of ranks")
	MeshCmd.Flags().StringP("scenario", "s", "all", "scenario to run: one-tree, brick, non-brick or all")
	MeshCmd.Flags().StringP("periodic", "p", "both", "periodic boundaries: off, on or both")
	MeshCmd.Flags().Int("minLevel", -1, "uniform starting level, negative selects the scenario default")
	MeshCmd.Flags().String("balance", "full", "balance connectivity: face, edge (3D) or full")
	MeshCmd.Flags().Bool("strict", false, "range check the mesh and verify neighbor symmetry")
	MeshCmd.Flags().StringP("input", "I", "", "scenario input file, .yaml or .toml, overrides the flags")
	MeshCmd.Flags().Bool("perf", false, "count CPU instructions per rank (linux)")
	MeshCmd.Flags().Bool("summary", false, "print a summary line per scenario")
	for _, name := range []string{"dim", "ranks", "scenario", "periodic", "minLevel", "balance", "strict"} {
		if err := viper.BindPFlag("mesh."+name, MeshCmd.Flags().Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func meshParameters(cmd *cobra.Command) (mp *InputParameters.MeshParameters, err error) {
	mp = &InputParameters.MeshParameters{
		Dim:       viper.GetInt("mesh.dim"),
		Ranks:     viper.GetInt("mesh.ranks"),
		Scenarios: []string{viper.GetString("mesh.scenario")},
		Periodic:  viper.GetString("mesh.periodic"),
		Balance:   viper.GetString("mesh.balance"),
		Strict:    viper.GetBool("mesh.strict"),
	}
	if level := viper.GetInt("mesh.minLevel"); level >= 0 {
		mp.MinLevel = &level
	}
	if input, _ := cmd.Flags().GetString("input"); input != "" {
		if err = mp.ReadFile(input); err != nil {
			return nil, err
		}
	}
	if err = mp.Validate(); err != nil {
		return nil, err
	}
	if mp.Ranks < 1 {
		return nil, fmt.Errorf("need at least one rank, have %d", mp.Ranks)
	}
	return
}

func scenarioSetup(mp *InputParameters.MeshParameters) (cases []scenario.Case, opts scenario.Options, err error) {
	var (
		kinds     []scenario.Kind
		periodics []bool
	)
	for _, name := range mp.Scenarios {
		if strings.EqualFold(name, "all") {
			kinds = append(kinds, scenario.OneTree, scenario.Brick)
			continue
		}
		var k scenario.Kind
		if k, err = scenario.ParseKind(name); err != nil {
			return
		}
		kinds = append(kinds, k)
	}
	switch strings.ToLower(mp.Periodic) {
	case "", "off":
		periodics = []bool{false}
	case "on":
		periodics = []bool{true}
	case "both":
		periodics = []bool{false, true}
	}
	for _, k := range kinds {
		for _, p := range periodics {
			cases = append(cases, scenario.Case{Kind: k, Periodic: p})
		}
	}

	opts = scenario.DefaultOptions(mp.Dim)
	if mp.MinLevel != nil {
		opts.MinLevel = *mp.MinLevel
	}
	opts.BrickSize = mp.BrickSize
	opts.Strict = mp.Strict
	switch strings.ToLower(mp.Balance) {
	case "face":
		opts.Balance = forest.ConnectFace
	case "edge":
		opts.Balance = forest.ConnectEdge
	}
	return
}

// RunMesh runs the configured scenarios on a fresh rank group and returns the
// summaries seen by rank 0
func RunMesh(ctx context.Context, mp *InputParameters.MeshParameters, out io.Writer, withPerf bool) (sums []scenario.Summary, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cases, opts, err := scenarioSetup(mp)
	if err != nil {
		return
	}
	pc, err := parallel.Init(mp.Ranks, logger)
	if err != nil {
		return
	}
	defer func() { _ = pc.Close() }()

	instructions := make([]uint64, mp.Ranks)
	err = pc.Run(ctx, func(comm *parallel.Comm) (err error) {
		var (
			rankSums []scenario.Summary
			ran      bool
		)
		run := func() (err error) {
			ran = true
			rankSums, err = scenario.RunAll(comm, cases, opts, out)
			return
		}
		if withPerf {
			instructions[comm.Rank()], err = countInstructions(run)
			if errors.Is(err, errPerfUnavailable) {
				comm.Logger().Warn("instruction counting unavailable", zap.Error(err))
				err = nil
				if !ran {
					err = run()
				}
			}
		} else {
			err = run()
		}
		if comm.Rank() == 0 {
			sums = rankSums
		}
		return
	})
	if err != nil {
		return nil, err
	}
	if withPerf {
		logger.Info("cpu instructions", zap.Uint64s("per_rank", instructions))
	}
	logger.Debug("memory", zap.String("usage", utils.GetMemUsage()))
	return
}
