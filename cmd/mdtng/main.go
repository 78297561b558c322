// Command mdtng is a thin driver around the session package: it exercises
// the library from the outside, the way the spec's core/CLI split intends
// (§1 "Thin CLI drivers and convenience wrappers sit outside the core").
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"blichmann.eu/code/mdtng/block"
	"blichmann.eu/code/mdtng/data"
	"blichmann.eu/code/mdtng/session"
)

var verbose bool

func newLogger() *zap.SugaredLogger {
	if !verbose {
		return zap.NewNop().Sugar()
	}
	cfg := zap.NewDevelopmentConfig()
	l, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return l.Sugar()
}

func openForRead(path string) (*session.Session, error) {
	s := session.Init().WithLogger(newLogger())
	if err := s.SetInputFile(path); err != nil {
		return nil, err
	}
	if err := s.ReadFileHeaders(); err != nil {
		return nil, err
	}
	return s, nil
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: "Print GENERAL_INFO and topology summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openForRead(args[0])
			if err != nil {
				return err
			}
			defer s.Destroy()

			info := s.Info()
			fmt.Printf("program:     %s\n", info.ProgramName)
			fmt.Printf("forcefield:  %s\n", info.ForcefieldName)
			fmt.Printf("user:        %s\n", info.UserName)
			fmt.Printf("created:     %s\n", s.GetTimeStr())
			fmt.Printf("computer:    %s\n", info.ComputerName)
			fmt.Printf("var_n_atoms: %v\n", info.VarNumAtoms)
			fmt.Printf("long_stride: %d\n", info.LongStrideLength)

			topo := s.Topology()
			fmt.Printf("molecules:   %d\n", len(topo.Molecules))
			for i := range topo.Molecules {
				m := &topo.Molecules[i]
				fmt.Printf("  [%d] %-20s chains=%-4d atoms=%-6d count=%d\n",
					i, m.Name, len(m.Chains), m.NumAtoms(), m.MoleculeCount)
			}

			nFrameSets := 0
			for {
				_, err := s.ReadNextFrameSet()
				if err != nil {
					break
				}
				nFrameSets++
			}
			fmt.Printf("frame sets:  %d\n", nFrameSets)
			return nil
		},
	}
}

func newVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <file>",
		Short: "Walk every frame set and report digest/structural failures",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openForRead(args[0])
			if err != nil {
				return err
			}
			defer s.Destroy()

			nFrameSets, nBlocks := 0, 0
			for {
				cur, err := s.ReadNextFrameSet()
				if err != nil {
					break
				}
				nFrameSets++
				nBlocks += len(cur.Mappings) + len(cur.PerParticleData) + len(cur.PerFrameData) + len(cur.Unknown)
			}
			fmt.Printf("ok: %d frame sets, %d blocks read without Critical failure\n", nFrameSets, nBlocks)
			return nil
		},
	}
}

func newDumpPositionsCmd() *cobra.Command {
	var frameSetIndex int
	cmd := &cobra.Command{
		Use:   "dump-positions <file>",
		Short: "Print TRAJ_POSITIONS values for one frame set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openForRead(args[0])
			if err != nil {
				return err
			}
			defer s.Destroy()

			var cur *session.CurrentFrameSet
			for i := 0; i <= frameSetIndex; i++ {
				cur, err = s.ReadNextFrameSet()
				if err != nil {
					return err
				}
			}

			a, ok := s.FindBlock("TRAJ_POSITIONS")
			if !ok {
				return fmt.Errorf("frame set %d has no TRAJ_POSITIONS block", frameSetIndex)
			}
			meta := data.GetMeta(a)
			fmt.Printf("frame set %d: first_frame=%d n_frames=%d n_particles=%d\n",
				frameSetIndex, cur.Header.FirstFrame, cur.Header.NFrames, meta.NParticles)

			blk, ok := a.(*data.Block[float32])
			if !ok {
				return fmt.Errorf("TRAJ_POSITIONS is not a float32 block")
			}
			for i, v := range blk.Values {
				fmt.Printf("%d: %g\n", i, v)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&frameSetIndex, "frame-set", 0, "0-based frame set index to dump")
	return cmd
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mdtng",
		Short: "Inspect and verify mdtng trajectory files",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable diagnostic logging")
	root.AddCommand(newInfoCmd(), newVerifyCmd(), newDumpPositionsCmd())

	cobra.OnInitialize(func() {
		if !verbose {
			return
		}
		root.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			fmt.Fprintf(os.Stderr, "mdtng: flag --%s=%q\n", f.Name, f.Value)
		})
	})
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "mdtng:", block.StatusOf(err), "-", err)
		os.Exit(1)
	}
}
