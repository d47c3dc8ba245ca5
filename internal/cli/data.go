package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/ChuLiYu/mwcontrol/internal/demo"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
	"github.com/spf13/cobra"
)

// ============================================================================
// cluster
// ============================================================================

func buildClusterCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Write or show a cluster description",
	}
	cmd.AddCommand(buildClusterWriteCommand())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <file>",
		Short: "Print the nodes and file systems of a cluster description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := domain.ReadClusterDescFile(args[0])
			if err != nil {
				return err
			}
			printCluster(cmd.OutOrStdout(), c)
			return nil
		},
	})
	return cmd
}

func buildClusterWriteCommand() *cobra.Command {
	var name, out string
	var nodes []string

	cmd := &cobra.Command{
		Use:   "write",
		Short: "Write a cluster description file",
		Long:  "Each --node is name=fs1,fs2,... ; repeat it once per node",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := domain.NewClusterDesc(name)
			for _, spec := range nodes {
				node, err := parseNode(spec)
				if err != nil {
					return err
				}
				c.AddNode(node)
			}
			if err := c.WriteFile(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote cluster %q with %d nodes to %s\n", name, c.NNodes(), out)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "cluster", "Cluster name")
	cmd.Flags().StringArrayVar(&nodes, "node", nil, "Node as name=fs1,fs2 (repeatable)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file")
	cmd.MarkFlagRequired("out")

	return cmd
}

// parseNode 解析 name=fs1,fs2；沒有 '=' 時表示沒有檔案系統
func parseNode(spec string) (domain.NodeDesc, error) {
	name, fsList, _ := strings.Cut(spec, "=")
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.NodeDesc{}, fmt.Errorf("invalid node %q: empty name", spec)
	}
	var fileSys []string
	for _, fs := range strings.Split(fsList, ",") {
		if fs = strings.TrimSpace(fs); fs != "" {
			fileSys = append(fileSys, fs)
		}
	}
	return domain.NewNodeDesc(name, fileSys...), nil
}

func printCluster(w io.Writer, c *domain.ClusterDesc) {
	fmt.Fprintf(w, "Cluster: %s (%d nodes)\n", c.Name, c.NNodes())
	for _, n := range c.Nodes() {
		fmt.Fprintf(w, "  node %-12s %s\n", n.Name, strings.Join(n.FileSys, ","))
	}
	for _, fs := range c.FileSystems() {
		fmt.Fprintf(w, "  fs   %-12s %s\n", fs, strings.Join(c.NodesFor(fs), ","))
	}
}

// ============================================================================
// vds
// ============================================================================

func buildVdsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vds",
		Short: "Generate or show a dataset description",
	}

	var parts int
	var out string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic dataset description",
		RunE: func(cmd *cobra.Command, args []string) error {
			if parts <= 0 {
				return fmt.Errorf("--parts must be positive, got %d", parts)
			}
			vds := demo.SyntheticVds(parts)
			if err := vds.WriteFile(out); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d parts to %s\n", len(vds.Parts), out)
			return nil
		},
	}
	gen.Flags().IntVar(&parts, "parts", 3, "Number of parts")
	gen.Flags().StringVarP(&out, "out", "o", "", "Output file")
	gen.MarkFlagRequired("out")

	show := &cobra.Command{
		Use:   "show <file>",
		Short: "Print the parts of a dataset description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vds, err := domain.ReadVdsDescFile(args[0])
			if err != nil {
				return err
			}
			printVds(cmd.OutOrStdout(), vds)
			return nil
		},
	}

	cmd.AddCommand(gen, show)
	return cmd
}

func printVds(w io.Writer, vds *domain.VdsDesc) {
	fmt.Fprintf(w, "Dataset: %s (%d parts, antennas %s)\n", vds.Desc.Name, len(vds.Parts), strings.Join(vds.AntNames, ","))
	for i, p := range vds.Parts {
		fmt.Fprintf(w, "  [%d] %s on %s: %d bands, %d baselines, %s\n",
			i, p.Name, p.FileSys, p.NBand(), p.NBaseline(), p.Domain())
	}
}

// ============================================================================
// domains
// ============================================================================

func buildDomainsCommand() *cobra.Command {
	var vdsPath string
	var part int
	var freqSize, timeSize float64

	cmd := &cobra.Command{
		Use:   "domains",
		Short: "Print the work tiles of each data part",
		Long:  "Split the domain of every part (or --part) into tiles of --freq-size x --time-size in raster order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := prepare()
			if err != nil {
				return err
			}
			if vdsPath == "" {
				vdsPath = cfg.Data.Vds
			}
			if vdsPath == "" {
				return fmt.Errorf("no dataset: pass --vds or set data.vds")
			}
			vds, err := domain.ReadVdsDescFile(vdsPath)
			if err != nil {
				return err
			}
			shape, err := domain.NewDomainShape(freqSize, timeSize)
			if err != nil {
				return err
			}
			return printDomains(cmd.OutOrStdout(), vds, part, shape)
		},
	}

	cmd.Flags().StringVar(&vdsPath, "vds", "", "Dataset description (overrides data.vds)")
	cmd.Flags().IntVar(&part, "part", -1, "Only this part (-1 = all parts)")
	cmd.Flags().Float64Var(&freqSize, "freq-size", 2e6, "Tile size along frequency (Hz)")
	cmd.Flags().Float64Var(&timeSize, "time-size", 3600, "Tile size along time (s)")

	return cmd
}

func printDomains(w io.Writer, vds *domain.VdsDesc, part int, shape domain.DomainShape) error {
	if part >= len(vds.Parts) {
		return fmt.Errorf("part %d out of range: %d parts", part, len(vds.Parts))
	}
	for i, p := range vds.Parts {
		if part >= 0 && i != part {
			continue
		}
		d := p.Domain()
		tiles, err := d.Tiles(shape)
		if err != nil {
			return fmt.Errorf("part %s: %w", p.Name, err)
		}
		nFreq, nTime, _ := d.TileCount(shape)
		fmt.Fprintf(w, "%s: %d x %d tiles\n", p.Name, nFreq, nTime)
		for j, tile := range tiles {
			fmt.Fprintf(w, "  %3d %s\n", j, tile)
		}
	}
	return nil
}
