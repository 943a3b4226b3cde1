package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/HendryAvila/plotline/internal/ops"
	"github.com/HendryAvila/plotline/internal/rules"
)

func rulesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect suggestion rules",
	}
	cmd.AddCommand(rulesValidateCmd(g), rulesListCmd(g))
	return cmd
}

// loadRuleSet parses path (the built-in catalogue when empty) and checks
// it against the built-in operations.
func loadRuleSet(path string) (*rules.Set, error) {
	var (
		rs  []rules.Rule
		err error
	)
	if path == "" {
		rs, err = rules.Default()
	} else {
		rs, err = rules.Load(path)
	}
	if err != nil {
		return nil, err
	}
	reg := rules.NewRegistry(ops.New(nil, 0, nil), nil, nil)
	return reg.Load(rs)
}

func rulesValidateCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Check a rules file or directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := g.rulesDir
			if len(args) == 1 {
				path = args[0]
			}
			set, err := loadRuleSet(path)
			if err != nil {
				return err
			}
			disabled := 0
			for _, s := range set.Summaries() {
				if s.Disabled != "" {
					disabled++
					fmt.Fprintf(cmd.ErrOrStderr(), "disabled: %s: %s\n", s.Feature, s.Disabled)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules OK (%d disabled)\n", set.Len(), disabled)
			return nil
		},
	}
}

func rulesListCmd(g *globalFlags) *cobra.Command {
	var topic string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the rule catalogue",
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := loadRuleSet(g.rulesDir)
			if err != nil {
				return err
			}
			var topics []rules.Topic
			if topic != "" {
				topics = rules.ParseTopics(topic)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOPIC\tFEATURE\tOPERATION\tNAVIGATION")
			for _, s := range set.Summaries(topics...) {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.Topic, s.Feature, s.BEOperation, s.FENavigation)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&topic, "topic", "", "Comma-separated topics to list")
	return cmd
}
