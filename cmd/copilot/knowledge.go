package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joss/copilot/internal/knowledge"
	"github.com/joss/copilot/internal/render"
	"github.com/joss/copilot/internal/runtime"
)

func partnersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "partners",
		Short: "Manage conversation partners",
	}
	cmd.AddCommand(partnersAddCmd(), partnersListCmd())
	return cmd
}

func partnersAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Add or update a partner",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			return upsertItem(cmd, knowledge.Item{
				ID:    args[0],
				Name:  args[1],
				Kind:  knowledge.KindPerson,
				Email: email,
			})
		},
	}
	cmd.Flags().String("email", "", "Address follow-up drafts are sent to")
	return cmd
}

func partnersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List partners",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listItems(cmd, knowledge.KindPerson)
		},
	}
}

func itemsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "Manage knowledge items",
	}
	cmd.AddCommand(itemsAddCmd(), itemsListCmd(), itemsSearchCmd())
	return cmd
}

func itemsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <id> <name>",
		Short: "Add or update a knowledge item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			desc, _ := cmd.Flags().GetString("description")
			repo, _ := cmd.Flags().GetString("repo")
			tags, _ := cmd.Flags().GetStringSlice("tag")
			weight, _ := cmd.Flags().GetFloat64("weight")
			return upsertItem(cmd, knowledge.Item{
				ID:          args[0],
				Name:        args[1],
				Kind:        kind,
				Description: desc,
				RepoPath:    repo,
				Tags:        tags,
				Weight:      weight,
			})
		},
	}
	cmd.Flags().String("kind", "note", "Item kind")
	cmd.Flags().StringP("description", "d", "", "Searchable description")
	cmd.Flags().String("repo", "", "Local directory shared when the item is invoked")
	cmd.Flags().StringSlice("tag", nil, "Search tag (repeatable)")
	cmd.Flags().Float64("weight", 1, "Search score multiplier")
	return cmd
}

func itemsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge items",
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, _ := cmd.Flags().GetString("kind")
			return listItems(cmd, kind)
		},
	}
	cmd.Flags().String("kind", "", "Only items of this kind")
	return cmd
}

func itemsSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the live-call keyword search",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			partner, _ := cmd.Flags().GetString("partner")

			svc := newServices(cfg, runtime.DefaultShutdownTimeout)
			defer svc.close()
			store, err := svc.connect(cmd.Context())
			if err != nil {
				return err
			}

			results, err := store.Search(cmd.Context(), args[0], partner, knowledge.SearchOptions{
				MaxResults:      cfg.Search.MaxResults,
				IncludeSnippets: true,
			})
			if err != nil {
				return err
			}
			fmt.Print(render.New(pretty).Results(results))
			return nil
		},
	}
	cmd.Flags().String("partner", "", "Exclude this partner from results")
	return cmd
}

func upsertItem(cmd *cobra.Command, item knowledge.Item) error {
	svc := newServices(cfg, runtime.DefaultShutdownTimeout)
	defer svc.close()
	store, err := svc.connect(cmd.Context())
	if err != nil {
		return err
	}
	if err := store.Upsert(cmd.Context(), item); err != nil {
		return err
	}
	fmt.Printf("%s %s (%s)\n", render.StatusIcon("ok"), item.Name, item.ID)
	return nil
}

func listItems(cmd *cobra.Command, kind string) error {
	svc := newServices(cfg, runtime.DefaultShutdownTimeout)
	defer svc.close()
	store, err := svc.connect(cmd.Context())
	if err != nil {
		return err
	}
	items, err := store.List(cmd.Context(), kind)
	if err != nil {
		return err
	}
	fmt.Print(render.New(pretty).Items(items))
	return nil
}
