package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-anon-backend/internal/services"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, closeDB, err := a.openDB()
			if err != nil {
				return err
			}
			closeDB()
			log.Info().Str("driver", a.cfg.DB.Driver).Msg("schema up to date")
			return nil
		},
	}
}

func newGroupsCmd(a *app) *cobra.Command {
	groups := &cobra.Command{
		Use:   "groups",
		Short: "Inspect and archive topic groups",
	}

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List groups in creation order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, closeDB, err := a.openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			svc := &services.GroupAdminService{DB: db}
			gs, err := svc.List(cmd.Context(), all)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tMEMBERS\tCAPACITY\tARCHIVED")
			for _, g := range gs {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%t\n", g.ID, g.Name, g.MemberCount, g.Capacity, g.IsArchived)
			}
			return w.Flush()
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include archived groups")

	archive := &cobra.Command{
		Use:   "archive <group-id>",
		Short: "Stop matching users into a group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, closeDB, err := a.openDB()
			if err != nil {
				return err
			}
			defer closeDB()

			svc := &services.GroupAdminService{DB: db}
			if err := svc.Archive(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, services.ErrGroupNotFound) {
					return fmt.Errorf("group %s not found", args[0])
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "archived %s\n", args[0])
			return nil
		},
	}

	groups.AddCommand(list, archive)
	return groups
}
