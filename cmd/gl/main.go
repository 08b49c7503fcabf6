package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"gatherline/internal/app"
	"gatherline/internal/config"
	"gatherline/internal/db"
	"gatherline/internal/domain"
	"gatherline/internal/engine"
	"gatherline/internal/migrate"
	"gatherline/internal/repo"
	"gatherline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Gatherline CLI",
	Long: `Gatherline keeps group events consistent while plans change under them.
Core concepts (kid-friendly):
- Why it matters: the status graph and the mutation gate stop "the plan" from drifting apart from "what people agreed to" once things are locked in.
- Workspace: your .gatherline toy box with only the database; each event's config lives in the DB and can be imported from gatherline.yml.
- Event: the one party inside that box; statuses go DRAFT -> CONFIRMING -> FROZEN -> COMPLETE, and unfreezing always needs a written reason.
- Teams: groups of helpers (Food, Logistics); each can have a coordinator.
- Items: the things to bring or do; UNASSIGNED or ASSIGNED follows directly from whether someone holds them.
- Assignments: who carries which item, with PENDING/ACCEPTED/DECLINED responses; responding stays open even while the event is frozen.
- Freeze readiness: an event can only freeze when no item is unassigned or declined ('gl event readiness' shows the gaps).
- Conflicts: recorded findings like quantity.shortfall; dismissing one snapshots its inputs, and if those inputs later change the dismissal is reset.
- Acknowledgements: for CRITICAL conflicts the host writes a real impact statement; a new acknowledgement supersedes the old one.
- Audit log: diary of everything that happened, view with 'gl log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GATHERLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("event", "", "event id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("event", rootCmd.PersistentFlags().Lookup("event"))
}

func registerCommands() {
	rootCmd.AddCommand(eventCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(teamCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(personCmd())
	rootCmd.AddCommand(conflictCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func eventCmd() *cobra.Command {
	evt := &cobra.Command{Use: "event", Short: "Manage events"}
	evt.AddCommand(eventCreateCmd())
	evt.AddCommand(eventListCmd())
	evt.AddCommand(eventShowCmd())
	evt.AddCommand(eventUpdateCmd())
	evt.AddCommand(eventTransitionCmd())
	evt.AddCommand(eventReadinessCmd())
	evt.AddCommand(eventUseCmd())
	evt.AddCommand(eventConfigCmd())
	return evt
}

func eventCreateCmd() *cobra.Command {
	var opts engine.EventCreateOptions
	var dietary []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create event",
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := parseCounts(dietary)
			if err != nil {
				return err
			}
			opts.Dietary = parsed
			opts.ActorID = viper.GetString("actor-id")
			if opts.HostID == "" {
				opts.HostID = opts.ActorID
			}
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, config.Default(opts.ID))
			ev, err := e.CreateEvent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(ev)
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "event id (optional, deterministic UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().IntVar(&opts.GuestCount, "guest-count", 0, "expected guest count")
	cmd.Flags().StringVar(&opts.Venue, "venue", "", "venue")
	cmd.Flags().StringArrayVar(&dietary, "dietary", []string{}, "dietary need as name=count (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Equipment, "equipment", []string{}, "required equipment (repeatable)")
	cmd.Flags().StringVar(&opts.HostID, "host-id", "", "host person id (defaults to actor)")
	cmd.Flags().StringVar(&opts.HostName, "host-name", "", "host display name")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func eventListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListEvents(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func eventShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active event",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.Repo.GetEvent(ctx, e.Config.Event.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	return cmd
}

func eventUpdateCmd() *cobra.Command {
	var title, venue string
	var guestCount int
	var dietary, equipment []string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update event details",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.EventUpdateOptions{ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("guest-count") {
				opts.GuestCount = &guestCount
			}
			if cmd.Flags().Changed("venue") {
				opts.Venue = &venue
			}
			if cmd.Flags().Changed("dietary") {
				parsed, err := parseCounts(dietary)
				if err != nil {
					return err
				}
				opts.Dietary = parsed
			}
			if cmd.Flags().Changed("equipment") {
				opts.Equipment = equipment
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.EventID = e.Config.Event.ID
				ev, err := e.UpdateEventDetails(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().IntVar(&guestCount, "guest-count", 0, "expected guest count")
	cmd.Flags().StringVar(&venue, "venue", "", "venue")
	cmd.Flags().StringArrayVar(&dietary, "dietary", []string{}, "dietary need as name=count (repeatable, replaces)")
	cmd.Flags().StringArrayVar(&equipment, "equipment", []string{}, "required equipment (repeatable, replaces)")
	return cmd
}

func eventTransitionCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "transition <status>",
		Short: "Move the event to a new status",
		Long:  "Statuses move DRAFT -> CONFIRMING -> FROZEN -> COMPLETE. Going back from FROZEN to CONFIRMING requires --reason.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.TransitionStatus(ctx, e.Config.Event.ID, to, reason, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "override reason (required when unfreezing)")
	return cmd
}

func eventReadinessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Show freeze readiness",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				fr, err := e.FreezeReadiness(ctx, e.Config.Event.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(fr)
				}
				if fr.Ready {
					fmt.Println("ready to freeze")
					return nil
				}
				fmt.Printf("not ready: %d unassigned, %d declined\n", fr.Unassigned, fr.Declined)
				return nil
			})
		},
	}
	return cmd
}

func eventUseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "use <id>",
		Short: "Set current event for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID := strings.TrimSpace(args[0])
			if eventID == "" {
				return fmt.Errorf("event id is required")
			}
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			var data []byte
			if cfg == nil {
				data = []byte(config.GenerateDefault(eventID))
			} else {
				cfg.Event.ID = eventID
				data, err = yaml.Marshal(cfg)
				if err != nil {
					return err
				}
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return err
			}
			fmt.Printf("Set event %s in %s\n", eventID, path)
			return nil
		},
	}
	return cmd
}

func eventConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage event config",
		Long:  "Config is the rulebook (stored in DB): conflict type catalog, mitigation types, and the acknowledgement heuristics. Import from gatherline.yml if desired.",
	}
	cfg.AddCommand(eventConfigShowCmd())
	cfg.AddCommand(eventConfigImportCmd())
	cfg.AddCommand(eventConfigValidateCmd())
	return cfg
}

func eventConfigShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show event config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func eventConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import event config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(filePath)
			if err != nil {
				return err
			}
			cfg, err := config.FromYAML(data)
			if err != nil {
				return err
			}
			eventID := cfg.Event.ID
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if eventID == "" {
					eventID = e.Config.Event.ID
				}
				if err := e.Repo.UpsertEventConfig(ctx, eventID, cfg); err != nil {
					return err
				}
				return printJSONOrTable(cfg)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func eventConfigValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Config.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show event status",
		Long:  "See the scoreboard for your event: lifecycle status, freeze readiness, and item counts.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ev, err := e.Repo.GetEvent(ctx, e.Config.Event.ID)
				if err != nil {
					return err
				}
				fr, err := e.FreezeReadiness(ctx, ev.ID)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListItems(ctx, repo.ItemFilters{EventID: ev.ID})
				if err != nil {
					return err
				}
				counts := map[string]int{}
				for _, it := range items {
					counts[it.Status]++
				}
				out := map[string]any{
					"event_id":    ev.ID,
					"status":      ev.Status,
					"locked":      ev.Locked,
					"readiness":   fr,
					"item_counts": counts,
				}
				if viper.GetBool("json") {
					return printJSON(out)
				}
				fmt.Printf("Event: %s (%s)\n", ev.ID, ev.Status)
				if fr.Ready {
					fmt.Println("Freeze readiness: ready")
				} else {
					fmt.Printf("Freeze readiness: %d unassigned, %d declined\n", fr.Unassigned, fr.Declined)
				}
				fmt.Println("Items:")
				for status, c := range counts {
					fmt.Printf("  %s: %d\n", status, c)
				}
				return nil
			})
		},
	}
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{
		Use:   "team",
		Short: "Manage teams",
		Long:  "Teams group the items (Food, Logistics, Music) and can carry a coordinator who may assign within them.",
	}
	team.AddCommand(teamCreateCmd())
	team.AddCommand(teamListCmd())
	team.AddCommand(teamUpdateCmd())
	team.AddCommand(teamDeleteCmd())
	return team
}

func teamCreateCmd() *cobra.Command {
	var opts engine.TeamCreateOptions
	var coordinator string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create team",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.CoordinatorID = optionalString(coordinator)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.EventID = e.Config.Event.ID
				t, err := e.CreateTeam(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "team id (optional)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "team name")
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "coordinator person id")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func teamListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List teams",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				teams, err := e.Repo.ListTeams(ctx, e.Config.Event.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(teams)
			})
		},
	}
	return cmd
}

func teamUpdateCmd() *cobra.Command {
	var name, coordinator string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.TeamUpdateOptions{TeamID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("coordinator") {
				opts.CoordinatorID = &coordinator
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.UpdateTeam(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "team name")
	cmd.Flags().StringVar(&coordinator, "coordinator", "", "coordinator person id (empty clears)")
	return cmd
}

func teamDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteTeam(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func itemCmd() *cobra.Command {
	item := &cobra.Command{
		Use:   "item",
		Short: "Manage items",
		Long:  "Items are the things the event needs. Their status mirrors assignment existence: ASSIGNED when someone holds them, UNASSIGNED otherwise. Critical items cannot be deleted once confirming starts.",
	}
	item.AddCommand(itemCreateCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemGetCmd())
	item.AddCommand(itemUpdateCmd())
	item.AddCommand(itemDeleteCmd())
	item.AddCommand(itemAssignCmd())
	item.AddCommand(itemUnassignCmd())
	item.AddCommand(itemRespondCmd())
	return item
}

func itemCreateCmd() *cobra.Command {
	var opts engine.ItemCreateOptions
	var dueAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create item",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			opts.DueAt = optionalString(dueAt)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "item id (optional)")
	cmd.Flags().StringVar(&opts.TeamID, "team", "", "team id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "item name")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category")
	cmd.Flags().IntVar(&opts.Quantity, "quantity", 1, "quantity")
	cmd.Flags().BoolVar(&opts.Critical, "critical", false, "mark critical")
	cmd.Flags().StringVar(&dueAt, "due-at", "", "due timestamp (RFC3339)")
	_ = cmd.MarkFlagRequired("team")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.EventID == "" {
					f.EventID = e.Config.Event.ID
				}
				items, err := e.Repo.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Qty", "Critical", "Status", "Holder", "Response"})
				for _, it := range items {
					holder, response := "", ""
					if it.Assignment != nil {
						holder = it.Assignment.PersonID
						response = it.Assignment.Response
					}
					tw.AppendRow(table.Row{it.ID, it.Name, it.Quantity, it.Critical, it.Status, holder, response})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TeamID, "team", "", "team filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func itemGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.Repo.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemUpdateCmd() *cobra.Command {
	var name, category, dueAt string
	var quantity int
	var critical bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ItemUpdateOptions{ItemID: args[0], ActorID: viper.GetString("actor-id")}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("category") {
				opts.Category = &category
			}
			if cmd.Flags().Changed("quantity") {
				opts.Quantity = &quantity
			}
			if cmd.Flags().Changed("critical") {
				opts.Critical = &critical
			}
			if cmd.Flags().Changed("due-at") {
				opts.DueAt = &dueAt
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.EditItem(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "item name")
	cmd.Flags().StringVar(&category, "category", "", "category")
	cmd.Flags().IntVar(&quantity, "quantity", 0, "quantity")
	cmd.Flags().BoolVar(&critical, "critical", false, "mark critical")
	cmd.Flags().StringVar(&dueAt, "due-at", "", "due timestamp (RFC3339)")
	return cmd
}

func itemDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteItem(ctx, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func itemAssignCmd() *cobra.Command {
	var person string
	cmd := &cobra.Command{
		Use:   "assign <id>",
		Short: "Assign item to a person",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AssignItem(ctx, args[0], person, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&person, "person", "", "person id")
	_ = cmd.MarkFlagRequired("person")
	return cmd
}

func itemUnassignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unassign <id>",
		Short: "Release item assignment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.UnassignItem(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	return cmd
}

func itemRespondCmd() *cobra.Command {
	var response string
	cmd := &cobra.Command{
		Use:   "respond <id>",
		Short: "Respond to an assignment",
		Long:  "Records the actor's PENDING/ACCEPTED/DECLINED response on an item they hold. Works even while the event is frozen.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				a, err := e.RespondAssignment(ctx, args[0], actor, response, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&response, "response", "", "ACCEPTED or DECLINED")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func personCmd() *cobra.Command {
	person := &cobra.Command{
		Use:   "person",
		Short: "Manage people",
		Long:  "People join an event as HOST, COORDINATOR, or PARTICIPANT. Removing a person releases every item they hold.",
	}
	person.AddCommand(personAddCmd())
	person.AddCommand(personListCmd())
	person.AddCommand(personRemoveCmd())
	person.AddCommand(personInviteCmd())
	return person
}

func personAddCmd() *cobra.Command {
	var opts engine.PersonAddOptions
	var teamID string
	cmd := &cobra.Command{
		Use:   "add <id>",
		Short: "Add person to the event",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.PersonID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			opts.TeamID = optionalString(teamID)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.EventID = e.Config.Event.ID
				m, err := e.AddPerson(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Phone, "phone", "", "phone number")
	cmd.Flags().StringVar(&opts.Role, "role", domain.RoleParticipant, "role (HOST, COORDINATOR, PARTICIPANT)")
	cmd.Flags().StringVar(&teamID, "team", "", "team id")
	return cmd
}

func personListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List event members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				members, err := e.Repo.ListMemberships(ctx, e.Config.Event.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(members)
			})
		},
	}
	return cmd
}

func personRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove person and release their items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.RemovePerson(ctx, e.Config.Event.ID, args[0], viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func personInviteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invite <id>",
		Short: "Mint a share-link token for a person",
		Long:  "Prints a one-time token for the X-Link-Token header. Only the SHA-256 hash is stored.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			personID := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetMembership(ctx, e.Config.Event.ID, personID); err != nil {
					return err
				}
				token := uuid.New().String()
				lt := domain.LinkToken{
					ID:        uuid.New().String(),
					PersonID:  personID,
					EventID:   e.Config.Event.ID,
					TokenHash: repo.HashLinkToken(token),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := e.Repo.InsertLinkToken(ctx, nil, lt); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{
					"token":     token,
					"person_id": personID,
					"event_id":  lt.EventID,
				})
			})
		},
	}
	return cmd
}

func conflictCmd() *cobra.Command {
	conflict := &cobra.Command{
		Use:   "conflict",
		Short: "Manage conflicts",
		Long: `Conflicts are recorded findings (quantity.shortfall, dietary.uncovered) with the input values they were computed from.
Dismissing one snapshots those inputs; if an input later changes the dismissal resets and the conflict reopens.
CRITICAL conflicts are closed with 'gl conflict ack', which needs a real impact statement.`,
	}
	conflict.AddCommand(conflictRecordCmd())
	conflict.AddCommand(conflictListCmd())
	conflict.AddCommand(conflictGetCmd())
	conflict.AddCommand(conflictStatusCmd("dismiss", "Dismiss conflict"))
	conflict.AddCommand(conflictStatusCmd("resolve", "Resolve conflict"))
	conflict.AddCommand(conflictStatusCmd("delegate", "Delegate conflict"))
	conflict.AddCommand(conflictStatusCmd("reopen", "Reopen conflict"))
	conflict.AddCommand(conflictRescanCmd())
	conflict.AddCommand(conflictAckCmd())
	conflict.AddCommand(conflictAcksCmd())
	return conflict
}

func conflictRecordCmd() *cobra.Command {
	var opts engine.ConflictRecordOptions
	var inputsJSON string
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record a detected conflict",
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputsJSON != "" {
				if err := json.Unmarshal([]byte(inputsJSON), &opts.Inputs); err != nil {
					return fmt.Errorf("invalid --inputs-json: %w", err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.EventID = e.Config.Event.ID
				c, err := e.RecordConflict(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "conflict id (optional)")
	cmd.Flags().StringVar(&opts.Type, "type", "", "conflict type from the config catalog")
	cmd.Flags().StringVar(&opts.Severity, "severity", "", "CRITICAL, SIGNIFICANT, or ADVISORY")
	cmd.Flags().StringVar(&opts.Summary, "summary", "", "short human summary")
	cmd.Flags().StringVar(&inputsJSON, "inputs-json", "", "input tuples JSON array")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("severity")
	return cmd
}

func conflictListCmd() *cobra.Command {
	var f repo.ConflictFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.EventID == "" {
					f.EventID = e.Config.Event.ID
				}
				conflicts, err := e.Repo.ListConflicts(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(conflicts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Severity", "Status", "Summary"})
				for _, c := range conflicts {
					tw.AppendRow(table.Row{c.ID, c.Type, c.Severity, c.Status, c.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Severity, "severity", "", "severity filter")
	return cmd
}

func conflictGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Repo.GetConflict(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func conflictStatusCmd(verb, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   verb + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var run func(context.Context, string, string) (domain.Conflict, error)
				switch verb {
				case "dismiss":
					run = e.DismissConflict
				case "resolve":
					run = e.ResolveConflict
				case "delegate":
					run = e.DelegateConflict
				default:
					run = e.ReopenConflict
				}
				c, err := run(ctx, args[0], viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func conflictRescanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rescan",
		Short: "Reset dismissals whose inputs drifted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				reopened, err := e.RescanConflicts(ctx, e.Config.Event.ID, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"reopened": reopened})
				}
				if len(reopened) == 0 {
					fmt.Println("no dismissals reset")
					return nil
				}
				for _, id := range reopened {
					fmt.Println("reopened:", id)
				}
				return nil
			})
		},
	}
	return cmd
}

func conflictAckCmd() *cobra.Command {
	var opts engine.AcknowledgeOptions
	cmd := &cobra.Command{
		Use:   "ack <id>",
		Short: "Acknowledge a critical conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ConflictID = args[0]
			opts.ActorID = viper.GetString("actor-id")
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ack, err := e.Acknowledge(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(ack)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ImpactStatement, "impact", "", "impact statement (must name an affected party or mitigation)")
	cmd.Flags().BoolVar(&opts.Understood, "understood", false, "explicit understood confirmation")
	cmd.Flags().StringVar(&opts.MitigationType, "mitigation", "", "mitigation type from the config catalog")
	cmd.Flags().StringVar(&opts.Visibility, "visibility", domain.VisibilityParticipants, "HOSTS, COORDINATORS, or PARTICIPANTS")
	_ = cmd.MarkFlagRequired("impact")
	_ = cmd.MarkFlagRequired("mitigation")
	return cmd
}

func conflictAcksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acks <id>",
		Short: "List acknowledgements for a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				acks, err := e.Repo.ListAcknowledgements(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(acks)
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Inspect the audit log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if f.EventID == "" {
					f.EventID = e.Config.Event.ID
				}
				entries, err := e.Repo.ListAuditEntries(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(entries)
			})
		},
	}
	cmd.Flags().IntVar(&f.Limit, "n", 20, "number of entries")
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	cmd.Flags().Int64Var(&f.Cursor, "cursor", 0, "entries after this id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacyActor bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			_, cfg, err := app.ResolveEventAndConfig(cmd.Context(), workspace, viper.GetString("event"), r)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("GATHERLINE_JWT_SECRET"),
				AllowLegacyActorHeader: allowLegacyActor,
			}
			if authCfg.JWTSecret == "" && !allowLegacyActor {
				return fmt.Errorf("GATHERLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Gatherline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacyActor, "allow-legacy-actor", false, "accept X-Actor-Id without auth (local use)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveEventAndConfig(ctx, workspace, viper.GetString("event"), r)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseCounts(pairs []string) (map[string]int, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		name, raw, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("expected name=count, got %q", p)
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid count in %q", p)
		}
		out[strings.TrimSpace(name)] = n
	}
	return out, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
