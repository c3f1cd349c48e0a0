package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldline/internal/app"
	"fieldline/internal/config"
	"fieldline/internal/db"
	"fieldline/internal/domain"
	"fieldline/internal/engine"
	"fieldline/internal/migrate"
	"fieldline/internal/repo"
	"fieldline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fl",
	Short: "Fieldline CLI",
	Long: `Fieldline runs citizen-science field campaigns: questionnaires with
recurrence policies (BEFORE, AFTER, DAILY, EVERY_X_DAYS), contributor
responses, and the pending set each contributor still owes.
- Workspace: the .fieldline directory holding the database.
- Campaign: a study with a start, an optional end, and member contributors.
- Questionnaire: a form plus the policy saying when it must be answered again.
- Pending: what a contributor still has to answer right now, and why.
- Event log: diary of changes, view with 'fl log tail'.`,
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
	viper.SetEnvPrefix("FIELDLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("subject", "local-user", "acting subject (external identity)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("subject", rootCmd.PersistentFlags().Lookup("subject"))
}

func registerCommands() {
	rootCmd.AddCommand(campaignCmd())
	rootCmd.AddCommand(questionnaireCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(respondCmd())
	rootCmd.AddCommand(responsesCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func campaignCmd() *cobra.Command {
	c := &cobra.Command{Use: "campaign", Short: "Manage campaigns"}
	c.AddCommand(campaignCreateCmd())
	c.AddCommand(campaignListCmd())
	c.AddCommand(campaignShowCmd())
	c.AddCommand(campaignUpdateCmd())
	c.AddCommand(campaignCloseCmd())
	return c
}

func campaignCreateCmd() *cobra.Command {
	var title, description, startAt, endAt string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				c, err := e.CreateCampaign(ctx, engine.CreateCampaignOptions{
					Title:       title,
					Description: description,
					StartAt:     optionalString(startAt),
					EndAt:       optionalString(endAt),
					ActorID:     actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "campaign title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&startAt, "start-at", "", "start instant (RFC3339)")
	cmd.Flags().StringVar(&endAt, "end-at", "", "end instant (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func campaignListCmd() *cobra.Command {
	var includeDisabled bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaigns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListCampaigns(ctx, repo.CampaignFilters{IncludeDisabled: includeDisabled, Limit: limit})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Disabled", "End", "Created"})
				for _, c := range items {
					end := ""
					if c.EndAt != nil {
						end = *c.EndAt
					}
					tw.AppendRow(table.Row{c.ID, c.Title, c.IsDisabled, end, c.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&includeDisabled, "all", false, "include disabled campaigns")
	cmd.Flags().IntVar(&limit, "limit", 0, "max campaigns")
	return cmd
}

func campaignShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				c, err := e.GetCampaign(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	return cmd
}

func campaignUpdateCmd() *cobra.Command {
	var title, description, startAt, endAt string
	var disabled bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a campaign",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				opts := engine.UpdateCampaignOptions{ActorID: actor}
				if cmd.Flags().Changed("title") {
					opts.Title = &title
				}
				if cmd.Flags().Changed("description") {
					opts.Description = &description
				}
				if cmd.Flags().Changed("disabled") {
					opts.IsDisabled = &disabled
				}
				if cmd.Flags().Changed("start-at") {
					opts.StartAt = &startAt
				}
				if cmd.Flags().Changed("end-at") {
					opts.EndAt = &endAt
				}
				c, err := e.UpdateCampaign(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "campaign title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "disable or enable the campaign")
	cmd.Flags().StringVar(&startAt, "start-at", "", "start instant (RFC3339)")
	cmd.Flags().StringVar(&endAt, "end-at", "", "end instant (RFC3339)")
	return cmd
}

func campaignCloseCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a campaign (set its end instant)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				end := at
				if end == "" {
					end = time.Now().UTC().Format(time.RFC3339)
				}
				c, err := e.UpdateCampaign(ctx, args[0], engine.UpdateCampaignOptions{EndAt: &end, ActorID: actor})
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "end instant (RFC3339, default now)")
	return cmd
}

func questionnaireCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "questionnaire",
		Short: "Manage questionnaires",
		Long:  "A questionnaire is a form plus a recurrence policy: BEFORE (once, before the work), AFTER (once, after the campaign closes), DAILY, or EVERY_X_DAYS.",
	}
	q.AddCommand(questionnaireCreateCmd())
	q.AddCommand(questionnaireListCmd())
	q.AddCommand(questionnaireShowCmd())
	return q
}

func questionnaireCreateCmd() *cobra.Command {
	var campaignID, title, condition, formJSON string
	var frequencyDays int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create questionnaire",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				var freq *int
				if cmd.Flags().Changed("frequency-days") {
					freq = &frequencyDays
				}
				q, err := e.CreateQuestionnaire(ctx, engine.CreateQuestionnaireOptions{
					CampaignID:    campaignID,
					Title:         title,
					Condition:     condition,
					FrequencyDays: freq,
					FormJSON:      formJSON,
					ActorID:       actor,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&title, "title", "", "questionnaire title")
	cmd.Flags().StringVar(&condition, "condition", "", "BEFORE, AFTER, DAILY or EVERY_X_DAYS")
	cmd.Flags().IntVar(&frequencyDays, "frequency-days", 0, "interval for EVERY_X_DAYS")
	cmd.Flags().StringVar(&formJSON, "form-json", "", "form schema JSON")
	_ = cmd.MarkFlagRequired("campaign")
	_ = cmd.MarkFlagRequired("title")
	_ = cmd.MarkFlagRequired("condition")
	return cmd
}

func questionnaireListCmd() *cobra.Command {
	var campaignID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List questionnaires of a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListQuestionnaires(ctx, campaignID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Condition", "Frequency"})
				for _, q := range items {
					freq := ""
					if q.FrequencyDays != nil {
						freq = fmt.Sprintf("%d", *q.FrequencyDays)
					}
					tw.AppendRow(table.Row{q.ID, q.Title, q.Condition, freq})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func questionnaireShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a questionnaire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				q, err := e.GetQuestionnaire(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(q)
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	u := &cobra.Command{Use: "user", Short: "Manage users"}
	u.AddCommand(userRegisterCmd())
	u.AddCommand(userShowCmd())
	u.AddCommand(userAPIKeyCmd())
	return u
}

func userRegisterCmd() *cobra.Command {
	var subject, displayName string
	var admin bool
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if subject == "" {
				subject = viper.GetString("subject")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				u, err := e.RegisterUser(ctx, engine.RegisterUserOptions{
					Subject:     subject,
					DisplayName: displayName,
					IsAdmin:     admin,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "external identity (defaults to --subject root flag)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "display name")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserBySubject(ctx, viper.GetString("subject"))
				if err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userAPIKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(userAPIKeyCreateCmd())
	k.AddCommand(userAPIKeyListCmd())
	k.AddCommand(userAPIKeyDeleteCmd())
	return k
}

func userAPIKeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserBySubject(ctx, viper.GetString("subject"))
				if err != nil {
					return err
				}
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:        uuid.NewString(),
					UserID:    u.ID,
					Name:      name,
					KeyHash:   repo.HashAPIKey(raw),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSONOrTable(map[string]string{"id": key.ID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key name")
	return cmd
}

func userAPIKeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys of the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				u, err := r.GetUserBySubject(ctx, viper.GetString("subject"))
				if err != nil {
					return err
				}
				keys, err := r.ListAPIKeys(ctx, u.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	return cmd
}

func userAPIKeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage campaign members"}
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberRemoveCmd())
	m.AddCommand(memberListCmd())
	return m
}

func memberAddCmd() *cobra.Command {
	var campaignID, userID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a user to a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				target := userID
				if target == "" {
					target = actor
				}
				m, err := e.JoinCampaign(ctx, campaignID, target, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to acting user)")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	var campaignID, userID string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a user from a campaign",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				target := userID
				if target == "" {
					target = actor
				}
				return e.LeaveCampaign(ctx, campaignID, target, actor)
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	cmd.Flags().StringVar(&userID, "user", "", "user id (defaults to acting user)")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func memberListCmd() *cobra.Command {
	var campaignID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List campaign members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListMembers(ctx, campaignID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func pendingCmd() *cobra.Command {
	var campaignID string
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "Questionnaires the acting user still has to answer",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.PendingQuestionnaires(ctx, actor, campaignID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Condition", "Reason"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Title, p.Condition, p.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign id")
	_ = cmd.MarkFlagRequired("campaign")
	return cmd
}

func respondCmd() *cobra.Command {
	var questionnaireID, answersJSON string
	cmd := &cobra.Command{
		Use:   "respond",
		Short: "Submit a response",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				resp, err := e.SaveResponse(ctx, engine.SaveResponseOptions{
					QuestionnaireID: questionnaireID,
					UserID:          actor,
					AnswersJSON:     answersJSON,
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(resp)
			})
		},
	}
	cmd.Flags().StringVar(&questionnaireID, "questionnaire", "", "questionnaire id")
	cmd.Flags().StringVar(&answersJSON, "answers-json", "", "answers JSON")
	_ = cmd.MarkFlagRequired("questionnaire")
	_ = cmd.MarkFlagRequired("answers-json")
	return cmd
}

func responsesCmd() *cobra.Command {
	var f repo.ResponseFilters
	cmd := &cobra.Command{
		Use:   "responses",
		Short: "List responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				items, err := e.ListResponses(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.UserID, "user", "", "user id filter")
	cmd.Flags().StringVar(&f.QuestionnaireID, "questionnaire", "", "questionnaire id filter")
	cmd.Flags().StringVar(&f.CampaignID, "campaign", "", "campaign id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max responses")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect app config",
		Long:  "Config is stored in the DB once seeded: app id/kind, the scheduling timezone that decides where a day begins, and webhook targets. Import from fieldline.yml with 'fl config init'.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var appID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default fieldline.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			return os.WriteFile(path, []byte(config.GenerateDefault(appID)), 0o644)
		},
	}
	cmd.Flags().StringVar(&appID, "app-id", "fieldline", "app identifier")
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e *engine.Engine) error {
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

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: campaigns, questionnaires, memberships, and responses.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var campaignID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, campaignID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&campaignID, "campaign", "", "campaign filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var allowLegacy bool
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
			cfg, err := app.ResolveConfig(cmd.Context(), r, workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:                os.Getenv("FIELDLINE_JWT_SECRET"),
				AllowLegacySubjectHeader: allowLegacy,
			}
			if authCfg.JWTSecret == "" && !allowLegacy {
				return fmt.Errorf("FIELDLINE_JWT_SECRET is required for bearer auth (or pass --allow-legacy-subject for local use)")
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
			fmt.Printf("Serving Fieldline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&allowLegacy, "allow-legacy-subject", false, "accept the X-Subject header without auth (local use only)")
	return cmd
}

// --- helpers ---

// resolveActor maps the --subject flag to a user id, registering the subject
// on first use so local CLI workflows need no separate signup step.
func resolveActor(ctx context.Context, e *engine.Engine) (string, error) {
	subject := viper.GetString("subject")
	u, err := e.RegisterUser(ctx, engine.RegisterUserOptions{Subject: subject})
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func withEngine(ctx context.Context, fn func(context.Context, *engine.Engine) error) error {
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
	cfg, err := app.ResolveConfig(ctx, r, workspace)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
