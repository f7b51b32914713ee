package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/TomFrankly/notion-time-tracker/internal/notion"
	"github.com/TomFrankly/notion-time-tracker/internal/store"
)

func newSettingsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Manage the Notion connection settings",
	}
	cmd.AddCommand(
		newSettingsShowCmd(o),
		newSettingsImportCmd(o),
		newSettingsSetTokenCmd(o),
		newSettingsDatabasesCmd(o),
		newSettingsPropertiesCmd(o),
	)
	return cmd
}

// withStore opens the state store for the duration of fn.
func withStore(o *options, fn func(*store.Store) error) error {
	st, err := store.Open(o.cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}

func newSettingsShowCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the settings as YAML (token masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(o, func(st *store.Store) error {
				s, err := st.Settings()
				if err != nil {
					return err
				}
				return writeSettings(cmd.OutOrStdout(), s)
			})
		},
	}
}

func writeSettings(w io.Writer, s store.Settings) error {
	s.Token = maskToken(s.Token)
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = w.Write(data)
	if verr := s.Validate(); verr != nil {
		fmt.Fprintf(w, "# incomplete: %v\n", verr)
	}
	return err
}

func newSettingsImportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file|->",
		Short: "Merge settings from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var data []byte
			var err error
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read settings: %w", err)
			}
			return withStore(o, func(st *store.Store) error {
				s, err := importSettings(st, data)
				if err != nil {
					return err
				}
				if verr := s.Validate(); verr != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "saved, but %v\n", verr)
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "settings saved")
				}
				return nil
			})
		},
	}
}

// importSettings decodes YAML over the stored settings, so fields the file
// leaves out keep their values.
func importSettings(st *store.Store, data []byte) (store.Settings, error) {
	s, err := st.Settings()
	if err != nil {
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("parse settings: %w", err)
	}
	if err := st.SaveSettings(s); err != nil {
		return s, err
	}
	return s, nil
}

func newSettingsSetTokenCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-token <token|->",
		Short: "Store the Notion integration token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token := args[0]
			if token == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read token: %w", err)
				}
				token = string(data)
			}
			token = strings.TrimSpace(token)
			if token == "" {
				return fmt.Errorf("%w: empty token", store.ErrConfig)
			}
			return withStore(o, func(st *store.Store) error {
				s, err := st.Settings()
				if err != nil {
					return err
				}
				s.Token = token
				return st.SaveSettings(s)
			})
		},
	}
}

// tokenClient builds a client from the stored token, for discovery commands
// that run before the database ids are known.
func tokenClient(o *options) (*notion.Client, error) {
	var token string
	err := withStore(o, func(st *store.Store) error {
		s, err := st.Settings()
		token = s.Token
		return err
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing token (run `timetrack settings set-token`)", store.ErrConfig)
	}
	return notionClient(o.cfg, token), nil
}

func newSettingsDatabasesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "databases [query]",
		Short: "List databases shared with the integration",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := tokenClient(o)
			if err != nil {
				return err
			}
			query := ""
			if len(args) == 1 {
				query = args[0]
			}
			records, err := client.Search(cmd.Context(), notion.KindSchema, query)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE")
			for _, r := range records {
				if s, ok := r.(notion.Schema); ok {
					fmt.Fprintf(tw, "%s\t%s\n", s.ID, s.Title)
				}
			}
			return tw.Flush()
		},
	}
}

func newSettingsPropertiesCmd(o *options) *cobra.Command {
	var propType string
	cmd := &cobra.Command{
		Use:   "properties <database-id>",
		Short: "List a database's properties",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := tokenClient(o)
			if err != nil {
				return err
			}
			schema, err := client.Database(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printProperties(cmd.OutOrStdout(), schema, propType)
		},
	}
	cmd.Flags().StringVar(&propType, "type", "", "only properties of this type (date, relation, status, ...)")
	return cmd
}

func printProperties(w io.Writer, schema notion.Schema, propType string) error {
	var props []notion.PropertySchema
	if propType != "" {
		props = schema.PropertiesOfType(propType)
	} else {
		for _, p := range schema.Properties {
			props = append(props, p)
		}
		sort.Slice(props, func(i, j int) bool { return props[i].Name < props[j].Name })
	}
	fmt.Fprintf(w, "%s (%s)\n", schema.Title, schema.ID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tID")
	for _, p := range props {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Type, p.ID)
	}
	return tw.Flush()
}
