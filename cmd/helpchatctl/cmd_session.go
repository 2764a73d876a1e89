package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/matheus3301/helpchat/internal/api"
	"github.com/matheus3301/helpchat/internal/config"
	"github.com/matheus3301/helpchat/internal/lock"
	"github.com/matheus3301/helpchat/internal/profile"
	"github.com/spf13/cobra"
)

func init() {
	turnInactiveCmd.Flags().BoolVar(&connectionFlag, "connection", false, "reset the connection state")
	turnInactiveCmd.Flags().BoolVar(&artifactsFlag, "artifacts", false, "wipe stored messages and flags")
	formSubmitCmd.Flags().StringVar(&nameFlag, "name", "", "contact name")
	formSubmitCmd.Flags().StringVar(&phoneFlag, "phone", "", "contact phone")
	formSubmitCmd.Flags().StringVar(&emailFlag, "email", "", "contact email")

	turnCmd.AddCommand(turnActiveCmd, turnInactiveCmd)
	formCmd.AddCommand(formToggleCmd, formSubmitCmd, formStatusCmd)
	profilesCmd.AddCommand(profilesListCmd)
	rootCmd.AddCommand(statusCmd, activeCmd, restoreCmd, offlineCmd, turnCmd, formCmd, profilesCmd)
}

var (
	connectionFlag bool
	artifactsFlag  bool
	nameFlag       string
	phoneFlag      string
	emailFlag      string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := call(api.MethodGetStatus, nil)
		if err != nil {
			return err
		}
		if jsonFlag {
			return outputJSON(resp)
		}
		f := resp.GetFields()
		fmt.Printf("Profile:  %s\n", f["profile"].GetStringValue())
		fmt.Printf("Status:   %s\n", f["state"].GetStringValue())
		fmt.Printf("Chat:     %d\n", int64(f["chat_id"].GetNumberValue()))
		fmt.Printf("History:  %s\n", f["activity"].GetStringValue())
		fmt.Printf("Mode:     %s\n", f["mode"].GetStringValue())
		fmt.Printf("Queued:   %d\n", int64(f["queued"].GetNumberValue()))
		fmt.Printf("Unread:   %v\n", f["has_unread"].GetBoolValue())
		if p := f["placeholder"].GetStringValue(); p != "" {
			fmt.Printf("Input:    %s\n", p)
		}
		if d := f["draft"].GetStringValue(); d != "" {
			fmt.Printf("Draft:    %s\n", d)
		}
		return nil
	},
}

var activeCmd = &cobra.Command{
	Use:       "active <on|off>",
	Short:     "Tell the engine whether the chat is on screen",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"on", "off"},
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodSetActiveChat, map[string]any{"active": args[0] == "on"})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Reload the stored chat and replay it to watchers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodRestoreChat, nil)
	},
}

var offlineCmd = &cobra.Command{
	Use:   "offline",
	Short: "Mark every stored agent offline",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodMakeAllAgentsOffline, nil)
	},
}

var turnCmd = &cobra.Command{
	Use:   "turn",
	Short: "Switch the session between active and inactive",
}

var turnActiveCmd = &cobra.Command{
	Use:   "active",
	Short: "Resume the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodTurnActive, nil)
	},
}

var turnInactiveCmd = &cobra.Command{
	Use:   "inactive",
	Short: "Tear the session down (both parts unless one is chosen)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodTurnInactive, map[string]any{
			"connection": connectionFlag,
			"artifacts":  artifactsFlag,
		})
	},
}

var formCmd = &cobra.Command{
	Use:   "form",
	Short: "Work with the contact form",
}

var formToggleCmd = &cobra.Command{
	Use:   "toggle <uuid>",
	Short: "Switch a contact form between editable and snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodToggleContactForm, map[string]any{"uuid": args[0]})
	},
}

var formSubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit contact info",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodSubmitContactInfo, map[string]any{
			"name":  nameFlag,
			"phone": phoneFlag,
			"email": emailFlag,
		})
	},
}

var formStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Ask the engine to publish the contact info status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return command(api.MethodContactInfoStatus, nil)
	},
}

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage profiles",
}

var profilesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known profiles",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadOrDefault(profile.ConfigPath())
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		names := map[string]bool{}
		for name := range cfg.Profiles {
			names[name] = true
		}
		dirs, _ := filepath.Glob(filepath.Join(profile.BaseDir(), "profiles", "*"))
		for _, d := range dirs {
			names[filepath.Base(d)] = true
		}
		if len(names) == 0 {
			fmt.Println("No profiles found.")
			return nil
		}
		sorted := make([]string, 0, len(names))
		for name := range names {
			sorted = append(sorted, name)
		}
		sort.Strings(sorted)

		def := cfg.ProfileName("")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tDAEMON\tPATH")
		for _, name := range sorted {
			state := "stopped"
			if h, ok := lock.Current(profile.Dir(name)); ok {
				state = fmt.Sprintf("running (pid %d, up %s)", h.PID, time.Since(h.Started).Truncate(time.Second))
			}
			marker := ""
			if name == def {
				marker = " *"
			}
			fmt.Fprintf(w, "%s%s\t%s\t%s\n", name, marker, state, profile.Dir(name))
		}
		return w.Flush()
	},
}
