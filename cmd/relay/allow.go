package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/relaybot/relay/internal/config"
)

func newAllowCmd() *cobra.Command {
	var (
		remove bool
		list   bool
	)

	cmd := &cobra.Command{
		Use:   "allow [username]",
		Short: "Manage the allowed users list",
		Long: `Add, remove, or list GitHub usernames allowed to task the bot.

Examples:
  relay allow octocat          # Add user
  relay allow --remove octocat # Remove user
  relay allow --list           # List allowed users`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if list {
				return listAllowedUsers()
			}
			if len(args) == 0 {
				return fmt.Errorf("username is required (or use --list to show current users)")
			}

			username := strings.TrimSpace(args[0])
			if username == "" {
				return fmt.Errorf("username must not be blank")
			}

			if remove {
				return removeAllowedUser(username)
			}
			return addAllowedUser(username)
		},
	}

	cmd.Flags().BoolVar(&remove, "remove", false, "Remove user from allowed_users")
	cmd.Flags().BoolVar(&list, "list", false, "List current allowed users")

	return cmd
}

func listAllowedUsers() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if cfg.Watcher == nil || len(cfg.Watcher.AllowedUsers) == 0 {
		fmt.Println("No allowed users configured (everyone may task the bot)")
		return nil
	}

	fmt.Println("Allowed users:")
	for _, user := range cfg.Watcher.AllowedUsers {
		fmt.Printf("  %s\n", user)
	}
	fmt.Printf("\nTotal: %d user(s)\n", len(cfg.Watcher.AllowedUsers))
	return nil
}

func addAllowedUser(username string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	for _, existing := range cfg.Watcher.AllowedUsers {
		if strings.EqualFold(existing, username) {
			fmt.Printf("User %s is already allowed\n", username)
			return nil
		}
	}

	cfg.Watcher.AllowedUsers = append(cfg.Watcher.AllowedUsers, username)
	if err := saveConfig(cfg); err != nil {
		return err
	}

	fmt.Printf("Added %s to allowed users\n", username)
	return nil
}

func removeAllowedUser(username string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	kept := cfg.Watcher.AllowedUsers[:0]
	found := false
	for _, existing := range cfg.Watcher.AllowedUsers {
		if strings.EqualFold(existing, username) {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		fmt.Printf("User %s is not in the allowed list\n", username)
		return nil
	}

	cfg.Watcher.AllowedUsers = kept
	if err := saveConfig(cfg); err != nil {
		return err
	}

	fmt.Printf("Removed %s from allowed users\n", username)
	return nil
}

func saveConfig(cfg *config.Config) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Save(cfg, path)
}
