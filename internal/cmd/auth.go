package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/taleforge/supportsync/internal/api"
	"github.com/taleforge/supportsync/internal/config"
	"github.com/taleforge/supportsync/internal/resolve"
	"github.com/taleforge/supportsync/internal/validation"
)

// newAuthCmd returns the auth command with subcommands
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "auth",
		Aliases: []string{"au"},
		Short:   "Manage authentication credentials",
		Long:    "Configure the support server URL, API token and viewer role, stored in your OS keychain.",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())

	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		url     string
		token   string
		role    string
		profile string
		envFile string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save credentials for a support server",
		Long: strings.TrimSpace(`
Save support server credentials to your OS keychain.

You'll need:
- Base URL: the support server (e.g. https://support.example.com)
- API Token: a user or agent token issued by the server

Use --role agent for agent tokens; admin commands require it.
`),
		Example: strings.TrimSpace(`
  ssync auth login --url https://support.example.com --token YOUR_TOKEN
  ssync auth login --url https://support.example.com --token AGENT_TOKEN --role agent --profile desk
  ssync auth login --env-file .env
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if envFile != "" {
				envVars, err := loadAuthEnvFile(envFile)
				if err != nil {
					return err
				}
				applyAuthEnvFileRuntimeVars(envVars)

				if url == "" {
					url = strings.TrimSpace(envVars[config.EnvBaseURL])
				}
				if token == "" {
					token = strings.TrimSpace(envVars[config.EnvAPIToken])
				}
				if !cmd.Flags().Changed("role") {
					if envRole := strings.TrimSpace(envVars[config.EnvRole]); envRole != "" {
						role = envRole
					}
				}
				if !cmd.Flags().Changed("profile") {
					if envProfile := strings.TrimSpace(envVars[config.EnvProfile]); envProfile != "" {
						profile = envProfile
					}
				}
			}

			if url == "" {
				return fmt.Errorf("--url is required")
			}
			if token == "" {
				return fmt.Errorf("--token is required")
			}
			viewer, err := resolve.ViewerRole(role)
			if err != nil {
				return err
			}

			url = strings.TrimSuffix(strings.TrimSpace(url), "/")
			if err := validation.ValidateBaseURL(url); err != nil {
				return fmt.Errorf("invalid URL: %w", err)
			}

			account := config.Account{BaseURL: url, APIToken: token, Role: viewer}
			if err := config.SaveProfile(profile, account); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"saved":    true,
					"base_url": url,
					"role":     viewer,
					"profile":  profile,
				})
			}
			printIfNotQuiet(cmd, "Authentication credentials saved successfully!\n")
			printIfNotQuiet(cmd, "  Base URL: %s\n", url)
			printIfNotQuiet(cmd, "  Role: %s\n", viewer)
			if profile != "" && profile != "default" {
				printIfNotQuiet(cmd, "  Profile: %s\n", profile)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "Support server base URL")
	cmd.Flags().StringVar(&token, "token", "", "API access token")
	cmd.Flags().StringVar(&role, "role", string(api.RoleUser), "Viewer role: user or agent")
	cmd.Flags().StringVar(&profile, "profile", "default", "Profile name to save credentials under")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load SUPPORTSYNC_* values from a .env file")
	flagAlias(cmd.Flags(), "url", "ur")
	flagAlias(cmd.Flags(), "token", "tk")
	flagAlias(cmd.Flags(), "role", "rl")
	flagAlias(cmd.Flags(), "profile", "pf")
	flagAlias(cmd.Flags(), "env-file", "env")

	return cmd
}

func loadAuthEnvFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--env-file requires a file path")
	}

	envVars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read --env-file %q: %w", path, err)
	}
	return envVars, nil
}

// applyAuthEnvFileRuntimeVars copies keyring settings from --env-file into
// the process environment when they are not already exported.
func applyAuthEnvFileRuntimeVars(envVars map[string]string) {
	keys := []string{
		"SUPPORTSYNC_KEYRING_BACKEND",
		"SUPPORTSYNC_KEYRING_PASSWORD",
		"SUPPORTSYNC_CREDENTIALS_DIR",
	}

	for _, key := range keys {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		value := strings.TrimSpace(envVars[key])
		if value == "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

func newAuthStatusCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current authentication configuration",
		Long:  "Display the saved authentication configuration. The API token is masked.",
		Example: strings.TrimSpace(`
  ssync auth status
  ssync auth status --check
  ssync auth status -o json
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			usingEnv := strings.TrimSpace(os.Getenv(config.EnvBaseURL)) != ""

			account, err := config.LoadAccount()
			if err != nil {
				if errors.Is(err, config.ErrNotConfigured) {
					if isJSON(cmd) {
						return printJSON(cmd, map[string]any{
							"authenticated": false,
							"message":       "Not authenticated. Run 'ssync auth login' to configure credentials.",
						})
					}
					printIfNotQuiet(cmd, "Not authenticated.\n")
					printIfNotQuiet(cmd, "Run 'ssync auth login' to configure credentials.\n")
					return nil
				}
				return fmt.Errorf("failed to load credentials: %w", err)
			}

			var profile string
			if !usingEnv {
				profile = strings.TrimSpace(os.Getenv(config.EnvProfile))
				if profile == "" {
					if current, err := config.CurrentProfile(); err == nil {
						profile = current
					}
				}
			}

			source := "keychain"
			if usingEnv {
				source = "env"
			}

			var reachable *bool
			if check {
				client := newClientFactory().newClient(config.ClientConfig{
					BaseURL: account.BaseURL,
					Token:   account.APIToken,
					Role:    account.ViewerRole(),
				})
				ok, err := client.HealthCheck(cmdContext(cmd))
				ok = ok && err == nil
				reachable = &ok
			}

			if isJSON(cmd) {
				payload := map[string]any{
					"authenticated": true,
					"base_url":      account.BaseURL,
					"role":          account.ViewerRole(),
					"api_token":     maskToken(account.APIToken),
					"source":        source,
				}
				if profile != "" {
					payload["profile"] = profile
				}
				if reachable != nil {
					payload["reachable"] = *reachable
				}
				return printJSON(cmd, payload)
			}

			printIfNotQuiet(cmd, "Authenticated\n")
			printIfNotQuiet(cmd, "  Base URL: %s\n", account.BaseURL)
			printIfNotQuiet(cmd, "  Role: %s\n", account.ViewerRole())
			printIfNotQuiet(cmd, "  API Token: %s\n", maskToken(account.APIToken))
			if profile != "" {
				printIfNotQuiet(cmd, "  Profile: %s\n", profile)
			}
			if usingEnv {
				printIfNotQuiet(cmd, "  Source: env\n")
			}
			if reachable != nil {
				state := "reachable"
				if !*reachable {
					state = "unreachable"
				}
				printIfNotQuiet(cmd, "  Server: %s\n", state)
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&check, "check", false, "Also check that the server answers GET /health")

	return cmd
}

func newAuthLogoutCmd() *cobra.Command {
	var profile string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove credentials from keychain",
		Example: strings.TrimSpace(`
  ssync auth logout
  ssync auth logout --profile desk
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			if profile == "" {
				current, err := config.CurrentProfile()
				if err != nil {
					return err
				}
				profile = current
			}

			if _, err := config.LoadProfile(profile); errors.Is(err, config.ErrNotConfigured) {
				printIfNotQuiet(cmd, "No credentials found.\n")
				return nil
			}

			if err := config.DeleteProfile(profile); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"removed": true, "profile": profile})
			}
			printIfNotQuiet(cmd, "Profile %s removed successfully.\n", profile)
			return nil
		}),
	}

	cmd.Flags().StringVar(&profile, "profile", "", "Profile name to remove (defaults to current)")
	flagAlias(cmd.Flags(), "profile", "pf")

	return cmd
}

// maskToken masks an API token for display, showing only first and last 4 characters
func maskToken(token string) string {
	if len(token) < 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
