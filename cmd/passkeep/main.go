package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var rootCmd = &cobra.Command{
	Use:   "passkeep",
	Short: "Passkeep CLI",
	Long:  "A CLI for managing accounts, vault items, shares, and emergency access in Passkeep.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadConfig()
		// Env var overrides are applied in newClient()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "Output format: table, json, raw")
	rootCmd.PersistentFlags().StringVar(&outputField, "field", "", "Print only this field (use with -format=raw)")

	rootCmd.AddCommand(loginCmd())
	rootCmd.AddCommand(logoutCmd())
	rootCmd.AddCommand(whoamiCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(shareCmd())
	rootCmd.AddCommand(emergencyCmd())
	rootCmd.AddCommand(orgCmd())
}

// readPassword prompts on stderr and reads without echo when stdin is
// a terminal.
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		data, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return string(data), err
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return strings.TrimSpace(scanner.Text()), scanner.Err()
}

// --- session ---

func loginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login <email>",
		Short: "Log in and save the session token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, _ := cmd.Flags().GetString("org")
			password, err := readPassword("Password: ")
			if err != nil {
				printError(err.Error())
				return nil
			}
			client := newClient()
			result, err := client.post("/v1/auth/login", map[string]any{
				"email":    args[0],
				"password": password,
				"org_id":   orgID,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			if tok, ok := result["token"].(string); ok {
				cfg.Token = tok
				if err := saveConfig(); err == nil {
					fmt.Fprintln(os.Stderr, "Token saved to config.")
				}
			}
			delete(result, "token")
			printResult(result)
			return nil
		},
	}
	cmd.Flags().String("org", "", "Organization to log into (default: first membership)")
	return cmd
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke the current session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/auth/logout", nil); err != nil {
				printError(err.Error())
				return nil
			}
			cfg.Token = ""
			saveConfig() //nolint:errcheck
			printSuccess("Success! Logged out.")
			return nil
		},
	}
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the current session",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/auth/me")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
}

// --- items ---

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage vault items"}

	putCmd := &cobra.Command{
		Use:   "put <name> <ciphertext>",
		Short: "Create a vault item from pre-encrypted data",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			itemType, _ := cmd.Flags().GetString("type")
			folder, _ := cmd.Flags().GetString("folder")
			client := newClient()
			result, err := client.post("/v1/vault/items", map[string]any{
				"name":       args[0],
				"type":       itemType,
				"folder":     folder,
				"ciphertext": args[1],
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	putCmd.Flags().String("type", "login", "Item type: login, note, card, credential")
	putCmd.Flags().String("folder", "", "Folder path")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Read a vault item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vault/items/" + args[0])
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List vault items",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/vault/items")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if items, ok := result["items"].([]any); ok {
				for _, it := range items {
					if m, ok := it.(map[string]any); ok {
						fmt.Printf("%v\t%v\t%v\n", m["id"], m["type"], m["name"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a vault item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if err := client.delete("/v1/vault/items/" + args[0]); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Item deleted.")
			return nil
		},
	}

	cmd.AddCommand(putCmd, getCmd, listCmd, rmCmd)
	return cmd
}

// --- shares ---

func shareCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "share", Short: "Manage share links"}

	createCmd := &cobra.Command{
		Use:   "create <item-id>",
		Short: "Create a share link for an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hours, _ := cmd.Flags().GetInt("expires-in")
			maxViews, _ := cmd.Flags().GetInt("max-views")
			password, _ := cmd.Flags().GetString("password")
			allowCopy, _ := cmd.Flags().GetBool("allow-copy")
			recipient, _ := cmd.Flags().GetString("recipient")
			client := newClient()
			result, err := client.post("/v1/shares", map[string]any{
				"item_id":          args[0],
				"expires_in_hours": hours,
				"max_views":        maxViews,
				"password":         password,
				"allow_copy":       allowCopy,
				"recipient_email":  recipient,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	createCmd.Flags().Int("expires-in", 0, "Hours until expiry (0 = organization maximum)")
	createCmd.Flags().Int("max-views", 0, "View limit (0 = unlimited)")
	createCmd.Flags().String("password", "", "Gate the link behind a password")
	createCmd.Flags().Bool("allow-copy", true, "Allow the recipient to copy the secret")
	createCmd.Flags().String("recipient", "", "Recipient email, for the audit trail")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List share links",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/shares")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if shares, ok := result["shares"].([]any); ok {
				for _, sh := range shares {
					if m, ok := sh.(map[string]any); ok {
						fmt.Printf("%v\titem=%v\tviews=%v/%v\trevoked=%v\n",
							m["id"], m["item_id"], m["view_count"], m["max_views"], m["revoked"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	revokeCmd := &cobra.Command{
		Use:   "revoke <link-id>",
		Short: "Revoke a share link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/shares/"+args[0]+"/revoke", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Share link revoked.")
			return nil
		},
	}

	accessCmd := &cobra.Command{
		Use:   "access <link-id>",
		Short: "Open a share link (consumes one view)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password, _ := cmd.Flags().GetString("password")
			client := newClient()
			result, err := client.post("/v1/share/"+args[0]+"/access", map[string]any{
				"password": password,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	accessCmd.Flags().String("password", "", "Link password, if gated")

	cmd.AddCommand(createCmd, listCmd, revokeCmd, accessCmd)
	return cmd
}

// --- emergency ---

func emergencyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "emergency", Short: "Emergency access workflow"}

	contactCmd := &cobra.Command{Use: "contact", Short: "Manage trusted contacts"}

	addCmd := &cobra.Command{
		Use:   "add <email>",
		Short: "Add a trusted contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			wait, _ := cmd.Flags().GetInt("wait-hours")
			client := newClient()
			result, err := client.post("/v1/emergency/contacts", map[string]any{
				"email":           args[0],
				"name":            name,
				"wait_time_hours": wait,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	addCmd.Flags().String("name", "", "Contact display name")
	addCmd.Flags().Int("wait-hours", 48, "Wait time before an undenied request is granted")

	contactListCmd := &cobra.Command{
		Use:   "list",
		Short: "List trusted contacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/emergency/contacts")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if contacts, ok := result["contacts"].([]any); ok {
				for _, c := range contacts {
					if m, ok := c.(map[string]any); ok {
						fmt.Printf("%v\t%v\twait=%vh\t%v\n", m["id"], m["email"], m["wait_time_hours"], m["status"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	contactRevokeCmd := &cobra.Command{
		Use:   "revoke <contact-id>",
		Short: "Revoke a trusted contact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/emergency/contacts/"+args[0]+"/revoke", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Contact revoked.")
			return nil
		},
	}
	contactCmd.AddCommand(addCmd, contactListCmd, contactRevokeCmd)

	requestCmd := &cobra.Command{
		Use:   "request <contact-id>",
		Short: "Open an emergency access request (no login required)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			client := newClient()
			result, err := client.post("/v1/emergency/request/"+args[0], map[string]any{
				"reason": reason,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	requestCmd.Flags().String("reason", "", "Why access is needed")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List emergency requests (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/emergency/requests")
			if err != nil {
				printError(err.Error())
				return nil
			}
			if reqs, ok := result["requests"].([]any); ok {
				for _, rq := range reqs {
					if m, ok := rq.(map[string]any); ok {
						fmt.Printf("%v\tcontact=%v\t%v\tgrant_at=%v\n", m["id"], m["contact_id"], m["state"], m["grant_at"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}

	denyCmd := &cobra.Command{
		Use:   "deny <request-id>",
		Short: "Deny a pending emergency request (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			if _, err := client.post("/v1/emergency/requests/"+args[0]+"/deny", nil); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Request denied.")
			return nil
		},
	}

	cmd.AddCommand(contactCmd, requestCmd, listCmd, denyCmd)
	return cmd
}

// --- org ---

func orgCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "org", Short: "Organization management"}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the current organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.get("/v1/org")
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	settingsCmd := &cobra.Command{
		Use:   "settings",
		Short: "Update organization settings (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			minWait, _ := cmd.Flags().GetInt("emergency-min-wait")
			maxExpiry, _ := cmd.Flags().GetInt("share-max-expiry")
			idle, _ := cmd.Flags().GetInt("idle-timeout")
			client := newClient()
			result, err := client.put("/v1/org/settings", map[string]any{
				"emergency_min_wait_hours":     minWait,
				"share_max_expiry_hours":       maxExpiry,
				"session_idle_timeout_minutes": idle,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	settingsCmd.Flags().Int("emergency-min-wait", 24, "Minimum emergency wait time in hours")
	settingsCmd.Flags().Int("share-max-expiry", 720, "Maximum share link lifetime in hours")
	settingsCmd.Flags().Int("idle-timeout", 0, "Session idle timeout in minutes (0 = never)")

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete the organization and all its data (owner)",
		RunE: func(cmd *cobra.Command, args []string) error {
			yes, _ := cmd.Flags().GetBool("yes")
			if !yes {
				printError("refusing to delete without --yes")
				return nil
			}
			client := newClient()
			if err := client.delete("/v1/org"); err != nil {
				printError(err.Error())
				return nil
			}
			printSuccess("Success! Organization deleted.")
			return nil
		},
	}
	deleteCmd.Flags().Bool("yes", false, "Confirm deletion")

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			action, _ := cmd.Flags().GetString("action")
			limit, _ := cmd.Flags().GetInt("limit")
			path := fmt.Sprintf("/v1/org/audit?limit=%d", limit)
			if action != "" {
				path += "&action=" + action
			}
			client := newClient()
			result, err := client.get(path)
			if err != nil {
				printError(err.Error())
				return nil
			}
			if events, ok := result["events"].([]any); ok {
				for _, ev := range events {
					if m, ok := ev.(map[string]any); ok {
						fmt.Printf("%v\t%v\tuser=%v\ttarget=%v\n", m["created_at"], m["action"], m["user_id"], m["target_id"])
					}
				}
				return nil
			}
			printResult(result)
			return nil
		},
	}
	auditCmd.Flags().String("action", "", "Filter by action tag")
	auditCmd.Flags().Int("limit", 50, "Maximum entries")

	inviteCmd := &cobra.Command{Use: "invite", Short: "Manage invitations"}

	inviteCreateCmd := &cobra.Command{
		Use:   "create <email>",
		Short: "Invite a user to the organization (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			role, _ := cmd.Flags().GetString("role")
			client := newClient()
			result, err := client.post("/v1/org/invites", map[string]any{
				"email": args[0],
				"role":  role,
			})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}
	inviteCreateCmd.Flags().String("role", "member", "Role to grant: member or admin")

	inviteAcceptCmd := &cobra.Command{
		Use:   "accept <token>",
		Short: "Accept an invitation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newClient()
			result, err := client.post("/v1/invites/accept", map[string]any{"token": args[0]})
			if err != nil {
				printError(err.Error())
				return nil
			}
			printResult(result)
			return nil
		},
	}

	inviteCmd.AddCommand(inviteCreateCmd, inviteAcceptCmd)
	cmd.AddCommand(showCmd, settingsCmd, deleteCmd, auditCmd, inviteCmd)
	return cmd
}
