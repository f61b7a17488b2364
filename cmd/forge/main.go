package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	cl "idleforge/internal/cli"
	"idleforge/internal/config"
	"idleforge/internal/economy"
	"idleforge/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type app struct {
	cfg    config.CLIConfig
	player string
}

func main() {
	a := &app{cfg: config.LoadCLIFromEnv()}

	root := &cobra.Command{
		Use:          "forge",
		Short:        "Idleforge CLI client",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&a.cfg.APIBaseURL, "api", a.cfg.APIBaseURL, "API base URL")
	root.PersistentFlags().StringVarP(&a.player, "player", "p", "", "player id (defaults to the last played)")

	root.AddCommand(
		a.newPlayCmd(),
		a.newStateCmd(),
		a.newClickCmd(),
		a.newBuyCmd(),
		a.newQuoteCmd(),
		a.newSaveCmd(),
		a.newCloseCmd(),
		a.newSyncCmd(),
		a.newCatalogCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func (a *app) client() *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(a.cfg.APIBaseURL), "/"), a.cfg.Timeout)
}

// playerID resolves the flag, then IDLEFORGE_PLAYER, then the local
// session file.
func (a *app) playerID() (string, error) {
	if p := strings.TrimSpace(a.player); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(a.cfg.PlayerID); p != "" {
		return p, nil
	}
	sess, err := cl.LoadSession()
	if err != nil {
		return "", fmt.Errorf("no player selected, run `forge play <player>` first: %w", err)
	}
	return sess.PlayerID, nil
}

func (a *app) newPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "play <player>",
		Short: "Open or resume a player's economy",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player := ""
			if len(args) == 1 {
				player = strings.TrimSpace(args[0])
			} else {
				p, err := a.playerID()
				if err != nil {
					return err
				}
				player = p
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().OpenSession(ctx, player)
			if err != nil {
				return err
			}
			view, err := decodeInto[viewPayload](out)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.LocalSession{
				PlayerID:  view.PlayerID,
				SessionID: view.SessionID,
				OpenedAt:  view.OpenedAt,
			}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Playing as %s.", view.PlayerID))
			return renderView(view)
		},
	}
}

func (a *app) newStateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show balance, income and upgrades",
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := a.playerID()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().State(ctx, player)
			if err != nil {
				return err
			}
			view, err := decodeInto[viewPayload](out)
			if err != nil {
				return err
			}
			return renderView(view)
		},
	}
}

func (a *app) newClickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "click [times]",
		Short: "Earn the manual click reward",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := a.playerID()
			if err != nil {
				return err
			}
			times := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(strings.TrimSpace(args[0]))
				if err != nil || n < 1 {
					return fmt.Errorf("times must be a positive integer")
				}
				times = n
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			idem := uuid.NewString()
			out, err := a.client().Click(ctx, player, times, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           playerPath(player, "click") + "?times=" + strconv.Itoa(times),
					IdempotencyKey: idem,
				})
			}
			return renderClick(out, times)
		},
	}
}

func (a *app) newBuyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <upgrade>",
		Short: "Buy one unit of an upgrade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := a.playerID()
			if err != nil {
				return err
			}
			upgrade := strings.TrimSpace(args[0])
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			idem := uuid.NewString()
			out, err := a.client().Buy(ctx, player, upgrade, idem)
			if err != nil {
				return queueOnNetworkError(err, syncq.Command{
					Method:         http.MethodPost,
					Path:           playerPath(player, "upgrades", url.PathEscape(upgrade), "buy"),
					IdempotencyKey: idem,
				})
			}
			return renderPurchase(out)
		},
	}
}

func (a *app) newQuoteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "quote <upgrade> [units]",
		Short: "Price the next units of an upgrade",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := a.playerID()
			if err != nil {
				return err
			}
			n := 1
			if len(args) == 2 {
				v, err := strconv.Atoi(strings.TrimSpace(args[1]))
				if err != nil || v < 1 {
					return fmt.Errorf("units must be a positive integer")
				}
				n = v
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Quote(ctx, player, strings.TrimSpace(args[0]), n)
			if err != nil {
				return err
			}
			return renderQuote(out)
		},
	}
}

func (a *app) newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save",
		Short: "Persist the economy now",
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := a.playerID()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Save(ctx, player)
			if err != nil {
				return err
			}
			return renderSaveStats(out)
		},
	}
}

func (a *app) newCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close",
		Short: "Save and close the server session",
		RunE: func(cmd *cobra.Command, args []string) error {
			player, err := a.playerID()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if _, err := a.client().CloseSession(ctx, player); err != nil {
				return err
			}
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Session for %s saved and closed.", player))
			return nil
		},
	}
}

func (a *app) newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay writes queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := syncq.Load()
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := a.client()
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()

			dropped := 0
			replayed, remaining, err := syncq.Replay(func(q syncq.Command) error {
				_, err := client.Do(ctx, q.Method, q.Path, q.Body, q.IdempotencyKey)
				if err == nil {
					return nil
				}
				if cl.IsAPIError(err) {
					// The server answered; retrying the same write cannot help.
					dropped++
					printWarn(fmt.Sprintf("Dropped %s %s: %v", q.Method, q.Path, err))
					return nil
				}
				printError(fmt.Sprintf("Sync failed for %s %s: %v", q.Method, q.Path, err))
				return err
			})
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", replayed-dropped, dropped, len(remaining)))
			return nil
		},
	}
}

func (a *app) newCatalogCmd() *cobra.Command {
	catalog := &cobra.Command{
		Use:   "catalog",
		Short: "List the server's upgrade catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			out, err := a.client().Catalog(ctx)
			if err != nil {
				return err
			}
			return renderCatalog(out)
		},
	}
	catalog.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a catalog TOML file without contacting the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := economy.ReadCatalogFile(args[0])
			if err != nil {
				return err
			}
			problems := c.CurveProblems()
			for _, id := range c.Order() {
				if err := problems[id]; err != nil {
					printWarn(fmt.Sprintf("%s: %v", id, err))
				}
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d upgrade(s) cannot be priced", len(problems))
			}
			printSuccess(fmt.Sprintf("Catalog OK: %d upgrades.", c.Len()))
			return nil
		},
	})
	return catalog
}

func queueOnNetworkError(err error, q syncq.Command) error {
	if err == nil {
		return nil
	}
	if cl.IsAPIError(err) {
		return err
	}
	if qerr := syncq.Push(q); qerr != nil {
		return fmt.Errorf("request failed and could not be queued: %w", err)
	}
	printWarn("Server unreachable; queued for `forge sync`.")
	return nil
}

func playerPath(player string, parts ...string) string {
	p := "/v1/players/" + url.PathEscape(player)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}
