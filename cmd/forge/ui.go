package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"idleforge/internal/economy"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/shopspring/decimal"
)

var (
	accent  = color.New(color.FgCyan, color.Bold)
	success = color.New(color.FgGreen, color.Bold)
	warn    = color.New(color.FgYellow, color.Bold)
	danger  = color.New(color.FgRed, color.Bold)
	neutral = color.New(color.FgHiWhite)
)

type savePayload struct {
	Status    string    `json:"status"`
	Saves     uint64    `json:"saves"`
	LastSaved time.Time `json:"last_saved"`
	LastError string    `json:"last_error"`
}

type viewPayload struct {
	SessionID string      `json:"session_id"`
	PlayerID  string      `json:"player_id"`
	OpenedAt  time.Time   `json:"opened_at"`
	Save      savePayload `json:"save"`
	economy.View
}

type catalogPayload struct {
	Upgrades []struct {
		economy.UpgradeDefinition
		Dependents []string `json:"dependents"`
		Problem    string   `json:"problem"`
	} `json:"upgrades"`
}

type quotePayload struct {
	UpgradeID string          `json:"upgrade_id"`
	Count     uint64          `json:"count"`
	Units     int             `json:"units"`
	Total     decimal.Decimal `json:"total"`
}

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func renderView(v viewPayload) error {
	accent.Printf("\n== %s ==\n", v.PlayerID)
	fmt.Printf("Balance:        %s coins\n", formatCoins(v.Balance))
	fmt.Printf("Income:         %s coins/s\n", formatCoins(v.PerSecond))
	fmt.Printf("Total Earned:   %s coins\n", formatCoins(v.TotalEarned))
	fmt.Printf("Clicks:         %s\n", humanize.Comma(int64(v.TotalClicks)))
	fmt.Printf("Purchases:      %s\n", humanize.Comma(int64(v.TotalPurchases)))
	fmt.Printf("Save:           %s\n", renderSaveStatus(v.Save))

	fmt.Println()
	accent.Println("Upgrades")
	fmt.Printf("%-18s %-10s %-10s %8s %16s %14s %14s\n", "ID", "CATEGORY", "TIER", "OWNED", "NEXT PRICE", "UNIT/S", "TOTAL/S")
	for _, u := range v.Upgrades {
		price := formatCoins(u.NextPrice)
		switch {
		case u.Error != "":
			price = danger.Sprint("unpriceable")
		case !u.Unlocked:
			price = neutral.Sprint("locked")
		case u.Affordable:
			price = success.Sprint(price)
		}
		fmt.Printf("%-18s %-10s %-10s %8s %16s %14s %14s\n",
			truncate(u.ID, 18),
			u.Category,
			u.Tier,
			humanize.Comma(int64(u.Count)),
			price,
			formatCoins(u.UnitIncome),
			formatCoins(u.Contribution),
		)
		for _, m := range u.Missing {
			fmt.Printf("  needs %d x %s\n", m.MinCount, m.UpgradeID)
		}
	}
	fmt.Println()
	return nil
}

func renderSaveStatus(s savePayload) string {
	switch s.Status {
	case "error":
		return danger.Sprintf("error (%s)", s.LastError)
	case "pending", "saving":
		return warn.Sprint(s.Status)
	}
	if s.LastSaved.IsZero() {
		return neutral.Sprint("not saved yet")
	}
	return success.Sprintf("saved %s", humanize.Time(s.LastSaved))
}

func renderClick(raw map[string]any, times int) error {
	res, err := decodeInto[economy.ClickResult](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Clicked %s time(s). Balance %s coins.", humanize.Comma(int64(times)), formatCoins(res.Balance)))
	return nil
}

func renderPurchase(raw map[string]any) error {
	res, err := decodeInto[economy.PurchaseResult](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Bought %s for %s coins (now %s owned).", res.UpgradeID, formatCoins(res.Paid), humanize.Comma(int64(res.Count))))
	fmt.Printf("Next price:  %s coins\n", formatCoins(res.NextPrice))
	fmt.Printf("Income:      %s coins/s\n", formatCoins(res.PerSecond))
	fmt.Printf("Balance:     %s coins\n", formatCoins(res.Balance))
	return nil
}

func renderQuote(raw map[string]any) error {
	q, err := decodeInto[quotePayload](raw)
	if err != nil {
		return err
	}
	fmt.Printf("%s x %s (from %s owned): %s coins\n",
		humanize.Comma(int64(q.Units)), q.UpgradeID, humanize.Comma(int64(q.Count)), formatCoins(q.Total))
	return nil
}

func renderSaveStats(raw map[string]any) error {
	s, err := decodeInto[savePayload](raw)
	if err != nil {
		return err
	}
	printSuccess(fmt.Sprintf("Saved (%s writes this session).", humanize.Comma(int64(s.Saves))))
	return nil
}

func renderCatalog(raw map[string]any) error {
	c, err := decodeInto[catalogPayload](raw)
	if err != nil {
		return err
	}
	accent.Println("\n== CATALOG ==")
	fmt.Printf("%-18s %-22s %-10s %-10s %14s %8s %12s\n", "ID", "NAME", "CATEGORY", "TIER", "BASE COST", "GROWTH", "BASE/S")
	for _, u := range c.Upgrades {
		fmt.Printf("%-18s %-22s %-10s %-10s %14s %8s %12s\n",
			truncate(u.ID, 18),
			truncate(u.Name, 22),
			u.Category,
			u.Tier,
			formatCoins(u.BaseCost),
			u.CostMultiplier.String(),
			formatCoins(u.BaseIncome),
		)
		if len(u.Requirements) > 0 {
			parts := make([]string, 0, len(u.Requirements))
			for _, r := range u.Requirements {
				parts = append(parts, fmt.Sprintf("%d x %s", r.MinCount, r.UpgradeID))
			}
			neutral.Printf("  requires %s\n", strings.Join(parts, ", "))
		}
		if u.Problem != "" {
			danger.Printf("  %s\n", u.Problem)
		}
	}
	fmt.Println()
	return nil
}

func decodeInto[T any](in any) (T, error) {
	var out T
	raw, err := json.Marshal(in)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// formatCoins groups the integer part and keeps at most two decimals.
func formatCoins(d decimal.Decimal) string {
	f, _ := d.Round(2).Float64()
	return humanize.FormatFloat("#,###.##", f)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
