package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/storefront"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The backend or the cart refused the operation
	ExitCommandError = 2 // Bad flags, config or local setup
)

// GetExitCode maps an error returned by a command onto a process exit code.
func GetExitCode(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case IsReported(err):
		return ExitFailure
	default:
		return ExitCommandError
	}
}

// IsReported tells whether err was already shown to the user as a
// notification, so it must not be printed again.
func IsReported(err error) bool {
	var e *domain.Error
	return errors.As(err, &e)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

func (f *OutputFormatter) Products(products []domain.Product) error {
	if f.Format == "json" {
		return f.json(products)
	}
	if len(products) == 0 {
		_, err := fmt.Fprintln(f.Writer, "No products found")
		return err
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tCOST\tRATING")
	for _, p := range products {
		fmt.Fprintf(tw, "%s\t%s\t%s\t$%.2f\t%d\n", p.ID, p.Name, p.Category, p.Cost, p.Rating)
	}
	return tw.Flush()
}

type cartOutput struct {
	Username string                `json:"username"`
	Items    []domain.CartLineItem `json:"items"`
	Total    float64               `json:"total"`
}

func (f *OutputFormatter) Cart(v storefront.View) error {
	if f.Format == "json" {
		return f.json(cartOutput{Username: v.Username, Items: v.Cart, Total: v.Total})
	}
	if !v.Authenticated {
		_, err := fmt.Fprintln(f.Writer, "Not logged in")
		return err
	}
	if len(v.Cart) == 0 {
		_, err := fmt.Fprintln(f.Writer, "Cart is empty")
		return err
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tCOST\tSUBTOTAL")
	for _, item := range v.Cart {
		fmt.Fprintf(tw, "%s\t%s\t%d\t$%.2f\t$%.2f\n", item.ID, item.Name, item.Quantity, item.Cost, item.Subtotal())
	}
	fmt.Fprintf(tw, "\t\t\tTOTAL\t$%.2f\n", v.Total)
	return tw.Flush()
}

func (f *OutputFormatter) Session(v storefront.View) error {
	if f.Format == "json" {
		return f.json(map[string]any{"authenticated": v.Authenticated, "username": v.Username, "balance": v.Balance})
	}
	if !v.Authenticated {
		_, err := fmt.Fprintln(f.Writer, "Not logged in")
		return err
	}
	_, err := fmt.Fprintf(f.Writer, "Logged in as %s (balance %s)\n", v.Username, v.Balance)
	return err
}

func (f *OutputFormatter) json(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
