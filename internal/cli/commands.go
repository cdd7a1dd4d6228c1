package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fjod/storefront/internal/storefront"
)

type runFunc func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error

// withApp builds the client from config, mounts it and runs fn.
func withApp(opts *RootOptions, cmd *cobra.Command, fn runFunc) error {
	return runApp(opts, cmd, true, fn)
}

// withSession runs fn without mounting, for commands that only touch the
// stored session and must work while the backend is down.
func withSession(opts *RootOptions, cmd *cobra.Command, fn runFunc) error {
	return runApp(opts, cmd, false, fn)
}

func runApp(opts *RootOptions, cmd *cobra.Command, mount bool, fn runFunc) error {
	a, err := newApp(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if mount {
		if err := a.sf.Mount(ctx); err != nil {
			return err
		}
	}
	return fn(ctx, a.sf, &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()})
}

func NewProductsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(_ context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				return out.Products(sf.View().Products)
			})
		},
	}
}

func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Search products by name or category",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				if err := sf.Search(ctx, strings.Join(args, " ")); err != nil {
					return err
				}
				return out.Products(sf.View().Products)
			})
		},
	}
}

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Search as you type: each stdin line is the current contents of the search box",
		Long: `Reads search text line by line from stdin, the way a search box changes
on every keystroke. A search is only sent once input has been quiet for the
debounce period; the result is printed whenever the catalog changes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				return runWatch(ctx, cmd, sf, out)
			})
		},
	}
}

func runWatch(ctx context.Context, cmd *cobra.Command, sf *storefront.Storefront, out *OutputFormatter) error {
	var last []string
	sf.Subscribe(func(v storefront.View) {
		ids := make([]string, len(v.Products))
		for i, p := range v.Products {
			ids[i] = p.ID
		}
		if last != nil && slices.Equal(ids, last) {
			return
		}
		last = ids
		_ = out.Products(v.Products)
	})

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		sf.SearchInput(ctx, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read input failed: %w", err)
	}
	sf.FlushSearch()
	return nil
}

func NewLoginCommand(rootOpts *RootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and store the session",
		Long:  "Log in and store the session. Without --password the password is read from the first line of stdin.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read password failed: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			return withSession(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				if err := sf.Login(ctx, args[0], password); err != nil {
					return err
				}
				return out.Session(sf.View())
			})
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "password (read from stdin when empty)")
	return cmd
}

func NewLogoutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				if err := sf.Logout(ctx); err != nil {
					return err
				}
				return out.Session(sf.View())
			})
		},
	}
}

func NewCartCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cart",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(_ context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				return out.Cart(sf.View())
			})
		},
	}
}

func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add one unit of a product that is not in the cart yet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				if err := sf.AddToCart(ctx, args[0]); err != nil {
					return err
				}
				return out.Cart(sf.View())
			})
		},
	}
}

func NewSetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set <product-id> <qty>",
		Short: "Set the quantity of a product; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return fmt.Errorf("invalid quantity %q: must be a non-negative integer", args[1])
			}
			return withApp(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				if err := sf.SetQuantity(ctx, args[0], qty); err != nil {
					return err
				}
				return out.Cart(sf.View())
			})
		},
	}
}

func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(ctx context.Context, sf *storefront.Storefront, out *OutputFormatter) error {
				if err := sf.Remove(ctx, args[0]); err != nil {
					return err
				}
				return out.Cart(sf.View())
			})
		},
	}
}
