package main

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"cartsync/internal/model"
)

// NewShowCommand creates the show command.
func NewShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			if err := c.finish(cmd); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), opts.Format, c.engine.State().Snapshot())
		},
	}
}

// AddOptions holds flags for the add command.
type AddOptions struct {
	*RootOptions
	Quantity  int
	Title     string
	Price     string
	Condition string
	Weight    float64
	Images    []string
}

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add <item-id>",
		Short: "Add an item, or increase its quantity",
		Example: `  cartctl add sku-1 --qty 2 --title "Deck" --price 12.50
  cartctl add 1042 --condition "Near Mint" --image https://img.example/1042.jpg`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := model.RawItem{
				ItemID:    model.FlexibleID(args[0]),
				Title:     opts.Title,
				Quantity:  opts.Quantity,
				Condition: opts.Condition,
				Images:    opts.Images,
			}
			if opts.Price != "" {
				price, err := decimal.NewFromString(opts.Price)
				if err != nil {
					return fmt.Errorf("invalid --price %q: %w", opts.Price, err)
				}
				raw.Price = price
			}
			if opts.Weight > 0 {
				raw.Weight = &opts.Weight
			}
			item, err := model.Normalize(raw)
			if err != nil {
				return err
			}

			return mutate(cmd, rootOpts, func(c *client) error {
				return c.engine.AddToCart(cmd.Context(), item)
			})
		},
	}

	cmd.Flags().IntVarP(&opts.Quantity, "qty", "q", 1, "quantity to add")
	cmd.Flags().StringVar(&opts.Title, "title", "", "display title")
	cmd.Flags().StringVar(&opts.Price, "price", "", "unit price, e.g. 12.50")
	cmd.Flags().StringVar(&opts.Condition, "condition", "", "grading label (default Good)")
	cmd.Flags().Float64Var(&opts.Weight, "weight", 0, "shipping weight (default 1)")
	cmd.Flags().StringArrayVar(&opts.Images, "image", nil, "image URL (repeatable)")

	return cmd
}

// NewSetQtyCommand creates the set-qty command.
func NewSetQtyCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-qty <item-id> <quantity>",
		Short: "Set a line's quantity; zero or less removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var qty int
			if _, err := fmt.Sscanf(args[1], "%d", &qty); err != nil {
				return fmt.Errorf("invalid quantity %q", args[1])
			}
			return mutate(cmd, opts, func(c *client) error {
				return c.engine.UpdateQuantity(cmd.Context(), args[0], qty)
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove a line",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, func(c *client) error {
				return c.engine.RemoveFromCart(cmd.Context(), args[0])
			})
		},
	}
}

// NewClearCommand creates the clear command.
func NewClearCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, opts, func(c *client) error {
				return c.engine.ClearCart(cmd.Context())
			})
		},
	}
}

// NewLoginCommand creates the login command.
func NewLoginCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "login <user-id>",
		Short: "Sign in and merge the guest cart into the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Server == "" {
				return fmt.Errorf("--server is required to log in")
			}
			c, err := openClient(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			c.engine.Observe(cmd.Context(), sessionFor(args[0]))
			if err := c.storage.Set(sessionKey, args[0]); err != nil {
				return fmt.Errorf("saving session: %w", err)
			}
			if err := c.finish(cmd); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), opts.Format, c.engine.State().Snapshot())
		},
	}
}

// NewLogoutCommand creates the logout command.
func NewLogoutCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out, keeping the cart as a guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openClient(cmd.Context(), cmd, opts)
			if err != nil {
				return err
			}
			c.engine.Observe(cmd.Context(), sessionFor(""))
			if err := c.storage.Remove(sessionKey); err != nil {
				return fmt.Errorf("clearing session: %w", err)
			}
			if err := c.finish(cmd); err != nil {
				return err
			}
			return printCart(cmd.OutOrStdout(), opts.Format, c.engine.State().Snapshot())
		},
	}
}

// mutate runs one engine mutation, waits for it to persist and prints the cart.
func mutate(cmd *cobra.Command, opts *RootOptions, fn func(*client) error) error {
	c, err := openClient(cmd.Context(), cmd, opts)
	if err != nil {
		return err
	}
	if err := fn(c); err != nil {
		return err
	}
	if err := c.finish(cmd); err != nil {
		return err
	}
	return printCart(cmd.OutOrStdout(), opts.Format, c.engine.State().Snapshot())
}
