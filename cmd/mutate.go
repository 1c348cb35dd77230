package cmd

import (
	"fmt"
	"strings"

	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(createCmd, setCmd, rmCmd, mvCmd)
}

// parseLiteral reads a CLI value as JSON when possible, else as a string:
// "42" is a number, "true" a bool, "INBOX" a string.
func parseLiteral(s string) any {
	if v, err := oj.ParseString(s); err == nil {
		return v
	}
	return s
}

var createCmd = &cobra.Command{
	Use:   "create <collection-uri> [key=value ...]",
	Short: "Create a new element in a collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		spec, err := reg.SpecifierFromURI(args[0])
		if err != nil {
			return err
		}
		props := make(map[string]any, len(args)-1)
		for _, kv := range args[1:] {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				return fmt.Errorf("property %q is not key=value", kv)
			}
			props[k] = parseLiteral(v)
		}
		uri, err := spec.Create(props)
		if err != nil {
			return err
		}
		fmt.Println(uri)
		return nil
	},
}

var setCmd = &cobra.Command{
	Use:   "set <uri> <value>",
	Short: "Set a settable scalar property",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		spec, err := reg.SpecifierFromURI(args[0])
		if err != nil {
			return err
		}
		return spec.Set(parseLiteral(args[1]))
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <uri>",
	Short: "Delete an element from its collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		spec, err := reg.SpecifierFromURI(args[0])
		if err != nil {
			return err
		}
		uri, err := spec.Delete()
		if err != nil {
			return err
		}
		fmt.Println(uri)
		return nil
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv <src-uri> <dst-collection-uri>",
	Short: "Move an element into another collection",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := loadRegistry()
		if err != nil {
			return err
		}
		src, err := reg.SpecifierFromURI(args[0])
		if err != nil {
			return err
		}
		dst, err := reg.SpecifierFromURI(args[1])
		if err != nil {
			return err
		}
		uri, err := src.MoveTo(dst)
		if err != nil {
			return err
		}
		fmt.Println(uri)
		return nil
	},
}
