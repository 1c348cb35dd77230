package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(resolveCmd, existsCmd, describeCmd)
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <uri>",
	Short: "Resolve a URI into its value",
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
		v, err := spec.Resolve()
		if err != nil {
			return err
		}
		printValue(v)
		return nil
	},
}

var existsCmd = &cobra.Command{
	Use:   "exists <uri>",
	Short: "Check whether a URI reaches a value",
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
		fmt.Println(spec.Exists())
		return nil
	},
}

var describeCmd = &cobra.Command{
	Use:   "describe <uri>",
	Short: "List the properties and addressing modes a URI offers",
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
		printValue(spec.Describe())
		return nil
	},
}
