package cmd

import (
	"encoding/json"
	"fmt"

	"capturekit/config"
	"capturekit/core"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var rulesAsJSON bool

var rulesCmd = &cobra.Command{
	Use:         "rules",
	Short:       "Prints the classifier rule tables in effect",
	Long:        `Prints the label and URL tables used to classify exchanges, either the built-in ones or those loaded from classifier.rules_file. The YAML output can be edited and fed back through that setting.`,
	Annotations: map[string]string{skipStoreAnnotation: ""},
	RunE: func(cmd *cobra.Command, args []string) error {
		classifier, err := core.ClassifierFromFile(config.AppConfig.Classifier.RulesFile)
		if err != nil {
			return err
		}
		var out []byte
		if rulesAsJSON {
			out, err = json.MarshalIndent(classifier.Rules(), "", "  ")
		} else {
			out, err = yaml.Marshal(classifier.Rules())
		}
		if err != nil {
			return fmt.Errorf("rendering rules: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rulesCmd.Flags().BoolVar(&rulesAsJSON, "json", false, "print JSON instead of YAML")
	rootCmd.AddCommand(rulesCmd)
}
