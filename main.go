package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/haydenwoodhead/gateway"
	"github.com/radarsiope/radar/dispatch"
	"github.com/radarsiope/radar/gate"
	"github.com/radarsiope/radar/radar"
	"github.com/radarsiope/radar/token"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func main() {
	loadEnv()
	setupLogging()

	root := &cobra.Command{
		Use:   "radar",
		Short: "Radar SIOPE newsletter gate and email dispatcher",
	}

	root.AddCommand(serveCmd(), dispatchCmd(), linkCmd(), keyCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve newsletter links, tracking and the dispatch api",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := mustParseConfig()
			db := mustParseStore()

			s, err := radar.New(cfg, db, mustParseTransport(db))
			if err != nil {
				return fmt.Errorf("failed to setup server: %w", err)
			}

			if cfg.UsingLambda {
				return gateway.ListenAndServe("", s.Router)
			}

			port := parseStringVarWithDefault("PORT", "8080")
			log.WithField("port", port).Info("listening")
			return http.ListenAndServe(":"+port, s.Router)
		},
	}
}

// jobsFile accepts either a bare list of jobs or a document with a jobs key
type jobsFile struct {
	Jobs []dispatch.Job `yaml:"jobs"`
}

func readJobs(path string) ([]dispatch.Job, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var list []dispatch.Job
	if err := yaml.Unmarshal(b, &list); err == nil {
		return list, nil
	}

	var f jobsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %v: %w", path, err)
	}
	return f.Jobs, nil
}

func dispatchCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Send the jobs of a yaml or json file and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := readJobs(file)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				return fmt.Errorf("no jobs in %v", file)
			}

			cfg := mustParseConfig()
			db := mustParseStore()
			if err := db.Start(); err != nil {
				return fmt.Errorf("failed to start database: %w", err)
			}

			d := radar.NewDispatcher(cfg, db, mustParseTransport(db))
			out := radar.Summarise(d.Dispatch(context.Background(), jobs))

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "jobs.yaml", "file holding the jobs")

	return cmd
}

func linkCmd() *cobra.Command {
	var q gate.Request

	cmd := &cobra.Command{
		Use:   "link",
		Short: "Print the short newsletter link of a send",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := parseStringVarWithDefault("WEBSITE_URL", "http://localhost:8080")
			d := gate.EncodeShortLink(q.Query())
			fmt.Fprintf(cmd.OutOrStdout(), "%v/n?%v\n", base, url.Values{"d": {d}}.Encode())
			return nil
		},
	}

	cmd.Flags().StringVar(&q.EditionID, "edition", "", "edition id")
	cmd.Flags().StringVar(&q.SendID, "send", "", "send id")
	cmd.Flags().StringVar(&q.RecipientID, "recipient", "", "recipient id")
	cmd.Flags().StringVar(&q.AccessToken, "token", "", "access token")
	cmd.Flags().StringVar(&q.SubscriptionID, "subscription", "", "subscription id, empty for leads")

	return cmd
}

func keyCmd() *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "key [client]",
		Short: "Print an api key for the dispatch endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tg := token.NewGenerator(mustParseStringVar("KEY"), ttl)
			fmt.Fprintln(cmd.OutOrStdout(), tg.NewToken(args[0]))
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 365*24*time.Hour, "how long the key stays valid")

	return cmd
}
