package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/orbit-sh/orbitd/internal/manifest"
)

var (
	serverBase string
	natsURL    string
	log        *zap.SugaredLogger
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log = logger.Sugar()

	root := &cobra.Command{
		Use:           "orbctl",
		Short:         "Operator CLI for the orbitd workload reconciler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&serverBase, "server", "http://localhost:8080", "orbitd control API base URL")
	root.PersistentFlags().StringVar(&natsURL, "nats", "", "NATS URL for CLI event publishing (empty disables)")

	root.AddCommand(pingCmd(), applyCmd(), getCmd(), scaleCmd(), deleteCmd(), tickCmd())

	if err := root.Execute(); err != nil {
		log.Errorw("command failed", "err", err)
		os.Exit(1)
	}
}

func pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check daemon liveness",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(serverBase + "/ping")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			_, err = io.Copy(os.Stdout, resp.Body)
			return err
		},
	}
}

func applyCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply workload manifests from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			// Decode locally first for a fast, readable failure.
			specs, err := manifest.Decode(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}

			out, err := postBody("/v1/workloads", "application/yaml", data)
			if err != nil {
				return err
			}
			fmt.Printf("applied: %v\n", out["applied"])

			for _, spec := range specs {
				publishCLIEvent(map[string]any{
					"event":    "cli.apply",
					"workload": spec.Name,
					"replicas": spec.Replicas,
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "manifest file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}

func getCmd() *cobra.Command {
	var workload string
	cmd := &cobra.Command{
		Use:   "get {workloads|instances}",
		Short: "List workloads or instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "workloads":
				return printGet("/v1/workloads")
			case "instances":
				path := "/v1/instances"
				if workload != "" {
					path += "?workload=" + url.QueryEscape(workload)
				}
				return printGet(path)
			default:
				return fmt.Errorf("unknown resource %q", args[0])
			}
		},
	}
	cmd.Flags().StringVar(&workload, "workload", "", "filter instances by workload name")
	return cmd
}

func scaleCmd() *cobra.Command {
	var replicas int
	cmd := &cobra.Command{
		Use:   "scale NAME",
		Short: "Change a workload's desired replica count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			spec, err := fetchWorkload(name)
			if err != nil {
				return err
			}
			spec["replicas"] = replicas
			body, _ := json.Marshal(spec)
			out, err := postBody("/v1/workloads", "application/json", body)
			if err != nil {
				return err
			}
			fmt.Printf("scaled %s to %d replicas: %v\n", name, replicas, out["applied"])
			publishCLIEvent(map[string]any{"event": "cli.scale", "workload": name, "replicas": replicas})
			return nil
		},
	}
	cmd.Flags().IntVar(&replicas, "replicas", 1, "desired replica count")
	cmd.MarkFlagRequired("replicas")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a workload and terminate its instances",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			req, err := http.NewRequest(http.MethodDelete,
				serverBase+"/v1/workloads?name="+url.QueryEscape(name), nil)
			if err != nil {
				return err
			}
			out, err := doRequest(req)
			if err != nil {
				return err
			}
			fmt.Printf("removed %s, actions: %v\n", name, out["actions"])
			publishCLIEvent(map[string]any{"event": "cli.delete", "workload": name})
			return nil
		},
	}
}

func tickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Trigger one reconcile step",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := postBody("/v1/tick", "", nil)
			if err != nil {
				return err
			}
			if out["converged"] == true {
				fmt.Println("converged, no actions")
				return nil
			}
			fmt.Printf("actions: %v\n", out["actions"])
			return nil
		},
	}
}

// fetchWorkload pulls the current spec for name so scale can re-submit
// it with only the replica count changed.
func fetchWorkload(name string) (map[string]any, error) {
	resp, err := http.Get(serverBase + "/v1/workloads")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out struct {
		Workloads []map[string]any `json:"workloads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	for _, w := range out.Workloads {
		if w["name"] == name {
			return w, nil
		}
	}
	return nil, fmt.Errorf("workload %q not found", name)
}

func printGet(path string) error {
	resp, err := http.Get(serverBase + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func postBody(path, contentType string, body []byte) (map[string]any, error) {
	req, err := http.NewRequest(http.MethodPost, serverBase+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return doRequest(req)
}

func doRequest(req *http.Request) (map[string]any, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d: %v", resp.StatusCode, out["error"])
	}
	return out, nil
}

// publishCLIEvent mirrors mutating commands onto the cli.events subject
// for anything auditing operator activity. Best effort.
func publishCLIEvent(event map[string]any) {
	if natsURL == "" {
		return
	}
	nc, err := nats.Connect(natsURL)
	if err != nil {
		log.Debugw("nats unreachable, skipping cli event", "err", err)
		return
	}
	defer nc.Drain()
	payload, _ := json.Marshal(event)
	_ = nc.Publish("cli.events", payload)
}
