package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshp123/flairbridge/internal/accessory"
	"github.com/joshp123/flairbridge/internal/server"
)

var accessoriesCmd = &cobra.Command{
	Use:     "accessories",
	Aliases: []string{"ls"},
	Short:   "List accessories published by the bridge",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		list, err := newAPIClient(resolveHTTPAddr()).Accessories(ctx)
		if err != nil {
			return err
		}
		out := newOutput(cmd)
		if done, err := out.structured(list); done {
			return err
		}
		rows := [][]string{{"NAME", "CATEGORY", "UUID", "SERVICES"}}
		for _, acc := range list {
			rows = append(rows, []string{acc.DisplayName, acc.Category, acc.UUID, serviceList(acc)})
		}
		out.table(rows)
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <name|uuid>",
	Short: "Show every characteristic of one accessory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		client := newAPIClient(resolveHTTPAddr())
		acc, err := lookup(ctx, client, args[0])
		if err != nil {
			return err
		}
		acc, err = client.Accessory(ctx, acc.UUID)
		if err != nil {
			return err
		}
		return printSnapshot(newOutput(cmd), acc)
	},
}

var setCmd = &cobra.Command{
	Use:   "set <name|uuid> <service> <characteristic> <value>",
	Short: "Write a characteristic, e.g. set bedroom_vent WindowCovering TargetPosition 50",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		client := newAPIClient(resolveHTTPAddr())
		acc, err := lookup(ctx, client, args[0])
		if err != nil {
			return err
		}
		updated, err := client.Set(ctx, acc.UUID, server.SetRequest{
			Service:        accessory.ServiceType(args[1]),
			Characteristic: accessory.Characteristic(args[2]),
			Value:          parseValue(args[3]),
		})
		if err != nil {
			return err
		}
		return printSnapshot(newOutput(cmd), updated)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run a discovery pass now",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
		defer cancel()
		res, err := newAPIClient(resolveHTTPAddr()).Reconcile(ctx)
		if err != nil {
			return err
		}
		out := newOutput(cmd)
		if done, err := out.structured(res); done {
			return err
		}
		out.table([][]string{
			{"added", fmt.Sprint(len(res.Added)), strings.Join(res.Added, ", ")},
			{"kept", fmt.Sprint(len(res.Kept)), strings.Join(res.Kept, ", ")},
			{"removed", fmt.Sprint(len(res.Removed)), strings.Join(res.Removed, ", ")},
		})
		if res.Error != "" {
			return fmt.Errorf("partial reconcile: %s", res.Error)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(accessoriesCmd, getCmd, setCmd, reconcileCmd)
}

func lookup(ctx context.Context, client *apiClient, input string) (accessory.Snapshot, error) {
	list, err := client.Accessories(ctx)
	if err != nil {
		return accessory.Snapshot{}, err
	}
	return resolveAccessory(input, list)
}

// parseValue keeps numbers and booleans typed and falls back to a string.
func parseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

func printSnapshot(out outputMode, acc accessory.Snapshot) error {
	if done, err := out.structured(acc); done {
		return err
	}
	rows := [][]string{{"SERVICE", "CHARACTERISTIC", "VALUE", "WRITABLE"}}
	for _, svc := range sortedServices(acc) {
		chars := make([]string, 0, len(acc.Services[svc]))
		for char := range acc.Services[svc] {
			chars = append(chars, string(char))
		}
		sort.Strings(chars)
		for _, char := range chars {
			c := accessory.Characteristic(char)
			rows = append(rows, []string{string(svc), char, fmt.Sprint(acc.Services[svc][c]), writableMark(acc, svc, c)})
		}
	}
	fmt.Fprintf(out.w, "%s (%s) %s\n", acc.DisplayName, acc.Category, acc.UUID)
	out.table(rows)
	return nil
}

func sortedServices(acc accessory.Snapshot) []accessory.ServiceType {
	out := make([]accessory.ServiceType, 0, len(acc.Services))
	for svc := range acc.Services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func serviceList(acc accessory.Snapshot) string {
	names := make([]string, 0, len(acc.Services))
	for _, svc := range sortedServices(acc) {
		if svc == accessory.ServiceAccessoryInformation {
			continue
		}
		names = append(names, string(svc))
	}
	return strings.Join(names, ",")
}

func writableMark(acc accessory.Snapshot, svc accessory.ServiceType, char accessory.Characteristic) string {
	for _, c := range acc.Writable[svc] {
		if c == char {
			return "yes"
		}
	}
	return ""
}
