// Command client is an interactive and scriptable client for a Chord DHT
// node's binary client-API port.
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"dhtnode/internal/domain"
	"dhtnode/internal/wire"
)

func main() {
	var (
		addr    string
		timeout time.Duration
		idBits  int
	)

	space := func() (domain.Space, error) {
		return domain.NewSpace(idBits, 1)
	}

	root := &cobra.Command{
		Use:   "client",
		Short: "Interact with a Chord DHT node's client-API port",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:7000", "client-API address of a DHT node")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	root.PersistentFlags().IntVar(&idBits, "id-bits", 256, "identifier space width; must match the target ring's DHT.IDBITS")

	putCmd := &cobra.Command{
		Use:   "put <key> <value>",
		Short: "Store a value under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ttl, _ := cmd.Flags().GetDuration("ttl")
			replication, _ := cmd.Flags().GetInt("replication")
			sp, err := space()
			if err != nil {
				return err
			}
			cli := wire.NewClient(addr, timeout)
			key := sp.NewIdFromString(args[0])
			if err := cli.Put(key, []byte(args[1]), ttl, replication); err != nil {
				return fmt.Errorf("put: %w", err)
			}
			fmt.Println("OK")
			return nil
		},
	}
	putCmd.Flags().Duration("ttl", 0, "time-to-live for the stored value (0 uses the node's default)")
	putCmd.Flags().Int("replication", 0, "replica count (0 uses the node's default)")

	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Fetch every live value stored under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := space()
			if err != nil {
				return err
			}
			cli := wire.NewClient(addr, timeout)
			key := sp.NewIdFromString(args[0])
			values, err := cli.Get(key)
			if err != nil {
				return fmt.Errorf("get: %w", err)
			}
			if len(values) == 0 {
				fmt.Println("(no values)")
				return nil
			}
			for _, v := range values {
				fmt.Println(string(v))
			}
			return nil
		},
	}

	traceCmd := &cobra.Command{
		Use:   "trace <key>",
		Short: "Print the lookup path a key's owner was found through",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := space()
			if err != nil {
				return err
			}
			cli := wire.NewClient(addr, timeout)
			key := sp.NewIdFromString(args[0])
			result, err := cli.Trace(key)
			if err != nil {
				return fmt.Errorf("trace: %w", err)
			}
			printTrace(result)
			return nil
		},
	}

	shellCmd := &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive REPL against a single node",
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := space()
			if err != nil {
				return err
			}
			return runShell(addr, timeout, sp)
		},
	}

	root.AddCommand(putCmd, getCmd, traceCmd, shellCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func printTrace(result wire.TraceResult) {
	fmt.Printf("key=%s\n", result.Key.String())
	for i, h := range result.Hops {
		fmt.Printf("  hop %d: %s (%s:%d)\n", i, h.PeerID.String(), h.IP.String(), h.Port)
	}
}

// runShell runs a liner-backed REPL, modeled on the teacher's
// cmd/client/main.go interactive loop: read a line, split into
// command/args, dispatch, repeat until EOF or an explicit "exit".
func runShell(addr string, timeout time.Duration, sp domain.Space) error {
	cli := wire.NewClient(addr, timeout)

	fmt.Printf("dhtnode interactive client. Connected to %s\n", addr)
	fmt.Println("Available commands: put <key> <value> | get <key> | trace <key> | exit")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(fmt.Sprintf("dhtnode[%s]> ", addr))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("aborted")
				continue
			}
			break
		}
		line.AppendHistory(input)

		fields := strings.Fields(strings.TrimSpace(input))
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "exit", "quit":
			return nil

		case "put":
			if len(fields) < 3 {
				fmt.Println("usage: put <key> <value>")
				continue
			}
			key := sp.NewIdFromString(fields[1])
			value := strings.Join(fields[2:], " ")
			if err := cli.Put(key, []byte(value), 0, 0); err != nil {
				fmt.Printf("put failed: %v\n", err)
			} else {
				fmt.Println("OK")
			}

		case "get":
			if len(fields) < 2 {
				fmt.Println("usage: get <key>")
				continue
			}
			key := sp.NewIdFromString(fields[1])
			values, err := cli.Get(key)
			if err != nil {
				fmt.Printf("get failed: %v\n", err)
				continue
			}
			if len(values) == 0 {
				fmt.Println("(no values)")
				continue
			}
			for _, v := range values {
				fmt.Println(string(v))
			}

		case "trace":
			if len(fields) < 2 {
				fmt.Println("usage: trace <key>")
				continue
			}
			key := sp.NewIdFromString(fields[1])
			result, err := cli.Trace(key)
			if err != nil {
				fmt.Printf("trace failed: %v\n", err)
				continue
			}
			printTrace(result)

		default:
			fmt.Printf("unknown command: %s\n", fields[0])
		}
	}
	return nil
}
