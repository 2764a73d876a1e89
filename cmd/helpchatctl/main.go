package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/matheus3301/helpchat/internal/api"
	"github.com/matheus3301/helpchat/internal/config"
	"github.com/matheus3301/helpchat/internal/lock"
	"github.com/matheus3301/helpchat/internal/profile"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

var (
	profileFlag string
	jsonFlag    bool
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "helpchatctl",
	Short:         "Control a running helpchatd",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return config.LoadEnv(profile.EnvPath())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profileFlag, "profile", "", "profile name (overrides config default)")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Second, "request timeout")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func profileName() (string, error) {
	name := profile.Resolve(profileFlag)
	if err := profile.ValidateName(name); err != nil {
		return "", err
	}
	return name, nil
}

func connect() (*api.Client, error) {
	name, err := profileName()
	if err != nil {
		return nil, err
	}
	h, ok := lock.Current(profile.Dir(name))
	if !ok {
		return nil, fmt.Errorf("no daemon is serving profile %q", name)
	}
	socket := h.Socket
	if socket == "" {
		socket = profile.SocketPath(name)
	}
	c, err := api.Dial(socket)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon for profile %q: %w", name, err)
	}
	return c, nil
}

// call runs one unary method and returns its response.
func call(method string, req map[string]any) (*structpb.Struct, error) {
	c, err := connect()
	if err != nil {
		return nil, err
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), timeoutFlag)
	defer cancel()
	return c.Call(ctx, method, req)
}

// command runs a fire-and-forget method and reports acceptance.
func command(method string, req map[string]any) error {
	resp, err := call(method, req)
	if err != nil {
		return err
	}
	if jsonFlag {
		return outputJSON(resp)
	}
	fmt.Println("ok")
	return nil
}

func outputJSON(s *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(s)
	if err != nil {
		return fmt.Errorf("json encode: %w", err)
	}
	fmt.Println(string(b))
	return nil
}
