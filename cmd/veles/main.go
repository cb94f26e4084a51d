package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/veles-ai/veles/internal/bridge"
	"github.com/veles-ai/veles/internal/config"
	"github.com/veles-ai/veles/internal/config/store"
	"github.com/veles-ai/veles/internal/eventbus"
	"github.com/veles-ai/veles/internal/health"
	"github.com/veles-ai/veles/internal/mock"
	"github.com/veles-ai/veles/internal/tlswarn"
	"github.com/veles-ai/veles/internal/transport"
	"github.com/veles-ai/veles/internal/validate"
	velesversion "github.com/veles-ai/veles/internal/version"
)

const errorMessageLimit = 2048

// Global variables for use across commands
var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
		return nil
	}
	switch v := data.(type) {
	case string:
		fmt.Println(v)
	default:
		// Fallback to JSON for structured payloads
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	}
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = truncateError(err)
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > errorMessageLimit {
		return msg[:errorMessageLimit] + "…"
	}
	return msg
}

func newLogger() hclog.Logger {
	level := hclog.Warn
	if v := os.Getenv("VELES_LOG_LEVEL"); v != "" {
		level = hclog.LevelFromString(v)
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "veles",
		Level:  level,
		Output: os.Stderr,
	})
}

// openStore opens the config store for the profile selected by flags.
func openStore(cmd *cobra.Command) (*store.Store, error) {
	instance, _ := cmd.Flags().GetString("instance")
	profile, _ := cmd.Flags().GetString("profile")
	if profile != "" && !validate.Ident(profile) {
		return nil, fmt.Errorf("invalid profile name %q", profile)
	}
	if instance != "" && !validate.Ident(instance) {
		return nil, fmt.Errorf("invalid instance name %q", instance)
	}
	return store.Open(store.Options{InstanceName: instance, ProfileName: profile})
}

// loadSettings resolves effective settings: stored values, environment,
// then command-line flags, in increasing priority.
func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	s, err := openStore(cmd)
	if err != nil {
		return config.Settings{}, err
	}
	defer s.Close()

	stored, err := s.LoadSettings(cmd.Context())
	if err != nil {
		return config.Settings{}, err
	}
	settings := config.FromStored(stored).ApplyEnv()

	if endpoint, _ := cmd.Flags().GetString("endpoint"); endpoint != "" {
		settings.Endpoint = endpoint
	}
	if err := validate.HTTPURL(settings.Endpoint); err != nil {
		return config.Settings{}, fmt.Errorf("backend endpoint: %w", err)
	}
	tlswarn.WarnIfPlaintextRemote(settings.Endpoint)
	if settings.WSEndpoint != "" {
		if err := validate.WSURL(settings.WSEndpoint); err != nil {
			return config.Settings{}, fmt.Errorf("backend ws endpoint: %w", err)
		}
		tlswarn.WarnIfPlaintextRemote(settings.WSEndpoint)
	}
	return settings, nil
}

// newBridge wires transport, probes, and mocks into a ready bridge.
func newBridge(cmd *cobra.Command, settings config.Settings) (*bridge.Bridge, error) {
	logger := newLogger()

	var tr transport.Transport
	if settings.WSEndpoint != "" {
		ws, err := transport.DialWS(cmd.Context(), settings.WSEndpoint, settings.Token,
			transport.WithWSLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("connect websocket transport: %w", err)
		}
		tr = ws
	} else {
		tr = transport.NewHTTPTransport(settings.Endpoint,
			transport.WithToken(settings.Token),
			transport.WithHTTPLogger(logger))
	}

	probes := []health.Probe{
		health.NewHTTPProbe(settings.Endpoint, nil),
		health.NewTransportProbe(tr),
	}
	if derived, err := health.NewDerivedProbe(settings.Endpoint, settings.HealthPort, nil); err == nil {
		probes = append(probes, derived)
	}
	if settings.GRPCHealthAddr != "" {
		probes = append(probes, health.NewGRPCProbe(settings.GRPCHealthAddr))
	}

	responder := mock.NewResponder(mock.WithLogger(logger))
	instance, _ := cmd.Flags().GetString("instance")
	paths := config.GetInstancePaths(instance)
	if err := mock.LoadScriptDir(responder, paths.MocksDir, logger); err != nil {
		logger.Warn("loading scripted mocks failed", "error", err)
	}

	return bridge.New(tr,
		bridge.WithLogger(logger),
		bridge.WithProbes(probes),
		bridge.WithFreshness(settings.Freshness),
		bridge.WithMockResponder(responder),
		bridge.WithDefaults(bridge.ExecOptions{
			FallbackToMock: true,
			MaxRetries:     settings.MaxRetries,
			RetryDelay:     settings.RetryDelay,
		}),
	)
}

// execOptionsFromFlags reads the per-call execution flags of `call` and
// the agents subcommands.
func execOptionsFromFlags(cmd *cobra.Command) []bridge.ExecOption {
	var opts []bridge.ExecOption
	if mockOnly, _ := cmd.Flags().GetBool("mock-only"); mockOnly {
		opts = append(opts, bridge.WithMockOnly())
	}
	if noFallback, _ := cmd.Flags().GetBool("no-fallback"); noFallback {
		opts = append(opts, bridge.WithFallbackToMock(false))
	}
	if cmd.Flags().Changed("retries") {
		retries, _ := cmd.Flags().GetInt("retries")
		opts = append(opts, bridge.WithMaxRetries(retries))
	}
	if cmd.Flags().Changed("retry-delay") {
		delay, _ := cmd.Flags().GetDuration("retry-delay")
		opts = append(opts, bridge.WithRetryDelay(delay))
	}
	return opts
}

func addExecFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("mock-only", false, "Serve the command from the mock responder only")
	cmd.Flags().Bool("no-fallback", false, "Fail instead of falling back to mock results")
	cmd.Flags().Int("retries", 0, "Override the retry count for this call")
	cmd.Flags().Duration("retry-delay", 0, "Override the base retry delay for this call")
	cmd.Flags().Bool("events", false, "Stream command lifecycle events to stderr")
}

// runCommand executes one bridge command and prints its result.
func runCommand(cmd *cobra.Command, name string, params any) error {
	out := newOutputFormatter(cmd)

	settings, err := loadSettings(cmd)
	if err != nil {
		return out.Error("failed to load configuration", err)
	}
	b, err := newBridge(cmd, settings)
	if err != nil {
		return out.Error("failed to initialize bridge", err)
	}
	defer b.Shutdown()

	flush := func() {}
	if showEvents, _ := cmd.Flags().GetBool("events"); showEvents {
		flush = streamCommandEvents(cmd.Context(), b)
	}

	result, err := b.ExecuteCommand(cmd.Context(), name, params, execOptionsFromFlags(cmd)...)
	flush()
	if err != nil {
		if bridgeErr, ok := bridge.AsError(err); ok {
			return out.Error(fmt.Sprintf("command %s failed (%s)", name, bridgeErr.Kind), err)
		}
		return out.Error(fmt.Sprintf("command %s failed", name), err)
	}
	return out.Print(result)
}

// streamCommandEvents prints command lifecycle events to stderr while a
// call runs. The returned flush waits for the terminal event so output
// is complete before the result prints.
func streamCommandEvents(ctx context.Context, b *bridge.Bridge) func() {
	sub := eventbus.SubscribeTo(b.Bus(), eventbus.Bridge.Command,
		eventbus.WithSubscriptionName("cli"))
	terminal := make(chan struct{}, 1)

	var wg sync.WaitGroup
	wg.Add(1)
	go eventbus.Consume(ctx, sub, &wg, func(ev eventbus.CommandEvent) {
		line := fmt.Sprintf("event: %-7s %s", ev.Phase, ev.Command)
		if ev.Source != "" {
			line += " source=" + string(ev.Source)
		}
		if ev.Error != "" {
			line += " error=" + ev.Error
		}
		fmt.Fprintln(os.Stderr, line)
		if ev.Phase != eventbus.PhaseStart {
			select {
			case terminal <- struct{}{}:
			default:
			}
		}
	})

	return func() {
		select {
		case <-terminal:
		case <-time.After(time.Second):
		}
		sub.Close()
		wg.Wait()
	}
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "veles",
		Short: "Veles - resilient command bridge for agent backends",
		Long: `Veles executes agent commands against a remote backend, retrying
transient failures and degrading to deterministic mock results when the
backend is unreachable.`,
	}
	rootCmd.Version = velesversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("endpoint", "", "Backend endpoint override (e.g. http://host:port)")
	rootCmd.PersistentFlags().String("instance", "", "Instance name (defaults to \"default\")")
	rootCmd.PersistentFlags().String("profile", "", "Configuration profile (defaults to \"default\")")
}

func main() {

	// Status command
	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Show backend connectivity and capabilities",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          showStatus,
	}
	statusCmd.Flags().Bool("force", false, "Force a fresh health probe")

	// Call command
	callCmd := &cobra.Command{
		Use:           "call <command> [params-json]",
		Short:         "Execute a command against the backend",
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return newOutputFormatter(cmd).Error("params must be valid JSON", err)
				}
			}
			return runCommand(cmd, args[0], params)
		},
	}
	addExecFlags(callCmd)

	// Agents commands
	agentsCmd := &cobra.Command{
		Use:   "agents",
		Short: "Manage backend agents",
	}

	agentsListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "list_agents", nil)
		},
	}
	addExecFlags(agentsListCmd)

	agentsCreateCmd := &cobra.Command{
		Use:           "create <name> <type> [config-json]",
		Short:         "Create an agent",
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := make([]any, len(args))
			for i, arg := range args {
				params[i] = arg
			}
			return runCommand(cmd, "create_agent", params)
		},
	}
	addExecFlags(agentsCreateCmd)

	agentsStatusCmd := &cobra.Command{
		Use:           "status <agent-id>",
		Short:         "Show an agent's status",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "get_agent_status", map[string]any{"agent_id": args[0]})
		},
	}
	addExecFlags(agentsStatusCmd)

	agentsDeleteCmd := &cobra.Command{
		Use:           "delete <agent-id>",
		Short:         "Delete an agent",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "delete_agent", map[string]any{"agent_id": args[0]})
		},
	}
	addExecFlags(agentsDeleteCmd)

	agentsPauseCmd := &cobra.Command{
		Use:           "pause <agent-id>",
		Short:         "Pause an agent",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "pause_agent", map[string]any{"agent_id": args[0]})
		},
	}
	addExecFlags(agentsPauseCmd)

	agentsResumeCmd := &cobra.Command{
		Use:           "resume <agent-id>",
		Short:         "Resume a paused agent",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "resume_agent", map[string]any{"agent_id": args[0]})
		},
	}
	addExecFlags(agentsResumeCmd)

	agentsCmd.AddCommand(agentsListCmd, agentsCreateCmd, agentsStatusCmd,
		agentsDeleteCmd, agentsPauseCmd, agentsResumeCmd)

	// Swarms commands
	swarmsCmd := &cobra.Command{
		Use:   "swarms",
		Short: "Manage agent swarms",
	}
	swarmsListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List swarms",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, "list_swarms", nil)
		},
	}
	addExecFlags(swarmsListCmd)
	swarmsCmd.AddCommand(swarmsListCmd)

	// Capabilities command
	capabilitiesCmd := &cobra.Command{
		Use:           "capabilities",
		Short:         "Show backend feature modules",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          showCapabilities,
	}

	// Config commands
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage stored configuration",
	}
	configListCmd := &cobra.Command{
		Use:           "list",
		Short:         "List settings for the active profile",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configList,
	}
	configGetCmd := &cobra.Command{
		Use:           "get <key>",
		Short:         "Read one setting",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configGet,
	}
	configSetCmd := &cobra.Command{
		Use:           "set <key> <value>",
		Short:         "Write one setting",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configSet,
	}
	configProfilesCmd := &cobra.Command{
		Use:           "profiles",
		Short:         "List configuration profiles",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configProfiles,
	}
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configProfilesCmd)

	// Login command
	loginCmd := &cobra.Command{
		Use:           "login",
		Short:         "Store the backend endpoint and API token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          login,
	}
	loginCmd.Flags().String("url", "", "Backend base URL (e.g. http://host:port)")
	loginCmd.Flags().String("token", "", "API token (prompted interactively when omitted)")
	loginCmd.Flags().Bool("clear", false, "Remove the stored token")

	rootCmd.AddCommand(statusCmd, callCmd, agentsCmd, swarmsCmd,
		capabilitiesCmd, configCmd, loginCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func showStatus(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	settings, err := loadSettings(cmd)
	if err != nil {
		return out.Error("failed to load configuration", err)
	}
	b, err := newBridge(cmd, settings)
	if err != nil {
		return out.Error("failed to initialize bridge", err)
	}
	defer b.Shutdown()

	force, _ := cmd.Flags().GetBool("force")
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	connected := b.CheckConnection(ctx, force)

	var mismatch string
	if connected {
		if overview, err := b.ExecuteCommand(ctx, "get_system_overview", nil,
			bridge.WithFallbackToMock(false)); err == nil {
			if m, ok := overview.(map[string]any); ok {
				if v, ok := m["version"].(string); ok {
					mismatch = velesversion.CheckVersionMismatch(v)
				}
			}
		}
	}
	if mismatch != "" {
		fmt.Fprintln(os.Stderr, mismatch)
	}

	if out.jsonMode {
		return out.Print(map[string]interface{}{
			"endpoint":     settings.Endpoint,
			"connected":    connected,
			"status":       b.ConnectionStatusString(),
			"capabilities": b.Capabilities(),
			"events":       b.EventCounts(),
		})
	}

	fmt.Printf("Endpoint:  %s\n", settings.Endpoint)
	fmt.Printf("Status:    %s\n", b.ConnectionStatusString())
	if caps := b.Capabilities(); len(caps) > 0 {
		fmt.Printf("Modules:   %s\n", strings.Join(caps, ", "))
	}
	return nil
}

func showCapabilities(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	settings, err := loadSettings(cmd)
	if err != nil {
		return out.Error("failed to load configuration", err)
	}
	b, err := newBridge(cmd, settings)
	if err != nil {
		return out.Error("failed to initialize bridge", err)
	}
	defer b.Shutdown()

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()
	b.CheckConnection(ctx, false)
	b.RefreshCapabilities(ctx)

	caps := b.Capabilities()
	if out.jsonMode {
		return out.Print(map[string]interface{}{"capabilities": caps})
	}
	if len(caps) == 0 {
		fmt.Println("No capabilities reported (backend unreachable or modules unknown)")
		return nil
	}
	for _, name := range caps {
		fmt.Println(name)
	}
	return nil
}

func configList(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	s, err := openStore(cmd)
	if err != nil {
		return out.Error("failed to open configuration store", err)
	}
	defer s.Close()

	settings, err := s.LoadSettings(cmd.Context())
	if err != nil {
		return out.Error("failed to load settings", err)
	}
	if out.jsonMode {
		return out.Print(settings)
	}

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, key := range keys {
		value := settings[key]
		if key == config.KeyToken && value != "" {
			value = "(set)"
		}
		fmt.Fprintf(w, "%s\t%s\n", key, value)
	}
	return w.Flush()
}

func configGet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	s, err := openStore(cmd)
	if err != nil {
		return out.Error("failed to open configuration store", err)
	}
	defer s.Close()

	value, err := s.GetSetting(cmd.Context(), args[0])
	if err != nil {
		if store.IsNotFound(err) {
			return out.Error(fmt.Sprintf("setting %q is not set", args[0]), nil)
		}
		return out.Error("failed to read setting", err)
	}
	return out.Print(value)
}

func configSet(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	key, value := args[0], args[1]
	if key == config.KeyEndpoint {
		if err := validate.HTTPURL(value); err != nil {
			return out.Error("invalid endpoint", err)
		}
	}
	if key == config.KeyWSEndpoint {
		if err := validate.WSURL(value); err != nil {
			return out.Error("invalid ws endpoint", err)
		}
	}

	s, err := openStore(cmd)
	if err != nil {
		return out.Error("failed to open configuration store", err)
	}
	defer s.Close()

	if err := s.SaveSettings(cmd.Context(), map[string]string{key: value}); err != nil {
		return out.Error("failed to save setting", err)
	}
	return out.Success(fmt.Sprintf("Set %s", key), map[string]interface{}{"key": key})
}

func configProfiles(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	s, err := openStore(cmd)
	if err != nil {
		return out.Error("failed to open configuration store", err)
	}
	defer s.Close()

	profiles, err := s.ListProfiles(cmd.Context())
	if err != nil {
		return out.Error("failed to list profiles", err)
	}
	if out.jsonMode {
		return out.Print(profiles)
	}
	for _, p := range profiles {
		marker := " "
		if p.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %s\n", marker, p.Name)
	}
	return nil
}

func login(cmd *cobra.Command, args []string) error {
	out := newOutputFormatter(cmd)

	s, err := openStore(cmd)
	if err != nil {
		return out.Error("failed to open configuration store", err)
	}
	defer s.Close()

	if clear, _ := cmd.Flags().GetBool("clear"); clear {
		if err := s.DeleteSetting(cmd.Context(), config.KeyToken); err != nil {
			return out.Error("failed to clear token", err)
		}
		return out.Success("Stored token removed", nil)
	}

	values := make(map[string]string)
	if url, _ := cmd.Flags().GetString("url"); url != "" {
		if err := validate.HTTPURL(url); err != nil {
			return out.Error("invalid backend URL", err)
		}
		values[config.KeyEndpoint] = url
	}

	token, _ := cmd.Flags().GetString("token")
	if token == "" && terminal.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "API token: ")
		raw, err := terminal.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return out.Error("failed to read token", err)
		}
		token = strings.TrimSpace(string(raw))
	}
	if token != "" {
		values[config.KeyToken] = token
	}

	if len(values) == 0 {
		return out.Error("nothing to store; pass --url or --token", nil)
	}
	if err := s.SaveSettings(cmd.Context(), values); err != nil {
		return out.Error("failed to save credentials", err)
	}
	return out.Success("Backend credentials stored", nil)
}
