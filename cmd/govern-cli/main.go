package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/oarkflow/govern"
	"github.com/oarkflow/govern/logger"
	"github.com/oarkflow/govern/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "init":
		err = handleInit(args)
	case "convert":
		err = handleConvert(args)
	case "migrate":
		err = handleMigrate(args)
	case "validate":
		err = handleValidate(args)
	case "stats":
		err = handleStats(args)
	case "explain":
		err = handleExplain(args)
	case "approve", "reject", "escalate":
		err = handleAction(cmd, args)
	case "verify":
		err = handleVerify(args)
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		if err == pflag.ErrHelp {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

func printUsage() {
	fmt.Println("govern-cli - decision governance tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  govern-cli init     <output> [--dsn <dsn>] [--redis <addr>]     - Write the built-in matrices as a config file")
	fmt.Println("  govern-cli convert  <input> <output>                            - Convert between config formats")
	fmt.Println("  govern-cli migrate  --config <file> [--dsn <dsn>]              - Create tables")
	fmt.Println("  govern-cli validate <file>                                      - Validate configuration")
	fmt.Println("  govern-cli stats    <file>                                      - Show matrices and settings")
	fmt.Println("  govern-cli explain  --config <file> --user <id> [--decision <id>] - Show a user's scope")
	fmt.Println("  govern-cli approve|reject|escalate --config <file> --user <id> --decision <id> --justification <text>")
	fmt.Println("  govern-cli verify   --config <file> (--evidence <id> | --decision <id>) - Recompute an evidence seal")
	fmt.Println()
	fmt.Println("Commands that open the store accept --metrics to print Prometheus metrics on exit.")
	fmt.Println("Supported config formats: .yaml, .yml, .json")
}

// exitCode maps error classes to distinct process exit codes.
func exitCode(err error) int {
	switch {
	case govern.IsValidation(err):
		return 2
	case govern.IsAuthority(err):
		return 3
	case govern.IsNotFound(err):
		return 4
	case govern.IsInvalidState(err):
		return 5
	case govern.IsIntegrity(err):
		return 6
	}
	return 1
}

type commonFlags struct {
	config  string
	dsn     string
	quiet   bool
	metrics bool
}

func (c *commonFlags) add(fs *pflag.FlagSet) {
	fs.StringVarP(&c.config, "config", "c", "", "configuration file (.yaml, .yml, .json)")
	fs.StringVar(&c.dsn, "dsn", "", "sqlite DSN, overrides store.dsn")
	fs.BoolVarP(&c.quiet, "quiet", "q", false, "suppress engine logging")
	fs.BoolVar(&c.metrics, "metrics", false, "print the command's Prometheus metrics to stderr on exit")
}

func (c *commonFlags) load() (*govern.Config, error) {
	loader := govern.NewConfigLoader()
	var cfg *govern.Config
	var err error
	if c.config == "" {
		// built-in matrices, settings from flags only
		cfg, err = loader.LoadJSON([]byte("{}"))
	} else {
		cfg, err = loader.LoadFile(c.config)
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if c.dsn != "" {
		cfg.Store.Driver = "sqlite"
		cfg.Store.DSN = c.dsn
	}
	return cfg, cfg.Validate()
}

// open wires the stack for cfg and arranges the --metrics dump.
func (c *commonFlags) open(ctx context.Context, cfg *govern.Config) (*stack, error) {
	s, err := openStack(ctx, cfg, c.logger())
	if err != nil {
		return nil, err
	}
	if c.metrics {
		s.metricsOut = os.Stderr
	}
	return s, nil
}

func (c *commonFlags) logger() logger.Logger {
	if c.quiet {
		return logger.NewNullLogger()
	}
	return logger.NewPhusluLogger("govern-cli")
}

func handleInit(args []string) error {
	var dsn, redisAddr string
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	fs.StringVar(&dsn, "dsn", "", "sqlite DSN; omitted means the memory store")
	fs.StringVar(&redisAddr, "redis", "", "redis address for the user directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("usage: govern-cli init <output>")
	}
	b := govern.NewConfigBuilder().FromMatrices(govern.DefaultAuthorityMatrix(), govern.DefaultVisibilityMatrix())
	if dsn != "" {
		b.SQLite(dsn)
	}
	if redisAddr != "" {
		b.Redis(redisAddr, "")
	}
	cfg, err := b.Build()
	if err != nil {
		return err
	}
	if err := saveConfig(cfg, fs.Arg(0)); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", fs.Arg(0))
	return nil
}

func handleConvert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: govern-cli convert <input> <output>")
	}
	input, output := args[0], args[1]
	cfg, err := govern.NewConfigLoader().LoadFile(input)
	if err != nil {
		return fmt.Errorf("load %s: %w", input, err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := saveConfig(cfg, output); err != nil {
		return err
	}
	fmt.Printf("Converted %s -> %s\n", input, output)
	return nil
}

func saveConfig(cfg *govern.Config, filename string) error {
	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported output format: %s", filename)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o600)
}

func handleMigrate(args []string) error {
	var common commonFlags
	fs := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	common.add(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := stores.Migrate(context.Background(), db); err != nil {
		return err
	}
	fmt.Printf("Migrated %s\n", cfg.Store.DSN)
	return nil
}

func handleValidate(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: govern-cli validate <file>")
	}
	cfg, err := govern.NewConfigLoader().LoadFile(args[0])
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	authority, _ := cfg.AuthorityMatrix()
	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Authority matrix version: %d\n", authority.Version())
	fmt.Printf("  Authority rules: %d\n", len(authority.Rules()))
	fmt.Printf("  Store driver: %s\n", cfg.Store.Driver)
	return nil
}

func handleStats(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: govern-cli stats <file>")
	}
	cfg, err := govern.NewConfigLoader().LoadFile(args[0])
	if err != nil {
		return err
	}
	authority, err := cfg.AuthorityMatrix()
	if err != nil {
		return err
	}
	visibility, err := cfg.VisibilityMatrix()
	if err != nil {
		return err
	}

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	fmt.Printf("Authority matrix version: %d\n", authority.Version())
	fmt.Println()
	fmt.Println("Authority:")
	for _, r := range authority.Rules() {
		dual := ""
		if r.DualControl {
			dual = " (dual control)"
		}
		fmt.Printf("  %-28s %s%s", r.DecisionType, joinRoles(r.AllowedRoles), dual)
		if len(r.EscalationRoles) > 0 {
			fmt.Printf("; escalates to %s", joinRoles(r.EscalationRoles))
		}
		fmt.Println()
	}
	fmt.Println()
	fmt.Println("Visibility:")
	for _, role := range govern.AllRoles {
		areas := visibility.VisibleAreas(role)
		names := make([]string, len(areas))
		for i, a := range areas {
			names[i] = string(a)
		}
		fmt.Printf("  %-15s %s\n", role, strings.Join(names, ", "))
	}
	fmt.Println()
	fmt.Println("Engine Configuration:")
	fmt.Printf("  Evidence cache counters: %d\n", cfg.Engine.EvidenceCacheNumCounters)
	fmt.Printf("  Evidence cache max cost: %d\n", cfg.Engine.EvidenceCacheMaxCost)
	fmt.Printf("  Store driver:            %s\n", cfg.Store.Driver)
	if cfg.Redis.Addr != "" {
		fmt.Printf("  Redis directory:         %s (prefix %s)\n", cfg.Redis.Addr, cfg.Redis.Prefix)
	}
	return nil
}

func handleExplain(args []string) error {
	var common commonFlags
	var userID, decisionID string
	fs := pflag.NewFlagSet("explain", pflag.ContinueOnError)
	common.add(fs)
	fs.StringVarP(&userID, "user", "u", "", "user id to resolve")
	fs.StringVarP(&decisionID, "decision", "d", "", "decision id to check authority against")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" {
		return &govern.ValidationError{Field: "user", Reason: "--user is required"}
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := common.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	actx, err := s.engine.Resolve(ctx, userID)
	if err != nil {
		return err
	}
	fmt.Printf("User %s (%s), platform role %s\n", actx.UserID(), actx.UserName(), actx.PlatformRole())
	fmt.Println("Entity scopes:")
	for _, es := range actx.EntityScopes() {
		fmt.Printf("  %d %s: %s\n", es.EntityID, es.LegalName, es.Role)
	}
	fmt.Println("Group scopes:")
	for _, gs := range actx.GroupScopes() {
		fmt.Printf("  %d %s: %s, members %v\n", gs.GroupID, gs.Name, gs.Role, gs.MemberEntityIDs)
	}
	fmt.Printf("Visible entities:    %v\n", govern.GetVisibleEntityIDs(actx))
	fmt.Printf("Actionable entities: %v\n", govern.GetActionableEntityIDs(actx))
	areas := s.engine.Visibility().VisibleAreas(actx.PlatformRole())
	fmt.Printf("Visible areas:       %v\n", areas)

	if decisionID == "" {
		return nil
	}
	queue, err := s.engine.ListQueue(ctx, actx, govern.QueueFilter{Status: govern.StatusPending})
	if err != nil {
		return err
	}
	for _, item := range queue {
		if item.Decision.ID != decisionID {
			continue
		}
		fmt.Printf("Decision %s (%s, %s)\n", item.Decision.ID, item.Decision.Type, item.Decision.Status)
		for _, action := range []govern.EvidenceAction{govern.ActionApproved, govern.ActionRejected, govern.ActionEscalated} {
			verdict := "allowed"
			if aerr := s.engine.CanAct(actx, item.Decision, action); aerr != nil {
				verdict = "denied: " + aerr.Reason
			}
			fmt.Printf("  %-10s %s\n", action, verdict)
		}
		if item.SLABreached {
			fmt.Println("  SLA breached")
		}
		return nil
	}
	fmt.Printf("Decision %s is not pending in %s's queue\n", decisionID, userID)
	return nil
}

func handleAction(cmd string, args []string) error {
	var common commonFlags
	var userID, decisionID, justification string
	fs := pflag.NewFlagSet(cmd, pflag.ContinueOnError)
	common.add(fs)
	fs.StringVarP(&userID, "user", "u", "", "acting user id")
	fs.StringVarP(&decisionID, "decision", "d", "", "decision id")
	fs.StringVarP(&justification, "justification", "j", "", "justification recorded in the evidence pack")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if userID == "" || decisionID == "" {
		return &govern.ValidationError{Field: "arguments", Reason: "--user and --decision are required"}
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := common.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	var res *govern.TransitionResult
	switch cmd {
	case "approve":
		res, err = s.engine.ApproveAs(ctx, decisionID, justification, userID)
	case "reject":
		res, err = s.engine.RejectAs(ctx, decisionID, justification, userID)
	default:
		res, err = s.engine.EscalateAs(ctx, decisionID, justification, userID)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Decision %s is now %s\n", res.DecisionID, res.Status)
	fmt.Printf("  Evidence:    %s\n", res.EvidenceID)
	fmt.Printf("  Merkle hash: %s\n", res.MerkleHash)
	return nil
}

func handleVerify(args []string) error {
	var common commonFlags
	var evidenceID, decisionID string
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	common.add(fs)
	fs.StringVarP(&evidenceID, "evidence", "e", "", "evidence pack id")
	fs.StringVarP(&decisionID, "decision", "d", "", "decision id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (evidenceID == "") == (decisionID == "") {
		return &govern.ValidationError{Field: "arguments", Reason: "exactly one of --evidence or --decision is required"}
	}
	cfg, err := common.load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := common.open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if evidenceID == "" {
		pack, err := s.engine.EvidenceForDecision(ctx, decisionID)
		if err != nil {
			return err
		}
		evidenceID = pack.ID
	}
	if err := s.engine.VerifyEvidence(ctx, evidenceID); err != nil {
		return err
	}
	fmt.Printf("Evidence %s seal verified\n", evidenceID)
	return nil
}

func joinRoles(roles []govern.Role) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return strings.Join(names, ", ")
}
