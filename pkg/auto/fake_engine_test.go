package auto

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/autostack/pkg/config"
	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/events"
	"github.com/openfroyo/autostack/pkg/program"
	"github.com/openfroyo/autostack/pkg/settings"
)

// The test binary stands in for the engine when fakeEngineEnv is set. It
// keeps stack state as JSON files under the engine home and stack config in
// the work directory's stack settings files.
const (
	fakeEngineEnv        = "AUTOSTACK_FAKE_ENGINE"
	fakeEngineVersionEnv = "AUTOSTACK_FAKE_ENGINE_VERSION"
	fakeLoggedOutEnv     = "AUTOSTACK_FAKE_LOGGED_OUT"
	fakeDefaultVersion   = "v3.100.0"
	fakeSecurePrefix     = "v1:"
)

type fakeStackState struct {
	Tags      map[string]string      `json:"tags"`
	Outputs   engine.OutputMap       `json:"outputs"`
	Resources int                    `json:"resources"`
	History   []engine.UpdateSummary `json:"history"`
}

type fakeDeployment struct {
	Resources int              `json:"resources"`
	Outputs   engine.OutputMap `json:"outputs"`
}

type fakeExit struct {
	code   int
	stderr string
}

func (e *fakeExit) Error() string {
	return e.stderr
}

func fail(format string, args ...interface{}) error {
	return &fakeExit{code: 255, stderr: "error: " + fmt.Sprintf(format, args...)}
}

type fakeEngine struct {
	home string
	dir  string
	args fakeArgs
}

// fakeArgs is a parsed engine command line.
type fakeArgs struct {
	positional []string
	flags      map[string][]string
	bools      map[string]bool
}

var fakeValueFlags = map[string]bool{
	"--stack": true, "--secrets-provider": true, "--file": true, "--page-size": true,
	"--page": true, "--event-log": true, "--client": true, "--exec-kind": true,
	"--message": true, "--target": true, "--replace": true, "--parallel": true,
	"--exec-agent": true, "--color": true, "--policy-pack": true,
}

func parseFakeArgs(args []string) fakeArgs {
	out := fakeArgs{flags: map[string][]string{}, bools: map[string]bool{}}
	setAll := len(args) > 1 && args[0] == "config" && args[1] == "set-all"
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			out.positional = append(out.positional, args[i+1:]...)
			return out
		case strings.HasPrefix(arg, "--"):
			if eq := strings.Index(arg, "="); eq >= 0 {
				out.flags[arg[:eq]] = append(out.flags[arg[:eq]], arg[eq+1:])
				continue
			}
			takesValue := fakeValueFlags[arg] || (setAll && (arg == "--plaintext" || arg == "--secret"))
			if takesValue && i+1 < len(args) {
				out.flags[arg] = append(out.flags[arg], args[i+1])
				i++
				continue
			}
			out.bools[arg] = true
		default:
			out.positional = append(out.positional, arg)
		}
	}
	return out
}

func (a fakeArgs) flag(name string) string {
	if v := a.flags[name]; len(v) > 0 {
		return v[len(v)-1]
	}
	return ""
}

func (a fakeArgs) arg(i int) string {
	if i < len(a.positional) {
		return a.positional[i]
	}
	return ""
}

func fakeEngineMain(args []string) int {
	if len(args) > 0 && args[0] == "--non-interactive" {
		args = args[1:]
	}
	dir, _ := os.Getwd()
	e := &fakeEngine{
		home: os.Getenv(EnvEngineHome),
		dir:  dir,
		args: parseFakeArgs(args),
	}
	if e.home == "" {
		e.home = filepath.Join(os.TempDir(), "autostack-fake-engine")
	}

	if err := e.run(); err != nil {
		var exit *fakeExit
		if errors.As(err, &exit) {
			fmt.Fprintln(os.Stderr, exit.stderr)
			return exit.code
		}
		fmt.Fprintln(os.Stderr, "error: "+err.Error())
		return 1
	}
	return 0
}

func (e *fakeEngine) run() error {
	cmd := e.args.arg(0)
	sub := e.args.arg(1)
	switch {
	case cmd == "version":
		v := os.Getenv(fakeEngineVersionEnv)
		if v == "" {
			v = fakeDefaultVersion
		}
		fmt.Println(v)
		return nil
	case cmd == "whoami":
		if os.Getenv(fakeLoggedOutEnv) == "1" {
			return fail("PULUMI_ACCESS_TOKEN must be set for login during non-interactive CLI sessions")
		}
		return printJSON(engine.WhoAmIResult{User: "tester", URL: "file://" + e.home})
	case cmd == "stack" && sub == "init":
		return e.stackInit(e.args.arg(2))
	case cmd == "stack" && sub == "select":
		return e.stackSelect(e.args.flag("--stack"))
	case cmd == "stack" && sub == "rm":
		return e.stackRemove(e.args.arg(2))
	case cmd == "stack" && sub == "ls":
		return e.stackList()
	case cmd == "stack" && sub == "export":
		return e.stackExport()
	case cmd == "stack" && sub == "import":
		return e.stackImport()
	case cmd == "stack" && sub == "output":
		return e.stackOutput()
	case cmd == "stack" && sub == "history":
		return e.stackHistory()
	case cmd == "stack" && sub == "tag":
		return e.stackTag(e.args.arg(2))
	case cmd == "config" && sub == "":
		return e.configList()
	case cmd == "config":
		return e.config(sub)
	case cmd == "up", cmd == "preview", cmd == "refresh", cmd == "destroy":
		return e.operation(cmd)
	case cmd == "plugin":
		return e.plugin(sub)
	case cmd == "cancel":
		name := e.args.flag("--stack")
		if _, err := e.load(name); err != nil {
			return err
		}
		if err := os.Remove(e.lockPath(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		fmt.Println("The currently running update for '" + name + "' has been canceled!")
		return nil
	}
	return fail("unknown command %q", strings.Join(e.args.positional, " "))
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func (e *fakeEngine) statePath(name string) string {
	return filepath.Join(e.home, "stacks", strings.ReplaceAll(name, "/", "_")+".json")
}

func (e *fakeEngine) lockPath(name string) string {
	return e.statePath(name) + ".lock"
}

func (e *fakeEngine) load(name string) (*fakeStackState, error) {
	data, err := os.ReadFile(e.statePath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fail("no stack named '%s' found", name)
	}
	if err != nil {
		return nil, err
	}
	var st fakeStackState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Tags == nil {
		st.Tags = map[string]string{}
	}
	if st.Outputs == nil {
		st.Outputs = engine.OutputMap{}
	}
	return &st, nil
}

// save writes state atomically so concurrent readers never see a partial file.
func (e *fakeEngine) save(name string, st *fakeStackState) error {
	return writeAtomic(e.statePath(name), st)
}

func writeAtomic(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (e *fakeEngine) project() (*settings.Project, error) {
	return settings.NewLoader(nil).LoadProject(e.dir)
}

func (e *fakeEngine) currentStack() string {
	data, err := os.ReadFile(filepath.Join(e.home, "current"))
	if err != nil {
		return ""
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return ""
	}
	return name
}

func (e *fakeEngine) setCurrent(name string) error {
	return writeAtomic(filepath.Join(e.home, "current"), name)
}

func (e *fakeEngine) stackInit(name string) error {
	if _, err := os.Stat(e.statePath(name)); err == nil {
		return fail("stack '%s' already exists", name)
	}
	p, err := e.project()
	if err != nil {
		return err
	}
	st := &fakeStackState{
		Tags: map[string]string{
			"pulumi:project": p.Name,
			"pulumi:runtime": p.Runtime.Name,
		},
		Outputs: engine.OutputMap{},
	}
	if err := e.save(name, st); err != nil {
		return err
	}
	fmt.Printf("Created stack '%s'\n", name)
	return e.setCurrent(name)
}

func (e *fakeEngine) stackSelect(name string) error {
	if _, err := e.load(name); err != nil {
		return err
	}
	return e.setCurrent(name)
}

func (e *fakeEngine) stackRemove(name string) error {
	if _, err := e.load(name); err != nil {
		return err
	}
	if err := os.Remove(e.statePath(name)); err != nil {
		return err
	}
	if path, ok, err := settings.StackPath(e.dir, name); err == nil && ok {
		_ = os.Remove(path)
	}
	fmt.Printf("Stack '%s' has been removed!\n", name)
	return nil
}

func (e *fakeEngine) stackList() error {
	entries, err := os.ReadDir(filepath.Join(e.home, "stacks"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	current := e.currentStack()
	stacks := []engine.StackSummary{}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".json")
		if !ok || strings.HasPrefix(name, ".") {
			continue
		}
		st, err := e.load(name)
		if err != nil {
			continue
		}
		count := st.Resources
		stacks = append(stacks, engine.StackSummary{
			Name:          name,
			Current:       name == current,
			ResourceCount: &count,
		})
	}
	sort.Slice(stacks, func(i, j int) bool { return stacks[i].Name < stacks[j].Name })
	return printJSON(stacks)
}

func (e *fakeEngine) stackExport() error {
	st, err := e.load(e.args.flag("--stack"))
	if err != nil {
		return err
	}
	data, err := json.Marshal(fakeDeployment{Resources: st.Resources, Outputs: st.Outputs})
	if err != nil {
		return err
	}
	return printJSON(engine.Deployment{Version: 3, Deployment: data})
}

func (e *fakeEngine) stackImport() error {
	name := e.args.flag("--stack")
	st, err := e.load(name)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(e.args.flag("--file"))
	if err != nil {
		return err
	}
	var dep engine.Deployment
	if err := json.Unmarshal(data, &dep); err != nil {
		return fail("could not read deployment: %v", err)
	}
	var inner fakeDeployment
	if err := json.Unmarshal(dep.Deployment, &inner); err != nil {
		return fail("could not read deployment: %v", err)
	}
	st.Resources = inner.Resources
	st.Outputs = inner.Outputs
	if err := e.save(name, st); err != nil {
		return err
	}
	fmt.Println("Import complete.")
	return nil
}

func (e *fakeEngine) stackOutput() error {
	st, err := e.load(e.args.flag("--stack"))
	if err != nil {
		return err
	}
	show := e.args.bools["--show-secrets"]
	out := make(map[string]interface{}, len(st.Outputs))
	for name, v := range st.Outputs {
		if v.Secret && !show {
			out[name] = engine.SecretSentinel
			continue
		}
		out[name] = v.Value
	}
	return printJSON(out)
}

func (e *fakeEngine) stackHistory() error {
	st, err := e.load(e.args.flag("--stack"))
	if err != nil {
		return err
	}
	history := make([]engine.UpdateSummary, 0, len(st.History))
	for i := len(st.History) - 1; i >= 0; i-- {
		history = append(history, st.History[i])
	}
	if size, _ := strconv.Atoi(e.args.flag("--page-size")); size > 0 {
		page, _ := strconv.Atoi(e.args.flag("--page"))
		if page < 1 {
			page = 1
		}
		start := (page - 1) * size
		if start > len(history) {
			start = len(history)
		}
		end := start + size
		if end > len(history) {
			end = len(history)
		}
		history = history[start:end]
	}
	return printJSON(history)
}

func (e *fakeEngine) stackTag(op string) error {
	name := e.args.flag("--stack")
	st, err := e.load(name)
	if err != nil {
		return err
	}
	key := e.args.arg(3)
	switch op {
	case "get":
		v, ok := st.Tags[key]
		if !ok {
			return fail("stack tag '%s' not found for stack '%s'", key, name)
		}
		fmt.Println(v)
		return nil
	case "set":
		st.Tags[key] = e.args.arg(4)
	case "rm":
		delete(st.Tags, key)
	case "ls":
		return printJSON(st.Tags)
	default:
		return fail("unknown tag command %q", op)
	}
	return e.save(name, st)
}

func (e *fakeEngine) loadConfig(name string) (*settings.Stack, error) {
	loader := settings.NewLoader(nil)
	s, err := loader.LoadStack(e.dir, name)
	if engine.IsNotFound(err) {
		return &settings.Stack{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (e *fakeEngine) saveConfig(name string, s *settings.Stack) error {
	return settings.NewLoader(nil).SaveStack(e.dir, name, s)
}

func decodeStackValue(v settings.StackValue) config.Value {
	switch {
	case v.IsSecure():
		plain, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(v.Secure, fakeSecurePrefix))
		if err != nil {
			return config.Value{Value: v.Secure, Secret: true}
		}
		return config.Value{Value: string(plain), Secret: true}
	case v.IsObject():
		data, _ := json.Marshal(v.Object)
		return config.Value{Value: string(data), Object: true}
	default:
		return config.Value{Value: v.Value}
	}
}

func encodeStackValue(v config.Value) settings.StackValue {
	if v.Secret {
		return settings.SecureValue(fakeSecurePrefix + base64.StdEncoding.EncodeToString([]byte(v.Value)))
	}
	return settings.PlainValue(v.Value)
}

func (e *fakeEngine) configValues(name string) (config.Map, error) {
	s, err := e.loadConfig(name)
	if err != nil {
		return nil, err
	}
	values := make(config.Map, len(s.Config))
	for key, v := range s.Config {
		values[key] = decodeStackValue(v)
	}
	return values, nil
}

func (e *fakeEngine) configList() error {
	name := e.args.flag("--stack")
	if _, err := e.load(name); err != nil {
		return err
	}
	values, err := e.configValues(name)
	if err != nil {
		return err
	}
	return printJSON(values)
}

func (e *fakeEngine) config(sub string) error {
	name := e.args.flag("--stack")
	st, err := e.load(name)
	if err != nil {
		return err
	}
	s, err := e.loadConfig(name)
	if err != nil {
		return err
	}
	if s.Config == nil {
		s.Config = map[string]settings.StackValue{}
	}

	switch sub {
	case "get":
		key := e.args.arg(2)
		v, ok := s.Config[key]
		if !ok {
			return fail("configuration key '%s' not found for stack '%s'", key, name)
		}
		return printJSON(decodeStackValue(v))
	case "set":
		key, value := e.args.arg(2), e.args.arg(3)
		s.Config[key] = encodeStackValue(config.Value{Value: value, Secret: e.args.bools["--secret"]})
	case "set-all":
		for _, pair := range e.args.flags["--plaintext"] {
			k, v, _ := strings.Cut(pair, "=")
			s.Config[k] = encodeStackValue(config.Value{Value: v})
		}
		for _, pair := range e.args.flags["--secret"] {
			k, v, _ := strings.Cut(pair, "=")
			s.Config[k] = encodeStackValue(config.Value{Value: v, Secret: true})
		}
	case "rm":
		delete(s.Config, e.args.arg(2))
	case "rm-all":
		for _, key := range e.args.positional[2:] {
			delete(s.Config, key)
		}
	case "refresh":
		if len(st.History) == 0 {
			return fail("no previous deployment for stack '%s'", name)
		}
		last := st.History[len(st.History)-1]
		s.Config = make(map[string]settings.StackValue, len(last.Config))
		for key, entry := range last.Config {
			s.Config[key] = encodeStackValue(config.Value{Value: entry.Value, Secret: entry.Secret})
		}
	default:
		return fail("unknown config command %q", sub)
	}
	return e.saveConfig(name, s)
}

func (e *fakeEngine) pluginsPath() string {
	return filepath.Join(e.home, "plugins.json")
}

func (e *fakeEngine) plugin(sub string) error {
	var plugins []engine.PluginInfo
	if data, err := os.ReadFile(e.pluginsPath()); err == nil {
		if err := json.Unmarshal(data, &plugins); err != nil {
			return err
		}
	}

	switch sub {
	case "ls":
		if plugins == nil {
			plugins = []engine.PluginInfo{}
		}
		return printJSON(plugins)
	case "install":
		kind, name, version := e.args.arg(2), e.args.arg(3), e.args.arg(4)
		plugins = append(plugins, engine.PluginInfo{
			Name: name, Kind: kind, Version: version, InstallTime: time.Now().UTC(),
		})
	case "rm":
		kind, name, version := e.args.arg(2), e.args.arg(3), e.args.arg(4)
		kept := plugins[:0]
		for _, p := range plugins {
			if p.Kind == kind && p.Name == name && (version == "" || p.Version == version) {
				continue
			}
			kept = append(kept, p)
		}
		plugins = kept
	default:
		return fail("unknown plugin command %q", sub)
	}
	return writeAtomic(e.pluginsPath(), plugins)
}

// operation runs up, preview, refresh or destroy. The stack resource is the
// only resource; its outputs are the program's outputs.
func (e *fakeEngine) operation(verb string) error {
	name := e.args.flag("--stack")
	st, err := e.load(name)
	if err != nil {
		return err
	}

	mutating := verb != "preview"
	if mutating {
		if err := os.Mkdir(e.lockPath(name), 0o755); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return fail("[409] Conflict: Another update is currently in progress.")
			}
			return err
		}
		defer os.Remove(e.lockPath(name))
	}

	log, err := newFakeEventLog(e.args.flag("--event-log"))
	if err != nil {
		return err
	}
	defer log.close()

	values, err := e.configValues(name)
	if err != nil {
		return err
	}
	prelude := make(map[string]string, len(values))
	for key, v := range values {
		prelude[key] = v.Value
		if v.Secret {
			prelude[key] = engine.SecretSentinel
		}
	}
	log.emit(events.EngineEvent{PreludeEvent: &events.PreludeEvent{Config: prelude}})

	start := time.Now().UTC()
	kind := map[string]engine.OperationKind{
		"up": engine.OperationUpdate, "preview": engine.OperationPreview,
		"refresh": engine.OperationRefresh, "destroy": engine.OperationDestroy,
	}[verb]
	urn := "urn:pulumi:" + name + "::stack"

	var op engine.OpType
	outputs := st.Outputs
	var runErr error
	switch verb {
	case "up", "preview":
		outputs, runErr = e.runProgram(name, values, verb == "preview")
		switch {
		case runErr != nil:
			op = engine.OpCreate
		case st.Resources == 0:
			op = engine.OpCreate
		case !sameOutputs(st.Outputs, outputs):
			op = engine.OpUpdate
		default:
			op = engine.OpSame
		}
	case "refresh":
		op = engine.OpSame
	case "destroy":
		op = engine.OpDelete
		outputs = engine.OutputMap{}
	}

	meta := events.StepEventMetadata{Op: op, URN: urn, Type: "pulumi:pulumi:Stack"}
	log.emit(events.EngineEvent{ResourcePreEvent: &events.ResourcePreEvent{Metadata: meta, Planning: !mutating}})

	if runErr != nil {
		log.emit(events.EngineEvent{DiagnosticEvent: &events.DiagnosticEvent{
			URN: urn, Message: runErr.Error(), Severity: events.SeverityError,
		}})
		log.emit(events.EngineEvent{ResOpFailedEvent: &events.ResOpFailedEvent{Metadata: meta, Status: 1}})
		if mutating {
			e.record(st, kind, start, values, engine.UpdateStatusFailed, nil)
			if err := e.save(name, st); err != nil {
				return err
			}
		}
		return fail("an unhandled error occurred: %v", runErr)
	}

	log.emit(events.EngineEvent{ResOutputsEvent: &events.ResOutputsEvent{Metadata: meta, Planning: !mutating}})
	log.emit(events.EngineEvent{DiagnosticEvent: &events.DiagnosticEvent{
		Message: verb + " finished", Severity: events.SeverityInfo,
	}})

	count := 1
	if verb == "refresh" || verb == "destroy" {
		count = st.Resources
	}
	changes := map[engine.OpType]int{}
	if count > 0 {
		changes[op] = count
	}
	log.emit(events.EngineEvent{SummaryEvent: &events.SummaryEvent{
		DurationSeconds: int(time.Since(start).Seconds()),
		ResourceChanges: changes,
	}})

	fmt.Printf("%s (%s)\n", strings.ToUpper(verb[:1])+verb[1:], name)
	for op, n := range changes {
		fmt.Printf("    %d %s\n", n, op)
	}
	if !mutating {
		return nil
	}

	switch verb {
	case "up":
		st.Resources = 1
		st.Outputs = outputs
	case "destroy":
		st.Resources = 0
		st.Outputs = engine.OutputMap{}
	}
	e.record(st, kind, start, values, engine.UpdateStatusSucceeded, changes)
	return e.save(name, st)
}

func (e *fakeEngine) record(st *fakeStackState, kind engine.OperationKind, start time.Time, values config.Map, result engine.UpdateStatus, changes map[engine.OpType]int) {
	end := time.Now().UTC().Format(time.RFC3339)
	entries := make(map[string]engine.ConfigEntry, len(values))
	for key, v := range values {
		entries[key] = engine.ConfigEntry{Value: v.Value, Secret: v.Secret}
	}
	// the engine leaves resourceChanges out when nothing changed
	var counts *map[string]int
	if len(changes) > 0 {
		m := make(map[string]int, len(changes))
		for op, n := range changes {
			m[string(op)] = n
		}
		counts = &m
	}
	execKind := e.args.flag("--exec-kind")
	st.History = append(st.History, engine.UpdateSummary{
		Version:         len(st.History) + 1,
		Kind:            kind,
		StartTime:       start.Format(time.RFC3339),
		EndTime:         &end,
		Message:         e.args.flag("--message"),
		Environment:     map[string]string{"exec.kind": execKind},
		Config:          entries,
		Result:          result,
		ResourceChanges: counts,
	})
}

// runProgram calls back into the inline program host, or reads outputs.json
// from the work directory for local programs.
func (e *fakeEngine) runProgram(name string, values config.Map, dryRun bool) (engine.OutputMap, error) {
	addr := e.args.flag("--client")
	if addr == "" {
		outputs := engine.OutputMap{}
		data, err := os.ReadFile(filepath.Join(e.dir, "outputs.json"))
		if errors.Is(err, fs.ErrNotExist) {
			return outputs, nil
		}
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, &outputs); err != nil {
			return nil, err
		}
		return outputs, nil
	}

	p, err := e.project()
	if err != nil {
		return nil, err
	}
	client, err := program.Dial(addr)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	req := &program.RunRequest{
		Project: p.Name,
		Stack:   name,
		Config:  make(map[string]string, len(values)),
		DryRun:  dryRun,
	}
	for key, v := range values {
		req.Config[key] = v.Value
		if v.Secret {
			req.SecretKeys = append(req.SecretKeys, key)
		}
	}
	if n, err := strconv.Atoi(e.args.flag("--parallel")); err == nil {
		req.Parallel = n
	}

	resp, err := client.Run(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("program failed: %w", err)
	}
	if resp.Outputs == nil {
		return engine.OutputMap{}, nil
	}
	return resp.Outputs, nil
}

func sameOutputs(a, b engine.OutputMap) bool {
	da, _ := json.Marshal(a)
	db, _ := json.Marshal(b)
	return string(da) == string(db)
}

// fakeEventLog appends one JSON line per event.
type fakeEventLog struct {
	f   *os.File
	seq int
}

func newFakeEventLog(path string) (*fakeEventLog, error) {
	if path == "" {
		return &fakeEventLog{}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
	if err != nil {
		return nil, err
	}
	return &fakeEventLog{f: f}, nil
}

func (l *fakeEventLog) emit(ev events.EngineEvent) {
	ev.Sequence = l.seq
	ev.Timestamp = time.Now().Unix()
	l.seq++
	if l.f == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = l.f.Write(append(data, '\n'))
}

func (l *fakeEventLog) close() {
	if l.f == nil {
		return
	}
	l.emit(events.EngineEvent{CancelEvent: &events.CancelEvent{}})
	_ = l.f.Close()
}
