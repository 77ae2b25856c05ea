package program

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/autostack/pkg/engine"
	"github.com/openfroyo/autostack/pkg/runner"
)

const (
	// ServiceName is the gRPC service the engine calls back into.
	ServiceName = "autostack.program.v1.ProgramHost"

	// RunMethod is the full method name of the program callback.
	RunMethod = "/" + ServiceName + "/Run"

	// ExecKindInline is reported to the engine for inline programs.
	ExecKindInline = "auto.inline"

	codecName = "json"

	stopTimeout = 5 * time.Second
)

// RunRequest is what the engine sends when it wants the program to run.
type RunRequest struct {
	Project      string            `json:"project"`
	Stack        string            `json:"stack"`
	Organization string            `json:"organization,omitempty"`
	Config       map[string]string `json:"config"`
	SecretKeys   []string          `json:"secretKeys,omitempty"`
	DryRun       bool              `json:"dryRun"`
	Parallel     int               `json:"parallel,omitempty"`
}

// RunResponse carries the outputs the program declared.
type RunResponse struct {
	Outputs engine.OutputMap `json:"outputs"`
	Error   string           `json:"error,omitempty"`
}

// jsonCodec encodes callback messages as JSON so no generated protobuf code
// is needed on either side.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return codecName
}

type programHostServer interface {
	Run(ctx context.Context, req *RunRequest) (*RunResponse, error)
}

func runHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RunRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(programHostServer).Run(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: RunMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(programHostServer).Run(ctx, req.(*RunRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*programHostServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: runHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "autostack/program/v1/host",
}

// Server serves one inline program to one engine process. It implements
// runner.Attachment so its listener is scoped to that process.
type Server struct {
	fn       RunFunc
	registry *Registry
	session  string
	logger   zerolog.Logger

	grpcServer *grpc.Server
	listener   net.Listener
	serveDone  chan struct{}

	mu         sync.Mutex
	programErr error
	runs       int
	outputs    engine.OutputMap
}

var _ runner.Attachment = (*Server)(nil)

// NewServer creates a server for fn. Every server gets its own session id in
// registry.
func NewServer(fn RunFunc, registry *Registry, logger zerolog.Logger) *Server {
	if registry == nil {
		registry = NewRegistry()
	}
	session := uuid.NewString()
	return &Server{
		fn:       fn,
		registry: registry,
		session:  session,
		logger:   logger.With().Str("component", "program-host").Str("session", session).Logger(),
	}
}

// Session returns the server's session id.
func (s *Server) Session() string {
	return s.session
}

// Addr returns the listening address once Start has run.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Runs returns how many times the engine invoked the program.
func (s *Server) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Outputs returns the outputs of the last successful run.
func (s *Server) Outputs() engine.OutputMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs
}

// Start listens on a loopback port and tells the engine where to call back.
func (s *Server) Start(_ context.Context) (runner.Binding, error) {
	if s.fn == nil {
		return runner.Binding{}, fmt.Errorf("inline program is nil")
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return runner.Binding{}, fmt.Errorf("failed to listen for program callbacks: %w", err)
	}
	s.listener = lis
	s.grpcServer = grpc.NewServer(grpc.ForceServerCodec(jsonCodec{}))
	s.grpcServer.RegisterService(&serviceDesc, s)
	s.serveDone = make(chan struct{})

	go func() {
		defer close(s.serveDone)
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Debug().Err(err).Msg("Program host stopped serving")
		}
	}()

	s.logger.Debug().Str("addr", lis.Addr().String()).Msg("Program host listening")
	return runner.Binding{
		Args: []string{"--client", lis.Addr().String(), "--exec-kind", ExecKindInline},
	}, nil
}

// Stop shuts the server down and returns the error the program failed with,
// if any.
func (s *Server) Stop(_ context.Context) error {
	if s.grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			s.grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(stopTimeout):
			s.logger.Warn().Msg("Program host did not drain in time, forcing stop")
			s.grpcServer.Stop()
		}
		<-s.serveDone
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.programErr
}

// Run handles the engine's callback by invoking the program.
func (s *Server) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	pctx := newContext(ctx, s.session, s.registry, req)
	if err := s.registry.acquire(s.session, pctx); err != nil {
		s.recordErr(err)
		return nil, status.Error(codes.AlreadyExists, err.Error())
	}
	defer func() {
		pctx.close()
		s.registry.release(s.session, pctx)
	}()

	s.mu.Lock()
	s.runs++
	s.mu.Unlock()

	s.logger.Debug().
		Str("project", req.Project).
		Str("stack", req.Stack).
		Bool("dry_run", req.DryRun).
		Msg("Running inline program")

	if err := s.invoke(pctx); err != nil {
		s.recordErr(err)
		s.logger.Debug().Err(err).Msg("Inline program failed")
		return nil, status.Error(codes.Unknown, err.Error())
	}

	outputs := pctx.Outputs()
	s.mu.Lock()
	s.outputs = outputs
	s.mu.Unlock()
	return &RunResponse{Outputs: outputs}, nil
}

func (s *Server) invoke(pctx *Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("program panicked: %v", r)
		}
	}()
	return s.fn(pctx)
}

func (s *Server) recordErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.programErr == nil {
		s.programErr = fmt.Errorf("inline program failed: %w", err)
	}
}
