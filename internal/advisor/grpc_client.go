package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire names of the advisor service. Messages are google.protobuf.Struct on
// both sides so no generated stubs are needed.
const (
	ServiceName  = "sidekick.advisor.v1.Advisor"
	AdviseMethod = "/" + ServiceName + "/Advise"
)

var (
	errConnectionShutdown       = errors.New("connection shutdown")
	errConnectionStateUnchanged = errors.New("connection state did not change")
	errAdviceResponse           = errors.New("advisor returned error")
	errNotServing               = errors.New("advisor not serving")
)

var adviseStreamDesc = grpc.StreamDesc{
	StreamName:    "Advise",
	ServerStreams: true,
}

// GrpcClient streams batches to the advisor service.
type GrpcClient struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
	cfg    GrpcClientConfig
	logger *slog.Logger
}

// GrpcClientConfig holds configuration for the gRPC client.
type GrpcClientConfig struct {
	Address          string
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration

	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
}

// DefaultGrpcClientConfig returns default configuration.
func DefaultGrpcClientConfig() GrpcClientConfig {
	return GrpcClientConfig{
		Address:          "localhost:50051",
		ConnectTimeout:   5 * time.Second,
		RequestTimeout:   30 * time.Second,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// NewGrpcClient dials the advisor and waits until the connection is ready.
func NewGrpcClient(cfg GrpcClientConfig, logger *slog.Logger) (*GrpcClient, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultGrpcClientConfig()
	if cfg.Address == "" {
		cfg.Address = def.Address
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = def.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = def.KeepaliveTimeout
	}

	kacp := keepalive.ClientParameters{
		Time:                cfg.KeepaliveTime,
		Timeout:             cfg.KeepaliveTimeout,
		PermitWithoutStream: false,
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, cfg.DialOptions...)

	conn, err := grpc.NewClient(cfg.Address, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create advisor client for %s: %w", cfg.Address, err)
	}

	// Fail fast on a bad advisor endpoint.
	connectCtx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := waitForReady(connectCtx, conn); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("[ADVISOR] Failed to close connection after readiness failure", "error", closeErr)
		}
		return nil, fmt.Errorf("advisor at %s not ready: %w", cfg.Address, err)
	}

	logger.Info("[ADVISOR] Connected", "address", cfg.Address)

	return &GrpcClient{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
		cfg:    cfg,
		logger: logger,
	}, nil
}

func waitForReady(ctx context.Context, conn *grpc.ClientConn) error {
	for {
		state := conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}

		if !conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w from %s", errConnectionStateUnchanged, state)
		}
	}
}

// Close closes the gRPC connection.
func (c *GrpcClient) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("[ADVISOR] Failed to close connection", "error", err)
		}
	}
}

// Health runs the standard gRPC health check against the advisor service.
func (c *GrpcClient) Health(ctx context.Context) error {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s", errNotServing, resp.GetStatus())
	}
	return nil
}

// Advise sends one batch and yields advice chunks until the server closes the stream.
func (c *GrpcClient) Advise(ctx context.Context, req Request) iter.Seq2[*Advice, error] {
	return func(yield func(*Advice, error) bool) {
		msg, err := encodeRequest(req)
		if err != nil {
			yield(nil, err)
			return
		}

		ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		defer cancel()

		stream, err := c.conn.NewStream(ctx, &adviseStreamDesc, AdviseMethod)
		if err != nil {
			yield(nil, fmt.Errorf("advise request failed: %w", err))
			return
		}
		if err := stream.SendMsg(msg); err != nil {
			yield(nil, fmt.Errorf("advise send failed: %w", err))
			return
		}
		if err := stream.CloseSend(); err != nil {
			yield(nil, fmt.Errorf("advise close send failed: %w", err))
			return
		}

		for {
			resp := &structpb.Struct{}
			err := stream.RecvMsg(resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				c.logger.Error("[ADVISOR] Stream error", "error", err, "batch_id", req.Batch.ID)
				yield(nil, fmt.Errorf("advise stream error: %w", err))
				return
			}

			adv, err := decodeAdvice(resp)
			if err != nil {
				yield(nil, err)
				return
			}
			if adv.Kind == AdviceError {
				if adv.Content == "" {
					yield(nil, errAdviceResponse)
					return
				}
				yield(nil, fmt.Errorf("%w: %s", errAdviceResponse, adv.Content))
				return
			}
			if adv.BatchID == "" {
				adv.BatchID = req.Batch.ID
			}
			if adv.Priority == 0 {
				adv.Priority = req.Batch.HighestPriority()
			}
			if adv.CreatedAt.IsZero() {
				adv.CreatedAt = time.Now()
			}
			if !yield(adv, nil) {
				return
			}
		}
	}
}

// encodeRequest converts a request to a Struct through its JSON form so the
// field names match the HTTP API.
func encodeRequest(req Request) (*structpb.Struct, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return s, nil
}

func decodeAdvice(s *structpb.Struct) (*Advice, error) {
	raw, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("decode advice: %w", err)
	}
	var adv Advice
	if err := json.Unmarshal(raw, &adv); err != nil {
		return nil, fmt.Errorf("decode advice: %w", err)
	}
	return &adv, nil
}
